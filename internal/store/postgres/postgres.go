// Package postgres implements store.Store on PostgreSQL through a pgx pool.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/feichai0017/casefolio/internal/models"
	"github.com/feichai0017/casefolio/internal/store"
	"github.com/feichai0017/casefolio/pkg/logger"
)

//go:embed schema.sql
var schema string

type Config struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

type Store struct {
	pool   *pgxpool.Pool
	logger logger.Logger
}

var _ store.Store = (*Store)(nil)

// Open creates the pool and applies the schema.
func Open(ctx context.Context, cfg Config, log logger.Logger) (*Store, error) {
	log.Info("Connecting to database")
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	pc.MinConns = cfg.MinConns
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "casefolio"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprintf("%d", cfg.StatementTimeout.Milliseconds())
	}

	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		return nil, models.Transient(fmt.Errorf("connect postgres: %w", err))
	}
	s := New(pool, log)
	if err := s.Migrate(dialCtx); err != nil {
		pool.Close()
		return nil, err
	}
	log.Info("Connected to database", logger.Int("max_conns", int(pc.MaxConns)))
	return s, nil
}

// New wraps an existing pool. The schema is not applied.
func New(pool *pgxpool.Pool, log logger.Logger) *Store {
	return &Store{pool: pool, logger: log}
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return dbError("apply schema", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return dbError("ping", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.logger.Info("Closing database connections")
	s.pool.Close()
	return nil
}

// dbError marks connection-level failures as transient so the queue retries them.
func dbError(op string, err error) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("postgres %s: %w", op, err)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "40"),
			strings.HasPrefix(pgErr.Code, "53"), strings.HasPrefix(pgErr.Code, "57"):
			return models.Transient(wrapped)
		}
		return wrapped
	}
	if errors.Is(err, context.Canceled) {
		return wrapped
	}
	return models.Transient(wrapped)
}

func (s *Store) inTx(ctx context.Context, op string, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return dbError(op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return dbError(op, err)
	}
	return nil
}

// lockScope serializes writers of one scope until the transaction ends.
func lockScope(ctx context.Context, tx pgx.Tx, scope store.Scope) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, scope.String()); err != nil {
		return dbError("lock "+scope.String(), err)
	}
	return nil
}

// scopeFilter returns the WHERE clause selecting rows of scope.
func scopeFilter(scope store.Scope) (string, any) {
	if scope.DocumentID != "" {
		return "document_id = $1", scope.DocumentID
	}
	return "case_id = $1", scope.CaseID
}

func (s *Store) CreateJob(ctx context.Context, job *models.ProcessingJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO processing_jobs (id, kind, stage, cancel_requested, payload, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		job.ID, string(job.Kind), job.Stage.String(), job.CancelRequested, payload, job.UpdatedAt, job.CompletedAt)
	if err != nil {
		return dbError("create job", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*models.ProcessingJob, error) {
	return s.readJob(ctx, s.pool, id, false)
}

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) readJob(ctx context.Context, q queryer, id string, forUpdate bool) (*models.ProcessingJob, error) {
	query := `SELECT payload, cancel_requested FROM processing_jobs WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var (
		payload   []byte
		cancelled bool
	)
	if err := q.QueryRow(ctx, query, id).Scan(&payload, &cancelled); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.NewNotFound("job", id)
		}
		return nil, dbError("get job", err)
	}
	var job models.ProcessingJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	job.CancelRequested = job.CancelRequested || cancelled
	return &job, nil
}

func (s *Store) writeJob(ctx context.Context, tx pgx.Tx, job *models.ProcessingJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE processing_jobs
		SET stage = $2, cancel_requested = $3, payload = $4, updated_at = $5, completed_at = $6
		WHERE id = $1`,
		job.ID, job.Stage.String(), job.CancelRequested, payload, job.UpdatedAt, job.CompletedAt)
	return dbError("update job", err)
}

func (s *Store) UpdateJob(ctx context.Context, job *models.ProcessingJob) error {
	return s.inTx(ctx, "update job", func(tx pgx.Tx) error {
		stored, err := s.readJob(ctx, tx, job.ID, true)
		if err != nil {
			return err
		}
		if err := store.CheckUpdate(stored, job); err != nil {
			return err
		}
		next := job.Clone()
		next.CancelRequested = next.CancelRequested || stored.CancelRequested
		return s.writeJob(ctx, tx, next)
	})
}

func (s *Store) RequestCancel(ctx context.Context, id string) error {
	return s.inTx(ctx, "cancel job", func(tx pgx.Tx) error {
		job, err := s.readJob(ctx, tx, id, true)
		if err != nil {
			return err
		}
		job.CancelRequested = true
		return s.writeJob(ctx, tx, job)
	})
}

func (s *Store) DeleteJobsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM processing_jobs
		WHERE stage IN ($1, $2) AND completed_at IS NOT NULL AND completed_at < $3`,
		models.StageSuccess.String(), models.StageFailure.String(), cutoff)
	if err != nil {
		return 0, dbError("delete jobs", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var (
		d        models.Document
		fileType string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, case_id, file_name, storage_key, content_type, file_type, file_size, page_count, hash, created_at, processed_at
		FROM documents WHERE id = $1`, id).
		Scan(&d.ID, &d.CaseID, &d.FileName, &d.StorageKey, &d.ContentType, &fileType, &d.FileSize, &d.PageCount,
			&d.Hash, &d.CreatedAt, &d.ProcessedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.NewNotFound("document", id)
		}
		return nil, dbError("get document", err)
	}
	d.FileType = models.FileType(fileType)
	return &d, nil
}

func (s *Store) SaveDocument(ctx context.Context, d *models.Document) error {
	createdAt := d.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (id, case_id, file_name, storage_key, content_type, file_type, file_size, page_count, hash, created_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			storage_key = EXCLUDED.storage_key,
			content_type = EXCLUDED.content_type,
			file_type = EXCLUDED.file_type,
			file_size = EXCLUDED.file_size,
			page_count = EXCLUDED.page_count,
			hash = EXCLUDED.hash,
			processed_at = EXCLUDED.processed_at`,
		d.ID, d.CaseID, d.FileName, d.StorageKey, d.ContentType, string(d.FileType), d.FileSize, d.PageCount,
		d.Hash, createdAt, d.ProcessedAt)
	return dbError("save document", err)
}

func (s *Store) SaveFacts(ctx context.Context, documentID string, facts []models.ExtractedFact) error {
	if len(facts) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, f := range facts {
		f.DocumentID = documentID
		payload, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("encode fact %s: %w", f.ID, err)
		}
		batch.Queue(`
			INSERT INTO extracted_facts (id, document_id, fact_type, payload)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload`,
			f.ID, documentID, string(f.Type()), payload)
	}
	return s.inTx(ctx, "save facts", func(tx pgx.Tx) error {
		return dbError("save facts", tx.SendBatch(ctx, batch).Close())
	})
}

func (s *Store) ListFacts(ctx context.Context, scope store.Scope) ([]models.ExtractedFact, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if scope.DocumentID != "" {
		rows, err = s.pool.Query(ctx, `
			SELECT payload FROM extracted_facts WHERE document_id = $1 ORDER BY seq`, scope.DocumentID)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT f.payload FROM extracted_facts f
			JOIN documents d ON d.id = f.document_id
			WHERE d.case_id = $1
			ORDER BY d.created_at, d.id, f.seq`, scope.CaseID)
	}
	if err != nil {
		return nil, dbError("list facts", err)
	}
	return collectJSON[models.ExtractedFact](rows, "list facts")
}

func collectJSON[T any](rows pgx.Rows, op string) ([]T, error) {
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (T, error) {
		var (
			payload []byte
			v       T
		)
		if err := row.Scan(&payload); err != nil {
			return v, err
		}
		err := json.Unmarshal(payload, &v)
		return v, err
	})
	if err != nil {
		return nil, dbError(op, err)
	}
	return out, nil
}

func (s *Store) ReplaceEvents(ctx context.Context, scope store.Scope, events []models.SynthesizedEvent) error {
	where, arg := scopeFilter(scope)
	return s.inTx(ctx, "replace events", func(tx pgx.Tx) error {
		if err := lockScope(ctx, tx, scope); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM synthesized_events WHERE `+where, arg); err != nil {
			return dbError("replace events", err)
		}
		if len(events) == 0 {
			return nil
		}
		batch := &pgx.Batch{}
		for _, e := range events {
			payload, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("encode event %s: %w", e.ID, err)
			}
			batch.Queue(`
				INSERT INTO synthesized_events (id, case_id, document_id, event_date, payload)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, event_date = EXCLUDED.event_date`,
				e.ID, e.CaseID, e.DocumentID, e.EventDate.Time(), payload)
		}
		return dbError("replace events", tx.SendBatch(ctx, batch).Close())
	})
}

func (s *Store) ListEvents(ctx context.Context, scope store.Scope) ([]models.SynthesizedEvent, error) {
	where, arg := scopeFilter(scope)
	rows, err := s.pool.Query(ctx, `SELECT payload FROM synthesized_events WHERE `+where+` ORDER BY event_date, id`, arg)
	if err != nil {
		return nil, dbError("list events", err)
	}
	return collectJSON[models.SynthesizedEvent](rows, "list events")
}

func (s *Store) ReplaceContradictions(ctx context.Context, scope store.Scope, contradictions []models.Contradiction) error {
	where, arg := scopeFilter(scope)
	return s.inTx(ctx, "replace contradictions", func(tx pgx.Tx) error {
		if err := lockScope(ctx, tx, scope); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM contradictions WHERE `+where, arg); err != nil {
			return dbError("replace contradictions", err)
		}
		if len(contradictions) == 0 {
			return nil
		}
		batch := &pgx.Batch{}
		for _, c := range contradictions {
			payload, err := json.Marshal(c)
			if err != nil {
				return fmt.Errorf("encode contradiction %s: %w", c.ID, err)
			}
			batch.Queue(`
				INSERT INTO contradictions (id, case_id, document_id, severity, payload)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, severity = EXCLUDED.severity`,
				c.ID, c.CaseID, c.DocumentID, string(c.Severity), payload)
		}
		return dbError("replace contradictions", tx.SendBatch(ctx, batch).Close())
	})
}

func (s *Store) ListContradictions(ctx context.Context, scope store.Scope) ([]models.Contradiction, error) {
	where, arg := scopeFilter(scope)
	rows, err := s.pool.Query(ctx, `SELECT payload FROM contradictions WHERE `+where+` ORDER BY seq`, arg)
	if err != nil {
		return nil, dbError("list contradictions", err)
	}
	return collectJSON[models.Contradiction](rows, "list contradictions")
}

func (s *Store) DeleteAnalysis(ctx context.Context, scope store.Scope) error {
	where, arg := scopeFilter(scope)
	return s.inTx(ctx, "delete analysis", func(tx pgx.Tx) error {
		if err := lockScope(ctx, tx, scope); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM contradictions WHERE `+where, arg); err != nil {
			return dbError("delete analysis", err)
		}
		_, err := tx.Exec(ctx, `DELETE FROM synthesized_events WHERE `+where, arg)
		return dbError("delete analysis", err)
	})
}
