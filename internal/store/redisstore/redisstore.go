// Package redisstore keeps ProcessingJob records in Redis next to the task queue.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/casefolio/internal/models"
	"github.com/feichai0017/casefolio/internal/store"
)

const (
	keyPrefix  = "casefolio:job:"
	maxRetries = 5
)

// JobStore implements store.JobStore with optimistic WATCH/MULTI updates.
type JobStore struct {
	client    redis.UniversalClient
	retention time.Duration
}

var _ store.JobStore = (*JobStore)(nil)

// New uses client for all job keys. Jobs expire retention after their last write; zero keeps them forever.
func New(client redis.UniversalClient, retention time.Duration) *JobStore {
	return &JobStore{client: client, retention: retention}
}

func key(id string) string { return keyPrefix + id }

func redisError(op string, err error) error {
	if err == nil {
		return nil
	}
	return models.Transient(fmt.Errorf("redis %s: %w", op, err))
}

func (s *JobStore) Ping(ctx context.Context) error {
	return redisError("ping", s.client.Ping(ctx).Err())
}

func (s *JobStore) CreateJob(ctx context.Context, job *models.ProcessingJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	ok, err := s.client.SetNX(ctx, key(job.ID), data, s.retention).Result()
	if err != nil {
		return redisError("create job", err)
	}
	if !ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	return nil
}

func decode(id string, data []byte) (*models.ProcessingJob, error) {
	var job models.ProcessingJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

func (s *JobStore) GetJob(ctx context.Context, id string) (*models.ProcessingJob, error) {
	data, err := s.client.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, models.NewNotFound("job", id)
	}
	if err != nil {
		return nil, redisError("get job", err)
	}
	return decode(id, data)
}

// mutate runs fn against the stored job inside a WATCH transaction and retries on concurrent writes.
func (s *JobStore) mutate(ctx context.Context, id string, fn func(stored *models.ProcessingJob) (*models.ProcessingJob, error)) error {
	k := key(id)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			return models.NewNotFound("job", id)
		}
		if err != nil {
			return redisError("get job", err)
		}
		stored, err := decode(id, data)
		if err != nil {
			return err
		}
		next, err := fn(stored)
		if err != nil {
			return err
		}
		encoded, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode job %s: %w", id, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, encoded, s.retention)
			return nil
		})
		return err
	}

	for i := 0; i < maxRetries; i++ {
		err := s.client.Watch(ctx, txf, k)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return models.Transient(fmt.Errorf("job %s: too many concurrent updates", id))
}

func (s *JobStore) UpdateJob(ctx context.Context, job *models.ProcessingJob) error {
	return s.mutate(ctx, job.ID, func(stored *models.ProcessingJob) (*models.ProcessingJob, error) {
		if err := store.CheckUpdate(stored, job); err != nil {
			return nil, err
		}
		next := job.Clone()
		next.CancelRequested = next.CancelRequested || stored.CancelRequested
		return next, nil
	})
}

func (s *JobStore) RequestCancel(ctx context.Context, id string) error {
	return s.mutate(ctx, id, func(stored *models.ProcessingJob) (*models.ProcessingJob, error) {
		stored.CancelRequested = true
		return stored, nil
	})
}

// DeleteJobsBefore scans job keys. Retention normally expires them first.
func (s *JobStore) DeleteJobsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	deleted := 0
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		data, err := s.client.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return deleted, redisError("get job", err)
		}
		job, err := decode(k, data)
		if err != nil {
			continue
		}
		if job.Stage.IsTerminal() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			if err := s.client.Del(ctx, k).Err(); err != nil {
				return deleted, redisError("delete job", err)
			}
			deleted++
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, redisError("scan jobs", err)
	}
	return deleted, nil
}
