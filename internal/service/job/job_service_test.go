package job

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/casefolio/internal/models"
	"github.com/feichai0017/casefolio/internal/store"
	"github.com/feichai0017/casefolio/internal/store/memory"
	"github.com/feichai0017/casefolio/pkg/logger"
	"github.com/feichai0017/casefolio/pkg/queue"
)

type enqueued struct {
	taskType string
	jobID    string
	priority int
}

type fakeQueue struct {
	mu         sync.Mutex
	tasks      []enqueued
	enqueueErr error
	removed    bool
	cancelErr  error
	cancelled  []string
	active     []queue.ActiveTask
	listErr    error
}

func (q *fakeQueue) Enqueue(_ context.Context, taskType, jobID string, priority int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
	q.tasks = append(q.tasks, enqueued{taskType, jobID, priority})
	return nil
}

func (q *fakeQueue) Cancel(_ context.Context, jobID string) (bool, error) {
	q.cancelled = append(q.cancelled, jobID)
	return q.removed, q.cancelErr
}

func (q *fakeQueue) ListActive(context.Context) ([]queue.ActiveTask, error) {
	return q.active, q.listErr
}

func (q *fakeQueue) Close() error { return nil }

type fakeStorage struct {
	mu       sync.Mutex
	objects  map[string][]byte
	storeErr error
	deleted  []string
}

func newFakeStorage() *fakeStorage { return &fakeStorage{objects: map[string][]byte{}} }

func (f *fakeStorage) Store(_ context.Context, key string, r io.Reader, _ int64, _ string) (string, error) {
	if f.storeErr != nil {
		return "", f.storeErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	f.objects[key] = data
	f.mu.Unlock()
	return key, nil
}

func (f *fakeStorage) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, models.NewNotFound("object", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeStorage) Delete(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	delete(f.objects, key)
	return nil
}


type fixture struct {
	svc     *JobService
	store   *memory.Store
	queue   *fakeQueue
	storage *fakeStorage
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   memory.New(0),
		queue:   &fakeQueue{},
		storage: newFakeStorage(),
	}
	f.svc = NewService(f.store, f.queue, f.storage, logger.NewTestLogger(), nil)
	return f
}

func (f *fixture) addDocument(t *testing.T, id, caseID string) {
	t.Helper()
	require.NoError(t, f.store.SaveDocument(context.Background(), &models.Document{
		ID:          id,
		CaseID:      caseID,
		FileName:    "intake.txt",
		StorageKey:  "cases/" + caseID + "/" + id + "/intake.txt",
		ContentType: "text/plain",
		CreatedAt:   time.Now().UTC(),
	}))
}

func TestEnqueueCreatesPendingJob(t *testing.T) {
	f := newFixture(t)
	f.addDocument(t, "doc-1", "case-1")

	id, err := f.svc.Enqueue(context.Background(), "doc-1")
	require.NoError(t, err)

	job, err := f.svc.GetStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StagePending, job.Stage)
	assert.Equal(t, models.JobKindProcessDocument, job.Kind)
	assert.Equal(t, "case-1", job.CaseID)
	assert.Equal(t, models.TotalStages, job.Progress.Total)

	require.Len(t, f.queue.tasks, 1)
	assert.Equal(t, enqueued{queue.TaskTypeDocumentProcess, id, queue.PriorityNormal}, f.queue.tasks[0])
}

func TestEnqueueUnknownDocument(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Enqueue(context.Background(), "missing")
	assert.True(t, models.IsNotFound(err))
	assert.Empty(t, f.queue.tasks)

	_, err = f.svc.Enqueue(context.Background(), " ")
	var verr *models.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestEnqueueFailureFailsJob(t *testing.T) {
	f := newFixture(t)
	f.addDocument(t, "doc-1", "case-1")
	f.queue.enqueueErr = errors.New("redis down")

	_, err := f.svc.Enqueue(context.Background(), "doc-1")
	require.Error(t, err)

	// the only job in the store must be terminal
	n, err := f.store.DeleteJobsBefore(context.Background(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReanalyze(t *testing.T) {
	f := newFixture(t)

	id, err := f.svc.Reanalyze(context.Background(), "case-7")
	require.NoError(t, err)
	job, err := f.svc.GetStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.JobKindReanalyzeCase, job.Kind)
	assert.Equal(t, "case-7", job.CaseID)
	assert.Equal(t, enqueued{queue.TaskTypeCaseReanalyze, id, queue.PriorityLow}, f.queue.tasks[0])

	_, err = f.svc.Reanalyze(context.Background(), "")
	var verr *models.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestCancelQueuedJobFailsImmediately(t *testing.T) {
	f := newFixture(t)
	f.addDocument(t, "doc-1", "case-1")
	f.queue.removed = true

	id, err := f.svc.Enqueue(context.Background(), "doc-1")
	require.NoError(t, err)
	require.NoError(t, f.svc.Cancel(context.Background(), id))

	job, err := f.svc.GetStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StageFailure, job.Stage)
	assert.True(t, job.CancelRequested)
	require.NotNil(t, job.Error)
	assert.Equal(t, models.KindCancelled, job.Error.Kind)
	assert.Equal(t, "PENDING", job.Error.Stage)
	assert.False(t, job.Error.Transient)
}

func TestCancelRunningJobOnlySetsFlag(t *testing.T) {
	f := newFixture(t)
	f.addDocument(t, "doc-1", "case-1")

	id, err := f.svc.Enqueue(context.Background(), "doc-1")
	require.NoError(t, err)
	require.NoError(t, f.svc.Cancel(context.Background(), id))

	job, err := f.svc.GetStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StagePending, job.Stage)
	assert.True(t, job.CancelRequested)
	assert.Equal(t, []string{id}, f.queue.cancelled)
}

func TestCancelFinishedJobIsNoop(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	job := models.NewJob("done", models.JobKindProcessDocument, "doc-1", "case-1", now)
	require.NoError(t, f.store.CreateJob(context.Background(), job))
	require.NoError(t, job.Transition(models.StageFailure, "Failed", now))
	require.NoError(t, f.store.UpdateJob(context.Background(), job))

	require.NoError(t, f.svc.Cancel(context.Background(), "done"))
	assert.Empty(t, f.queue.cancelled)

	assert.True(t, models.IsNotFound(f.svc.Cancel(context.Background(), "nope")))
}

func TestListActiveReadsJobRecords(t *testing.T) {
	f := newFixture(t)
	f.addDocument(t, "doc-1", "case-1")
	id, err := f.svc.Enqueue(context.Background(), "doc-1")
	require.NoError(t, err)

	f.queue.active = []queue.ActiveTask{
		{JobID: id, Type: queue.TaskTypeDocumentProcess, Queue: queue.QueueDefault},
		{JobID: "purged", Type: queue.TaskTypeCaseReanalyze, Queue: queue.QueueLow},
	}
	jobs, err := f.svc.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, id, jobs[0].ID)

	f.queue.listErr = errors.New("redis down")
	_, err = f.svc.ListActive(context.Background())
	assert.ErrorContains(t, err, "redis down")
}

func TestGetResultRequiresSuccess(t *testing.T) {
	f := newFixture(t)
	f.addDocument(t, "doc-1", "case-1")
	id, err := f.svc.Enqueue(context.Background(), "doc-1")
	require.NoError(t, err)

	_, err = f.svc.GetResult(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotCompleted)
}

func TestGetResultReadsDocumentScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addDocument(t, "doc-1", "case-1")

	now := time.Now().UTC()
	job := models.NewJob("job-1", models.JobKindProcessDocument, "doc-1", "case-1", now)
	require.NoError(t, f.store.CreateJob(ctx, job))
	for _, stage := range []models.Stage{models.StageParsing, models.StageExtracting, models.StageSynthesizing, models.StageAnalyzing, models.StageSuccess} {
		require.NoError(t, job.Transition(stage, stage.String(), now))
	}
	require.NoError(t, f.store.UpdateJob(ctx, job))

	fact := models.ExtractedFact{
		ID:         "f1",
		Value:      models.AmountValue{Amount: 3450},
		Source:     models.SourceLink{DocumentName: "intake.txt", PageNumber: 1, BoundingBox: models.BoundingBox{1, 1, 2, 2}},
		Confidence: 1,
		TextMatch:  "$3,450.00",
	}
	require.NoError(t, f.store.SaveFacts(ctx, "doc-1", []models.ExtractedFact{fact}))
	date, err := models.NewDate(2024, time.January, 15)
	require.NoError(t, err)
	scope := store.Scope{CaseID: "case-1", DocumentID: "doc-1"}
	require.NoError(t, f.store.ReplaceEvents(ctx, scope, []models.SynthesizedEvent{{ID: "e1", CaseID: "case-1", DocumentID: "doc-1", EventDate: date, SourceFactIDs: []string{"f1"}}}))

	result, err := f.svc.GetResult(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", result.DocumentID)
	assert.Len(t, result.Facts, 1)
	assert.Len(t, result.Events, 1)
	assert.Empty(t, result.Contradictions)
}

func TestUploadStoresAndRegisters(t *testing.T) {
	f := newFixture(t)
	body := "On 1/15/2024 Dr. Sarah Johnson, MD examined the plaintiff."

	doc, err := f.svc.Upload(context.Background(), "case-1", "../notes.txt", strings.NewReader(body), int64(len(body)))
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", doc.FileName)
	assert.Equal(t, "text/plain", doc.ContentType)
	assert.Equal(t, models.Text, doc.FileType)
	assert.Equal(t, "cases/case-1/"+doc.ID+"/notes.txt", doc.StorageKey)
	assert.Len(t, doc.Hash, 64)
	assert.Equal(t, body, string(f.storage.objects[doc.StorageKey]))

	stored, err := f.store.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "case-1", stored.CaseID)
}

func TestUploadRejectsInvalidFile(t *testing.T) {
	f := newFixture(t)
	body := "not really a pdf"

	_, err := f.svc.Upload(context.Background(), "case-1", "claim.pdf", strings.NewReader(body), int64(len(body)))
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, f.storage.objects)

	_, err = f.svc.Upload(context.Background(), "", "notes.txt", strings.NewReader(body), int64(len(body)))
	assert.ErrorAs(t, err, &verr)
}

func TestUploadStorageFailure(t *testing.T) {
	f := newFixture(t)
	f.storage.storeErr = errors.New("bucket missing")
	body := "On 1/15/2024 something happened."

	_, err := f.svc.Upload(context.Background(), "case-1", "notes.txt", strings.NewReader(body), int64(len(body)))
	var serr *models.ExternalServiceError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "storage", serr.Service)
}
