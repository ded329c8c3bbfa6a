package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/casefolio/pkg/logger"
	"github.com/feichai0017/casefolio/pkg/queue"
)

type fakeRunner struct {
	ran      []string
	err      error
	purged   time.Duration
	purgeErr error
}

func (f *fakeRunner) Run(_ context.Context, jobID string) error {
	f.ran = append(f.ran, jobID)
	return f.err
}

func (f *fakeRunner) PurgeJobs(_ context.Context, retention time.Duration) (int, error) {
	f.purged = retention
	return 3, f.purgeErr
}

func newMux(r Runner, retention time.Duration) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	h := &handlers{runner: r, retention: retention, logger: logger.NewTestLogger()}
	h.register(mux)
	return mux
}

func jobTask(t *testing.T, taskType, jobID string) *asynq.Task {
	t.Helper()
	task, err := queue.NewTask(taskType, jobID, queue.PriorityNormal, queue.DefaultQueueConfig())
	require.NoError(t, err)
	return task
}

func TestHandleJobRunsBothKinds(t *testing.T) {
	r := &fakeRunner{}
	mux := newMux(r, time.Hour)

	require.NoError(t, mux.ProcessTask(context.Background(), jobTask(t, queue.TaskTypeDocumentProcess, "job-a")))
	require.NoError(t, mux.ProcessTask(context.Background(), jobTask(t, queue.TaskTypeCaseReanalyze, "job-b")))
	assert.Equal(t, []string{"job-a", "job-b"}, r.ran)
}

func TestHandleJobPropagatesRunnerError(t *testing.T) {
	boom := errors.New("store unavailable")
	r := &fakeRunner{err: boom}
	mux := newMux(r, time.Hour)

	err := mux.ProcessTask(context.Background(), jobTask(t, queue.TaskTypeDocumentProcess, "job-a"))
	assert.ErrorIs(t, err, boom)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestHandleJobSkipsRetryOnMalformedPayload(t *testing.T) {
	r := &fakeRunner{}
	mux := newMux(r, time.Hour)

	err := mux.ProcessTask(context.Background(), asynq.NewTask(queue.TaskTypeDocumentProcess, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, r.ran)
}

func TestHandlePurge(t *testing.T) {
	r := &fakeRunner{}
	require.NoError(t, newMux(r, 48*time.Hour).ProcessTask(context.Background(), asynq.NewTask(queue.TaskTypePurgeJobs, nil)))
	assert.Equal(t, 48*time.Hour, r.purged)

	r = &fakeRunner{}
	require.NoError(t, newMux(r, 0).ProcessTask(context.Background(), asynq.NewTask(queue.TaskTypePurgeJobs, nil)))
	assert.Zero(t, r.purged)
}
