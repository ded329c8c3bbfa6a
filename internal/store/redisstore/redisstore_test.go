package redisstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/casefolio/internal/models"
)

func newTestStore(t *testing.T) *JobStore {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	s := New(client, time.Hour)
	require.NoError(t, s.Ping(context.Background()))
	return s
}

func TestKeyLayout(t *testing.T) {
	assert.Equal(t, "casefolio:job:abc", key("abc"))
	assert.Nil(t, redisError("noop", nil))
	var te *models.TransientError
	assert.ErrorAs(t, redisError("get", assert.AnError), &te)
}

func TestJobStoreRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	job := models.NewJob(uuid.NewString(), models.JobKindProcessDocument, "doc", "case", now)
	require.NoError(t, s.CreateJob(ctx, job))
	assert.Error(t, s.CreateJob(ctx, job))

	require.NoError(t, s.RequestCancel(ctx, job.ID))
	require.NoError(t, job.Transition(models.StageParsing, "Parsing document", now))
	require.NoError(t, s.UpdateJob(ctx, job))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageParsing, got.Stage)
	assert.True(t, got.CancelRequested)

	require.NoError(t, job.Transition(models.StageFailure, "Failed", now.Add(-2*time.Hour)))
	require.NoError(t, s.UpdateJob(ctx, job))

	n, err := s.DeleteJobsBefore(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)

	_, err = s.GetJob(ctx, job.ID)
	assert.True(t, models.IsNotFound(err))
}
