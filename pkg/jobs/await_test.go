package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAwaitReturnsStoredResult(t *testing.T) {
	store := NewJobStore(setupTestDB(t))
	ctx := context.Background()

	job := newTestJob(KindByMetadata, "")
	_, err := store.Enqueue(ctx, job)
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = store.StoreResult(ctx, job.ID, []byte(`{"passed":false}`))
		_ = store.Complete(ctx, job.ID, 10)
	}()

	value, err := Await(ctx, store, store, job.ID, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, `{"passed":false}`, string(value))
}

func TestAwaitReportsFailure(t *testing.T) {
	store := NewJobStore(setupTestDB(t))
	ctx := context.Background()

	job := newTestJob(KindByMetadata, "")
	_, err := store.Enqueue(ctx, job)
	require.NoError(t, err)
	_, err = store.Claim(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, store.Fail(ctx, job.ID, "worker crashed", 0, 1))

	_, err = Await(ctx, store, store, job.ID, 10*time.Millisecond)
	var failed *FailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "worker crashed", failed.Reason)
}

func TestAwaitHonoursDeadline(t *testing.T) {
	store := NewJobStore(setupTestDB(t))

	job := newTestJob(KindByMetadata, "")
	_, err := store.Enqueue(context.Background(), job)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = Await(ctx, store, store, job.ID, 10*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAwaitUnknownJob(t *testing.T) {
	store := NewJobStore(setupTestDB(t))
	_, err := Await(context.Background(), store, store, "missing", 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrJobNotFound)
}
