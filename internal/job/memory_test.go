package job

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/motionrender/render-api/internal/fault"
)

func TestMemoryQueue_EnqueueLease(t *testing.T) {
	q := NewMemoryQueue(3, time.Minute)
	ctx := context.Background()

	j1 := NewWithID("job-1")
	j2 := NewWithID("job-2")
	require.NoError(t, q.Enqueue(ctx, j1))
	require.NoError(t, q.Enqueue(ctx, j2))

	// FIFO: first enqueued leases first.
	leased, err := q.Lease(ctx)
	require.NoError(t, err)
	require.NotNil(t, leased)
	assert.Equal(t, "job-1", leased.ID)
	assert.Equal(t, StatusProcessing, leased.Status)
	assert.False(t, leased.StartedAt.IsZero())
}

func TestMemoryQueue_DuplicateEnqueue(t *testing.T) {
	q := NewMemoryQueue(3, time.Minute)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, NewWithID("job-1")))
	assert.ErrorIs(t, q.Enqueue(ctx, NewWithID("job-1")), ErrDuplicateJob)
}

func TestMemoryQueue_ConcurrencyCap(t *testing.T) {
	q := NewMemoryQueue(2, time.Minute)
	ctx := context.Background()

	for _, jid := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, NewWithID(jid)))
	}

	first, err := q.Lease(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	second, err := q.Lease(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)

	// Cap reached: third lease returns empty.
	third, err := q.Lease(ctx)
	require.NoError(t, err)
	assert.Nil(t, third)

	// Completing one frees a slot.
	require.NoError(t, q.Complete(ctx, first.ID))
	third, err = q.Lease(ctx)
	require.NoError(t, err)
	require.NotNil(t, third)
	assert.Equal(t, "c", third.ID)

	st, err := q.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Queued)
	assert.Equal(t, 2, st.InFlight)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 2, st.Max)
}

func TestMemoryQueue_Fail(t *testing.T) {
	q := NewMemoryQueue(1, time.Minute)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, NewWithID("job-1")))

	leased, _ := q.Lease(ctx)
	require.NotNil(t, leased)
	require.NoError(t, q.Fail(ctx, "job-1", fault.KindRenderFailure, "renderer crashed"))

	got, err := q.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "RENDER_FAILURE", got.ErrorCode)

	st, _ := q.Status(ctx)
	assert.Equal(t, 0, st.InFlight)
}

func TestMemoryQueue_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("pending job is removed and cancelled", func(t *testing.T) {
		q := NewMemoryQueue(1, time.Minute)
		require.NoError(t, q.Enqueue(ctx, NewWithID("job-1")))
		require.NoError(t, q.Cancel(ctx, "job-1"))

		got, err := q.Get(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, got.Status)

		leased, err := q.Lease(ctx)
		require.NoError(t, err)
		assert.Nil(t, leased)
	})

	t.Run("in-flight job gets cancel-requested flag", func(t *testing.T) {
		q := NewMemoryQueue(1, time.Minute)
		require.NoError(t, q.Enqueue(ctx, NewWithID("job-1")))
		leased, _ := q.Lease(ctx)
		require.NotNil(t, leased)

		require.NoError(t, q.Cancel(ctx, "job-1"))
		got, _ := q.Get(ctx, "job-1")
		assert.Equal(t, StatusProcessing, got.Status)
		assert.True(t, got.CancelRequested)

		// Coordinator acknowledges at its next checkpoint.
		require.NoError(t, q.AckCancel(ctx, "job-1"))
		got, _ = q.Get(ctx, "job-1")
		assert.Equal(t, StatusCancelled, got.Status)
	})

	t.Run("unknown job", func(t *testing.T) {
		q := NewMemoryQueue(1, time.Minute)
		assert.ErrorIs(t, q.Cancel(ctx, "nope"), ErrJobNotFound)
	})
}

func TestMemoryQueue_LeaseExpiry(t *testing.T) {
	q := NewMemoryQueue(1, 50*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, NewWithID("job-1")))
	leased, err := q.Lease(ctx)
	require.NoError(t, err)
	require.NotNil(t, leased)

	// Coordinator "crashes": nothing completes the job. Move the clock
	// past the lease deadline.
	now := time.Now()
	q.now = func() time.Time { return now.Add(time.Second) }

	requeued, err := q.ReapExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"job-1"}, requeued)

	// A fresh coordinator leases it again and completes it.
	again, err := q.Lease(ctx)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, "job-1", again.ID)
	require.NoError(t, q.Complete(ctx, "job-1"))

	got, _ := q.Get(ctx, "job-1")
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
}

func TestMemoryQueue_GetReturnsClone(t *testing.T) {
	q := NewMemoryQueue(1, time.Minute)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, NewWithID("job-1")))

	got, _ := q.Get(ctx, "job-1")
	got.Progress = 99

	fresh, _ := q.Get(ctx, "job-1")
	assert.Equal(t, 0, fresh.Progress, "mutating a returned job must not affect the queue")
}
