package progress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "job:job-1", JobKey("job-1"))
	assert.Equal(t, "worker:job-1:2", WorkerKey("job-1", 2))
}

func TestMemoryStore_SetGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))

	got, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	_, ok, err = s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), 50*time.Millisecond))

	base := time.Now()
	s.now = func() time.Time { return base.Add(time.Second) }

	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "expired entry must not be readable")
}

func TestMemoryStore_MGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, s.Set(ctx, "c", []byte("3"), time.Minute))

	values, err := s.MGet(ctx, "a", "b", "c")
	require.NoError(t, err)
	require.Len(t, values, 3)
	assert.Equal(t, []byte("1"), values[0])
	assert.Nil(t, values[1])
	assert.Equal(t, []byte("3"), values[2])
}

func TestPublisher_Worker(t *testing.T) {
	s := NewMemoryStore()
	p := NewPublisher(s)
	ctx := context.Background()

	require.NoError(t, p.PublishWorker(ctx, "job-1", 0, WorkerProcessing, 42))
	require.NoError(t, p.PublishWorker(ctx, "job-1", 2, WorkerCompleted, 150))

	statuses, err := p.WorkerStatuses(ctx, "job-1", 4)
	require.NoError(t, err)
	require.Len(t, statuses, 4)

	assert.Equal(t, WorkerProcessing, statuses[0].Status)
	assert.Equal(t, 42, statuses[0].Progress)
	assert.Equal(t, 0, statuses[0].WorkerID)

	// Never published: reported as pending.
	assert.Equal(t, WorkerPending, statuses[1].Status)

	// Progress clamped to 100.
	assert.Equal(t, WorkerCompleted, statuses[2].Status)
	assert.Equal(t, 100, statuses[2].Progress)
	assert.Equal(t, 2, statuses[2].WorkerID)

	assert.Equal(t, WorkerPending, statuses[3].Status)
}

func TestPublisher_Job(t *testing.T) {
	s := NewMemoryStore()
	p := NewPublisher(s)
	ctx := context.Background()

	require.NoError(t, p.PublishJob(ctx, "job-9", map[string]any{"status": "processing"}))

	raw, ok, err := s.Get(ctx, JobKey("job-9"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, string(raw), "processing")
}
