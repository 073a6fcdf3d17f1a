package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(idx, size int) Frame {
	return Frame{Index: idx, PTS: float64(idx) / 30.0, Data: make([]byte, size)}
}

func TestFrameQueue_FIFO(t *testing.T) {
	q := NewFrameQueue()
	require.True(t, q.Push(frame(0, 10)))
	require.True(t, q.Push(frame(1, 10)))
	require.True(t, q.Push(frame(2, 10)))

	for want := range 3 {
		f, ok := q.Pop(time.Second)
		require.True(t, ok)
		assert.Equal(t, want, f.Index)
	}
}

func TestFrameQueue_PopTimeout(t *testing.T) {
	q := NewFrameQueue()
	start := time.Now()
	_, ok := q.Pop(20 * time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestFrameQueue_ByteBudgetDropsIncoming(t *testing.T) {
	q := NewFrameQueueWith(60, 100)
	require.True(t, q.Push(frame(0, 80)))

	// Over the byte budget while frames are buffered: the new frame
	// is dropped and the buffered one survives.
	assert.False(t, q.Push(frame(1, 80)))

	f, ok := q.Pop(time.Second)
	require.True(t, ok)
	assert.Equal(t, 0, f.Index)

	stats := q.Stats()
	assert.Equal(t, int64(2), stats.Pushed)
	assert.Equal(t, int64(1), stats.Dropped)
	assert.InDelta(t, 0.5, stats.DropRate(), 1e-9)
}

func TestFrameQueue_OversizedFrameDroppedWhenEmpty(t *testing.T) {
	q := NewFrameQueueWith(60, 100)

	// A single frame larger than the whole byte budget never enters the
	// queue, even with nothing buffered.
	assert.False(t, q.Push(frame(0, 150)))

	stats := q.Stats()
	assert.Equal(t, 0, stats.Depth)
	assert.Equal(t, int64(0), stats.Bytes)
	assert.Equal(t, int64(1), stats.Dropped)
}

func TestFrameQueue_CountCapEvictsOldest(t *testing.T) {
	q := NewFrameQueueWith(MinFrames, DefaultMaxBytes)
	for i := range MinFrames + 1 {
		assert.True(t, q.Push(frame(i, 10)))
	}

	stats := q.Stats()
	assert.Equal(t, MinFrames, stats.Depth)
	assert.Equal(t, int64(1), stats.Dropped)

	// Frame 0 was evicted to make room for the newest.
	f, ok := q.Pop(time.Second)
	require.True(t, ok)
	assert.Equal(t, 1, f.Index)
}

func TestFrameQueue_ResizeClamps(t *testing.T) {
	q := NewFrameQueue()
	q.Resize(1)
	assert.Equal(t, MinFrames, q.Stats().Capacity)
	q.Resize(1000)
	assert.Equal(t, MaxFrames, q.Stats().Capacity)
	q.Resize(90)
	assert.Equal(t, 90, q.Stats().Capacity)
}

func TestFrameQueue_CloseDrainsThenStops(t *testing.T) {
	q := NewFrameQueue()
	require.True(t, q.Push(frame(0, 10)))
	q.Close()

	assert.False(t, q.Push(frame(1, 10)), "push after close rejected")

	f, ok := q.Pop(time.Second)
	require.True(t, ok, "buffered frames remain poppable after close")
	assert.Equal(t, 0, f.Index)

	_, ok = q.Pop(time.Second)
	assert.False(t, ok, "closed and drained queue returns immediately")
}

func TestFrameQueue_CloseWakesBlockedConsumer(t *testing.T) {
	q := NewFrameQueue()
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop(5 * time.Second)
		done <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("consumer not woken by Close")
	}
}
