package pipeline

import (
	"sync"
	"time"
)

const (
	// DefaultMaxFrames is the initial frame-count capacity.
	DefaultMaxFrames = 60
	// MinFrames and MaxFrames bound runtime capacity adjustments.
	MinFrames = 15
	MaxFrames = 120
	// DefaultMaxBytes is the total byte budget for buffered frames.
	DefaultMaxBytes = 360 << 20

	// DefaultPopTimeout bounds how long a consumer waits for a frame.
	DefaultPopTimeout = time.Second
)

// QueueStats is a snapshot of queue activity since creation.
type QueueStats struct {
	Pushed   int64
	Popped   int64
	Dropped  int64
	Depth    int
	Bytes    int64
	Capacity int
}

// DropRate is the fraction of produced frames that were dropped.
func (s QueueStats) DropRate() float64 {
	if s.Pushed == 0 {
		return 0
	}
	return float64(s.Dropped) / float64(s.Pushed)
}

// FrameQueue buffers frames between capture and encoding under two
// budgets. When the byte budget is exceeded the incoming frame is dropped
// so buffered frames keep their contiguity; when only the count cap is
// hit the oldest frame is evicted to favor fresher output. Push never
// blocks; Pop blocks up to a timeout.
type FrameQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond

	frames   []Frame
	bytes    int64
	capacity int
	maxBytes int64
	closed   bool

	pushed  int64
	popped  int64
	dropped int64
}

// NewFrameQueue creates a queue with the default budgets.
func NewFrameQueue() *FrameQueue {
	return NewFrameQueueWith(DefaultMaxFrames, DefaultMaxBytes)
}

// NewFrameQueueWith creates a queue with explicit budgets. Non-positive
// values fall back to defaults.
func NewFrameQueueWith(maxFrames int, maxBytes int64) *FrameQueue {
	if maxFrames <= 0 {
		maxFrames = DefaultMaxFrames
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	q := &FrameQueue{
		capacity: clampCapacity(maxFrames),
		maxBytes: maxBytes,
	}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

func clampCapacity(n int) int {
	if n < MinFrames {
		return MinFrames
	}
	if n > MaxFrames {
		return MaxFrames
	}
	return n
}

// Push offers a frame without blocking. It reports whether the frame was
// accepted; a false return means the frame was dropped for byte pressure
// or the queue is closed.
func (q *FrameQueue) Push(f Frame) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.pushed++

	// The byte budget is a hard cap; a frame that would exceed it is
	// dropped even when the queue is empty.
	if q.bytes+int64(f.Size()) > q.maxBytes {
		q.dropped++
		return false
	}
	for len(q.frames) >= q.capacity {
		head := q.frames[0]
		q.frames = q.frames[1:]
		q.bytes -= int64(head.Size())
		q.dropped++
	}
	q.frames = append(q.frames, f)
	q.bytes += int64(f.Size())
	q.notEmpty.Signal()
	return true
}

// Pop removes the oldest frame, waiting up to timeout for one to arrive.
// It returns ok=false on timeout or when the queue is closed and drained.
func (q *FrameQueue) Pop(timeout time.Duration) (Frame, bool) {
	if timeout <= 0 {
		timeout = DefaultPopTimeout
	}
	deadline := time.Now().Add(timeout)

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.frames) == 0 {
		if q.closed {
			return Frame{}, false
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Frame{}, false
		}
		waitCond(q.notEmpty, remaining)
	}
	f := q.frames[0]
	q.frames = q.frames[1:]
	q.bytes -= int64(f.Size())
	q.popped++
	return f, true
}

// waitCond waits on c with an upper bound. The timer wakes the waiter so
// the deadline check in the caller's loop can run.
func waitCond(c *sync.Cond, d time.Duration) {
	timer := time.AfterFunc(d, c.Broadcast)
	defer timer.Stop()
	c.Wait()
}

// Resize adjusts the frame-count capacity, clamped to the allowed range.
// Shrinking does not evict buffered frames; the cap applies to pushes.
func (q *FrameQueue) Resize(capacity int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.capacity = clampCapacity(capacity)
}

// Close wakes all waiters. Buffered frames remain poppable; further
// pushes are rejected.
func (q *FrameQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.notEmpty.Broadcast()
}

// Drained reports whether the queue is closed with no frames left.
func (q *FrameQueue) Drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.frames) == 0
}

// Stats returns a snapshot of queue counters.
func (q *FrameQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Pushed:   q.pushed,
		Popped:   q.popped,
		Dropped:  q.dropped,
		Depth:    len(q.frames),
		Bytes:    q.bytes,
		Capacity: q.capacity,
	}
}
