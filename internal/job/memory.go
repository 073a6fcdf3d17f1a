package job

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/motionrender/render-api/internal/fault"
)

// Compile-time check that MemoryQueue implements Queue.
var _ Queue = (*MemoryQueue)(nil)

// MemoryQueue is an in-memory implementation of Queue. It keeps full
// fidelity with the redis implementation (FIFO order, concurrency cap,
// lease expiry) and is the backend used when no STORE_URL is configured,
// as well as in tests.
type MemoryQueue struct {
	mu           sync.Mutex
	jobs         map[string]*Job
	pending      []string
	inFlight     map[string]time.Time
	maxInFlight  int
	leaseTimeout time.Duration
	now          func() time.Time
}

// NewMemoryQueue creates an in-memory queue with the given concurrency cap.
func NewMemoryQueue(maxInFlight int, leaseTimeout time.Duration) *MemoryQueue {
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	if leaseTimeout <= 0 {
		leaseTimeout = DefaultLeaseTimeout
	}
	return &MemoryQueue{
		jobs:         make(map[string]*Job),
		inFlight:     make(map[string]time.Time),
		maxInFlight:  maxInFlight,
		leaseTimeout: leaseTimeout,
		now:          time.Now,
	}
}

// Enqueue appends a job in FIFO order.
func (q *MemoryQueue) Enqueue(_ context.Context, j *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.jobs[j.ID]; ok {
		return ErrDuplicateJob
	}
	q.jobs[j.ID] = j.Clone()
	q.pending = append(q.pending, j.ID)
	return nil
}

// Lease pops the head if capacity allows, marking the job processing.
func (q *MemoryQueue) Lease(_ context.Context) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.inFlight) >= q.maxInFlight || len(q.pending) == 0 {
		return nil, nil
	}
	jobID := q.pending[0]
	q.pending = q.pending[1:]
	j := q.jobs[jobID]
	if j == nil {
		return nil, nil
	}
	_ = j.Start()
	q.inFlight[jobID] = q.now().Add(q.leaseTimeout)
	return j.Clone(), nil
}

// Complete removes the job from in-flight and marks it completed.
func (q *MemoryQueue) Complete(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	delete(q.inFlight, jobID)
	return j.Complete()
}

// Fail removes the job from in-flight and marks it failed.
func (q *MemoryQueue) Fail(_ context.Context, jobID string, kind fault.Kind, message string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	delete(q.inFlight, jobID)
	return j.Fail(kind, message)
}

// Cancel removes a pending job or flags an in-flight one.
func (q *MemoryQueue) Cancel(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if _, leased := q.inFlight[jobID]; leased {
		j.RequestCancel()
		return nil
	}
	for i, pid := range q.pending {
		if pid == jobID {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			break
		}
	}
	return j.Cancel()
}

// AckCancel acknowledges a cooperative cancel of an in-flight job.
func (q *MemoryQueue) AckCancel(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	delete(q.inFlight, jobID)
	return j.Cancel()
}

// Update replaces the stored record with a clone of the given job.
func (q *MemoryQueue) Update(_ context.Context, j *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.jobs[j.ID]; !ok {
		return ErrJobNotFound
	}
	q.jobs[j.ID] = j.Clone()
	return nil
}

// SetProgress advances the stored job's progress in place.
func (q *MemoryQueue) SetProgress(_ context.Context, jobID string, progress int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	j.UpdateProgress(progress)
	return nil
}

// Get returns a clone of the job.
func (q *MemoryQueue) Get(_ context.Context, jobID string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return j.Clone(), nil
}

// Status returns current occupancy counters.
func (q *MemoryQueue) Status(_ context.Context) (QueueStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStatus{
		Queued:   len(q.pending),
		InFlight: len(q.inFlight),
		Total:    len(q.jobs),
		Max:      q.maxInFlight,
	}, nil
}

// ReapExpired requeues in-flight jobs whose lease deadline has passed.
// Requeued jobs keep their original enqueue position relative to each
// other (sorted by creation time) but go behind current pending entries.
func (q *MemoryQueue) ReapExpired(_ context.Context) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()

	var expired []string
	for jobID, deadline := range q.inFlight {
		if now.After(deadline) {
			expired = append(expired, jobID)
		}
	}
	sort.Slice(expired, func(i, k int) bool {
		return q.jobs[expired[i]].CreatedAt.Before(q.jobs[expired[k]].CreatedAt)
	})
	for _, jobID := range expired {
		delete(q.inFlight, jobID)
		j := q.jobs[jobID]
		// Reset to queued so the next Lease can pick it up again.
		j.mu.Lock()
		j.Status = StatusQueued
		j.mu.Unlock()
		q.pending = append(q.pending, jobID)
	}
	return expired, nil
}
