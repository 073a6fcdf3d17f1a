package worker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrPoolExhausted is returned when no worker slot frees up in time.
var ErrPoolExhausted = errors.New("no worker slot available")

// PoolStatus is a snapshot of slot occupancy.
type PoolStatus struct {
	Size int
	Busy int
	Jobs map[int]string
}

// Pool is a fixed set of worker slots. Acquire blocks up to a timeout;
// Release clears the slot's job binding. The coordinator sizes each
// job's segment plan by how many slots it managed to acquire.
type Pool struct {
	slots chan int

	mu   sync.Mutex
	jobs map[int]string
	size int
}

// NewPool creates a pool with n slots (minimum 1).
func NewPool(n int) *Pool {
	if n < 1 {
		n = 1
	}
	p := &Pool{
		slots: make(chan int, n),
		jobs:  make(map[int]string, n),
		size:  n,
	}
	for i := range n {
		p.slots <- i
	}
	return p
}

// Size returns the total slot count.
func (p *Pool) Size() int { return p.size }

// Acquire claims one slot for a job, waiting up to timeout. A zero
// timeout polls without waiting.
func (p *Pool) Acquire(ctx context.Context, jobID string, timeout time.Duration) (int, error) {
	claim := func(slot int) int {
		p.mu.Lock()
		p.jobs[slot] = jobID
		p.mu.Unlock()
		return slot
	}

	if timeout <= 0 {
		select {
		case slot := <-p.slots:
			return claim(slot), nil
		default:
			return -1, ErrPoolExhausted
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case slot := <-p.slots:
		return claim(slot), nil
	case <-timer.C:
		return -1, ErrPoolExhausted
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// AcquireUpTo claims as many free slots as possible, at most want, with
// the timeout applying only to the first slot. At least one slot is
// returned on success.
func (p *Pool) AcquireUpTo(ctx context.Context, jobID string, want int, timeout time.Duration) ([]int, error) {
	first, err := p.Acquire(ctx, jobID, timeout)
	if err != nil {
		return nil, err
	}
	slots := []int{first}
	for len(slots) < want {
		slot, err := p.Acquire(ctx, jobID, 0)
		if err != nil {
			break
		}
		slots = append(slots, slot)
	}
	return slots, nil
}

// Release frees a slot and clears its job binding.
func (p *Pool) Release(slot int) {
	p.mu.Lock()
	if _, held := p.jobs[slot]; !held {
		p.mu.Unlock()
		return
	}
	delete(p.jobs, slot)
	p.mu.Unlock()
	p.slots <- slot
}

// ReleaseAll frees several slots.
func (p *Pool) ReleaseAll(slots []int) {
	for _, slot := range slots {
		p.Release(slot)
	}
}

// Status returns a snapshot of slot occupancy.
func (p *Pool) Status() PoolStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	jobs := make(map[int]string, len(p.jobs))
	for slot, jobID := range p.jobs {
		jobs[slot] = jobID
	}
	return PoolStatus{Size: p.size, Busy: len(p.jobs), Jobs: jobs}
}
