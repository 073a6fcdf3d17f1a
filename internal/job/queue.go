package job

import (
	"context"
	"errors"
	"time"

	"github.com/motionrender/render-api/internal/fault"
)

// Static errors for queue operations.
var (
	// ErrJobNotFound is returned when a job cannot be found by id.
	ErrJobNotFound = errors.New("job not found")
	// ErrDuplicateJob is returned when a job id is enqueued twice.
	ErrDuplicateJob = errors.New("job already exists")
)

// QueueStatus is a point-in-time snapshot of queue occupancy.
type QueueStatus struct {
	Queued   int `json:"queued"`
	InFlight int `json:"inFlight"`
	Total    int `json:"total"`
	Max      int `json:"max"`
}

// Queue is the durable ordered job queue with lease semantics. Jobs are
// leased FIFO; at most MaxConcurrent jobs are in flight at once, and a
// leased job that is not completed or failed before its lease expires is
// requeued by ReapExpired.
type Queue interface {
	// Enqueue appends a job. Fails only on store unavailability or a
	// duplicate id.
	Enqueue(ctx context.Context, j *Job) error

	// Lease atomically pops the queue head if the in-flight count is
	// below the concurrency cap, marks it processing and returns it.
	// Returns (nil, nil) when the queue is empty or the cap is reached.
	// Lease is race-free across concurrent coordinators.
	Lease(ctx context.Context) (*Job, error)

	// Complete removes an in-flight job and marks it completed.
	Complete(ctx context.Context, jobID string) error

	// Fail removes an in-flight job and marks it failed with the given
	// taxonomy kind and message.
	Fail(ctx context.Context, jobID string, kind fault.Kind, message string) error

	// Cancel removes a pending job outright, or flags an in-flight job
	// as cancel-requested for the owning coordinator to acknowledge.
	Cancel(ctx context.Context, jobID string) error

	// AckCancel transitions a cancel-requested in-flight job to the
	// cancelled terminal state and releases its lease.
	AckCancel(ctx context.Context, jobID string) error

	// Update persists a mutated job record (progress, cancel flag).
	Update(ctx context.Context, j *Job) error

	// SetProgress advances the stored job's progress without touching
	// status or the cancel flag. Progress never decreases.
	SetProgress(ctx context.Context, jobID string, progress int) error

	// Get returns a copy of a job by id.
	Get(ctx context.Context, jobID string) (*Job, error)

	// Status returns queue occupancy counters.
	Status(ctx context.Context) (QueueStatus, error)

	// ReapExpired requeues in-flight jobs whose lease expired, returning
	// the ids it requeued.
	ReapExpired(ctx context.Context) ([]string, error)
}

// DefaultLeaseTimeout bounds how long a coordinator may hold a job before
// a crash is assumed and the job is requeued. It exceeds the per-job
// rendering timeout so a healthy coordinator always terminates first.
const DefaultLeaseTimeout = 35 * time.Minute
