// Package progress provides the shared progress/status key-value store.
// It is the only cross-process mutable state besides the job queue and is
// deliberately not the source of truth for terminal job state: writes are
// best-effort, TTL'd, and last-writer-wins.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// TTLs for the two key families. A worker entry must outlive the expected
// wallclock of one segment; a job entry is retained for an hour after its
// last update.
const (
	JobTTL    = time.Hour
	WorkerTTL = 10 * time.Minute
)

// WorkerState mirrors the per-(job, worker) status record.
type WorkerState string

const (
	WorkerPending    WorkerState = "pending"
	WorkerProcessing WorkerState = "processing"
	WorkerCompleted  WorkerState = "completed"
	WorkerFailed     WorkerState = "failed"
)

// WorkerStatus is the value stored under worker:{jobId}:{workerIdx}.
type WorkerStatus struct {
	Status    WorkerState `json:"status"`
	Progress  int         `json:"progress"`
	UpdatedAt time.Time   `json:"updatedAt"`
	WorkerID  int         `json:"workerId"`
}

// Store is a string-keyed value store with per-key TTL. Implementations
// must make writes observable to any reader within one second.
type Store interface {
	// Set writes a value with the given TTL, atomically.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get reads a value. Returns (nil, false, nil) on a missing key.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// MGet reads several keys at once; missing keys yield nil entries.
	MGet(ctx context.Context, keys ...string) ([][]byte, error)

	// Close releases the backing connection.
	Close() error
}

// JobKey returns the store key for a job record.
func JobKey(jobID string) string {
	return "job:" + jobID
}

// WorkerKey returns the store key for a per-worker status record.
func WorkerKey(jobID string, workerIdx int) string {
	return fmt.Sprintf("worker:%s:%d", jobID, workerIdx)
}

// Publisher wraps a Store with the typed writes the pipeline performs.
// Store failures are surfaced to the caller, which logs and continues;
// progress reporting is degraded, never fatal.
type Publisher struct {
	store Store
}

// NewPublisher creates a Publisher over the given store.
func NewPublisher(store Store) *Publisher {
	return &Publisher{store: store}
}

// PublishJob writes a JSON job snapshot under job:{id} with JobTTL.
func (p *Publisher) PublishJob(ctx context.Context, jobID string, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}
	return p.store.Set(ctx, JobKey(jobID), data, JobTTL)
}

// PublishWorker writes a worker status under worker:{jobId}:{idx} with
// WorkerTTL. Progress is clamped to [0, 100].
func (p *Publisher) PublishWorker(ctx context.Context, jobID string, workerIdx int, state WorkerState, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	status := WorkerStatus{
		Status:    state,
		Progress:  progress,
		UpdatedAt: time.Now().UTC(),
		WorkerID:  workerIdx,
	}
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal worker status: %w", err)
	}
	return p.store.Set(ctx, WorkerKey(jobID, workerIdx), data, WorkerTTL)
}

// WorkerStatuses bulk-reads the status of n workers for one job. Workers
// without a record (expired or never written) are reported as pending.
func (p *Publisher) WorkerStatuses(ctx context.Context, jobID string, n int) ([]WorkerStatus, error) {
	keys := make([]string, n)
	for i := range keys {
		keys[i] = WorkerKey(jobID, i)
	}
	values, err := p.store.MGet(ctx, keys...)
	if err != nil {
		return nil, err
	}
	out := make([]WorkerStatus, n)
	for i, raw := range values {
		if raw == nil {
			out[i] = WorkerStatus{Status: WorkerPending, WorkerID: i}
			continue
		}
		if err := json.Unmarshal(raw, &out[i]); err != nil {
			out[i] = WorkerStatus{Status: WorkerPending, WorkerID: i}
		}
	}
	return out, nil
}
