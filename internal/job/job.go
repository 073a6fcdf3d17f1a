// Package job provides the render Job aggregate and the durable job queue
// with lease semantics. A job owns one source video, one subtitle scenario
// and one set of output options; the queue hands exclusive in-flight
// ownership to a coordinator via Lease.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/motionrender/render-api/internal/fault"
	"github.com/motionrender/render-api/internal/job/id"
	"github.com/motionrender/render-api/internal/scenario"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusQueued indicates the job is waiting for a coordinator lease.
	StatusQueued Status = "queued"
	// StatusProcessing indicates the job is owned by a coordinator.
	StatusProcessing Status = "processing"
	// StatusCompleted indicates the job finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed indicates the job terminated with an error.
	StatusFailed Status = "failed"
	// StatusCancelled indicates the job was cancelled by the caller.
	StatusCancelled Status = "cancelled"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusQueued:     {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted:  {},
	StatusFailed:     {},
	StatusCancelled:  {},
}

func canTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Options are the caller-requested output settings.
type Options struct {
	Width   int     `json:"width"`
	Height  int     `json:"height"`
	FPS     float64 `json:"fps"`
	Quality int     `json:"quality"`
	Format  string  `json:"format"`
}

// Job represents one render job aggregate. All mutators are thread-safe;
// reads of a shared instance should go through Clone.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string `json:"jobId"`
	// VideoURL locates the source video (http(s) or s3://).
	VideoURL string `json:"videoUrl"`
	// Scenario holds the timed subtitle cues for the overlay.
	Scenario scenario.Scenario `json:"scenario"`
	// Options are the requested output settings.
	Options Options `json:"options"`
	// CallbackURL receives progress and terminal notifications.
	CallbackURL string `json:"callbackUrl"`

	Status Status `json:"status"`
	// Progress is the overall completion percentage, monotonically
	// non-decreasing over the job's lifetime.
	Progress int `json:"progress"`
	// CancelRequested is set when the caller cancels an in-flight job;
	// the owning coordinator honors it at its next checkpoint.
	CancelRequested bool `json:"cancelRequested,omitempty"`

	ErrorCode    string `json:"errorCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`

	CreatedAt   time.Time `json:"createdAt"`
	StartedAt   time.Time `json:"startedAt,omitzero"`
	CompletedAt time.Time `json:"completedAt,omitzero"`
}

// New creates a queued Job with a generated id.
func New() *Job {
	return NewWithID(id.Generate())
}

// NewWithID creates a queued Job with the given id. Used when the caller
// supplies its own job identifier.
func NewWithID(jobID string) *Job {
	return &Job{
		ID:        jobID,
		Status:    StatusQueued,
		CreatedAt: time.Now().UTC(),
	}
}

// TransitionTo attempts to change the job status, stamping StartedAt and
// CompletedAt as appropriate. Returns ErrInvalidTransition when the move
// is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(status)
}

func (j *Job) transitionLocked(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}
	j.Status = status
	now := time.Now().UTC()
	switch status {
	case StatusProcessing:
		j.StartedAt = now
	case StatusCompleted, StatusFailed, StatusCancelled:
		j.CompletedAt = now
		if status == StatusCompleted {
			j.Progress = 100
		}
	}
	return nil
}

// Start moves the job to processing.
func (j *Job) Start() error { return j.TransitionTo(StatusProcessing) }

// Complete moves the job to completed and forces progress to 100.
func (j *Job) Complete() error { return j.TransitionTo(StatusCompleted) }

// Fail moves the job to failed, recording the taxonomy kind and message.
func (j *Job) Fail(kind fault.Kind, message string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusFailed); err != nil {
		return err
	}
	j.ErrorCode = string(kind)
	j.ErrorMessage = message
	return nil
}

// Cancel moves the job to cancelled.
func (j *Job) Cancel() error { return j.TransitionTo(StatusCancelled) }

// RequestCancel marks an in-flight job for cooperative cancellation.
func (j *Job) RequestCancel() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.CancelRequested = true
}

// UpdateProgress raises the progress percentage. Values below the current
// progress are ignored so observed progress never decreases; values are
// clamped to [0, 100].
func (j *Job) UpdateProgress(progress int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if progress > 100 {
		progress = 100
	}
	if progress > j.Progress {
		j.Progress = progress
	}
}

// GetStatus returns the current job status.
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// GetProgress returns the current progress percentage.
func (j *Job) GetProgress() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Progress
}

// IsTerminal reports whether the job reached a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status == StatusCompleted || j.Status == StatusFailed || j.Status == StatusCancelled
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	clone := &Job{
		ID:              j.ID,
		VideoURL:        j.VideoURL,
		Options:         j.Options,
		CallbackURL:     j.CallbackURL,
		Status:          j.Status,
		Progress:        j.Progress,
		CancelRequested: j.CancelRequested,
		ErrorCode:       j.ErrorCode,
		ErrorMessage:    j.ErrorMessage,
		CreatedAt:       j.CreatedAt,
		StartedAt:       j.StartedAt,
		CompletedAt:     j.CompletedAt,
	}
	clone.Scenario.Cues = make([]scenario.Cue, len(j.Scenario.Cues))
	copy(clone.Scenario.Cues, j.Scenario.Cues)
	if j.Scenario.Metadata != nil {
		clone.Scenario.Metadata = make(map[string]any, len(j.Scenario.Metadata))
		for k, v := range j.Scenario.Metadata {
			clone.Scenario.Metadata[k] = v
		}
	}
	return clone
}
