// Package fault defines the operational error taxonomy shared by the
// queue, workers, coordinator and callback layers. Every failure that can
// reach a caller is classified with a Kind; the wire code of a Kind is what
// error callbacks report as errorCode.
package fault

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an operational failure.
type Kind string

const (
	// KindInvalidInput marks malformed scenarios, missing sources or bad
	// options. Not retryable.
	KindInvalidInput Kind = "INVALID_INPUT"
	// KindSourceUnavailable marks a source video that could not be fetched.
	KindSourceUnavailable Kind = "SOURCE_UNAVAILABLE"
	// KindRenderFailure marks a headless renderer fault or capture error.
	KindRenderFailure Kind = "RENDER_FAILURE"
	// KindEncodeFailure marks a nonzero encoder subprocess exit.
	KindEncodeFailure Kind = "ENCODE_FAILURE"
	// KindResourceExhausted marks a frame drop rate above the configured
	// ceiling or a predicted out-of-memory condition.
	KindResourceExhausted Kind = "RESOURCE_EXHAUSTED"
	// KindMergeFailure marks an invalid concat manifest or stream-copy error.
	KindMergeFailure Kind = "MERGE_FAILURE"
	// KindTimeout marks job-level or lease-level expiry.
	KindTimeout Kind = "TIMEOUT"
	// KindCancelled marks an explicit caller cancel.
	KindCancelled Kind = "CANCELLED"
	// KindCallbackFailure marks exhausted callback retries.
	KindCallbackFailure Kind = "CALLBACK_FAILURE"
	// KindStoreUnavailable marks a transient progress-store failure.
	KindStoreUnavailable Kind = "STORE_UNAVAILABLE"
	// KindInternal marks any unexpected condition.
	KindInternal Kind = "INTERNAL"
)

// Retryable reports whether a segment that failed with this kind may be
// attempted again by the coordinator.
func (k Kind) Retryable() bool {
	switch k {
	case KindRenderFailure, KindEncodeFailure, KindStoreUnavailable:
		return true
	default:
		return false
	}
}

// Error is a classified operational error. It wraps the root cause and
// carries optional structured details for the error callback.
type Error struct {
	Kind    Kind
	Message string
	JobID   string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error without a wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies an existing error. A nil err yields nil.
func Wrap(kind Kind, message string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithJob attaches the job id and returns the error for chaining.
func (e *Error) WithJob(jobID string) *Error {
	e.JobID = jobID
	return e
}

// WithDetail attaches one structured detail and returns the error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// KindOf extracts the Kind of an error chain. Unclassified errors report
// KindInternal; context cancellation reports KindCancelled; deadline
// expiry reports KindTimeout. A nil error has no kind and returns "".
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// DetailsOf returns the structured details of a classified error, or nil.
func DetailsOf(err error) map[string]any {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Details
	}
	return nil
}
