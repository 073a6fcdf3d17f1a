// Package callback delivers job notifications to the caller's endpoint.
// Payloads share a {jobId, status, timestamp} envelope; receivers must
// tolerate duplicates, so delivery is at-least-once with bounded retry.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/motionrender/render-api/internal/fault"
)

const (
	// DefaultRetries is the attempt budget per notification.
	DefaultRetries = 3
	// DefaultTimeout bounds each individual POST.
	DefaultTimeout = 30 * time.Second
)

// Payload is the wire shape of every callback. Status-specific fields
// are omitted when empty so each shape matches its contract exactly.
type Payload struct {
	JobID     string `json:"jobId"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`

	Progress *int   `json:"progress,omitempty"`
	Message  string `json:"message,omitempty"`

	DownloadURL string  `json:"downloadUrl,omitempty"`
	FileSize    int64   `json:"fileSize,omitempty"`
	Duration    float64 `json:"duration,omitempty"`

	ErrorCode    string         `json:"errorCode,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
}

// Emitter POSTs notifications with retry and exponential backoff.
type Emitter struct {
	client  *http.Client
	retries int
	timeout time.Duration
	log     *slog.Logger

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// New creates an Emitter. Non-positive retries or timeout fall back to
// defaults.
func New(retries int, timeout time.Duration, log *slog.Logger) *Emitter {
	if retries <= 0 {
		retries = DefaultRetries
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Emitter{
		client:  &http.Client{},
		retries: retries,
		timeout: timeout,
		log:     log,
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Progress sends a processing notification.
func (e *Emitter) Progress(ctx context.Context, url, jobID string, progress int, message string) error {
	p := e.envelope(jobID, "processing")
	p.Progress = &progress
	p.Message = message
	return e.send(ctx, url, p)
}

// Completed sends the terminal success notification.
func (e *Emitter) Completed(ctx context.Context, url, jobID, downloadURL string, fileSize int64, duration float64, message string) error {
	full := 100
	p := e.envelope(jobID, "completed")
	p.Progress = &full
	p.DownloadURL = downloadURL
	p.FileSize = fileSize
	p.Duration = duration
	p.Message = message
	return e.send(ctx, url, p)
}

// Failed sends the terminal failure notification. Cancelled jobs also
// arrive here, with the CANCELLED error code.
func (e *Emitter) Failed(ctx context.Context, url, jobID string, code fault.Kind, message string, details map[string]any) error {
	p := e.envelope(jobID, "failed")
	p.ErrorCode = string(code)
	p.ErrorMessage = message
	p.Details = details
	return e.send(ctx, url, p)
}

func (e *Emitter) envelope(jobID, status string) Payload {
	return Payload{
		JobID:     jobID,
		Status:    status,
		Timestamp: e.now().UTC().Format(time.RFC3339),
	}
}

// send POSTs the payload, retrying on any non-200 response or transport
// error with 2^attempt seconds between attempts.
func (e *Emitter) send(ctx context.Context, url string, p Payload) error {
	if url == "" {
		return nil
	}
	body, err := json.Marshal(p)
	if err != nil {
		return fault.Wrap(fault.KindCallbackFailure, "encode payload", err).WithJob(p.JobID)
	}

	var lastErr error
	for attempt := 1; attempt <= e.retries; attempt++ {
		lastErr = e.post(ctx, url, body)
		if lastErr == nil {
			return nil
		}
		e.log.Warn("callback attempt failed",
			"jobId", p.JobID, "status", p.Status, "attempt", attempt, "error", lastErr)
		if attempt < e.retries {
			if err := e.sleep(ctx, time.Duration(1<<attempt)*time.Second); err != nil {
				return fault.Wrap(fault.KindCallbackFailure, "callback aborted", err).WithJob(p.JobID)
			}
		}
	}
	return fault.Wrap(fault.KindCallbackFailure,
		fmt.Sprintf("callback not acknowledged after %d attempts", e.retries), lastErr).
		WithJob(p.JobID)
}

func (e *Emitter) post(ctx context.Context, url string, body []byte) error {
	attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("callback endpoint returned %d", resp.StatusCode)
	}
	return nil
}
