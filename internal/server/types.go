// Package server provides the HTTP API for submitting and tracking
// render jobs. It includes handlers, middleware, routes, and DTOs
// separated from domain types.
package server

// CuePayload is one timed subtitle cue in a submission.
type CuePayload struct {
	// Start is the cue start time in seconds.
	Start float64 `json:"start" validate:"gte=0"`
	// End is the cue end time in seconds; must be after Start.
	End float64 `json:"end" validate:"required,gtfield=Start"`
	// Text is the subtitle text to render.
	Text string `json:"text"`
	// Style is an opaque styling descriptor passed to the renderer.
	Style map[string]any `json:"style,omitempty"`
	// Animation is an opaque animation descriptor passed to the renderer.
	Animation map[string]any `json:"animation,omitempty"`
	// Emotion is a coarse emotion hint.
	Emotion string `json:"emotion,omitempty"`
}

// ScenarioPayload is the cue list of a submission.
type ScenarioPayload struct {
	Cues []CuePayload `json:"cues" validate:"dive"`
}

// OptionsPayload holds the requested output settings.
type OptionsPayload struct {
	Width   int     `json:"width" validate:"omitempty,min=16,max=4096"`
	Height  int     `json:"height" validate:"omitempty,min=16,max=4096"`
	FPS     float64 `json:"fps" validate:"omitempty,gt=0,lte=120"`
	Quality int     `json:"quality" validate:"omitempty,min=0,max=100"`
	Format  string  `json:"format" validate:"omitempty,oneof=mp4"`
}

// SubmitJobRequest is the HTTP request body for submitting a render job.
type SubmitJobRequest struct {
	// JobID is the caller-supplied identifier; generated when absent.
	JobID string `json:"jobId" validate:"omitempty,max=128"`
	// VideoURL locates the source video (http(s), s3:// or local path).
	VideoURL string `json:"videoUrl" validate:"required,max=2048"`
	// Scenario holds the timed subtitle cues.
	Scenario ScenarioPayload `json:"scenario"`
	// Options are the requested output settings.
	Options OptionsPayload `json:"options"`
	// CallbackURL receives progress and terminal notifications.
	CallbackURL string `json:"callbackUrl" validate:"omitempty,url"`
}

// SubmitJobResponse is the HTTP response after accepting a job.
type SubmitJobResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

// JobResponse is the HTTP response for job details.
type JobResponse struct {
	JobID        string `json:"jobId"`
	Status       string `json:"status"`
	Progress     int    `json:"progress"`
	ErrorCode    string `json:"errorCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	CreatedAt    string `json:"createdAt"`
	CompletedAt  string `json:"completedAt,omitempty"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
