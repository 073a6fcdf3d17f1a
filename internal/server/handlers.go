package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/motionrender/render-api/internal/job"
	"github.com/motionrender/render-api/internal/metrics"
	"github.com/motionrender/render-api/internal/scenario"
)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	queue     job.Queue
	validator *validator.Validate
	logger    *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(queue job.Queue, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		queue:     queue,
		validator: validator.New(),
		logger:    logger,
	}
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// SubmitJob handles POST /jobs requests. The job is enqueued and picked
// up by the coordinator; the response only acknowledges acceptance.
func (h *Handlers) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_INPUT")
		return
	}

	j := newJobFromRequest(req)
	if err := j.Scenario.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_INPUT")
		return
	}

	if err := h.queue.Enqueue(r.Context(), j); err != nil {
		if errors.Is(err, job.ErrDuplicateJob) {
			writeError(w, http.StatusConflict, "job already exists", "DUPLICATE_JOB")
			return
		}
		h.logger.Error("failed to enqueue job",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusServiceUnavailable, "failed to enqueue job", "STORE_UNAVAILABLE")
		return
	}

	metrics.JobsSubmittedTotal.Inc()
	h.logger.Info("job accepted",
		slog.String("job_id", j.ID),
		slog.String("video_url", j.VideoURL),
		slog.Int("cues", len(j.Scenario.Cues)),
	)

	writeJSON(w, http.StatusAccepted, SubmitJobResponse{
		JobID:  j.ID,
		Status: string(j.Status),
	})
}

// newJobFromRequest maps the submission DTO onto the domain aggregate.
func newJobFromRequest(req SubmitJobRequest) *job.Job {
	var j *job.Job
	if req.JobID != "" {
		j = job.NewWithID(req.JobID)
	} else {
		j = job.New()
	}
	j.VideoURL = req.VideoURL
	j.CallbackURL = req.CallbackURL
	j.Options = job.Options{
		Width:   req.Options.Width,
		Height:  req.Options.Height,
		FPS:     req.Options.FPS,
		Quality: req.Options.Quality,
		Format:  req.Options.Format,
	}
	for _, c := range req.Scenario.Cues {
		j.Scenario.Cues = append(j.Scenario.Cues, scenario.Cue{
			Start:     c.Start,
			End:       c.End,
			Text:      c.Text,
			Style:     c.Style,
			Animation: c.Animation,
			Emotion:   c.Emotion,
		})
	}
	return j
}

// GetJob handles GET /jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	found, err := h.queue.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusServiceUnavailable, "failed to get job", "STORE_UNAVAILABLE")
		return
	}

	resp := JobResponse{
		JobID:        found.ID,
		Status:       string(found.Status),
		Progress:     found.Progress,
		ErrorCode:    found.ErrorCode,
		ErrorMessage: found.ErrorMessage,
		CreatedAt:    found.CreatedAt.Format(time.RFC3339),
	}
	if !found.CompletedAt.IsZero() {
		resp.CompletedAt = found.CompletedAt.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

// CancelJob handles DELETE /jobs/{id} requests. Pending jobs cancel
// immediately; in-flight jobs are flagged and cancel at the
// coordinator's next checkpoint.
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	found, err := h.queue.Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		writeError(w, http.StatusServiceUnavailable, "failed to get job", "STORE_UNAVAILABLE")
		return
	}
	if found.IsTerminal() {
		writeError(w, http.StatusConflict, "job already finished", "JOB_FINISHED")
		return
	}

	if err := h.queue.Cancel(r.Context(), jobID); err != nil {
		h.logger.Error("failed to cancel job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusServiceUnavailable, "failed to cancel job", "STORE_UNAVAILABLE")
		return
	}

	h.logger.Info("job cancel requested", slog.String("job_id", jobID))
	current, err := h.queue.Get(r.Context(), jobID)
	status := string(job.StatusCancelled)
	if err == nil && !current.IsTerminal() {
		status = "cancelling"
	}
	writeJSON(w, http.StatusAccepted, SubmitJobResponse{JobID: jobID, Status: status})
}

// QueueStatus handles GET /queue/status requests.
func (h *Handlers) QueueStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.queue.Status(r.Context())
	if err != nil {
		h.logger.Error("failed to read queue status",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusServiceUnavailable, "failed to read queue status", "STORE_UNAVAILABLE")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
