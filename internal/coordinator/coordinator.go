// Package coordinator owns the lifecycle of leased jobs: validate,
// fetch, plan, fan segments out to workers with bounded retries, merge,
// upload, and notify. Terminal state and the final callback are decided
// here and nowhere else.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/motionrender/render-api/internal/callback"
	"github.com/motionrender/render-api/internal/fault"
	"github.com/motionrender/render-api/internal/job"
	"github.com/motionrender/render-api/internal/merger"
	"github.com/motionrender/render-api/internal/metrics"
	"github.com/motionrender/render-api/internal/planner"
	"github.com/motionrender/render-api/internal/progress"
	"github.com/motionrender/render-api/internal/storage"
	"github.com/motionrender/render-api/internal/worker"
)

// Progress phase boundaries. Segment rendering owns the 20-80 band.
const (
	phaseValidated = 5
	phaseFetched   = 20
	phaseMerging   = 80
	phaseUploading = 90
	phaseDone      = 100
)

// Default output settings applied when the submission leaves them unset.
const (
	defaultWidth   = 1920
	defaultHeight  = 1080
	defaultFPS     = 30.0
	defaultQuality = 85
)

// errCancelRequested marks job-context cancellation caused by an
// explicit caller cancel, distinguishing it from the hard timeout.
var errCancelRequested = errors.New("cancel requested by caller")

// Config tunes coordinator behavior. Zero values fall back to defaults.
type Config struct {
	MaxSegmentRetries   int
	RenderTimeout       time.Duration
	PollInterval        time.Duration
	ReapInterval        time.Duration
	AcquireTimeout      time.Duration
	CancelPollInterval  time.Duration
	CallbackMinInterval time.Duration
	AllowPartialMerge   bool
}

func (c Config) withDefaults() Config {
	if c.MaxSegmentRetries <= 0 {
		c.MaxSegmentRetries = 2
	}
	if c.RenderTimeout <= 0 {
		c.RenderTimeout = 30 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = 30 * time.Second
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 30 * time.Second
	}
	if c.CancelPollInterval <= 0 {
		c.CancelPollInterval = 500 * time.Millisecond
	}
	if c.CallbackMinInterval <= 0 {
		c.CallbackMinInterval = 2 * time.Second
	}
	return c
}

// SegmentRenderer is the worker port.
type SegmentRenderer interface {
	RenderSegment(ctx context.Context, sj worker.SegmentJob) (*worker.Result, error)
}

// Joiner is the merger port.
type Joiner interface {
	Merge(ctx context.Context, segments []merger.Input, outputPath string, allowPartial bool) (*merger.Result, error)
}

// Notifier is the callback port.
type Notifier interface {
	Progress(ctx context.Context, url, jobID string, progress int, message string) error
	Completed(ctx context.Context, url, jobID, downloadURL string, fileSize int64, duration float64, message string) error
	Failed(ctx context.Context, url, jobID string, code fault.Kind, message string, details map[string]any) error
}

// Compile-time check that the real emitter satisfies the port.
var _ Notifier = (*callback.Emitter)(nil)

// Coordinator leases jobs and drives them to a terminal state.
type Coordinator struct {
	queue     job.Queue
	store     storage.Store
	pool      *worker.Pool
	renderers SegmentRenderer
	planner   *planner.Planner
	joiner    Joiner
	notifier  Notifier
	publisher *progress.Publisher
	log       *slog.Logger
	cfg       Config

	sleep func(context.Context, time.Duration) error
	now   func() time.Time

	wg sync.WaitGroup
}

// New creates a Coordinator.
func New(queue job.Queue, store storage.Store, pool *worker.Pool, renderers SegmentRenderer, pln *planner.Planner, joiner Joiner, notifier Notifier, publisher *progress.Publisher, cfg Config, log *slog.Logger) *Coordinator {
	if pln == nil {
		pln = planner.New(planner.DefaultOpts())
	}
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		queue:     queue,
		store:     store,
		pool:      pool,
		renderers: renderers,
		planner:   pln,
		joiner:    joiner,
		notifier:  notifier,
		publisher: publisher,
		log:       log,
		cfg:       cfg.withDefaults(),
		sleep:     sleepCtx,
		now:       time.Now,
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

// Run polls the queue for leases and reaps expired ones until the
// context is cancelled. In-flight jobs are waited for on the way out.
func (c *Coordinator) Run(ctx context.Context) {
	poll := time.NewTicker(c.cfg.PollInterval)
	defer poll.Stop()
	reap := time.NewTicker(c.cfg.ReapInterval)
	defer reap.Stop()

	for {
		select {
		case <-ctx.Done():
			c.wg.Wait()
			return
		case <-reap.C:
			if requeued, err := c.queue.ReapExpired(ctx); err != nil {
				c.log.Warn("lease reap failed", "error", err)
			} else if len(requeued) > 0 {
				c.log.Info("requeued expired leases", "jobs", requeued)
			}
		case <-poll.C:
			c.drainLeases(ctx)
		}
	}
}

// drainLeases takes every currently leasable job and processes each in
// its own goroutine. The queue's in-flight cap bounds the fan-out.
func (c *Coordinator) drainLeases(ctx context.Context) {
	for {
		j, err := c.queue.Lease(ctx)
		if err != nil {
			c.log.Warn("lease failed", "error", err)
			return
		}
		if j == nil {
			return
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.Process(ctx, j)
		}()
	}
}

// Process drives one leased job to a terminal state. Exported for tests
// and for single-shot invocations.
func (c *Coordinator) Process(ctx context.Context, j *job.Job) {
	started := c.now()
	metrics.JobsInFlight.Inc()
	defer metrics.JobsInFlight.Dec()

	log := c.log.With("jobId", j.ID)
	log.Info("job leased", "videoUrl", j.VideoURL)

	jobCtx, cancelJob := context.WithTimeoutCause(ctx, c.cfg.RenderTimeout,
		fault.New(fault.KindTimeout, "rendering timeout exceeded"))
	defer cancelJob()

	cancelCtx, cancelCause := context.WithCancelCause(jobCtx)
	watchDone := make(chan struct{})
	go c.watchCancel(cancelCtx, j.ID, cancelCause, watchDone)

	outcome, err := c.renderJob(cancelCtx, j, log)
	cancelCause(nil)
	<-watchDone

	c.finish(ctx, j, outcome, err, log)
	c.store.CleanupJob(j.ID)
	metrics.JobDuration.Observe(c.now().Sub(started).Seconds())
}

// watchCancel polls the shared job record and cancels the job context
// when the caller has requested cancellation.
func (c *Coordinator) watchCancel(ctx context.Context, jobID string, cancelCause context.CancelCauseFunc, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.cfg.CancelPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current, err := c.queue.Get(ctx, jobID)
			if err != nil {
				continue
			}
			if current.CancelRequested {
				cancelCause(errCancelRequested)
				return
			}
		}
	}
}

// outcome carries the successful render result to the finish step.
type outcome struct {
	downloadURL string
	fileSize    int64
	duration    float64
	partial     bool
}

// renderJob runs the pipeline up to upload. The error kind decides the
// terminal disposition in finish.
func (c *Coordinator) renderJob(ctx context.Context, j *job.Job, log *slog.Logger) (*outcome, error) {
	if j.VideoURL == "" {
		return nil, fault.New(fault.KindInvalidInput, "empty source video URL").WithJob(j.ID)
	}
	if err := j.Scenario.Validate(); err != nil {
		return nil, fault.Wrap(fault.KindInvalidInput, "invalid scenario", err).WithJob(j.ID)
	}
	duration := j.Scenario.Duration()
	c.publishProgress(ctx, j, phaseValidated)

	if _, err := c.store.CreateJobDir(j.ID); err != nil {
		return nil, err
	}
	srcPath, err := c.store.FetchSource(ctx, j.ID, j.VideoURL)
	if err != nil {
		return nil, c.classify(ctx, err)
	}
	c.publishProgress(ctx, j, phaseFetched)

	slots, err := c.pool.AcquireUpTo(ctx, j.ID, c.pool.Size(), c.cfg.AcquireTimeout)
	if err != nil {
		if errors.Is(err, worker.ErrPoolExhausted) {
			return nil, fault.Wrap(fault.KindResourceExhausted, "acquire workers", err).WithJob(j.ID)
		}
		return nil, c.classify(ctx, err)
	}
	defer c.pool.ReleaseAll(slots)
	metrics.WorkersBusy.Add(float64(len(slots)))
	defer metrics.WorkersBusy.Sub(float64(len(slots)))

	segments := c.planner.Plan(&j.Scenario, duration, len(slots))
	log.Info("job planned", "segments", len(segments), "workers", len(slots), "duration", duration)

	results, renderErr := c.renderSegments(ctx, j, srcPath, segments, len(slots))
	if renderErr != nil {
		return nil, c.classify(ctx, renderErr)
	}

	c.publishProgress(ctx, j, phaseMerging)
	inputs := make([]merger.Input, 0, len(results))
	for _, r := range results {
		inputs = append(inputs, merger.Input{Path: r.OutputPath, Frames: r.FramesRendered})
	}
	finalPath := c.finalPath(j.ID)
	merged, err := c.joiner.Merge(ctx, inputs, finalPath, c.cfg.AllowPartialMerge)
	if err != nil {
		return nil, c.classify(ctx, err)
	}

	c.publishProgress(ctx, j, phaseUploading)
	url, err := c.store.UploadResult(ctx, j.ID, merged.OutputPath)
	if err != nil {
		return nil, c.classify(ctx, err)
	}

	out := &outcome{
		downloadURL: url,
		fileSize:    merged.FileSize,
		duration:    merged.Duration,
		partial:     merged.Partial,
	}
	if out.duration == 0 {
		out.duration = duration
	}
	return out, nil
}

// finalPath resolves the merged output location for a job.
func (c *Coordinator) finalPath(jobID string) string {
	type layouter interface{ Layout() storage.Layout }
	if l, ok := c.store.(layouter); ok {
		return l.Layout().FinalPath(jobID)
	}
	return storage.Layout{Root: "/tmp/render"}.FinalPath(jobID)
}

// renderSegments fans segments out to workers, retrying each failed
// segment with exponential backoff before giving up on the job.
func (c *Coordinator) renderSegments(ctx context.Context, j *job.Job, srcPath string, segments []planner.Segment, parallelism int) ([]*worker.Result, error) {
	opts := j.Options
	if opts.Width <= 0 {
		opts.Width = defaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = defaultHeight
	}
	if opts.FPS <= 0 {
		opts.FPS = defaultFPS
	}
	if opts.Quality <= 0 {
		opts.Quality = defaultQuality
	}

	limiter := rate.NewLimiter(rate.Every(c.cfg.CallbackMinInterval), 1)
	results := make([]*worker.Result, len(segments))
	var completed int
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, seg := range segments {
		g.Go(func() error {
			result, err := c.renderWithRetry(gctx, j, srcPath, seg, opts)
			if err != nil {
				return err
			}
			metrics.FramesRenderedTotal.Add(float64(result.FramesRendered))
			metrics.FramesDroppedTotal.Add(float64(result.FramesDropped))

			mu.Lock()
			results[i] = result
			completed++
			pct := phaseFetched + 60*completed/len(segments)
			mu.Unlock()

			c.publishProgress(gctx, j, pct)
			if limiter.Allow() {
				c.notifyProgress(gctx, j, pct,
					fmt.Sprintf("rendered %d of %d segments", completed, len(segments)))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// renderWithRetry runs one segment with up to MaxSegmentRetries retries
// for retryable kinds, backing off 2^attempt seconds between attempts.
func (c *Coordinator) renderWithRetry(ctx context.Context, j *job.Job, srcPath string, seg planner.Segment, opts job.Options) (*worker.Result, error) {
	sj := worker.SegmentJob{
		JobID:      j.ID,
		Segment:    seg,
		SourcePath: srcPath,
		OutputPath: c.segmentPath(j.ID, seg.Index),
		Width:      opts.Width,
		Height:     opts.Height,
		FPS:        opts.FPS,
		Quality:    opts.Quality,
	}

	var lastErr error
	for attempt := 1; attempt <= 1+c.cfg.MaxSegmentRetries; attempt++ {
		result, err := c.renderers.RenderSegment(ctx, sj)
		if err == nil {
			return result, nil
		}
		lastErr = err
		kind := fault.KindOf(err)
		metrics.SegmentFailuresTotal.WithLabelValues(string(kind)).Inc()
		if !kind.Retryable() || ctx.Err() != nil {
			return nil, err
		}
		if attempt <= c.cfg.MaxSegmentRetries {
			metrics.SegmentRetriesTotal.Inc()
			c.log.Warn("segment render failed, retrying",
				"jobId", j.ID, "segment", seg.Index, "attempt", attempt, "error", err)
			if err := c.sleep(ctx, time.Duration(1<<attempt)*time.Second); err != nil {
				return nil, err
			}
		}
	}
	return nil, lastErr
}

// segmentPath resolves a segment's output file. Paths are keyed by the
// segment index, which stays unique when the plan holds more segments
// than workers.
func (c *Coordinator) segmentPath(jobID string, segmentIdx int) string {
	type layouter interface{ Layout() storage.Layout }
	if l, ok := c.store.(layouter); ok {
		return l.Layout().SegmentPath(jobID, segmentIdx)
	}
	return storage.Layout{Root: "/tmp/render"}.SegmentPath(jobID, segmentIdx)
}

// classify maps context expiry onto the job-level kinds; other errors
// pass through with their own kind.
func (c *Coordinator) classify(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); cause != nil {
		if errors.Is(cause, errCancelRequested) {
			return fault.Wrap(fault.KindCancelled, "job cancelled", err)
		}
		if f := (*fault.Error)(nil); errors.As(cause, &f) && f.Kind == fault.KindTimeout {
			return fault.Wrap(fault.KindTimeout, "job timed out", err)
		}
	}
	return err
}

// finish applies the terminal disposition and emits exactly one terminal
// callback. Callback failures never roll the state back.
func (c *Coordinator) finish(ctx context.Context, j *job.Job, out *outcome, renderErr error, log *slog.Logger) {
	if renderErr == nil {
		if err := c.queue.Complete(ctx, j.ID); err != nil {
			log.Error("complete failed", "error", err)
		}
		metrics.JobsCompletedTotal.WithLabelValues(string(job.StatusCompleted)).Inc()
		c.mirrorJob(ctx, j.ID, string(job.StatusCompleted), phaseDone)
		log.Info("job completed",
			"downloadUrl", out.downloadURL, "fileSize", out.fileSize, "partial", out.partial)

		msg := ""
		if out.partial {
			msg = "completed with partial output"
		}
		if err := c.notifier.Completed(ctx, j.CallbackURL, j.ID, out.downloadURL, out.fileSize, out.duration, msg); err != nil {
			metrics.CallbackFailuresTotal.Inc()
			log.Warn("completion callback failed", "error", err)
		}
		return
	}

	kind := fault.KindOf(renderErr)
	switch kind {
	case fault.KindCancelled:
		if err := c.queue.AckCancel(ctx, j.ID); err != nil {
			log.Error("cancel ack failed", "error", err)
		}
		metrics.JobsCompletedTotal.WithLabelValues(string(job.StatusCancelled)).Inc()
		c.mirrorJob(ctx, j.ID, string(job.StatusCancelled), j.GetProgress())
		log.Info("job cancelled")
	default:
		if err := c.queue.Fail(ctx, j.ID, kind, renderErr.Error()); err != nil {
			log.Error("fail transition failed", "error", err)
		}
		metrics.JobsCompletedTotal.WithLabelValues(string(job.StatusFailed)).Inc()
		c.mirrorJob(ctx, j.ID, string(job.StatusFailed), j.GetProgress())
		log.Error("job failed", "kind", kind, "error", renderErr)
	}

	if err := c.notifier.Failed(ctx, j.CallbackURL, j.ID, kind, renderErr.Error(), fault.DetailsOf(renderErr)); err != nil {
		metrics.CallbackFailuresTotal.Inc()
		log.Warn("error callback failed", "error", err)
	}
}

// publishProgress advances the job record and mirrors it to the progress
// store. Store failures degrade reporting, never the job.
func (c *Coordinator) publishProgress(ctx context.Context, j *job.Job, pct int) {
	j.UpdateProgress(pct)
	if err := c.queue.SetProgress(ctx, j.ID, pct); err != nil {
		c.log.Debug("job record update failed", "jobId", j.ID, "error", err)
	}
	c.mirrorJob(ctx, j.ID, string(j.GetStatus()), j.GetProgress())
}

// mirrorJob copies job state into the progress store.
func (c *Coordinator) mirrorJob(ctx context.Context, jobID, status string, pct int) {
	if c.publisher == nil {
		return
	}
	err := c.publisher.PublishJob(ctx, jobID, map[string]any{
		"jobId":    jobID,
		"status":   status,
		"progress": pct,
	})
	if err != nil {
		c.log.Debug("progress publish failed", "jobId", jobID, "error", err)
	}
}

// notifyProgress sends a throttled progress callback.
func (c *Coordinator) notifyProgress(ctx context.Context, j *job.Job, pct int, message string) {
	if err := c.notifier.Progress(ctx, j.CallbackURL, j.ID, pct, message); err != nil {
		c.log.Warn("progress callback failed", "jobId", j.ID, "error", err)
	}
}
