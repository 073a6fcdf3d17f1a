// Package worker renders one segment at a time: a producer drives the
// headless renderer frame by frame while a consumer feeds the captured
// frames to a streaming encoder, joined by a bounded frame queue.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/motionrender/render-api/internal/encoder"
	"github.com/motionrender/render-api/internal/fault"
	"github.com/motionrender/render-api/internal/pipeline"
	"github.com/motionrender/render-api/internal/planner"
	"github.com/motionrender/render-api/internal/progress"
	"github.com/motionrender/render-api/internal/renderer"
)

const (
	// progressEvery is the consumed-frame interval between worker
	// progress publications.
	progressEvery = 30
	// gcEvery triggers a light GC pass during long captures.
	gcEvery = 100
	// freeOSEvery returns freed memory to the OS on very long segments.
	freeOSEvery = 300

	// DefaultMaxDropRate is the largest tolerable fraction of dropped
	// frames per segment.
	DefaultMaxDropRate = 0.10
)

// EncodeSession is the slice of encoder.Session the worker drives.
type EncodeSession interface {
	Write(frame []byte) error
	Finalize() error
	Abort()
	FramesWritten() int
}

// EncoderPort opens encode sessions. *EncoderAdapter wraps the real
// encoder; tests substitute fakes.
type EncoderPort interface {
	Start(ctx context.Context, s encoder.Settings, outputPath string) (EncodeSession, error)
}

// EncoderAdapter adapts *encoder.Encoder to EncoderPort.
type EncoderAdapter struct {
	Enc *encoder.Encoder
}

func (a *EncoderAdapter) Start(ctx context.Context, s encoder.Settings, outputPath string) (EncodeSession, error) {
	return a.Enc.Start(ctx, s, outputPath)
}

// SegmentJob is everything needed to render one segment to disk.
type SegmentJob struct {
	JobID      string
	Segment    planner.Segment
	SourcePath string
	OutputPath string
	Width      int
	Height     int
	FPS        float64
	Quality    int
}

// Result summarizes a finished segment render.
type Result struct {
	FramesRendered int
	FramesDropped  int64
	OutputPath     string
}

// Worker renders segments. Safe for concurrent use; each RenderSegment
// call owns its own queue and sessions.
type Worker struct {
	renderers renderer.Factory
	encoders  EncoderPort
	governor  *pipeline.Governor
	publisher *progress.Publisher
	log       *slog.Logger

	maxDropRate float64
	queueFrames int
	queueBytes  int64
}

// Option configures a Worker.
type Option func(*Worker)

// WithMaxDropRate overrides the per-segment drop tolerance.
func WithMaxDropRate(rate float64) Option {
	return func(w *Worker) {
		if rate > 0 {
			w.maxDropRate = rate
		}
	}
}

// WithQueueBudgets overrides the frame queue's count and byte caps.
func WithQueueBudgets(frames int, bytes int64) Option {
	return func(w *Worker) {
		w.queueFrames = frames
		w.queueBytes = bytes
	}
}

// New creates a Worker.
func New(renderers renderer.Factory, encoders EncoderPort, governor *pipeline.Governor, publisher *progress.Publisher, log *slog.Logger, opts ...Option) *Worker {
	if log == nil {
		log = slog.Default()
	}
	w := &Worker{
		renderers:   renderers,
		encoders:    encoders,
		governor:    governor,
		publisher:   publisher,
		log:         log,
		maxDropRate: DefaultMaxDropRate,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// RenderSegment renders one segment to its output file. The producer
// seeks and captures frames while the consumer encodes them; both stop
// on the first error or on context cancellation. No internal retry; the
// coordinator owns retry policy.
func (w *Worker) RenderSegment(ctx context.Context, sj SegmentJob) (*Result, error) {
	seg := sj.Segment
	totalFrames := seg.EstimatedFrames
	if totalFrames <= 0 {
		totalFrames = int((seg.End - seg.Start) * sj.FPS)
	}
	if totalFrames <= 0 {
		return &Result{OutputPath: sj.OutputPath}, nil
	}

	session, err := w.renderers.Open(ctx, renderer.OpenOptions{
		SourcePath: sj.SourcePath,
		Width:      sj.Width,
		Height:     sj.Height,
		FPS:        sj.FPS,
	})
	if err != nil {
		return nil, fault.Wrap(fault.KindRenderFailure, "open renderer", err).WithJob(sj.JobID)
	}
	defer func() { _ = session.Close() }()

	if err := session.LoadCues(ctx, seg.Cues); err != nil {
		return nil, fault.Wrap(fault.KindRenderFailure, "load cues", err).WithJob(sj.JobID)
	}

	enc, err := w.encoders.Start(ctx, encoder.Settings{
		Width:   sj.Width,
		Height:  sj.Height,
		FPS:     sj.FPS,
		Quality: sj.Quality,
	}, sj.OutputPath)
	if err != nil {
		return nil, err
	}

	queue := pipeline.NewFrameQueueWith(w.queueFrames, w.queueBytes)
	w.publishWorker(ctx, sj, progress.WorkerProcessing, 0)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer queue.Close()
		return w.produce(gctx, session, queue, seg, sj.FPS, totalFrames)
	})
	g.Go(func() error {
		return w.consume(gctx, queue, enc, sj, totalFrames)
	})

	if err := g.Wait(); err != nil {
		enc.Abort()
		w.publishWorker(ctx, sj, progress.WorkerFailed, 0)
		return nil, err
	}

	if err := enc.Finalize(); err != nil {
		w.publishWorker(ctx, sj, progress.WorkerFailed, 0)
		return nil, err
	}

	stats := queue.Stats()
	if rate := stats.DropRate(); rate > w.maxDropRate {
		w.publishWorker(ctx, sj, progress.WorkerFailed, 0)
		return nil, fault.New(fault.KindResourceExhausted,
			fmt.Sprintf("dropped %.1f%% of frames, tolerance %.1f%%", rate*100, w.maxDropRate*100)).
			WithJob(sj.JobID).
			WithDetail("segment", seg.Index)
	}

	w.publishWorker(ctx, sj, progress.WorkerCompleted, 100)
	return &Result{
		FramesRendered: enc.FramesWritten(),
		FramesDropped:  stats.Dropped,
		OutputPath:     sj.OutputPath,
	}, nil
}

// produce seeks and captures every frame in the segment window, pushing
// into the queue under governor pacing.
func (w *Worker) produce(ctx context.Context, session renderer.Session, queue *pipeline.FrameQueue, seg planner.Segment, fps float64, totalFrames int) error {
	interval := 1.0 / fps
	for i := range totalFrames {
		if err := ctx.Err(); err != nil {
			return err
		}
		if w.governor != nil {
			if d := w.governor.Delay(); d > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(d):
				}
			}
		}

		pts := seg.Start + float64(i)*interval
		if err := session.Seek(ctx, pts); err != nil {
			return fault.Wrap(fault.KindRenderFailure, "seek", err).WithDetail("pts", pts)
		}
		data, err := session.Capture(ctx)
		if err != nil {
			return fault.Wrap(fault.KindRenderFailure, "capture frame", err).WithDetail("frame", i)
		}
		queue.Push(pipeline.Frame{Index: i, PTS: pts, Data: data})

		if n := i + 1; n%freeOSEvery == 0 {
			debug.FreeOSMemory()
		} else if n%gcEvery == 0 {
			runtime.GC()
		}
	}
	return nil
}

// consume drains the queue into the encoder, publishing progress and
// retuning the queue capacity at a fixed frame interval.
func (w *Worker) consume(ctx context.Context, queue *pipeline.FrameQueue, enc EncodeSession, sj SegmentJob, totalFrames int) error {
	consumed := 0
	for {
		frame, ok := queue.Pop(pipeline.DefaultPopTimeout)
		if !ok {
			if queue.Drained() {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			continue
		}
		if err := enc.Write(frame.Data); err != nil {
			return err
		}
		consumed++
		if consumed%progressEvery == 0 {
			pct := consumed * 100 / totalFrames
			w.publishWorker(ctx, sj, progress.WorkerProcessing, pct)
			if w.governor != nil {
				stats := queue.Stats()
				queue.Resize(w.governor.SuggestQueueSize(stats.Capacity, stats.DropRate()))
			}
		}
	}
}

// publishWorker mirrors worker state to the progress store. Failures are
// logged and swallowed; progress is advisory.
func (w *Worker) publishWorker(ctx context.Context, sj SegmentJob, state progress.WorkerState, pct int) {
	if w.publisher == nil {
		return
	}
	if err := w.publisher.PublishWorker(ctx, sj.JobID, sj.Segment.Index, state, pct); err != nil {
		w.log.Debug("worker progress publish failed",
			"jobId", sj.JobID, "segment", sj.Segment.Index, "error", err)
	}
}
