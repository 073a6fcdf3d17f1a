package worker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/motionrender/render-api/internal/encoder"
	"github.com/motionrender/render-api/internal/fault"
	"github.com/motionrender/render-api/internal/pipeline"
	"github.com/motionrender/render-api/internal/planner"
	"github.com/motionrender/render-api/internal/progress"
	"github.com/motionrender/render-api/internal/renderer"
	"github.com/motionrender/render-api/internal/scenario"
)

type stubSampler struct {
	sample pipeline.Sample
}

func (s stubSampler) Sample() (pipeline.Sample, error) { return s.sample, nil }

type fakeSession struct {
	mu         sync.Mutex
	cues       []scenario.Cue
	captures   int
	closed     bool
	captureErr error
	seekErr    error
}

func (s *fakeSession) LoadCues(_ context.Context, cues []scenario.Cue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cues = cues
	return nil
}

func (s *fakeSession) Seek(_ context.Context, _ float64) error { return s.seekErr }

func (s *fakeSession) Capture(_ context.Context) ([]byte, error) {
	if s.captureErr != nil {
		return nil, s.captureErr
	}
	s.mu.Lock()
	s.captures++
	s.mu.Unlock()
	return []byte("png-data"), nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakeFactory struct {
	session *fakeSession
	openErr error
}

func (f *fakeFactory) Open(_ context.Context, _ renderer.OpenOptions) (renderer.Session, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.session, nil
}

type fakeEncodeSession struct {
	mu        sync.Mutex
	frames    int
	aborted   bool
	finalized bool
	writeErr  error
	finalErr  error
}

func (s *fakeEncodeSession) Write(_ []byte) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	s.mu.Lock()
	s.frames++
	s.mu.Unlock()
	return nil
}

func (s *fakeEncodeSession) Finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalized = true
	return s.finalErr
}

func (s *fakeEncodeSession) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted = true
}

func (s *fakeEncodeSession) FramesWritten() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

type fakeEncoderPort struct {
	session  *fakeEncodeSession
	startErr error
}

func (f *fakeEncoderPort) Start(_ context.Context, _ encoder.Settings, _ string) (EncodeSession, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	return f.session, nil
}

func segmentJob(frames int) SegmentJob {
	return SegmentJob{
		JobID: "job-1",
		Segment: planner.Segment{
			Index:           0,
			WorkerID:        0,
			Start:           0,
			End:             float64(frames) / 30.0,
			EstimatedFrames: frames,
		},
		SourcePath: "/tmp/src.mp4",
		OutputPath: "/tmp/segment_0.mp4",
		Width:      1280,
		Height:     720,
		FPS:        30,
		Quality:    85,
	}
}

func TestRenderSegment_HappyPath(t *testing.T) {
	session := &fakeSession{}
	encSession := &fakeEncodeSession{}
	store := progress.NewMemoryStore()
	w := New(
		&fakeFactory{session: session},
		&fakeEncoderPort{session: encSession},
		nil,
		progress.NewPublisher(store),
		nil,
	)

	result, err := w.RenderSegment(context.Background(), segmentJob(60))
	require.NoError(t, err)
	assert.Equal(t, 60, result.FramesRendered)
	assert.Equal(t, int64(0), result.FramesDropped)
	assert.Equal(t, 60, session.captures)
	assert.True(t, session.closed, "renderer released")
	assert.True(t, encSession.finalized)
	assert.False(t, encSession.aborted)

	statuses, err := progress.NewPublisher(store).WorkerStatuses(context.Background(), "job-1", 1)
	require.NoError(t, err)
	assert.Equal(t, progress.WorkerCompleted, statuses[0].Status)
	assert.Equal(t, 100, statuses[0].Progress)
}

func TestRenderSegment_CaptureFailure(t *testing.T) {
	session := &fakeSession{captureErr: errors.New("renderer crashed")}
	encSession := &fakeEncodeSession{}
	w := New(&fakeFactory{session: session}, &fakeEncoderPort{session: encSession}, nil, nil, nil)

	_, err := w.RenderSegment(context.Background(), segmentJob(30))
	require.Error(t, err)
	assert.Equal(t, fault.KindRenderFailure, fault.KindOf(err))
	assert.True(t, encSession.aborted, "encoder aborted on render failure")
	assert.True(t, session.closed)
}

func TestRenderSegment_EncodeWriteFailure(t *testing.T) {
	session := &fakeSession{}
	encSession := &fakeEncodeSession{
		writeErr: fault.New(fault.KindEncodeFailure, "broken pipe"),
	}
	w := New(&fakeFactory{session: session}, &fakeEncoderPort{session: encSession}, nil, nil, nil)

	_, err := w.RenderSegment(context.Background(), segmentJob(30))
	require.Error(t, err)
	assert.Equal(t, fault.KindEncodeFailure, fault.KindOf(err))
	assert.True(t, session.closed)
}

func TestRenderSegment_OpenFailure(t *testing.T) {
	w := New(&fakeFactory{openErr: errors.New("no renderer")}, &fakeEncoderPort{session: &fakeEncodeSession{}}, nil, nil, nil)

	_, err := w.RenderSegment(context.Background(), segmentJob(30))
	require.Error(t, err)
	assert.Equal(t, fault.KindRenderFailure, fault.KindOf(err))
}

func TestRenderSegment_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	session := &fakeSession{}
	encSession := &fakeEncodeSession{}
	w := New(&fakeFactory{session: session}, &fakeEncoderPort{session: encSession}, nil, nil, nil)

	_, err := w.RenderSegment(ctx, segmentJob(30))
	require.Error(t, err)
	assert.Equal(t, fault.KindCancelled, fault.KindOf(err))
	assert.True(t, encSession.aborted)
}

func TestRenderSegment_DropRateCeiling(t *testing.T) {
	// A one-byte budget rejects every captured frame, so the segment
	// finishes with a drop rate over the tolerance.
	session := &fakeSession{}
	encSession := &fakeEncodeSession{}
	w := New(
		&fakeFactory{session: session},
		&fakeEncoderPort{session: encSession},
		nil, nil, nil,
		WithQueueBudgets(0, 1),
	)

	_, err := w.RenderSegment(context.Background(), segmentJob(30))
	require.Error(t, err)
	assert.Equal(t, fault.KindResourceExhausted, fault.KindOf(err))
	assert.Equal(t, 0, encSession.FramesWritten())
}

func TestRenderSegment_ProgressKeyedBySegmentIndex(t *testing.T) {
	store := progress.NewMemoryStore()
	w := New(
		&fakeFactory{session: &fakeSession{}},
		&fakeEncoderPort{session: &fakeEncodeSession{}},
		nil,
		progress.NewPublisher(store),
		nil,
	)

	// Plans can hold more segments than workers, so segment index and
	// worker id diverge; progress follows the segment.
	sj := segmentJob(30)
	sj.Segment.Index = 2
	sj.Segment.WorkerID = 0

	_, err := w.RenderSegment(context.Background(), sj)
	require.NoError(t, err)

	statuses, err := progress.NewPublisher(store).WorkerStatuses(context.Background(), "job-1", 3)
	require.NoError(t, err)
	assert.Equal(t, progress.WorkerCompleted, statuses[2].Status)
	assert.Equal(t, progress.WorkerPending, statuses[0].Status)
}

func TestConsume_ShrinksQueueUnderMemoryPressure(t *testing.T) {
	// RSS three times over a 1 GiB budget; the governor should suggest a
	// smaller queue and the consumer apply it.
	gov := pipeline.NewGovernor(stubSampler{pipeline.Sample{RSSBytes: 3 << 30}}, 1024, 80, nil)
	gov.Observe()

	w := New(
		&fakeFactory{session: &fakeSession{}},
		&fakeEncoderPort{session: &fakeEncodeSession{}},
		gov, nil, nil,
	)

	queue := pipeline.NewFrameQueueWith(60, pipeline.DefaultMaxBytes)
	for i := range 30 {
		require.True(t, queue.Push(pipeline.Frame{Index: i, Data: []byte("png-data")}))
	}
	queue.Close()

	require.NoError(t, w.consume(context.Background(), queue, &fakeEncodeSession{}, segmentJob(30), 30))
	assert.Equal(t, 42, queue.Stats().Capacity)
}

func TestRenderSegment_ZeroFrames(t *testing.T) {
	w := New(&fakeFactory{session: &fakeSession{}}, &fakeEncoderPort{session: &fakeEncodeSession{}}, nil, nil, nil)

	sj := segmentJob(0)
	sj.Segment.End = 0
	result, err := w.RenderSegment(context.Background(), sj)
	require.NoError(t, err)
	assert.Equal(t, 0, result.FramesRendered)
}
