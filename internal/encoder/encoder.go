// Package encoder drives ffmpeg to turn streamed PNG frames into MP4
// segments. Frames are piped over stdin with the image2pipe demuxer, so
// no intermediate frame files touch disk. NVENC is used when the local
// ffmpeg build supports it, otherwise libx264.
package encoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"

	"github.com/motionrender/render-api/internal/fault"
)

// Static errors for encoder operations.
var (
	// ErrInvalidDimensions is returned when the output dimensions are not positive.
	ErrInvalidDimensions = errors.New("invalid dimensions: width and height must be positive")
	// ErrSessionFinalized is returned on writes after Finalize or Abort.
	ErrSessionFinalized = errors.New("encoder session already finalized")
)

// Codec identifies the video encoder ffmpeg is asked to use.
type Codec string

const (
	CodecNVENC Codec = "h264_nvenc"
	CodecX264  Codec = "libx264"
)

// Settings describes one encoding session.
type Settings struct {
	Width   int
	Height  int
	FPS     float64
	Quality int // 0-100, higher is better
	Codec   Codec
}

// qualityToRateFactor maps the 0-100 quality scale onto ffmpeg's 51-0
// constant-quality scale, shared by NVENC's -cq and x264's -crf.
func qualityToRateFactor(quality int) int {
	if quality < 0 {
		quality = 0
	}
	if quality > 100 {
		quality = 100
	}
	return int(math.Round(51 - float64(quality)*51/100))
}

// buildArgs assembles the full ffmpeg argument list for a streaming
// PNG-to-MP4 session.
func buildArgs(s Settings, outputPath string) []string {
	args := []string{
		"-y",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-framerate", fmt.Sprintf("%g", s.FPS),
		"-i", "-",
	}
	rf := qualityToRateFactor(s.Quality)
	switch s.Codec {
	case CodecNVENC:
		args = append(args,
			"-c:v", string(CodecNVENC),
			"-preset", "p4",
			"-rc", "vbr",
			"-cq", fmt.Sprintf("%d", rf),
			"-b:v", "0",
		)
	default:
		args = append(args,
			"-c:v", string(CodecX264),
			"-preset", "faster",
			"-crf", fmt.Sprintf("%d", rf),
		)
	}
	args = append(args,
		"-vf", fmt.Sprintf("scale=%d:%d", s.Width, s.Height),
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		outputPath,
	)
	return args
}

// Encoder creates streaming sessions bound to one ffmpeg binary and one
// codec choice.
type Encoder struct {
	ffmpegPath string
	codec      Codec
}

// New creates an Encoder. An empty path defaults to "ffmpeg"; useGPU
// selects NVENC only when the detector confirms the build supports it.
func New(ffmpegPath string, useGPU bool, detector *Detector) *Encoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	codec := CodecX264
	if useGPU && detector != nil && detector.HasNVENC(context.Background()) {
		codec = CodecNVENC
	}
	return &Encoder{ffmpegPath: ffmpegPath, codec: codec}
}

// Codec returns the codec sessions will use.
func (e *Encoder) Codec() Codec { return e.codec }

// Start launches an ffmpeg process reading PNG frames from stdin and
// writing an MP4 to outputPath.
func (e *Encoder) Start(ctx context.Context, s Settings, outputPath string) (*Session, error) {
	if s.Width <= 0 || s.Height <= 0 {
		return nil, fmt.Errorf("%w: width=%d, height=%d", ErrInvalidDimensions, s.Width, s.Height)
	}
	if s.FPS <= 0 {
		s.FPS = 30
	}
	if s.Codec == "" {
		s.Codec = e.codec
	}

	args := buildArgs(s, outputPath)
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fault.Wrap(fault.KindEncodeFailure, "open encoder stdin", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fault.Wrap(fault.KindEncodeFailure, "start ffmpeg", err)
	}

	return &Session{
		cmd:        cmd,
		stdin:      stdin,
		stderr:     &stderr,
		args:       args,
		outputPath: outputPath,
	}, nil
}

// Session is one running ffmpeg encode. Not safe for concurrent use;
// each worker owns its session.
type Session struct {
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	stderr     *bytes.Buffer
	args       []string
	outputPath string

	frames int
	done   bool
}

// OutputPath returns the segment file this session writes.
func (s *Session) OutputPath() string { return s.outputPath }

// FramesWritten returns how many frames have been piped so far.
func (s *Session) FramesWritten() int { return s.frames }

// Write pipes one PNG-encoded frame to ffmpeg.
func (s *Session) Write(frame []byte) error {
	if s.done {
		return ErrSessionFinalized
	}
	if _, err := s.stdin.Write(frame); err != nil {
		return fault.Wrap(fault.KindEncodeFailure, "write frame", &FFmpegError{
			Args:   s.args,
			Stderr: s.stderr.String(),
			Err:    err,
		})
	}
	s.frames++
	return nil
}

// Finalize closes the frame stream and waits for ffmpeg to finish the
// MP4. The stderr tail is attached to any failure.
func (s *Session) Finalize() error {
	if s.done {
		return ErrSessionFinalized
	}
	s.done = true
	if err := s.stdin.Close(); err != nil {
		return fault.Wrap(fault.KindEncodeFailure, "close encoder stdin", err)
	}
	if err := s.cmd.Wait(); err != nil {
		return fault.Wrap(fault.KindEncodeFailure, "finalize segment", &FFmpegError{
			Args:   s.args,
			Stderr: s.stderr.String(),
			Err:    err,
		})
	}
	return nil
}

// Abort terminates the encode without waiting for a valid MP4. Used on
// cancellation and worker failure paths.
func (s *Session) Abort() {
	if s.done {
		return
	}
	s.done = true
	_ = s.stdin.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.cmd.Wait()
}

// FFmpegError carries the argument list and stderr output of a failed
// ffmpeg invocation.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}

// Run executes ffmpeg with the given arguments, returning an FFmpegError
// carrying stderr on failure. Shared with the merge step.
func Run(ctx context.Context, ffmpegPath string, args []string) error {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{Args: args, Stderr: stderr.String(), Err: err}
	}
	return nil
}
