package renderer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/motionrender/render-api/internal/fault"
	"github.com/motionrender/render-api/internal/scenario"
)

// Static errors for the ffmpeg-backed renderer.
var (
	// ErrSourceNotFound is returned when the source video does not exist.
	ErrSourceNotFound = errors.New("renderer: source video not found")
	// ErrSessionClosed is returned when a closed session is used.
	ErrSessionClosed = errors.New("renderer: session is closed")
	// ErrNegativeSeek is returned for a seek before the start of the video.
	ErrNegativeSeek = errors.New("renderer: seek position must not be negative")
)

const (
	defaultFontSize  = 48
	defaultFontColor = "white"
	fadeDurationSec  = 0.3
)

// FFmpegFactory opens render sessions backed by ffmpeg frame extraction.
// Each capture decodes the source frame at the current position and
// composites the active subtitle cues with drawtext filters.
type FFmpegFactory struct {
	ffmpegPath string
	log        *slog.Logger
}

// NewFFmpegFactory creates a factory using the given ffmpeg binary.
// An empty path defaults to "ffmpeg" on PATH.
func NewFFmpegFactory(ffmpegPath string, log *slog.Logger) *FFmpegFactory {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if log == nil {
		log = slog.Default()
	}
	return &FFmpegFactory{ffmpegPath: ffmpegPath, log: log}
}

var _ Factory = (*FFmpegFactory)(nil)

// Open validates the source and returns a session bound to it.
func (f *FFmpegFactory) Open(_ context.Context, opts OpenOptions) (Session, error) {
	info, err := os.Stat(opts.SourcePath)
	if err != nil || info.IsDir() {
		return nil, fault.New(fault.KindSourceUnavailable,
			fmt.Sprintf("source video not found: %s", opts.SourcePath))
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fault.New(fault.KindInvalidInput, "render dimensions must be positive")
	}
	return &ffmpegSession{
		ffmpegPath: f.ffmpegPath,
		opts:       opts,
		log:        f.log,
	}, nil
}

type ffmpegSession struct {
	ffmpegPath string
	opts       OpenOptions
	log        *slog.Logger
	cues       []scenario.Cue
	pts        float64
	closed     bool
}

func (s *ffmpegSession) LoadCues(_ context.Context, cues []scenario.Cue) error {
	if s.closed {
		return ErrSessionClosed
	}
	s.cues = make([]scenario.Cue, len(cues))
	copy(s.cues, cues)
	return nil
}

func (s *ffmpegSession) Seek(_ context.Context, pts float64) error {
	if s.closed {
		return ErrSessionClosed
	}
	if pts < 0 {
		return ErrNegativeSeek
	}
	s.pts = pts
	return nil
}

// Capture extracts the frame at the current position and returns it
// PNG-encoded with the active cues composited on top.
func (s *ffmpegSession) Capture(ctx context.Context) ([]byte, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}

	args := s.captureArgs()
	// #nosec G204 -- args are built from validated session state
	cmd := exec.CommandContext(ctx, s.ffmpegPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fault.Wrap(fault.KindRenderFailure,
			fmt.Sprintf("frame capture at %.3fs failed: %s",
				s.pts, strings.TrimSpace(stderr.String())), err)
	}
	if stdout.Len() == 0 {
		return nil, fault.New(fault.KindRenderFailure,
			fmt.Sprintf("frame capture at %.3fs produced no data", s.pts))
	}
	return stdout.Bytes(), nil
}

func (s *ffmpegSession) Close() error {
	s.closed = true
	s.cues = nil
	return nil
}

func (s *ffmpegSession) captureArgs() []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-ss", fmt.Sprintf("%.3f", s.pts),
		"-i", s.opts.SourcePath,
		"-frames:v", "1",
		"-vf", overlayFilter(s.opts, s.cues, s.pts),
		"-f", "image2",
		"-vcodec", "png",
		"-",
	}
}

// overlayFilter builds the scale plus drawtext filter chain for the cues
// active at pts. Fade animations resolve to a static alpha for the frame.
func overlayFilter(opts OpenOptions, cues []scenario.Cue, pts float64) string {
	parts := []string{fmt.Sprintf("scale=%d:%d", opts.Width, opts.Height)}
	for _, c := range cues {
		if pts < c.Start || pts >= c.End || c.Text == "" {
			continue
		}
		parts = append(parts, drawTextFilter(c, pts))
	}
	return strings.Join(parts, ",")
}

func drawTextFilter(c scenario.Cue, pts float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "drawtext=text='%s'", escapeDrawText(c.Text))
	fmt.Fprintf(&b, ":fontsize=%d", cueFontSize(c))
	fmt.Fprintf(&b, ":fontcolor=%s", cueFontColor(c))
	b.WriteString(":x=(w-text_w)/2:y=h-text_h-48")
	if a := cueAlpha(c, pts); a < 1 {
		fmt.Fprintf(&b, ":alpha=%.3f", a)
	}
	return b.String()
}

// cueAlpha returns the opacity of a fading cue at pts, 1 otherwise.
func cueAlpha(c scenario.Cue, pts float64) float64 {
	switch c.AnimationType() {
	case "fade", "fadein", "fade-in":
	default:
		return 1
	}
	in := (pts - c.Start) / fadeDurationSec
	out := (c.End - pts) / fadeDurationSec
	a := min(in, out, 1.0)
	return max(a, 0)
}

func cueFontSize(c scenario.Cue) int {
	if v, ok := c.Style["fontSize"]; ok {
		switch n := v.(type) {
		case float64:
			if n > 0 {
				return int(n)
			}
		case int:
			if n > 0 {
				return n
			}
		}
	}
	return defaultFontSize
}

func cueFontColor(c scenario.Cue) string {
	if v, ok := c.Style["color"].(string); ok && v != "" {
		return v
	}
	return defaultFontColor
}

// escapeDrawText escapes the characters drawtext treats specially inside
// a single-quoted text value.
func escapeDrawText(text string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		`'`, `\'`,
		`:`, `\:`,
		`%`, `\%`,
	)
	return r.Replace(text)
}
