// Package merger joins rendered segment files into the final MP4 with
// ffmpeg's concat demuxer. Segments were encoded with identical codec
// settings, so the merge is a lossless stream copy.
package merger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/motionrender/render-api/internal/encoder"
	"github.com/motionrender/render-api/internal/fault"
)

// Static errors for merge operations.
var (
	// ErrNoSegments is returned when no segment paths are provided.
	ErrNoSegments = errors.New("no segments to merge")
	// ErrSegmentMissing is returned when an expected segment file is absent or empty.
	ErrSegmentMissing = errors.New("segment file missing or empty")
	// ErrTooManyMissing is returned when too few segments survive for a partial merge.
	ErrTooManyMissing = errors.New("too many segments missing for partial output")
)

// maxMissingFraction is the largest share of segments that may be absent
// while still allowing a partial merge.
const maxMissingFraction = 0.25

// Input is one segment presented for merging, in playback order.
type Input struct {
	Path   string
	Frames int
}

// Result describes the merged output.
type Result struct {
	OutputPath     string
	FileSize       int64
	SegmentsMerged int
	TotalFrames    int
	Duration       float64
	Partial        bool
}

// Merger concatenates segment files.
type Merger struct {
	ffmpegPath string
	log        *slog.Logger
}

// New creates a Merger. An empty path defaults to "ffmpeg".
func New(ffmpegPath string, log *slog.Logger) *Merger {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Merger{ffmpegPath: ffmpegPath, log: log}
}

// Merge joins segments into outputPath. With allowPartial, segments that
// are missing or empty are skipped as long as their share stays under a
// quarter of the total; otherwise any gap fails the merge.
func (m *Merger) Merge(ctx context.Context, segments []Input, outputPath string, allowPartial bool) (*Result, error) {
	if len(segments) == 0 {
		return nil, fault.Wrap(fault.KindMergeFailure, "merge", ErrNoSegments)
	}

	usable := make([]Input, 0, len(segments))
	for _, seg := range segments {
		if info, err := os.Stat(seg.Path); err != nil || info.Size() == 0 {
			if !allowPartial {
				return nil, fault.Wrap(fault.KindMergeFailure, "verify segments",
					fmt.Errorf("%w: %s", ErrSegmentMissing, seg.Path))
			}
			m.log.Warn("skipping missing segment", "path", seg.Path)
			continue
		}
		usable = append(usable, seg)
	}
	missing := len(segments) - len(usable)
	if missing > 0 {
		if frac := float64(missing) / float64(len(segments)); frac > maxMissingFraction {
			return nil, fault.Wrap(fault.KindMergeFailure, "verify segments",
				fmt.Errorf("%w: %d of %d missing", ErrTooManyMissing, missing, len(segments)))
		}
	}

	if len(usable) == 1 {
		if err := copyFile(usable[0].Path, outputPath); err != nil {
			return nil, fault.Wrap(fault.KindMergeFailure, "copy single segment", err)
		}
		return m.finish(ctx, usable, outputPath, missing)
	}

	listFile := filepath.Join(filepath.Dir(outputPath), "concat.txt")
	if err := writeConcatList(listFile, usable); err != nil {
		return nil, fault.Wrap(fault.KindMergeFailure, "write concat list", err)
	}
	defer func() { _ = os.Remove(listFile) }()

	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
		"-c", "copy",
		"-movflags", "+faststart",
		outputPath,
	}
	if err := encoder.Run(ctx, m.ffmpegPath, args); err != nil {
		return nil, fault.Wrap(fault.KindMergeFailure, "concat segments", err)
	}
	return m.finish(ctx, usable, outputPath, missing)
}

// finish stats the output, removes the merged segments and assembles
// the result. Segment removal is best effort; the per-job cleanup
// sweeps anything left behind.
func (m *Merger) finish(ctx context.Context, usable []Input, outputPath string, missing int) (*Result, error) {
	info, err := os.Stat(outputPath)
	if err != nil {
		return nil, fault.Wrap(fault.KindMergeFailure, "stat output", err)
	}

	for _, seg := range usable {
		if err := os.Remove(seg.Path); err != nil {
			m.log.Warn("could not remove merged segment", "path", seg.Path, "error", err)
		}
	}

	result := &Result{
		OutputPath:     outputPath,
		FileSize:       info.Size(),
		SegmentsMerged: len(usable),
		Partial:        missing > 0,
	}
	for _, seg := range usable {
		result.TotalFrames += seg.Frames
	}
	if d, err := m.probeDuration(ctx, outputPath); err == nil {
		result.Duration = d
	} else {
		m.log.Warn("could not probe merged duration", "error", err)
	}
	return result, nil
}

// copyFile copies a file from src to dst.
func copyFile(src, dst string) error {
	input, err := os.ReadFile(src) // #nosec G304 - src is provided by trusted internal code
	if err != nil {
		return fmt.Errorf("read source file: %w", err)
	}
	if err := os.WriteFile(dst, input, 0600); err != nil {
		return fmt.Errorf("write destination file: %w", err)
	}
	return nil
}

// writeConcatList writes the concat demuxer manifest at path, inside the
// job's working directory; the caller removes it after the merge.
func writeConcatList(path string, segments []Input) error {
	f, err := os.Create(path) // #nosec G304 - path lives in the job's temp dir
	if err != nil {
		return fmt.Errorf("create concat list: %w", err)
	}
	defer func() { _ = f.Close() }()

	for _, seg := range segments {
		absPath, err := filepath.Abs(seg.Path)
		if err != nil {
			return fmt.Errorf("get absolute path for %s: %w", seg.Path, err)
		}
		escapedPath := strings.ReplaceAll(absPath, "'", "'\\''")
		if _, err := fmt.Fprintf(f, "file '%s'\n", escapedPath); err != nil {
			return fmt.Errorf("write concat list: %w", err)
		}
	}
	return nil
}

// probeDuration reads the container duration in seconds via ffprobe.
func (m *Merger) probeDuration(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}
	var duration float64
	if _, err := fmt.Sscanf(strings.TrimSpace(stdout.String()), "%f", &duration); err != nil {
		return 0, fmt.Errorf("parse duration: %w", err)
	}
	return duration, nil
}
