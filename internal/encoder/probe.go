package encoder

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"sync"
)

// Detector probes the local ffmpeg build for NVENC support. The probe
// runs once; results are cached for the process lifetime.
type Detector struct {
	ffmpegPath string

	once      sync.Once
	available bool
}

// NewDetector creates a Detector. An empty path defaults to "ffmpeg"
// found via PATH.
func NewDetector(ffmpegPath string) *Detector {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Detector{ffmpegPath: ffmpegPath}
}

// HasNVENC reports whether the h264_nvenc encoder is available. Probe
// failures are treated as no GPU; encoding falls back to libx264.
func (d *Detector) HasNVENC(ctx context.Context) bool {
	d.once.Do(func() {
		// #nosec G204 - ffmpegPath is set by the application, not user input
		cmd := exec.CommandContext(ctx, d.ffmpegPath, "-hide_banner", "-encoders")
		var stdout bytes.Buffer
		cmd.Stdout = &stdout
		if err := cmd.Run(); err != nil {
			return
		}
		d.available = strings.Contains(stdout.String(), "h264_nvenc")
	})
	return d.available
}
