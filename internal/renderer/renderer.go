// Package renderer defines the port to the headless frame renderer that
// composites animated subtitle overlays onto source video. The renderer
// itself is an external capability; workers drive it through Session.
package renderer

import (
	"context"

	"github.com/motionrender/render-api/internal/scenario"
)

// OpenOptions configures a render session for one segment.
type OpenOptions struct {
	SourcePath string
	Width      int
	Height     int
	FPS        float64
}

// Factory opens render sessions. Implementations must be safe for
// concurrent use; sessions themselves are single-owner.
type Factory interface {
	Open(ctx context.Context, opts OpenOptions) (Session, error)
}

// Session is one renderer instance bound to a source video. The worker
// loads the segment's cues once, then seeks and captures frame by frame.
// Capture returns a PNG-encoded frame; the returned buffer is owned by
// the caller. Close releases the renderer on every exit path.
type Session interface {
	LoadCues(ctx context.Context, cues []scenario.Cue) error
	Seek(ctx context.Context, pts float64) error
	Capture(ctx context.Context) ([]byte, error)
	Close() error
}
