// Package scenario models the timed subtitle scenario attached to a render
// job. Cues are opaque beyond their timing, text and coarse styling hints;
// style and animation payloads are carried verbatim to the renderer.
package scenario

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Static errors for scenario validation.
var (
	// ErrNoCues is returned by operations that require at least one cue.
	ErrNoCues = errors.New("scenario: no cues")
	// ErrCueTiming is returned when a cue has a non-positive window or a
	// negative start.
	ErrCueTiming = errors.New("scenario: cue end must be greater than start and start must be >= 0")
)

// DefaultDuration is assumed for a scenario without cues, in seconds.
const DefaultDuration = 30.0

// Cue is a single timed subtitle event. Start and End are seconds from the
// beginning of the video; the window is half-open [Start, End). Style and
// Animation are free-form attribute bags owned by the renderer.
type Cue struct {
	Start     float64        `json:"start"`
	End       float64        `json:"end"`
	Text      string         `json:"text,omitempty"`
	Style     map[string]any `json:"style,omitempty"`
	Animation map[string]any `json:"animation,omitempty"`
	Emotion   string         `json:"emotion,omitempty"`
}

// Duration returns the cue's window length in seconds.
func (c Cue) Duration() float64 {
	return c.End - c.Start
}

// Overlaps reports whether the cue's [Start, End) window intersects the
// half-open window [from, to).
func (c Cue) Overlaps(from, to float64) bool {
	return c.End > from && c.Start < to
}

// AnimationType returns the cue's animation family, or "" when none is set.
func (c Cue) AnimationType() string {
	if c.Animation == nil {
		return ""
	}
	t, _ := c.Animation["type"].(string)
	return t
}

// FontFamily returns the cue's font family hint, or "" when none is set.
func (c Cue) FontFamily() string {
	if c.Style == nil {
		return ""
	}
	f, _ := c.Style["fontFamily"].(string)
	return f
}

// Scenario is the ordered cue list plus top-level metadata for one job.
type Scenario struct {
	Cues     []Cue          `json:"cues"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Parse decodes and validates a JSON scenario document.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("scenario: parse: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks cue timing invariants. Overlapping cues are allowed.
func (s *Scenario) Validate() error {
	for i, cue := range s.Cues {
		if cue.Start < 0 || cue.End <= cue.Start {
			return fmt.Errorf("%w: cue %d has window [%.3f, %.3f)", ErrCueTiming, i, cue.Start, cue.End)
		}
	}
	return nil
}

// Duration derives the video duration from the maximum cue end time. A
// scenario without cues reports DefaultDuration; a non-empty scenario
// reports at least one second.
func (s *Scenario) Duration() float64 {
	if len(s.Cues) == 0 {
		return DefaultDuration
	}
	maxEnd := 0.0
	for _, cue := range s.Cues {
		if cue.End > maxEnd {
			maxEnd = cue.End
		}
	}
	if maxEnd < 1.0 {
		return 1.0
	}
	return maxEnd
}

// CuesInWindow returns the cues whose windows overlap [from, to), with
// their original timing retained. Clipping to the window is the render
// worker's responsibility.
func (s *Scenario) CuesInWindow(from, to float64) []Cue {
	var out []Cue
	for _, cue := range s.Cues {
		if cue.Overlaps(from, to) {
			out = append(out, cue)
		}
	}
	return out
}
