// Package planner splits a job's time range into contiguous segments
// balanced by rendering complexity, so parallel workers finish at roughly
// the same time. Complexity is derived from cue density, text length,
// styling and animation hints; the ideal split point is a silence where no
// cue is active.
package planner

import (
	"math"
	"sort"
	"strings"

	"github.com/motionrender/render-api/internal/scenario"
)

// Opts configures segmentation behavior.
type Opts struct {
	// MinSegmentSec is the shortest segment the planner will cut.
	MinSegmentSec float64
	// MaxSegmentSec is the longest segment the planner will cut.
	MaxSegmentSec float64
	// SplitSearchSec bounds how far from the complexity target the
	// planner searches for a quiet split point.
	SplitSearchSec float64
	// FPS is used to estimate per-segment frame counts.
	FPS float64
}

// DefaultOpts returns the default segmentation options.
func DefaultOpts() Opts {
	return Opts{
		MinSegmentSec:  5.0,
		MaxSegmentSec:  60.0,
		SplitSearchSec: 5.0,
		FPS:            30.0,
	}
}

// Segment is one contiguous time window assigned to a single worker.
// Segments partition [0, duration) contiguously; cue timing is retained
// from the scenario, clipping is the worker's concern.
type Segment struct {
	Index           int
	WorkerID        int
	Start           float64
	End             float64
	Cues            []scenario.Cue
	Complexity      float64
	EstimatedFrames int
}

// Duration returns the segment's window length in seconds.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// Planner computes complexity-balanced segmentations.
type Planner struct {
	opts Opts
}

// New creates a Planner. Zero-valued option fields fall back to defaults.
func New(opts Opts) *Planner {
	def := DefaultOpts()
	if opts.MinSegmentSec <= 0 {
		opts.MinSegmentSec = def.MinSegmentSec
	}
	if opts.MaxSegmentSec <= 0 {
		opts.MaxSegmentSec = def.MaxSegmentSec
	}
	if opts.SplitSearchSec <= 0 {
		opts.SplitSearchSec = def.SplitSearchSec
	}
	if opts.FPS <= 0 {
		opts.FPS = def.FPS
	}
	return &Planner{opts: opts}
}

// ComplexityMap returns the per-second rendering complexity of a scenario
// over [0, ceil(duration)). For each cue active at second t it adds a base
// cost plus text, font, animation and emotion weights; overlapping cues
// multiply the total.
func (p *Planner) ComplexityMap(s *scenario.Scenario, duration float64) []float64 {
	seconds := int(math.Ceil(duration))
	if seconds <= 0 {
		return nil
	}
	out := make([]float64, seconds)
	for t := range seconds {
		ft := float64(t)
		var c float64
		active := 0
		for _, cue := range s.Cues {
			if !cue.Overlaps(ft, ft+1) {
				continue
			}
			active++
			c += cueCost(cue)
		}
		if active >= 2 {
			c *= 1 + 0.5*float64(active-1)
		}
		out[t] = c
	}
	return out
}

// cueCost is the complexity contribution of one active cue.
func cueCost(cue scenario.Cue) float64 {
	c := 1.0
	c += 0.01 * float64(len(cue.Text))
	if strings.Contains(cue.FontFamily(), "CJK") {
		c += 0.5
	}
	switch cue.AnimationType() {
	case "elastic", "bounce":
		c += 1.5
	case "fade", "slide":
		c += 0.5
	}
	if cue.Emotion != "" && cue.Emotion != "neutral" {
		c += 0.3
	}
	return c
}

// Plan splits [0, duration) into up to n contiguous segments with balanced
// total complexity, attaching to each segment the cues overlapping its
// window. Edge cases: an empty duration yields one degenerate segment; a
// duration too short to split yields a single segment; a scenario without
// cues is split evenly.
func (p *Planner) Plan(s *scenario.Scenario, duration float64, n int) []Segment {
	if n < 1 {
		n = 1
	}
	if duration <= 0 {
		return []Segment{{Index: 0, WorkerID: 0, Start: 0, End: 0}}
	}
	if duration < p.opts.MinSegmentSec || n == 1 {
		return p.build(s, []float64{0, duration}, n)
	}

	var points []float64
	if len(s.Cues) == 0 {
		points = evenPoints(duration, n)
	} else {
		cmap := p.ComplexityMap(s, duration)
		points = p.balancedPoints(cmap, duration, n)
	}
	points = p.bisectLongest(points, n)
	points = p.splitOverMax(points)
	return p.build(s, points, n)
}

// evenPoints splits [0, duration) into n equal windows.
func evenPoints(duration float64, n int) []float64 {
	points := make([]float64, 0, n+1)
	step := duration / float64(n)
	for i := range n {
		points = append(points, float64(i)*step)
	}
	return append(points, duration)
}

// balancedPoints walks the complexity map accumulating cost and cuts a
// segment whenever the accumulator reaches the per-segment target,
// preferring a nearby quiet second for the actual cut.
func (p *Planner) balancedPoints(cmap []float64, duration float64, n int) []float64 {
	total := 0.0
	for _, c := range cmap {
		total += c
	}
	if total == 0 {
		return evenPoints(duration, n)
	}
	target := total / float64(n)

	points := []float64{0}
	acc := 0.0
	last := 0.0
	for t, c := range cmap {
		acc += c
		if acc < target {
			continue
		}
		split := p.quietSplitNear(cmap, float64(t), last, duration)
		if split <= last+p.opts.MinSegmentSec || split >= duration {
			continue
		}
		if split-last > p.opts.MaxSegmentSec {
			split = last + p.opts.MaxSegmentSec
		}
		points = append(points, split)
		acc = 0
		last = split
		if len(points) >= n {
			break
		}
	}
	return append(points, duration)
}

// quietSplitNear looks within the search window around target for the
// second with the lowest complexity; a silence (zero cost) wins outright.
func (p *Planner) quietSplitNear(cmap []float64, target, minTime, maxTime float64) float64 {
	lo := int(math.Max(minTime, target-2))
	hi := int(math.Min(maxTime, target+p.opts.SplitSearchSec))
	best := target
	bestCost := math.Inf(1)
	for t := lo; t < hi && t < len(cmap); t++ {
		if t < 0 {
			continue
		}
		if cmap[t] == 0 {
			return float64(t)
		}
		if cmap[t] < bestCost {
			bestCost = cmap[t]
			best = float64(t)
		}
	}
	return best
}

// bisectLongest inserts midpoints into the longest intervals until the
// point list describes n segments, respecting the minimum duration.
func (p *Planner) bisectLongest(points []float64, n int) []float64 {
	for len(points) < n+1 {
		longest := -1
		gap := 0.0
		for i := 0; i < len(points)-1; i++ {
			if d := points[i+1] - points[i]; d > gap {
				gap = d
				longest = i
			}
		}
		if longest < 0 || gap < 2*p.opts.MinSegmentSec {
			break
		}
		mid := (points[longest] + points[longest+1]) / 2
		points = append(points, mid)
		sort.Float64s(points)
	}
	return points
}

// splitOverMax cuts any interval longer than the maximum duration into
// equal parts that fit it. Worker IDs wrap around when this produces more
// segments than workers.
func (p *Planner) splitOverMax(points []float64) []float64 {
	out := []float64{points[0]}
	for i := 0; i < len(points)-1; i++ {
		gap := points[i+1] - points[i]
		if parts := int(math.Ceil(gap / p.opts.MaxSegmentSec)); parts > 1 {
			step := gap / float64(parts)
			for j := 1; j < parts; j++ {
				out = append(out, points[i]+float64(j)*step)
			}
		}
		out = append(out, points[i+1])
	}
	return out
}

// build materializes segments from sorted split points.
func (p *Planner) build(s *scenario.Scenario, points []float64, n int) []Segment {
	cmap := p.ComplexityMap(s, points[len(points)-1])
	segments := make([]Segment, 0, len(points)-1)
	for i := 0; i < len(points)-1; i++ {
		start, end := points[i], points[i+1]
		seg := Segment{
			Index:           i,
			WorkerID:        i % n,
			Start:           start,
			End:             end,
			Cues:            s.CuesInWindow(start, end),
			Complexity:      windowComplexity(cmap, start, end),
			EstimatedFrames: int(math.Round((end - start) * p.opts.FPS)),
		}
		segments = append(segments, seg)
	}
	return segments
}

// windowComplexity sums the per-second costs covered by [start, end).
func windowComplexity(cmap []float64, start, end float64) float64 {
	total := 0.0
	for t := int(start); t < int(math.Ceil(end)) && t < len(cmap); t++ {
		total += cmap[t]
	}
	return total
}
