package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/motionrender/render-api/internal/scenario"
)

func assertPartition(t *testing.T, segments []Segment, duration float64) {
	t.Helper()
	require.NotEmpty(t, segments)
	assert.Equal(t, 0.0, segments[0].Start)
	assert.InDelta(t, duration, segments[len(segments)-1].End, 1e-9)
	for i := 1; i < len(segments); i++ {
		assert.Equal(t, segments[i-1].End, segments[i].Start,
			"segments must be contiguous")
		assert.Equal(t, i, segments[i].Index)
	}
}

func TestPlan_NoCuesEvenSplit(t *testing.T) {
	p := New(DefaultOpts())
	s := &scenario.Scenario{}

	segments := p.Plan(s, 12, 4)
	require.Len(t, segments, 4)
	assertPartition(t, segments, 12)
	for _, seg := range segments {
		assert.InDelta(t, 3.0, seg.Duration(), 1e-9)
		assert.Equal(t, 90, seg.EstimatedFrames)
		assert.Empty(t, seg.Cues)
	}
}

func TestPlan_ZeroDuration(t *testing.T) {
	p := New(DefaultOpts())
	segments := p.Plan(&scenario.Scenario{}, 0, 4)
	require.Len(t, segments, 1)
	assert.Equal(t, 0.0, segments[0].Start)
	assert.Equal(t, 0.0, segments[0].End)
}

func TestPlan_ShortJobSingleSegment(t *testing.T) {
	p := New(DefaultOpts())
	s := &scenario.Scenario{Cues: []scenario.Cue{{Start: 0, End: 3, Text: "hi"}}}

	segments := p.Plan(s, 3, 4)
	require.Len(t, segments, 1)
	assertPartition(t, segments, 3)
	assert.Len(t, segments[0].Cues, 1)
}

func TestPlan_LongCueSpansAllSegments(t *testing.T) {
	p := New(DefaultOpts())
	s := &scenario.Scenario{Cues: []scenario.Cue{{Start: 0, End: 60, Text: "one long line"}}}

	segments := p.Plan(s, 60, 4)
	require.GreaterOrEqual(t, len(segments), 2)
	assertPartition(t, segments, 60)
	for _, seg := range segments {
		require.Len(t, seg.Cues, 1, "every segment carries the spanning cue")
		// Original cue timing retained, not clipped.
		assert.Equal(t, 0.0, seg.Cues[0].Start)
		assert.Equal(t, 60.0, seg.Cues[0].End)
	}
}

func TestPlan_BalancedByComplexity(t *testing.T) {
	p := New(DefaultOpts())

	// Dense, animated cues in the first half; silence in the second.
	var cues []scenario.Cue
	for i := range 30 {
		cues = append(cues, scenario.Cue{
			Start:     float64(i),
			End:       float64(i + 1),
			Text:      "a fairly long subtitle line for weighting",
			Animation: map[string]any{"type": "bounce"},
			Emotion:   "excited",
		})
	}
	s := &scenario.Scenario{Cues: cues}

	segments := p.Plan(s, 120, 4)
	assertPartition(t, segments, 120)
	require.GreaterOrEqual(t, len(segments), 2)

	// The busy first half must be cut finer than the silent tail: the
	// first segment should be much shorter than the last.
	first, last := segments[0], segments[len(segments)-1]
	assert.Less(t, first.Duration(), last.Duration())
	assert.Greater(t, first.Complexity, 0.0)
}

func TestPlan_MinAndMaxDurations(t *testing.T) {
	p := New(DefaultOpts())
	var cues []scenario.Cue
	for i := 0; i < 200; i += 2 {
		cues = append(cues, scenario.Cue{Start: float64(i), End: float64(i + 1), Text: "line"})
	}
	s := &scenario.Scenario{Cues: cues}

	segments := p.Plan(s, 200, 4)
	assertPartition(t, segments, 200)
	for i, seg := range segments {
		if i < len(segments)-1 {
			assert.GreaterOrEqual(t, seg.Duration(), DefaultOpts().MinSegmentSec,
				"segment %d shorter than minimum", i)
		}
		assert.LessOrEqual(t, seg.Duration(), DefaultOpts().MaxSegmentSec+1e-9,
			"segment %d longer than maximum", i)
	}
}

func TestPlan_WorkerIDsWrap(t *testing.T) {
	p := New(DefaultOpts())
	segments := p.Plan(&scenario.Scenario{}, 300, 2)
	assertPartition(t, segments, 300)
	for _, seg := range segments {
		assert.LessOrEqual(t, seg.Duration(), DefaultOpts().MaxSegmentSec+1e-9)
		assert.Less(t, seg.WorkerID, 2)
	}
}

func TestComplexityMap_Weights(t *testing.T) {
	p := New(DefaultOpts())

	t.Run("base plus text weight", func(t *testing.T) {
		s := &scenario.Scenario{Cues: []scenario.Cue{
			{Start: 0, End: 1, Text: "abcde"},
		}}
		cmap := p.ComplexityMap(s, 2)
		require.Len(t, cmap, 2)
		assert.InDelta(t, 1.0+0.05, cmap[0], 1e-9)
		assert.Equal(t, 0.0, cmap[1])
	})

	t.Run("CJK font weight", func(t *testing.T) {
		s := &scenario.Scenario{Cues: []scenario.Cue{
			{Start: 0, End: 1, Style: map[string]any{"fontFamily": "Noto Sans CJK KR"}},
		}}
		cmap := p.ComplexityMap(s, 1)
		assert.InDelta(t, 1.5, cmap[0], 1e-9)
	})

	t.Run("animation families", func(t *testing.T) {
		for anim, want := range map[string]float64{
			"elastic": 2.5,
			"bounce":  2.5,
			"fade":    1.5,
			"slide":   1.5,
			"sparkle": 1.0, // unknown family is neutral
		} {
			s := &scenario.Scenario{Cues: []scenario.Cue{
				{Start: 0, End: 1, Animation: map[string]any{"type": anim}},
			}}
			cmap := p.ComplexityMap(s, 1)
			assert.InDelta(t, want, cmap[0], 1e-9, "animation %q", anim)
		}
	})

	t.Run("non-neutral emotion weight", func(t *testing.T) {
		s := &scenario.Scenario{Cues: []scenario.Cue{
			{Start: 0, End: 1, Emotion: "angry"},
		}}
		cmap := p.ComplexityMap(s, 1)
		assert.InDelta(t, 1.3, cmap[0], 1e-9)

		s.Cues[0].Emotion = "neutral"
		cmap = p.ComplexityMap(s, 1)
		assert.InDelta(t, 1.0, cmap[0], 1e-9)
	})

	t.Run("overlap multiplier", func(t *testing.T) {
		s := &scenario.Scenario{Cues: []scenario.Cue{
			{Start: 0, End: 2},
			{Start: 0, End: 2},
		}}
		cmap := p.ComplexityMap(s, 2)
		// Two overlapping cues: (1+1) * (1 + 0.5*1) = 3.
		assert.InDelta(t, 3.0, cmap[0], 1e-9)
	})
}

func TestSegmentCues_OverlapAttachment(t *testing.T) {
	p := New(DefaultOpts())
	s := &scenario.Scenario{Cues: []scenario.Cue{
		{Start: 0, End: 7, Text: "spans split"},
		{Start: 20, End: 22, Text: "tail only"},
	}}

	segments := p.Plan(s, 24, 2)
	require.GreaterOrEqual(t, len(segments), 2)

	var spanCount int
	for _, seg := range segments {
		for _, cue := range seg.Cues {
			if cue.Text == "spans split" {
				spanCount++
			}
		}
	}
	assert.GreaterOrEqual(t, spanCount, 1)
}
