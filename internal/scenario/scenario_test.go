package scenario

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("valid scenario", func(t *testing.T) {
		data := []byte(`{
			"cues": [
				{"start": 0, "end": 2.5, "text": "hello", "emotion": "happy"},
				{"start": 2, "end": 4, "text": "world", "animation": {"type": "fade"}}
			],
			"metadata": {"title": "demo"}
		}`)

		s, err := Parse(data)
		require.NoError(t, err)
		require.Len(t, s.Cues, 2)
		assert.Equal(t, "hello", s.Cues[0].Text)
		assert.Equal(t, "fade", s.Cues[1].AnimationType())
		assert.Equal(t, "demo", s.Metadata["title"])
	})

	t.Run("invalid JSON", func(t *testing.T) {
		_, err := Parse([]byte(`{"cues": [`))
		require.Error(t, err)
	})

	t.Run("cue end before start", func(t *testing.T) {
		_, err := Parse([]byte(`{"cues": [{"start": 5, "end": 3}]}`))
		assert.ErrorIs(t, err, ErrCueTiming)
	})

	t.Run("negative start", func(t *testing.T) {
		_, err := Parse([]byte(`{"cues": [{"start": -1, "end": 3}]}`))
		assert.ErrorIs(t, err, ErrCueTiming)
	})
}

func TestScenario_Duration(t *testing.T) {
	t.Run("no cues uses default", func(t *testing.T) {
		s := &Scenario{}
		assert.Equal(t, DefaultDuration, s.Duration())
	})

	t.Run("max cue end wins", func(t *testing.T) {
		s := &Scenario{Cues: []Cue{
			{Start: 0, End: 3},
			{Start: 5, End: 12.5},
			{Start: 1, End: 2},
		}}
		assert.Equal(t, 12.5, s.Duration())
	})

	t.Run("minimum one second", func(t *testing.T) {
		s := &Scenario{Cues: []Cue{{Start: 0, End: 0.4}}}
		assert.Equal(t, 1.0, s.Duration())
	})
}

func TestCue_Overlaps(t *testing.T) {
	cue := Cue{Start: 2, End: 5}

	assert.True(t, cue.Overlaps(0, 3))
	assert.True(t, cue.Overlaps(4, 10))
	assert.True(t, cue.Overlaps(0, 10))
	assert.True(t, cue.Overlaps(3, 4))
	assert.False(t, cue.Overlaps(5, 8), "half-open: cue ending at window start does not overlap")
	assert.False(t, cue.Overlaps(0, 2), "half-open: cue starting at window end does not overlap")
}

func TestScenario_CuesInWindow(t *testing.T) {
	s := &Scenario{Cues: []Cue{
		{Start: 0, End: 2, Text: "a"},
		{Start: 1.5, End: 6, Text: "b"},
		{Start: 8, End: 9, Text: "c"},
	}}

	got := s.CuesInWindow(1, 3)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Text)
	assert.Equal(t, "b", got[1].Text)

	// Original timing is retained even when the cue spills past the window.
	assert.Equal(t, 6.0, got[1].End)
}

func TestCue_Hints(t *testing.T) {
	cue := Cue{
		Style:     map[string]any{"fontFamily": "Noto Sans CJK KR"},
		Animation: map[string]any{"type": "elastic"},
	}
	assert.Equal(t, "Noto Sans CJK KR", cue.FontFamily())
	assert.Equal(t, "elastic", cue.AnimationType())

	empty := Cue{}
	assert.Equal(t, "", empty.FontFamily())
	assert.Equal(t, "", empty.AnimationType())
}
