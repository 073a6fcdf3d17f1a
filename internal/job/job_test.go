package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/motionrender/render-api/internal/fault"
	"github.com/motionrender/render-api/internal/scenario"
)

func TestJob_Transitions(t *testing.T) {
	t.Run("queued to processing stamps started-at", func(t *testing.T) {
		j := New()
		require.NoError(t, j.Start())
		assert.Equal(t, StatusProcessing, j.GetStatus())
		assert.False(t, j.StartedAt.IsZero())
	})

	t.Run("completed forces progress 100 and stamps completed-at", func(t *testing.T) {
		j := New()
		require.NoError(t, j.Start())
		require.NoError(t, j.Complete())
		assert.Equal(t, 100, j.GetProgress())
		assert.False(t, j.CompletedAt.IsZero())
		assert.True(t, j.IsTerminal())
	})

	t.Run("queued cannot complete directly", func(t *testing.T) {
		j := New()
		assert.ErrorIs(t, j.Complete(), ErrInvalidTransition)
	})

	t.Run("terminal states are final", func(t *testing.T) {
		j := New()
		require.NoError(t, j.Start())
		require.NoError(t, j.Fail(fault.KindEncodeFailure, "ffmpeg exited 1"))
		assert.ErrorIs(t, j.Start(), ErrInvalidTransition)
		assert.ErrorIs(t, j.Complete(), ErrInvalidTransition)
		assert.Equal(t, "ENCODE_FAILURE", j.ErrorCode)
	})

	t.Run("queued can be cancelled", func(t *testing.T) {
		j := New()
		require.NoError(t, j.Cancel())
		assert.Equal(t, StatusCancelled, j.GetStatus())
	})
}

func TestJob_ProgressMonotonic(t *testing.T) {
	j := New()
	j.UpdateProgress(40)
	assert.Equal(t, 40, j.GetProgress())

	// Lower values never decrease observed progress.
	j.UpdateProgress(25)
	assert.Equal(t, 40, j.GetProgress())

	j.UpdateProgress(90)
	assert.Equal(t, 90, j.GetProgress())

	j.UpdateProgress(250)
	assert.Equal(t, 100, j.GetProgress())
}

func TestJob_Clone(t *testing.T) {
	j := New()
	j.VideoURL = "https://example.com/in.mp4"
	j.Scenario = scenario.Scenario{
		Cues:     []scenario.Cue{{Start: 0, End: 2, Text: "hi"}},
		Metadata: map[string]any{"title": "t"},
	}

	clone := j.Clone()
	clone.Scenario.Cues[0].Text = "mutated"
	clone.Scenario.Metadata["title"] = "mutated"

	assert.Equal(t, "hi", j.Scenario.Cues[0].Text)
	assert.Equal(t, "t", j.Scenario.Metadata["title"])
}
