package merger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/motionrender/render-api/internal/fault"
)

func writeSegment(t *testing.T, dir, name string) Input {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("mp4-bytes"), 0600))
	return Input{Path: path, Frames: 90}
}

func TestMerge_NoSegments(t *testing.T) {
	m := New("", nil)
	_, err := m.Merge(context.Background(), nil, "out.mp4", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoSegments)
	assert.Equal(t, fault.KindMergeFailure, fault.KindOf(err))
}

func TestMerge_StrictMissingSegment(t *testing.T) {
	dir := t.TempDir()
	m := New("", nil)

	segments := []Input{
		writeSegment(t, dir, "segment_0.mp4"),
		{Path: filepath.Join(dir, "segment_1.mp4"), Frames: 90}, // never written
	}
	_, err := m.Merge(context.Background(), segments, filepath.Join(dir, "out.mp4"), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSegmentMissing)
}

func TestMerge_EmptySegmentCountsAsMissing(t *testing.T) {
	dir := t.TempDir()
	m := New("", nil)

	empty := filepath.Join(dir, "segment_0.mp4")
	require.NoError(t, os.WriteFile(empty, nil, 0600))

	_, err := m.Merge(context.Background(), []Input{{Path: empty}}, filepath.Join(dir, "out.mp4"), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSegmentMissing)
}

func TestMerge_PartialTooManyMissing(t *testing.T) {
	dir := t.TempDir()
	m := New("", nil)

	// Half the segments missing: over the quarter tolerance.
	segments := []Input{
		writeSegment(t, dir, "segment_0.mp4"),
		writeSegment(t, dir, "segment_1.mp4"),
		{Path: filepath.Join(dir, "segment_2.mp4")},
		{Path: filepath.Join(dir, "segment_3.mp4")},
	}
	_, err := m.Merge(context.Background(), segments, filepath.Join(dir, "out.mp4"), true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTooManyMissing)
}

func TestMerge_SingleSegmentCopies(t *testing.T) {
	dir := t.TempDir()
	m := New("", nil)

	seg := writeSegment(t, dir, "segment_0.mp4")
	out := filepath.Join(dir, "final.mp4")

	result, err := m.Merge(context.Background(), []Input{seg}, out, false)
	require.NoError(t, err)
	assert.Equal(t, out, result.OutputPath)
	assert.Equal(t, 1, result.SegmentsMerged)
	assert.Equal(t, 90, result.TotalFrames)
	assert.False(t, result.Partial)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "mp4-bytes", string(data))

	// Merged segments are removed once the output exists.
	_, err = os.Stat(seg.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestWriteConcatList(t *testing.T) {
	dir := t.TempDir()
	segments := []Input{
		writeSegment(t, dir, "segment_0.mp4"),
		writeSegment(t, dir, "segment_1.mp4"),
	}

	// The manifest lives inside the job's working directory.
	listFile := filepath.Join(dir, "concat.txt")
	require.NoError(t, writeConcatList(listFile, segments))

	data, err := os.ReadFile(listFile)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "file '")
	assert.Contains(t, content, "segment_0.mp4")
	assert.Contains(t, content, "segment_1.mp4")
	// Playback order preserved.
	assert.Less(t,
		strings.Index(content, "segment_0.mp4"),
		strings.Index(content, "segment_1.mp4"))
}
