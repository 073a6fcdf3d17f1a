// Package storage manages per-job temporary files and the movement of
// video bytes in and out of the system: source download over http(s) or
// s3://, and final result upload. The local implementation covers the
// temp layout; S3Store layers object-store access on top of it.
package storage

import (
	"context"
	"fmt"
	"path/filepath"
)

// Store is the port the coordinator uses for all file movement.
type Store interface {
	// CreateJobDir creates the job's working directory and returns its path.
	CreateJobDir(jobID string) (string, error)

	// FetchSource downloads the source video into the job directory and
	// returns the local path.
	FetchSource(ctx context.Context, jobID, sourceURL string) (string, error)

	// UploadResult publishes the final MP4 and returns its download URL.
	UploadResult(ctx context.Context, jobID, filePath string) (string, error)

	// CleanupJob removes the job's working directory. Best effort.
	CleanupJob(jobID string)
}

// Layout computes the per-job temp file layout rooted at tempRoot.
type Layout struct {
	Root string
}

// JobDir returns the working directory for a job.
func (l Layout) JobDir(jobID string) string {
	return filepath.Join(l.Root, jobID)
}

// SegmentPath returns the output path for one segment, keyed by the
// segment's plan index.
func (l Layout) SegmentPath(jobID string, segmentIdx int) string {
	return filepath.Join(l.JobDir(jobID), fmt.Sprintf("segment_%d.mp4", segmentIdx))
}

// FinalPath returns the merged output path for a job.
func (l Layout) FinalPath(jobID string) string {
	return filepath.Join(l.JobDir(jobID), "final.mp4")
}

// SourcePath returns where the downloaded source video lands.
func (l Layout) SourcePath(jobID string) string {
	return filepath.Join(l.JobDir(jobID), "source.mp4")
}
