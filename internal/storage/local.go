package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/motionrender/render-api/internal/fault"
)

// Static errors for storage operations.
var (
	// ErrUnsupportedScheme is returned for source URLs with a scheme no
	// store implementation handles.
	ErrUnsupportedScheme = errors.New("unsupported source URL scheme")
	// ErrObjectStoreNotConfigured is returned for s3:// sources and
	// uploads when no object store is configured.
	ErrObjectStoreNotConfigured = errors.New("object store is not configured")
)

// Compile-time check that LocalStore implements Store.
var _ Store = (*LocalStore)(nil)

// LocalStore implements Store on the local disk. Source fetch supports
// http(s) and plain file paths; results stay in the job directory and
// are addressed with a file:// URL.
type LocalStore struct {
	layout Layout
	client *http.Client
	log    *slog.Logger
}

// NewLocalStore creates a LocalStore rooted at tempRoot. An empty root
// defaults under os.TempDir(). The root is created if absent.
func NewLocalStore(tempRoot string, log *slog.Logger) (*LocalStore, error) {
	if tempRoot == "" {
		tempRoot = os.TempDir() + "/render"
	}
	if err := os.MkdirAll(tempRoot, 0750); err != nil {
		return nil, fmt.Errorf("create temp root: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &LocalStore{
		layout: Layout{Root: tempRoot},
		client: &http.Client{Timeout: 10 * time.Minute},
		log:    log,
	}, nil
}

// Layout exposes the per-job path layout.
func (s *LocalStore) Layout() Layout { return s.layout }

// CreateJobDir creates the job's working directory.
func (s *LocalStore) CreateJobDir(jobID string) (string, error) {
	dir := s.layout.JobDir(jobID)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fault.Wrap(fault.KindInternal, "create job directory", err).WithJob(jobID)
	}
	return dir, nil
}

// FetchSource downloads the source video into the job directory.
func (s *LocalStore) FetchSource(ctx context.Context, jobID, sourceURL string) (string, error) {
	u, err := url.Parse(sourceURL)
	if err != nil {
		return "", fault.Wrap(fault.KindInvalidInput, "parse source URL", err).WithJob(jobID)
	}
	dest := s.layout.SourcePath(jobID)

	switch u.Scheme {
	case "http", "https":
		if err := s.fetchHTTP(ctx, sourceURL, dest); err != nil {
			return "", fault.Wrap(fault.KindSourceUnavailable, "download source", err).WithJob(jobID)
		}
		return dest, nil
	case "s3":
		return "", fault.Wrap(fault.KindSourceUnavailable, "fetch source",
			fmt.Errorf("%w: s3", ErrObjectStoreNotConfigured)).WithJob(jobID)
	case "", "file":
		path := u.Path
		if u.Scheme == "" {
			path = sourceURL
		}
		if _, err := os.Stat(path); err != nil {
			return "", fault.Wrap(fault.KindSourceUnavailable, "stat source file", err).WithJob(jobID)
		}
		return path, nil
	default:
		return "", fault.Wrap(fault.KindInvalidInput, "fetch source",
			fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)).WithJob(jobID)
	}
}

func (s *LocalStore) fetchHTTP(ctx context.Context, sourceURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("source returned %d", resp.StatusCode)
	}
	return writeStream(dest, resp.Body)
}

// UploadResult keeps the file in place and returns a file:// URL.
func (s *LocalStore) UploadResult(_ context.Context, jobID, filePath string) (string, error) {
	if _, err := os.Stat(filePath); err != nil {
		return "", fault.Wrap(fault.KindInternal, "stat result file", err).WithJob(jobID)
	}
	return "file://" + filePath, nil
}

// CleanupJob removes the job's working directory.
func (s *LocalStore) CleanupJob(jobID string) {
	if err := os.RemoveAll(s.layout.JobDir(jobID)); err != nil {
		s.log.Warn("job cleanup failed", "jobId", jobID, "error", err)
	}
}

// writeStream copies a stream to a file, removing the partial file on
// failure.
func writeStream(dest string, r io.Reader) error {
	f, err := os.Create(dest) // #nosec G304 - dest is derived from the job layout
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(dest)
		return fmt.Errorf("write file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(dest)
		return fmt.Errorf("close file: %w", err)
	}
	return nil
}
