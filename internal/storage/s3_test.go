package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/motionrender/render-api/internal/fault"
)

type stubS3 struct {
	getBody   []byte
	getErr    error
	putErr    error
	gotBucket string
	gotKey    string
	putBucket string
	putKey    string
	putBody   []byte
}

func (s *stubS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	s.gotBucket = *in.Bucket
	s.gotKey = *in.Key
	if s.getErr != nil {
		return nil, s.getErr
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(s.getBody))}, nil
}

func (s *stubS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	s.putBucket = *in.Bucket
	s.putKey = *in.Key
	if in.Body != nil {
		s.putBody, _ = io.ReadAll(in.Body)
	}
	if s.putErr != nil {
		return nil, s.putErr
	}
	return &s3.PutObjectOutput{}, nil
}

func newS3Store(t *testing.T, stub *stubS3) *S3Store {
	t.Helper()
	local, err := NewLocalStore(t.TempDir(), nil)
	require.NoError(t, err)
	return &S3Store{
		LocalStore: local,
		client:     stub,
		bucket:     "render-results",
		region:     "eu-west-1",
	}
}

func TestS3FetchSource(t *testing.T) {
	stub := &stubS3{getBody: []byte("video-bytes")}
	s := newS3Store(t, stub)
	_, err := s.CreateJobDir("job-1")
	require.NoError(t, err)

	path, err := s.FetchSource(context.Background(), "job-1", "s3://source-bucket/videos/input.mp4")
	require.NoError(t, err)
	assert.Equal(t, "source-bucket", stub.gotBucket)
	assert.Equal(t, "videos/input.mp4", stub.gotKey)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "video-bytes", string(data))
}

func TestS3FetchSource_Error(t *testing.T) {
	stub := &stubS3{getErr: assert.AnError}
	s := newS3Store(t, stub)
	_, err := s.CreateJobDir("job-1")
	require.NoError(t, err)

	_, err = s.FetchSource(context.Background(), "job-1", "s3://bucket/key.mp4")
	require.Error(t, err)
	assert.Equal(t, fault.KindSourceUnavailable, fault.KindOf(err))
}

func TestS3FetchSource_HTTPDelegatesToLocal(t *testing.T) {
	stub := &stubS3{}
	s := newS3Store(t, stub)

	src := filepath.Join(t.TempDir(), "local.mp4")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0600))

	path, err := s.FetchSource(context.Background(), "job-1", src)
	require.NoError(t, err)
	assert.Equal(t, src, path)
	assert.Empty(t, stub.gotBucket, "local fetch must not hit S3")
}

func TestS3UploadResult(t *testing.T) {
	stub := &stubS3{}
	s := newS3Store(t, stub)
	dir, err := s.CreateJobDir("job-1")
	require.NoError(t, err)

	final := filepath.Join(dir, "final.mp4")
	require.NoError(t, os.WriteFile(final, []byte("mp4-bytes"), 0600))

	url, err := s.UploadResult(context.Background(), "job-1", final)
	require.NoError(t, err)
	assert.Equal(t, "https://render-results.s3.eu-west-1.amazonaws.com/rendered/job-1.mp4", url)
	assert.Equal(t, "render-results", stub.putBucket)
	assert.Equal(t, "rendered/job-1.mp4", stub.putKey)
	assert.Equal(t, "mp4-bytes", string(stub.putBody))
}

func TestS3UploadResult_Error(t *testing.T) {
	stub := &stubS3{putErr: assert.AnError}
	s := newS3Store(t, stub)
	dir, err := s.CreateJobDir("job-1")
	require.NoError(t, err)

	final := filepath.Join(dir, "final.mp4")
	require.NoError(t, os.WriteFile(final, []byte("x"), 0600))

	_, err = s.UploadResult(context.Background(), "job-1", final)
	require.Error(t, err)
}
