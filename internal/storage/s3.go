package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/motionrender/render-api/internal/fault"
)

// S3Config holds the configuration for S3 storage.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Optional: for custom S3-compatible endpoints
	AccessKeyID     string // Optional: AWS access key ID
	SecretAccessKey string // Optional: AWS secret access key
}

// s3API is the slice of the S3 client the store uses.
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Compile-time check that S3Store implements Store.
var _ Store = (*S3Store)(nil)

// S3Store layers object-store access over LocalStore: s3:// sources are
// fetched with GetObject and final results are uploaded under
// rendered/{jobId}.mp4.
type S3Store struct {
	*LocalStore
	client s3API
	bucket string
	region string
}

// NewS3Store creates an S3Store over the given local store.
func NewS3Store(local *LocalStore, cfg S3Config) (*S3Store, error) {
	configOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), configOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Store{
		LocalStore: local,
		client:     s3.NewFromConfig(awsCfg, clientOpts...),
		bucket:     cfg.Bucket,
		region:     cfg.Region,
	}, nil
}

// FetchSource handles s3:// sources itself and defers everything else
// to the local store.
func (s *S3Store) FetchSource(ctx context.Context, jobID, sourceURL string) (string, error) {
	u, err := url.Parse(sourceURL)
	if err != nil {
		return "", fault.Wrap(fault.KindInvalidInput, "parse source URL", err).WithJob(jobID)
	}
	if u.Scheme != "s3" {
		return s.LocalStore.FetchSource(ctx, jobID, sourceURL)
	}

	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fault.Wrap(fault.KindSourceUnavailable, "get source object", err).WithJob(jobID)
	}
	defer func() { _ = out.Body.Close() }()

	dest := s.layout.SourcePath(jobID)
	if err := writeStream(dest, out.Body); err != nil {
		return "", fault.Wrap(fault.KindSourceUnavailable, "write source object", err).WithJob(jobID)
	}
	return dest, nil
}

// ResultKey is the object key the final MP4 is uploaded under.
func ResultKey(jobID string) string {
	return fmt.Sprintf("rendered/%s.mp4", jobID)
}

// UploadResult uploads the final MP4 and returns its public URL.
func (s *S3Store) UploadResult(ctx context.Context, jobID, filePath string) (string, error) {
	f, err := os.Open(filePath) // #nosec G304 - path is derived from the job layout
	if err != nil {
		return "", fault.Wrap(fault.KindInternal, "open result file", err).WithJob(jobID)
	}
	defer func() { _ = f.Close() }()

	key := ResultKey(jobID)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return "", fault.Wrap(fault.KindInternal, "upload result", err).WithJob(jobID)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key), nil
}
