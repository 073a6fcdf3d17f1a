// Package bootstrap provides dependency initialization for the render API.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/motionrender/render-api/internal/callback"
	"github.com/motionrender/render-api/internal/config"
	"github.com/motionrender/render-api/internal/coordinator"
	"github.com/motionrender/render-api/internal/encoder"
	"github.com/motionrender/render-api/internal/job"
	"github.com/motionrender/render-api/internal/merger"
	"github.com/motionrender/render-api/internal/metrics"
	"github.com/motionrender/render-api/internal/pipeline"
	"github.com/motionrender/render-api/internal/planner"
	"github.com/motionrender/render-api/internal/progress"
	"github.com/motionrender/render-api/internal/renderer"
	"github.com/motionrender/render-api/internal/server"
	"github.com/motionrender/render-api/internal/storage"
	"github.com/motionrender/render-api/internal/worker"
)

// Dependencies holds all initialized dependencies for the application.
type Dependencies struct {
	Queue       job.Queue
	Coordinator *coordinator.Coordinator
	Governor    *pipeline.Governor
	Router      http.Handler

	redisClient *redis.Client
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{}

	registry := prometheus.NewRegistry()
	metrics.Register(registry)
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Job queue and progress store share the Redis client when configured.
	queue, publisher, err := initStore(cfg, logger, deps)
	if err != nil {
		return nil, err
	}
	deps.Queue = queue

	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	detector := encoder.NewDetector(cfg.FFmpegPath)
	enc := encoder.New(cfg.FFmpegPath, cfg.UseGPUEncoding, detector)

	governor := pipeline.NewGovernor(
		pipeline.NewPlatformSampler(),
		cfg.MemThresholdMB,
		float64(cfg.CPUThresholdPct),
		logger,
	)
	deps.Governor = governor

	renderers := renderer.NewFFmpegFactory(cfg.FFmpegPath, logger)
	wkr := worker.New(
		renderers,
		&worker.EncoderAdapter{Enc: enc},
		governor,
		publisher,
		logger,
		worker.WithMaxDropRate(cfg.MaxFrameDropRate),
	)
	pool := worker.NewPool(cfg.WorkerPoolSize)

	deps.Coordinator = coordinator.New(
		queue,
		store,
		pool,
		wkr,
		planner.New(planner.DefaultOpts()),
		merger.New(cfg.FFmpegPath, logger),
		callback.New(cfg.CallbackRetryCount, time.Duration(cfg.CallbackTimeoutSec)*time.Second, logger),
		publisher,
		coordinator.Config{
			RenderTimeout:     time.Duration(cfg.RenderingTimeoutSec) * time.Second,
			AllowPartialMerge: true,
		},
		logger,
	)

	handlers := server.NewHandlers(queue, logger)
	deps.Router = server.NewRouter(handlers, logger, server.Config{
		AllowedOrigins:  cfg.AllowedOrigins,
		MetricsRegistry: registry,
	})

	return deps, nil
}

// Close releases shared clients.
func (d *Dependencies) Close() error {
	if d.redisClient != nil {
		return d.redisClient.Close()
	}
	return nil
}

// initStore creates the job queue and progress publisher, backed by Redis
// when STORE_URL is set and in-memory otherwise.
func initStore(cfg *config.Config, logger *slog.Logger, deps *Dependencies) (job.Queue, *progress.Publisher, error) {
	leaseTimeout := time.Duration(cfg.LeaseTimeoutSec) * time.Second

	if !cfg.RedisEnabled() {
		logger.Info("in-memory job store configured")
		queue := job.NewMemoryQueue(cfg.MaxConcurrentJobs, leaseTimeout)
		return queue, progress.NewPublisher(progress.NewMemoryStore()), nil
	}

	opts, err := redis.ParseURL(cfg.StoreURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse store URL: %w", err)
	}
	client := redis.NewClient(opts)
	deps.redisClient = client

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("redis job store configured", slog.String("addr", opts.Addr))

	queue := job.NewRedisQueue(client, cfg.MaxConcurrentJobs, leaseTimeout)
	return queue, progress.NewPublisher(progress.NewRedisStore(client)), nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	localStore, err := storage.NewLocalStore(cfg.TempDir, logger)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}

	if cfg.S3Enabled() {
		s3Store, err := storage.NewS3Store(localStore, storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
	)
	return localStore, nil
}
