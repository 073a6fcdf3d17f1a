// Package main provides the entry point for the render API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/motionrender/render-api/internal/bootstrap"
	"github.com/motionrender/render-api/internal/config"
)

// Exit codes.
const (
	exitOK          = 0
	exitFailure     = 1
	exitConfig      = 2
	exitInterrupted = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitConfig
	}

	// Create structured logger
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting render API",
		slog.Int("port", cfg.Port),
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
		slog.String("temp_dir", cfg.TempDir),
		slog.Int("max_concurrent_jobs", cfg.MaxConcurrentJobs),
		slog.Int("worker_pool_size", cfg.WorkerPoolSize),
		slog.Bool("gpu_encoding", cfg.UseGPUEncoding),
		slog.Bool("redis_enabled", cfg.RedisEnabled()),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
	)

	// Initialize dependencies using bootstrap
	deps, err := bootstrap.NewDependencies(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize dependencies", slog.String("error", err.Error()))
		return exitFailure
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Warn("failed to close dependencies", slog.String("error", err.Error()))
		}
	}()

	// Background loops stop when the signal context is cancelled
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go deps.Governor.Run(runCtx)
	go deps.Coordinator.Run(runCtx)

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      deps.Router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening",
			slog.String("addr", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	// Wait for shutdown signal or server error
	interrupted := false
	select {
	case <-runCtx.Done():
		interrupted = true
		logger.Info("received shutdown signal")
	case err := <-errCh:
		logger.Error("server error", slog.String("error", err.Error()))
		return exitFailure
	}

	// Graceful shutdown with timeout; in-flight jobs get a chance to
	// finish before the process exits.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("shutting down server...")
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", slog.String("error", err.Error()))
		return exitFailure
	}

	logger.Info("server stopped gracefully")
	if interrupted {
		return exitInterrupted
	}
	return exitOK
}
