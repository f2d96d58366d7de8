package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/herald-notify/herald/config"
	"github.com/herald-notify/herald/internal/adapters/dispatch"
	"github.com/herald-notify/herald/internal/adapters/payloadstore"
	"github.com/herald-notify/herald/internal/adapters/reaper"
	"github.com/herald-notify/herald/internal/adapters/taskrunner"
	"github.com/herald-notify/herald/internal/domain/model"
	"github.com/herald-notify/herald/internal/observability/statsd"
	"github.com/herald-notify/herald/internal/service"
)

// AdapterContainer holds the outbound adapters shared by all services.
type AdapterContainer struct {
	Payloads   *payloadstore.MinioStore
	Dispatcher *dispatch.HTTPDispatcher
}

// BuildAdapters constructs the payload store and dispatch adapters from config.
func BuildAdapters(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (AdapterContainer, error) {
	store, err := payloadstore.NewMinioStore(payloadstore.MinioStoreOptions{
		EndpointURL:     cfg.ObjectStore.EndpointURL,
		AccessKeyID:     cfg.ObjectStore.AccessKeyID,
		SecretAccessKey: cfg.ObjectStore.SecretAccessKey,
		Bucket:          cfg.ObjectStore.Bucket,
		Region:          cfg.ObjectStore.Region,
		UseSSL:          cfg.ObjectStore.UseSSL,
		Logger:          logger,
	})
	if err != nil {
		return AdapterContainer{}, fmt.Errorf("create payload store: %w", err)
	}

	if cfg.ObjectStore.EnsureBucketOnStart {
		if err := store.EnsureBucket(ctx); err != nil {
			return AdapterContainer{}, fmt.Errorf("ensure payload bucket: %w", err)
		}
	}

	dispatcher, err := dispatch.NewHTTPDispatcher(dispatch.HTTPDispatcherOptions{
		Endpoint:      cfg.Dispatch.Endpoint,
		APIToken:      cfg.Dispatch.APIToken,
		MessageIDPath: cfg.Dispatch.MessageIDPath,
		Logger:        logger,
	})
	if err != nil {
		return AdapterContainer{}, fmt.Errorf("create dispatcher: %w", err)
	}

	return AdapterContainer{
		Payloads:   store,
		Dispatcher: dispatcher,
	}, nil
}

// WorkerConfig contains configuration for one task worker runner.
type WorkerConfig struct {
	Tasks       *service.TaskService
	Processor   *service.ShardProcessor
	Logger      *slog.Logger
	Lease       time.Duration
	Concurrency int
	TaskType    model.TaskType
	Metrics     statsd.Sink
}

// RunWorker starts a task worker runner for one queue type.
func RunWorker(ctx context.Context, cfg WorkerConfig) error {
	runner, err := taskrunner.NewRunner(taskrunner.RunnerOptions{
		Tasks:       cfg.Tasks,
		Processor:   cfg.Processor,
		Logger:      cfg.Logger,
		Lease:       cfg.Lease,
		Concurrency: cfg.Concurrency,
		TaskType:    cfg.TaskType,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create %s worker: %w", cfg.TaskType, err)
	}

	return runner.Run(ctx)
}

// ReaperConfig contains configuration for reaper.
type ReaperConfig struct {
	DB      *sql.DB
	Logger  *slog.Logger
	Config  config.ReaperConfig
	Metrics statsd.Sink
}

// RunReaper starts the reaper service.
func RunReaper(ctx context.Context, cfg ReaperConfig) error {
	runner, err := reaper.NewRunner(reaper.RunnerOptions{
		DB:      cfg.DB,
		Config:  cfg.Config,
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create reaper runner: %w", err)
	}

	return runner.Run(ctx)
}
