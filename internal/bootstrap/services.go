package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/herald-notify/herald/config"
	"github.com/herald-notify/herald/internal/core"
	"github.com/herald-notify/herald/internal/data"
	"github.com/herald-notify/herald/internal/domain/model"
	"github.com/herald-notify/herald/internal/observability/statsd"
	"github.com/herald-notify/herald/internal/service"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	BulkJobs      *service.BulkJobService
	Users         *service.UserReader
	Tasks         *service.TaskService
	Processor     *service.ShardProcessor
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	MetricsSink   *statsd.Client
	MetricsConfig config.ObservabilityMetricsConfig
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Payloads    core.PayloadStore
	Dispatcher  core.Dispatcher
	Logger      *slog.Logger
}

// serviceRepositories groups data adapters backing service ports.
type serviceRepositories struct {
	JobRepo       *data.BulkJobRepo
	RecipientRepo *data.RecipientRepo
	TaskRepo      *data.TaskRepo
	CacheRepo     *data.RedisCacheRepo
}

// buildObservability configures the metrics sink. A sink that fails to dial
// degrades to no metrics rather than blocking startup.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig) ObservabilityContainer {
	obsLogger := logger
	if obsLogger == nil {
		obsLogger = slog.Default()
	}

	container := ObservabilityContainer{MetricsConfig: cfg.Metrics}
	if !cfg.Metrics.IsEnabled() {
		return container
	}

	client, err := statsd.NewClient(statsd.Config{
		Enabled: true,
		Address: cfg.Metrics.StatsdAddress,
		Prefix:  cfg.Metrics.Prefix,
		Logger:  obsLogger,
	})
	if err != nil {
		obsLogger.Error("failed to initialise statsd client", "error", err)
		return container
	}
	container.MetricsSink = client
	return container
}

// buildRepositories builds repositories backing service ports; no business rules here.
func buildRepositories(db *sql.DB, redisClient redis.UniversalClient, logger *slog.Logger) *serviceRepositories {
	repos := &serviceRepositories{
		JobRepo:       data.NewBulkJobRepo(db, data.BulkJobRepoConfig{Logger: logger}),
		RecipientRepo: data.NewRecipientRepo(db, data.RecipientRepoConfig{Logger: logger}),
		TaskRepo:      data.NewTaskRepo(db, data.TaskRepoConfig{Logger: logger}),
	}
	if redisClient != nil {
		repos.CacheRepo = data.NewRedisCacheRepo(redisClient)
	}
	return repos
}

// NewServices wires the full service graph from repositories and adapters.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil {
		return ServiceContainer{}, errors.New("service deps are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	appCfg := deps.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}

	observability := buildObservability(logger, appCfg.Observability)
	repos := buildRepositories(deps.DB, deps.RedisClient, logger)

	// cache may be nil; services fall back to the payload store on every read
	var cache core.CacheRepository
	if repos.CacheRepo != nil {
		cache = repos.CacheRepo
	}

	taskService, err := service.NewTaskService(service.TaskServiceOptions{
		Repo:         repos.TaskRepo,
		DefaultLease: appCfg.Worker.TaskLease,
		Logger:       logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create task service: %w", err)
	}

	bulkJobs, err := service.NewBulkJobService(service.BulkJobServiceOptions{
		Jobs:       repos.JobRepo,
		Recipients: repos.RecipientRepo,
		Tasks:      taskService,
		Payloads:   deps.Payloads,
		Cache:      cache,
		Logger:     logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create bulk job service: %w", err)
	}

	processor, err := service.NewShardProcessor(service.ShardProcessorOptions{
		Jobs:       repos.JobRepo,
		Recipients: repos.RecipientRepo,
		Tasks:      taskService,
		Payloads:   deps.Payloads,
		Dispatcher: deps.Dispatcher,
		Cache:      cache,
		PageSize:   appCfg.Worker.PageSize,
		Logger:     logger,
		Metrics:    observability.MetricsSink,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create shard processor: %w", err)
	}

	users, err := service.NewUserReader(service.UserReaderOptions{
		Jobs:       repos.JobRepo,
		Recipients: repos.RecipientRepo,
		Payloads:   deps.Payloads,
		Logger:     logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create user reader: %w", err)
	}

	return ServiceContainer{
		BulkJobs:      bulkJobs,
		Users:         users,
		Tasks:         taskService,
		Processor:     processor,
		Observability: observability,
	}, nil
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// shutdownWaitTimeout bounds how long shutdown waits for components to drain.
const shutdownWaitTimeout = 15 * time.Second

// component is one background unit of the runtime, gated on a service mode.
type component struct {
	mode config.ServiceMode
	name string
	run  func(context.Context) error
}

func (cfg *ServiceOrchestrationConfig) components(logger *slog.Logger) []component {
	worker := cfg.Config.Worker
	metrics := cfg.Services.Observability.MetricsSink

	workerComponent := func(taskType model.TaskType, concurrency int) component {
		return component{
			mode: config.ServiceModeWorker,
			name: string(taskType) + " worker",
			run: func(ctx context.Context) error {
				return RunWorker(ctx, WorkerConfig{
					Tasks:       cfg.Services.Tasks,
					Processor:   cfg.Services.Processor,
					Logger:      logger,
					Lease:       worker.TaskLease,
					Concurrency: concurrency,
					TaskType:    taskType,
					Metrics:     metrics,
				})
			},
		}
	}

	return []component{
		workerComponent(model.TaskTypeFanOut, worker.FanOutConcurrency),
		workerComponent(model.TaskTypeShardPage, worker.ShardPageConcurrency),
		{
			mode: config.ServiceModeReaper,
			name: "reaper",
			run: func(ctx context.Context) error {
				return RunReaper(ctx, ReaperConfig{
					DB:      cfg.DB,
					Logger:  logger,
					Config:  cfg.Config.Reaper,
					Metrics: metrics,
				})
			},
		},
	}
}

// RunServicesWithShutdown starts every enabled component and blocks until a
// shutdown signal arrives or one of them fails. Workers returning
// context.Canceled after a signal count as a clean stop.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabled, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	started := 0
	for _, c := range cfg.components(logger) {
		if !enabled[c.mode] {
			continue
		}
		started++
		logger.InfoContext(ctx, "background service started", "service", c.name, "mode", c.mode)

		group.Go(func() error {
			err := c.run(groupCtx)
			if err == nil || errors.Is(err, context.Canceled) {
				logger.Info(c.name + " stopped")
				return nil
			}
			logger.Error("service error", "service", c.name, "error", err)
			return fmt.Errorf("%s failed: %w", c.name, err)
		})
	}
	if started == 0 {
		return errors.New("no services enabled")
	}

	// A signal or the first component failure cancels groupCtx either way.
	<-groupCtx.Done()
	logger.Info("shutting down services...")
	stop()

	runErr := waitForDrain(group, logger)

	if cfg.Services.Tasks != nil {
		cfg.Services.Tasks.StopAllListeners()
	}
	return runErr
}

// waitForDrain waits for the component group to finish, giving up after the
// shutdown timeout so a stuck worker cannot wedge process exit.
func waitForDrain(group *errgroup.Group, logger *slog.Logger) error {
	done := make(chan error, 1)
	go func() { done <- group.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for services to stop")
		return nil
	}
}
