// Package reaper runs the task queue maintenance loop as a standalone
// component.
package reaper

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/herald-notify/herald/config"
	"github.com/herald-notify/herald/internal/core"
	"github.com/herald-notify/herald/internal/data"
	"github.com/herald-notify/herald/internal/observability/statsd"
	"github.com/herald-notify/herald/internal/service"
)

// RunnerOptions holds the dependencies for creating a Runner. Repo overrides
// the default TaskRepo when tests need to stand in for the database.
type RunnerOptions struct {
	DB     *sql.DB
	Config config.ReaperConfig
	Logger *slog.Logger

	Repo    core.ReaperRepository
	Metrics statsd.Sink
}

// Runner owns a constructed ReaperService and its maintenance loop.
type Runner struct {
	reaper *service.ReaperService
	logger *slog.Logger
}

// NewRunner builds the reaper service over either the injected repository or
// a TaskRepo on the given database.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.DB == nil && opts.Repo == nil {
		return nil, errors.New("database connection is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	repo := opts.Repo
	if repo == nil {
		repo = data.NewTaskRepo(opts.DB, data.TaskRepoConfig{Logger: logger})
	}

	svc, err := service.NewReaperService(service.ReaperServiceOptions{
		Repo:    repo,
		Config:  opts.Config,
		Logger:  logger,
		Metrics: opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("wire reaper service: %w", err)
	}

	return &Runner{reaper: svc, logger: logger}, nil
}

// Run blocks on the maintenance loop until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting reaper runner")
	return r.reaper.Run(ctx)
}
