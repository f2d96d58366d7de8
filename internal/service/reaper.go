package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/herald-notify/herald/config"
	"github.com/herald-notify/herald/internal/core"
	"github.com/herald-notify/herald/internal/domain/model"
	obserrors "github.com/herald-notify/herald/internal/observability/errors"
	"github.com/herald-notify/herald/internal/observability/metrics"
	"github.com/herald-notify/herald/internal/observability/statsd"
)

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Repo    core.ReaperRepository // Required: reaper repository
	Config  config.ReaperConfig   // Required: reaper configuration
	Logger  *slog.Logger          // Optional: structured logger
	Metrics statsd.Sink           // Optional: metrics sink (StatsD-compatible)
}

// ReaperService provides task queue maintenance.
//
// This service manages:
// - Requeueing tasks whose worker died mid-lease, so no queue strands work.
// - Deleting old completed tasks to prevent database bloat.
// - Deleting old failed tasks once their error details are no longer needed.
//
// Workers already requeue expired leases of the type they poll; the reaper
// covers queues nobody is polling and applies retention.
type ReaperService struct {
	repo    core.ReaperRepository
	config  config.ReaperConfig
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Repo == nil {
		return nil, errors.New("ReaperRepository is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "reaper_service")
		logger.Debug("ReaperService initialized",
			"interval", opts.Config.Interval,
			"completed_max_age", opts.Config.CompletedMaxAge,
			"failed_max_age", opts.Config.FailedMaxAge,
		)
	}

	return &ReaperService{
		repo:    opts.Repo,
		config:  opts.Config,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// Run starts the reaper loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *ReaperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting reaper service", "interval", s.config.Interval)
	}

	// Jitter the first pass so co-started instances don't clean in lockstep.
	if maxJitter := int64(s.config.Interval / 10); maxJitter > 0 {
		select {
		case <-time.After(time.Duration(rand.Int64N(maxJitter))):
		case <-ctx.Done():
		}
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if err := s.runCleanup(ctx); err != nil {
		s.logCleanupError(err, "initial cleanup")
	}

	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			// A failed pass is retried at the next tick; only shutdown
			// stops the loop.
			if err := s.runCleanup(ctx); err != nil {
				s.logCleanupError(err, "cleanup")
			}
		}
	}
}

// stepResult records one maintenance step's outcome for metrics and error
// aggregation.
type stepResult struct {
	operation string
	count     int64
	err       error
}

func (r stepResult) canceled() bool { return isContextCancellation(r.err) }

// runCleanup executes every maintenance step, emits metrics, and joins the
// step errors. A step failing never skips the steps after it. When every
// failure is a context cancellation, the pass collapses to context.Canceled
// so Run can treat it as shutdown.
func (s *ReaperService) runCleanup(ctx context.Context) error {
	start := time.Now()

	results := []stepResult{
		s.runStep(ctx, "requeue_expired", s.requeueExpiredLeases),
		s.runStep(ctx, "delete_completed", s.deleteOldCompletedTasks),
		s.runStep(ctx, "delete_failed", s.deleteOldFailedTasks),
	}

	s.emitCleanupMetrics(results, time.Since(start))

	var errs []error
	allCanceled := true
	for _, r := range results {
		if r.err == nil {
			continue
		}
		errs = append(errs, fmt.Errorf("%s: %w", stepLabels[r.operation], r.err))
		allCanceled = allCanceled && r.canceled()
	}
	if len(errs) == 0 {
		return nil
	}

	joined := errors.Join(errs...)
	if allCanceled {
		return context.Canceled
	}
	return fmt.Errorf("cleanup failed: %w", joined)
}

var stepLabels = map[string]string{
	"requeue_expired":  "requeue expired leases",
	"delete_completed": "delete old completed tasks",
	"delete_failed":    "delete old failed tasks",
}

func (s *ReaperService) runStep(
	ctx context.Context,
	operation string,
	fn func(context.Context) (int64, error),
) stepResult {
	count, err := fn(ctx)
	return stepResult{operation: operation, count: count, err: err}
}

// requeueExpiredLeases returns expired running tasks of every queue type to
// pending so a dead worker never strands work.
func (s *ReaperService) requeueExpiredLeases(ctx context.Context) (int64, error) {
	var total int64
	for _, taskType := range model.AllTaskTypes() {
		count, err := s.repo.RequeueExpired(ctx, taskType)
		if err != nil {
			return total, err
		}
		total += count

		if count > 0 && s.logger != nil {
			s.logger.InfoContext(ctx, "requeued expired task leases",
				"task_type", taskType,
				"count", count,
			)
		}

		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}
	return total, nil
}

func (s *ReaperService) deleteOldCompletedTasks(ctx context.Context) (int64, error) {
	return s.deleteOldTasks(ctx, model.TaskStatusCompleted, s.config.CompletedMaxAge)
}

func (s *ReaperService) deleteOldFailedTasks(ctx context.Context) (int64, error) {
	return s.deleteOldTasks(ctx, model.TaskStatusFailed, s.config.FailedMaxAge)
}

// deleteOldTasks removes aged-out tasks of one terminal status in batches,
// looping until a batch comes back empty so retention keeps up with any
// backlog size.
func (s *ReaperService) deleteOldTasks(
	ctx context.Context,
	status model.TaskStatus,
	maxAge time.Duration,
) (int64, error) {
	var total int64
	for {
		count, err := s.repo.DeleteOldTasks(ctx, core.DeleteOldTasksParams{
			Status:    status,
			MaxAge:    maxAge,
			BatchSize: s.config.BatchSize,
		})
		if err != nil {
			return total, err
		}
		total += count
		if count == 0 {
			break
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}

	if total > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "deleted old tasks",
			"status", status,
			"count", total,
			"max_age", maxAge,
		)
	}

	return total, nil
}

func (s *ReaperService) emitCleanupMetrics(results []stepResult, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}

	var total int64
	var firstErr error
	for _, r := range results {
		total += r.count
		if firstErr == nil && r.err != nil && !r.canceled() {
			firstErr = r.err
		}
	}

	tags := map[string]string{
		"result": passResult(total, firstErr),
	}
	if firstErr != nil {
		if class := obserrors.Classify(firstErr); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("reaper.cleanup", 1, tags)
	if elapsed > 0 {
		s.metrics.Timing("reaper.cleanup_duration", elapsed, metrics.CloneTags(tags))
	}

	for _, r := range results {
		s.emitStepMetric(r)
	}

	if firstErr == nil {
		s.metrics.Gauge("reaper.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}

func (s *ReaperService) emitStepMetric(r stepResult) {
	err := r.err
	if r.canceled() {
		err = nil
	}

	tags := map[string]string{
		"operation": r.operation,
		"result":    passResult(r.count, err),
	}
	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("reaper.cleanup_operation", 1, tags)

	if err == nil && r.count > 0 {
		s.metrics.Count("reaper.tasks_processed", r.count, metrics.CloneTags(tags))
	}
}

func passResult(count int64, err error) string {
	switch {
	case err != nil:
		return metrics.ResultError
	case count == 0:
		return metrics.ResultNoop
	default:
		return metrics.ResultSuccess
	}
}

func (s *ReaperService) logCleanupError(err error, label string) {
	if err == nil || s.logger == nil {
		return
	}

	if isContextCancellation(err) {
		s.logger.Debug(label+" cancelled by context", "error", err)
		return
	}

	s.logger.Error(label+" failed", "error", err)
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
