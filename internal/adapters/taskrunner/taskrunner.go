// Package taskrunner provides the worker loop executing queued bulk engine
// tasks: job fan-out and shard page processing.
package taskrunner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/herald-notify/herald/internal/domain/model"
	"github.com/herald-notify/herald/internal/observability/metrics"
	"github.com/herald-notify/herald/internal/observability/statsd"
	"github.com/herald-notify/herald/internal/service"
)

// HandlerFunc processes a task and returns error to indicate failure, which
// is retried per the task's retry policy.
type HandlerFunc func(ctx context.Context, task *model.Task) error

// RunnerOptions configures the task runner adapter.
type RunnerOptions struct {
	Tasks     *service.TaskService    // Required: queue operations
	Processor *service.ShardProcessor // Required: fan-out and page handlers
	Logger    *slog.Logger

	// Task processing settings
	Lease       time.Duration  // per-task lease duration; defaults to 30s
	Concurrency int            // number of worker goroutines; defaults to 1
	TaskType    model.TaskType // which task type to process; defaults to shard_page

	Metrics statsd.Sink
}

// Runner pulls tasks of one type and executes them using registered handlers.
// A deployment runs one fan-out runner and one or more shard-page runners
// against the same queue.
type Runner struct {
	tasks    *service.TaskService
	logger   *slog.Logger
	lease    time.Duration
	taskType model.TaskType
	workers  int
	handlers map[model.TaskType]HandlerFunc
	metrics  statsd.Sink
}

// NewRunner constructs a task runner for a single task type.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Tasks == nil {
		return nil, errors.New("TaskService is required")
	}
	if opts.Processor == nil {
		return nil, errors.New("ShardProcessor is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	lease := opts.Lease
	if lease <= 0 {
		lease = 30 * time.Second
	}
	workers := opts.Concurrency
	if workers <= 0 {
		workers = 1
	}
	tt := opts.TaskType
	if !tt.Valid() {
		tt = model.TaskTypeShardPage
	}

	r := &Runner{
		tasks:    opts.Tasks,
		logger:   logger.With("component", "task_runner", "task_type", string(tt)),
		lease:    lease,
		taskType: tt,
		workers:  workers,
		handlers: make(map[model.TaskType]HandlerFunc),
		metrics:  opts.Metrics,
	}
	r.handlers[model.TaskTypeFanOut] = fanOutHandler(opts.Processor)
	r.handlers[model.TaskTypeShardPage] = shardPageHandler(opts.Processor)
	return r, nil
}

// Run starts worker goroutines and processes tasks until the context is
// cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting task runner", "workers", r.workers, "lease", r.lease)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	unsub, ch := r.tasks.Subscribe(r.taskType)
	defer unsub()

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	for range r.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.workerLoop(ctx, ch); err != nil {
				// first error wins, cancels all workers
				select {
				case errCh <- err:
					cancel()
				default:
				}
			}
		}()
	}

	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return ctx.Err()
	}
}

func (r *Runner) workerLoop(ctx context.Context, notify <-chan struct{}) error {
	for ctx.Err() == nil {
		task, err := r.tasks.ReserveNext(ctx, r.taskType, r.lease)
		switch {
		case err == nil:
			if task != nil {
				r.processTask(ctx, task)
			}
		case errors.Is(err, model.ErrNoTasksAvailable):
			if !r.waitForNotify(ctx, notify) {
				return nil
			}
		default:
			return fmt.Errorf("reserve next: %w", err)
		}
	}
	return ctx.Err()
}

func (r *Runner) waitForNotify(ctx context.Context, notify <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return false
	case <-notify:
		return true
	}
}

func (r *Runner) processTask(ctx context.Context, task *model.Task) {
	start := time.Now()
	emit := func(transition, result string, err error) {
		metrics.EmitTaskLifecycle(r.metrics, metrics.TaskMetric{
			TaskType:   string(task.Type),
			Transition: transition,
			Result:     result,
			Duration:   time.Since(start),
			Err:        err,
		})
	}

	h, ok := r.handlers[task.Type]
	if !ok {
		err := fmt.Errorf("no handler for task type %s", task.Type)
		r.fail(ctx, task.ID, err.Error())
		emit("failed", metrics.ResultError, err)
		return
	}
	if err := h(ctx, task); err != nil {
		r.logger.WarnContext(ctx, "task handler failed", "task_id", task.ID, "error", err)
		r.fail(ctx, task.ID, err.Error())
		emit("failed", metrics.ResultError, err)
		return
	}
	if completed, err := r.tasks.Complete(ctx, task.ID); err != nil {
		r.logger.ErrorContext(ctx, "complete task error", "task_id", task.ID, "error", err)
		emit("completed", metrics.ResultError, err)
	} else {
		result := metrics.ResultNoop
		if completed {
			result = metrics.ResultSuccess
		}
		emit("completed", result, nil)
	}
}

func (r *Runner) fail(ctx context.Context, id, msg string) {
	if _, err := r.tasks.Fail(ctx, id, msg); err != nil {
		r.logger.ErrorContext(ctx, "fail task error", "task_id", id, "error", err)
	}
}

func fanOutHandler(p *service.ShardProcessor) HandlerFunc {
	return func(ctx context.Context, task *model.Task) error {
		var payload model.FanOutPayload
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			return fmt.Errorf("decode fan-out payload: %w", err)
		}
		if payload.WorkspaceID == "" || payload.JobID == "" {
			return errors.New("fan-out payload missing job reference")
		}
		return p.FanOut(ctx, payload)
	}
}

func shardPageHandler(p *service.ShardProcessor) HandlerFunc {
	return func(ctx context.Context, task *model.Task) error {
		var payload model.ShardPagePayload
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			return fmt.Errorf("decode shard page payload: %w", err)
		}
		if payload.WorkspaceID == "" || payload.JobID == "" || payload.Shard < 1 {
			return errors.New("shard page payload missing job reference or shard")
		}
		return p.ProcessPage(ctx, payload)
	}
}
