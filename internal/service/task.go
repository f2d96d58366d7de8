package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/herald-notify/herald/internal/core"
	domaintask "github.com/herald-notify/herald/internal/domain/task"
	"github.com/herald-notify/herald/internal/domain/model"
)

// TaskServiceOptions groups dependencies for TaskService.
type TaskServiceOptions struct {
	Repo            core.TaskRepository      // Required: task repository
	DefaultLease    time.Duration            // Required: default lease duration
	Logger          *slog.Logger             // Optional: structured logger
	LeasePolicy     *domaintask.LeasePolicy  // Optional: override default lease policy
	Notifier        domaintask.Notifier      // Optional: custom availability notifier
	NotifierOptions domaintask.NotifierOptions
}

// TaskService provides queue operations for task workers: enqueue, lease-based
// reservation, availability subscriptions, and lifecycle transitions.
type TaskService struct {
	repo        core.TaskRepository
	leasePolicy *domaintask.LeasePolicy
	notifier    domaintask.Notifier
	logger      *slog.Logger
}

// NewTaskService constructs a new TaskService.
func NewTaskService(opts TaskServiceOptions) (*TaskService, error) {
	if opts.Repo == nil {
		return nil, errors.New("TaskRepository is required")
	}

	var leasePolicy *domaintask.LeasePolicy
	switch {
	case opts.LeasePolicy != nil:
		leasePolicy = opts.LeasePolicy
	case opts.DefaultLease > 0:
		var err error
		leasePolicy, err = domaintask.NewLeasePolicy(opts.DefaultLease)
		if err != nil {
			return nil, fmt.Errorf("create lease policy: %w", err)
		}
	default:
		return nil, errors.New("DefaultLease must be positive")
	}

	notifier := opts.Notifier
	if notifier == nil {
		options := opts.NotifierOptions
		if options.Waiter == nil {
			options.Waiter = opts.Repo
		}
		var err error
		notifier, err = domaintask.NewNotifier(options)
		if err != nil {
			return nil, fmt.Errorf("create task notifier: %w", err)
		}
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "task_service")
	}

	return &TaskService{
		repo:        opts.Repo,
		leasePolicy: leasePolicy,
		notifier:    notifier,
		logger:      logger,
	}, nil
}

// MustNewTaskService constructs a new TaskService and panics on error.
func MustNewTaskService(opts TaskServiceOptions) *TaskService {
	svc, err := NewTaskService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast during startup
		panic(fmt.Sprintf("failed to create TaskService: %v", err))
	}
	return svc
}

// Enqueue persists a new task and wakes waiting workers.
func (s *TaskService) Enqueue(ctx context.Context, req *model.EnqueueTaskRequest) (*model.Task, error) {
	task, err := s.repo.Enqueue(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("enqueue task: %w", err)
	}

	if s.logger != nil {
		s.logger.DebugContext(ctx, "task enqueued", "id", task.ID, "type", task.Type)
	}
	return task, nil
}

// ReserveNext reserves the next available task of the given type under a lease.
func (s *TaskService) ReserveNext(
	ctx context.Context,
	taskType model.TaskType,
	lease time.Duration,
) (*model.Task, error) {
	decision := s.leasePolicy.Resolve(lease)
	if decision.Clamped() && s.logger != nil {
		s.logger.DebugContext(ctx, "clamped sub-second lease duration to 1 second",
			"requested_duration", decision.Requested,
			"task_type", taskType)
	}

	task, err := s.repo.ReserveNext(ctx, taskType, decision.Seconds)
	if err != nil {
		return nil, fmt.Errorf("reserve next task: %w", err)
	}

	if s.logger != nil && task != nil {
		s.logger.DebugContext(ctx, "task reserved",
			"id", task.ID,
			"type", taskType,
			"lease_seconds", decision.Seconds)
	}
	return task, nil
}

// Subscribe creates a subscription for task notifications of the given type.
// Returns an unsubscribe function and a channel that receives notifications.
func (s *TaskService) Subscribe(taskType model.TaskType) (func(), <-chan struct{}) {
	if s.notifier == nil {
		ch := make(chan struct{})
		close(ch)
		return func() {}, ch
	}
	return s.notifier.Subscribe(taskType)
}

// Heartbeat extends the lease on a task to indicate it's still being processed.
func (s *TaskService) Heartbeat(ctx context.Context, id string, extend time.Duration) (bool, error) {
	decision := s.leasePolicy.Resolve(extend)
	updated, err := s.repo.Heartbeat(ctx, id, decision.Seconds)
	if err != nil {
		return false, fmt.Errorf("heartbeat task %s: %w", id, err)
	}
	return updated, nil
}

// Complete marks a task as completed successfully.
func (s *TaskService) Complete(ctx context.Context, id string) (bool, error) {
	completed, err := s.repo.Complete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("complete task %s: %w", id, err)
	}

	if s.logger != nil && completed {
		s.logger.DebugContext(ctx, "task completed", "id", id)
	}
	return completed, nil
}

// Fail marks a task as failed with the given error message. The repository
// reschedules the task until its retry budget is exhausted.
func (s *TaskService) Fail(ctx context.Context, id, errMsg string) (bool, error) {
	if errMsg == "" {
		return false, errors.New("error message required")
	}

	failed, err := s.repo.Fail(ctx, id, errMsg)
	if err != nil {
		return false, fmt.Errorf("fail task %s: %w", id, err)
	}

	if s.logger != nil && failed {
		s.logger.DebugContext(ctx, "task failed", "id", id, "error", errMsg)
	}
	return failed, nil
}

// StopAllListeners stops all active task notification listeners. Called during
// graceful shutdown to clean up goroutines.
func (s *TaskService) StopAllListeners() {
	if s.logger != nil {
		s.logger.Info("stopping all task listeners")
	}
	if s.notifier != nil {
		s.notifier.StopAll()
	}
}
