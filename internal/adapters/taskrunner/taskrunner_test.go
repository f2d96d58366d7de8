package taskrunner

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/herald-notify/herald/internal/domain/model"
	"github.com/herald-notify/herald/internal/mocks"
	"github.com/herald-notify/herald/internal/service"
)

type runnerTestDeps struct {
	taskRepo   *mocks.MockTaskRepository
	jobs       *mocks.MockBulkJobRepository
	recipients *mocks.MockRecipientRepository
	payloads   *mocks.MockPayloadStore
	dispatcher *mocks.MockDispatcher
	tasks      *service.TaskService
	processor  *service.ShardProcessor
}

func newRunnerDeps(t *testing.T, ctrl *gomock.Controller) runnerTestDeps {
	t.Helper()
	d := runnerTestDeps{
		taskRepo:   mocks.NewMockTaskRepository(ctrl),
		jobs:       mocks.NewMockBulkJobRepository(ctrl),
		recipients: mocks.NewMockRecipientRepository(ctrl),
		payloads:   mocks.NewMockPayloadStore(ctrl),
		dispatcher: mocks.NewMockDispatcher(ctrl),
	}

	tasks, err := service.NewTaskService(service.TaskServiceOptions{
		Repo:         d.taskRepo,
		DefaultLease: 30 * time.Second,
	})
	require.NoError(t, err)
	d.tasks = tasks

	processor, err := service.NewShardProcessor(service.ShardProcessorOptions{
		Jobs:       d.jobs,
		Recipients: d.recipients,
		Tasks:      tasks,
		Payloads:   d.payloads,
		Dispatcher: d.dispatcher,
	})
	require.NoError(t, err)
	d.processor = processor
	return d
}

func (d runnerTestDeps) newRunner(t *testing.T, taskType model.TaskType) *Runner {
	t.Helper()
	r, err := NewRunner(RunnerOptions{
		Tasks:     d.tasks,
		Processor: d.processor,
		TaskType:  taskType,
		Lease:     30 * time.Second,
	})
	require.NoError(t, err)
	return r
}

func TestFanOutHandler_RejectsMalformedPayload(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	deps := newRunnerDeps(t, ctrl)
	handler := fanOutHandler(deps.processor)

	// Neither payload may reach the processor; the mocks carry no expectations.
	err := handler(context.Background(), &model.Task{
		Type:    model.TaskTypeFanOut,
		Payload: json.RawMessage(`{not json`),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode fan-out payload")

	err = handler(context.Background(), &model.Task{
		Type:    model.TaskTypeFanOut,
		Payload: json.RawMessage(`{"workspace_id":"","job_id":"job-1"}`),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing job reference")
}

func TestShardPageHandler_RejectsMalformedPayload(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	deps := newRunnerDeps(t, ctrl)
	handler := shardPageHandler(deps.processor)

	err := handler(context.Background(), &model.Task{
		Type:    model.TaskTypeShardPage,
		Payload: json.RawMessage(`null`),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing job reference or shard")

	err = handler(context.Background(), &model.Task{
		Type:    model.TaskTypeShardPage,
		Payload: json.RawMessage(`{"workspace_id":"ws-1","job_id":"job-1","shard":0}`),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing job reference or shard")
}

func TestRunner_ProcessesFanOutTaskAndStopsOnCancel(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	deps := newRunnerDeps(t, ctrl)
	runner := deps.newRunner(t, model.TaskTypeFanOut)

	fanOut, err := json.Marshal(model.FanOutPayload{WorkspaceID: "ws-test", JobID: "job-1"})
	require.NoError(t, err)
	reserved := &model.Task{
		ID:      "task-1",
		Type:    model.TaskTypeFanOut,
		Status:  model.TaskStatusRunning,
		Payload: fanOut,
	}

	first := deps.taskRepo.EXPECT().
		ReserveNext(gomock.Any(), model.TaskTypeFanOut, 30).
		Return(reserved, nil)
	deps.taskRepo.EXPECT().
		ReserveNext(gomock.Any(), model.TaskTypeFanOut, 30).
		Return(nil, model.ErrNoTasksAvailable).
		AnyTimes().
		After(first)

	// The notifier's listener parks here until the runner shuts down.
	deps.taskRepo.EXPECT().
		WaitForNotification(gomock.Any(), model.TaskTypeFanOut).
		DoAndReturn(func(ctx context.Context, _ model.TaskType) error {
			<-ctx.Done()
			return ctx.Err()
		}).
		AnyTimes()

	deps.taskRepo.EXPECT().
		Enqueue(gomock.Any(), gomock.AssignableToTypeOf(&model.EnqueueTaskRequest{})).
		DoAndReturn(func(_ context.Context, req *model.EnqueueTaskRequest) (*model.Task, error) {
			assert.Equal(t, model.TaskTypeShardPage, req.Type)
			return &model.Task{ID: "page-task", Type: req.Type}, nil
		}).
		Times(10)

	completed := make(chan struct{})
	deps.taskRepo.EXPECT().
		Complete(gomock.Any(), "task-1").
		DoAndReturn(func(context.Context, string) (bool, error) {
			close(completed)
			return true, nil
		})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runner.Run(ctx)
	}()

	select {
	case <-completed:
	case <-time.After(2 * time.Second):
		t.Fatal("fan-out task was not completed")
	}
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after context cancellation")
	}

	// Let the notifier listener observe shutdown before expectations are
	// verified.
	deps.tasks.StopAllListeners()
	time.Sleep(20 * time.Millisecond)
}

func TestRunner_FailsTaskWhenHandlerErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	deps := newRunnerDeps(t, ctrl)
	runner := deps.newRunner(t, model.TaskTypeFanOut)

	reserved := &model.Task{
		ID:      "task-1",
		Type:    model.TaskTypeFanOut,
		Status:  model.TaskStatusRunning,
		Payload: json.RawMessage(`{"workspace_id":"","job_id":""}`),
	}

	first := deps.taskRepo.EXPECT().
		ReserveNext(gomock.Any(), model.TaskTypeFanOut, 30).
		Return(reserved, nil)
	deps.taskRepo.EXPECT().
		ReserveNext(gomock.Any(), model.TaskTypeFanOut, 30).
		Return(nil, model.ErrNoTasksAvailable).
		AnyTimes().
		After(first)

	deps.taskRepo.EXPECT().
		WaitForNotification(gomock.Any(), model.TaskTypeFanOut).
		DoAndReturn(func(ctx context.Context, _ model.TaskType) error {
			<-ctx.Done()
			return ctx.Err()
		}).
		AnyTimes()

	failed := make(chan struct{})
	deps.taskRepo.EXPECT().
		Fail(gomock.Any(), "task-1", gomock.Any()).
		DoAndReturn(func(_ context.Context, _, errMsg string) (bool, error) {
			assert.Contains(t, errMsg, "missing job reference")
			close(failed)
			return true, nil
		})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runner.Run(ctx)
	}()

	select {
	case <-failed:
	case <-time.After(2 * time.Second):
		t.Fatal("task was not failed")
	}
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after context cancellation")
	}

	deps.tasks.StopAllListeners()
	time.Sleep(20 * time.Millisecond)
}
