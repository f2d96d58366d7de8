package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/herald-notify/herald/internal/core"
	"github.com/herald-notify/herald/internal/domain/bulk"
	"github.com/herald-notify/herald/internal/domain/model"
	"github.com/herald-notify/herald/internal/mocks"
)

type processorTestDeps struct {
	jobs       *mocks.MockBulkJobRepository
	recipients *mocks.MockRecipientRepository
	taskRepo   *mocks.MockTaskRepository
	payloads   *mocks.MockPayloadStore
	dispatcher *mocks.MockDispatcher
	cache      *mocks.MockCacheRepository
}

func newProcessorDeps(ctrl *gomock.Controller) processorTestDeps {
	return processorTestDeps{
		jobs:       mocks.NewMockBulkJobRepository(ctrl),
		recipients: mocks.NewMockRecipientRepository(ctrl),
		taskRepo:   mocks.NewMockTaskRepository(ctrl),
		payloads:   mocks.NewMockPayloadStore(ctrl),
		dispatcher: mocks.NewMockDispatcher(ctrl),
		cache:      mocks.NewMockCacheRepository(ctrl),
	}
}

func (d processorTestDeps) newProcessor(t *testing.T, withCache bool, pageSize int) *ShardProcessor {
	t.Helper()
	opts := ShardProcessorOptions{
		Jobs:       d.jobs,
		Recipients: d.recipients,
		Tasks:      newTestTaskService(t, d.taskRepo),
		Payloads:   d.payloads,
		Dispatcher: d.dispatcher,
		PageSize:   pageSize,
	}
	if withCache {
		opts.Cache = d.cache
	}
	p, err := NewShardProcessor(opts)
	require.NoError(t, err)
	return p
}

// collectShardPageEnqueues expects n shard page enqueues and records their
// decoded payloads.
func (d processorTestDeps) collectShardPageEnqueues(t *testing.T, n int) *[]model.ShardPagePayload {
	t.Helper()
	var mu sync.Mutex
	collected := make([]model.ShardPagePayload, 0, n)

	d.taskRepo.EXPECT().
		Enqueue(gomock.Any(), gomock.AssignableToTypeOf(&model.EnqueueTaskRequest{})).
		DoAndReturn(func(_ context.Context, req *model.EnqueueTaskRequest) (*model.Task, error) {
			assert.Equal(t, model.TaskTypeShardPage, req.Type)
			var payload model.ShardPagePayload
			require.NoError(t, json.Unmarshal(req.Payload, &payload))
			mu.Lock()
			collected = append(collected, payload)
			mu.Unlock()
			return &model.Task{ID: "task", Type: req.Type}, nil
		}).
		Times(n)

	return &collected
}

func TestShardProcessor_FanOut_EnqueuesEveryShard(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx := context.Background()
	deps := newProcessorDeps(ctrl)
	p := deps.newProcessor(t, false, 25)

	collected := deps.collectShardPageEnqueues(t, bulk.ShardCount)

	err := p.FanOut(ctx, model.FanOutPayload{WorkspaceID: testWorkspaceID, JobID: "job-1"})
	require.NoError(t, err)

	shards := make([]int, 0, len(*collected))
	for _, payload := range *collected {
		assert.Equal(t, testWorkspaceID, payload.WorkspaceID)
		assert.Equal(t, "job-1", payload.JobID)
		assert.Equal(t, 25, payload.PageSize)
		assert.Nil(t, payload.Cursor)
		shards = append(shards, payload.Shard)
	}
	sort.Ints(shards)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, shards)
}

func TestShardProcessor_FanOut_GuardSkipsEnqueuedShards(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx := context.Background()
	deps := newProcessorDeps(ctrl)
	p := deps.newProcessor(t, true, 0)

	// Shard 3's chain already started on a previous delivery of this task.
	deps.cache.EXPECT().
		SetIfNotExists(gomock.Any(), gomock.Any(), gomock.Any(), fanOutGuardTTL).
		DoAndReturn(func(_ context.Context, key string, _ []byte, _ any) (bool, error) {
			return key != bulk.ShardGroupKey(testWorkspaceID, "job-1", 3), nil
		}).
		Times(bulk.ShardCount)

	collected := deps.collectShardPageEnqueues(t, bulk.ShardCount-1)

	err := p.FanOut(ctx, model.FanOutPayload{WorkspaceID: testWorkspaceID, JobID: "job-1"})
	require.NoError(t, err)

	for _, payload := range *collected {
		assert.NotEqual(t, 3, payload.Shard)
	}
}

func pendingRecipient(ref core.JobRef, userID string, shard int) *model.BulkRecipient {
	return &model.BulkRecipient{
		WorkspaceID: ref.WorkspaceID,
		JobID:       ref.JobID,
		UserID:      userID,
		PayloadPtr:  "ptr-" + userID,
		Status:      model.RecipientStatusPending,
		Shard:       shard,
	}
}

func TestShardProcessor_ProcessPage_DispatchesAndContinues(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx := context.Background()
	deps := newProcessorDeps(ctrl)
	p := deps.newProcessor(t, false, 0)

	jobID := "job-1"
	ref := core.JobRef{WorkspaceID: testWorkspaceID, JobID: jobID}
	job := storedJob(jobID, model.JobStatusProcessing)

	next := "user-2"
	deps.recipients.EXPECT().
		QueryShard(ctx, core.ShardQuery{
			Ref:    ref,
			Shard:  4,
			Status: model.RecipientStatusPending,
			Limit:  2,
		}).
		Return(&core.RecipientPage{
			Items: []*model.BulkRecipient{
				pendingRecipient(ref, "user-1", 4),
				pendingRecipient(ref, "user-2", 4),
			},
			NextCursor: &next,
		}, nil)

	deps.jobs.EXPECT().GetByID(ctx, ref).Return(job, nil)
	deps.payloads.EXPECT().Get(ctx, "ptr-template").Return([]byte(`{"event":"order-shipped"}`), nil)

	deps.payloads.EXPECT().Get(gomock.Any(), "ptr-user-1").Return([]byte(`{"recipient":"user-1"}`), nil)
	deps.payloads.EXPECT().Get(gomock.Any(), "ptr-user-2").Return([]byte(`{"recipient":"user-2"}`), nil)

	deps.dispatcher.EXPECT().
		Submit(gomock.Any(), gomock.AssignableToTypeOf(&bulk.DispatchRequest{})).
		DoAndReturn(func(_ context.Context, req *bulk.DispatchRequest) (string, error) {
			assert.Equal(t, "order-shipped", req.Event)
			return "msg-" + req.UserID, nil
		}).
		Times(2)

	deps.recipients.EXPECT().
		UpdateStatus(gomock.Any(), gomock.AssignableToTypeOf(core.RecipientStatusUpdate{})).
		DoAndReturn(func(_ context.Context, upd core.RecipientStatusUpdate) (bool, error) {
			assert.Equal(t, model.RecipientStatusEnqueued, upd.Status)
			if assert.NotNil(t, upd.MessageID) {
				assert.Equal(t, "msg-"+upd.UserID, *upd.MessageID)
			}
			return true, nil
		}).
		Times(2)

	deps.jobs.EXPECT().AddEnqueued(ctx, ref, 2).Return(nil)

	collected := deps.collectShardPageEnqueues(t, 1)

	err := p.ProcessPage(ctx, model.ShardPagePayload{
		WorkspaceID: testWorkspaceID,
		JobID:       jobID,
		Shard:       4,
		PageSize:    2,
	})
	require.NoError(t, err)

	require.Len(t, *collected, 1)
	continuation := (*collected)[0]
	assert.Equal(t, 4, continuation.Shard)
	assert.Equal(t, 2, continuation.PageSize)
	if assert.NotNil(t, continuation.Cursor) {
		assert.Equal(t, "user-2", *continuation.Cursor)
	}
}

func TestShardProcessor_ProcessPage_DrainedShardSignalsCompletion(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx := context.Background()
	deps := newProcessorDeps(ctrl)
	p := deps.newProcessor(t, false, 0)

	jobID := "job-1"
	ref := core.JobRef{WorkspaceID: testWorkspaceID, JobID: jobID}

	deps.recipients.EXPECT().
		QueryShard(ctx, gomock.Any()).
		Return(&core.RecipientPage{}, nil)

	deps.jobs.EXPECT().
		SignalShardComplete(ctx, ref, bulk.ShardCount).
		Return(core.ShardCompletionResult{EnqueuedShards: bulk.ShardCount, Completed: true}, nil)

	err := p.ProcessPage(ctx, model.ShardPagePayload{
		WorkspaceID: testWorkspaceID,
		JobID:       jobID,
		Shard:       9,
		PageSize:    100,
	})
	require.NoError(t, err)
}

func TestShardProcessor_ProcessPage_DispatchFailureRecordsError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx := context.Background()
	deps := newProcessorDeps(ctrl)
	p := deps.newProcessor(t, false, 0)

	jobID := "job-1"
	ref := core.JobRef{WorkspaceID: testWorkspaceID, JobID: jobID}
	job := storedJob(jobID, model.JobStatusProcessing)

	deps.recipients.EXPECT().
		QueryShard(ctx, gomock.Any()).
		Return(&core.RecipientPage{
			Items: []*model.BulkRecipient{pendingRecipient(ref, "user-1", 2)},
		}, nil)

	deps.jobs.EXPECT().GetByID(ctx, ref).Return(job, nil)
	deps.payloads.EXPECT().Get(ctx, "ptr-template").Return([]byte(`{"event":"order-shipped"}`), nil)
	deps.payloads.EXPECT().Get(gomock.Any(), "ptr-user-1").Return([]byte(`{"recipient":"user-1"}`), nil)

	deps.dispatcher.EXPECT().
		Submit(gomock.Any(), gomock.Any()).
		Return("", errors.New("downstream unavailable"))

	deps.recipients.EXPECT().
		UpdateStatus(gomock.Any(), gomock.AssignableToTypeOf(core.RecipientStatusUpdate{})).
		DoAndReturn(func(_ context.Context, upd core.RecipientStatusUpdate) (bool, error) {
			assert.Equal(t, model.RecipientStatusError, upd.Status)
			assert.Nil(t, upd.MessageID)
			return true, nil
		})

	// Nothing moved to ENQUEUED, so no counter update; the drained shard still
	// signals completion.
	deps.jobs.EXPECT().
		SignalShardComplete(ctx, ref, bulk.ShardCount).
		Return(core.ShardCompletionResult{EnqueuedShards: 1}, nil)

	err := p.ProcessPage(ctx, model.ShardPagePayload{
		WorkspaceID: testWorkspaceID,
		JobID:       jobID,
		Shard:       2,
		PageSize:    10,
	})
	require.NoError(t, err)
}

func TestShardProcessor_ProcessPage_TemplateCacheHit(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx := context.Background()
	deps := newProcessorDeps(ctrl)
	p := deps.newProcessor(t, true, 0)

	jobID := "job-1"
	ref := core.JobRef{WorkspaceID: testWorkspaceID, JobID: jobID}
	job := storedJob(jobID, model.JobStatusProcessing)

	deps.recipients.EXPECT().
		QueryShard(ctx, gomock.Any()).
		Return(&core.RecipientPage{
			Items: []*model.BulkRecipient{pendingRecipient(ref, "user-1", 1)},
		}, nil)

	deps.jobs.EXPECT().GetByID(ctx, ref).Return(job, nil)

	// Template resolved from cache; the object store only serves the recipient payload.
	deps.cache.EXPECT().
		Get(ctx, bulk.JobKey(testWorkspaceID, jobID)).
		Return([]byte(`{"event":"order-shipped"}`), nil)
	deps.payloads.EXPECT().Get(gomock.Any(), "ptr-user-1").Return([]byte(`{"recipient":"user-1"}`), nil)

	deps.dispatcher.EXPECT().Submit(gomock.Any(), gomock.Any()).Return("msg-1", nil)
	deps.recipients.EXPECT().UpdateStatus(gomock.Any(), gomock.Any()).Return(true, nil)
	deps.jobs.EXPECT().AddEnqueued(ctx, ref, 1).Return(nil)
	deps.jobs.EXPECT().
		SignalShardComplete(ctx, ref, bulk.ShardCount).
		Return(core.ShardCompletionResult{EnqueuedShards: 3}, nil)

	err := p.ProcessPage(ctx, model.ShardPagePayload{
		WorkspaceID: testWorkspaceID,
		JobID:       jobID,
		Shard:       1,
		PageSize:    10,
	})
	require.NoError(t, err)
}
