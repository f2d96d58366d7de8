package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/herald-notify/herald/internal/core"
	"github.com/herald-notify/herald/internal/data"
	"github.com/herald-notify/herald/internal/domain/bulk"
	"github.com/herald-notify/herald/internal/domain/model"
	"github.com/herald-notify/herald/internal/mocks"
)

const (
	testWorkspaceID = "ws-test"
	testScope       = "published/production"
	testAPIVersion  = "v1"
)

func newTestTaskService(t *testing.T, repo core.TaskRepository) *TaskService {
	t.Helper()
	svc, err := NewTaskService(TaskServiceOptions{
		Repo:         repo,
		DefaultLease: 30 * time.Second,
	})
	require.NoError(t, err)
	return svc
}

type bulkTestDeps struct {
	jobs       *mocks.MockBulkJobRepository
	recipients *mocks.MockRecipientRepository
	taskRepo   *mocks.MockTaskRepository
	payloads   *mocks.MockPayloadStore
	svc        *BulkJobService
}

func newBulkTestDeps(t *testing.T, ctrl *gomock.Controller) bulkTestDeps {
	t.Helper()
	deps := bulkTestDeps{
		jobs:       mocks.NewMockBulkJobRepository(ctrl),
		recipients: mocks.NewMockRecipientRepository(ctrl),
		taskRepo:   mocks.NewMockTaskRepository(ctrl),
		payloads:   mocks.NewMockPayloadStore(ctrl),
	}

	svc, err := NewBulkJobService(BulkJobServiceOptions{
		Jobs:       deps.jobs,
		Recipients: deps.recipients,
		Tasks:      newTestTaskService(t, deps.taskRepo),
		Payloads:   deps.payloads,
	})
	require.NoError(t, err)
	deps.svc = svc
	return deps
}

func testJobContext() *model.JobContext {
	return &model.JobContext{
		WorkspaceID: testWorkspaceID,
		Scope:       testScope,
		APIVersion:  testAPIVersion,
	}
}

func storedJob(jobID string, status model.JobStatus) *model.BulkJob {
	return &model.BulkJob{
		WorkspaceID: testWorkspaceID,
		ID:          jobID,
		Status:      status,
		Scope:       testScope,
		APIVersion:  testAPIVersion,
		TemplatePtr: "ptr-template",
	}
}

func TestBulkJobService_CreateJob(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx := context.Background()
	deps := newBulkTestDeps(t, ctrl)

	req := &model.CreateBulkJobRequest{
		Context: *testJobContext(),
		Template: model.TemplateMessage{
			Event: "order-shipped",
			Data:  map[string]any{"carrier": "ups"},
		},
	}

	deps.payloads.EXPECT().
		Put(ctx, gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, key string, payload []byte) (string, error) {
			assert.Contains(t, key, testWorkspaceID+"/bulk/")
			assert.Contains(t, key, "/template")

			var tpl model.TemplateMessage
			require.NoError(t, json.Unmarshal(payload, &tpl))
			assert.Equal(t, "order-shipped", tpl.Event)
			return "ptr-template", nil
		})

	var createdID string
	deps.jobs.EXPECT().
		Create(ctx, gomock.AssignableToTypeOf(&model.BulkJob{})).
		DoAndReturn(func(_ context.Context, job *model.BulkJob) error {
			assert.Equal(t, testWorkspaceID, job.WorkspaceID)
			assert.Equal(t, testScope, job.Scope)
			assert.Equal(t, testAPIVersion, job.APIVersion)
			assert.Equal(t, "ptr-template", job.TemplatePtr)
			createdID = job.ID
			return nil
		})

	jobID, err := deps.svc.CreateJob(ctx, req)
	require.NoError(t, err)
	assert.NotEmpty(t, jobID)
	assert.Equal(t, createdID, jobID)
}

func TestBulkJobService_CreateJob_RejectsEmptyTemplate(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	deps := newBulkTestDeps(t, ctrl)

	_, err := deps.svc.CreateJob(context.Background(), &model.CreateBulkJobRequest{
		Context: *testJobContext(),
	})
	require.Error(t, err)
}

func TestBulkJobService_Ingest_PartialFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx := context.Background()
	deps := newBulkTestDeps(t, ctrl)
	jobID := "job-1"
	ref := core.JobRef{WorkspaceID: testWorkspaceID, JobID: jobID}

	deps.jobs.EXPECT().GetByID(ctx, ref).Return(storedJob(jobID, model.JobStatusCreated), nil)

	recipients := []model.IngestRecipient{
		{Recipient: "user-a", Data: map[string]any{"seq": 1}},
		{Recipient: "user-b", Data: map[string]any{"seq": 2}},
		{Recipient: "user-c", Data: map[string]any{"seq": 3}},
	}

	deps.payloads.EXPECT().
		Put(gomock.Any(), gomock.Any(), gomock.Any()).
		Return("ptr-user", nil).
		Times(3)

	deps.recipients.EXPECT().
		Insert(gomock.Any(), gomock.AssignableToTypeOf(&model.BulkRecipient{})).
		DoAndReturn(func(_ context.Context, rec *model.BulkRecipient) error {
			assert.GreaterOrEqual(t, rec.Shard, 1)
			assert.LessOrEqual(t, rec.Shard, bulk.ShardCount)
			if rec.UserID == "user-b" {
				return data.ErrDuplicateRecipient
			}
			return nil
		}).
		Times(3)

	deps.jobs.EXPECT().AddReceived(ctx, ref, 2).Return(nil)

	result, err := deps.svc.Ingest(ctx, testJobContext(), jobID, recipients)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Total)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, model.IngestErrorDuplicate, result.Errors[0].Error)
	assert.Equal(t, "user-b", result.Errors[0].User.Recipient)
}

func TestBulkJobService_Ingest_DuplicateDoesNotOverwriteStoredPayload(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx := context.Background()
	deps := newBulkTestDeps(t, ctrl)
	jobID := "job-1"
	ref := core.JobRef{WorkspaceID: testWorkspaceID, JobID: jobID}

	deps.jobs.EXPECT().GetByID(ctx, ref).Return(storedJob(jobID, model.JobStatusCreated), nil).Times(2)

	// Same user ingested twice with different bodies. The second attempt loses
	// the conditional insert; its payload write must land on a fresh key so the
	// object referenced by the surviving row is untouched.
	var keys []string
	deps.payloads.EXPECT().
		Put(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, key string, _ []byte) (string, error) {
			keys = append(keys, key)
			return key, nil
		}).
		Times(2)

	inserts := 0
	deps.recipients.EXPECT().
		Insert(gomock.Any(), gomock.AssignableToTypeOf(&model.BulkRecipient{})).
		DoAndReturn(func(_ context.Context, rec *model.BulkRecipient) error {
			inserts++
			if inserts > 1 {
				return data.ErrDuplicateRecipient
			}
			assert.Equal(t, keys[0], rec.PayloadPtr)
			return nil
		}).
		Times(2)

	deps.jobs.EXPECT().AddReceived(ctx, ref, 1).Return(nil)

	result, err := deps.svc.Ingest(ctx, testJobContext(), jobID, []model.IngestRecipient{
		{Recipient: "user-a", Data: map[string]any{"seq": 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Total)
	assert.Empty(t, result.Errors)

	result, err = deps.svc.Ingest(ctx, testJobContext(), jobID, []model.IngestRecipient{
		{Recipient: "user-a", Data: map[string]any{"seq": 99}},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Total)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, model.IngestErrorDuplicate, result.Errors[0].Error)

	require.Len(t, keys, 2)
	prefix := testWorkspaceID + "/bulk/" + jobID + "/users/user-a/"
	assert.True(t, strings.HasPrefix(keys[0], prefix))
	assert.True(t, strings.HasPrefix(keys[1], prefix))
	assert.NotEqual(t, keys[0], keys[1])
}

func TestBulkJobService_Ingest_InvalidRecipientCollectedNotFatal(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx := context.Background()
	deps := newBulkTestDeps(t, ctrl)
	jobID := "job-1"
	ref := core.JobRef{WorkspaceID: testWorkspaceID, JobID: jobID}

	deps.jobs.EXPECT().GetByID(ctx, ref).Return(storedJob(jobID, model.JobStatusCreated), nil)

	// One valid recipient, one with no addressing information at all.
	recipients := []model.IngestRecipient{
		{Recipient: "user-a"},
		{},
	}

	deps.payloads.EXPECT().Put(gomock.Any(), gomock.Any(), gomock.Any()).Return("ptr", nil)
	deps.recipients.EXPECT().Insert(gomock.Any(), gomock.Any()).Return(nil)
	deps.jobs.EXPECT().AddReceived(ctx, ref, 1).Return(nil)

	result, err := deps.svc.Ingest(ctx, testJobContext(), jobID, recipients)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Total)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, model.IngestErrorGeneric, result.Errors[0].Error)
}

func TestBulkJobService_Ingest_AfterRunRejected(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx := context.Background()
	deps := newBulkTestDeps(t, ctrl)
	jobID := "job-1"
	ref := core.JobRef{WorkspaceID: testWorkspaceID, JobID: jobID}

	deps.jobs.EXPECT().GetByID(ctx, ref).Return(storedJob(jobID, model.JobStatusProcessing), nil)

	_, err := deps.svc.Ingest(ctx, testJobContext(), jobID, []model.IngestRecipient{{Recipient: "user-a"}})
	assert.ErrorIs(t, err, model.ErrAlreadySubmitted)
}

func TestBulkJobService_Ingest_ScopeMismatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx := context.Background()
	deps := newBulkTestDeps(t, ctrl)
	jobID := "job-1"

	job := storedJob(jobID, model.JobStatusCreated)
	job.Scope = "draft/staging"
	deps.jobs.EXPECT().GetByID(ctx, gomock.Any()).Return(job, nil)

	_, err := deps.svc.Ingest(ctx, testJobContext(), jobID, nil)
	assert.ErrorIs(t, err, model.ErrScopeMismatch)
}

func TestBulkJobService_Ingest_JobNotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx := context.Background()
	deps := newBulkTestDeps(t, ctrl)

	deps.jobs.EXPECT().GetByID(ctx, gomock.Any()).Return(nil, data.ErrBulkJobNotFound)

	_, err := deps.svc.Ingest(ctx, testJobContext(), "missing", nil)
	assert.ErrorIs(t, err, model.ErrJobNotFound)
}

func TestBulkJobService_Run_EnqueuesFanOutAndMarksProcessing(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx := context.Background()
	deps := newBulkTestDeps(t, ctrl)
	jobID := "job-1"
	ref := core.JobRef{WorkspaceID: testWorkspaceID, JobID: jobID}

	deps.jobs.EXPECT().GetByID(ctx, ref).Return(storedJob(jobID, model.JobStatusCreated), nil)

	deps.taskRepo.EXPECT().
		Enqueue(ctx, gomock.AssignableToTypeOf(&model.EnqueueTaskRequest{})).
		DoAndReturn(func(_ context.Context, req *model.EnqueueTaskRequest) (*model.Task, error) {
			assert.Equal(t, model.TaskTypeFanOut, req.Type)

			var payload model.FanOutPayload
			require.NoError(t, json.Unmarshal(req.Payload, &payload))
			assert.Equal(t, testWorkspaceID, payload.WorkspaceID)
			assert.Equal(t, jobID, payload.JobID)
			return &model.Task{ID: "task-1", Type: req.Type}, nil
		})

	deps.jobs.EXPECT().MarkProcessing(ctx, ref).Return(true, nil)

	require.NoError(t, deps.svc.Run(ctx, testJobContext(), jobID))
}

func TestBulkJobService_Run_DuplicateInvocation(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx := context.Background()
	deps := newBulkTestDeps(t, ctrl)
	jobID := "job-1"

	deps.jobs.EXPECT().GetByID(ctx, gomock.Any()).Return(storedJob(jobID, model.JobStatusProcessing), nil)

	err := deps.svc.Run(ctx, testJobContext(), jobID)
	assert.ErrorIs(t, err, model.ErrDuplicateInvocation)
}

func TestBulkJobService_Run_LostConditionalWrite(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx := context.Background()
	deps := newBulkTestDeps(t, ctrl)
	jobID := "job-1"
	ref := core.JobRef{WorkspaceID: testWorkspaceID, JobID: jobID}

	// The status read saw CREATED, but a concurrent run won the conditional
	// transition in between.
	deps.jobs.EXPECT().GetByID(ctx, ref).Return(storedJob(jobID, model.JobStatusCreated), nil)
	deps.taskRepo.EXPECT().Enqueue(ctx, gomock.Any()).Return(&model.Task{ID: "task-1"}, nil)
	deps.jobs.EXPECT().MarkProcessing(ctx, ref).Return(false, nil)

	err := deps.svc.Run(ctx, testJobContext(), jobID)
	assert.ErrorIs(t, err, model.ErrDuplicateInvocation)
}

func TestBulkJobService_GetJob(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx := context.Background()
	deps := newBulkTestDeps(t, ctrl)
	jobID := "job-1"
	ref := core.JobRef{WorkspaceID: testWorkspaceID, JobID: jobID}

	tpl := []byte(`{"event":"order-shipped"}`)
	deps.jobs.EXPECT().GetByID(ctx, ref).Return(storedJob(jobID, model.JobStatusCompleted), nil)
	deps.payloads.EXPECT().Get(ctx, "ptr-template").Return(tpl, nil)

	summary, err := deps.svc.GetJob(ctx, testWorkspaceID, jobID, testScope)
	require.NoError(t, err)
	assert.Equal(t, jobID, summary.Job.ID)
	assert.JSONEq(t, string(tpl), string(summary.Template))
}

func TestBulkJobService_GetJob_ScopeMismatchIsNotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx := context.Background()
	deps := newBulkTestDeps(t, ctrl)
	jobID := "job-1"

	deps.jobs.EXPECT().GetByID(ctx, gomock.Any()).Return(storedJob(jobID, model.JobStatusCreated), nil)

	_, err := deps.svc.GetJob(ctx, testWorkspaceID, jobID, "draft/staging")
	assert.ErrorIs(t, err, model.ErrJobNotFound)
}

func TestBulkJobService_GetJobStats(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx := context.Background()
	deps := newBulkTestDeps(t, ctrl)
	jobID := "job-1"
	ref := core.JobRef{WorkspaceID: testWorkspaceID, JobID: jobID}

	deps.jobs.EXPECT().GetByID(ctx, ref).Return(storedJob(jobID, model.JobStatusProcessing), nil)
	deps.recipients.EXPECT().Stats(ctx, ref).Return(&model.JobStats{Pending: 3, Enqueued: 7}, nil)

	stats, err := deps.svc.GetJobStats(ctx, testWorkspaceID, jobID, testScope)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Pending)
	assert.Equal(t, 7, stats.Enqueued)
}
