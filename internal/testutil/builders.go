package testutil

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/herald-notify/herald/internal/core"
	"github.com/herald-notify/herald/internal/domain/bulk"
	"github.com/herald-notify/herald/internal/domain/model"
)

// JobRef builds a JobRef with fresh identifiers.
func JobRef() core.JobRef {
	return core.JobRef{
		WorkspaceID: "ws-" + uuid.NewString()[:8],
		JobID:       uuid.NewString(),
	}
}

// BulkJobBuilder provides a fluent interface for building BulkJob records for testing.
type BulkJobBuilder struct {
	job *model.BulkJob
}

// NewBulkJob creates a new BulkJobBuilder with sensible defaults.
func NewBulkJob() *BulkJobBuilder {
	now := TestTime()
	return &BulkJobBuilder{
		job: &model.BulkJob{
			WorkspaceID: "ws-test",
			ID:          uuid.NewString(),
			Status:      model.JobStatusCreated,
			Scope:       "published/production",
			APIVersion:  "v1",
			TemplatePtr: "ws-test/bulk/template",
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}
}

// WithRef sets the workspace and job identifiers from a JobRef.
func (b *BulkJobBuilder) WithRef(ref core.JobRef) *BulkJobBuilder {
	b.job.WorkspaceID = ref.WorkspaceID
	b.job.ID = ref.JobID
	return b
}

// WithWorkspace sets the workspace identifier.
func (b *BulkJobBuilder) WithWorkspace(workspaceID string) *BulkJobBuilder {
	b.job.WorkspaceID = workspaceID
	return b
}

// WithStatus sets the job status.
func (b *BulkJobBuilder) WithStatus(status model.JobStatus) *BulkJobBuilder {
	b.job.Status = status
	return b
}

// WithScope sets the caller scope the job was created under.
func (b *BulkJobBuilder) WithScope(scope string) *BulkJobBuilder {
	b.job.Scope = scope
	return b
}

// WithAPIVersion sets the api version the job was created under.
func (b *BulkJobBuilder) WithAPIVersion(version string) *BulkJobBuilder {
	b.job.APIVersion = version
	return b
}

// WithTemplatePtr sets the template payload pointer.
func (b *BulkJobBuilder) WithTemplatePtr(ptr string) *BulkJobBuilder {
	b.job.TemplatePtr = ptr
	return b
}

// WithCounters sets the received/enqueued/failures counters.
func (b *BulkJobBuilder) WithCounters(received, enqueued, failures int64) *BulkJobBuilder {
	b.job.Received = received
	b.job.Enqueued = enqueued
	b.job.Failures = failures
	return b
}

// WithEnqueuedShards sets the shard completion counter.
func (b *BulkJobBuilder) WithEnqueuedShards(n int) *BulkJobBuilder {
	b.job.EnqueuedShards = n
	return b
}

// WithDryRunKey sets the dry run key.
func (b *BulkJobBuilder) WithDryRunKey(key string) *BulkJobBuilder {
	b.job.DryRunKey = &key
	return b
}

// Build returns the constructed BulkJob.
func (b *BulkJobBuilder) Build() *model.BulkJob {
	return b.job
}

// Ref returns the JobRef of the job being built.
func (b *BulkJobBuilder) Ref() core.JobRef {
	return core.JobRef{WorkspaceID: b.job.WorkspaceID, JobID: b.job.ID}
}

// RecipientBuilder provides a fluent interface for building BulkRecipient records for testing.
type RecipientBuilder struct {
	rec *model.BulkRecipient
}

// NewRecipient creates a new RecipientBuilder with sensible defaults.
func NewRecipient(ref core.JobRef) *RecipientBuilder {
	now := TestTime()
	userID := "user-" + uuid.NewString()[:8]
	return &RecipientBuilder{
		rec: &model.BulkRecipient{
			WorkspaceID: ref.WorkspaceID,
			JobID:       ref.JobID,
			UserID:      userID,
			PayloadPtr:  fmt.Sprintf("%s/bulk/%s/users/%s", ref.WorkspaceID, ref.JobID, userID),
			Status:      model.RecipientStatusPending,
			Shard:       1,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}
}

// WithUserID sets the recipient user id.
func (b *RecipientBuilder) WithUserID(userID string) *RecipientBuilder {
	b.rec.UserID = userID
	b.rec.PayloadPtr = fmt.Sprintf("%s/bulk/%s/users/%s", b.rec.WorkspaceID, b.rec.JobID, userID)
	return b
}

// WithShard sets the shard assignment.
func (b *RecipientBuilder) WithShard(shard int) *RecipientBuilder {
	b.rec.Shard = shard
	return b
}

// WithStatus sets the recipient status.
func (b *RecipientBuilder) WithStatus(status model.RecipientStatus) *RecipientBuilder {
	b.rec.Status = status
	return b
}

// WithMessageID sets the downstream message id.
func (b *RecipientBuilder) WithMessageID(messageID string) *RecipientBuilder {
	b.rec.MessageID = &messageID
	return b
}

// WithPayloadPtr sets the raw payload pointer.
func (b *RecipientBuilder) WithPayloadPtr(ptr string) *RecipientBuilder {
	b.rec.PayloadPtr = ptr
	return b
}

// Build returns the constructed BulkRecipient.
func (b *RecipientBuilder) Build() *model.BulkRecipient {
	return b.rec
}

// Common test request presets

// JobContext creates a caller context matching NewBulkJob defaults.
func JobContext(ref core.JobRef) model.JobContext {
	return model.JobContext{
		WorkspaceID: ref.WorkspaceID,
		Scope:       "published/production",
		APIVersion:  "v1",
	}
}

// CreateJobRequest creates a bulk job creation request with a minimal template.
func CreateJobRequest(workspaceID string) *model.CreateBulkJobRequest {
	return &model.CreateBulkJobRequest{
		Context: model.JobContext{
			WorkspaceID: workspaceID,
			Scope:       "published/production",
			APIVersion:  "v1",
		},
		Template: model.TemplateMessage{
			Event: "order-shipped",
			Data:  map[string]any{"carrier": "ups"},
		},
	}
}

// IngestRecipients creates n ingest recipients with sequential user ids.
func IngestRecipients(n int) []model.IngestRecipient {
	recipients := make([]model.IngestRecipient, 0, n)
	for i := range n {
		recipients = append(recipients, model.IngestRecipient{
			Recipient: fmt.Sprintf("user-%03d", i),
			Data:      map[string]any{"seq": i},
		})
	}
	return recipients
}

// FanOutTaskRequest creates a fan_out enqueue request for the given job.
func FanOutTaskRequest(ref core.JobRef) *model.EnqueueTaskRequest {
	payload, _ := json.Marshal(model.FanOutPayload{
		WorkspaceID: ref.WorkspaceID,
		JobID:       ref.JobID,
	})
	return &model.EnqueueTaskRequest{
		Type:       model.TaskTypeFanOut,
		Payload:    payload,
		MaxRetries: 3,
	}
}

// ShardPageTaskRequest creates a shard_page enqueue request for one shard.
func ShardPageTaskRequest(ref core.JobRef, shard, pageSize int, cursor *string) *model.EnqueueTaskRequest {
	payload, _ := json.Marshal(model.ShardPagePayload{
		WorkspaceID: ref.WorkspaceID,
		JobID:       ref.JobID,
		Shard:       shard,
		PageSize:    pageSize,
		Cursor:      cursor,
	})
	return &model.EnqueueTaskRequest{
		Type:       model.TaskTypeShardPage,
		Payload:    payload,
		MaxRetries: 3,
	}
}

// DispatchRequestFor builds the merged dispatch request a processor would
// produce for the given job, template, and recipient payload.
func DispatchRequestFor(job *model.BulkJob, tpl model.TemplateMessage, rec model.IngestRecipient, userID string) bulk.DispatchRequest {
	return bulk.BuildDispatchRequest(bulk.BuildDispatchInput{
		Job:       job,
		Template:  tpl,
		Recipient: rec,
		UserID:    userID,
	})
}

// SpreadAcrossShards distributes user ids round-robin across shard numbers
// [1, shardCount], returning the shard for each index. Deterministic shard
// placement keeps pagination tests reproducible where RandomShard would not be.
func SpreadAcrossShards(n, shardCount int) []int {
	shards := make([]int, n)
	for i := range n {
		shards[i] = (i % shardCount) + 1
	}
	return shards
}

// AdvanceClock returns a time n steps after TestTime, one second apart.
func AdvanceClock(n int) time.Time {
	return TestTime().Add(time.Duration(n) * time.Second)
}
