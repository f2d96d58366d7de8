// Package core defines the ports of the herald bulk engine: the contracts
// between the service layer and the storage, queue, and dispatch adapters.
// Services depend on these interfaces, never on concrete implementations.
package core

import (
	"context"
	"time"

	"github.com/herald-notify/herald/internal/domain/bulk"
	"github.com/herald-notify/herald/internal/domain/model"
)

// JobRef identifies one bulk job.
type JobRef struct {
	WorkspaceID string
	JobID       string
}

// ShardCompletionResult reports the outcome of a shard completion signal.
type ShardCompletionResult struct {
	// EnqueuedShards is the shard completion count after the increment.
	EnqueuedShards int
	// Completed is true only for the single signal that transitioned the job
	// to COMPLETED.
	Completed bool
}

// BulkJobRepository defines the persistence contract for bulk job records.
// Counter updates are atomic adds; status transitions are conditional writes.
type BulkJobRepository interface {
	// Create persists a new job in CREATED state with zeroed counters.
	Create(ctx context.Context, job *model.BulkJob) error

	// GetByID retrieves a job record. Scope enforcement is the caller's
	// responsibility; absence yields data.ErrBulkJobNotFound.
	GetByID(ctx context.Context, ref JobRef) (*model.BulkJob, error)

	// MarkProcessing transitions CREATED -> PROCESSING. Returns false without
	// error when the job has already left CREATED.
	MarkProcessing(ctx context.Context, ref JobRef) (bool, error)

	// AddReceived atomically adds n to the job's received counter.
	AddReceived(ctx context.Context, ref JobRef, n int) error

	// AddEnqueued atomically adds n to the job's enqueued counter.
	AddEnqueued(ctx context.Context, ref JobRef, n int) error

	// SignalShardComplete atomically increments enqueued_shards and attempts
	// the conditionally-gated PROCESSING -> COMPLETED transition. The
	// transition fires for exactly one signal regardless of interleaving.
	SignalShardComplete(ctx context.Context, ref JobRef, shardCount int) (ShardCompletionResult, error)
}

// RecipientPage is one page of a shard's recipients plus the resume cursor.
type RecipientPage struct {
	Items []*model.BulkRecipient
	// NextCursor resumes the shard after the last returned item; nil when the
	// query saw no further rows.
	NextCursor *string
}

// ShardQuery selects recipients of one shard of one job.
type ShardQuery struct {
	Ref   JobRef
	Shard int
	// Status filters by recipient status; empty selects all statuses.
	Status model.RecipientStatus
	// After is the exclusive shard-local resume cursor (a user id).
	After *string
	Limit int
}

// RecipientStatusUpdate carries one recipient's terminal status write.
type RecipientStatusUpdate struct {
	Ref       JobRef
	UserID    string
	Status    model.RecipientStatus
	MessageID *string
}

// RecipientRepository defines the persistence contract for per-recipient
// ingestion records.
type RecipientRepository interface {
	// Insert conditionally writes a recipient row. A second write for the
	// same (workspace, job, user) fails with data.ErrDuplicateRecipient.
	Insert(ctx context.Context, rec *model.BulkRecipient) error

	// QueryShard returns up to Limit recipients of one shard ordered by user
	// id, resuming after the cursor when present.
	QueryShard(ctx context.Context, q ShardQuery) (*RecipientPage, error)

	// UpdateStatus moves one recipient out of PENDING exactly once. Returns
	// false without error when the recipient already left PENDING.
	UpdateStatus(ctx context.Context, upd RecipientStatusUpdate) (bool, error)

	// Stats returns recipient counts by status for one job.
	Stats(ctx context.Context, ref JobRef) (*model.JobStats, error)
}

// TaskRepository defines the work queue contract: durable, at-least-once,
// lease-based delivery of units of work.
type TaskRepository interface {
	// Enqueue persists a new pending task and wakes waiting workers.
	Enqueue(ctx context.Context, req *model.EnqueueTaskRequest) (*model.Task, error)

	// ReserveNext atomically claims the next pending task of the given type
	// under a lease. Returns model.ErrNoTasksAvailable when the queue is idle.
	ReserveNext(ctx context.Context, taskType model.TaskType, leaseSeconds int) (*model.Task, error)

	// WaitForNotification blocks until a task of the given type is enqueued
	// or the context is cancelled.
	WaitForNotification(ctx context.Context, taskType model.TaskType) error

	// Heartbeat extends the lease on a running task.
	Heartbeat(ctx context.Context, taskID string, leaseSeconds int) (bool, error)

	// Complete marks a running task as completed.
	Complete(ctx context.Context, taskID string) (bool, error)

	// Fail records a failure; the task is rescheduled until MaxRetries is
	// exhausted, then parked as failed.
	Fail(ctx context.Context, taskID, errMsg string) (bool, error)

	// RequeueExpired returns expired running tasks to pending. Used by the
	// reaper to re-drive tasks whose worker died mid-lease.
	RequeueExpired(ctx context.Context, taskType model.TaskType) (int64, error)
}

// DeleteOldTasksParams selects terminal tasks for batched deletion.
type DeleteOldTasksParams struct {
	Status    model.TaskStatus
	MaxAge    time.Duration
	BatchSize int
}

// ReaperRepository defines the cleanup contract used by the reaper: lease
// recovery for tasks whose worker died, and retention-based deletion of
// terminal tasks.
type ReaperRepository interface {
	// RequeueExpired returns expired running tasks of the given type to pending.
	RequeueExpired(ctx context.Context, taskType model.TaskType) (int64, error)

	// DeleteOldTasks deletes up to BatchSize terminal tasks older than MaxAge.
	DeleteOldTasks(ctx context.Context, params DeleteOldTasksParams) (int64, error)
}

// PayloadStore is the content-addressable blob store holding job templates
// and raw recipient payloads.
type PayloadStore interface {
	// Put stores a payload under the given key and returns the opaque pointer
	// used to retrieve it later.
	Put(ctx context.Context, key string, payload []byte) (string, error)

	// Get resolves a pointer to its stored payload.
	Get(ctx context.Context, ptr string) ([]byte, error)
}

// Dispatcher hands one fully-merged per-recipient request to the downstream
// delivery pipeline. Delivery retries are the pipeline's concern, not ours.
type Dispatcher interface {
	// Submit returns the message id assigned by the delivery pipeline.
	Submit(ctx context.Context, req *bulk.DispatchRequest) (string, error)
}

// CacheRepository is a byte-oriented cache with TTLs, used to keep hot
// template payloads off the object store during page processing.
type CacheRepository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetIfNotExists atomically sets a key only when absent; returns whether
	// the write happened. Used as the shard fan-out guard.
	SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) (bool, error)
}
