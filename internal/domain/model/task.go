package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TaskType represents the kind of queued unit of work.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type TaskType string

// TaskStatus represents the current status of a queued task.
type TaskStatus string

const (
	// TaskTypeFanOut triggers job fan-out: one shard page task per shard.
	TaskTypeFanOut TaskType = "fan_out"
	// TaskTypeShardPage processes one page of one shard's pending recipients.
	TaskTypeShardPage TaskType = "shard_page"

	// TaskStatusPending indicates a task is waiting to be picked up.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusRunning indicates a worker holds a lease on the task.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusCompleted indicates the task finished successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task exhausted its retries.
	TaskStatusFailed TaskStatus = "failed"
)

// ErrNoTasksAvailable is returned when no tasks are available for reservation.
var ErrNoTasksAvailable = errors.New("no tasks available")

// UnmarshalText implements encoding.TextUnmarshaler for TaskType to allow env parsing.
func (t *TaskType) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	tt := TaskType(v)
	if tt.Valid() {
		*t = tt
		return nil
	}
	return fmt.Errorf("invalid TaskType: %q", v)
}

// Valid returns true if the TaskType is valid.
func (t TaskType) Valid() bool {
	return t == TaskTypeFanOut || t == TaskTypeShardPage
}

// AllTaskTypes returns every queue type, in fan-out-first order.
func AllTaskTypes() []TaskType {
	return []TaskType{TaskTypeFanOut, TaskTypeShardPage}
}

// Valid returns true if the TaskStatus is valid.
func (s TaskStatus) Valid() bool {
	return s == TaskStatusPending || s == TaskStatusRunning ||
		s == TaskStatusCompleted || s == TaskStatusFailed
}

// Task is one queued unit of work. The queue is at-least-once: a task whose
// lease expires is requeued by the reaper, so handlers must be idempotent.
type Task struct {
	ID             string          `json:"id"               db:"id"`
	Type           TaskType        `json:"type"             db:"type"`
	Status         TaskStatus      `json:"status"           db:"status"`
	Payload        json.RawMessage `json:"payload"          db:"payload"`
	RetryCount     int             `json:"retry_count"      db:"retry_count"`
	MaxRetries     int             `json:"max_retries"      db:"max_retries"`
	LastError      *string         `json:"last_error,omitempty" db:"last_error"`
	ScheduledAt    time.Time       `json:"scheduled_at"     db:"scheduled_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty" db:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty" db:"lease_expires_at"`
	CreatedAt      time.Time       `json:"created_at"       db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"       db:"updated_at"`
}

// EnqueueTaskRequest represents a request to enqueue a new task.
type EnqueueTaskRequest struct {
	Type        TaskType        `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	MaxRetries  int             `json:"max_retries"`
	ScheduledAt *time.Time      `json:"scheduled_at,omitempty"`
}

// Validate validates the EnqueueTaskRequest fields.
func (r *EnqueueTaskRequest) Validate() error {
	if !r.Type.Valid() {
		return errors.New("invalid task type")
	}
	if len(r.Payload) == 0 {
		return errors.New("payload is required")
	}
	if r.MaxRetries < 0 {
		return errors.New("max retries must be >= 0")
	}
	return nil
}

// FanOutPayload is the payload of a fan_out task.
type FanOutPayload struct {
	WorkspaceID string `json:"workspace_id"`
	JobID       string `json:"job_id"`
}

// ShardPagePayload is the continuation message carried between shard page
// invocations. Cursor is the last user id the previous page consumed; nil
// means start from the beginning of the shard.
type ShardPagePayload struct {
	WorkspaceID string  `json:"workspace_id"`
	JobID       string  `json:"job_id"`
	Shard       int     `json:"shard"`
	PageSize    int     `json:"page_size"`
	Cursor      *string `json:"cursor,omitempty"`
}
