// Package model defines the core data types for the herald bulk notification engine.
package model

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// JobStatus represents the lifecycle state of a bulk job.
type JobStatus string

const (
	// JobStatusCreated indicates the job accepts recipient ingestion.
	JobStatusCreated JobStatus = "CREATED"
	// JobStatusProcessing indicates the job has been fanned out to shard workers.
	JobStatusProcessing JobStatus = "PROCESSING"
	// JobStatusCompleted indicates every shard has drained.
	JobStatusCompleted JobStatus = "COMPLETED"
	// JobStatusError is a reserved terminal state; the normal flow never sets it.
	JobStatusError JobStatus = "ERROR"
)

// Valid returns true if the JobStatus is one of the known states.
func (s JobStatus) Valid() bool {
	return s == JobStatusCreated || s == JobStatusProcessing ||
		s == JobStatusCompleted || s == JobStatusError
}

// Domain sentinel errors surfaced by the bulk job services.
var (
	// ErrJobNotFound is returned when a job does not exist or is not visible
	// under the caller's scope.
	ErrJobNotFound = errors.New("bulk job not found")
	// ErrScopeMismatch is returned when the caller's scope differs from the
	// scope the job was created with.
	ErrScopeMismatch = errors.New("scope does not match job scope")
	// ErrAPIVersionMismatch is returned when the caller's api version differs
	// from the version the job was created with.
	ErrAPIVersionMismatch = errors.New("api version does not match job api version")
	// ErrDuplicateInvocation is returned when run is called on a job that has
	// already left the CREATED state.
	ErrDuplicateInvocation = errors.New("job has already been run")
	// ErrAlreadySubmitted is returned when ingestion is attempted after run.
	ErrAlreadySubmitted = errors.New("job has already been submitted")
)

// BulkJob is the durable record of one bulk notification submission.
type BulkJob struct {
	WorkspaceID    string    `json:"workspace_id"    db:"workspace_id"`
	ID             string    `json:"id"              db:"id"`
	Status         JobStatus `json:"status"          db:"status"`
	Scope          string    `json:"scope"           db:"scope"`
	APIVersion     string    `json:"api_version"     db:"api_version"`
	TemplatePtr    string    `json:"template_ptr"    db:"template_ptr"`
	Received       int64     `json:"received"        db:"received"`
	Enqueued       int64     `json:"enqueued"        db:"enqueued"`
	Failures       int64     `json:"failures"        db:"failures"`
	EnqueuedShards int       `json:"enqueued_shards" db:"enqueued_shards"`
	DryRunKey      *string   `json:"dry_run_key,omitempty" db:"dry_run_key"`
	CreatedAt      time.Time `json:"created_at"      db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"      db:"updated_at"`
}

// JobContext carries the caller context that must match the stored job on
// every operation after creation. Scope doubles as an authorization boundary:
// reads treat a scope mismatch as not-found.
type JobContext struct {
	WorkspaceID string  `json:"workspace_id"`
	Scope       string  `json:"scope"`
	APIVersion  string  `json:"api_version"`
	DryRunKey   *string `json:"dry_run_key,omitempty"`
}

// Validate checks that the required context fields are present.
func (c *JobContext) Validate() error {
	if strings.TrimSpace(c.WorkspaceID) == "" {
		return errors.New("workspace id is required")
	}
	if strings.TrimSpace(c.Scope) == "" {
		return errors.New("scope is required")
	}
	if strings.TrimSpace(c.APIVersion) == "" {
		return errors.New("api version is required")
	}
	return nil
}

// Matches compares the caller context against a stored job and returns the
// applicable mismatch sentinel, or nil when both scope and api version agree.
func (c *JobContext) Matches(job *BulkJob) error {
	if job == nil {
		return ErrJobNotFound
	}
	if c.Scope != job.Scope {
		return ErrScopeMismatch
	}
	if c.APIVersion != job.APIVersion {
		return ErrAPIVersionMismatch
	}
	return nil
}

// TemplateMessage is the job-level message template shared by every recipient.
// Unknown provider-specific fields ride along in Override.
type TemplateMessage struct {
	Event    string         `json:"event,omitempty"`
	Brand    string         `json:"brand,omitempty"`
	To       map[string]any `json:"to,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Locale   string         `json:"locale,omitempty"`
	Override map[string]any `json:"override,omitempty"`
}

// CreateBulkJobRequest carries the inputs for creating a new bulk job.
type CreateBulkJobRequest struct {
	Context  JobContext
	Template TemplateMessage
}

// Validate validates the CreateBulkJobRequest fields.
func (r *CreateBulkJobRequest) Validate() error {
	if err := r.Context.Validate(); err != nil {
		return err
	}
	if r.Template.Event == "" && len(r.Template.Override) == 0 {
		return errors.New("template message requires an event or an override")
	}
	return nil
}

// JobSummary is the read model returned by getJob: the job record plus its
// resolved template payload.
type JobSummary struct {
	Job      BulkJob         `json:"job"`
	Template json.RawMessage `json:"template"`
}

// JobStats reports recipient counts by status for one job.
type JobStats struct {
	Pending  int `json:"pending"`
	Enqueued int `json:"enqueued"`
	Errored  int `json:"errored"`
}
