package model

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// RecipientStatus represents the dispatch state of one ingested recipient.
type RecipientStatus string

const (
	// RecipientStatusPending indicates the recipient awaits shard processing.
	RecipientStatusPending RecipientStatus = "PENDING"
	// RecipientStatusEnqueued indicates the merged request was accepted
	// downstream and a message id was assigned.
	RecipientStatusEnqueued RecipientStatus = "ENQUEUED"
	// RecipientStatusError indicates dispatch failed for this recipient.
	RecipientStatusError RecipientStatus = "ERROR"
)

// Valid returns true if the RecipientStatus is one of the known states.
func (s RecipientStatus) Valid() bool {
	return s == RecipientStatusPending || s == RecipientStatusEnqueued ||
		s == RecipientStatusError
}

// BulkRecipient is the durable per-recipient ingestion record. Shard is drawn
// uniformly at random at ingestion time and never recomputed; it spreads
// processing load and carries no meaning for callers.
type BulkRecipient struct {
	WorkspaceID string          `json:"workspace_id" db:"workspace_id"`
	JobID       string          `json:"job_id"       db:"job_id"`
	UserID      string          `json:"user_id"      db:"user_id"`
	PayloadPtr  string          `json:"payload_ptr"  db:"payload_ptr"`
	Status      RecipientStatus `json:"status"       db:"status"`
	MessageID   *string         `json:"message_id,omitempty" db:"message_id"`
	Shard       int             `json:"shard"        db:"shard"`
	CreatedAt   time.Time       `json:"created_at"   db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"   db:"updated_at"`
}

// IngestRecipient is one addressee in an ingest call. Recipient is the
// caller-supplied identifier; when absent a unique token is generated.
type IngestRecipient struct {
	Recipient string          `json:"recipient,omitempty"`
	To        map[string]any  `json:"to,omitempty"`
	Profile   map[string]any  `json:"profile,omitempty"`
	Data      map[string]any  `json:"data,omitempty"`
	Prefs     json.RawMessage `json:"preferences,omitempty"`
}

// Validate rejects recipients with no addressing information at all.
func (r *IngestRecipient) Validate() error {
	if strings.TrimSpace(r.Recipient) == "" && len(r.To) == 0 && len(r.Profile) == 0 {
		return errors.New("recipient requires an identifier, to, or profile")
	}
	return nil
}

// Ingest error messages returned per item. The duplicate message is part of
// the API contract and must stay stable.
const (
	IngestErrorDuplicate = "Duplicate user"
	IngestErrorGeneric   = "Failed to ingest user"
)

// IngestError is a per-item ingestion failure. It never aborts the batch.
type IngestError struct {
	Error string          `json:"error"`
	User  IngestRecipient `json:"user"`
}

// IngestResult reports an ingest call's successes and per-item failures.
type IngestResult struct {
	Total  int           `json:"total"`
	Errors []IngestError `json:"errors"`
}

// JobUser is one item of a getJobUsers page: the recipient's resolved payload
// merged with its dispatch status.
type JobUser struct {
	UserID    string          `json:"user_id"`
	Status    RecipientStatus `json:"status"`
	MessageID *string         `json:"message_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// JobUserPage is a cross-shard page of job recipients. Cursor is opaque and
// encodes the internal shard position; it is empty when More is false.
type JobUserPage struct {
	Items  []JobUser `json:"items"`
	Cursor string    `json:"cursor,omitempty"`
	More   bool      `json:"more"`
}
