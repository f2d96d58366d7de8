package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/herald-notify/herald/internal/core"
	"github.com/herald-notify/herald/internal/domain/model"
)

// RecipientRepoConfig holds configuration options for the recipient repository.
type RecipientRepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// RecipientRepo provides database operations for per-recipient ingestion
// records.
type RecipientRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewRecipientRepo creates a new RecipientRepo with the given database
// connection and configuration.
func NewRecipientRepo(db *sql.DB, cfg RecipientRepoConfig) *RecipientRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &RecipientRepo{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const recipientColumns = `
  workspace_id,
  job_id,
  user_id,
  payload_ptr,
  status,
  message_id,
  shard,
  created_at,
  updated_at
`

func scanRecipient(scanner bulkJobRowScanner) (*model.BulkRecipient, error) {
	rec := &model.BulkRecipient{}
	var messageID sql.NullString
	if err := scanner.Scan(
		&rec.WorkspaceID,
		&rec.JobID,
		&rec.UserID,
		&rec.PayloadPtr,
		&rec.Status,
		&messageID,
		&rec.Shard,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if messageID.Valid {
		id := messageID.String
		rec.MessageID = &id
	}
	return rec, nil
}

// Insert conditionally writes a recipient row. The primary key on
// (workspace_id, job_id, user_id) makes a repeat ingest of the same user fail
// with ErrDuplicateRecipient, leaving the original row untouched.
func (r *RecipientRepo) Insert(ctx context.Context, rec *model.BulkRecipient) error {
	if rec == nil {
		return errors.New("recipient is required")
	}

	now := r.timeProvider.Now().UTC()
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO bulk_recipients (workspace_id, job_id, user_id, payload_ptr, status, shard, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'PENDING', $5, $6, $6)
	`, rec.WorkspaceID, rec.JobID, rec.UserID, rec.PayloadPtr, rec.Shard, now)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateRecipient
		}
		return fmt.Errorf("insert recipient: %w", err)
	}

	rec.Status = model.RecipientStatusPending
	rec.CreatedAt = now
	rec.UpdatedAt = now
	return nil
}

// QueryShard returns up to q.Limit recipients of one shard ordered by user id,
// resuming after the cursor when present. It reads one extra row past the
// limit to decide whether a next cursor exists without a second query.
func (r *RecipientRepo) QueryShard(ctx context.Context, q core.ShardQuery) (*core.RecipientPage, error) {
	if q.Limit <= 0 {
		return nil, errors.New("limit must be positive")
	}

	query := `
		SELECT ` + recipientColumns + `
		FROM bulk_recipients
		WHERE workspace_id = $1 AND job_id = $2 AND shard = $3
	`
	args := []any{q.Ref.WorkspaceID, q.Ref.JobID, q.Shard}

	if q.Status != "" {
		args = append(args, q.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if q.After != nil {
		args = append(args, *q.After)
		query += fmt.Sprintf(" AND user_id > $%d", len(args))
	}

	args = append(args, q.Limit+1)
	query += fmt.Sprintf(" ORDER BY user_id ASC LIMIT $%d", len(args))

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query shard: %w", err)
	}
	defer rows.Close()

	items := make([]*model.BulkRecipient, 0, q.Limit)
	for rows.Next() {
		rec, scanErr := scanRecipient(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan recipient: %w", scanErr)
		}
		items = append(items, rec)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("query shard rows: %w", rowsErr)
	}

	page := &core.RecipientPage{}
	if len(items) > q.Limit {
		items = items[:q.Limit]
		last := items[len(items)-1].UserID
		page.NextCursor = &last
	}
	page.Items = items
	return page, nil
}

// UpdateStatus moves one recipient out of PENDING. The conditional WHERE makes
// the write idempotent under task redelivery: a recipient that already left
// PENDING is never re-dispatched, and the call reports false without error.
func (r *RecipientRepo) UpdateStatus(ctx context.Context, upd core.RecipientStatusUpdate) (bool, error) {
	if !upd.Status.Valid() || upd.Status == model.RecipientStatusPending {
		return false, fmt.Errorf("invalid target status: %s", upd.Status)
	}

	var messageID sql.NullString
	if upd.MessageID != nil {
		messageID = sql.NullString{String: *upd.MessageID, Valid: true}
	}

	res, err := r.DB.ExecContext(ctx, `
		UPDATE bulk_recipients
		SET status = $4, message_id = $5, updated_at = $6
		WHERE workspace_id = $1 AND job_id = $2 AND user_id = $3
		  AND status = 'PENDING'
	`, upd.Ref.WorkspaceID, upd.Ref.JobID, upd.UserID, upd.Status, messageID, r.timeProvider.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("update recipient status: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update status rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// Stats returns recipient counts by status for one job.
func (r *RecipientRepo) Stats(ctx context.Context, ref core.JobRef) (*model.JobStats, error) {
	var s model.JobStats
	err := r.DB.QueryRowContext(ctx, `
  SELECT
    count(*) FILTER (WHERE status = 'PENDING')  AS pending,
    count(*) FILTER (WHERE status = 'ENQUEUED') AS enqueued,
    count(*) FILTER (WHERE status = 'ERROR')    AS errored
  FROM bulk_recipients
  WHERE workspace_id = $1 AND job_id = $2
  `, ref.WorkspaceID, ref.JobID).Scan(
		&s.Pending,
		&s.Enqueued,
		&s.Errored,
	)
	if err != nil {
		return nil, fmt.Errorf("get recipient stats: %w", err)
	}
	return &s, nil
}
