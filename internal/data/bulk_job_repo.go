package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/herald-notify/herald/internal/core"
	"github.com/herald-notify/herald/internal/data/pgxutil"
	"github.com/herald-notify/herald/internal/domain/model"
)

// BulkJobRepoConfig holds configuration options for the bulk job repository.
type BulkJobRepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// BulkJobRepo provides database operations for bulk job records.
type BulkJobRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewBulkJobRepo creates a new BulkJobRepo with the given database connection
// and configuration.
func NewBulkJobRepo(db *sql.DB, cfg BulkJobRepoConfig) *BulkJobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &BulkJobRepo{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const bulkJobColumns = `
  workspace_id,
  id,
  status,
  scope,
  api_version,
  template_ptr,
  received,
  enqueued,
  failures,
  enqueued_shards,
  dry_run_key,
  created_at,
  updated_at
`

type bulkJobRowScanner interface {
	Scan(dest ...any) error
}

func scanBulkJob(scanner bulkJobRowScanner) (*model.BulkJob, error) {
	job := &model.BulkJob{}
	var dryRunKey sql.NullString
	if err := scanner.Scan(
		&job.WorkspaceID,
		&job.ID,
		&job.Status,
		&job.Scope,
		&job.APIVersion,
		&job.TemplatePtr,
		&job.Received,
		&job.Enqueued,
		&job.Failures,
		&job.EnqueuedShards,
		&dryRunKey,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if dryRunKey.Valid {
		k := dryRunKey.String
		job.DryRunKey = &k
	}
	return job, nil
}

// Create persists a new job in CREATED state with zeroed counters.
func (r *BulkJobRepo) Create(ctx context.Context, job *model.BulkJob) error {
	if job == nil {
		return errors.New("bulk job is required")
	}

	now := r.timeProvider.Now().UTC()
	var dryRunKey sql.NullString
	if job.DryRunKey != nil {
		dryRunKey = sql.NullString{String: *job.DryRunKey, Valid: true}
	}

	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO bulk_jobs (workspace_id, id, status, scope, api_version, template_ptr, dry_run_key, created_at, updated_at)
		VALUES ($1, $2, 'CREATED', $3, $4, $5, $6, $7, $7)
		RETURNING `+bulkJobColumns, job.WorkspaceID, job.ID, job.Scope, job.APIVersion, job.TemplatePtr, dryRunKey, now)

	created, err := scanBulkJob(row)
	if err != nil {
		return fmt.Errorf("insert bulk job: %w", err)
	}
	*job = *created
	return nil
}

// GetByID retrieves a job record by workspace and id.
func (r *BulkJobRepo) GetByID(ctx context.Context, ref core.JobRef) (*model.BulkJob, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+bulkJobColumns+`
		FROM bulk_jobs
		WHERE workspace_id = $1 AND id = $2
	`, ref.WorkspaceID, ref.JobID)

	job, err := scanBulkJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBulkJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get bulk job: %w", err)
	}
	return job, nil
}

// MarkProcessing transitions a job from CREATED to PROCESSING. The conditional
// WHERE makes the transition first-writer-wins: a second call finds the job
// already out of CREATED and reports false.
func (r *BulkJobRepo) MarkProcessing(ctx context.Context, ref core.JobRef) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE bulk_jobs
		SET status = 'PROCESSING', updated_at = $3
		WHERE workspace_id = $1 AND id = $2 AND status = 'CREATED'
	`, ref.WorkspaceID, ref.JobID, r.timeProvider.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("mark job processing: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark processing rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// AddReceived atomically adds n to the job's received counter.
func (r *BulkJobRepo) AddReceived(ctx context.Context, ref core.JobRef, n int) error {
	return r.addCounter(ctx, ref, "received", n)
}

// AddEnqueued atomically adds n to the job's enqueued counter.
func (r *BulkJobRepo) AddEnqueued(ctx context.Context, ref core.JobRef, n int) error {
	return r.addCounter(ctx, ref, "enqueued", n)
}

func (r *BulkJobRepo) addCounter(ctx context.Context, ref core.JobRef, column string, n int) error {
	if n == 0 {
		return nil
	}

	// column is one of the fixed counter names above, never caller input.
	query := fmt.Sprintf(`
		UPDATE bulk_jobs
		SET %s = %s + $3, updated_at = $4
		WHERE workspace_id = $1 AND id = $2
	`, column, column)

	res, err := r.DB.ExecContext(ctx, query, ref.WorkspaceID, ref.JobID, n, r.timeProvider.Now().UTC())
	if err != nil {
		return fmt.Errorf("add %s: %w", column, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("add %s rows affected: %w", column, err)
	}
	if rowsAffected == 0 {
		return ErrBulkJobNotFound
	}
	return nil
}

// SignalShardComplete increments the job's shard completion counter and, when
// the last shard reports in, transitions the job to COMPLETED. Both writes run
// in one transaction. The increment is capped at shardCount so redelivered
// completion signals cannot push the counter past the shard total, and the
// COMPLETED transition is guarded on PROCESSING so exactly one signal observes
// the transition.
func (r *BulkJobRepo) SignalShardComplete(ctx context.Context, ref core.JobRef, shardCount int) (core.ShardCompletionResult, error) {
	if shardCount <= 0 {
		return core.ShardCompletionResult{}, errors.New("shard count must be positive")
	}

	var result core.ShardCompletionResult
	err := pgxutil.WithSQLTx(ctx, r.DB, func(tx *sql.Tx) error {
		now := r.timeProvider.Now().UTC()

		var enqueuedShards int
		if err := tx.QueryRowContext(ctx, `
			UPDATE bulk_jobs
			SET enqueued_shards = LEAST(enqueued_shards + 1, $3), updated_at = $4
			WHERE workspace_id = $1 AND id = $2
			RETURNING enqueued_shards
		`, ref.WorkspaceID, ref.JobID, shardCount, now).Scan(&enqueuedShards); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrBulkJobNotFound
			}
			return fmt.Errorf("increment enqueued shards: %w", err)
		}
		result.EnqueuedShards = enqueuedShards

		if enqueuedShards < shardCount {
			return nil
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE bulk_jobs
			SET status = 'COMPLETED', updated_at = $3
			WHERE workspace_id = $1 AND id = $2
			  AND status = 'PROCESSING' AND enqueued_shards >= $4
		`, ref.WorkspaceID, ref.JobID, now, shardCount)
		if err != nil {
			return fmt.Errorf("complete job: %w", err)
		}

		rowsAffected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("complete job rows affected: %w", err)
		}
		result.Completed = rowsAffected > 0
		return nil
	})
	if err != nil {
		return core.ShardCompletionResult{}, err
	}

	if result.Completed && r.logger != nil {
		r.logger.InfoContext(ctx, "bulk job completed",
			"workspace_id", ref.WorkspaceID,
			"job_id", ref.JobID,
			"enqueued_shards", result.EnqueuedShards,
		)
	}
	return result, nil
}
