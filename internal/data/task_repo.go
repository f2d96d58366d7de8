package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/herald-notify/herald/internal/core"
	"github.com/herald-notify/herald/internal/data/pgxutil"
	"github.com/herald-notify/herald/internal/domain/model"
)

const defaultTaskRetryDelaySeconds = 30

// TaskRepoConfig holds configuration options for the task repository.
type TaskRepoConfig struct {
	RetryDelaySeconds int
	Logger            *slog.Logger
	TimeProvider      TimeProvider
}

// TaskRepo provides database operations for the durable work queue. Delivery
// is at-least-once: reservation takes a lease, and tasks whose lease expires
// are returned to pending by RequeueExpired.
type TaskRepo struct {
	DB           *sql.DB
	cfg          TaskRepoConfig
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewTaskRepo creates a new TaskRepo with the given database connection and
// configuration.
func NewTaskRepo(db *sql.DB, cfg TaskRepoConfig) *TaskRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &TaskRepo{
		DB:           db,
		cfg:          cfg,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

func (r *TaskRepo) retryDelay() int {
	if r.cfg.RetryDelaySeconds > 0 {
		return r.cfg.RetryDelaySeconds
	}
	return defaultTaskRetryDelaySeconds
}

const taskColumns = `
  id,
  type,
  status,
  payload,
  retry_count,
  max_retries,
  last_error,
  scheduled_at,
  started_at,
  completed_at,
  lease_expires_at,
  created_at,
  updated_at
`

// SQL used by ReserveNext to atomically claim the next pending task.
const reserveNextTaskSQL = `
  WITH cte AS (
    SELECT id FROM tasks
    WHERE type = $1 AND status = 'pending' AND scheduled_at <= $2
    ORDER BY scheduled_at ASC, created_at ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
  )
  UPDATE tasks t
  SET
    status = 'running',
    started_at = COALESCE(t.started_at, $3),
    lease_expires_at = $4,
    updated_at = $5
  FROM cte
  WHERE t.id = cte.id
  RETURNING ` + taskColumns

type taskRowScanner interface {
	Scan(dest ...any) error
}

func scanTask(scanner taskRowScanner) (*model.Task, error) {
	task := &model.Task{}
	var payload []byte
	var lastError sql.NullString
	var startedAt, completedAt, leaseExpiresAt sql.NullTime

	if err := scanner.Scan(
		&task.ID,
		&task.Type,
		&task.Status,
		&payload,
		&task.RetryCount,
		&task.MaxRetries,
		&lastError,
		&task.ScheduledAt,
		&startedAt,
		&completedAt,
		&leaseExpiresAt,
		&task.CreatedAt,
		&task.UpdatedAt,
	); err != nil {
		return nil, err
	}

	task.Payload = append(json.RawMessage(nil), payload...)
	task.LastError = nullableString(lastError)
	task.StartedAt = nullableTime(startedAt)
	task.CompletedAt = nullableTime(completedAt)
	task.LeaseExpiresAt = nullableTime(leaseExpiresAt)
	return task, nil
}

func nullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func collectTaskFromRows(rows pgx.Rows) (*model.Task, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}

	task, err := scanTask(rows)
	if err != nil {
		return nil, err
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}
	return task, nil
}

// Enqueue persists a new pending task and notifies listeners of its type.
// Insert and notify share a transaction so a worker woken by the notification
// always finds the row.
func (r *TaskRepo) Enqueue(ctx context.Context, req *model.EnqueueTaskRequest) (*model.Task, error) {
	if req == nil {
		return nil, errors.New("enqueue task request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	scheduledAt := r.timeProvider.Now().UTC()
	if req.ScheduledAt != nil {
		scheduledAt = req.ScheduledAt.UTC()
	}

	var task *model.Task
	err := pgxutil.WithPgxTx(ctx, r.DB, func(tx pgx.Tx) error {
		rows, qerr := tx.Query(ctx, `
			INSERT INTO tasks (type, status, payload, max_retries, scheduled_at)
			VALUES ($1, 'pending', $2, $3, $4)
			RETURNING `+taskColumns, req.Type, []byte(req.Payload), req.MaxRetries, scheduledAt)
		if qerr != nil {
			return fmt.Errorf("insert task: %w", qerr)
		}
		t, cerr := collectTaskFromRows(rows)
		rows.Close()
		if cerr != nil {
			return fmt.Errorf("collect task: %w", cerr)
		}

		channel := "task_added_" + string(req.Type)
		if _, execErr := tx.Exec(ctx, `SELECT pg_notify($1::text, $2::text)`, channel, t.ID); execErr != nil {
			return fmt.Errorf("send task notification: %w", execErr)
		}

		task = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// ReserveNext reserves the next available task of the given type under a
// lease. Expired leases of the same type are requeued first so a dead worker
// never strands work behind an idle queue.
func (r *TaskRepo) ReserveNext(ctx context.Context, taskType model.TaskType, leaseSeconds int) (*model.Task, error) {
	if !taskType.Valid() {
		return nil, fmt.Errorf("invalid task type: %s", taskType)
	}

	if _, err := r.RequeueExpired(ctx, taskType); err != nil {
		return nil, fmt.Errorf("requeue expired tasks: %w", err)
	}

	var task *model.Task
	err := pgxutil.WithPgxTx(ctx, r.DB, func(tx pgx.Tx) error {
		currentTime := r.timeProvider.Now()
		leaseExpiresAt := currentTime.Add(time.Duration(leaseSeconds) * time.Second)

		rows, qerr := tx.Query(
			ctx,
			reserveNextTaskSQL,
			taskType,
			currentTime.UTC(),
			currentTime.UTC(),
			leaseExpiresAt.UTC(),
			currentTime.UTC(),
		)
		if qerr != nil {
			return fmt.Errorf("reserve task: %w", qerr)
		}
		defer rows.Close()

		t, cerr := collectTaskFromRows(rows)
		if errors.Is(cerr, pgx.ErrNoRows) {
			return model.ErrNoTasksAvailable
		}
		if cerr != nil {
			return fmt.Errorf("reserve task: %w", cerr)
		}
		task = t
		return nil
	})
	if err != nil {
		if errors.Is(err, model.ErrNoTasksAvailable) {
			return nil, model.ErrNoTasksAvailable
		}
		return nil, err
	}
	return task, nil
}

// WaitForNotification blocks until a task of the given type is enqueued or
// the context is cancelled.
func (r *TaskRepo) WaitForNotification(ctx context.Context, taskType model.TaskType) error {
	conn, err := r.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() {
		_ = conn.Close()
	}()

	channel := "task_added_" + string(taskType)
	quoted := pgx.Identifier{channel}.Sanitize()

	if _, execErr := conn.ExecContext(ctx, "LISTEN "+quoted); execErr != nil {
		return fmt.Errorf("listen %s: %w", channel, execErr)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "UNLISTEN "+quoted)
	}()

	return conn.Raw(func(dc any) error {
		sc, ok := dc.(*stdlib.Conn)
		if !ok {
			return errors.New("unexpected driver connection type; expected *stdlib.Conn")
		}
		_, notifyErr := sc.Conn().WaitForNotification(ctx)
		return notifyErr
	})
}

// Heartbeat extends the lease on a running task.
func (r *TaskRepo) Heartbeat(ctx context.Context, taskID string, leaseSeconds int) (bool, error) {
	if leaseSeconds <= 0 {
		return false, errors.New("leaseSeconds must be positive")
	}

	currentTime := r.timeProvider.Now().UTC()
	leaseExpiration := currentTime.Add(time.Duration(leaseSeconds) * time.Second)

	res, err := r.DB.ExecContext(ctx, `
		UPDATE tasks
		SET lease_expires_at = $2,
		    updated_at = $3
		WHERE id = $1 AND status = 'running'
	`, taskID, leaseExpiration, currentTime)
	if err != nil {
		return false, fmt.Errorf("heartbeat task: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("heartbeat rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// Complete marks a running task as completed.
func (r *TaskRepo) Complete(ctx context.Context, taskID string) (bool, error) {
	currentTime := r.timeProvider.Now().UTC()

	res, err := r.DB.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'completed',
		    completed_at = $2,
		    updated_at = $2,
		    lease_expires_at = NULL,
		    last_error = NULL
		WHERE id = $1 AND status = 'running'
	`, taskID, currentTime)
	if err != nil {
		return false, fmt.Errorf("complete task: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// Fail records a failure on a running task. Tasks with retries left return to
// pending after a delay; tasks out of retries are parked as failed.
func (r *TaskRepo) Fail(ctx context.Context, taskID, errMsg string) (bool, error) {
	currentTime := r.timeProvider.Now()
	retryScheduledAt := currentTime.Add(time.Duration(r.retryDelay()) * time.Second)

	var status string
	err := r.DB.QueryRowContext(ctx, `
      UPDATE tasks
      SET
        last_error = $2,
        retry_count = retry_count + 1,
        status = CASE WHEN retry_count + 1 > max_retries THEN 'failed' ELSE 'pending' END,
        completed_at = CASE WHEN retry_count + 1 > max_retries THEN $3::timestamptz ELSE NULL END,
        lease_expires_at = NULL,
        scheduled_at = CASE WHEN retry_count + 1 > max_retries THEN scheduled_at
                            ELSE $4::timestamptz END,
        updated_at = $5
      WHERE id = $1 AND status = 'running'
      RETURNING status
    `, taskID, errMsg, currentTime.UTC(), retryScheduledAt.UTC(), currentTime.UTC()).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("fail task: %w", err)
	}

	if status == string(model.TaskStatusFailed) && r.logger != nil {
		r.logger.ErrorContext(ctx, "task exhausted retries",
			"task_id", taskID,
			"error", errMsg,
		)
	}
	return true, nil
}

// Advisory lock namespace for RequeueExpired to avoid cross-type contention.
const advisoryLockRequeueMajor int64 = 2001

func advisoryLockRequeueMinor(taskType model.TaskType) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(taskType))
	hashValue := h.Sum32()
	maxInt32 := uint32(math.MaxInt32)
	if hashValue > maxInt32 {
		hashValue &= maxInt32
	}
	return int64(hashValue)
}

// RequeueExpired returns expired running tasks of the given type to pending.
// An advisory lock keeps concurrent callers from issuing the same sweep.
func (r *TaskRepo) RequeueExpired(ctx context.Context, taskType model.TaskType) (int64, error) {
	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, func(tx *sql.Tx) error {
		var locked bool
		minorKey := advisoryLockRequeueMinor(taskType)
		if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1::integer, $2::integer)", advisoryLockRequeueMajor, minorKey).Scan(&locked); err != nil {
			return fmt.Errorf("acquire advisory lock: %w", err)
		}
		if !locked {
			rowsAffected = 0
			return nil
		}

		currentTime := r.timeProvider.Now()
		res, err := tx.ExecContext(ctx, `
          UPDATE tasks
          SET status = 'pending', lease_expires_at = NULL
          WHERE type = $1 AND status = 'running'
            AND lease_expires_at IS NOT NULL
            AND lease_expires_at < $2
        `, taskType, currentTime.UTC())
		if err != nil {
			return fmt.Errorf("requeue expired: %w", err)
		}
		ra, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		rowsAffected = ra
		return nil
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}

// DeleteOldTasks deletes up to BatchSize terminal tasks of the given status
// older than MaxAge. Callers loop until zero rows are affected.
func (r *TaskRepo) DeleteOldTasks(ctx context.Context, params core.DeleteOldTasksParams) (int64, error) {
	if params.Status != model.TaskStatusCompleted && params.Status != model.TaskStatusFailed {
		return 0, fmt.Errorf("cannot delete tasks in status %s", params.Status)
	}
	if params.BatchSize <= 0 {
		return 0, errors.New("batch size must be positive")
	}

	cutoff := r.timeProvider.Now().Add(-params.MaxAge).UTC()

	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM tasks
		WHERE id IN (
			SELECT id FROM tasks
			WHERE status = $1
			  AND completed_at IS NOT NULL
			  AND completed_at < $2
			ORDER BY completed_at ASC
			LIMIT $3
		)
	`, params.Status, cutoff, params.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("delete old tasks: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete old tasks rows affected: %w", err)
	}
	return rowsAffected, nil
}

// GetByID retrieves a task by its id.
func (r *TaskRepo) GetByID(ctx context.Context, taskID string) (*model.Task, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE id = $1
	`, taskID)

	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}
