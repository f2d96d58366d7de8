package data

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/herald-notify/herald/internal/core"
	"github.com/herald-notify/herald/internal/domain/model"
	"github.com/herald-notify/herald/internal/testutil"
)

func createTestJob(t *testing.T, repo *BulkJobRepo) *model.BulkJob {
	t.Helper()
	job := testutil.NewBulkJob().Build()
	require.NoError(t, repo.Create(context.Background(), job))
	return job
}

func jobRefOf(job *model.BulkJob) core.JobRef {
	return core.JobRef{WorkspaceID: job.WorkspaceID, JobID: job.ID}
}

func TestBulkJobRepo_CreateAndGet(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewBulkJobRepo(db, BulkJobRepoConfig{})

		job := testutil.NewBulkJob().WithDryRunKey("dr-key").Build()
		require.NoError(t, repo.Create(ctx, job))

		assert.Equal(t, model.JobStatusCreated, job.Status)
		assert.Zero(t, job.Received)
		assert.Zero(t, job.Enqueued)
		assert.Zero(t, job.EnqueuedShards)
		assert.False(t, job.CreatedAt.IsZero())

		got, err := repo.GetByID(ctx, jobRefOf(job))
		require.NoError(t, err)
		assert.Equal(t, job.ID, got.ID)
		assert.Equal(t, job.Scope, got.Scope)
		assert.Equal(t, job.TemplatePtr, got.TemplatePtr)
		if assert.NotNil(t, got.DryRunKey) {
			assert.Equal(t, "dr-key", *got.DryRunKey)
		}
	})
}

func TestBulkJobRepo_GetByID_NotFound(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewBulkJobRepo(db, BulkJobRepoConfig{})

		_, err := repo.GetByID(context.Background(), testutil.JobRef())
		assert.ErrorIs(t, err, ErrBulkJobNotFound)
	})
}

func TestBulkJobRepo_MarkProcessing_FirstWriterWins(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewBulkJobRepo(db, BulkJobRepoConfig{})
		job := createTestJob(t, repo)

		ok, err := repo.MarkProcessing(ctx, jobRefOf(job))
		require.NoError(t, err)
		assert.True(t, ok)

		// A second transition attempt finds the job already PROCESSING.
		ok, err = repo.MarkProcessing(ctx, jobRefOf(job))
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := repo.GetByID(ctx, jobRefOf(job))
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusProcessing, got.Status)
	})
}

func TestBulkJobRepo_Counters(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewBulkJobRepo(db, BulkJobRepoConfig{})
		job := createTestJob(t, repo)

		require.NoError(t, repo.AddReceived(ctx, jobRefOf(job), 3))
		require.NoError(t, repo.AddReceived(ctx, jobRefOf(job), 2))
		require.NoError(t, repo.AddEnqueued(ctx, jobRefOf(job), 4))
		// Zero increments are a no-op, even for unknown jobs.
		require.NoError(t, repo.AddReceived(ctx, testutil.JobRef(), 0))

		got, err := repo.GetByID(ctx, jobRefOf(job))
		require.NoError(t, err)
		assert.Equal(t, int64(5), got.Received)
		assert.Equal(t, int64(4), got.Enqueued)

		err = repo.AddReceived(ctx, testutil.JobRef(), 1)
		assert.ErrorIs(t, err, ErrBulkJobNotFound)
	})
}

func TestBulkJobRepo_SignalShardComplete(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewBulkJobRepo(db, BulkJobRepoConfig{})
		job := createTestJob(t, repo)

		ok, err := repo.MarkProcessing(ctx, jobRefOf(job))
		require.NoError(t, err)
		require.True(t, ok)

		const shardCount = 3

		res, err := repo.SignalShardComplete(ctx, jobRefOf(job), shardCount)
		require.NoError(t, err)
		assert.Equal(t, 1, res.EnqueuedShards)
		assert.False(t, res.Completed)

		res, err = repo.SignalShardComplete(ctx, jobRefOf(job), shardCount)
		require.NoError(t, err)
		assert.Equal(t, 2, res.EnqueuedShards)
		assert.False(t, res.Completed)

		res, err = repo.SignalShardComplete(ctx, jobRefOf(job), shardCount)
		require.NoError(t, err)
		assert.Equal(t, 3, res.EnqueuedShards)
		assert.True(t, res.Completed)

		// A redelivered signal neither pushes the counter past the shard
		// total nor reports completion a second time.
		res, err = repo.SignalShardComplete(ctx, jobRefOf(job), shardCount)
		require.NoError(t, err)
		assert.Equal(t, 3, res.EnqueuedShards)
		assert.False(t, res.Completed)

		got, err := repo.GetByID(ctx, jobRefOf(job))
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCompleted, got.Status)
	})
}

func TestBulkJobRepo_SignalShardComplete_UnknownJob(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewBulkJobRepo(db, BulkJobRepoConfig{})

		_, err := repo.SignalShardComplete(context.Background(), testutil.JobRef(), 10)
		assert.ErrorIs(t, err, ErrBulkJobNotFound)
	})
}

func TestBulkJobRepo_SignalShardComplete_ConcurrentSignals(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		repo := NewBulkJobRepo(db, BulkJobRepoConfig{})
		job := createTestJob(t, repo)

		ok, err := repo.MarkProcessing(ctx, jobRefOf(job))
		require.NoError(t, err)
		require.True(t, ok)

		const shardCount = 10
		results := make([]core.ShardCompletionResult, shardCount)

		runner := testutil.NewConcurrentTestRunner(t, db)
		funcs := make([]func() error, shardCount)
		for i := range funcs {
			funcs[i] = func() error {
				res, sigErr := repo.SignalShardComplete(ctx, jobRefOf(job), shardCount)
				results[i] = res
				return sigErr
			}
		}
		runner.AssertNoErrors(runner.RunConcurrent(funcs...))

		var completions int
		for _, res := range results {
			if res.Completed {
				completions++
			}
		}
		assert.Equal(t, 1, completions, "exactly one signal must observe the completion transition")

		got, err := repo.GetByID(ctx, jobRefOf(job))
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCompleted, got.Status)
		assert.Equal(t, shardCount, got.EnqueuedShards)
	})
}
