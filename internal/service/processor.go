package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/herald-notify/herald/internal/core"
	"github.com/herald-notify/herald/internal/domain/bulk"
	"github.com/herald-notify/herald/internal/domain/model"
	"github.com/herald-notify/herald/internal/observability/metrics"
	"github.com/herald-notify/herald/internal/observability/statsd"
)

const (
	// defaultPageSize bounds how many recipients one shard page invocation
	// consumes; the page boundary is also the unit-of-work boundary.
	defaultPageSize = 100

	// dispatchConcurrency bounds parallel dispatch submissions within a page.
	dispatchConcurrency = 8

	// templateCacheTTL bounds how long a job's template payload stays cached.
	templateCacheTTL = 10 * time.Minute

	// fanOutGuardTTL bounds the shard fan-out guard. A redelivered fan-out
	// task inside this window skips shards already enqueued.
	fanOutGuardTTL = time.Hour
)

// ShardProcessorOptions groups dependencies for ShardProcessor.
type ShardProcessorOptions struct {
	Jobs       core.BulkJobRepository   // Required
	Recipients core.RecipientRepository // Required
	Tasks      *TaskService             // Required: shard page continuation enqueue
	Payloads   core.PayloadStore        // Required
	Dispatcher core.Dispatcher          // Required
	Cache      core.CacheRepository     // Optional: template cache + fan-out guard
	PageSize   int                      // Optional: defaults to defaultPageSize
	Logger     *slog.Logger             // Optional
	Metrics    statsd.Sink              // Optional
}

// ShardProcessor drives the queue side of a bulk job: fan-out of one shard
// page chain per shard, and the page loop itself — query a page of pending
// recipients, merge and dispatch each, then either re-enqueue a continuation
// with the advanced cursor or signal shard completion.
type ShardProcessor struct {
	jobs       core.BulkJobRepository
	recipients core.RecipientRepository
	tasks      *TaskService
	payloads   core.PayloadStore
	dispatcher core.Dispatcher
	cache      core.CacheRepository
	pageSize   int
	logger     *slog.Logger
	metrics    statsd.Sink
}

// NewShardProcessor constructs a new ShardProcessor.
func NewShardProcessor(opts ShardProcessorOptions) (*ShardProcessor, error) {
	if opts.Jobs == nil {
		return nil, errors.New("BulkJobRepository is required")
	}
	if opts.Recipients == nil {
		return nil, errors.New("RecipientRepository is required")
	}
	if opts.Tasks == nil {
		return nil, errors.New("TaskService is required")
	}
	if opts.Payloads == nil {
		return nil, errors.New("PayloadStore is required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("Dispatcher is required")
	}

	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "shard_processor")
	}

	return &ShardProcessor{
		jobs:       opts.Jobs,
		recipients: opts.Recipients,
		tasks:      opts.Tasks,
		payloads:   opts.Payloads,
		dispatcher: opts.Dispatcher,
		cache:      opts.Cache,
		pageSize:   pageSize,
		logger:     logger,
		metrics:    opts.Metrics,
	}, nil
}

// MustNewShardProcessor constructs a new ShardProcessor and panics on error.
func MustNewShardProcessor(opts ShardProcessorOptions) *ShardProcessor {
	p, err := NewShardProcessor(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast during startup
		panic(fmt.Sprintf("failed to create ShardProcessor: %v", err))
	}
	return p
}

// FanOut enqueues the first shard page task for every shard of a job. The
// queue is at-least-once, so each shard's enqueue is guarded by an NX cache
// key: a redelivered fan-out task skips shards whose chain already started.
func (p *ShardProcessor) FanOut(ctx context.Context, payload model.FanOutPayload) error {
	for shard := 1; shard <= bulk.ShardCount; shard++ {
		if p.cache != nil {
			guardKey := bulk.ShardGroupKey(payload.WorkspaceID, payload.JobID, shard)
			set, err := p.cache.SetIfNotExists(ctx, guardKey, []byte("1"), fanOutGuardTTL)
			if err != nil {
				return fmt.Errorf("fan-out guard shard %d: %w", shard, err)
			}
			if !set {
				if p.logger != nil {
					p.logger.DebugContext(ctx, "shard already fanned out, skipping",
						"workspace_id", payload.WorkspaceID,
						"job_id", payload.JobID,
						"shard", shard,
					)
				}
				continue
			}
		}

		if err := p.enqueuePage(ctx, model.ShardPagePayload{
			WorkspaceID: payload.WorkspaceID,
			JobID:       payload.JobID,
			Shard:       shard,
			PageSize:    p.pageSize,
		}); err != nil {
			return fmt.Errorf("enqueue shard %d page: %w", shard, err)
		}
	}

	if p.logger != nil {
		p.logger.InfoContext(ctx, "job fanned out",
			"workspace_id", payload.WorkspaceID,
			"job_id", payload.JobID,
			"shards", bulk.ShardCount,
		)
	}
	return nil
}

func (p *ShardProcessor) enqueuePage(ctx context.Context, payload model.ShardPagePayload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal shard page payload: %w", err)
	}
	_, err = p.tasks.Enqueue(ctx, &model.EnqueueTaskRequest{
		Type:    model.TaskTypeShardPage,
		Payload: raw,
	})
	return err
}

// ProcessPage consumes one page of one shard's pending recipients: merge the
// template with each recipient's override, submit downstream, and record the
// outcome on the recipient row. When the page query reports more pending rows
// it re-enqueues a continuation and stops; otherwise the shard is drained and
// completion is signalled.
func (p *ShardProcessor) ProcessPage(ctx context.Context, payload model.ShardPagePayload) error {
	ref := core.JobRef{WorkspaceID: payload.WorkspaceID, JobID: payload.JobID}

	pageSize := payload.PageSize
	if pageSize <= 0 {
		pageSize = p.pageSize
	}

	page, err := p.recipients.QueryShard(ctx, core.ShardQuery{
		Ref:    ref,
		Shard:  payload.Shard,
		Status: model.RecipientStatusPending,
		After:  payload.Cursor,
		Limit:  pageSize,
	})
	if err != nil {
		return fmt.Errorf("query shard page: %w", err)
	}

	if len(page.Items) > 0 {
		job, template, loadErr := p.loadJobTemplate(ctx, ref)
		if loadErr != nil {
			return loadErr
		}

		enqueued := p.dispatchPage(ctx, job, template, page.Items)
		if enqueued > 0 {
			if addErr := p.jobs.AddEnqueued(ctx, ref, enqueued); addErr != nil && p.logger != nil {
				// Bookkeeping only; the page's own continuation must not be
				// blocked by a counter write failure.
				p.logger.ErrorContext(ctx, "add enqueued count failed",
					"workspace_id", ref.WorkspaceID,
					"job_id", ref.JobID,
					"shard", payload.Shard,
					"error", addErr,
				)
			}
		}
	}

	if page.NextCursor != nil {
		return p.enqueuePage(ctx, model.ShardPagePayload{
			WorkspaceID: payload.WorkspaceID,
			JobID:       payload.JobID,
			Shard:       payload.Shard,
			PageSize:    pageSize,
			Cursor:      page.NextCursor,
		})
	}

	result, err := p.jobs.SignalShardComplete(ctx, ref, bulk.ShardCount)
	if err != nil {
		return fmt.Errorf("signal shard complete: %w", err)
	}
	if p.logger != nil {
		p.logger.InfoContext(ctx, "shard drained",
			"workspace_id", ref.WorkspaceID,
			"job_id", ref.JobID,
			"shard", payload.Shard,
			"enqueued_shards", result.EnqueuedShards,
			"job_completed", result.Completed,
		)
	}
	return nil
}

func (p *ShardProcessor) loadJobTemplate(ctx context.Context, ref core.JobRef) (*model.BulkJob, model.TemplateMessage, error) {
	var template model.TemplateMessage

	job, err := p.jobs.GetByID(ctx, ref)
	if err != nil {
		return nil, template, fmt.Errorf("load bulk job: %w", err)
	}

	raw, err := p.templatePayload(ctx, job)
	if err != nil {
		return nil, template, err
	}
	if err := json.Unmarshal(raw, &template); err != nil {
		return nil, template, fmt.Errorf("decode template payload: %w", err)
	}
	return job, template, nil
}

// templatePayload resolves the template once per page through the cache so a
// large job does not hammer the object store for every invocation.
func (p *ShardProcessor) templatePayload(ctx context.Context, job *model.BulkJob) ([]byte, error) {
	key := bulk.JobKey(job.WorkspaceID, job.ID)

	if p.cache != nil {
		if cached, err := p.cache.Get(ctx, key); err == nil && len(cached) > 0 {
			return cached, nil
		}
	}

	raw, err := p.payloads.Get(ctx, job.TemplatePtr)
	if err != nil {
		return nil, fmt.Errorf("resolve template payload: %w", err)
	}

	if p.cache != nil {
		if err := p.cache.Set(ctx, key, raw, templateCacheTTL); err != nil && p.logger != nil {
			p.logger.WarnContext(ctx, "cache template payload failed",
				"workspace_id", job.WorkspaceID,
				"job_id", job.ID,
				"error", err,
			)
		}
	}
	return raw, nil
}

// dispatchPage processes a page's recipients independently and returns how
// many moved to ENQUEUED. One recipient's failure never blocks the rest.
func (p *ShardProcessor) dispatchPage(
	ctx context.Context,
	job *model.BulkJob,
	template model.TemplateMessage,
	items []*model.BulkRecipient,
) int {
	var enqueued atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(dispatchConcurrency)

	for _, rec := range items {
		g.Go(func() error {
			if p.dispatchOne(gctx, job, template, rec) {
				enqueued.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	return int(enqueued.Load())
}

// dispatchOne merges and submits a single recipient, then records the outcome.
// Returns true only when this call moved the recipient to ENQUEUED.
func (p *ShardProcessor) dispatchOne(
	ctx context.Context,
	job *model.BulkJob,
	template model.TemplateMessage,
	rec *model.BulkRecipient,
) bool {
	start := time.Now()
	ref := core.JobRef{WorkspaceID: job.WorkspaceID, JobID: job.ID}

	messageID, err := p.submitRecipient(ctx, job, template, rec)
	if err != nil {
		if p.logger != nil {
			p.logger.WarnContext(ctx, "recipient dispatch failed",
				"workspace_id", job.WorkspaceID,
				"job_id", job.ID,
				"user_id", rec.UserID,
				"error", err,
			)
		}
		metrics.EmitDispatch(p.metrics, metrics.DispatchMetric{
			Result:   metrics.ResultError,
			Duration: time.Since(start),
			Err:      err,
		})
		if _, updErr := p.recipients.UpdateStatus(ctx, core.RecipientStatusUpdate{
			Ref:    ref,
			UserID: rec.UserID,
			Status: model.RecipientStatusError,
		}); updErr != nil && p.logger != nil {
			p.logger.ErrorContext(ctx, "record recipient error failed",
				"workspace_id", job.WorkspaceID,
				"job_id", job.ID,
				"user_id", rec.UserID,
				"error", updErr,
			)
		}
		return false
	}

	updated, err := p.recipients.UpdateStatus(ctx, core.RecipientStatusUpdate{
		Ref:       ref,
		UserID:    rec.UserID,
		Status:    model.RecipientStatusEnqueued,
		MessageID: &messageID,
	})
	if err != nil {
		// The dispatch went out but the status write failed: the recipient
		// stays PENDING and a redelivered page may dispatch it again. That is
		// the accepted at-least-once contract.
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "record recipient enqueued failed",
				"workspace_id", job.WorkspaceID,
				"job_id", job.ID,
				"user_id", rec.UserID,
				"message_id", messageID,
				"error", err,
			)
		}
		return false
	}

	metrics.EmitDispatch(p.metrics, metrics.DispatchMetric{
		Result:   metrics.ResultSuccess,
		Duration: time.Since(start),
	})
	return updated
}

func (p *ShardProcessor) submitRecipient(
	ctx context.Context,
	job *model.BulkJob,
	template model.TemplateMessage,
	rec *model.BulkRecipient,
) (string, error) {
	raw, err := p.payloads.Get(ctx, rec.PayloadPtr)
	if err != nil {
		return "", fmt.Errorf("resolve recipient payload: %w", err)
	}

	var ingested model.IngestRecipient
	if err := json.Unmarshal(raw, &ingested); err != nil {
		return "", fmt.Errorf("decode recipient payload: %w", err)
	}

	req := bulk.BuildDispatchRequest(bulk.BuildDispatchInput{
		Job:       job,
		Template:  template,
		Recipient: ingested,
		UserID:    rec.UserID,
	})

	messageID, err := p.dispatcher.Submit(ctx, &req)
	if err != nil {
		return "", fmt.Errorf("submit dispatch request: %w", err)
	}
	return messageID, nil
}
