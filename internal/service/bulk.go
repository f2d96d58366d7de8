package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/herald-notify/herald/internal/core"
	"github.com/herald-notify/herald/internal/data"
	"github.com/herald-notify/herald/internal/domain/bulk"
	"github.com/herald-notify/herald/internal/domain/model"
)

// ingestBatchSize bounds the number of recipients written concurrently in one
// ingest call, matching the recipient store's batch-write limit.
const ingestBatchSize = 25

// BulkJobServiceOptions groups dependencies for BulkJobService.
type BulkJobServiceOptions struct {
	Jobs       core.BulkJobRepository  // Required
	Recipients core.RecipientRepository // Required
	Tasks      *TaskService            // Required: fan-out trigger enqueue
	Payloads   core.PayloadStore       // Required
	Cache      core.CacheRepository    // Optional: template read-through cache
	Logger     *slog.Logger            // Optional
}

// BulkJobService implements the caller-facing bulk job operations: job
// creation, recipient ingestion, run, and job reads.
type BulkJobService struct {
	jobs       core.BulkJobRepository
	recipients core.RecipientRepository
	tasks      *TaskService
	payloads   core.PayloadStore
	cache      core.CacheRepository
	logger     *slog.Logger
}

// NewBulkJobService constructs a new BulkJobService.
func NewBulkJobService(opts BulkJobServiceOptions) (*BulkJobService, error) {
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

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "bulk_job_service")
	}

	return &BulkJobService{
		jobs:       opts.Jobs,
		recipients: opts.Recipients,
		tasks:      opts.Tasks,
		payloads:   opts.Payloads,
		cache:      opts.Cache,
		logger:     logger,
	}, nil
}

// MustNewBulkJobService constructs a new BulkJobService and panics on error.
func MustNewBulkJobService(opts BulkJobServiceOptions) *BulkJobService {
	svc, err := NewBulkJobService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast during startup
		panic(fmt.Sprintf("failed to create BulkJobService: %v", err))
	}
	return svc
}

// CreateJob persists the template payload and writes a new job record in
// CREATED state. The job id is freshly minted so creation never conflicts.
func (s *BulkJobService) CreateJob(ctx context.Context, req *model.CreateBulkJobRequest) (string, error) {
	if req == nil {
		return "", errors.New("create bulk job request is required")
	}
	if err := req.Validate(); err != nil {
		return "", err
	}

	jobID := uuid.NewString()

	tplRaw, err := json.Marshal(req.Template)
	if err != nil {
		return "", fmt.Errorf("marshal template: %w", err)
	}

	ptr, err := s.payloads.Put(ctx, bulk.JobKey(req.Context.WorkspaceID, jobID), tplRaw)
	if err != nil {
		return "", fmt.Errorf("store template payload: %w", err)
	}

	job := &model.BulkJob{
		WorkspaceID: req.Context.WorkspaceID,
		ID:          jobID,
		Scope:       req.Context.Scope,
		APIVersion:  req.Context.APIVersion,
		TemplatePtr: ptr,
		DryRunKey:   req.Context.DryRunKey,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return "", fmt.Errorf("create bulk job: %w", err)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "bulk job created",
			"workspace_id", job.WorkspaceID,
			"job_id", jobID,
			"scope", job.Scope,
		)
	}
	return jobID, nil
}

// loadJobForWrite loads a job and enforces the immutable scope/api-version
// contract for mutating operations.
func (s *BulkJobService) loadJobForWrite(ctx context.Context, jc *model.JobContext, jobID string) (*model.BulkJob, error) {
	job, err := s.jobs.GetByID(ctx, core.JobRef{WorkspaceID: jc.WorkspaceID, JobID: jobID})
	if errors.Is(err, data.ErrBulkJobNotFound) {
		return nil, model.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load bulk job: %w", err)
	}
	if err := jc.Matches(job); err != nil {
		return nil, err
	}
	return job, nil
}

// Ingest validates and idempotently writes recipient records for a job still
// in CREATED state. Recipients are written in bounded concurrent batches;
// individual failures are collected per item and never abort the batch.
func (s *BulkJobService) Ingest(
	ctx context.Context,
	jc *model.JobContext,
	jobID string,
	recipients []model.IngestRecipient,
) (*model.IngestResult, error) {
	if jc == nil {
		return nil, errors.New("job context is required")
	}
	if err := jc.Validate(); err != nil {
		return nil, err
	}

	job, err := s.loadJobForWrite(ctx, jc, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobStatusCreated {
		return nil, model.ErrAlreadySubmitted
	}

	result := &model.IngestResult{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ingestBatchSize)

	for _, rec := range recipients {
		g.Go(func() error {
			if ingestErr := s.ingestOne(gctx, job, rec); ingestErr != nil {
				msg := model.IngestErrorGeneric
				if errors.Is(ingestErr, data.ErrDuplicateRecipient) {
					msg = model.IngestErrorDuplicate
				} else if s.logger != nil {
					s.logger.WarnContext(gctx, "recipient ingest failed",
						"workspace_id", job.WorkspaceID,
						"job_id", job.ID,
						"error", ingestErr,
					)
				}
				mu.Lock()
				result.Errors = append(result.Errors, model.IngestError{Error: msg, User: rec})
				mu.Unlock()
				return nil
			}
			mu.Lock()
			result.Total++
			mu.Unlock()
			return nil
		})
	}
	// Per-item errors are collected, never returned, so Wait only observes
	// context cancellation.
	if waitErr := g.Wait(); waitErr != nil {
		return nil, waitErr
	}

	if result.Total > 0 {
		ref := core.JobRef{WorkspaceID: job.WorkspaceID, JobID: job.ID}
		if addErr := s.jobs.AddReceived(ctx, ref, result.Total); addErr != nil {
			return nil, fmt.Errorf("add received count: %w", addErr)
		}
	}
	return result, nil
}

func (s *BulkJobService) ingestOne(ctx context.Context, job *model.BulkJob, rec model.IngestRecipient) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	userID := rec.Recipient
	if userID == "" {
		userID = uuid.NewString()
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal recipient payload: %w", err)
	}

	key := bulk.RecipientKey(job.WorkspaceID, job.ID, userID, uuid.NewString())
	ptr, err := s.payloads.Put(ctx, key, raw)
	if err != nil {
		return fmt.Errorf("store recipient payload: %w", err)
	}

	return s.recipients.Insert(ctx, &model.BulkRecipient{
		WorkspaceID: job.WorkspaceID,
		JobID:       job.ID,
		UserID:      userID,
		PayloadPtr:  ptr,
		Shard:       bulk.RandomShard(bulk.ShardCount),
	})
}

// Run transitions a job from CREATED to PROCESSING and enqueues the fan-out
// trigger. Enqueue happens before the status write; a duplicate fan-out from
// the narrow race window is absorbed by recipient status idempotency
// downstream, while the conditional status write keeps acceptance single-fire.
func (s *BulkJobService) Run(ctx context.Context, jc *model.JobContext, jobID string) error {
	if jc == nil {
		return errors.New("job context is required")
	}
	if err := jc.Validate(); err != nil {
		return err
	}

	job, err := s.loadJobForWrite(ctx, jc, jobID)
	if err != nil {
		return err
	}
	if job.Status != model.JobStatusCreated {
		return model.ErrDuplicateInvocation
	}

	payload, err := json.Marshal(model.FanOutPayload{
		WorkspaceID: job.WorkspaceID,
		JobID:       job.ID,
	})
	if err != nil {
		return fmt.Errorf("marshal fan-out payload: %w", err)
	}
	if _, err := s.tasks.Enqueue(ctx, &model.EnqueueTaskRequest{
		Type:    model.TaskTypeFanOut,
		Payload: payload,
	}); err != nil {
		return fmt.Errorf("enqueue fan-out: %w", err)
	}

	ref := core.JobRef{WorkspaceID: job.WorkspaceID, JobID: job.ID}
	accepted, err := s.jobs.MarkProcessing(ctx, ref)
	if err != nil {
		return fmt.Errorf("mark job processing: %w", err)
	}
	if !accepted {
		return model.ErrDuplicateInvocation
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "bulk job run accepted",
			"workspace_id", job.WorkspaceID,
			"job_id", job.ID,
		)
	}
	return nil
}

// GetJob returns the job record plus its resolved template payload. A scope
// mismatch is reported as not-found: scope acts as an authorization boundary
// on reads, not just a consistency check.
func (s *BulkJobService) GetJob(ctx context.Context, workspaceID, jobID, scope string) (*model.JobSummary, error) {
	job, err := s.jobs.GetByID(ctx, core.JobRef{WorkspaceID: workspaceID, JobID: jobID})
	if errors.Is(err, data.ErrBulkJobNotFound) {
		return nil, model.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load bulk job: %w", err)
	}
	if job.Scope != scope {
		return nil, model.ErrJobNotFound
	}

	tpl, err := s.resolveTemplate(ctx, job)
	if err != nil {
		return nil, err
	}

	return &model.JobSummary{Job: *job, Template: tpl}, nil
}

// resolveTemplate fetches the job's template payload through the cache when
// one is configured.
func (s *BulkJobService) resolveTemplate(ctx context.Context, job *model.BulkJob) (json.RawMessage, error) {
	key := bulk.JobKey(job.WorkspaceID, job.ID)

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, key); err == nil && len(cached) > 0 {
			return cached, nil
		}
	}

	raw, err := s.payloads.Get(ctx, job.TemplatePtr)
	if err != nil {
		return nil, fmt.Errorf("resolve template payload: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, raw, templateCacheTTL); err != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "cache template payload failed",
				"workspace_id", job.WorkspaceID,
				"job_id", job.ID,
				"error", err,
			)
		}
	}
	return raw, nil
}

// GetJobStats returns recipient counts by status for one job, subject to the
// same scope check as GetJob.
func (s *BulkJobService) GetJobStats(ctx context.Context, workspaceID, jobID, scope string) (*model.JobStats, error) {
	job, err := s.jobs.GetByID(ctx, core.JobRef{WorkspaceID: workspaceID, JobID: jobID})
	if errors.Is(err, data.ErrBulkJobNotFound) {
		return nil, model.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load bulk job: %w", err)
	}
	if job.Scope != scope {
		return nil, model.ErrJobNotFound
	}

	stats, err := s.recipients.Stats(ctx, core.JobRef{WorkspaceID: workspaceID, JobID: jobID})
	if err != nil {
		return nil, fmt.Errorf("get recipient stats: %w", err)
	}
	return stats, nil
}
