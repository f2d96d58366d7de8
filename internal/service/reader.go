package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/herald-notify/herald/internal/core"
	"github.com/herald-notify/herald/internal/data"
	"github.com/herald-notify/herald/internal/domain/bulk"
	"github.com/herald-notify/herald/internal/domain/model"
)

const (
	defaultListPageSize = 50
	maxListPageSize     = 1000

	// payloadFetchConcurrency bounds parallel payload resolution per page.
	payloadFetchConcurrency = 8
)

// UserReaderOptions groups dependencies for UserReader.
type UserReaderOptions struct {
	Jobs       core.BulkJobRepository   // Required
	Recipients core.RecipientRepository // Required
	Payloads   core.PayloadStore        // Required
	Logger     *slog.Logger             // Optional
}

// UserReader serves paginated recipient listings that span shard boundaries
// behind one opaque cursor. Shards are an internal load-spreading mechanism;
// callers only ever see them folded into the cursor token.
type UserReader struct {
	jobs       core.BulkJobRepository
	recipients core.RecipientRepository
	payloads   core.PayloadStore
	logger     *slog.Logger
}

// NewUserReader constructs a new UserReader.
func NewUserReader(opts UserReaderOptions) (*UserReader, error) {
	if opts.Jobs == nil {
		return nil, errors.New("BulkJobRepository is required")
	}
	if opts.Recipients == nil {
		return nil, errors.New("RecipientRepository is required")
	}
	if opts.Payloads == nil {
		return nil, errors.New("PayloadStore is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "user_reader")
	}

	return &UserReader{
		jobs:       opts.Jobs,
		recipients: opts.Recipients,
		payloads:   opts.Payloads,
		logger:     logger,
	}, nil
}

// MustNewUserReader constructs a new UserReader and panics on error.
func MustNewUserReader(opts UserReaderOptions) *UserReader {
	r, err := NewUserReader(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast during startup
		panic(fmt.Sprintf("failed to create UserReader: %v", err))
	}
	return r
}

// GetJobUsersRequest carries the inputs for one listing call.
type GetJobUsersRequest struct {
	WorkspaceID string
	JobID       string
	Scope       string
	Cursor      string
	PageSize    int
}

// GetJobUsers returns one page of a job's recipients, accumulating across
// shard boundaries within the call. Walking pages from an empty cursor until
// More is false yields every ingested recipient exactly once.
func (r *UserReader) GetJobUsers(ctx context.Context, req GetJobUsersRequest) (*model.JobUserPage, error) {
	ref := core.JobRef{WorkspaceID: req.WorkspaceID, JobID: req.JobID}

	job, err := r.jobs.GetByID(ctx, ref)
	if errors.Is(err, data.ErrBulkJobNotFound) {
		return nil, model.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load bulk job: %w", err)
	}
	if job.Scope != req.Scope {
		return nil, model.ErrJobNotFound
	}

	cur, err := data.DecodeUserCursor(req.Cursor)
	if err != nil {
		return nil, err
	}

	pageSize := normalizeListPageSize(req.PageSize)

	recs, next, err := r.collectPage(ctx, ref, cur, pageSize)
	if err != nil {
		return nil, err
	}

	items, err := r.resolveItems(ctx, recs)
	if err != nil {
		return nil, err
	}

	page := &model.JobUserPage{Items: items}
	if next != nil {
		token, encErr := data.EncodeUserCursor(*next)
		if encErr != nil {
			return nil, encErr
		}
		page.Cursor = token
		page.More = true
	}
	return page, nil
}

// collectPage accumulates up to pageSize recipients starting at the cursor
// position, draining each shard in user-id order before moving to the next.
// It returns a resume cursor only when further recipients exist.
func (r *UserReader) collectPage(
	ctx context.Context,
	ref core.JobRef,
	cur data.UserCursor,
	pageSize int,
) ([]*model.BulkRecipient, *data.UserCursor, error) {
	var collected []*model.BulkRecipient
	shard := cur.Shard
	after := cur.After

	for {
		remaining := pageSize - len(collected)
		if remaining > 0 {
			page, err := r.recipients.QueryShard(ctx, core.ShardQuery{
				Ref:   ref,
				Shard: shard,
				After: after,
				Limit: remaining,
			})
			if err != nil {
				return nil, nil, fmt.Errorf("query shard %d: %w", shard, err)
			}
			collected = append(collected, page.Items...)

			if page.NextCursor != nil {
				// This shard still has rows beyond the page boundary.
				return collected, &data.UserCursor{Shard: shard, After: page.NextCursor}, nil
			}
		} else {
			// The page is full; probe from the current position to decide
			// whether a next page exists at all.
			probe, err := r.recipients.QueryShard(ctx, core.ShardQuery{
				Ref:   ref,
				Shard: shard,
				After: after,
				Limit: 1,
			})
			if err != nil {
				return nil, nil, fmt.Errorf("probe shard %d: %w", shard, err)
			}
			if len(probe.Items) > 0 {
				return collected, &data.UserCursor{Shard: shard, After: after}, nil
			}
		}

		if shard == bulk.ShardCount {
			return collected, nil, nil
		}
		shard++
		after = nil
	}
}

// resolveItems fetches each recipient's stored payload in parallel and merges
// it with the recipient's dispatch status.
func (r *UserReader) resolveItems(ctx context.Context, recs []*model.BulkRecipient) ([]model.JobUser, error) {
	items := make([]model.JobUser, len(recs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(payloadFetchConcurrency)

	for i, rec := range recs {
		g.Go(func() error {
			payload, err := r.payloads.Get(gctx, rec.PayloadPtr)
			if err != nil {
				return fmt.Errorf("resolve payload for user %s: %w", rec.UserID, err)
			}
			items[i] = model.JobUser{
				UserID:    rec.UserID,
				Status:    rec.Status,
				MessageID: rec.MessageID,
				Payload:   json.RawMessage(payload),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}

func normalizeListPageSize(size int) int {
	if size <= 0 {
		return defaultListPageSize
	}
	if size > maxListPageSize {
		return maxListPageSize
	}
	return size
}
