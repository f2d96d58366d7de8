package service

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/herald-notify/herald/internal/core"
	"github.com/herald-notify/herald/internal/data"
	"github.com/herald-notify/herald/internal/domain/bulk"
	"github.com/herald-notify/herald/internal/domain/model"
	"github.com/herald-notify/herald/internal/mocks"
)

type readerTestDeps struct {
	jobs       *mocks.MockBulkJobRepository
	recipients *mocks.MockRecipientRepository
	payloads   *mocks.MockPayloadStore
	reader     *UserReader
}

func newReaderDeps(t *testing.T, ctrl *gomock.Controller) readerTestDeps {
	t.Helper()
	d := readerTestDeps{
		jobs:       mocks.NewMockBulkJobRepository(ctrl),
		recipients: mocks.NewMockRecipientRepository(ctrl),
		payloads:   mocks.NewMockPayloadStore(ctrl),
	}
	reader, err := NewUserReader(UserReaderOptions{
		Jobs:       d.jobs,
		Recipients: d.recipients,
		Payloads:   d.payloads,
	})
	require.NoError(t, err)
	d.reader = reader
	return d
}

// installShardFixture backs QueryShard with an in-memory sharded store that
// honors the repository's ordering, after-filter and limit semantics.
func (d readerTestDeps) installShardFixture(recs []*model.BulkRecipient) {
	store := make(map[int][]*model.BulkRecipient)
	for _, rec := range recs {
		store[rec.Shard] = append(store[rec.Shard], rec)
	}
	for shard := range store {
		sort.Slice(store[shard], func(i, j int) bool {
			return store[shard][i].UserID < store[shard][j].UserID
		})
	}

	d.recipients.EXPECT().
		QueryShard(gomock.Any(), gomock.AssignableToTypeOf(core.ShardQuery{})).
		DoAndReturn(func(_ context.Context, q core.ShardQuery) (*core.RecipientPage, error) {
			rows := store[q.Shard]
			if q.After != nil {
				i := sort.Search(len(rows), func(i int) bool {
					return rows[i].UserID > *q.After
				})
				rows = rows[i:]
			}

			page := &core.RecipientPage{}
			if len(rows) > q.Limit {
				page.Items = rows[:q.Limit]
				last := page.Items[len(page.Items)-1].UserID
				page.NextCursor = &last
			} else {
				page.Items = rows
			}
			return page, nil
		}).
		AnyTimes()
}

func (d readerTestDeps) stubPayloads() {
	d.payloads.EXPECT().
		Get(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, ptr string) ([]byte, error) {
			return []byte(fmt.Sprintf(`{"ptr":%q}`, ptr)), nil
		}).
		AnyTimes()
}

func fixtureRecipients(n int) []*model.BulkRecipient {
	recs := make([]*model.BulkRecipient, 0, n)
	for i := range n {
		userID := fmt.Sprintf("user-%03d", i)
		recs = append(recs, &model.BulkRecipient{
			WorkspaceID: testWorkspaceID,
			JobID:       "job-1",
			UserID:      userID,
			PayloadPtr:  "ptr-" + userID,
			Status:      model.RecipientStatusEnqueued,
			Shard:       i%bulk.ShardCount + 1,
		})
	}
	return recs
}

func TestUserReader_FullWalkYieldsEveryUserOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx := context.Background()
	deps := newReaderDeps(t, ctrl)

	deps.jobs.EXPECT().
		GetByID(gomock.Any(), gomock.Any()).
		Return(storedJob("job-1", model.JobStatusCompleted), nil).
		AnyTimes()
	deps.installShardFixture(fixtureRecipients(25))
	deps.stubPayloads()

	seen := make(map[string]int)
	cursor := ""
	pages := 0
	for {
		page, err := deps.reader.GetJobUsers(ctx, GetJobUsersRequest{
			WorkspaceID: testWorkspaceID,
			JobID:       "job-1",
			Scope:       testScope,
			Cursor:      cursor,
			PageSize:    10,
		})
		require.NoError(t, err)
		require.LessOrEqual(t, len(page.Items), 10)

		for _, item := range page.Items {
			seen[item.UserID]++
			assert.Equal(t, model.RecipientStatusEnqueued, item.Status)
			assert.JSONEq(t, fmt.Sprintf(`{"ptr":"ptr-%s"}`, item.UserID), string(item.Payload))
		}

		pages++
		require.Less(t, pages, 20, "pagination did not terminate")
		if !page.More {
			assert.Empty(t, page.Cursor)
			break
		}
		require.NotEmpty(t, page.Cursor)
		cursor = page.Cursor
	}

	assert.Len(t, seen, 25)
	for userID, count := range seen {
		assert.Equal(t, 1, count, "user %s returned more than once", userID)
	}
}

func TestUserReader_ExactPageBoundaryEndsCleanly(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx := context.Background()
	deps := newReaderDeps(t, ctrl)

	deps.jobs.EXPECT().
		GetByID(gomock.Any(), gomock.Any()).
		Return(storedJob("job-1", model.JobStatusCompleted), nil)
	// All recipients land in one shard and fill the page exactly; the reader
	// must probe the remaining shards and report no further page.
	recs := fixtureRecipients(5)
	for _, rec := range recs {
		rec.Shard = 2
	}
	deps.installShardFixture(recs)
	deps.stubPayloads()

	page, err := deps.reader.GetJobUsers(ctx, GetJobUsersRequest{
		WorkspaceID: testWorkspaceID,
		JobID:       "job-1",
		Scope:       testScope,
		PageSize:    5,
	})
	require.NoError(t, err)
	assert.Len(t, page.Items, 5)
	assert.False(t, page.More)
	assert.Empty(t, page.Cursor)
}

func TestUserReader_InvalidCursor(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx := context.Background()
	deps := newReaderDeps(t, ctrl)

	deps.jobs.EXPECT().
		GetByID(gomock.Any(), gomock.Any()).
		Return(storedJob("job-1", model.JobStatusProcessing), nil)

	_, err := deps.reader.GetJobUsers(ctx, GetJobUsersRequest{
		WorkspaceID: testWorkspaceID,
		JobID:       "job-1",
		Scope:       testScope,
		Cursor:      "not-a-cursor",
	})
	assert.ErrorIs(t, err, data.ErrInvalidCursor)
}

func TestUserReader_ScopeMismatchIsNotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx := context.Background()
	deps := newReaderDeps(t, ctrl)

	deps.jobs.EXPECT().
		GetByID(gomock.Any(), gomock.Any()).
		Return(storedJob("job-1", model.JobStatusProcessing), nil)

	_, err := deps.reader.GetJobUsers(ctx, GetJobUsersRequest{
		WorkspaceID: testWorkspaceID,
		JobID:       "job-1",
		Scope:       "draft/staging",
	})
	assert.ErrorIs(t, err, model.ErrJobNotFound)
}

func TestUserReader_UnknownJobIsNotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx := context.Background()
	deps := newReaderDeps(t, ctrl)

	deps.jobs.EXPECT().
		GetByID(gomock.Any(), gomock.Any()).
		Return(nil, data.ErrBulkJobNotFound)

	_, err := deps.reader.GetJobUsers(ctx, GetJobUsersRequest{
		WorkspaceID: testWorkspaceID,
		JobID:       "missing",
		Scope:       testScope,
	})
	assert.ErrorIs(t, err, model.ErrJobNotFound)
}
