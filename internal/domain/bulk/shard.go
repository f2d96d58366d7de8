// Package bulk holds the pure domain logic of the bulk engine: the partition
// key scheme and the dispatch merge rule. Nothing in this package touches
// storage or the network.
package bulk

import (
	"fmt"
	"math/rand/v2"
)

// ShardCount is the fixed number of partitions a job's recipients are spread
// across. It tunes parallelism, not correctness: every shard is processed by
// an independent page chain, so raising it raises the fan-out width.
const ShardCount = 10

// JobKey derives the storage key for a job's template payload.
func JobKey(workspaceID, jobID string) string {
	return fmt.Sprintf("%s/bulk/%s/template", workspaceID, jobID)
}

// RecipientKey derives the storage key for one recipient's raw payload. The
// token uniquifies each ingestion attempt: a repeat ingest of an existing
// user loses the conditional row insert, and its write must not clobber the
// payload referenced by the row that won.
func RecipientKey(workspaceID, jobID, userID, token string) string {
	return fmt.Sprintf("%s/bulk/%s/users/%s/%s", workspaceID, jobID, userID, token)
}

// ShardGroupKey identifies one shard of one job. It is the unit the page
// processor drains and the fan-out guard key; callers never see it.
func ShardGroupKey(workspaceID, jobID string, shard int) string {
	return fmt.Sprintf("%s/bulk/%s/shard/%d", workspaceID, jobID, shard)
}

// RandomShard returns a uniform random shard in [1, shardCount]. Assignment
// happens once at ingestion and is stored, never recomputed.
func RandomShard(shardCount int) int {
	if shardCount <= 1 {
		return 1
	}
	return rand.IntN(shardCount) + 1
}
