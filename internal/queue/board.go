// Package queue implements the admission controller: rate limiting,
// priority assignment, the durable queue entry store paired with an
// ephemeral ranking structure, and capacity-gated dispatch.
package queue

import (
	"context"
	"time"
)

// Board is the shared fast state backing the controller: the priority
// ranking set, the TTL'd per-minute rate counters and the global
// processing counter. The Redis client implements it for multi-process
// deployments; MemoryBoard covers tests and single-node mode.
type Board interface {
	Push(ctx context.Context, jobID string, score float64) error
	PopTop(ctx context.Context) (string, bool, error)
	Remove(ctx context.Context, jobID string) error
	Rank(ctx context.Context, jobID string) (int64, error)
	Len(ctx context.Context) (int64, error)

	IncrMinuteCount(ctx context.Context, ownerID int64, ttl time.Duration) error
	MinuteCount(ctx context.Context, ownerID int64) (int64, error)

	IncrProcessing(ctx context.Context) (int64, error)
	DecrProcessing(ctx context.Context) (int64, error)
	ProcessingCount(ctx context.Context) (int64, error)
}

// priorityStride separates priority tiers in the ranking score. It
// dwarfs any realistic spread of epoch seconds between queue entries,
// so priority always dominates recency.
const priorityStride = 1e12

// scoreFor computes the ranking score: higher priority first, then
// earliest-added first within a tier. Descending score order yields
// the dispatch order.
func scoreFor(priority int, addedAt time.Time) float64 {
	return float64(priority)*priorityStride - float64(addedAt.Unix())
}
