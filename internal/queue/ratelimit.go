package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/neviso/core/internal/core/domain"
	"github.com/neviso/core/internal/infra/storage"
	"github.com/neviso/core/internal/metrics"
)

// RateLimitError is returned when a submitter exceeds a submission
// window. Non-fatal: the caller waits and retries.
type RateLimitError struct {
	Window string // "minute" or "day"
	Limit  int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: max %d submissions per %s", e.Limit, e.Window)
}

// RateLimiter enforces the short rolling-minute window (TTL'd board
// counter) and the long UTC-day window (durable quota row). Internal
// limiter failures fail open: legitimate submitters are never blocked
// because the limiter itself broke.
type RateLimiter struct {
	board     Board
	quotas    storage.QuotaRepository
	perMinute int
	perDay    int
	log       *slog.Logger
	now       func() time.Time
}

// NewRateLimiter creates a rate limiter.
func NewRateLimiter(board Board, quotas storage.QuotaRepository, perMinute, perDay int) *RateLimiter {
	return &RateLimiter{
		board:     board,
		quotas:    quotas,
		perMinute: perMinute,
		perDay:    perDay,
		log:       slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Check returns a *RateLimitError when either window is exhausted.
func (r *RateLimiter) Check(ctx context.Context, ownerID int64) error {
	now := r.now()

	count, err := r.board.MinuteCount(ctx, ownerID)
	if err != nil {
		r.log.Warn("Rate limiter counter unavailable, failing open", "owner", ownerID, "error", err)
	} else if r.perMinute > 0 && count >= int64(r.perMinute) {
		metrics.RateLimited.WithLabelValues("minute").Inc()
		return &RateLimitError{Window: "minute", Limit: r.perMinute}
	}

	quota, err := r.quotas.Get(ctx, ownerID)
	if err != nil {
		r.log.Warn("Rate limiter quota unavailable, failing open", "owner", ownerID, "error", err)
		return nil
	}
	if quota == nil {
		return nil
	}

	if quota.NeedsReset(now) {
		quota.DailyCount = 0
		quota.ResetAt = now
		if err := r.quotas.Upsert(ctx, quota); err != nil {
			r.log.Warn("Failed to reset daily quota", "owner", ownerID, "error", err)
		}
	}

	if r.perDay > 0 && quota.DailyCount >= r.perDay {
		metrics.RateLimited.WithLabelValues("day").Inc()
		return &RateLimitError{Window: "day", Limit: r.perDay}
	}
	return nil
}

// Record bumps both submission counters after a successful enqueue.
func (r *RateLimiter) Record(ctx context.Context, ownerID int64) {
	now := r.now()

	if err := r.board.IncrMinuteCount(ctx, ownerID, time.Minute); err != nil {
		r.log.Warn("Failed to bump minute counter", "owner", ownerID, "error", err)
	}

	quota, err := r.quotas.Get(ctx, ownerID)
	if err != nil {
		r.log.Warn("Failed to load quota", "owner", ownerID, "error", err)
		return
	}
	if quota == nil {
		quota = &domain.Quota{OwnerID: ownerID, ResetAt: now}
	} else if quota.NeedsReset(now) {
		quota.DailyCount = 0
		quota.ResetAt = now
	}
	quota.DailyCount++
	quota.LastSubmitAt = now

	if err := r.quotas.Upsert(ctx, quota); err != nil {
		r.log.Warn("Failed to bump daily counter", "owner", ownerID, "error", err)
	}
}

// SetClock overrides the limiter clock. Test hook.
func (r *RateLimiter) SetClock(now func() time.Time) { r.now = now }
