package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/neviso/core/internal/infra/storage/memory"
)

func newTestLimiter(t *testing.T, perMinute, perDay int) (*RateLimiter, *MemoryBoard, func(time.Time)) {
	t.Helper()
	store := memory.NewStore()
	board := NewMemoryBoard()
	limiter := NewRateLimiter(board, store.Quotas(), perMinute, perDay)

	current := testNow
	clock := func() time.Time { return current }
	limiter.SetClock(clock)
	board.SetClock(clock)
	return limiter, board, func(tm time.Time) { current = tm }
}

func TestRateLimiter_MinuteWindow(t *testing.T) {
	limiter, _, advance := newTestLimiter(t, 3, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := limiter.Check(ctx, 1); err != nil {
			t.Fatalf("Check %d failed: %v", i, err)
		}
		limiter.Record(ctx, 1)
	}

	err := limiter.Check(ctx, 1)
	var rateErr *RateLimitError
	if !errors.As(err, &rateErr) {
		t.Fatalf("Expected RateLimitError, got %v", err)
	}
	if rateErr.Window != "minute" || rateErr.Limit != 3 {
		t.Errorf("Expected minute/3, got %s/%d", rateErr.Window, rateErr.Limit)
	}

	// A minute later the window has rolled over.
	advance(testNow.Add(61 * time.Second))
	if err := limiter.Check(ctx, 1); err != nil {
		t.Errorf("Expected check to pass after window rollover: %v", err)
	}
}

func TestRateLimiter_DailyWindow(t *testing.T) {
	limiter, _, advance := newTestLimiter(t, 0, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := limiter.Check(ctx, 1); err != nil {
			t.Fatalf("Check %d failed: %v", i, err)
		}
		limiter.Record(ctx, 1)
	}

	err := limiter.Check(ctx, 1)
	var rateErr *RateLimitError
	if !errors.As(err, &rateErr) {
		t.Fatalf("Expected RateLimitError, got %v", err)
	}
	if rateErr.Window != "day" {
		t.Errorf("Expected day window, got %s", rateErr.Window)
	}

	// The counter resets at UTC midnight, not 24h after first submit.
	advance(time.Date(2026, 8, 2, 0, 0, 1, 0, time.UTC))
	if err := limiter.Check(ctx, 1); err != nil {
		t.Errorf("Expected check to pass after UTC midnight: %v", err)
	}
}

func TestRateLimiter_WindowsAreIndependentPerOwner(t *testing.T) {
	limiter, _, _ := newTestLimiter(t, 1, 0)
	ctx := context.Background()

	limiter.Record(ctx, 1)
	if err := limiter.Check(ctx, 1); err == nil {
		t.Error("Expected owner 1 limited")
	}
	if err := limiter.Check(ctx, 2); err != nil {
		t.Errorf("Expected owner 2 unaffected: %v", err)
	}
}

func TestRateLimiter_ZeroLimitsDisableWindows(t *testing.T) {
	limiter, _, _ := newTestLimiter(t, 0, 0)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		limiter.Record(ctx, 1)
	}
	if err := limiter.Check(ctx, 1); err != nil {
		t.Errorf("Expected no limits with zero config: %v", err)
	}
}

type failingBoard struct {
	*MemoryBoard
}

func (b *failingBoard) MinuteCount(context.Context, int64) (int64, error) {
	return 0, errors.New("connection refused")
}

func TestRateLimiter_FailsOpenOnCounterErrors(t *testing.T) {
	store := memory.NewStore()
	limiter := NewRateLimiter(&failingBoard{NewMemoryBoard()}, store.Quotas(), 1, 0)
	limiter.SetClock(func() time.Time { return testNow })

	if err := limiter.Check(context.Background(), 1); err != nil {
		t.Errorf("Expected fail-open on counter error, got %v", err)
	}
}
