// Package worker holds the periodic maintenance loops: reclaiming
// stuck queue entries and expiring credit grants.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/neviso/core/internal/credit"
	"github.com/neviso/core/internal/queue"
)

// StaleSweeper reclaims jobs stuck in processing, covering workers that
// crashed mid-job.
type StaleSweeper struct {
	controller *queue.Controller
	interval   time.Duration
	log        *slog.Logger
}

// NewStaleSweeper creates a stale-job sweeper.
func NewStaleSweeper(controller *queue.Controller, interval time.Duration) *StaleSweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &StaleSweeper{controller: controller, interval: interval, log: slog.Default()}
}

// Start runs the sweeper loop until the context is done.
func (s *StaleSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.controller.SweepStale(ctx)
			if err != nil {
				s.log.Error("Stale sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.log.Info("Reclaimed stale jobs", "count", n)
			}
		}
	}
}

// GrantExpirer flips active grants past their expiry so expired credit
// stops counting toward balances.
type GrantExpirer struct {
	ledger   *credit.Ledger
	interval time.Duration
	log      *slog.Logger
}

// NewGrantExpirer creates a grant-expiry sweeper.
func NewGrantExpirer(ledger *credit.Ledger, interval time.Duration) *GrantExpirer {
	if interval <= 0 {
		interval = time.Hour
	}
	return &GrantExpirer{ledger: ledger, interval: interval, log: slog.Default()}
}

// Start runs the expiry loop until the context is done.
func (e *GrantExpirer) Start(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	// Initial sweep so a restart catches up immediately.
	if _, err := e.ledger.ExpireDueGrants(ctx); err != nil {
		e.log.Error("Grant expiry failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.ledger.ExpireDueGrants(ctx); err != nil {
				e.log.Error("Grant expiry failed", "error", err)
			}
		}
	}
}
