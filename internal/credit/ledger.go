// Package credit owns grants and the append-only transaction log.
// All amounts are minutes with two-decimal precision; arithmetic is
// exact decimal so thousands of small deduct/refund pairs never drift.
package credit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/neviso/core/internal/core/domain"
	"github.com/neviso/core/internal/infra/storage"
	"github.com/neviso/core/internal/metrics"
)

// InsufficientCreditsError is returned when a deduction exceeds the
// owner's balance. Nothing is deducted in that case.
type InsufficientCreditsError struct {
	Needed    decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: need %s minutes, have %s", e.Needed, e.Available)
}

// GrantBalance is one grant's share of an owner's balance.
type GrantBalance struct {
	GrantID   int64
	Source    domain.GrantSource
	Total     decimal.Decimal
	Consumed  decimal.Decimal
	Remaining decimal.Decimal
	ExpiresAt time.Time
}

// Balance is an owner's total credit with a per-grant breakdown ordered
// by ascending expiry.
type Balance struct {
	Total  decimal.Decimal
	Grants []GrantBalance
}

// Ledger manages credit balances. Deduct and Refund each run as one
// atomic unit spanning the balance read and all grant writes; callers
// must never hold a ledger transaction across the external AI call.
type Ledger struct {
	store storage.Store
	log   *slog.Logger
	now   func() time.Time
}

// NewLedger creates a Ledger on top of the given store.
func NewLedger(store storage.Store) *Ledger {
	return &Ledger{
		store: store,
		log:   slog.Default(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Balance returns the owner's total usable credit and its breakdown.
func (l *Ledger) Balance(ctx context.Context, ownerID int64) (*Balance, error) {
	grants, err := l.store.Grants().ActiveByOwner(ctx, ownerID, l.now())
	if err != nil {
		return nil, fmt.Errorf("failed to load grants: %w", err)
	}
	return balanceOf(grants), nil
}

func balanceOf(grants []*domain.Grant) *Balance {
	b := &Balance{Total: decimal.Zero}
	for _, g := range grants {
		remaining := g.Remaining()
		b.Total = b.Total.Add(remaining)
		b.Grants = append(b.Grants, GrantBalance{
			GrantID:   g.ID,
			Source:    g.Source,
			Total:     g.Total,
			Consumed:  g.Consumed,
			Remaining: remaining,
			ExpiresAt: g.ExpiresAt,
		})
	}
	return b
}

// Deduct removes amount from the owner's balance, draining the
// soonest-expiring grants first. All-or-nothing: on insufficient balance
// no grant is touched and no entry is written.
func (l *Ledger) Deduct(ctx context.Context, ownerID int64, amount decimal.Decimal, jobID, description string) error {
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return fmt.Errorf("deduct amount must be positive, got %s", amount)
	}

	err := l.store.Atomically(ctx, func(ctx context.Context, s storage.Store) error {
		grants, err := s.Grants().ActiveByOwner(ctx, ownerID, l.now())
		if err != nil {
			return fmt.Errorf("failed to load grants: %w", err)
		}

		balance := balanceOf(grants).Total
		if balance.LessThan(amount) {
			return &InsufficientCreditsError{Needed: amount, Available: balance}
		}

		remaining := amount
		running := balance
		for _, g := range grants {
			if !remaining.IsPositive() {
				break
			}
			available := g.Remaining()
			if !available.IsPositive() {
				continue
			}

			take := decimal.Min(available, remaining)
			if err := s.Grants().AddConsumed(ctx, g.ID, take); err != nil {
				return fmt.Errorf("failed to consume grant %d: %w", g.ID, err)
			}

			grantID := g.ID
			job := jobID
			entry := &domain.LedgerEntry{
				OwnerID:       ownerID,
				GrantID:       &grantID,
				JobID:         &job,
				Type:          domain.EntryTypeDeduct,
				Amount:        take,
				BalanceBefore: running,
				BalanceAfter:  running.Sub(take),
				Description:   description,
			}
			if err := s.Ledger().Append(ctx, entry); err != nil {
				return fmt.Errorf("failed to append deduct entry: %w", err)
			}

			running = running.Sub(take)
			remaining = remaining.Sub(take)
		}
		return nil
	})
	if err != nil {
		return err
	}

	f, _ := amount.Float64()
	metrics.CreditsDeducted.Add(f)
	l.log.Info("Deducted credits", "owner", ownerID, "amount", amount.String(), "job", jobID)
	return nil
}

// Refund reverses a job's prior deduction, newest deduct fragments
// first, crediting the same grants they consumed. Only the job's
// unrefunded remainder is reversible, so a repeat refund of the same
// charge returns storage.ErrAlreadyRefunded without writes while a
// fresh charge from a retry attempt stays refundable.
func (l *Ledger) Refund(ctx context.Context, ownerID int64, amount decimal.Decimal, jobID string) error {
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return fmt.Errorf("refund amount must be positive, got %s", amount)
	}

	err := l.store.Atomically(ctx, func(ctx context.Context, s storage.Store) error {
		deducts, err := s.Ledger().DeductsForJob(ctx, ownerID, jobID)
		if err != nil {
			return fmt.Errorf("failed to load deduct entries: %w", err)
		}
		refunds, err := s.Ledger().RefundsForJob(ctx, ownerID, jobID)
		if err != nil {
			return fmt.Errorf("failed to load refund entries: %w", err)
		}

		// Per-grant unrefunded remainder of this job's charges.
		refundable := make(map[int64]decimal.Decimal)
		total := decimal.Zero
		for _, d := range deducts {
			if d.GrantID == nil {
				continue
			}
			refundable[*d.GrantID] = refundable[*d.GrantID].Add(d.Amount)
			total = total.Add(d.Amount)
		}
		for _, r := range refunds {
			if r.GrantID == nil {
				continue
			}
			refundable[*r.GrantID] = refundable[*r.GrantID].Sub(r.Amount)
			total = total.Sub(r.Amount)
		}
		if !total.IsPositive() {
			return storage.ErrAlreadyRefunded
		}

		grants, err := s.Grants().ActiveByOwner(ctx, ownerID, l.now())
		if err != nil {
			return fmt.Errorf("failed to load grants: %w", err)
		}
		running := balanceOf(grants).Total

		remaining := decimal.Min(amount, total)
		job := jobID
		for _, d := range deducts {
			if !remaining.IsPositive() {
				break
			}
			if d.GrantID == nil {
				continue
			}

			give := decimal.Min(decimal.Min(d.Amount, refundable[*d.GrantID]), remaining)
			if !give.IsPositive() {
				continue
			}
			refundable[*d.GrantID] = refundable[*d.GrantID].Sub(give)
			if err := s.Grants().AddConsumed(ctx, *d.GrantID, give.Neg()); err != nil {
				return fmt.Errorf("failed to restore grant %d: %w", *d.GrantID, err)
			}

			entry := &domain.LedgerEntry{
				OwnerID:       ownerID,
				GrantID:       d.GrantID,
				JobID:         &job,
				Type:          domain.EntryTypeRefund,
				Amount:        give,
				BalanceBefore: running,
				BalanceAfter:  running.Add(give),
				Description:   fmt.Sprintf("refund for job %s", jobID),
			}
			if err := s.Ledger().Append(ctx, entry); err != nil {
				return fmt.Errorf("failed to append refund entry: %w", err)
			}

			running = running.Add(give)
			remaining = remaining.Sub(give)
		}
		return nil
	})
	if err != nil {
		return err
	}

	f, _ := amount.Float64()
	metrics.CreditsRefunded.Add(f)
	l.log.Info("Refunded credits", "owner", ownerID, "amount", amount.String(), "job", jobID)
	return nil
}

// Grant issues a new credit block and logs the purchase/bonus entry.
func (l *Ledger) Grant(ctx context.Context, ownerID int64, amount decimal.Decimal, source domain.GrantSource, highPriority bool, expiresAt time.Time) (*domain.Grant, error) {
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return nil, fmt.Errorf("grant amount must be positive, got %s", amount)
	}

	entryType := domain.EntryTypePurchase
	if source == domain.GrantSourceBonus {
		entryType = domain.EntryTypeBonus
	}

	g := &domain.Grant{
		OwnerID:      ownerID,
		Total:        amount,
		Consumed:     decimal.Zero,
		Source:       source,
		HighPriority: highPriority,
		Status:       domain.GrantStatusActive,
		ExpiresAt:    expiresAt,
	}

	err := l.store.Atomically(ctx, func(ctx context.Context, s storage.Store) error {
		grants, err := s.Grants().ActiveByOwner(ctx, ownerID, l.now())
		if err != nil {
			return fmt.Errorf("failed to load grants: %w", err)
		}
		before := balanceOf(grants).Total

		if err := s.Grants().Create(ctx, g); err != nil {
			return fmt.Errorf("failed to create grant: %w", err)
		}

		grantID := g.ID
		entry := &domain.LedgerEntry{
			OwnerID:       ownerID,
			GrantID:       &grantID,
			Type:          entryType,
			Amount:        amount,
			BalanceBefore: before,
			BalanceAfter:  before.Add(amount),
			Description:   fmt.Sprintf("%s of %s minutes", entryType, amount),
		}
		return s.Ledger().Append(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	l.log.Info("Issued grant", "owner", ownerID, "amount", amount.String(), "source", source, "expires", expiresAt)
	return g, nil
}

// History returns the owner's ledger entries, newest first.
func (l *Ledger) History(ctx context.Context, ownerID int64, limit, offset int) ([]*domain.LedgerEntry, error) {
	return l.store.Ledger().ByOwner(ctx, ownerID, limit, offset)
}

// ExpireDueGrants sweeps active grants past their expiry. Called by the
// periodic expiry worker.
func (l *Ledger) ExpireDueGrants(ctx context.Context) (int64, error) {
	n, err := l.store.Grants().ExpireDue(ctx, l.now())
	if err != nil {
		return 0, fmt.Errorf("failed to expire grants: %w", err)
	}
	if n > 0 {
		l.log.Info("Expired grants", "count", n)
	}
	return n, nil
}

// SetClock overrides the ledger clock. Test hook.
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }
