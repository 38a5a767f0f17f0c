package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Grant is a block of credit, denominated in minutes with two-decimal
// precision. Grants are never deleted; exhausted or expired grants are
// retained for the audit trail.
type Grant struct {
	ID           int64           `db:"id"`
	OwnerID      int64           `db:"owner_id"`
	Total        decimal.Decimal `db:"total_minutes"`
	Consumed     decimal.Decimal `db:"consumed_minutes"`
	Source       GrantSource     `db:"source"`
	HighPriority bool            `db:"high_priority"`
	Status       GrantStatus     `db:"status"`
	ExpiresAt    time.Time       `db:"expires_at"`
	CreatedAt    time.Time       `db:"created_at"`
}

type GrantStatus string

const (
	GrantStatusActive    GrantStatus = "active"
	GrantStatusExpired   GrantStatus = "expired"
	GrantStatusCancelled GrantStatus = "cancelled"
)

type GrantSource string

const (
	GrantSourcePurchase GrantSource = "purchase"
	GrantSourceBonus    GrantSource = "bonus"
)

// Remaining returns the unconsumed credit on the grant, clamped at zero.
func (g *Grant) Remaining() decimal.Decimal {
	r := g.Total.Sub(g.Consumed)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// Usable reports whether the grant can serve a deduction at the given time.
func (g *Grant) Usable(now time.Time) bool {
	return g.Status == GrantStatusActive && g.ExpiresAt.After(now)
}
