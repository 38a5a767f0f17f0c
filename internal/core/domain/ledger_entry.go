package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEntry is one immutable balance-affecting record. Entries are
// append-only: corrections happen via refund entries, never edits.
type LedgerEntry struct {
	ID            int64           `db:"id"`
	OwnerID       int64           `db:"owner_id"`
	GrantID       *int64          `db:"grant_id"`
	JobID         *string         `db:"job_id"`
	Type          EntryType       `db:"entry_type"`
	Amount        decimal.Decimal `db:"amount"`
	BalanceBefore decimal.Decimal `db:"balance_before"`
	BalanceAfter  decimal.Decimal `db:"balance_after"`
	Description   string          `db:"description"`
	CreatedAt     time.Time       `db:"created_at"`
}

type EntryType string

const (
	EntryTypeDeduct   EntryType = "deduct"
	EntryTypeRefund   EntryType = "refund"
	EntryTypePurchase EntryType = "purchase"
	EntryTypeBonus    EntryType = "bonus"
)

// Credits reports whether the entry type increases the owner's balance.
func (t EntryType) Credits() bool {
	return t == EntryTypeRefund || t == EntryTypePurchase || t == EntryTypeBonus
}
