package postgres

import (
	"context"

	"github.com/neviso/core/internal/core/domain"
)

type ledgerRepo struct {
	q queryer
}

func (r *ledgerRepo) Append(ctx context.Context, e *domain.LedgerEntry) error {
	query := `
		INSERT INTO ledger_entries
			(owner_id, grant_id, job_id, entry_type, amount, balance_before, balance_after, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`
	return r.q.QueryRowxContext(ctx, query,
		e.OwnerID, e.GrantID, e.JobID, e.Type, e.Amount, e.BalanceBefore, e.BalanceAfter, e.Description,
	).Scan(&e.ID, &e.CreatedAt)
}

func (r *ledgerRepo) ByOwner(ctx context.Context, ownerID int64, limit, offset int) ([]*domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []*domain.LedgerEntry
	err := r.q.SelectContext(ctx, &entries, `
		SELECT id, owner_id, grant_id, job_id, entry_type, amount, balance_before, balance_after, description, created_at
		FROM ledger_entries
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, ownerID, limit, offset)
	return entries, err
}

func (r *ledgerRepo) DeductsForJob(ctx context.Context, ownerID int64, jobID string) ([]*domain.LedgerEntry, error) {
	var entries []*domain.LedgerEntry
	err := r.q.SelectContext(ctx, &entries, `
		SELECT id, owner_id, grant_id, job_id, entry_type, amount, balance_before, balance_after, description, created_at
		FROM ledger_entries
		WHERE owner_id = $1 AND job_id = $2 AND entry_type = 'deduct'
		ORDER BY created_at DESC, id DESC
	`, ownerID, jobID)
	return entries, err
}

func (r *ledgerRepo) RefundsForJob(ctx context.Context, ownerID int64, jobID string) ([]*domain.LedgerEntry, error) {
	var entries []*domain.LedgerEntry
	err := r.q.SelectContext(ctx, &entries, `
		SELECT id, owner_id, grant_id, job_id, entry_type, amount, balance_before, balance_after, description, created_at
		FROM ledger_entries
		WHERE owner_id = $1 AND job_id = $2 AND entry_type = 'refund'
		ORDER BY created_at DESC, id DESC
	`, ownerID, jobID)
	return entries, err
}
