package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/neviso/core/internal/core/domain"
)

type grantRepo struct {
	q       queryer
	locking bool
}

func (r *grantRepo) Create(ctx context.Context, g *domain.Grant) error {
	query := `
		INSERT INTO grants (owner_id, total_minutes, consumed_minutes, source, high_priority, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	return r.q.QueryRowxContext(ctx, query,
		g.OwnerID, g.Total, g.Consumed, g.Source, g.HighPriority, g.Status, g.ExpiresAt,
	).Scan(&g.ID, &g.CreatedAt)
}

func (r *grantRepo) GetByID(ctx context.Context, id int64) (*domain.Grant, error) {
	var g domain.Grant
	err := r.q.GetContext(ctx, &g, `
		SELECT id, owner_id, total_minutes, consumed_minutes, source, high_priority, status, expires_at, created_at
		FROM grants WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *grantRepo) ActiveByOwner(ctx context.Context, ownerID int64, now time.Time) ([]*domain.Grant, error) {
	query := `
		SELECT id, owner_id, total_minutes, consumed_minutes, source, high_priority, status, expires_at, created_at
		FROM grants
		WHERE owner_id = $1 AND status = 'active' AND expires_at > $2
		ORDER BY expires_at ASC, id ASC
	`
	if r.locking {
		query += ` FOR UPDATE`
	}
	var grants []*domain.Grant
	if err := r.q.SelectContext(ctx, &grants, query, ownerID, now); err != nil {
		return nil, err
	}
	return grants, nil
}

func (r *grantRepo) AddConsumed(ctx context.Context, grantID int64, delta decimal.Decimal) error {
	_, err := r.q.ExecContext(ctx, `
		UPDATE grants
		SET consumed_minutes = GREATEST(consumed_minutes + $2, 0)
		WHERE id = $1
	`, grantID, delta)
	return err
}

func (r *grantRepo) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE grants SET status = 'expired'
		WHERE status = 'active' AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *grantRepo) HasActivePaid(ctx context.Context, ownerID int64, now time.Time, highPriority bool) (bool, error) {
	var exists bool
	err := r.q.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM grants
			WHERE owner_id = $1 AND status = 'active' AND expires_at > $2
			  AND source = 'purchase' AND ($3 = false OR high_priority = true)
		)
	`, ownerID, now, highPriority)
	return exists, err
}
