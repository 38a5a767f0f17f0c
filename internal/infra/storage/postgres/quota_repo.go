package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/neviso/core/internal/core/domain"
)

type quotaRepo struct {
	q queryer
}

func (r *quotaRepo) Get(ctx context.Context, ownerID int64) (*domain.Quota, error) {
	var q domain.Quota
	err := r.q.GetContext(ctx, &q, `
		SELECT owner_id, daily_count, last_submit_at, reset_at
		FROM owner_quotas WHERE owner_id = $1
	`, ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (r *quotaRepo) Upsert(ctx context.Context, q *domain.Quota) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO owner_quotas (owner_id, daily_count, last_submit_at, reset_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner_id) DO UPDATE
		SET daily_count = EXCLUDED.daily_count,
		    last_submit_at = EXCLUDED.last_submit_at,
		    reset_at = EXCLUDED.reset_at
	`, q.OwnerID, q.DailyCount, q.LastSubmitAt, q.ResetAt)
	return err
}

type notificationRepo struct {
	q queryer
}

func (r *notificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	return r.q.QueryRowxContext(ctx, `
		INSERT INTO notifications (owner_id, kind, title, message, job_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, n.OwnerID, n.Kind, n.Title, n.Message, n.JobID).Scan(&n.ID, &n.CreatedAt)
}
