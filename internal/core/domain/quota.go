package domain

import "time"

// Quota tracks an owner's durable daily submission counter. The
// per-minute counter lives in Redis with a TTL and has no durable row.
type Quota struct {
	OwnerID      int64     `db:"owner_id"`
	DailyCount   int       `db:"daily_count"`
	LastSubmitAt time.Time `db:"last_submit_at"`
	ResetAt      time.Time `db:"reset_at"`
}

// NeedsReset reports whether the daily counter belongs to a previous UTC day.
func (q *Quota) NeedsReset(now time.Time) bool {
	ry, rm, rd := q.ResetAt.UTC().Date()
	ny, nm, nd := now.UTC().Date()
	reset := time.Date(ry, rm, rd, 0, 0, 0, 0, time.UTC)
	today := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
	return reset.Before(today)
}
