package domain

import "time"

// Notification is one event for the notification sink. Delivery
// mechanics (email, push) are outside this module.
type Notification struct {
	ID        int64            `db:"id"`
	OwnerID   int64            `db:"owner_id"`
	Kind      NotificationKind `db:"kind"`
	Title     string           `db:"title"`
	Message   string           `db:"message"`
	JobID     *string          `db:"job_id"`
	CreatedAt time.Time        `db:"created_at"`
}

type NotificationKind string

const (
	NotificationJobCompleted NotificationKind = "job_completed"
	NotificationJobFailed    NotificationKind = "job_failed"
	NotificationLowBalance   NotificationKind = "low_balance"
)
