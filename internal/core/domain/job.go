package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Job is the durable queue entry for one submitted unit of work. The
// durable row is authoritative; the Redis ranking entry is only a cache
// of dispatch intent.
type Job struct {
	ID            string          `db:"id"`
	OwnerID       int64           `db:"owner_id"`
	Priority      int             `db:"priority"`
	Status        JobStatus       `db:"status"`
	RetryCount    int             `db:"retry_count"`
	EstimatedCost decimal.Decimal `db:"estimated_cost"`
	AddedAt       time.Time       `db:"added_at"`
	StartedAt     *time.Time      `db:"started_at"`
	CompletedAt   *time.Time      `db:"completed_at"`
	ErrorMessage  string          `db:"error_message"`
	ErrorCategory string          `db:"error_category"`
}

type JobStatus string

const (
	JobStatusWaiting    JobStatus = "waiting"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Live reports whether the job still occupies its slot in the queue.
func (s JobStatus) Live() bool {
	return s == JobStatusWaiting || s == JobStatusProcessing
}

// Priority tiers. Highest applicable tier wins.
const (
	PriorityNormal = 0
	PriorityPaid   = 1
	PriorityUrgent = 2
)

// ArtifactRef points at one input artifact of a job.
type ArtifactRef struct {
	ID        int64        `db:"id"`
	JobID     string       `db:"job_id"`
	Kind      ArtifactKind `db:"kind"`
	URI       string       `db:"uri"`
	DurationS float64      `db:"duration_seconds"`
}

type ArtifactKind string

const (
	ArtifactKindAudio ArtifactKind = "audio"
	ArtifactKindVideo ArtifactKind = "video"
	ArtifactKindImage ArtifactKind = "image"
)
