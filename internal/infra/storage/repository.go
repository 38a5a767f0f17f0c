package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/neviso/core/internal/core/domain"
)

// ErrAlreadyRefunded is returned when a refund is attempted for a job
// that already has a refund entry.
var ErrAlreadyRefunded = errors.New("job already refunded")

// GrantRepository handles credit grant storage. Grants are never deleted.
type GrantRepository interface {
	// Create inserts a grant and sets its ID.
	Create(ctx context.Context, g *domain.Grant) error

	// GetByID retrieves a grant, nil when absent.
	GetByID(ctx context.Context, id int64) (*domain.Grant, error)

	// ActiveByOwner retrieves active, unexpired grants ordered by
	// ascending expiry. Inside a transaction the rows are locked.
	ActiveByOwner(ctx context.Context, ownerID int64, now time.Time) ([]*domain.Grant, error)

	// AddConsumed adjusts a grant's consumed amount by delta (negative
	// for refunds); the stored value is clamped at zero.
	AddConsumed(ctx context.Context, grantID int64, delta decimal.Decimal) error

	// ExpireDue flips active grants past their expiry to expired and
	// returns how many were swept.
	ExpireDue(ctx context.Context, now time.Time) (int64, error)

	// HasActivePaid reports whether the owner holds any usable
	// purchase-sourced grant; highPriority narrows to urgent-tier grants.
	HasActivePaid(ctx context.Context, ownerID int64, now time.Time, highPriority bool) (bool, error)
}

// LedgerRepository handles the append-only transaction log.
type LedgerRepository interface {
	// Append inserts an entry and sets its ID. There is no update or
	// delete; corrections are new entries.
	Append(ctx context.Context, e *domain.LedgerEntry) error

	// ByOwner returns the owner's entries newest first.
	ByOwner(ctx context.Context, ownerID int64, limit, offset int) ([]*domain.LedgerEntry, error)

	// DeductsForJob returns the deduct entries for one job, newest first.
	DeductsForJob(ctx context.Context, ownerID int64, jobID string) ([]*domain.LedgerEntry, error)

	// RefundsForJob returns the refund entries for one job.
	RefundsForJob(ctx context.Context, ownerID int64, jobID string) ([]*domain.LedgerEntry, error)
}

// JobRepository handles the durable queue entry store.
type JobRepository interface {
	// Create inserts a queue entry.
	Create(ctx context.Context, j *domain.Job) error

	// Get retrieves a queue entry, nil when absent.
	Get(ctx context.Context, id string) (*domain.Job, error)

	// Delete removes a queue entry and its artifacts. Used to undo an
	// admission whose ranking insert failed.
	Delete(ctx context.Context, id string) error

	// MarkProcessing transitions waiting -> processing and records the
	// start time. Returns false when the entry is missing or not waiting.
	MarkProcessing(ctx context.Context, id string, startedAt time.Time) (bool, error)

	// MarkFinished transitions to completed or failed.
	MarkFinished(ctx context.Context, id string, status domain.JobStatus, completedAt time.Time, errMsg, errCategory string) error

	// MarkWaitingRetry bumps retry_count, sets the demoted priority and
	// flips the entry back to waiting.
	MarkWaitingRetry(ctx context.Context, id string, priority int) error

	// StaleProcessing returns processing entries started before the cutoff.
	StaleProcessing(ctx context.Context, cutoff time.Time) ([]*domain.Job, error)

	// CountByStatus returns per-status entry counts.
	CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error)

	// Artifacts returns the job's input artifact references.
	Artifacts(ctx context.Context, jobID string) ([]*domain.ArtifactRef, error)

	// AddArtifact attaches an input artifact to a job.
	AddArtifact(ctx context.Context, a *domain.ArtifactRef) error
}

// QuotaRepository handles durable daily submission counters.
type QuotaRepository interface {
	// Get retrieves an owner's quota row, nil when absent.
	Get(ctx context.Context, ownerID int64) (*domain.Quota, error)

	// Upsert inserts or replaces the quota row.
	Upsert(ctx context.Context, q *domain.Quota) error
}

// NotificationRepository persists notification events for the sink.
type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
}

// Store bundles the repositories and provides transactional scope.
type Store interface {
	Grants() GrantRepository
	Ledger() LedgerRepository
	Jobs() JobRepository
	Quotas() QuotaRepository
	Notifications() NotificationRepository

	// Atomically runs fn against a transaction-scoped store. All repo
	// operations inside fn commit or roll back together.
	Atomically(ctx context.Context, fn func(ctx context.Context, s Store) error) error

	Close() error
}
