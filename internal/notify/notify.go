// Package notify records events owners should hear about. Delivery
// transports live outside this module; the sink only persists events.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/neviso/core/internal/core/domain"
	"github.com/neviso/core/internal/infra/storage"
)

// Sink receives owner-facing events.
type Sink interface {
	JobCompleted(ctx context.Context, ownerID int64, jobID, title string)
	JobFailed(ctx context.Context, ownerID int64, jobID, reason string)
	LowBalance(ctx context.Context, ownerID int64, needed, available decimal.Decimal)
}

// StoreSink persists notifications through the storage layer. Write
// failures are logged, never propagated: a lost notification must not
// fail the job that triggered it.
type StoreSink struct {
	repo storage.NotificationRepository
	log  *slog.Logger
}

// NewStoreSink creates a repository-backed sink.
func NewStoreSink(repo storage.NotificationRepository) *StoreSink {
	return &StoreSink{repo: repo, log: slog.Default()}
}

func (s *StoreSink) JobCompleted(ctx context.Context, ownerID int64, jobID, title string) {
	s.create(ctx, &domain.Notification{
		OwnerID: ownerID,
		Kind:    domain.NotificationJobCompleted,
		Title:   "Note ready",
		Message: fmt.Sprintf("Your note %q is ready.", title),
		JobID:   &jobID,
	})
}

func (s *StoreSink) JobFailed(ctx context.Context, ownerID int64, jobID, reason string) {
	s.create(ctx, &domain.Notification{
		OwnerID: ownerID,
		Kind:    domain.NotificationJobFailed,
		Title:   "Processing failed",
		Message: fmt.Sprintf("We could not process your recording: %s. Your credits were not charged.", reason),
		JobID:   &jobID,
	})
}

func (s *StoreSink) LowBalance(ctx context.Context, ownerID int64, needed, available decimal.Decimal) {
	s.create(ctx, &domain.Notification{
		OwnerID: ownerID,
		Kind:    domain.NotificationLowBalance,
		Title:   "Not enough credits",
		Message: fmt.Sprintf("This recording needs %s minutes but only %s remain.", needed, available),
	})
}

func (s *StoreSink) create(ctx context.Context, n *domain.Notification) {
	if err := s.repo.Create(ctx, n); err != nil {
		s.log.Warn("Failed to record notification", "owner", n.OwnerID, "kind", n.Kind, "error", err)
	}
}
