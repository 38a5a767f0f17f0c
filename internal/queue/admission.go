package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/neviso/core/internal/core/domain"
	"github.com/neviso/core/internal/infra/storage"
	"github.com/neviso/core/internal/metrics"
)

// Config holds the admission controller's tunables.
type Config struct {
	Capacity     int
	RatePerMin   int
	RatePerDay   int
	MaxRetries   int
	StaleTimeout time.Duration
}

// Task describes one dispatched job.
type Task struct {
	JobID    string
	OwnerID  int64
	Priority int
}

// Stats is a point-in-time snapshot of queue state.
type Stats struct {
	WaitingLength   int64                    `json:"waiting_length"`
	ProcessingCount int64                    `json:"processing_count"`
	Capacity        int                      `json:"capacity"`
	AvailableSlots  int64                    `json:"available_slots"`
	StatusCounts    map[domain.JobStatus]int `json:"status_counts"`
}

// Controller is the admission layer in front of the processing
// pipeline. The durable entry store is authoritative; the ranking
// board is a cache of dispatch intent that Dispatch self-heals.
type Controller struct {
	cfg     Config
	store   storage.Store
	board   Board
	limiter *RateLimiter
	log     *slog.Logger
	now     func() time.Time
}

// NewController creates an admission controller.
func NewController(cfg Config, store storage.Store, board Board) *Controller {
	return &Controller{
		cfg:     cfg,
		store:   store,
		board:   board,
		limiter: NewRateLimiter(board, store.Quotas(), cfg.RatePerMin, cfg.RatePerDay),
		log:     slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// PriorityFor computes the owner's dispatch tier: urgent for a
// high-priority paid grant, paid for any purchased grant, else normal.
// Lookup failures degrade to normal rather than blocking submission.
func (c *Controller) PriorityFor(ctx context.Context, ownerID int64) int {
	now := c.now()
	urgent, err := c.store.Grants().HasActivePaid(ctx, ownerID, now, true)
	if err != nil {
		c.log.Warn("Priority lookup failed", "owner", ownerID, "error", err)
		return domain.PriorityNormal
	}
	if urgent {
		return domain.PriorityUrgent
	}
	paid, err := c.store.Grants().HasActivePaid(ctx, ownerID, now, false)
	if err != nil {
		c.log.Warn("Priority lookup failed", "owner", ownerID, "error", err)
		return domain.PriorityNormal
	}
	if paid {
		return domain.PriorityPaid
	}
	return domain.PriorityNormal
}

// Enqueue admits a job into the queue. Idempotent: when an entry for
// jobID already exists it is returned unchanged and no counters move.
func (c *Controller) Enqueue(ctx context.Context, jobID string, ownerID int64, estimatedCost decimal.Decimal) (*domain.Job, error) {
	existing, err := c.store.Jobs().Get(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up job: %w", err)
	}
	if existing != nil {
		c.log.Warn("Job already enqueued", "job", jobID, "status", existing.Status)
		return existing, nil
	}

	if err := c.limiter.Check(ctx, ownerID); err != nil {
		return nil, err
	}

	priority := c.PriorityFor(ctx, ownerID)
	now := c.now()
	job := &domain.Job{
		ID:            jobID,
		OwnerID:       ownerID,
		Priority:      priority,
		Status:        domain.JobStatusWaiting,
		EstimatedCost: estimatedCost,
		AddedAt:       now,
	}
	if err := c.store.Jobs().Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create queue entry: %w", err)
	}

	if err := c.board.Push(ctx, jobID, scoreFor(priority, now)); err != nil {
		// Without a ranking entry the row would wait forever; undo the
		// admission so the owner can resubmit.
		if derr := c.store.Jobs().Delete(ctx, jobID); derr != nil {
			c.log.Error("Failed to roll back unranked job", "job", jobID, "error", derr)
		}
		return nil, fmt.Errorf("failed to rank job: %w", err)
	}

	c.limiter.Record(ctx, ownerID)
	metrics.JobsEnqueued.WithLabelValues(strconv.Itoa(priority)).Inc()
	c.log.Info("Enqueued job", "job", jobID, "owner", ownerID, "priority", priority)
	return job, nil
}

// Position returns the job's 1-based rank among waiting entries, or -1
// when the job is not waiting.
func (c *Controller) Position(ctx context.Context, jobID string) (int64, error) {
	rank, err := c.board.Rank(ctx, jobID)
	if err != nil {
		return -1, err
	}
	if rank < 0 {
		return -1, nil
	}
	return rank + 1, nil
}

// Dispatch pulls the highest-priority waiting job if a processing slot
// is free. Ranking entries that no longer match a waiting durable entry
// are discarded and the next candidate is tried, so two racing
// dispatchers can never double-dispatch one job.
func (c *Controller) Dispatch(ctx context.Context) (*Task, error) {
	processing, err := c.board.ProcessingCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read processing count: %w", err)
	}
	if processing >= int64(c.cfg.Capacity) {
		c.log.Debug("At capacity", "processing", processing, "capacity", c.cfg.Capacity)
		return nil, nil
	}

	for {
		jobID, ok, err := c.board.PopTop(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to pop ranking entry: %w", err)
		}
		if !ok {
			return nil, nil
		}

		job, err := c.store.Jobs().Get(ctx, jobID)
		if err != nil {
			return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
		}
		if job == nil || job.Status != domain.JobStatusWaiting {
			// Stale ranking entry; the durable store is authoritative.
			c.log.Debug("Discarding stale ranking entry", "job", jobID)
			continue
		}

		claimed, err := c.store.Jobs().MarkProcessing(ctx, jobID, c.now())
		if err != nil {
			return nil, fmt.Errorf("failed to claim job %s: %w", jobID, err)
		}
		if !claimed {
			continue
		}

		if _, err := c.board.IncrProcessing(ctx); err != nil {
			c.log.Warn("Failed to bump processing counter", "job", jobID, "error", err)
		}

		c.log.Info("Dispatched job", "job", jobID, "owner", job.OwnerID, "priority", job.Priority)
		return &Task{JobID: jobID, OwnerID: job.OwnerID, Priority: job.Priority}, nil
	}
}

// Complete finishes a job, releasing its processing slot.
func (c *Controller) Complete(ctx context.Context, jobID string, success bool, errDetail, errCategory string) error {
	status := domain.JobStatusCompleted
	outcome := "completed"
	if !success {
		status = domain.JobStatusFailed
		outcome = "failed"
	}
	if err := c.store.Jobs().MarkFinished(ctx, jobID, status, c.now(), errDetail, errCategory); err != nil {
		return fmt.Errorf("failed to finish job %s: %w", jobID, err)
	}
	if _, err := c.board.DecrProcessing(ctx); err != nil {
		c.log.Warn("Failed to lower processing counter", "job", jobID, "error", err)
	}
	metrics.JobsCompleted.WithLabelValues(outcome).Inc()
	c.log.Info("Finished job", "job", jobID, "status", status)
	return nil
}

// Retry demotes the job one priority tier and re-enqueues it scored as
// if added delay in the future, releasing its processing slot.
func (c *Controller) Retry(ctx context.Context, jobID string, delay time.Duration) error {
	job, err := c.store.Jobs().Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if job == nil {
		return fmt.Errorf("job %s not found", jobID)
	}

	priority := job.Priority - 1
	if priority < domain.PriorityNormal {
		priority = domain.PriorityNormal
	}

	if err := c.store.Jobs().MarkWaitingRetry(ctx, jobID, priority); err != nil {
		return fmt.Errorf("failed to requeue job %s: %w", jobID, err)
	}
	if err := c.board.Push(ctx, jobID, scoreFor(priority, c.now().Add(delay))); err != nil {
		return fmt.Errorf("failed to rank retry of %s: %w", jobID, err)
	}
	if _, err := c.board.DecrProcessing(ctx); err != nil {
		c.log.Warn("Failed to lower processing counter", "job", jobID, "error", err)
	}

	c.log.Info("Scheduled retry", "job", jobID, "priority", priority, "delay", delay, "attempt", job.RetryCount+1)
	return nil
}

// Stats returns a snapshot of queue state.
func (c *Controller) Stats(ctx context.Context) (*Stats, error) {
	waiting, err := c.board.Len(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue length: %w", err)
	}
	processing, err := c.board.ProcessingCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read processing count: %w", err)
	}
	counts, err := c.store.Jobs().CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count statuses: %w", err)
	}

	available := int64(c.cfg.Capacity) - processing
	if available < 0 {
		available = 0
	}

	metrics.QueueWaiting.Set(float64(waiting))
	metrics.QueueProcessing.Set(float64(processing))

	return &Stats{
		WaitingLength:   waiting,
		ProcessingCount: processing,
		Capacity:        c.cfg.Capacity,
		AvailableSlots:  available,
		StatusCounts:    counts,
	}, nil
}

// SweepStale reclaims jobs stuck in processing past the configured
// timeout: retried when under the attempt cap, failed otherwise.
// Guards against workers crashing mid-job.
func (c *Controller) SweepStale(ctx context.Context) (int, error) {
	cutoff := c.now().Add(-c.cfg.StaleTimeout)
	stale, err := c.store.Jobs().StaleProcessing(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to find stale jobs: %w", err)
	}

	for _, job := range stale {
		c.log.Warn("Found stale job", "job", job.ID, "started", job.StartedAt, "retries", job.RetryCount)
		if job.RetryCount < c.cfg.MaxRetries {
			if err := c.Retry(ctx, job.ID, 2*time.Minute); err != nil {
				return 0, err
			}
		} else {
			if err := c.Complete(ctx, job.ID, false, "processing timeout", "network"); err != nil {
				return 0, err
			}
		}
		metrics.StaleJobsSwept.Inc()
	}
	return len(stale), nil
}

// SetClock overrides the controller clock. Test hook.
func (c *Controller) SetClock(now func() time.Time) {
	c.now = now
	c.limiter.SetClock(now)
}
