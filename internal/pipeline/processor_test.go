package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/neviso/core/internal/core/domain"
	"github.com/neviso/core/internal/credit"
	"github.com/neviso/core/internal/infra/storage"
	"github.com/neviso/core/internal/infra/storage/memory"
	"github.com/neviso/core/internal/notify"
	"github.com/neviso/core/internal/queue"
	"github.com/neviso/core/internal/transform"
)

var testNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

type fakeTransform struct {
	result *transform.Result
	err    error
	calls  int
}

func (f *fakeTransform) Process(context.Context, []*domain.ArtifactRef) (*transform.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type testEnv struct {
	store      *memory.Store
	ledger     *credit.Ledger
	controller *queue.Controller
	processor  *Processor
	service    *fakeTransform
}

func newTestEnv(t *testing.T, service *fakeTransform) *testEnv {
	t.Helper()
	store := memory.NewStore()
	board := queue.NewMemoryBoard()

	ledger := credit.NewLedger(store)
	ledger.SetClock(func() time.Time { return testNow })

	controller := queue.NewController(queue.Config{
		Capacity:     10,
		MaxRetries:   3,
		StaleTimeout: 30 * time.Minute,
	}, store, board)
	controller.SetClock(func() time.Time { return testNow })

	processor := NewProcessor(Config{
		Retry: RetryPolicy{MaxRetries: 3, BaseDelay: 5 * time.Second, Multiplier: 3},
	}, store, ledger, credit.NewEstimator(decimal.RequireFromString("0.5")), controller, service, notify.NewStoreSink(store.Notifications()))

	return &testEnv{
		store:      store,
		ledger:     ledger,
		controller: controller,
		processor:  processor,
		service:    service,
	}
}

func (e *testEnv) grant(t *testing.T, ownerID int64, minutes string) {
	t.Helper()
	_, err := e.ledger.Grant(context.Background(), ownerID, decimal.RequireFromString(minutes),
		domain.GrantSourceBonus, false, testNow.Add(30*24*time.Hour))
	if err != nil {
		t.Fatalf("Grant failed: %v", err)
	}
}

func (e *testEnv) submit(t *testing.T, jobID string, ownerID int64, durationS float64) *queue.Task {
	t.Helper()
	ctx := context.Background()
	if _, err := e.controller.Enqueue(ctx, jobID, ownerID, decimal.Zero); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := e.store.Jobs().AddArtifact(ctx, &domain.ArtifactRef{
		JobID: jobID, Kind: domain.ArtifactKindAudio, DurationS: durationS,
	}); err != nil {
		t.Fatalf("AddArtifact failed: %v", err)
	}
	task, err := e.controller.Dispatch(ctx)
	if err != nil || task == nil {
		t.Fatalf("Dispatch failed: task=%v err=%v", task, err)
	}
	return task
}

func (e *testEnv) balance(t *testing.T, ownerID int64) decimal.Decimal {
	t.Helper()
	b, err := e.ledger.Balance(context.Background(), ownerID)
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	return b.Total
}

func TestProcessTask_SuccessChargesAndCompletes(t *testing.T) {
	env := newTestEnv(t, &fakeTransform{result: &transform.Result{Title: "Standup notes", Body: "..."}})
	ctx := context.Background()

	env.grant(t, 1, "100")
	task := env.submit(t, "job-1", 1, 120) // 2 minutes

	if err := env.processor.ProcessTask(ctx, task); err != nil {
		t.Fatalf("ProcessTask failed: %v", err)
	}

	job, _ := env.store.Jobs().Get(ctx, "job-1")
	if job.Status != domain.JobStatusCompleted {
		t.Errorf("Expected completed, got %s", job.Status)
	}
	if got := env.balance(t, 1); !got.Equal(decimal.RequireFromString("98")) {
		t.Errorf("Expected balance 98, got %s", got)
	}

	notifs := env.store.NotificationList()
	if len(notifs) != 1 || notifs[0].Kind != domain.NotificationJobCompleted {
		t.Errorf("Expected one job_completed notification, got %+v", notifs)
	}
}

func TestProcessTask_InsufficientCreditsFailsWithoutCharge(t *testing.T) {
	env := newTestEnv(t, &fakeTransform{result: &transform.Result{Title: "x", Body: "y"}})
	ctx := context.Background()

	env.grant(t, 1, "1") // needs 2
	task := env.submit(t, "job-1", 1, 120)

	if err := env.processor.ProcessTask(ctx, task); err != nil {
		t.Fatalf("ProcessTask failed: %v", err)
	}

	job, _ := env.store.Jobs().Get(ctx, "job-1")
	if job.Status != domain.JobStatusFailed {
		t.Errorf("Expected failed, got %s", job.Status)
	}
	if job.ErrorCategory != string(CategoryQuota) {
		t.Errorf("Expected quota category, got %s", job.ErrorCategory)
	}
	if env.service.calls != 0 {
		t.Errorf("Expected provider never called, got %d calls", env.service.calls)
	}
	if got := env.balance(t, 1); !got.Equal(decimal.RequireFromString("1")) {
		t.Errorf("Expected balance untouched at 1, got %s", got)
	}

	var kinds []domain.NotificationKind
	for _, n := range env.store.NotificationList() {
		kinds = append(kinds, n.Kind)
	}
	if len(kinds) != 2 || kinds[0] != domain.NotificationLowBalance || kinds[1] != domain.NotificationJobFailed {
		t.Errorf("Expected low_balance then job_failed, got %v", kinds)
	}
}

func TestProcessTask_TransientFailureRefundsAndRetries(t *testing.T) {
	env := newTestEnv(t, &fakeTransform{err: transform.NewError(transform.ErrNetwork, "unreachable", nil)})
	ctx := context.Background()

	env.grant(t, 1, "100")
	task := env.submit(t, "job-1", 1, 120)

	if err := env.processor.ProcessTask(ctx, task); err != nil {
		t.Fatalf("ProcessTask failed: %v", err)
	}

	job, _ := env.store.Jobs().Get(ctx, "job-1")
	if job.Status != domain.JobStatusWaiting {
		t.Errorf("Expected waiting for retry, got %s", job.Status)
	}
	if job.RetryCount != 1 {
		t.Errorf("Expected retry count 1, got %d", job.RetryCount)
	}
	if got := env.balance(t, 1); !got.Equal(decimal.RequireFromString("100")) {
		t.Errorf("Expected full refund to 100, got %s", got)
	}
}

func TestProcessTask_PermanentFailureRefundsAndFails(t *testing.T) {
	env := newTestEnv(t, &fakeTransform{err: transform.NewError(transform.ErrUnsupportedFormat, "bad codec", nil)})
	ctx := context.Background()

	env.grant(t, 1, "100")
	task := env.submit(t, "job-1", 1, 120)

	if err := env.processor.ProcessTask(ctx, task); err != nil {
		t.Fatalf("ProcessTask failed: %v", err)
	}

	job, _ := env.store.Jobs().Get(ctx, "job-1")
	if job.Status != domain.JobStatusFailed {
		t.Errorf("Expected failed, got %s", job.Status)
	}
	if job.ErrorCategory != string(CategoryInput) {
		t.Errorf("Expected input category, got %s", job.ErrorCategory)
	}
	if got := env.balance(t, 1); !got.Equal(decimal.RequireFromString("100")) {
		t.Errorf("Expected full refund to 100, got %s", got)
	}

	notifs := env.store.NotificationList()
	if len(notifs) != 1 || notifs[0].Kind != domain.NotificationJobFailed {
		t.Errorf("Expected one job_failed notification, got %+v", notifs)
	}
}

func TestProcessTask_AuthAndProviderFailuresAreTerminal(t *testing.T) {
	tests := []struct {
		name string
		kind transform.ErrorKind
	}{
		{name: "credential rejection", kind: transform.ErrAuth},
		{name: "provider internal failure", kind: transform.ErrInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, &fakeTransform{err: transform.NewError(tt.kind, "provider refused", nil)})
			ctx := context.Background()

			env.grant(t, 1, "100")
			task := env.submit(t, "job-1", 1, 120)

			if err := env.processor.ProcessTask(ctx, task); err != nil {
				t.Fatalf("ProcessTask failed: %v", err)
			}

			job, _ := env.store.Jobs().Get(ctx, "job-1")
			if job.Status != domain.JobStatusFailed {
				t.Errorf("Expected terminal failure, got %s", job.Status)
			}
			if job.RetryCount != 0 {
				t.Errorf("Expected no retry scheduled, got retry count %d", job.RetryCount)
			}
			if job.ErrorCategory != string(CategoryUnknown) {
				t.Errorf("Expected unknown category, got %s", job.ErrorCategory)
			}
			if got := env.balance(t, 1); !got.Equal(decimal.RequireFromString("100")) {
				t.Errorf("Expected full refund to 100, got %s", got)
			}
		})
	}
}

func TestProcessTask_FailureNotificationHidesTechnicalDetail(t *testing.T) {
	cause := transform.NewError(transform.ErrUnsupportedFormat, "codec h265 rejected by backend pool-7", nil)
	env := newTestEnv(t, &fakeTransform{err: cause})
	ctx := context.Background()

	env.grant(t, 1, "100")
	task := env.submit(t, "job-1", 1, 120)

	if err := env.processor.ProcessTask(ctx, task); err != nil {
		t.Fatalf("ProcessTask failed: %v", err)
	}

	// Operators keep the raw cause on the job record.
	job, _ := env.store.Jobs().Get(ctx, "job-1")
	if !strings.Contains(job.ErrorMessage, "codec h265") {
		t.Errorf("Expected technical cause on job record, got %q", job.ErrorMessage)
	}

	notifs := env.store.NotificationList()
	if len(notifs) != 1 {
		t.Fatalf("Expected one notification, got %d", len(notifs))
	}
	if !strings.Contains(notifs[0].Message, CategoryInput.UserMessage()) {
		t.Errorf("Expected friendly message, got %q", notifs[0].Message)
	}
	if strings.Contains(notifs[0].Message, "codec h265") || strings.Contains(notifs[0].Message, "transform") {
		t.Errorf("Technical detail leaked into notification: %q", notifs[0].Message)
	}
}

// chargeFailStore makes every ledger transaction fail with a driver
// error while leaving the rest of the store intact.
type chargeFailStore struct {
	*memory.Store
	err error
}

func (s *chargeFailStore) Atomically(context.Context, func(context.Context, storage.Store) error) error {
	return s.err
}

func TestProcessTask_ChargeStorageErrorRetriesWithoutRefund(t *testing.T) {
	env := newTestEnv(t, &fakeTransform{result: &transform.Result{Title: "x", Body: "y"}})
	ctx := context.Background()

	env.grant(t, 1, "100")
	task := env.submit(t, "job-1", 1, 120)

	badLedger := credit.NewLedger(&chargeFailStore{
		Store: env.store,
		err:   &pgconn.PgError{Code: "57P01", Message: "terminating connection"},
	})
	proc := NewProcessor(Config{
		Retry: RetryPolicy{MaxRetries: 3, BaseDelay: 5 * time.Second, Multiplier: 3},
	}, env.store, badLedger, credit.NewEstimator(decimal.RequireFromString("0.5")), env.controller, env.service, notify.NewStoreSink(env.store.Notifications()))

	if err := proc.ProcessTask(ctx, task); err != nil {
		t.Fatalf("ProcessTask failed: %v", err)
	}

	job, _ := env.store.Jobs().Get(ctx, "job-1")
	if job.Status != domain.JobStatusWaiting {
		t.Errorf("Expected waiting for retry, got %s", job.Status)
	}
	if job.RetryCount != 1 {
		t.Errorf("Expected retry count 1, got %d", job.RetryCount)
	}
	if env.service.calls != 0 {
		t.Errorf("Expected provider never called, got %d calls", env.service.calls)
	}
	if got := env.balance(t, 1); !got.Equal(decimal.RequireFromString("100")) {
		t.Errorf("Expected balance untouched at 100, got %s", got)
	}
	entries, err := env.ledger.History(ctx, 1, 10, 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Type != domain.EntryTypeBonus {
		t.Errorf("Expected only the grant entry, no deduct or refund, got %+v", entries)
	}
}

func TestProcessTask_RetriesExhaustedFailsForGood(t *testing.T) {
	env := newTestEnv(t, &fakeTransform{err: transform.NewError(transform.ErrNetwork, "unreachable", nil)})
	ctx := context.Background()

	env.grant(t, 1, "100")
	task := env.submit(t, "job-1", 1, 120)

	// Initial attempt plus three retries.
	for attempt := 0; attempt < 4; attempt++ {
		if err := env.processor.ProcessTask(ctx, task); err != nil {
			t.Fatalf("ProcessTask attempt %d failed: %v", attempt, err)
		}
		job, _ := env.store.Jobs().Get(ctx, "job-1")
		if job.Status == domain.JobStatusFailed {
			break
		}
		// Re-claim for the next attempt.
		if ok, _ := env.store.Jobs().MarkProcessing(ctx, "job-1", testNow); !ok {
			t.Fatalf("Attempt %d: expected job claimable", attempt)
		}
	}

	job, _ := env.store.Jobs().Get(ctx, "job-1")
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("Expected failed after exhausted retries, got %s", job.Status)
	}
	if job.RetryCount != 3 {
		t.Errorf("Expected 3 retries recorded, got %d", job.RetryCount)
	}
	if got := env.balance(t, 1); !got.Equal(decimal.RequireFromString("100")) {
		t.Errorf("Expected every attempt refunded, balance 100, got %s", got)
	}
}
