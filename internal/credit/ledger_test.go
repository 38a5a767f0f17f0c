package credit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/neviso/core/internal/core/domain"
	"github.com/neviso/core/internal/infra/storage"
	"github.com/neviso/core/internal/infra/storage/memory"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

var testNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T) (*Ledger, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	ledger := NewLedger(store)
	ledger.SetClock(fixedClock(testNow))
	return ledger, store
}

func addGrant(t *testing.T, store *memory.Store, ownerID int64, total string, expiresAt time.Time) *domain.Grant {
	t.Helper()
	g := &domain.Grant{
		OwnerID:   ownerID,
		Total:     dec(total),
		Consumed:  decimal.Zero,
		Source:    domain.GrantSourcePurchase,
		Status:    domain.GrantStatusActive,
		ExpiresAt: expiresAt,
	}
	if err := store.Grants().Create(context.Background(), g); err != nil {
		t.Fatalf("Create grant failed: %v", err)
	}
	return g
}

func TestBalance_SumsActiveGrants(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	addGrant(t, store, 1, "60", testNow.Add(10*24*time.Hour))
	addGrant(t, store, 1, "30.50", testNow.Add(30*24*time.Hour))
	// Expired grant must not count.
	addGrant(t, store, 1, "100", testNow.Add(-time.Hour))
	// Other owner's grant must not count.
	addGrant(t, store, 2, "40", testNow.Add(24*time.Hour))

	b, err := ledger.Balance(ctx, 1)
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if !b.Total.Equal(dec("90.50")) {
		t.Errorf("Expected balance 90.50, got %s", b.Total)
	}
	if len(b.Grants) != 2 {
		t.Errorf("Expected 2 grants in breakdown, got %d", len(b.Grants))
	}
}

func TestDeduct_DrainsSoonestExpiringFirst(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	a := addGrant(t, store, 1, "60", testNow.Add(10*24*time.Hour))
	b := addGrant(t, store, 1, "60", testNow.Add(30*24*time.Hour))

	if err := ledger.Deduct(ctx, 1, dec("70"), "job-1", "test"); err != nil {
		t.Fatalf("Deduct failed: %v", err)
	}

	ga, _ := store.Grants().GetByID(ctx, a.ID)
	gb, _ := store.Grants().GetByID(ctx, b.ID)
	if !ga.Consumed.Equal(dec("60")) {
		t.Errorf("Expected grant A fully consumed (60), got %s", ga.Consumed)
	}
	if !gb.Consumed.Equal(dec("10")) {
		t.Errorf("Expected grant B consumed 10, got %s", gb.Consumed)
	}

	bal, err := ledger.Balance(ctx, 1)
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if !bal.Total.Equal(dec("50")) {
		t.Errorf("Expected balance 50 after deduct, got %s", bal.Total)
	}

	// One deduct entry per touched grant.
	deducts, err := store.Ledger().DeductsForJob(ctx, 1, "job-1")
	if err != nil {
		t.Fatalf("DeductsForJob failed: %v", err)
	}
	if len(deducts) != 2 {
		t.Fatalf("Expected 2 deduct entries, got %d", len(deducts))
	}
}

func TestDeduct_ExactBalanceBoundary(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()
	addGrant(t, store, 1, "10", testNow.Add(24*time.Hour))

	if err := ledger.Deduct(ctx, 1, dec("10"), "job-1", "test"); err != nil {
		t.Fatalf("Deduct of exact balance should succeed: %v", err)
	}

	bal, _ := ledger.Balance(ctx, 1)
	if !bal.Total.IsZero() {
		t.Errorf("Expected zero balance, got %s", bal.Total)
	}
}

func TestDeduct_InsufficientLeavesNothingTouched(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()
	g := addGrant(t, store, 1, "10", testNow.Add(24*time.Hour))

	err := ledger.Deduct(ctx, 1, dec("10.01"), "job-1", "test")
	var insufficient *InsufficientCreditsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("Expected InsufficientCreditsError, got %v", err)
	}
	if !insufficient.Needed.Equal(dec("10.01")) || !insufficient.Available.Equal(dec("10")) {
		t.Errorf("Expected needed=10.01 available=10, got needed=%s available=%s",
			insufficient.Needed, insufficient.Available)
	}

	got, _ := store.Grants().GetByID(ctx, g.ID)
	if !got.Consumed.IsZero() {
		t.Errorf("Expected grant untouched, consumed=%s", got.Consumed)
	}
	entries, _ := store.Ledger().ByOwner(ctx, 1, 0, 0)
	if len(entries) != 0 {
		t.Errorf("Expected no ledger entries, got %d", len(entries))
	}
}

func TestDeduct_RejectsNonPositiveAmount(t *testing.T) {
	ledger, _ := newTestLedger(t)
	for _, amount := range []string{"0", "-5"} {
		if err := ledger.Deduct(context.Background(), 1, dec(amount), "job-1", "test"); err == nil {
			t.Errorf("Expected error for amount %s", amount)
		}
	}
}

func TestRefund_RoundTripRestoresBalance(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	addGrant(t, store, 1, "60", testNow.Add(10*24*time.Hour))
	addGrant(t, store, 1, "60", testNow.Add(30*24*time.Hour))

	if err := ledger.Deduct(ctx, 1, dec("70"), "job-1", "test"); err != nil {
		t.Fatalf("Deduct failed: %v", err)
	}
	if err := ledger.Refund(ctx, 1, dec("70"), "job-1"); err != nil {
		t.Fatalf("Refund failed: %v", err)
	}

	bal, _ := ledger.Balance(ctx, 1)
	if !bal.Total.Equal(dec("120")) {
		t.Errorf("Expected balance restored to 120, got %s", bal.Total)
	}
}

func TestRefund_IsIdempotentPerJob(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()
	addGrant(t, store, 1, "60", testNow.Add(24*time.Hour))

	if err := ledger.Deduct(ctx, 1, dec("20"), "job-1", "test"); err != nil {
		t.Fatalf("Deduct failed: %v", err)
	}
	if err := ledger.Refund(ctx, 1, dec("20"), "job-1"); err != nil {
		t.Fatalf("First refund failed: %v", err)
	}

	err := ledger.Refund(ctx, 1, dec("20"), "job-1")
	if !errors.Is(err, storage.ErrAlreadyRefunded) {
		t.Fatalf("Expected ErrAlreadyRefunded, got %v", err)
	}

	bal, _ := ledger.Balance(ctx, 1)
	if !bal.Total.Equal(dec("60")) {
		t.Errorf("Expected balance 60 after duplicate refund, got %s", bal.Total)
	}
}

func TestRefund_PartialReversesNewestFragmentsFirst(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	a := addGrant(t, store, 1, "60", testNow.Add(10*24*time.Hour))
	b := addGrant(t, store, 1, "60", testNow.Add(30*24*time.Hour))

	// Deduct 70: A takes 60, B takes 10.
	if err := ledger.Deduct(ctx, 1, dec("70"), "job-1", "test"); err != nil {
		t.Fatalf("Deduct failed: %v", err)
	}
	// Partial refund 30: B's 10 comes back first, then 20 from A.
	if err := ledger.Refund(ctx, 1, dec("30"), "job-1"); err != nil {
		t.Fatalf("Refund failed: %v", err)
	}

	ga, _ := store.Grants().GetByID(ctx, a.ID)
	gb, _ := store.Grants().GetByID(ctx, b.ID)
	if !ga.Consumed.Equal(dec("40")) {
		t.Errorf("Expected grant A consumed 40, got %s", ga.Consumed)
	}
	if !gb.Consumed.IsZero() {
		t.Errorf("Expected grant B consumed 0, got %s", gb.Consumed)
	}
}

func TestGrant_WritesLedgerEntry(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	g, err := ledger.Grant(ctx, 1, dec("120"), domain.GrantSourceBonus, false, testNow.Add(30*24*time.Hour))
	if err != nil {
		t.Fatalf("Grant failed: %v", err)
	}
	if g.ID == 0 {
		t.Error("Expected grant ID to be set")
	}

	entries, _ := store.Ledger().ByOwner(ctx, 1, 0, 0)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 ledger entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Type != domain.EntryTypeBonus {
		t.Errorf("Expected bonus entry, got %s", e.Type)
	}
	if !e.BalanceBefore.IsZero() || !e.BalanceAfter.Equal(dec("120")) {
		t.Errorf("Expected balance 0 -> 120, got %s -> %s", e.BalanceBefore, e.BalanceAfter)
	}
}

func TestExpireDueGrants(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	due := addGrant(t, store, 1, "60", testNow.Add(-time.Minute))
	keep := addGrant(t, store, 1, "60", testNow.Add(time.Hour))

	n, err := ledger.ExpireDueGrants(ctx)
	if err != nil {
		t.Fatalf("ExpireDueGrants failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 expired grant, got %d", n)
	}

	got, _ := store.Grants().GetByID(ctx, due.ID)
	if got.Status != domain.GrantStatusExpired {
		t.Errorf("Expected expired status, got %s", got.Status)
	}
	kept, _ := store.Grants().GetByID(ctx, keep.ID)
	if kept.Status != domain.GrantStatusActive {
		t.Errorf("Expected active status, got %s", kept.Status)
	}
}

func TestDeduct_ManySmallAmountsStayExact(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()
	addGrant(t, store, 1, "100", testNow.Add(24*time.Hour))

	// 1000 deductions of 0.10 must land exactly on zero.
	for i := 0; i < 1000; i++ {
		if err := ledger.Deduct(ctx, 1, dec("0.10"), "job-x", "test"); err != nil {
			t.Fatalf("Deduct %d failed: %v", i, err)
		}
	}

	bal, _ := ledger.Balance(ctx, 1)
	if !bal.Total.IsZero() {
		t.Errorf("Expected exactly zero after 1000 x 0.10, got %s", bal.Total)
	}
}
