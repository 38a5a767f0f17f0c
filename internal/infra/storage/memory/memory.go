// Package memory provides in-memory implementations of the storage
// repositories. Used in tests and in single-node mode when no database
// URL is configured.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/neviso/core/internal/core/domain"
	"github.com/neviso/core/internal/infra/storage"
)

// Store holds all state behind one mutex. Atomically runs the callback
// with the lock held, so repo calls inside the scope see and mutate a
// consistent snapshot; callers must order checks before mutations.
type Store struct {
	mu   *sync.Mutex
	inTx bool

	data *data
}

type data struct {
	nextGrantID  int64
	nextEntryID  int64
	nextNotifID  int64
	nextArtID    int64
	grants       map[int64]*domain.Grant
	entries      []*domain.LedgerEntry
	jobs         map[string]*domain.Job
	artifacts    map[string][]*domain.ArtifactRef
	quotas       map[int64]*domain.Quota
	notification []*domain.Notification
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		mu: &sync.Mutex{},
		data: &data{
			nextGrantID: 1,
			nextEntryID: 1,
			nextNotifID: 1,
			nextArtID:   1,
			grants:      make(map[int64]*domain.Grant),
			jobs:        make(map[string]*domain.Job),
			artifacts:   make(map[string][]*domain.ArtifactRef),
			quotas:      make(map[int64]*domain.Quota),
		},
	}
}

func (s *Store) lock() {
	if !s.inTx {
		s.mu.Lock()
	}
}

func (s *Store) unlock() {
	if !s.inTx {
		s.mu.Unlock()
	}
}

func (s *Store) Grants() storage.GrantRepository               { return &grantRepo{s} }
func (s *Store) Ledger() storage.LedgerRepository              { return &ledgerRepo{s} }
func (s *Store) Jobs() storage.JobRepository                   { return &jobRepo{s} }
func (s *Store) Quotas() storage.QuotaRepository               { return &quotaRepo{s} }
func (s *Store) Notifications() storage.NotificationRepository { return &notificationRepo{s} }

// Atomically serializes the callback behind the store mutex.
func (s *Store) Atomically(ctx context.Context, fn func(ctx context.Context, st storage.Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	scoped := &Store{mu: s.mu, inTx: true, data: s.data}
	return fn(ctx, scoped)
}

func (s *Store) Close() error { return nil }

type grantRepo struct{ s *Store }

func (r *grantRepo) Create(_ context.Context, g *domain.Grant) error {
	r.s.lock()
	defer r.s.unlock()
	g.ID = r.s.data.nextGrantID
	r.s.data.nextGrantID++
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	cp := *g
	r.s.data.grants[g.ID] = &cp
	return nil
}

func (r *grantRepo) GetByID(_ context.Context, id int64) (*domain.Grant, error) {
	r.s.lock()
	defer r.s.unlock()
	g, ok := r.s.data.grants[id]
	if !ok {
		return nil, nil
	}
	cp := *g
	return &cp, nil
}

func (r *grantRepo) ActiveByOwner(_ context.Context, ownerID int64, now time.Time) ([]*domain.Grant, error) {
	r.s.lock()
	defer r.s.unlock()
	var res []*domain.Grant
	for _, g := range r.s.data.grants {
		if g.OwnerID == ownerID && g.Usable(now) {
			cp := *g
			res = append(res, &cp)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].ExpiresAt.Equal(res[j].ExpiresAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].ExpiresAt.Before(res[j].ExpiresAt)
	})
	return res, nil
}

func (r *grantRepo) AddConsumed(_ context.Context, grantID int64, delta decimal.Decimal) error {
	r.s.lock()
	defer r.s.unlock()
	g, ok := r.s.data.grants[grantID]
	if !ok {
		return nil
	}
	g.Consumed = g.Consumed.Add(delta)
	if g.Consumed.IsNegative() {
		g.Consumed = decimal.Zero
	}
	return nil
}

func (r *grantRepo) ExpireDue(_ context.Context, now time.Time) (int64, error) {
	r.s.lock()
	defer r.s.unlock()
	var n int64
	for _, g := range r.s.data.grants {
		if g.Status == domain.GrantStatusActive && !g.ExpiresAt.After(now) {
			g.Status = domain.GrantStatusExpired
			n++
		}
	}
	return n, nil
}

func (r *grantRepo) HasActivePaid(_ context.Context, ownerID int64, now time.Time, highPriority bool) (bool, error) {
	r.s.lock()
	defer r.s.unlock()
	for _, g := range r.s.data.grants {
		if g.OwnerID != ownerID || !g.Usable(now) || g.Source != domain.GrantSourcePurchase {
			continue
		}
		if highPriority && !g.HighPriority {
			continue
		}
		return true, nil
	}
	return false, nil
}

type ledgerRepo struct{ s *Store }

func (r *ledgerRepo) Append(_ context.Context, e *domain.LedgerEntry) error {
	r.s.lock()
	defer r.s.unlock()
	e.ID = r.s.data.nextEntryID
	r.s.data.nextEntryID++
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	cp := *e
	r.s.data.entries = append(r.s.data.entries, &cp)
	return nil
}

func (r *ledgerRepo) ByOwner(_ context.Context, ownerID int64, limit, offset int) ([]*domain.LedgerEntry, error) {
	r.s.lock()
	defer r.s.unlock()
	var res []*domain.LedgerEntry
	// Entries are appended in order; walk backwards for newest first.
	for i := len(r.s.data.entries) - 1; i >= 0; i-- {
		e := r.s.data.entries[i]
		if e.OwnerID != ownerID {
			continue
		}
		if offset > 0 {
			offset--
			continue
		}
		cp := *e
		res = append(res, &cp)
		if limit > 0 && len(res) >= limit {
			break
		}
	}
	return res, nil
}

func (r *ledgerRepo) DeductsForJob(_ context.Context, ownerID int64, jobID string) ([]*domain.LedgerEntry, error) {
	r.s.lock()
	defer r.s.unlock()
	var res []*domain.LedgerEntry
	for i := len(r.s.data.entries) - 1; i >= 0; i-- {
		e := r.s.data.entries[i]
		if e.OwnerID == ownerID && e.Type == domain.EntryTypeDeduct && e.JobID != nil && *e.JobID == jobID {
			cp := *e
			res = append(res, &cp)
		}
	}
	return res, nil
}

func (r *ledgerRepo) RefundsForJob(_ context.Context, ownerID int64, jobID string) ([]*domain.LedgerEntry, error) {
	r.s.lock()
	defer r.s.unlock()
	var res []*domain.LedgerEntry
	for i := len(r.s.data.entries) - 1; i >= 0; i-- {
		e := r.s.data.entries[i]
		if e.OwnerID == ownerID && e.Type == domain.EntryTypeRefund && e.JobID != nil && *e.JobID == jobID {
			cp := *e
			res = append(res, &cp)
		}
	}
	return res, nil
}

type quotaRepo struct{ s *Store }

func (r *quotaRepo) Get(_ context.Context, ownerID int64) (*domain.Quota, error) {
	r.s.lock()
	defer r.s.unlock()
	q, ok := r.s.data.quotas[ownerID]
	if !ok {
		return nil, nil
	}
	cp := *q
	return &cp, nil
}

func (r *quotaRepo) Upsert(_ context.Context, q *domain.Quota) error {
	r.s.lock()
	defer r.s.unlock()
	cp := *q
	r.s.data.quotas[q.OwnerID] = &cp
	return nil
}

type notificationRepo struct{ s *Store }

func (r *notificationRepo) Create(_ context.Context, n *domain.Notification) error {
	r.s.lock()
	defer r.s.unlock()
	n.ID = r.s.data.nextNotifID
	r.s.data.nextNotifID++
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	cp := *n
	r.s.data.notification = append(r.s.data.notification, &cp)
	return nil
}

// Notifications returns all stored notifications, oldest first. Test helper.
func (s *Store) NotificationList() []*domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]*domain.Notification, 0, len(s.data.notification))
	for _, n := range s.data.notification {
		cp := *n
		res = append(res, &cp)
	}
	return res
}
