package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/neviso/core/internal/infra/storage"
)

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx so repositories can
// run against the pool or inside a transaction scope.
type queryer interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// Store implements storage.Store on PostgreSQL.
type Store struct {
	db *sqlx.DB
	q  queryer

	// inTx marks a transaction-scoped store; grant reads then take
	// row locks so concurrent deductions serialize per owner.
	inTx bool
}

// NewStore creates a Postgres-backed store.
func NewStore(db *DB) *Store {
	return &Store{db: db.DB, q: db.DB}
}

func (s *Store) Grants() storage.GrantRepository               { return &grantRepo{q: s.q, locking: s.inTx} }
func (s *Store) Ledger() storage.LedgerRepository              { return &ledgerRepo{q: s.q} }
func (s *Store) Jobs() storage.JobRepository                   { return &jobRepo{q: s.q} }
func (s *Store) Quotas() storage.QuotaRepository               { return &quotaRepo{q: s.q} }
func (s *Store) Notifications() storage.NotificationRepository { return &notificationRepo{q: s.q} }

// Atomically runs fn inside a single database transaction. Nested calls
// reuse the ambient transaction.
func (s *Store) Atomically(ctx context.Context, fn func(ctx context.Context, st storage.Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	scoped := &Store{db: s.db, q: tx, inTx: true}
	if err := fn(ctx, scoped); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
