package sql

import (
	"context"

	"github.com/uptrace/bun"

	"github.com/nexuscluster/nexus/apperr"
	"github.com/nexuscluster/nexus/store"
)

// Store implements store.Store over a bun database handle. The zero
// value is not usable; construct with New.
type Store struct {
	root *bun.DB // non-nil only for the top-level, non-transactional Store
	idb  bun.IDB
}

// New creates a Store bound to db. Callers must run InitSchema before
// first use.
func New(db *bun.DB) *Store {
	return &Store{root: db, idb: db}
}

// WithTx runs fn against a Store bound to a fresh transaction,
// committing on nil return and rolling back otherwise. Calling WithTx
// on a Store that already represents a transaction runs fn against
// the same transaction directly; nested transactions are not needed
// anywhere in this codebase.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	if s.root == nil {
		return fn(ctx, s)
	}
	tx, err := s.root.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.Store, "begin transaction", err)
	}
	txStore := &Store{idb: tx}
	if err := fn(ctx, txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return apperr.Wrap(apperr.Store, "rollback after error", err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.Store, "commit transaction", err)
	}
	return nil
}
