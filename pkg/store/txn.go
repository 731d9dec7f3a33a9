package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dw/acidkv/pkg/engine"
)

// txnCtxKey is the unexported context key under which Store.Txn binds the
// active engine.Txn. Go's per-call-chain context.Context plays the role
// the original implementation split between OS-thread-local and
// cooperative-task-local storage: see SPEC_FULL.md §4.E.
type txnCtxKey struct{}

// Txn opens a transaction, binds it to a derived context passed to fn, and
// commits on fn's normal return. If fn returns ErrAbort (or an error
// wrapping it), the transaction is aborted and Txn returns nil, mirroring
// acid.core.TxnContext.__exit__ recognising the in-band Abort sentinel. Any
// other error aborts the transaction and is returned to the caller.
func (s *Store) Txn(ctx context.Context, write bool, fn func(ctx context.Context) error) error {
	txn, err := s.eng.Begin(write)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	txnCtx := context.WithValue(ctx, txnCtxKey{}, txn)

	done := false
	defer func() {
		if !done {
			txn.Abort()
		}
	}()

	err = fn(txnCtx)
	if err != nil {
		if errors.Is(err, ErrAbort) {
			done = true
			if aerr := txn.Abort(); aerr != nil {
				return fmt.Errorf("store: abort: %w", aerr)
			}
			return nil
		}
		return err
	}
	done = true
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

func txnFromCtx(ctx context.Context) (engine.Txn, error) {
	txn, ok := ctx.Value(txnCtxKey{}).(engine.Txn)
	if !ok {
		return nil, ErrNoTxn
	}
	return txn, nil
}
