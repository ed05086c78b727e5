package lock

import (
	"context"
	"errors"
	"fmt"

	"github.com/carebook/scheduler/internal/platform/db"
)

// ErrNoTx is returned by Postgres.Lock outside a transaction.
var ErrNoTx = errors.New("advisory lock requires a transaction")

// Postgres takes transaction-scoped advisory locks on the transaction found
// in the context. The locks share the transaction's connection and are
// released by Postgres at commit or rollback, so Unlock does nothing.
// Use it through InTx.
type Postgres struct{}

func NewPostgres() *Postgres {
	return &Postgres{}
}

func (p *Postgres) Lock(ctx context.Context, keys ...string) (Unlock, error) {
	tx := db.TxFromContext(ctx)
	if tx == nil {
		return nil, ErrNoTx
	}
	for _, k := range normalize(keys) {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, k); err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, k, ctx.Err())
			}
			return nil, fmt.Errorf("advisory lock %s: %w", k, err)
		}
	}
	return func() {}, nil
}
