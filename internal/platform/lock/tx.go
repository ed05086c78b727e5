package lock

import (
	"context"

	"github.com/carebook/scheduler/internal/platform/db"
)

// InTx runs fn in a transaction while holding keys. The keys are locked
// inside the transaction and released after it has committed or rolled
// back.
func InTx(ctx context.Context, tx db.Transactor, l Locker, keys []string, fn func(ctx context.Context) error) error {
	var unlock Unlock
	defer func() {
		if unlock != nil {
			unlock()
		}
	}()
	return tx.InTx(ctx, func(ctx context.Context) error {
		u, err := l.Lock(ctx, keys...)
		if err != nil {
			return err
		}
		unlock = u
		return fn(ctx)
	})
}
