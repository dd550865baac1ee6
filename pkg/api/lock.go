package api

import (
	"context"
	"errors"
	"time"
)

// ErrLockNotHeld is returned when releasing a lock owned by someone else.
var ErrLockNotHeld = errors.New("lock held by another owner")

// ProcessingLock is an external mutual-exclusion primitive keyed by
// component and cycle. Implementations must be safe to call from multiple
// processes.
type ProcessingLock interface {
	// Acquire returns true if the caller now holds key. A held lock is not
	// an error: acquired=false, err=nil.
	Acquire(ctx context.Context, key string) (bool, error)

	// Release gives up key. It is idempotent.
	Release(ctx context.Context, key string) error
}

// LockRenewer is implemented by locks whose holds are expiring leases. A
// holder renews before the lease runs out to keep it for a long pass.
type LockRenewer interface {
	ProcessingLock

	// Renew extends a live lease held by the caller by TTL. It returns
	// ErrLockNotHeld when the lease is missing, expired or owned by
	// someone else.
	Renew(ctx context.Context, key string) error

	// TTL is the lease duration granted by Acquire and Renew.
	TTL() time.Duration
}

// NoopLock always succeeds. It gives up cross-instance exclusivity.
type NoopLock struct{}

func (NoopLock) Acquire(ctx context.Context, key string) (bool, error) { return true, nil }
func (NoopLock) Release(ctx context.Context, key string) error          { return nil }

// LockKey builds the lock key for one drain cycle of a component.
func LockKey(component, cycle string) string {
	if cycle == "" {
		cycle = "default"
	}
	return component + ":" + cycle
}
