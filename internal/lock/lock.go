// Package lock provides api.ProcessingLock implementations.
//
// Every lock is a lease: a holder identity (owner) plus an expiry, so a
// crashed holder cannot block a run forever. Locks are not re-entrant; a
// second Acquire of a held key fails even for the same owner, which gives
// at-most-one drain per key within one process as well as across processes.
package lock

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/tokenflow/pkg/api"
)

// DefaultTTL bounds how long a lease survives its holder.
const DefaultTTL = 30 * time.Second

// ErrInvalidTTL is returned by constructors for non-positive TTLs.
var ErrInvalidTTL = errors.New("ttl must be > 0")

// Ensure the shared noop lock is usable wherever a ProcessingLock is expected.
var _ api.ProcessingLock = api.NoopLock{}

// Options configures a lease-based lock.
type Options struct {
	// Owner identifies this holder. Defaults to a random UUID.
	Owner string

	// TTL defaults to DefaultTTL.
	TTL time.Duration

	// Now is used for expiry checks. Defaults to time.Now.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Owner == "" {
		o.Owner = uuid.NewString()
	}
	if o.TTL == 0 {
		o.TTL = DefaultTTL
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

func (o Options) validate() error {
	if o.TTL <= 0 {
		return ErrInvalidTTL
	}
	return nil
}
