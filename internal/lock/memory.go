package lock

import (
	"context"
	"sync"
	"time"

	"github.com/petrijr/tokenflow/pkg/api"
)

type lease struct {
	owner     string
	expiresAt time.Time
}

// Memory is a goroutine-safe, in-process lease table. Handles created with
// Share use the same table under a different owner, which models several
// processes contending for one lock service.
type Memory struct {
	opts  Options
	table *leaseTable
}

type leaseTable struct {
	mu     sync.Mutex
	leases map[string]lease
}

var _ api.LockRenewer = (*Memory)(nil)

// NewMemory creates an in-memory lock.
func NewMemory(opts Options) (*Memory, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Memory{
		opts:  opts,
		table: &leaseTable{leases: make(map[string]lease)},
	}, nil
}

// Share returns a handle on the same lease table for another owner.
func (m *Memory) Share(owner string) *Memory {
	opts := m.opts
	opts.Owner = owner
	opts = opts.withDefaults()
	return &Memory{opts: opts, table: m.table}
}

// Owner returns the owner identity of this handle.
func (m *Memory) Owner() string {
	return m.opts.Owner
}

func (m *Memory) Acquire(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	now := m.opts.Now()

	m.table.mu.Lock()
	defer m.table.mu.Unlock()

	if cur, ok := m.table.leases[key]; ok && now.Before(cur.expiresAt) {
		return false, nil
	}
	m.table.leases[key] = lease{owner: m.opts.Owner, expiresAt: now.Add(m.opts.TTL)}
	return true, nil
}

func (m *Memory) Release(ctx context.Context, key string) error {
	m.table.mu.Lock()
	defer m.table.mu.Unlock()

	cur, ok := m.table.leases[key]
	if !ok {
		return nil
	}
	if cur.owner != m.opts.Owner {
		if m.opts.Now().Before(cur.expiresAt) {
			return api.ErrLockNotHeld
		}
		return nil
	}
	delete(m.table.leases, key)
	return nil
}

// Renew extends a live lease owned by this handle.
func (m *Memory) Renew(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := m.opts.Now()

	m.table.mu.Lock()
	defer m.table.mu.Unlock()

	cur, ok := m.table.leases[key]
	if !ok || cur.owner != m.opts.Owner || !now.Before(cur.expiresAt) {
		return api.ErrLockNotHeld
	}
	m.table.leases[key] = lease{owner: m.opts.Owner, expiresAt: now.Add(m.opts.TTL)}
	return nil
}

// TTL returns the lease duration.
func (m *Memory) TTL() time.Duration {
	return m.opts.TTL
}

// Held reports whether key currently has an unexpired lease.
func (m *Memory) Held(key string) bool {
	m.table.mu.Lock()
	defer m.table.mu.Unlock()
	cur, ok := m.table.leases[key]
	return ok && m.opts.Now().Before(cur.expiresAt)
}
