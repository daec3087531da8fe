// Package cache holds short-lived entitlement status snapshots in front of the
// store. Entries are invalidated on every mutation, so the TTL only bounds how
// long a missed invalidation can be observed.
//
// Every install carries a version that Invalidate bumps. A reader takes the
// version before it reads the store and passes it to Set, which stores the
// snapshot only if no invalidation happened in between.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/erasekit/paywall/entitlement"
)

// ErrMiss is returned by Get when no fresh entry exists.
var ErrMiss = errors.New("paywall: cache miss")

// Cache stores status snapshots keyed by install id.
type Cache interface {
	Get(ctx context.Context, installID string) (*entitlement.Status, error)

	// Version returns the install's invalidation counter.
	Version(ctx context.Context, installID string) (uint64, error)

	// Set stores status only while the install's counter still equals
	// version. It reports whether the snapshot was stored.
	Set(ctx context.Context, status *entitlement.Status, version uint64, ttl time.Duration) (bool, error)

	// Invalidate drops the snapshot and bumps the counter.
	Invalidate(ctx context.Context, installID string) error
}

type entry struct {
	status  entitlement.Status
	expires time.Time
}

// Memory is an in-process Cache. It only sees invalidations made by the same
// process, so replicas need a shared implementation.
type Memory struct {
	mu       sync.RWMutex
	entries  map[string]entry
	versions map[string]uint64
	now      func() time.Time
}

// NewMemory returns an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{
		entries:  make(map[string]entry),
		versions: make(map[string]uint64),
		now:      time.Now,
	}
}

var _ Cache = (*Memory)(nil)

func (m *Memory) Get(_ context.Context, installID string) (*entitlement.Status, error) {
	m.mu.RLock()
	e, ok := m.entries[installID]
	m.mu.RUnlock()

	if !ok || !m.now().Before(e.expires) {
		return nil, ErrMiss
	}
	st := e.status
	return &st, nil
}

func (m *Memory) Version(_ context.Context, installID string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.versions[installID], nil
}

func (m *Memory) Set(_ context.Context, status *entitlement.Status, version uint64, ttl time.Duration) (bool, error) {
	if status == nil || ttl <= 0 {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.versions[status.InstallID] != version {
		return false, nil
	}
	m.entries[status.InstallID] = entry{status: *status, expires: m.now().Add(ttl)}
	return true, nil
}

func (m *Memory) Invalidate(_ context.Context, installID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, installID)
	m.versions[installID]++
	return nil
}

// Len reports the number of entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
