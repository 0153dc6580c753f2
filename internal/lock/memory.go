package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker implements Locker for single-instance deployments.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]lockEntry
	now   func() time.Time
}

type lockEntry struct {
	expiresAt time.Time
	token     string
}

// NewMemoryLocker creates an empty in-memory locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]lockEntry), now: time.Now}
}

// Acquire takes key unless a live entry already holds it.
func (m *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if entry, ok := m.locks[key]; ok && now.Before(entry.expiresAt) {
		return false, nil
	}
	m.locks[key] = lockEntry{expiresAt: now.Add(ttl), token: newToken()}
	return true, nil
}

// Release drops key. Expired entries count as not held.
func (m *MemoryLocker) Release(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.locks[key]
	if !ok {
		return false, nil
	}
	delete(m.locks, key)
	return m.now().Before(entry.expiresAt), nil
}

// Extend resets the expiry of a live entry.
func (m *MemoryLocker) Extend(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	entry, ok := m.locks[key]
	if !ok || !now.Before(entry.expiresAt) {
		return false, nil
	}
	entry.expiresAt = now.Add(ttl)
	m.locks[key] = entry
	return true, nil
}

var _ Locker = (*MemoryLocker)(nil)
