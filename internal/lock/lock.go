// Package lock provides mutual exclusion for background jobs that may run on
// more than one replica.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Locker acquires named, expiring locks.
type Locker interface {
	// Acquire returns true if the lock was taken, false if another holder has it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release returns false if the caller no longer held the lock.
	Release(ctx context.Context, key string) (bool, error)
	// Extend pushes out the expiry of a lock the caller still holds.
	Extend(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// ReconcileSweepKey guards the orphaned asset sweep.
const ReconcileSweepKey = "mediahub:lock:reconcile-sweep"

func newToken() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return time.Now().Format(time.RFC3339Nano)
	}
	return hex.EncodeToString(buf)
}
