// Package keylock implements PerKeyRwLock: a hash-sharded
// multi-reader/single-writer lock keyed by user keys, a fixed-size
// array of stripes so unrelated keys rarely contend.
package keylock

import (
	"sync"

	"github.com/dreamware/edgecache/pkg/coordkey"
)

// PerKeyRwLock hash-shards keys across a fixed array of sync.RWMutex
// stripes. With one stripe it degrades to a single global RW lock.
// There are no lock upgrades: a caller holding a
// shared lock must release it before acquiring the exclusive lock for the
// same key.
type PerKeyRwLock struct {
	stripes []sync.RWMutex
	hash    coordkey.HashFn
}

// New creates a PerKeyRwLock with shardCount stripes. shardCount <= 0 is
// treated as 1 (a single global lock).
func New(hash coordkey.HashFn, shardCount int) *PerKeyRwLock {
	if shardCount <= 0 {
		shardCount = 1
	}
	return &PerKeyRwLock{
		stripes: make([]sync.RWMutex, shardCount),
		hash:    hash,
	}
}

func (l *PerKeyRwLock) stripeFor(key []byte) *sync.RWMutex {
	idx := coordkey.ShardForKey(l.hash, key, len(l.stripes))
	return &l.stripes[idx]
}

// AcquireShared blocks until a shared (read) hold on key's stripe is
// granted. Multiple shared holders may proceed concurrently.
func (l *PerKeyRwLock) AcquireShared(key []byte) { l.stripeFor(key).RLock() }

// ReleaseShared releases a previously acquired shared hold.
func (l *PerKeyRwLock) ReleaseShared(key []byte) { l.stripeFor(key).RUnlock() }

// AcquireExclusive blocks until an exclusive (write) hold on key's stripe
// is granted. An exclusive holder observes every effect of prior shared and
// exclusive holders of the same stripe (happens-before)
func (l *PerKeyRwLock) AcquireExclusive(key []byte) { l.stripeFor(key).Lock() }

// ReleaseExclusive releases a previously acquired exclusive hold.
func (l *PerKeyRwLock) ReleaseExclusive(key []byte) { l.stripeFor(key).Unlock() }

// WithShared runs fn while holding a shared lock on key.
func (l *PerKeyRwLock) WithShared(key []byte, fn func()) {
	l.AcquireShared(key)
	defer l.ReleaseShared(key)
	fn()
}

// WithExclusive runs fn while holding an exclusive lock on key.
func (l *PerKeyRwLock) WithExclusive(key []byte, fn func()) {
	l.AcquireExclusive(key)
	defer l.ReleaseExclusive(key)
	fn()
}
