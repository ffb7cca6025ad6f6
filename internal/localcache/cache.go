// Package localcache implements the local cache contract
// and its variants: LRU, LRU-K, GDSize, GDSF, LFU-DA, BestGuess, a
// coarse-grained Segcache-style cache, and the COVERED local store. Every
// variant shares the same interface so internal/cacheserver and
// internal/cachemanager never branch on policy name.
package localcache

import "sync/atomic"

// Value is the opaque byte blob the simulator moves around, plus the
// tombstone bit carried wire-side alongside it. Only Bytes'
// length is used for capacity accounting; content is never interpreted by
// the cache.
type Value struct {
	Bytes     []byte
	IsDeleted bool
	// Cost is an optional round-trip cost estimate that internal/cacheserver
	// copies from the cloud store's Record; no replacement policy reads it.
	Cost float64
}

// sizeBytes is the byte footprint counted toward capacity: key length
// plus value bytes plus a fixed per-item bookkeeping overhead.
const fixedBookkeepingBytes = 32

func (v Value) sizeBytes(keyLen int) int64 {
	return int64(keyLen) + int64(len(v.Bytes)) + fixedBookkeepingBytes
}

// SizeBytes exposes sizeBytes to callers outside the package, namely
// internal/cachemanager's too-large-object guard.
func (v Value) SizeBytes(keyLen int) int64 {
	return v.sizeBytes(keyLen)
}

// CachedItem is (Key, Value, virtual-time-of-last-touch)
type CachedItem struct {
	Key   string
	Value Value
	Vtime int64
}

// VtimeClock is the 64-bit monotonic counter advanced on every cache
// access at an edge. It is shared by every LocalCache variant
// at one edge so that BestGuess's cross-edge vtime comparison stays
// meaningful.
type VtimeClock struct{ v int64 }

// Tick advances the clock and returns the new value.
func (c *VtimeClock) Tick() int64 { return atomic.AddInt64(&c.v, 1) }

// Now returns the current value without advancing it.
func (c *VtimeClock) Now() int64 { return atomic.LoadInt64(&c.v) }

// Cache is the uniform contract every replacement policy implements.
type Cache interface {
	// IsCached reports whether key is currently held, without mutating
	// recency state.
	IsCached(key string) bool

	// Get returns the value for key and true on hit, advancing recency
	// state and the vtime clock. A miss returns (Value{}, false).
	Get(key string) (Value, bool)

	// Update replaces the value for an already-cached key in place,
	// returning whether the key was cached. It does not admit.
	Update(key string, value Value) bool

	// Admit inserts a new (key, value). Precondition: key is not already
	// cached; a duplicate Admit is a non-fatal no-op.
	Admit(key string, value Value)

	// NeedIndependentAdmit reports whether this key should be admitted
	// without consulting cooperative placement.
	NeedIndependentAdmit(key string) bool

	// VictimKey returns the current eviction candidate, or false if the
	// cache is empty.
	VictimKey() (string, bool)

	// Evict removes key if present and returns its value. Evicting a key
	// that is no longer cached is a non-fatal no-op.
	Evict(key string) (Value, bool)

	// SizeBytes returns the total capacity-accounted size of all cached
	// items.
	SizeBytes() int64

	// HasFineGrainedManagement reports whether eviction operates at
	// single-key granularity (true for everything except the
	// Segcache-style coarse-grained variant).
	HasFineGrainedManagement() bool
}

// BulkEvictor is implemented by coarse-grained caches (those whose
// HasFineGrainedManagement reports false): eviction may remove a group
// of keys at once to free at least requiredBytes.
type BulkEvictor interface {
	EvictBulk(requiredBytes int64) []CachedItem
}
