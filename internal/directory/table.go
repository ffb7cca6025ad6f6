package directory

import (
	"sync/atomic"

	"github.com/dreamware/edgecache/internal/keylock"
	"github.com/dreamware/edgecache/internal/wire"
	"github.com/dreamware/edgecache/pkg/coordkey"
)

// Table is the content directory: a sharded map from key to
// directory entry, protected by a PerKeyRwLock, with byte-accurate
// capacity accounting for the per-edge capacity envelope.
type Table struct {
	lock *keylock.PerKeyRwLock
	hash coordkey.HashFn

	shards    []map[string]*entry
	sizeBytes int64 // atomic
}

// New creates a Table with shardCount stripes (shared with its internal
// PerKeyRwLock) using hash for key routing.
func New(hash coordkey.HashFn, shardCount int) *Table {
	if shardCount <= 0 {
		shardCount = 1
	}
	shards := make([]map[string]*entry, shardCount)
	for i := range shards {
		shards[i] = make(map[string]*entry)
	}
	return &Table{
		lock:   keylock.New(hash, shardCount),
		hash:   hash,
		shards: shards,
	}
}

func (t *Table) shardFor(key string) map[string]*entry {
	idx := coordkey.ShardForKey(t.hash, []byte(key), len(t.shards))
	return t.shards[idx]
}

// Lookup acquires a shared lock for key and reports whether it is
// currently being written, whether any valid directory entry exists, and
// (if so) one arbitrary valid DirectoryInfo
func (t *Table) Lookup(key string) (isBeingWritten, exists bool, info wire.DirectoryInfo) {
	t.lock.AcquireShared([]byte(key))
	defer t.lock.ReleaseShared([]byte(key))

	e, ok := t.shardFor(key)[key]
	if !ok {
		return false, false, 0
	}
	di, valid := e.anyValid()
	return e.writeLocked, valid, di
}

// Update acquires an exclusive lock for key and applies an admit or evict,
// returning whether the key is currently locked for a write. For admit, it
// inserts (edgeIdx, valid=true), overwriting any prior metadata for that
// edge. For evict, it removes (edgeIdx, *). If the entry becomes empty and
// no writer holds its write lock, it is removed from the table entirely
// (invariant b).
func (t *Table) Update(key string, edgeIdx uint32, isAdmit bool) (isBeingWritten bool) {
	t.lock.AcquireExclusive([]byte(key))
	defer t.lock.ReleaseExclusive([]byte(key))

	shard := t.shardFor(key)
	e, ok := shard[key]
	if isAdmit {
		if !ok {
			e = newEntry()
			shard[key] = e
		} else {
			atomic.AddInt64(&t.sizeBytes, -int64(len(key))-e.sizeBytes())
		}
		e.set(wire.DirectoryInfo(edgeIdx), true)
		atomic.AddInt64(&t.sizeBytes, int64(len(key))+e.sizeBytes())
		return e.writeLocked
	}

	if !ok {
		return false
	}
	isBeingWritten = e.writeLocked
	atomic.AddInt64(&t.sizeBytes, -int64(len(key))-e.sizeBytes())
	e.remove(wire.DirectoryInfo(edgeIdx))
	if e.empty() && !e.writeLocked {
		delete(shard, key)
		return isBeingWritten
	}
	atomic.AddInt64(&t.sizeBytes, int64(len(key))+e.sizeBytes())
	return isBeingWritten
}

// TryAcquireWriteLock marks key as being-written if no writer currently
// holds it, returning true on success. Used by the beacon's
// AcquireWritelock handler to grant at most one concurrent
// writer per key.
func (t *Table) TryAcquireWriteLock(key string) bool {
	t.lock.AcquireExclusive([]byte(key))
	defer t.lock.ReleaseExclusive([]byte(key))

	shard := t.shardFor(key)
	e, ok := shard[key]
	if !ok {
		e = newEntry()
		shard[key] = e
		atomic.AddInt64(&t.sizeBytes, int64(len(key)))
	}
	if e.writeLocked {
		return false
	}
	e.writeLocked = true
	return true
}

// ReleaseWriteLock clears the being-written flag for key, used by the
// beacon's FinishBlock handler. If the entry is empty and unlocked it is
// removed from the table.
func (t *Table) ReleaseWriteLock(key string) {
	t.lock.AcquireExclusive([]byte(key))
	defer t.lock.ReleaseExclusive([]byte(key))

	shard := t.shardFor(key)
	e, ok := shard[key]
	if !ok {
		return
	}
	e.writeLocked = false
	if e.empty() {
		delete(shard, key)
		atomic.AddInt64(&t.sizeBytes, -int64(len(key)))
	}
}

// InvalidateAll flips every metadata for key to invalid, used by a writer
// on put/del to force subsequent readers to bypass this key until
// revalidated.
func (t *Table) InvalidateAll(key string) {
	t.lock.AcquireExclusive([]byte(key))
	defer t.lock.ReleaseExclusive([]byte(key))

	if e, ok := t.shardFor(key)[key]; ok {
		e.invalidateAll()
	}
}

// Revalidate sets edgeIdx's metadata for key back to valid, used by the
// writer when it re-announces completion.
func (t *Table) Revalidate(key string, edgeIdx uint32) {
	t.lock.AcquireExclusive([]byte(key))
	defer t.lock.ReleaseExclusive([]byte(key))

	if e, ok := t.shardFor(key)[key]; ok {
		e.revalidate(wire.DirectoryInfo(edgeIdx))
	}
}

// AllInfo returns a snapshot of every DirectoryInfo currently recorded for
// key, valid or not. Used by the beacon's invalidation fan-out and by the victim tracker when seeding a complete dirinfo set.
func (t *Table) AllInfo(key string) []wire.DirectoryInfo {
	t.lock.AcquireShared([]byte(key))
	defer t.lock.ReleaseShared([]byte(key))

	e, ok := t.shardFor(key)[key]
	if !ok {
		return nil
	}
	out := make([]wire.DirectoryInfo, len(e.order))
	copy(out, e.order)
	return out
}

// PreserveIfGlobalUncached atomically adds (edgeIdx, invalid) iff the
// directory for key is currently empty, and reports whether it did so.
// Used by BestGuess placement to reserve a slot before it actually caches
// the item.
func (t *Table) PreserveIfGlobalUncached(key string, edgeIdx uint32) (reserved bool) {
	t.lock.AcquireExclusive([]byte(key))
	defer t.lock.ReleaseExclusive([]byte(key))

	shard := t.shardFor(key)
	e, ok := shard[key]
	if ok {
		// An entry left behind by a held write lock still counts as an
		// empty directory; reuse it so the lock flag survives the
		// reservation.
		if !e.empty() {
			return false
		}
		atomic.AddInt64(&t.sizeBytes, -int64(len(key))-e.sizeBytes())
	} else {
		e = newEntry()
		shard[key] = e
	}
	e.set(wire.DirectoryInfo(edgeIdx), false)
	atomic.AddInt64(&t.sizeBytes, int64(len(key))+e.sizeBytes())
	return true
}

// SizeBytes returns the current capacity-accounting total across all
// shards.
func (t *Table) SizeBytes() int64 {
	return atomic.LoadInt64(&t.sizeBytes)
}
