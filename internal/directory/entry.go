// Package directory implements the content directory: a
// sharded map from key to DirectoryEntry, the per-key set of edges that
// claim to cache it, each with a validity bit. It is guarded by
// internal/keylock.PerKeyRwLock: one lock per key stripe, one map per
// stripe.
package directory

import "github.com/dreamware/edgecache/internal/wire"

// entry is the per-key set of directory facts: at most one DirectoryMetadata
// per DirectoryInfo. An empty entry is kept in the table only while a
// writer holds its write lock (invariant b); otherwise callers remove it.
type entry struct {
	// order preserves insertion order so LookupAny has a deterministic,
	// test-friendly "first valid" choice instead of Go's randomized map
	// iteration, without changing the contract (any valid entry is
	// acceptable).
	order []wire.DirectoryInfo
	valid map[wire.DirectoryInfo]bool

	// writeLocked tracks whether a writer currently holds the MSI-style
	// write lock for this key.
	// Lookup and Update report it back to callers.
	writeLocked bool
}

func newEntry() *entry {
	return &entry{valid: make(map[wire.DirectoryInfo]bool)}
}

func (e *entry) set(di wire.DirectoryInfo, isValid bool) {
	if _, exists := e.valid[di]; !exists {
		e.order = append(e.order, di)
	}
	e.valid[di] = isValid
}

func (e *entry) remove(di wire.DirectoryInfo) {
	if _, exists := e.valid[di]; !exists {
		return
	}
	delete(e.valid, di)
	for i, o := range e.order {
		if o == di {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

func (e *entry) empty() bool { return len(e.valid) == 0 }

// anyValid returns one arbitrary DirectoryInfo with IsValid == true, and
// whether such a valid entry exists, which LookupAny returns as its
// validity flag.
func (e *entry) anyValid() (wire.DirectoryInfo, bool) {
	for _, di := range e.order {
		if e.valid[di] {
			return di, true
		}
	}
	return 0, false
}

func (e *entry) invalidateAll() {
	for di := range e.valid {
		e.valid[di] = false
	}
}

func (e *entry) revalidate(di wire.DirectoryInfo) {
	if _, exists := e.valid[di]; exists {
		e.valid[di] = true
	}
}

// sizeBytes estimates the capacity this entry occupies in the table:
// a DirectoryInfo is 4 bytes (u32) and its validity bit is accounted
// as one byte of bookkeeping.
func (e *entry) sizeBytes() int64 {
	return int64(len(e.valid)) * 5
}
