// Package victimsync maintains each edge's view of its neighbors' current
// eviction candidates. Every edge advertises the keys it is about to
// evict, piggybacked as a wire.VictimSyncset on its cross-edge directory
// calls; the receiving side reconstructs a complete per-neighbor batch via
// VictimsyncMonitor and installs it into a VictimTracker, whose
// IsVictimSomewhere answers "is this key already a victim somewhere
// nearby". No code in internal/cachemanager or internal/cacheserver
// queries it.
package victimsync

import (
	"sync"

	"github.com/dreamware/edgecache/internal/debug"
	"github.com/dreamware/edgecache/internal/wire"
)

// VictimTracker is the refcounted, per-key aggregate of which neighbor
// edges currently list a key as an eviction candidate.
// Each neighbor's last-installed complete batch is kept
// so that a neighbor going silent, or resetting via enforce_complete, can
// be reconciled without disturbing what other neighbors reported.
type VictimTracker struct {
	mu sync.RWMutex

	// perNeighbor holds, for every neighbor edge index, the last
	// successfully reconstructed complete batch from that neighbor.
	perNeighbor map[uint32]map[string]wire.VictimDirinfo

	// refcount is the number of neighbors currently reporting a key as a
	// victim, derived from perNeighbor. A key with refcount 0 is removed.
	refcount map[string]int
}

// NewVictimTracker creates an empty tracker.
func NewVictimTracker() *VictimTracker {
	return &VictimTracker{
		perNeighbor: make(map[uint32]map[string]wire.VictimDirinfo),
		refcount:    make(map[string]int),
	}
}

// Install replaces the complete batch attributed to neighbor and updates
// the aggregate refcounts accordingly. Callers obtain `batch` from
// VictimsyncMonitor.Apply once a syncset has been reconstructed into a
// complete state.
func (t *VictimTracker) Install(neighbor uint32, batch map[string]wire.VictimDirinfo) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prior, hadPrior := t.perNeighbor[neighbor]
	if hadPrior {
		for k := range prior {
			if _, stillPresent := batch[k]; !stillPresent {
				t.decrefLocked(k)
			}
		}
	}
	for k := range batch {
		_, alreadyCounted := prior[k]
		if !alreadyCounted {
			t.refcount[k]++
		}
	}

	cp := make(map[string]wire.VictimDirinfo, len(batch))
	for k, v := range batch {
		cp[k] = v
	}
	t.perNeighbor[neighbor] = cp
}

// DropNeighbor removes all records attributed to a neighbor, e.g. after
// that neighbor is evicted from the beacon ring.
func (t *VictimTracker) DropNeighbor(neighbor uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prior, ok := t.perNeighbor[neighbor]
	if !ok {
		return
	}
	for k := range prior {
		t.decrefLocked(k)
	}
	delete(t.perNeighbor, neighbor)
}

func (t *VictimTracker) decrefLocked(key string) {
	debug.Assert(t.refcount[key] > 0, "victim refcount for %q decremented below zero", key)
	t.refcount[key]--
	if t.refcount[key] <= 0 {
		delete(t.refcount, key)
	}
}

// IsVictimSomewhere reports whether any neighbor currently lists key as an
// eviction candidate, and the refcount (how many neighbors do).
func (t *VictimTracker) IsVictimSomewhere(key string) (count int, isVictim bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c := t.refcount[key]
	return c, c > 0
}

// Lookup returns neighbor's current record for key, if any.
func (t *VictimTracker) Lookup(neighbor uint32, key string) (wire.VictimDirinfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	batch, ok := t.perNeighbor[neighbor]
	if !ok {
		return wire.VictimDirinfo{}, false
	}
	info, ok := batch[key]
	return info, ok
}

// NeighborBatch returns a defensive copy of the last complete batch
// installed for neighbor, used by tests and diagnostic dumps.
func (t *VictimTracker) NeighborBatch(neighbor uint32) map[string]wire.VictimDirinfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	batch, ok := t.perNeighbor[neighbor]
	if !ok {
		return nil
	}
	cp := make(map[string]wire.VictimDirinfo, len(batch))
	for k, v := range batch {
		cp[k] = v
	}
	return cp
}
