package localcache

import "sync"

// BestGuess is a classical LRU per edge whose admission is driven
// externally: the CacheManager places a freshly
// fetched value at whichever edge — self or a neighbor — currently has the
// globally coldest LRU tail, approximated by comparing victim virtual
// times. Neighbor vtimes are known only through SetNeighborVictimVtime;
// no cross-edge message handler in this module calls it.
type BestGuess struct {
	*LRU

	mu        sync.Mutex
	neighbors map[uint32]int64 // edge index -> last known victim vtime
}

// NewBestGuess creates an empty BestGuess cache.
func NewBestGuess(clock *VtimeClock) *BestGuess {
	return &BestGuess{LRU: NewLRU(clock), neighbors: make(map[uint32]int64)}
}

// NeedIndependentAdmit is always false for BestGuess: placement is
// triggered externally by the CacheManager.
func (b *BestGuess) NeedIndependentAdmit(string) bool { return false }

// SetNeighborVictimVtime records the most recently observed victim vtime
// for a neighbor edge. Messages received from neighbors do not update it;
// only direct calls do.
func (b *BestGuess) SetNeighborVictimVtime(edgeIdx uint32, vtime int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.neighbors[edgeIdx] = vtime
}

// ColdestEdge compares selfIdx's own victim vtime against every known
// neighbor's, returning the edge index with the smallest (coldest) victim
// vtime and whether that edge is self. Ties prefer self to avoid needless network placement traffic. If self has nothing
// cached yet, self's vtime is treated as 0 (coldest possible) so a cold
// empty edge wins immediately.
func (b *BestGuess) ColdestEdge(selfIdx uint32) (edgeIdx uint32, isSelf bool) {
	selfVtime, ok := b.VictimVtime()
	if !ok {
		selfVtime = 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	best := selfIdx
	bestVtime := selfVtime
	bestIsSelf := true
	for idx, vt := range b.neighbors {
		if vt < bestVtime {
			best, bestVtime, bestIsSelf = idx, vt, false
		}
	}
	return best, bestIsSelf
}
