package cachemanager

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/dreamware/edgecache/internal/cooperation"
	"github.com/dreamware/edgecache/internal/localcache"
)

// BestGuess implements Manager for the BestGuess policy:
// admission is never decided locally. On a miss the sender reserves an
// invalid dirinfo and defers to whichever edge — self or a neighbor — has
// the globally coldest LRU tail, approximated by the victim vtimes its
// local BestGuess cache has observed.
type BestGuess struct {
	selfIdx       uint32
	cache         *localcache.BestGuess
	capacityBytes int64
	coop          *cooperation.CooperationWrapper
	log           zerolog.Logger
}

var _ Manager = (*BestGuess)(nil)

// NewBestGuess builds the BestGuess cache manager for one edge.
func NewBestGuess(selfIdx uint32, cache *localcache.BestGuess, capacityBytes int64, coop *cooperation.CooperationWrapper, log zerolog.Logger) *BestGuess {
	return &BestGuess{selfIdx: selfIdx, cache: cache, capacityBytes: capacityBytes, coop: coop, log: log}
}

// AfterFetch never admits independently for BestGuess; placement is
// always triggered externally via ChoosePlacementTarget/AdmitAtTarget.
func (b *BestGuess) AfterFetch(ctx context.Context, key string, value localcache.Value) (bool, error) {
	if tooLargeToAdmit(value, key, b.capacityBytes) {
		return false, nil
	}
	if _, err := b.coop.PreserveDirectoryIfGlobalUncached(ctx, key, b.selfIdx); err != nil {
		return false, err
	}
	return false, nil
}

// ChoosePlacementTarget returns the edge with the coldest known LRU
// tail: self if nothing colder is known, otherwise the coldest
// neighbor. BestGuess always places somewhere.
func (b *BestGuess) ChoosePlacementTarget(ctx context.Context, key string) (uint32, bool) {
	edgeIdx, _ := b.cache.ColdestEdge(b.selfIdx)
	return edgeIdx, true
}

// AdmitAtTarget stores the value, advances this edge's victim vtime by
// admitting (so concurrent placements don't collide),
// validates the directory entry, and trims to capacity.
func (b *BestGuess) AdmitAtTarget(ctx context.Context, key string, value localcache.Value) error {
	if tooLargeToAdmit(value, key, b.capacityBytes) {
		return nil
	}
	b.cache.Admit(key, value)
	if _, err := b.coop.UpdateBeacon(ctx, key, b.selfIdx, true); err != nil {
		return err
	}
	trimToCapacity(ctx, b.cache, b.capacityBytes, b.selfIdx, b.coop, b.log)
	return nil
}
