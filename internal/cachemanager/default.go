package cachemanager

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/dreamware/edgecache/internal/cooperation"
	"github.com/dreamware/edgecache/internal/localcache"
)

// Default implements Manager for the policies that always admit
// independently: LRU, LRU-K, GDSize, GDSF, LFU-DA. It never
// places cooperatively, so ChoosePlacementTarget always names the current
// edge.
type Default struct {
	selfIdx       uint32
	cache         localcache.Cache
	capacityBytes int64
	coop          *cooperation.CooperationWrapper
	log           zerolog.Logger
}

var _ Manager = (*Default)(nil)

// NewDefault builds the LRU-family cache manager for one edge.
func NewDefault(selfIdx uint32, cache localcache.Cache, capacityBytes int64, coop *cooperation.CooperationWrapper, log zerolog.Logger) *Default {
	return &Default{selfIdx: selfIdx, cache: cache, capacityBytes: capacityBytes, coop: coop, log: log}
}

func (d *Default) AfterFetch(ctx context.Context, key string, value localcache.Value) (bool, error) {
	if d.cache.IsCached(key) {
		return false, nil
	}
	if tooLargeToAdmit(value, key, d.capacityBytes) {
		return false, nil
	}
	d.cache.Admit(key, value)
	notifyAdmission(ctx, d.coop, d.selfIdx, key, d.log)
	trimToCapacity(ctx, d.cache, d.capacityBytes, d.selfIdx, d.coop, d.log)
	return true, nil
}

// ChoosePlacementTarget is trivial for the LRU family: admission never
// leaves the edge that fetched the value.
func (d *Default) ChoosePlacementTarget(ctx context.Context, key string) (uint32, bool) {
	return d.selfIdx, true
}

// AdmitAtTarget is equivalent to AfterFetch for this policy, since the
// "target" is always the current edge.
func (d *Default) AdmitAtTarget(ctx context.Context, key string, value localcache.Value) error {
	_, err := d.AfterFetch(ctx, key, value)
	return err
}
