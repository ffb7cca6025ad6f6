// Package cachemanager implements the placement/eviction policy glue:
// the decision of whether and where a value fetched from
// the cloud or a cooperative peer gets admitted, and the capacity trim
// loop that follows every admission.
package cachemanager

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/dreamware/edgecache/internal/cooperation"
	"github.com/dreamware/edgecache/internal/localcache"
)

// Manager is the per-edge cooperative cache manager, owned by EdgeWrapper
// and consulted by CacheServer both for admission after a fetch and for
// choosing a placement target for methods that place cooperatively
// rather than locally.
type Manager interface {
	// AfterFetch is invoked once a value for key has arrived from the
	// cloud or a peer edge. For policies that always admit locally
	// (LRU family, and COVERED when its reward gate says yes) this
	// admits the value at the current edge and trims to capacity,
	// returning admitted=true. Policies that always place cooperatively
	// (BestGuess, and COVERED when the gate says no) return
	// admitted=false without touching local state; the caller must then
	// consult ChoosePlacementTarget.
	AfterFetch(ctx context.Context, key string, value localcache.Value) (admitted bool, err error)

	// ChoosePlacementTarget picks which edge should hold key's value
	// under the active policy's placement rule. Called by CacheServer's
	// placement step (triggerPlacement) at the edge that fetched the value.
	// shouldPlace is false when no candidate has a positive benefit
	// (COVERED only; other policies always place somewhere).
	ChoosePlacementTarget(ctx context.Context, key string) (edgeIdx uint32, shouldPlace bool)

	// AdmitAtTarget is invoked on the edge ChoosePlacementTarget named
	// to actually store the value, validate its own directory entry,
	// and trim to capacity.
	AdmitAtTarget(ctx context.Context, key string, value localcache.Value) error
}

// tooLargeToAdmit reports whether value alone, including its per-item
// bookkeeping overhead, would not fit within capacityBytes. This is
// non-fatal, but the object must never be admitted anywhere and no
// directory update may be performed for it, so every
// AfterFetch/AdmitAtTarget checks it before touching the local cache
// or the beacon.
func tooLargeToAdmit(value localcache.Value, key string, capacityBytes int64) bool {
	return value.SizeBytes(len(key)) >= capacityBytes
}

// notifyAdmission tells the beacon this edge now caches key: without
// it a later lookup at
// another edge could never route a redirected get here. Failures are
// logged, not propagated; the copy still serves local hits and the
// directory catches up on the next admission.
func notifyAdmission(ctx context.Context, coop *cooperation.CooperationWrapper, selfIdx uint32, key string, log zerolog.Logger) {
	if coop == nil {
		return
	}
	if _, err := coop.UpdateBeacon(ctx, key, selfIdx, true); err != nil {
		log.Warn().Str("key", key).Err(err).Msg("failed to notify beacon of admission")
	}
}

// notifyEviction tells the beacon this edge no longer caches key, so
// the eviction also removes the edge's presence from the directory.
// Failures are logged, not propagated: a stale
// directory entry self-heals on the next lookup miss rather than
// blocking the eviction that freed capacity.
func notifyEviction(ctx context.Context, coop *cooperation.CooperationWrapper, selfIdx uint32, key string, log zerolog.Logger) {
	if coop == nil {
		return
	}
	if _, err := coop.UpdateBeacon(ctx, key, selfIdx, false); err != nil {
		log.Warn().Str("key", key).Err(err).Msg("failed to notify beacon of eviction")
	}
}

// trimToCapacity repeatedly evicts cache's current victim until
// SizeBytes() is within capacityBytes, notifying the beacon of each
// eviction. Coarse-grained caches (Segcache-style) are trimmed in one
// bulk call instead, honoring the cache's fine-grained-management
// distinction.
func trimToCapacity(ctx context.Context, cache localcache.Cache, capacityBytes int64, selfIdx uint32, coop *cooperation.CooperationWrapper, log zerolog.Logger) {
	if cache.SizeBytes() <= capacityBytes {
		return
	}

	if !cache.HasFineGrainedManagement() {
		if bulk, ok := cache.(localcache.BulkEvictor); ok {
			required := cache.SizeBytes() - capacityBytes
			for _, item := range bulk.EvictBulk(required) {
				notifyEviction(ctx, coop, selfIdx, item.Key, log)
			}
			return
		}
	}

	for cache.SizeBytes() > capacityBytes {
		victim, ok := cache.VictimKey()
		if !ok {
			return
		}
		if _, evicted := cache.Evict(victim); !evicted {
			return
		}
		notifyEviction(ctx, coop, selfIdx, victim, log)
	}
}
