// Package edge is the composition root: it wires one
// process's LocalCache, DirectoryTable, PerKeyRwLock, CooperationWrapper,
// CacheManager, CacheServer and BeaconServer together from a single
// config.Config, and exposes the HTTP listener a peer edge's Transport
// posts envelopes to. Each process is a single edge identity that is
// its own beacon for some keys and a client of its neighbors' beacons
// for the rest.
package edge

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/dreamware/edgecache/internal/beacon"
	"github.com/dreamware/edgecache/internal/cachemanager"
	"github.com/dreamware/edgecache/internal/cacheserver"
	"github.com/dreamware/edgecache/internal/cloudstore"
	"github.com/dreamware/edgecache/internal/config"
	"github.com/dreamware/edgecache/internal/cooperation"
	"github.com/dreamware/edgecache/internal/directory"
	"github.com/dreamware/edgecache/internal/keylock"
	"github.com/dreamware/edgecache/internal/localcache"
	"github.com/dreamware/edgecache/internal/propagation"
	"github.com/dreamware/edgecache/internal/telemetry"
	"github.com/dreamware/edgecache/internal/transport"
	"github.com/dreamware/edgecache/internal/victimsync"
	"github.com/dreamware/edgecache/internal/wire"
	"github.com/dreamware/edgecache/pkg/coordkey"
)

// Wrapper is one edge's complete runtime: the foreground request engine,
// the beacon side of the directory protocol, and the dependencies both
// share: it holds a cooperative cache and is one vertex of the
// directory ring.
type Wrapper struct {
	SelfIdx   uint32
	edgeCount int
	hash      coordkey.HashFn

	Cache     localcache.Cache
	Directory *directory.Table
	Locks     *keylock.PerKeyRwLock
	Coop      *cooperation.CooperationWrapper
	Manager   cachemanager.Manager
	Server    *cacheserver.Server
	Beacon    *beacon.Server
	Telemetry *telemetry.Telemetry

	Transport transport.Transport
	Addrs     map[uint32]wire.Addr
}

// Deps bundles the collaborators New does not construct itself: the cloud store a miss falls through
// to, the transport a cross-edge send goes out over, and the address
// book mapping every other edge index to its transport address. Running
// reports whether the process's own workload driver is still issuing
// operations; a nil Running is treated as always-true,
// matching a single always-on edge process.
type Deps struct {
	Cloud     cloudstore.Store
	Transport transport.Transport
	Addrs     map[uint32]wire.Addr
	Running   cooperation.Running
	Registry  prometheus.Registerer

	// Neighbors overrides the fixed beacon.StaticNeighbors address book
	// with a liveness-aware one, such as a *NeighborMonitor that has been
	// Start()-ed by the caller. Nil falls back to StaticNeighbors{Addrs}.
	Neighbors beacon.Neighbors
}

// New builds a fully wired Wrapper from cfg. The LocalCache variant is
// selected by cfg.CacheName via localcache.New for the policies that
// share the plain Cache interface, and constructed directly for
// BestGuess and COVERED, whose CacheManager counterparts need the
// concrete type to call their extra methods.
func New(cfg config.Config, deps Deps) (*Wrapper, error) {
	hash := hashFor(cfg.HashAlgorithm)

	table := directory.New(hash, cfg.DirectoryShardCount)
	locks := keylock.New(hash, cfg.DirectoryShardCount)
	tracker := victimsync.NewVictimTracker()

	telem, err := telemetry.New(cfg.EdgeID, nil, deps.Registry)
	if err != nil {
		return nil, fmt.Errorf("edge: building telemetry: %w", err)
	}

	running := deps.Running
	if running == nil {
		running = func() bool { return true }
	}

	w := &Wrapper{
		SelfIdx:   cfg.SelfIdx,
		edgeCount: cfg.EdgeCount,
		hash:      hash,
		Directory: table,
		Locks:     locks,
		Telemetry: telem,
		Transport: deps.Transport,
		Addrs:     deps.Addrs,
	}

	coop := cooperation.New(
		cfg.SelfIdx, cfg.EdgeCount, hash,
		table, deps.Transport, deps.Addrs,
		running, tracker,
		w.currentVictimBatch,
		telem.Log.With().Str("component", "cooperation").Logger(),
	)
	w.Coop = coop

	clock := &localcache.VtimeClock{}
	cache, manager, err := newCacheAndManager(cfg, clock, coop, telem.Log)
	if err != nil {
		return nil, err
	}
	w.Cache = cache
	w.Manager = manager

	w.Server = cacheserver.New(cacheserver.Config{
		SelfIdx:   cfg.SelfIdx,
		Cache:     cache,
		Locks:     locks,
		Coop:      coop,
		Manager:   manager,
		Cloud:     deps.Cloud,
		Transport: deps.Transport,
		Addrs:     deps.Addrs,
		Metrics:   telem.Metrics,
		Log:       telem.Log.With().Str("component", "cacheserver").Logger(),
	})

	neighbors := deps.Neighbors
	if neighbors == nil {
		neighbors = beacon.StaticNeighbors{Addrs: deps.Addrs}
	}
	w.Beacon = beacon.New(cfg.SelfIdx, table, neighbors, deps.Transport,
		telem.Log.With().Str("component", "beacon").Logger())
	coop.SetLocalFinishBlock(w.Beacon.FinishBlock)

	return w, nil
}

func newCacheAndManager(cfg config.Config, clock *localcache.VtimeClock, coop *cooperation.CooperationWrapper, log zerolog.Logger) (localcache.Cache, cachemanager.Manager, error) {
	switch cfg.CacheName {
	case localcache.NameBestGuess:
		bg := localcache.NewBestGuess(clock)
		return bg, cachemanager.NewBestGuess(cfg.SelfIdx, bg, cfg.CapacityBytes, coop, log), nil

	case localcache.NameCovered:
		cv := localcache.NewCovered(clock)
		model := propagation.NewModel(cfg, int64(cfg.SelfIdx)+1)
		return cv, cachemanager.NewCovered(cfg.SelfIdx, cv, cfg.CapacityBytes, coop, model, log), nil

	default:
		cache, err := localcache.New(cfg.CacheName, clock)
		if err != nil {
			return nil, nil, fmt.Errorf("edge: building local cache: %w", err)
		}
		return cache, cachemanager.NewDefault(cfg.SelfIdx, cache, cfg.CapacityBytes, coop, log), nil
	}
}

func hashFor(name string) coordkey.HashFn {
	if name == "fnv1a" {
		return coordkey.FNV1a
	}
	return coordkey.XXHash
}

// currentVictimBatch answers CooperationWrapper's request for this edge's
// complete victim-directory batch: the cache's single
// current eviction candidate, paired with the complete DirectoryInfo set
// AllInfo already tracks for it. A cache with no victim yet (nothing
// evictable) reports an empty batch.
func (w *Wrapper) currentVictimBatch() map[string]wire.VictimDirinfo {
	key, ok := w.Cache.VictimKey()
	if !ok {
		return map[string]wire.VictimDirinfo{}
	}

	infos := w.Directory.AllInfo(key)
	return map[string]wire.VictimDirinfo{
		key: {
			BeaconEdgeIndex: uint32(coordkey.EdgeForKey(w.hash, []byte(key), w.edgeCount)),
			Dirinfos:        wire.DirinfoSet{Complete: true, Items: infos},
		},
	}
}

// HandleEnvelope dispatches an inbound cross-edge wire.Envelope to either
// the cache server or the beacon, by message-type family.
func (w *Wrapper) HandleEnvelope(ctx context.Context, env *wire.Envelope) (*wire.Envelope, error) {
	switch env.Type {
	case wire.MsgDirectoryLookupReq, wire.MsgDirectoryUpdateReq, wire.MsgDirectoryAdmitReq,
		wire.MsgAcquireWritelockReq, wire.MsgFinishBlockReq:
		return w.Beacon.HandleEnvelope(ctx, env)

	case wire.MsgRedirectedGetReq, wire.MsgCoveredPlacementNotifyReq, wire.MsgInvalidationReq:
		return w.Server.HandleEnvelope(ctx, env)

	default:
		return nil, fmt.Errorf("edge: unhandled envelope type %v", env.Type)
	}
}
