// Package cacheserver implements the edge-local request engine: the
// foreground get/put/del path, the redirection processor
// that services a peer edge's cross-edge get, and the async placement
// notification that follows a cloud or cooperative fetch.
package cacheserver

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/singleflight"

	"github.com/dreamware/edgecache/internal/cachemanager"
	"github.com/dreamware/edgecache/internal/cloudstore"
	"github.com/dreamware/edgecache/internal/cooperation"
	"github.com/dreamware/edgecache/internal/keylock"
	"github.com/dreamware/edgecache/internal/localcache"
	"github.com/dreamware/edgecache/internal/telemetry"
	"github.com/dreamware/edgecache/internal/transport"
	"github.com/dreamware/edgecache/internal/wire"
)

// DefaultWriteLockPollInterval and DefaultWriteLockTimeout bound the
// spin-with-timeout wait for AcquireWritelock.
const (
	DefaultWriteLockPollInterval = 5 * time.Millisecond
	DefaultWriteLockTimeout      = 2 * time.Second
)

// ErrWriteLockTimeout is returned when a put/del could not acquire the
// beacon's write guard within the configured timeout.
var ErrWriteLockTimeout = errors.New("cacheserver: timed out acquiring write lock")

// Server is the edge-local cache server: it owns no
// network listener itself (internal/edge wires HandleEnvelope to one),
// only the synchronous foreground logic and the redirection responder.
type Server struct {
	selfIdx uint32
	cache   localcache.Cache
	locks   *keylock.PerKeyRwLock
	coop    *cooperation.CooperationWrapper
	manager cachemanager.Manager
	cloud   cloudstore.Store

	transport transport.Transport
	addrs     map[uint32]wire.Addr

	writeLockPollInterval time.Duration
	writeLockTimeout      time.Duration

	log     zerolog.Logger
	metrics *telemetry.Metrics

	// cloudFetch collapses concurrent global misses on the same key into
	// one cloud round trip, so a thundering herd of simultaneous
	// first-requesters for a just-expired or never-cached key doesn't
	// each pay the origin's latency independently.
	cloudFetch singleflight.Group
}

// Config bundles Server's dependencies, all owned elsewhere by EdgeWrapper.
type Config struct {
	SelfIdx   uint32
	Cache     localcache.Cache
	Locks     *keylock.PerKeyRwLock
	Coop      *cooperation.CooperationWrapper
	Manager   cachemanager.Manager
	Cloud     cloudstore.Store
	Transport transport.Transport
	Addrs     map[uint32]wire.Addr
	Metrics   *telemetry.Metrics
	Log       zerolog.Logger
}

// New builds a Server from cfg, applying default write-lock timing.
func New(cfg Config) *Server {
	return &Server{
		selfIdx:               cfg.SelfIdx,
		cache:                 cfg.Cache,
		locks:                 cfg.Locks,
		coop:                  cfg.Coop,
		manager:               cfg.Manager,
		cloud:                 cfg.Cloud,
		transport:             cfg.Transport,
		addrs:                 cfg.Addrs,
		writeLockPollInterval: DefaultWriteLockPollInterval,
		writeLockTimeout:      DefaultWriteLockTimeout,
		metrics:               cfg.Metrics,
		log:                   cfg.Log,
	}
}

// redirectedGetPayload is the msgpack-wrapped body of a cross-edge
// RedirectedGet request/response, carried inside wire.Envelope.Payload the
// same way internal/cooperation wraps its directory calls.
type redirectedGetPayload struct {
	Key     string
	Hitflag wire.Hitflag
	Value   []byte
}

// placementNotifyPayload is the msgpack-wrapped body of an async
// placement delivery.
type placementNotifyPayload struct {
	Key   string
	Value []byte
}

// Get implements the foreground get path: local cache, then a
// directory-routed redirected get, then the cloud.
func (s *Server) Get(ctx context.Context, key string) ([]byte, wire.Hitflag, error) {
	reqID := uuid.NewString()
	s.log.Trace().Str("req_id", reqID).Str("key", key).Msg("get")
	s.locks.AcquireShared([]byte(key))

	if value, ok := s.cache.Get(key); ok {
		s.locks.ReleaseShared([]byte(key))
		s.countHit(wire.HitflagLocalHit)
		return value.Bytes, wire.HitflagLocalHit, nil
	}

	isBeingWritten, exists, info, lookupErr := s.coop.LookupBeacon(ctx, key)

	var (
		value    localcache.Value
		hitflag  wire.Hitflag
		fromEdge bool
	)

	if lookupErr == nil && !isBeingWritten && exists {
		v, hf, ok := s.redirectedGetRemote(ctx, uint32(info), key)
		if ok && hf == wire.HitflagCooperativeHit {
			value, hitflag, fromEdge = v, hf, true
		}
	}
	s.locks.ReleaseShared([]byte(key))

	if fromEdge {
		s.countHit(wire.HitflagCooperativeHit)
		go s.triggerPlacement(context.Background(), key, value)
		return value.Bytes, hitflag, nil
	}

	recAny, err, _ := s.cloudFetch.Do(key, func() (interface{}, error) {
		return s.cloud.Get(key)
	})
	if err != nil {
		s.countHit(wire.HitflagGlobalMiss)
		return nil, wire.HitflagGlobalMiss, err
	}
	rec := recAny.(cloudstore.Record)
	cloudValue := localcache.Value{Bytes: rec.Value, Cost: rec.Cost}
	s.countHit(wire.HitflagGlobalMiss)
	go s.triggerPlacement(context.Background(), key, cloudValue)
	return rec.Value, wire.HitflagGlobalMiss, nil
}

func (s *Server) countHit(hf wire.Hitflag) {
	if s.metrics == nil {
		return
	}
	switch hf {
	case wire.HitflagLocalHit:
		s.metrics.Hits.Inc()
	case wire.HitflagCooperativeHit:
		s.metrics.CooperativeHits.Inc()
	default:
		s.metrics.Misses.Inc()
	}
}

// redirectedGetRemote sends a RedirectedGet to edgeIdx, or serves it
// in-process if edgeIdx is this edge (single-node topologies, and test
// fixtures that never wire a transport).
func (s *Server) redirectedGetRemote(ctx context.Context, edgeIdx uint32, key string) (localcache.Value, wire.Hitflag, bool) {
	if edgeIdx == s.selfIdx {
		hf, bytes := s.RedirectedGet(ctx, key)
		if hf != wire.HitflagCooperativeHit {
			return localcache.Value{}, hf, false
		}
		return localcache.Value{Bytes: bytes}, hf, true
	}

	addr, ok := s.addrs[edgeIdx]
	if !ok || s.transport == nil {
		return localcache.Value{}, wire.HitflagGlobalMiss, false
	}

	body, err := msgpack.Marshal(redirectedGetPayload{Key: key})
	if err != nil {
		return localcache.Value{}, wire.HitflagGlobalMiss, false
	}
	env := &wire.Envelope{Type: wire.MsgRedirectedGetReq, SourceNodeIndex: s.selfIdx, Payload: body}
	resp, err := s.transport.Send(ctx, addr, env)
	if err != nil {
		s.log.Warn().Str("key", key).Uint32("edge", edgeIdx).Err(err).Msg("redirected get failed")
		return localcache.Value{}, wire.HitflagGlobalMiss, false
	}

	var p redirectedGetPayload
	if err := msgpack.Unmarshal(resp.Payload, &p); err != nil {
		return localcache.Value{}, wire.HitflagGlobalMiss, false
	}
	if p.Hitflag != wire.HitflagCooperativeHit {
		return localcache.Value{}, p.Hitflag, false
	}
	return localcache.Value{Bytes: p.Value}, p.Hitflag, true
}

// RedirectedGet implements the redirection processor: it
// services a peer edge's cross-edge get against this edge's local cache
// only, never reading the cloud and never mutating the directory.
func (s *Server) RedirectedGet(ctx context.Context, key string) (wire.Hitflag, []byte) {
	s.locks.AcquireShared([]byte(key))
	defer s.locks.ReleaseShared([]byte(key))

	value, ok := s.cache.Get(key)
	if !ok {
		return wire.HitflagGlobalMiss, nil
	}
	if value.IsDeleted {
		return wire.HitflagCooperativeInvalid, nil
	}
	return wire.HitflagCooperativeHit, value.Bytes
}

// Put implements the foreground write path for a value replacement.
func (s *Server) Put(ctx context.Context, key string, value []byte) error {
	return s.write(ctx, key, localcache.Value{Bytes: value})
}

// Delete implements the foreground write path for a tombstone write.
func (s *Server) Delete(ctx context.Context, key string) error {
	return s.write(ctx, key, localcache.Value{IsDeleted: true})
}

func (s *Server) write(ctx context.Context, key string, value localcache.Value) error {
	s.log.Trace().Str("req_id", uuid.NewString()).Str("key", key).Bool("delete", value.IsDeleted).Msg("write")
	s.locks.AcquireExclusive([]byte(key))
	defer s.locks.ReleaseExclusive([]byte(key))

	granted, err := s.awaitWriteLock(ctx, key)
	if err != nil {
		return err
	}
	if !granted {
		return ErrWriteLockTimeout
	}
	defer func() {
		if err := s.coop.FinishBlock(context.Background(), key); err != nil {
			s.log.Warn().Str("key", key).Err(err).Msg("failed to release write lock")
		}
	}()

	if value.IsDeleted {
		if err := s.cloud.Delete(key); err != nil {
			return err
		}
	} else if err := s.cloud.Put(key, value.Bytes); err != nil {
		return err
	}

	s.cache.Evict(key)
	if _, err := s.coop.UpdateBeacon(ctx, key, s.selfIdx, false); err != nil {
		s.log.Warn().Str("key", key).Err(err).Msg("failed to clear directory entry on write")
	}

	return nil
}

func (s *Server) awaitWriteLock(ctx context.Context, key string) (bool, error) {
	deadline := time.Now().Add(s.writeLockTimeout)
	for {
		granted, err := s.coop.AcquireWritelock(ctx, key)
		if err != nil {
			return false, err
		}
		if granted {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(s.writeLockPollInterval):
		}
	}
}

// triggerPlacement runs the async admission decision after a cloud or
// cooperative fetch. Policies that always admit
// independently settle here; BestGuess and a COVERED rejection defer to
// ChoosePlacementTarget.
func (s *Server) triggerPlacement(ctx context.Context, key string, value localcache.Value) {
	admitted, err := s.manager.AfterFetch(ctx, key, value)
	if err != nil {
		s.log.Warn().Str("key", key).Err(err).Msg("placement AfterFetch failed")
		return
	}
	if admitted {
		return
	}

	edgeIdx, shouldPlace := s.manager.ChoosePlacementTarget(ctx, key)
	if !shouldPlace {
		return
	}
	if edgeIdx == s.selfIdx {
		if err := s.manager.AdmitAtTarget(ctx, key, value); err != nil {
			s.log.Warn().Str("key", key).Err(err).Msg("placement AdmitAtTarget failed")
		}
		return
	}

	s.sendPlacementNotify(ctx, edgeIdx, key, value)
}

func (s *Server) sendPlacementNotify(ctx context.Context, edgeIdx uint32, key string, value localcache.Value) {
	addr, ok := s.addrs[edgeIdx]
	if !ok || s.transport == nil {
		s.log.Warn().Uint32("edge", edgeIdx).Msg("no address known for placement target")
		return
	}
	body, err := msgpack.Marshal(placementNotifyPayload{Key: key, Value: value.Bytes})
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to encode placement notify")
		return
	}
	env := &wire.Envelope{Type: wire.MsgCoveredPlacementNotifyReq, SourceNodeIndex: s.selfIdx, Payload: body}
	if _, err := s.transport.Send(ctx, addr, env); err != nil {
		s.log.Warn().Str("key", key).Uint32("edge", edgeIdx).Err(err).Msg("placement notify failed")
	}
}

// HandlePlacementNotify is the inbound handler for a placement delivery:
// this edge admits the value through its CacheManager and trims to
// capacity.
func (s *Server) HandlePlacementNotify(ctx context.Context, key string, value []byte) error {
	s.locks.AcquireExclusive([]byte(key))
	defer s.locks.ReleaseExclusive([]byte(key))
	return s.manager.AdmitAtTarget(ctx, key, localcache.Value{Bytes: value})
}

// Invalidate implements the edge's side of the beacon-initiated
// invalidation fan-out: evict the local copy so a
// subsequent get falls through to the directory/cloud path.
func (s *Server) Invalidate(ctx context.Context, key string) error {
	s.locks.AcquireExclusive([]byte(key))
	defer s.locks.ReleaseExclusive([]byte(key))
	s.cache.Evict(key)
	return nil
}

// HandleEnvelope dispatches an inbound cross-edge Envelope to the
// matching Server operation, encoding its reply the same way. Wired by
// internal/edge's network listener at the transport's cross-edge path.
func (s *Server) HandleEnvelope(ctx context.Context, env *wire.Envelope) (*wire.Envelope, error) {
	switch env.Type {
	case wire.MsgRedirectedGetReq:
		var req redirectedGetPayload
		if err := msgpack.Unmarshal(env.Payload, &req); err != nil {
			return nil, err
		}
		hf, value := s.RedirectedGet(ctx, req.Key)
		body, err := msgpack.Marshal(redirectedGetPayload{Key: req.Key, Hitflag: hf, Value: value})
		if err != nil {
			return nil, err
		}
		return &wire.Envelope{Type: wire.MsgRedirectedGetRsp, Header: env.Header, Payload: body}, nil

	case wire.MsgCoveredPlacementNotifyReq:
		var req placementNotifyPayload
		if err := msgpack.Unmarshal(env.Payload, &req); err != nil {
			return nil, err
		}
		if err := s.HandlePlacementNotify(ctx, req.Key, req.Value); err != nil {
			return nil, err
		}
		return &wire.Envelope{Type: wire.MsgCoveredPlacementNotifyRsp, Header: env.Header}, nil

	case wire.MsgInvalidationReq:
		var req redirectedGetPayload
		if err := msgpack.Unmarshal(env.Payload, &req); err != nil {
			return nil, err
		}
		if err := s.Invalidate(ctx, req.Key); err != nil {
			return nil, err
		}
		return &wire.Envelope{Type: wire.MsgInvalidationRsp, Header: env.Header}, nil

	default:
		return nil, errors.New("cacheserver: unhandled envelope type")
	}
}
