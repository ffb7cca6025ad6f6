// Package beacon implements the beacon server: the request handlers an
// edge runs when it owns a key's directory entry, serving the remote
// side of every internal/cooperation.CooperationWrapper call plus the
// invalidation fan-out that follows a write. Each
// edge runs one instance, authoritative only for the keys consistent
// hashing routes to it.
package beacon

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/edgecache/internal/cooperation"
	"github.com/dreamware/edgecache/internal/directory"
	"github.com/dreamware/edgecache/internal/transport"
	"github.com/dreamware/edgecache/internal/wire"
)

// Neighbors is the subset of edge-membership information BeaconServer
// needs to fan invalidations out: every other edge's transport address.
type Neighbors interface {
	Addr(edgeIdx uint32) (wire.Addr, bool)
	EdgeIndices() []uint32
}

// StaticNeighbors is the simplest Neighbors implementation, wired in
// internal/edge from a fixed address table at startup.
type StaticNeighbors struct {
	Addrs map[uint32]wire.Addr
}

func (n StaticNeighbors) Addr(edgeIdx uint32) (wire.Addr, bool) {
	a, ok := n.Addrs[edgeIdx]
	return a, ok
}

func (n StaticNeighbors) EdgeIndices() []uint32 {
	out := make([]uint32, 0, len(n.Addrs))
	for idx := range n.Addrs {
		out = append(out, idx)
	}
	return out
}

var _ Neighbors = StaticNeighbors{}

// Server is a BeaconServer: the directory table for the keys this edge
// owns, plus the cross-edge fan-out used when a write completes.
type Server struct {
	selfIdx   uint32
	table     *directory.Table
	neighbors Neighbors
	transport transport.Transport
	log       zerolog.Logger
}

// New builds a Server backed by table, fanning invalidations out to
// neighbors over tr.
func New(selfIdx uint32, table *directory.Table, neighbors Neighbors, tr transport.Transport, log zerolog.Logger) *Server {
	return &Server{selfIdx: selfIdx, table: table, neighbors: neighbors, transport: tr, log: log}
}

// HandleEnvelope dispatches an inbound directory/write-lock/invalidation
// request to the matching Table operation, mirroring
// CooperationWrapper's local-beacon fast path exactly so a remote caller
// observes identical semantics to a local one.
func (s *Server) HandleEnvelope(ctx context.Context, env *wire.Envelope) (*wire.Envelope, error) {
	var req cooperation.DirectoryPayload
	if err := msgpack.Unmarshal(env.Payload, &req); err != nil {
		return nil, err
	}

	resp := cooperation.DirectoryPayload{Key: req.Key}

	switch env.Type {
	case wire.MsgDirectoryLookupReq:
		isBeingWritten, exists, info := s.table.Lookup(req.Key)
		resp.IsBeingWritten, resp.Exists, resp.Info = isBeingWritten, exists, uint32(info)

	case wire.MsgDirectoryUpdateReq:
		resp.IsBeingWritten = s.table.Update(req.Key, req.EdgeIdx, req.IsAdmit)

	case wire.MsgDirectoryAdmitReq:
		resp.Reserved = s.table.PreserveIfGlobalUncached(req.Key, req.EdgeIdx)

	case wire.MsgAcquireWritelockReq:
		resp.Granted = s.table.TryAcquireWriteLock(req.Key)
		if resp.Granted {
			s.table.InvalidateAll(req.Key)
		}

	case wire.MsgFinishBlockReq:
		if err := s.FinishBlock(ctx, req.Key); err != nil {
			s.log.Warn().Str("key", req.Key).Err(err).Msg("invalidation fan-out did not reach every recorded edge")
		}

	default:
		return nil, errUnhandled(env.Type)
	}

	body, err := msgpack.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return &wire.Envelope{Type: responseTypeFor(env.Type), Header: env.Header, Payload: body}, nil
}

func responseTypeFor(reqType wire.MessageType) wire.MessageType {
	switch reqType {
	case wire.MsgDirectoryLookupReq:
		return wire.MsgDirectoryLookupRsp
	case wire.MsgDirectoryUpdateReq:
		return wire.MsgDirectoryUpdateRsp
	case wire.MsgDirectoryAdmitReq:
		return wire.MsgDirectoryAdmitRsp
	case wire.MsgAcquireWritelockReq:
		return wire.MsgAcquireWritelockRsp
	case wire.MsgFinishBlockReq:
		return wire.MsgFinishBlockRsp
	default:
		return wire.MsgUnknown
	}
}

// invalidationPayload is the msgpack-wrapped body of the fan-out request
// a beacon sends to every edge AllInfo names after a write completes.
type invalidationPayload struct {
	Key string
}

// FinishBlock releases the write guard held on key and fans the
// invalidation request out to every edge recorded in key's directory
// entry, blocking until every send has been attempted. It is called both from the
// remote MsgFinishBlockReq handler below and directly by a writer that is
// itself the beacon for key, so the two paths can never diverge.
func (s *Server) FinishBlock(ctx context.Context, key string) error {
	s.table.ReleaseWriteLock(key)
	return s.fanOutInvalidation(ctx, key)
}

// fanOutInvalidation drives the post-write invalidation: every
// edge recorded (valid or not) in the directory entry for key is told to
// drop its local copy, since the writer's FinishBlock means the cloud
// value has changed underneath them. It sends to every recorded edge
// concurrently but does not return until all of them have replied or
// failed, so the caller can treat completion of this call as completion
// of the write.
func (s *Server) fanOutInvalidation(ctx context.Context, key string) error {
	infos := s.table.AllInfo(key)
	if len(infos) == 0 {
		return nil
	}

	body, err := msgpack.Marshal(invalidationPayload{Key: key})
	if err != nil {
		return fmt.Errorf("beacon: encoding invalidation fan-out: %w", err)
	}

	var eg errgroup.Group
	for _, info := range infos {
		edgeIdx := uint32(info)
		if edgeIdx == s.selfIdx {
			continue
		}
		addr, ok := s.neighbors.Addr(edgeIdx)
		if !ok || s.transport == nil {
			continue
		}

		eg.Go(func() error {
			env := &wire.Envelope{Type: wire.MsgInvalidationReq, SourceNodeIndex: s.selfIdx, Payload: body}
			if _, err := s.transport.Send(ctx, addr, env); err != nil {
				s.log.Warn().Str("key", key).Uint32("edge", edgeIdx).Err(err).Msg("invalidation fan-out failed")
				return fmt.Errorf("beacon: invalidating edge %d: %w", edgeIdx, err)
			}
			// The edge acknowledged dropping its copy; its membership
			// must not linger in the entry, or a key nobody caches keeps
			// consuming directory capacity forever.
			s.table.Update(key, edgeIdx, false)
			return nil
		})
	}
	// errgroup.Group.Wait blocks for every send and reports the first
	// error among them.
	return eg.Wait()
}

type unhandledEnvelopeError wire.MessageType

func (e unhandledEnvelopeError) Error() string {
	return "beacon: unhandled envelope type " + wire.MessageType(e).String()
}

func errUnhandled(t wire.MessageType) error { return unhandledEnvelopeError(t) }
