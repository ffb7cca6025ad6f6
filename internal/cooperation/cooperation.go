// Package cooperation implements CooperationWrapper: the
// only component that issues beacon-bound directory requests. It decides
// locally whether the current edge owns a key's directory entry; when it
// doesn't, it turns the call into a request/response against the owning
// edge's BeaconServer, piggybacking this edge's victim syncset on every
// such round trip.
package cooperation

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/dreamware/edgecache/internal/directory"
	"github.com/dreamware/edgecache/internal/transport"
	"github.com/dreamware/edgecache/internal/victimsync"
	"github.com/dreamware/edgecache/internal/wire"
	"github.com/dreamware/edgecache/pkg/coordkey"
)

// ErrFinish is returned instead of retrying once the caller's Running
// func reports false, so the operation can unwind.
var ErrFinish = errors.New("cooperation: finish (no longer running)")

// Running reports whether the local edge is still accepting work; it
// governs the retry-vs-finish decision on every timed-out beacon call.
type Running func() bool

// Directory is the subset of *directory.Table CooperationWrapper calls
// when the local edge is the beacon for a key.
type Directory interface {
	Lookup(key string) (isBeingWritten, exists bool, info wire.DirectoryInfo)
	Update(key string, edgeIdx uint32, isAdmit bool) (isBeingWritten bool)
	PreserveIfGlobalUncached(key string, edgeIdx uint32) bool
	TryAcquireWriteLock(key string) bool
	ReleaseWriteLock(key string)
	InvalidateAll(key string)
}

var _ Directory = (*directory.Table)(nil)

// CooperationWrapper is constructed once per edge.
type CooperationWrapper struct {
	selfIdx   uint32
	edgeCount int
	hash      coordkey.HashFn

	table     Directory
	transport transport.Transport
	addrs     map[uint32]wire.Addr
	running   Running

	tracker  *victimsync.VictimTracker
	monitors map[uint32]*victimsync.VictimsyncMonitor

	localVictimBatch func() map[string]wire.VictimDirinfo

	// localFinishBlock is wired in by the composition root to the local
	// beacon.Server.FinishBlock once both it and this CooperationWrapper
	// exist, so a writer that is its own beacon for key runs exactly the
	// same release-lock-then-fan-out-invalidation sequence a remote
	// writer's FinishBlock request would trigger. Nil
	// until SetLocalFinishBlock is called, in which case FinishBlock
	// falls back to releasing the lock with no fan-out.
	localFinishBlock func(ctx context.Context, key string) error

	seqCounter atomic.Uint64

	log zerolog.Logger
}

// nextSeqNum allocates the sequence number for one logical beacon call.
// Every retry of that same call reuses the value returned here; a fresh call to
// call gets a new one.
func (c *CooperationWrapper) nextSeqNum() uint64 {
	return c.seqCounter.Add(1)
}

// SetLocalFinishBlock wires fn as the local-beacon implementation of
// FinishBlock, called whenever IsBeacon(key) is true. The composition root
// calls this once the edge's beacon.Server has been constructed, since
// beacon.Server (which owns the invalidation fan-out) is itself built from
// this CooperationWrapper's table and cannot be constructed first.
func (c *CooperationWrapper) SetLocalFinishBlock(fn func(ctx context.Context, key string) error) {
	c.localFinishBlock = fn
}

// New builds a CooperationWrapper for selfIdx among edgeCount total edges.
// addrs maps every other edge index to its network address. localBatch is
// called to obtain this edge's current complete victim batch whenever a
// cross-edge request or response needs to piggyback one;
// edge.New passes the local cache's victim batch. If localBatch is nil,
// an empty batch is piggybacked.
func New(
	selfIdx uint32, edgeCount int, hash coordkey.HashFn,
	table Directory, tr transport.Transport, addrs map[uint32]wire.Addr,
	running Running, tracker *victimsync.VictimTracker,
	localBatch func() map[string]wire.VictimDirinfo,
	log zerolog.Logger,
) *CooperationWrapper {
	return &CooperationWrapper{
		selfIdx:          selfIdx,
		edgeCount:        edgeCount,
		hash:             hash,
		table:            table,
		transport:        tr,
		addrs:            addrs,
		running:          running,
		tracker:          tracker,
		monitors:         make(map[uint32]*victimsync.VictimsyncMonitor),
		localVictimBatch: localBatch,
		log:              log,
	}
}

// IsBeacon reports whether the local edge owns key's directory entry.
func (c *CooperationWrapper) IsBeacon(key string) bool {
	return coordkey.EdgeForKey(c.hash, []byte(key), c.edgeCount) == int(c.selfIdx)
}

func (c *CooperationWrapper) beaconFor(key string) uint32 {
	return uint32(coordkey.EdgeForKey(c.hash, []byte(key), c.edgeCount))
}

func (c *CooperationWrapper) monitorFor(neighbor uint32) *victimsync.VictimsyncMonitor {
	m, ok := c.monitors[neighbor]
	if !ok {
		m = victimsync.NewVictimsyncMonitor()
		c.monitors[neighbor] = m
	}
	return m
}

func (c *CooperationWrapper) currentVictimBatch() map[string]wire.VictimDirinfo {
	if c.localVictimBatch == nil {
		return map[string]wire.VictimDirinfo{}
	}
	return c.localVictimBatch()
}

// DirectoryPayload is the msgpack-wrapped body of a directory request or
// response. The embedded VictimSyncsetBytes preserve the
// bit-level DirinfoSet/VictimSyncset framing untouched; msgpack only
// frames the small scalar fields around it.
type DirectoryPayload struct {
	Key                string
	EdgeIdx            uint32
	IsAdmit            bool
	IsBeingWritten     bool
	Exists             bool
	Info               uint32
	Reserved           bool
	Granted            bool
	VictimSyncsetBytes []byte
}

func (c *CooperationWrapper) encodePayload(p DirectoryPayload) ([]byte, error) {
	return msgpack.Marshal(p)
}

func (c *CooperationWrapper) decodePayload(data []byte) (DirectoryPayload, error) {
	var p DirectoryPayload
	err := msgpack.Unmarshal(data, &p)
	return p, err
}

// call sends msgType/payload to the beacon for key, retrying on
// transport.ErrTimeout while c.running() holds, and returns ErrFinish
// otherwise.
func (c *CooperationWrapper) call(ctx context.Context, key string, msgType wire.MessageType, payload DirectoryPayload) (DirectoryPayload, error) {
	beacon := c.beaconFor(key)
	addr, ok := c.addrs[beacon]
	if !ok {
		return DirectoryPayload{}, fmt.Errorf("cooperation: no address known for beacon edge %d", beacon)
	}

	payload.VictimSyncsetBytes = nil
	if msg := c.monitorFor(beacon).Prepare(c.currentVictimBatch()); true {
		b, err := msg.Encode()
		if err != nil {
			return DirectoryPayload{}, err
		}
		payload.VictimSyncsetBytes = b
	}

	body, err := c.encodePayload(payload)
	if err != nil {
		return DirectoryPayload{}, err
	}

	seqNum := c.nextSeqNum()
	for {
		env := &wire.Envelope{
			Type:            msgType,
			SourceNodeIndex: c.selfIdx,
			Header:          wire.CommonHeader{SeqNum: seqNum},
			Payload:         body,
		}

		respEnv, err := c.transport.Send(ctx, addr, env)
		if err != nil {
			if errors.Is(err, transport.ErrTimeout) {
				if c.running != nil && !c.running() {
					return DirectoryPayload{}, ErrFinish
				}
				c.log.Warn().Str("key", key).Uint64("seq", seqNum).Msg("beacon call timed out, retrying")
				continue
			}
			return DirectoryPayload{}, err
		}

		resp, err := c.decodePayload(respEnv.Payload)
		if err != nil {
			return DirectoryPayload{}, err
		}
		c.applyInboundVictimSyncset(beacon, resp.VictimSyncsetBytes)
		return resp, nil
	}
}

func (c *CooperationWrapper) applyInboundVictimSyncset(neighbor uint32, data []byte) {
	if len(data) == 0 {
		return
	}
	msg, err := wire.DecodeVictimSyncset(data)
	if err != nil {
		c.log.Warn().Uint32("neighbor", neighbor).Err(err).Msg("failed to decode victim syncset piggyback")
		return
	}
	if batch, complete := c.monitorFor(neighbor).Apply(msg); complete {
		c.tracker.Install(neighbor, batch)
	}
}

// LookupBeacon resolves key's directory entry at its beacon: locally
// when this edge owns it, otherwise via a directory lookup round trip.
func (c *CooperationWrapper) LookupBeacon(ctx context.Context, key string) (isBeingWritten, exists bool, info wire.DirectoryInfo, err error) {
	if c.IsBeacon(key) {
		isBeingWritten, exists, info = c.table.Lookup(key)
		return isBeingWritten, exists, info, nil
	}

	resp, err := c.call(ctx, key, wire.MsgDirectoryLookupReq, DirectoryPayload{Key: key})
	if err != nil {
		return false, false, 0, err
	}
	return resp.IsBeingWritten, resp.Exists, wire.DirectoryInfo(resp.Info), nil
}

// UpdateBeacon records an admit or evict for key at its beacon,
// returning whether the key is currently locked for a write.
func (c *CooperationWrapper) UpdateBeacon(ctx context.Context, key string, edgeIdx uint32, isAdmit bool) (isBeingWritten bool, err error) {
	if c.IsBeacon(key) {
		return c.table.Update(key, edgeIdx, isAdmit), nil
	}

	resp, err := c.call(ctx, key, wire.MsgDirectoryUpdateReq, DirectoryPayload{Key: key, EdgeIdx: edgeIdx, IsAdmit: isAdmit})
	if err != nil {
		return false, err
	}
	return resp.IsBeingWritten, nil
}

// PreserveDirectoryIfGlobalUncached atomically reserves an invalid
// dirinfo for key at its beacon iff the directory is currently empty.
func (c *CooperationWrapper) PreserveDirectoryIfGlobalUncached(ctx context.Context, key string, edgeIdx uint32) (reserved bool, err error) {
	if c.IsBeacon(key) {
		return c.table.PreserveIfGlobalUncached(key, edgeIdx), nil
	}

	resp, err := c.call(ctx, key, wire.MsgDirectoryAdmitReq, DirectoryPayload{Key: key, EdgeIdx: edgeIdx})
	if err != nil {
		return false, err
	}
	return resp.Reserved, nil
}

// AcquireWritelock requests the MSI-style exclusive write guard for key
//: at most one concurrent writer per key is granted,
// serializing all other directory changes for K until FinishBlock.
func (c *CooperationWrapper) AcquireWritelock(ctx context.Context, key string) (granted bool, err error) {
	if c.IsBeacon(key) {
		granted = c.table.TryAcquireWriteLock(key)
		if granted {
			c.table.InvalidateAll(key)
		}
		return granted, nil
	}

	resp, err := c.call(ctx, key, wire.MsgAcquireWritelockReq, DirectoryPayload{Key: key})
	if err != nil {
		return false, err
	}
	return resp.Granted, nil
}

// FinishBlock releases the write guard acquired by AcquireWritelock and
// waits for the resulting invalidation fan-out to reach every edge
// recorded for key, whether this edge is the beacon for
// key or not: the two paths must observe the write as complete at exactly
// the same point, a cooperative copy elsewhere must never be allowed to
// outlive FinishBlock returning.
func (c *CooperationWrapper) FinishBlock(ctx context.Context, key string) error {
	if c.IsBeacon(key) {
		if c.localFinishBlock != nil {
			return c.localFinishBlock(ctx, key)
		}
		c.table.ReleaseWriteLock(key)
		return nil
	}

	_, err := c.call(ctx, key, wire.MsgFinishBlockReq, DirectoryPayload{Key: key})
	return err
}
