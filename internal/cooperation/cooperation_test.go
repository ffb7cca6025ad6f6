package cooperation

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/mock/gomock"

	"github.com/dreamware/edgecache/internal/transport"
	"github.com/dreamware/edgecache/internal/victimsync"
	"github.com/dreamware/edgecache/internal/wire"
	"github.com/dreamware/edgecache/pkg/coordkey"
)

// fakeDirectory is an in-memory stand-in for *directory.Table.
type fakeDirectory struct {
	mu      sync.Mutex
	infos   map[string]wire.DirectoryInfo
	writing map[string]bool
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{infos: make(map[string]wire.DirectoryInfo), writing: make(map[string]bool)}
}

func (f *fakeDirectory) Lookup(key string) (isBeingWritten, exists bool, info wire.DirectoryInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, exists = f.infos[key]
	return false, exists, info
}

func (f *fakeDirectory) Update(key string, edgeIdx uint32, isAdmit bool) (isBeingWritten bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if isAdmit {
		f.infos[key] = wire.DirectoryInfo(1 << edgeIdx)
	} else {
		delete(f.infos, key)
	}
	return false
}

func (f *fakeDirectory) PreserveIfGlobalUncached(key string, edgeIdx uint32) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.infos[key]; exists {
		return false
	}
	f.infos[key] = wire.DirectoryInfo(1 << edgeIdx)
	return true
}

func (f *fakeDirectory) TryAcquireWriteLock(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writing[key] {
		return false
	}
	f.writing[key] = true
	return true
}

func (f *fakeDirectory) ReleaseWriteLock(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.writing, key)
}

func (f *fakeDirectory) InvalidateAll(key string) {}

// remoteDirectoryTransport routes an Envelope to a remote fakeDirectory as
// if it were the beacon's BeaconServer, decoding/encoding the same
// msgpack DirectoryPayload CooperationWrapper uses.
type remoteDirectoryTransport struct {
	remote *fakeDirectory
}

func (r *remoteDirectoryTransport) Send(ctx context.Context, addr wire.Addr, env *wire.Envelope) (*wire.Envelope, error) {
	var p DirectoryPayload
	if err := msgpack.Unmarshal(env.Payload, &p); err != nil {
		return nil, err
	}

	switch env.Type {
	case wire.MsgDirectoryLookupReq:
		isBeingWritten, exists, info := r.remote.Lookup(p.Key)
		p.IsBeingWritten, p.Exists, p.Info = isBeingWritten, exists, uint32(info)
	case wire.MsgDirectoryUpdateReq:
		p.IsBeingWritten = r.remote.Update(p.Key, p.EdgeIdx, p.IsAdmit)
	case wire.MsgDirectoryAdmitReq:
		p.Reserved = r.remote.PreserveIfGlobalUncached(p.Key, p.EdgeIdx)
	case wire.MsgAcquireWritelockReq:
		p.Granted = r.remote.TryAcquireWriteLock(p.Key)
	case wire.MsgFinishBlockReq:
		r.remote.ReleaseWriteLock(p.Key)
	}
	p.VictimSyncsetBytes = nil

	body, err := msgpack.Marshal(p)
	if err != nil {
		return nil, err
	}
	return &wire.Envelope{Type: env.Type, Header: env.Header, Payload: body}, nil
}

var _ transport.Transport = (*remoteDirectoryTransport)(nil)

func newWrapper(t *testing.T, selfIdx uint32, edgeCount int, remote *fakeDirectory) *CooperationWrapper {
	t.Helper()
	hash := coordkey.FNV1a
	return New(
		selfIdx, edgeCount, hash,
		newFakeDirectory(),
		&remoteDirectoryTransport{remote: remote},
		map[uint32]wire.Addr{0: {}, 1: {}, 2: {}},
		func() bool { return true },
		victimsync.NewVictimTracker(),
		nil,
		zerolog.Nop(),
	)
}

// findRemoteKey returns a key whose beacon edge is not selfIdx, so calls
// against it exercise the remote path rather than the local fast path.
func findRemoteKey(t *testing.T, hash coordkey.HashFn, selfIdx uint32, edgeCount int) string {
	t.Helper()
	for i := 0; i < 1000; i++ {
		key := "k" + string(rune('a'+i%26)) + string(rune('0'+i/26))
		if coordkey.EdgeForKey(hash, []byte(key), edgeCount) != int(selfIdx) {
			return key
		}
	}
	t.Fatal("could not find a remote key")
	return ""
}

func TestIsBeaconLocalFastPath(t *testing.T) {
	remote := newFakeDirectory()
	w := newWrapper(t, 0, 3, remote)

	key := "local-key"
	for !w.IsBeacon(key) {
		key += "x"
	}

	if !w.IsBeacon(key) {
		t.Fatal("expected key to resolve to local edge")
	}

	reserved, err := w.PreserveDirectoryIfGlobalUncached(context.Background(), key, 0)
	if err != nil {
		t.Fatalf("PreserveDirectoryIfGlobalUncached: %v", err)
	}
	if !reserved {
		t.Fatal("expected reservation to succeed on first call")
	}
}

func TestLookupUpdatePreserveRemoteRoundTrip(t *testing.T) {
	remote := newFakeDirectory()
	w := newWrapper(t, 0, 3, remote)
	key := findRemoteKey(t, coordkey.FNV1a, 0, 3)

	_, exists, _, err := w.LookupBeacon(context.Background(), key)
	if err != nil {
		t.Fatalf("LookupBeacon: %v", err)
	}
	if exists {
		t.Fatal("expected key to not yet exist remotely")
	}

	if _, err := w.UpdateBeacon(context.Background(), key, 5, true); err != nil {
		t.Fatalf("UpdateBeacon: %v", err)
	}

	_, exists, info, err := w.LookupBeacon(context.Background(), key)
	if err != nil {
		t.Fatalf("LookupBeacon after update: %v", err)
	}
	if !exists {
		t.Fatal("expected key to exist after UpdateBeacon admitted it")
	}
	if info != wire.DirectoryInfo(1<<5) {
		t.Fatalf("expected info bit for edge 5, got %v", info)
	}
}

func TestPreserveDirectoryIfGlobalUncachedRemote(t *testing.T) {
	remote := newFakeDirectory()
	w := newWrapper(t, 0, 3, remote)
	key := findRemoteKey(t, coordkey.FNV1a, 0, 3)

	reserved, err := w.PreserveDirectoryIfGlobalUncached(context.Background(), key, 1)
	if err != nil {
		t.Fatalf("PreserveDirectoryIfGlobalUncached: %v", err)
	}
	if !reserved {
		t.Fatal("expected first reservation to succeed")
	}

	reserved, err = w.PreserveDirectoryIfGlobalUncached(context.Background(), key, 2)
	if err != nil {
		t.Fatalf("PreserveDirectoryIfGlobalUncached second call: %v", err)
	}
	if reserved {
		t.Fatal("expected second reservation to fail since key is already globally cached")
	}
}

func TestCallReturnsErrFinishWhenNotRunningAndTimingOut(t *testing.T) {
	w := newWrapper(t, 0, 3, newFakeDirectory())
	w.running = func() bool { return false }
	w.transport = alwaysTimeoutTransport{}

	key := findRemoteKey(t, coordkey.FNV1a, 0, 3)
	_, _, _, err := w.LookupBeacon(context.Background(), key)
	if err != ErrFinish {
		t.Fatalf("expected ErrFinish, got %v", err)
	}
}

func TestAcquireWritelockRemoteGrantsOnlyOneWriter(t *testing.T) {
	remote := newFakeDirectory()
	w := newWrapper(t, 0, 3, remote)
	key := findRemoteKey(t, coordkey.FNV1a, 0, 3)

	granted, err := w.AcquireWritelock(context.Background(), key)
	if err != nil {
		t.Fatalf("AcquireWritelock: %v", err)
	}
	if !granted {
		t.Fatal("expected first writer to be granted the lock")
	}

	granted, err = w.AcquireWritelock(context.Background(), key)
	if err != nil {
		t.Fatalf("AcquireWritelock second call: %v", err)
	}
	if granted {
		t.Fatal("expected second concurrent writer to be refused")
	}

	if err := w.FinishBlock(context.Background(), key); err != nil {
		t.Fatalf("FinishBlock: %v", err)
	}

	granted, err = w.AcquireWritelock(context.Background(), key)
	if err != nil {
		t.Fatalf("AcquireWritelock after FinishBlock: %v", err)
	}
	if !granted {
		t.Fatal("expected writer to be granted after prior holder finished")
	}
}

// TestCallRetriesWithSameSeqNumOnTimeout pins the
// "retransmitted with the same sequence number" boundary behavior using a
// MockTransport so the first and second Send's sequence numbers can be
// compared exactly, rather than inferred from a hand-rolled fake's side
// effects.
func TestCallRetriesWithSameSeqNumOnTimeout(t *testing.T) {
	ctrl := gomock.NewController(t)
	mt := transport.NewMockTransport(ctrl)

	w := New(
		0, 3, coordkey.FNV1a,
		newFakeDirectory(),
		mt,
		map[uint32]wire.Addr{0: {}, 1: {}, 2: {}},
		func() bool { return true },
		victimsync.NewVictimTracker(),
		nil,
		zerolog.Nop(),
	)
	key := findRemoteKey(t, coordkey.FNV1a, 0, 3)

	var seqNums []uint64
	respPayload, err := msgpack.Marshal(DirectoryPayload{Key: key})
	if err != nil {
		t.Fatalf("marshal response payload: %v", err)
	}

	mt.EXPECT().
		Send(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, addr wire.Addr, env *wire.Envelope) (*wire.Envelope, error) {
			seqNums = append(seqNums, env.Header.SeqNum)
			return nil, transport.ErrTimeout
		}).
		Times(1)
	mt.EXPECT().
		Send(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, addr wire.Addr, env *wire.Envelope) (*wire.Envelope, error) {
			seqNums = append(seqNums, env.Header.SeqNum)
			return &wire.Envelope{Type: env.Type, Header: env.Header, Payload: respPayload}, nil
		}).
		Times(1)

	if _, _, _, err := w.LookupBeacon(context.Background(), key); err != nil {
		t.Fatalf("LookupBeacon: %v", err)
	}

	if len(seqNums) != 2 {
		t.Fatalf("expected exactly 2 Send calls, got %d", len(seqNums))
	}
	if seqNums[0] != seqNums[1] {
		t.Fatalf("expected retry to reuse seqnum %d, got %d", seqNums[0], seqNums[1])
	}
}

type alwaysTimeoutTransport struct{}

func (alwaysTimeoutTransport) Send(ctx context.Context, addr wire.Addr, env *wire.Envelope) (*wire.Envelope, error) {
	return nil, transport.ErrTimeout
}

var _ transport.Transport = alwaysTimeoutTransport{}
