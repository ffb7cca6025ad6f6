package beacon

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/dreamware/edgecache/internal/cooperation"
	"github.com/dreamware/edgecache/internal/directory"
	"github.com/dreamware/edgecache/internal/transport"
	"github.com/dreamware/edgecache/internal/wire"
	"github.com/dreamware/edgecache/pkg/coordkey"
)

// recordingTransport captures every Envelope sent to it and always
// replies with an empty envelope of the same type. sent is signaled once
// per Send so a test can wait on the invalidation fan-out's sends
// instead of polling.
type recordingTransport struct {
	mu   sync.Mutex
	got  []*wire.Envelope
	sent chan struct{}
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{sent: make(chan struct{}, 16)}
}

func (r *recordingTransport) Send(ctx context.Context, addr wire.Addr, env *wire.Envelope) (*wire.Envelope, error) {
	r.mu.Lock()
	r.got = append(r.got, env)
	r.mu.Unlock()
	r.sent <- struct{}{}
	return &wire.Envelope{Type: env.Type}, nil
}

func (r *recordingTransport) snapshot() []*wire.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*wire.Envelope, len(r.got))
	copy(out, r.got)
	return out
}

var _ transport.Transport = (*recordingTransport)(nil)

func newTestServer(t *testing.T, tr transport.Transport, neighbors Neighbors) *Server {
	t.Helper()
	table := directory.New(coordkey.FNV1a, 4)
	return New(0, table, neighbors, tr, zerolog.Nop())
}

func call(t *testing.T, s *Server, msgType wire.MessageType, req cooperation.DirectoryPayload) cooperation.DirectoryPayload {
	t.Helper()
	body, err := msgpack.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := s.HandleEnvelope(context.Background(), &wire.Envelope{Type: msgType, Payload: body})
	if err != nil {
		t.Fatalf("HandleEnvelope(%v): %v", msgType, err)
	}
	var out cooperation.DirectoryPayload
	if err := msgpack.Unmarshal(resp.Payload, &out); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return out
}

func TestLookupUpdateRoundTrip(t *testing.T) {
	s := newTestServer(t, nil, StaticNeighbors{})

	resp := call(t, s, wire.MsgDirectoryLookupReq, cooperation.DirectoryPayload{Key: "k"})
	if resp.Exists {
		t.Fatal("expected key to not yet exist")
	}

	resp = call(t, s, wire.MsgDirectoryUpdateReq, cooperation.DirectoryPayload{Key: "k", EdgeIdx: 3, IsAdmit: true})
	if resp.IsBeingWritten {
		t.Fatal("unexpected write lock reported")
	}

	resp = call(t, s, wire.MsgDirectoryLookupReq, cooperation.DirectoryPayload{Key: "k"})
	if !resp.Exists {
		t.Fatal("expected key to exist after admit")
	}
	if resp.Info != 3 {
		t.Fatalf("expected info=3, got %d", resp.Info)
	}
}

func TestAcquireWritelockGrantsOnlyOnceAndInvalidates(t *testing.T) {
	s := newTestServer(t, nil, StaticNeighbors{})
	call(t, s, wire.MsgDirectoryUpdateReq, cooperation.DirectoryPayload{Key: "k", EdgeIdx: 1, IsAdmit: true})

	resp := call(t, s, wire.MsgAcquireWritelockReq, cooperation.DirectoryPayload{Key: "k"})
	if !resp.Granted {
		t.Fatal("expected first writer granted")
	}

	resp = call(t, s, wire.MsgAcquireWritelockReq, cooperation.DirectoryPayload{Key: "k"})
	if resp.Granted {
		t.Fatal("expected second concurrent writer refused")
	}

	lookup := call(t, s, wire.MsgDirectoryLookupReq, cooperation.DirectoryPayload{Key: "k"})
	if lookup.Exists {
		t.Fatal("expected AcquireWritelock to invalidate the directory entry")
	}
}

func TestFinishBlockFansOutInvalidationToRecordedEdges(t *testing.T) {
	tr := newRecordingTransport()
	neighbors := StaticNeighbors{Addrs: map[uint32]wire.Addr{1: {Port: 1}, 2: {Port: 2}}}
	s := newTestServer(t, tr, neighbors)

	call(t, s, wire.MsgDirectoryUpdateReq, cooperation.DirectoryPayload{Key: "k", EdgeIdx: 1, IsAdmit: true})
	call(t, s, wire.MsgDirectoryUpdateReq, cooperation.DirectoryPayload{Key: "k", EdgeIdx: 2, IsAdmit: true})

	call(t, s, wire.MsgAcquireWritelockReq, cooperation.DirectoryPayload{Key: "k"})
	call(t, s, wire.MsgFinishBlockReq, cooperation.DirectoryPayload{Key: "k"})

	for i := 0; i < 2; i++ {
		select {
		case <-tr.sent:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for invalidation fan-out")
		}
	}

	got := tr.snapshot()
	if len(got) != 2 {
		t.Fatalf("expected 2 invalidation fan-outs, got %d", len(got))
	}
	for _, env := range got {
		if env.Type != wire.MsgInvalidationReq {
			t.Fatalf("expected InvalidationReq, got %v", env.Type)
		}
	}

	deadline := time.Now().Add(time.Second)
	for len(s.table.AllInfo("k")) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("expected acknowledged edges removed from directory, still have %v", s.table.AllInfo("k"))
		}
		time.Sleep(time.Millisecond)
	}
}
