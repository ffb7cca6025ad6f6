package edge

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreamware/edgecache/internal/wire"
)

func addrOf(t *testing.T, srv *httptest.Server) wire.Addr {
	t.Helper()
	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("SplitHostPort: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	ip := net.ParseIP(host).To4()
	if ip == nil {
		ip = net.IPv4(127, 0, 0, 1).To4()
	}
	return wire.Addr{IP: [4]byte{ip[0], ip[1], ip[2], ip[3]}, Port: uint16(port)}
}

func TestNeighborMonitorAddrStartsHealthyBeforeAnyCheck(t *testing.T) {
	addrs := map[uint32]wire.Addr{0: {Port: 1}}
	m := NewNeighborMonitor(addrs, time.Hour, zerolog.Nop())

	addr, ok := m.Addr(0)
	if !ok || addr != addrs[0] {
		t.Fatalf("expected a healthy default before any check, got %v %v", addr, ok)
	}
	if _, ok := m.Addr(99); ok {
		t.Fatal("expected unknown edge index to be absent")
	}
}

func TestNeighborMonitorMarksDeadPeerUnhealthyAfterThreshold(t *testing.T) {
	addrs := map[uint32]wire.Addr{0: {Port: 1}}
	m := NewNeighborMonitor(addrs, time.Hour, zerolog.Nop())
	m.checkFn = func(wire.Addr) error { return context.DeadlineExceeded }

	for i := 0; i < m.maxFailures; i++ {
		m.checkAll()
	}

	if _, ok := m.Addr(0); ok {
		t.Fatal("expected peer to be withheld after exceeding maxFailures")
	}

	m.checkFn = func(wire.Addr) error { return nil }
	m.checkAll()
	if _, ok := m.Addr(0); !ok {
		t.Fatal("expected peer to recover once checks succeed again")
	}
}

func TestNeighborMonitorDefaultCheckAgainstRealServer(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer up.Close()

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	addrs := map[uint32]wire.Addr{0: addrOf(t, up), 1: addrOf(t, down)}
	m := NewNeighborMonitor(addrs, time.Hour, zerolog.Nop())

	for i := 0; i < m.maxFailures; i++ {
		m.checkAll()
	}

	if _, ok := m.Addr(0); !ok {
		t.Fatal("expected the healthy server to remain reachable")
	}
	if _, ok := m.Addr(1); ok {
		t.Fatal("expected the unhealthy server to be withheld")
	}
}

func TestNeighborMonitorStartStopDoesNotDeadlock(t *testing.T) {
	addrs := map[uint32]wire.Addr{0: {Port: 1}}
	m := NewNeighborMonitor(addrs, time.Millisecond, zerolog.Nop())
	m.checkFn = func(wire.Addr) error { return nil }

	m.Start(context.Background())
	time.Sleep(5 * time.Millisecond)
	m.Stop()
}

func TestNeighborMonitorEdgeIndices(t *testing.T) {
	addrs := map[uint32]wire.Addr{0: {Port: 1}, 1: {Port: 2}}
	m := NewNeighborMonitor(addrs, time.Hour, zerolog.Nop())

	got := m.EdgeIndices()
	if len(got) != 2 {
		t.Fatalf("expected 2 indices, got %d", len(got))
	}
}
