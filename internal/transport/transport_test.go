package transport

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

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
		// httptest binds to 127.0.0.1 by default.
		ip = net.IPv4(127, 0, 0, 1).To4()
	}
	return wire.Addr{IP: [4]byte{ip[0], ip[1], ip[2], ip[3]}, Port: uint16(port)}
}

func TestHTTPTransportSendRoundTrip(t *testing.T) {
	reply := &wire.Envelope{Type: wire.MsgRedirectedGetRsp, Header: wire.CommonHeader{SeqNum: 9}}
	replyBytes, err := wire.EncodeEnvelope(reply)
	if err != nil {
		t.Fatalf("encode reply: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if _, err := wire.DecodeEnvelope(body); err != nil {
			t.Errorf("server failed to decode request envelope: %v", err)
		}
		w.Write(replyBytes)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(time.Second, "/cross-edge")
	req := &wire.Envelope{Type: wire.MsgRedirectedGetReq, Header: wire.CommonHeader{SeqNum: 1}}

	got, err := tr.Send(context.Background(), addrOf(t, srv), req)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.Type != wire.MsgRedirectedGetRsp || got.Header.SeqNum != 9 {
		t.Fatalf("unexpected reply: %+v", got)
	}
}

func TestHTTPTransportSendTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(5*time.Millisecond, "/cross-edge")
	req := &wire.Envelope{Type: wire.MsgRedirectedGetReq}

	_, err := tr.Send(context.Background(), addrOf(t, srv), req)
	if err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestHTTPTransportSendHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(time.Second, "/cross-edge")
	req := &wire.Envelope{Type: wire.MsgRedirectedGetReq}

	if _, err := tr.Send(context.Background(), addrOf(t, srv), req); err == nil {
		t.Fatal("expected an error for a 500 response")
	}
}
