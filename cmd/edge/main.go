// Command edge runs one edge process of the cooperative cache: a
// LocalCache, a directory beacon for the keys consistent hashing routes
// to it, and the HTTP listener peers post cross-edge envelopes to.
// Each process manages one cache and is itself one vertex of the
// directory ring.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreamware/edgecache/internal/cloudstore"
	"github.com/dreamware/edgecache/internal/config"
	"github.com/dreamware/edgecache/internal/edge"
	"github.com/dreamware/edgecache/internal/transport"
	"github.com/dreamware/edgecache/internal/wire"
)

// logFatal is a variable so tests can intercept a fatal exit.
var logFatal = log.Fatalf

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		logFatal("config: %v", err)
		return
	}

	listen := getenv("EDGE_LISTEN", ":9090")
	crossEdgePath := getenv("EDGE_CROSSEDGE_PATH", "/cross-edge")

	addrs, err := parsePeers(os.Getenv("EDGE_PEERS"))
	if err != nil {
		logFatal("EDGE_PEERS: %v", err)
		return
	}

	neighborLog := zerolog.New(os.Stderr).With().Timestamp().Str("component", "neighbor-health").Logger()
	neighbors := edge.NewNeighborMonitor(addrs, 5*time.Second, neighborLog)
	neighbors.Start(context.Background())
	defer neighbors.Stop()

	w, err := edge.New(cfg, edge.Deps{
		Cloud:     cloudstore.NewMemoryStore(),
		Transport: transport.NewHTTPTransport(5*time.Second, crossEdgePath),
		Addrs:     addrs,
		Neighbors: neighbors,
	})
	if err != nil {
		logFatal("edge: %v", err)
		return
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc(crossEdgePath, func(rw http.ResponseWriter, r *http.Request) {
		handleCrossEdge(w, rw, r)
	})

	s := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		w.Telemetry.Log.Info().Str("listen", listen).Uint32("edge_idx", cfg.SelfIdx).Msg("edge listening")
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logFatal("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		w.Telemetry.Log.Warn().Err(err).Msg("shutdown error")
	}
}

// handleCrossEdge decodes a peer's wire.Envelope POST body, dispatches it
// through the edge's HandleEnvelope mux, and writes the encoded response
// back, mirroring transport.HTTPTransport's own framing on the other end
// of the wire.
func handleCrossEdge(w *edge.Wrapper, rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusBadRequest)
		return
	}
	env, err := wire.DecodeEnvelope(body)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := w.HandleEnvelope(r.Context(), env)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}

	out, err := wire.EncodeEnvelope(resp)
	if err != nil {
		http.Error(rw, err.Error(), http.StatusInternalServerError)
		return
	}
	rw.Header().Set("Content-Type", "application/octet-stream")
	rw.Write(out)
}

// parsePeers decodes EDGE_PEERS, a comma-separated "idx=host:port" list,
// into the address book CooperationWrapper and BeaconServer need. An
// empty string yields an empty book (single-node topologies).
func parsePeers(s string) (map[uint32]wire.Addr, error) {
	out := map[uint32]wire.Addr{}
	if s == "" {
		return out, nil
	}
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed entry %q, want idx=host:port", entry)
		}
		idx, err := strconv.ParseUint(parts[0], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("malformed edge index in %q: %w", entry, err)
		}
		addr, err := parseAddr(parts[1])
		if err != nil {
			return nil, fmt.Errorf("malformed address in %q: %w", entry, err)
		}
		out[uint32(idx)] = addr
	}
	return out, nil
}

func parseAddr(s string) (wire.Addr, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return wire.Addr{}, err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return wire.Addr{}, fmt.Errorf("invalid IP %q", host)
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return wire.Addr{}, fmt.Errorf("only IPv4 addresses are supported, got %q", host)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return wire.Addr{}, err
	}
	var addr wire.Addr
	copy(addr.IP[:], ip4)
	addr.Port = uint16(port)
	return addr, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
