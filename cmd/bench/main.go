// Command bench is a minimal ControlPlane-driven evaluator standing in
// for a full external benchmark harness: it wires EDGESCALE_EDGECNT
// in-process edges together over an in-memory transport, sequences
// them through internal/benchctl's warmup/run phases, and prints the
// resulting per-edge snapshot.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dreamware/edgecache/internal/benchctl"
	"github.com/dreamware/edgecache/internal/cloudstore"
	"github.com/dreamware/edgecache/internal/config"
	"github.com/dreamware/edgecache/internal/edge"
	"github.com/dreamware/edgecache/internal/wire"
	"github.com/dreamware/edgecache/internal/workload"
)

// logFatal is a variable so tests can intercept a fatal exit.
var logFatal = log.Fatalf

// localTransport dispatches a Send directly to the in-process
// edge.Wrapper addressed by port, standing in for a real network when
// every edge in a run lives in one process.
type localTransport struct {
	mu    sync.RWMutex
	edges map[uint16]*edge.Wrapper
}

func (t *localTransport) Send(ctx context.Context, addr wire.Addr, env *wire.Envelope) (*wire.Envelope, error) {
	t.mu.RLock()
	w, ok := t.edges[addr.Port]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("bench: no edge registered at port %d", addr.Port)
	}
	return w.HandleEnvelope(ctx, env)
}

func (t *localTransport) register(idx uint32, w *edge.Wrapper) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.edges[uint16(idx)] = w
}

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		logFatal("config: %v", err)
		return
	}

	logger := zerolog.New(os.Stderr).With().Timestamp().Str("component", "bench").Logger()

	cloud := cloudstore.NewMemoryStore()
	transport := &localTransport{edges: make(map[uint16]*edge.Wrapper, cfg.EdgeCount)}

	addrs := make(map[uint32]wire.Addr, cfg.EdgeCount)
	for i := 0; i < cfg.EdgeCount; i++ {
		addrs[uint32(i)] = wire.Addr{Port: uint16(i)}
	}

	edges := make([]*edge.Wrapper, cfg.EdgeCount)
	for i := 0; i < cfg.EdgeCount; i++ {
		edgeCfg := cfg
		edgeCfg.SelfIdx = uint32(i)
		w, err := edge.New(edgeCfg, edge.Deps{Cloud: cloud, Transport: transport, Addrs: addrs})
		if err != nil {
			logFatal("edge.New(%d): %v", i, err)
			return
		}
		edges[i] = w
		transport.register(uint32(i), w)
	}

	ev := benchctl.NewEvaluator(edges, logger)
	ctx := context.Background()

	if err := ev.Initialize(ctx); err != nil {
		logFatal("Initialize: %v", err)
		return
	}
	if err := ev.StartRun(ctx); err != nil {
		logFatal("StartRun: %v", err)
		return
	}

	runClients(ctx, cfg, edges, 0)

	if err := ev.FinishWarmup(ctx); err != nil {
		logFatal("FinishWarmup: %v", err)
		return
	}

	runClients(ctx, cfg, edges, 1)

	stats, err := ev.FinishRun(ctx)
	if err != nil {
		logFatal("FinishRun: %v", err)
		return
	}

	fmt.Printf("phase=%s duration=%s\n", stats.Phase, stats.Duration)
	for _, snap := range stats.Snapshots {
		fmt.Printf("edge=%d cached_bytes=%d hits=%.0f misses=%.0f cooperative_hits=%.0f\n",
			snap.EdgeIdx, snap.CachedBytes, snap.Hits, snap.Misses, snap.CooperativeHits)
	}
}

// runClients drives cfg.ClientCount workload.Drivers, each against the
// edge its client index maps to round-robin, for seed*1000+clientIdx so
// warmup and measured traffic never replay identical key sequences.
func runClients(ctx context.Context, cfg config.Config, edges []*edge.Wrapper, seed int64) {
	var wg sync.WaitGroup
	for c := 0; c < cfg.ClientCount; c++ {
		wg.Add(1)
		go func(clientIdx int) {
			defer wg.Done()
			driver, err := workload.NewDriver(cfg, seed*1000+int64(clientIdx))
			if err != nil {
				return
			}
			target := edges[clientIdx%len(edges)]
			for {
				op, ok := driver.Next()
				if !ok {
					return
				}
				applyOp(ctx, target, op)
			}
		}(c)
	}
	wg.Wait()
}

func applyOp(ctx context.Context, w *edge.Wrapper, op workload.Op) {
	switch op.Method {
	case workload.OpGet:
		_, _, _ = w.Server.Get(ctx, op.Key)
	case workload.OpPut:
		_ = w.Server.Put(ctx, op.Key, op.Value)
	case workload.OpDelete:
		_ = w.Server.Delete(ctx, op.Key)
	}
}
