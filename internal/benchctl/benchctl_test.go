package benchctl

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreamware/edgecache/internal/cloudstore"
	"github.com/dreamware/edgecache/internal/config"
	"github.com/dreamware/edgecache/internal/edge"
	"github.com/dreamware/edgecache/internal/localcache"
)

func newTestEdge(t *testing.T) *edge.Wrapper {
	t.Helper()
	cfg, err := config.FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	w, err := edge.New(cfg, edge.Deps{Cloud: cloudstore.NewMemoryStore()})
	if err != nil {
		t.Fatalf("edge.New: %v", err)
	}
	return w
}

func TestRunLifecycleEnforcesPhaseOrder(t *testing.T) {
	ev := NewEvaluator([]*edge.Wrapper{newTestEdge(t)}, zerolog.Nop())
	ctx := context.Background()

	if err := ev.FinishWarmup(ctx); err == nil {
		t.Fatal("expected FinishWarmup to fail before StartRun")
	}
	if _, err := ev.FinishRun(ctx); err == nil {
		t.Fatal("expected FinishRun to fail before StartRun")
	}

	if err := ev.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := ev.StartRun(ctx); err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	if err := ev.StartRun(ctx); err == nil {
		t.Fatal("expected a second StartRun from warmup to fail")
	}
	if err := ev.FinishWarmup(ctx); err != nil {
		t.Fatalf("FinishWarmup: %v", err)
	}

	stats, err := ev.FinishRun(ctx)
	if err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	if stats.Phase != PhaseFinished {
		t.Fatalf("expected finished phase, got %v", stats.Phase)
	}
	if len(stats.Snapshots) != 1 {
		t.Fatalf("expected one snapshot per edge, got %d", len(stats.Snapshots))
	}
}

func TestUpdateRulesSetsPacing(t *testing.T) {
	ev := NewEvaluator(nil, zerolog.Nop())
	if got := ev.Pacing(); got != 0 {
		t.Fatalf("expected unthrottled pacing by default, got %v", got)
	}

	if err := ev.UpdateRules(context.Background(), Rules{OpsPerSecond: 1000}); err != nil {
		t.Fatalf("UpdateRules: %v", err)
	}
	if got := ev.Pacing(); got != time.Millisecond {
		t.Fatalf("expected 1ms pacing at 1000 ops/sec, got %v", got)
	}
}

func TestDumpSnapshotReflectsAdmittedBytes(t *testing.T) {
	w := newTestEdge(t)
	w.Cache.Admit("k", localcache.Value{Bytes: []byte("v")})

	ev := NewEvaluator([]*edge.Wrapper{w}, zerolog.Nop())
	snaps, err := ev.DumpSnapshot(context.Background())
	if err != nil {
		t.Fatalf("DumpSnapshot: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(snaps))
	}
	if snaps[0].CachedBytes <= 0 {
		t.Fatalf("expected nonzero cached bytes after admission, got %d", snaps[0].CachedBytes)
	}
}

func TestSnapshotForFindsEdgeByIdx(t *testing.T) {
	w := newTestEdge(t)
	w.Cache.Admit("k", localcache.Value{Bytes: []byte("v")})

	ev := NewEvaluator([]*edge.Wrapper{w}, zerolog.Nop())

	snap, ok, err := ev.SnapshotFor(context.Background(), w.SelfIdx)
	if err != nil {
		t.Fatalf("SnapshotFor: %v", err)
	}
	if !ok {
		t.Fatal("expected a snapshot for a known edge idx")
	}
	if snap.EdgeIdx != w.SelfIdx {
		t.Fatalf("expected EdgeIdx %d, got %d", w.SelfIdx, snap.EdgeIdx)
	}

	if _, ok, err := ev.SnapshotFor(context.Background(), w.SelfIdx+1); err != nil {
		t.Fatalf("SnapshotFor: %v", err)
	} else if ok {
		t.Fatal("expected no snapshot for an unknown edge idx")
	}
}
