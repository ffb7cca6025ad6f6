// Package benchctl is the benchmark control plane: the six verbs an
// external evaluator drives a run through (initialize, startrun,
// finishrun, finishWarmup, updateRules, dumpSnapshot). No real
// evaluator is implemented; cmd/bench is the minimal driver that
// sequences a fixed workload through one or more internal/edge.Wrapper
// instances for demonstration and testing.
package benchctl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"slices"

	"github.com/dreamware/edgecache/internal/edge"
)

// Phase is the run state machine a ControlPlane moves through: idle ->
// warming up -> running -> finished.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseWarmup
	PhaseRunning
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseWarmup:
		return "warmup"
	case PhaseRunning:
		return "running"
	case PhaseFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Rules is the subset of an evaluator's pacing directives this
// implementation can act on without a real evaluator: a target request
// rate, stored by UpdateRules and exposed through Pacing. A zero value
// means unthrottled. cmd/bench's driver loop does not read it.
type Rules struct {
	OpsPerSecond int
}

// EdgeSnapshot is one edge's state at the moment of a DumpSnapshot
// call: an evaluator polling per-edge counters mid-run.
type EdgeSnapshot struct {
	EdgeIdx         uint32
	CachedBytes     int64
	Hits            float64
	Misses          float64
	CooperativeHits float64
}

// RunStats summarizes a finished run: the final phase, its wall-clock
// duration, and a snapshot of every edge at finish time.
type RunStats struct {
	Phase     Phase
	Duration  time.Duration
	Snapshots []EdgeSnapshot
}

// ControlPlane is the evaluator-facing interface.
type ControlPlane interface {
	Initialize(ctx context.Context) error
	StartRun(ctx context.Context) error
	FinishWarmup(ctx context.Context) error
	FinishRun(ctx context.Context) (RunStats, error)
	UpdateRules(ctx context.Context, rules Rules) error
	DumpSnapshot(ctx context.Context) ([]EdgeSnapshot, error)
}

// Evaluator is the reference ControlPlane: it sequences a fixed set of
// already-wired edges through the phase state machine, enforcing its
// ordering (no skipping straight from idle to running, no finishing
// twice).
type Evaluator struct {
	edges []*edge.Wrapper
	log   zerolog.Logger

	mu        sync.Mutex
	phase     Phase
	rules     Rules
	startedAt time.Time
}

var _ ControlPlane = (*Evaluator)(nil)

// NewEvaluator builds an Evaluator driving the given edges.
func NewEvaluator(edges []*edge.Wrapper, log zerolog.Logger) *Evaluator {
	return &Evaluator{edges: edges, log: log}
}

// Initialize resets the evaluator to idle, the only phase StartRun may
// be called from.
func (e *Evaluator) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.phase = PhaseIdle
	e.rules = Rules{}
	e.log.Info().Msg("benchmark initialized")
	return nil
}

// StartRun transitions idle -> warmup and records the run's start
// time. Edge counters are not reset, so snapshots include warmup traffic.
func (e *Evaluator) StartRun(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != PhaseIdle {
		return fmt.Errorf("benchctl: StartRun called from phase %s, want idle", e.phase)
	}
	e.phase = PhaseWarmup
	e.startedAt = time.Now()
	e.log.Info().Msg("warmup started")
	return nil
}

// FinishWarmup transitions warmup -> running. Only the phase changes;
// counts accumulated during warmup are kept.
func (e *Evaluator) FinishWarmup(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != PhaseWarmup {
		return fmt.Errorf("benchctl: FinishWarmup called from phase %s, want warmup", e.phase)
	}
	e.phase = PhaseRunning
	e.log.Info().Msg("warmup finished, run started")
	return nil
}

// UpdateRules applies new pacing rules mid-run. Dynamic admission
// rules are out of scope here; that concern lives in
// internal/cachemanager.Covered's own reward gate.
func (e *Evaluator) UpdateRules(ctx context.Context, rules Rules) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = rules
	e.log.Info().Int("ops_per_second", rules.OpsPerSecond).Msg("rules updated")
	return nil
}

// Pacing returns the minimum delay between successive operations a
// driver should honor under the current rules, or 0 if unthrottled.
func (e *Evaluator) Pacing() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rules.OpsPerSecond <= 0 {
		return 0
	}
	return time.Second / time.Duration(e.rules.OpsPerSecond)
}

// FinishRun transitions running -> finished and returns the final
// snapshot.
func (e *Evaluator) FinishRun(ctx context.Context) (RunStats, error) {
	e.mu.Lock()
	phase := e.phase
	e.mu.Unlock()
	if phase != PhaseRunning {
		return RunStats{}, fmt.Errorf("benchctl: FinishRun called from phase %s, want running", phase)
	}

	snapshots, err := e.DumpSnapshot(ctx)
	if err != nil {
		return RunStats{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.phase = PhaseFinished
	stats := RunStats{
		Phase:     e.phase,
		Duration:  time.Since(e.startedAt),
		Snapshots: snapshots,
	}
	e.log.Info().Dur("duration", stats.Duration).Msg("run finished")
	return stats, nil
}

// DumpSnapshot reads every edge's current cache size and hit/miss
// counters without requiring the run to have finished: a standalone
// mid-run poll, not only a finishrun side effect.
func (e *Evaluator) DumpSnapshot(ctx context.Context) ([]EdgeSnapshot, error) {
	out := make([]EdgeSnapshot, 0, len(e.edges))
	for _, w := range e.edges {
		snap := EdgeSnapshot{EdgeIdx: w.SelfIdx, CachedBytes: w.Cache.SizeBytes()}
		if m := w.Telemetry.Metrics; m != nil {
			snap.Hits = testutil.ToFloat64(m.Hits)
			snap.Misses = testutil.ToFloat64(m.Misses)
			snap.CooperativeHits = testutil.ToFloat64(m.CooperativeHits)
		}
		out = append(out, snap)
	}
	return out, nil
}

// SnapshotFor returns the current snapshot for a single edge
// identified by its SelfIdx.
func (e *Evaluator) SnapshotFor(ctx context.Context, edgeIdx uint32) (EdgeSnapshot, bool, error) {
	snapshots, err := e.DumpSnapshot(ctx)
	if err != nil {
		return EdgeSnapshot{}, false, err
	}
	idx := slices.IndexFunc(snapshots, func(s EdgeSnapshot) bool { return s.EdgeIdx == edgeIdx })
	if idx < 0 {
		return EdgeSnapshot{}, false, nil
	}
	return snapshots[idx], true, nil
}
