// Package propagation is the boundary interface to the bandwidth/latency
// replay helper the rest of the system treats as an external
// collaborator. It supplies the round-trip latency estimates
// internal/cachemanager's COVERED implementation needs for its w1/w2
// reward weighting, modeled as three additive uniform-distribution legs
// (client-edge, cross-edge, edge-cloud).
package propagation

import (
	"math/rand"
	"sync"
	"time"

	"github.com/dreamware/edgecache/internal/config"
)

// Hop names one leg of the network path a request can take.
type Hop int

const (
	HopClientEdge Hop = iota
	HopCrossEdge
	HopEdgeCloud
)

// Model replays propagation latency for each hop and keeps an
// exponentially-weighted moving average of observed round trips per hop,
// the input cachemanager.Covered's reward arithmetic needs.
type Model struct {
	mu      sync.Mutex
	legs    map[Hop]config.PropagationLatency
	ewma    map[Hop]time.Duration
	alpha   float64
	rng     *rand.Rand
}

// DefaultEWMAAlpha weights the most recent sample against the running
// average; 0.2 matches a typical smoothing factor for noisy round-trip
// measurements without reacting to every single sample.
const DefaultEWMAAlpha = 0.2

// NewModel builds a Model from a Config's propagation legs. seed makes
// the replay reproducible across test runs.
func NewModel(cfg config.Config, seed int64) *Model {
	legs := map[Hop]config.PropagationLatency{
		HopClientEdge: cfg.ClientEdgeLatency,
		HopCrossEdge:  cfg.CrossEdgeLatency,
		HopEdgeCloud:  cfg.EdgeCloudLatency,
	}
	return &Model{
		legs:  legs,
		ewma:  make(map[Hop]time.Duration),
		alpha: DefaultEWMAAlpha,
		rng:   rand.New(rand.NewSource(seed)),
	}
}

// Sample draws one latency observation for hop from its configured
// uniform distribution and folds it into the hop's running EWMA.
func (m *Model) Sample(hop Hop) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	leg := m.legs[hop]
	span := int64(leg.UpperBoundMicros) - int64(leg.LowerBoundMicros)
	var micros int64
	if span <= 0 {
		micros = int64(leg.AvgMicros)
	} else {
		micros = int64(leg.LowerBoundMicros) + m.rng.Int63n(span+1)
	}
	d := time.Duration(micros) * time.Microsecond

	prev, ok := m.ewma[hop]
	if !ok {
		m.ewma[hop] = d
	} else {
		m.ewma[hop] = time.Duration(m.alpha*float64(d) + (1-m.alpha)*float64(prev))
	}
	return d
}

// EstimateFor returns the current EWMA estimate for hop, falling back to
// the configured average if no sample has been observed yet.
func (m *Model) EstimateFor(hop Hop) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.ewma[hop]; ok {
		return d
	}
	return m.legs[hop].Avg()
}

// LatencyEstimates is the narrow view internal/cachemanager.Covered
// consumes for its w1 (local-reward) and w2 (cooperative-reward)
// weights, so the reward arithmetic itself stays
// inside cachemanager and this package never needs to know about it.
type LatencyEstimates interface {
	EstimateFor(hop Hop) time.Duration
}
