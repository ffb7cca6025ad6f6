package cachemanager

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreamware/edgecache/internal/cooperation"
	"github.com/dreamware/edgecache/internal/localcache"
	"github.com/dreamware/edgecache/internal/propagation"
)

// Covered implements Manager for the COVERED research method: admission is gated by a local/cooperative reward trade-off
// rather than a fixed rule. For each candidate edge e it weighs local
// reward L_e, cooperative reward C_e, and the eviction cost X_e of the
// victim that placing at e would displace; the edge with the largest
// positive benefit (L_e + C_e) - X_e wins.
type Covered struct {
	selfIdx       uint32
	cache         *localcache.Covered
	capacityBytes int64
	coop          *cooperation.CooperationWrapper
	estimates     propagation.LatencyEstimates
	log           zerolog.Logger

	mu                 sync.Mutex
	neighborPopularity map[uint32]map[string]float64
}

var _ Manager = (*Covered)(nil)

// NewCovered builds the COVERED cache manager for one edge and wires its
// reward decision into cache's admission gate.
func NewCovered(selfIdx uint32, cache *localcache.Covered, capacityBytes int64, coop *cooperation.CooperationWrapper, estimates propagation.LatencyEstimates, log zerolog.Logger) *Covered {
	c := &Covered{
		selfIdx:            selfIdx,
		cache:              cache,
		capacityBytes:      capacityBytes,
		coop:               coop,
		estimates:          estimates,
		log:                log,
		neighborPopularity: make(map[uint32]map[string]float64),
	}
	cache.SetAdmitDecider(func(key string) bool {
		edgeIdx, shouldPlace := c.ChoosePlacementTarget(context.Background(), key)
		return shouldPlace && edgeIdx == c.selfIdx
	})
	return c
}

// RecordNeighborPopularity updates this edge's view of key's cooperative
// popularity at a neighbor, as observed via a piggybacked victim syncset
// or redirected-get response. It is the input the C_e term reads.
func (c *Covered) RecordNeighborPopularity(edgeIdx uint32, key string, popularity float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.neighborPopularity[edgeIdx]
	if !ok {
		m = make(map[string]float64)
		c.neighborPopularity[edgeIdx] = m
	}
	m[key] = popularity
}

// weights derives w1 (local-reward weight) and w2 (cooperative-reward
// weight) from the propagation model's round-trip EWMAs: both scale with
// how much latency a cloud fetch costs relative to the cheaper hop they
// stand in for, so the reward function favors cooperation more strongly
// when the cloud is relatively far away.
func (c *Covered) weights() (w1, w2 float64) {
	clientEdge := c.estimates.EstimateFor(propagation.HopClientEdge)
	crossEdge := c.estimates.EstimateFor(propagation.HopCrossEdge)
	edgeCloud := c.estimates.EstimateFor(propagation.HopEdgeCloud)

	if clientEdge <= 0 {
		clientEdge = time.Microsecond
	}
	if crossEdge <= 0 {
		crossEdge = time.Microsecond
	}

	w1 = float64(edgeCloud) / float64(clientEdge)
	w2 = float64(edgeCloud) / float64(crossEdge)
	return w1, w2
}

// requestWeight counts the in-flight request itself as one unit of local
// popularity at the requesting edge, so a never-before-seen key still has
// a positive local reward term instead of starting at zero forever.
const requestWeight = 1.0

func (c *Covered) localPopularity(edgeIdx uint32, key string) float64 {
	if edgeIdx == c.selfIdx {
		return c.cache.LocalPopularity(key) + requestWeight
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.neighborPopularity[edgeIdx][key]
}

func (c *Covered) evictionCost(edgeIdx uint32, key string, w1, w2 float64) float64 {
	if edgeIdx != c.selfIdx {
		// No visibility into a neighbor's current victim; treat the
		// eviction cost of placing at a neighbor as unknown-but-zero
		// rather than blocking the candidate outright.
		return 0
	}
	victim, ok := c.cache.VictimKey()
	if !ok || victim == key {
		return 0
	}
	L := w1 * c.cache.LocalPopularity(victim)
	C := w2 * c.cooperativePopularitySum(victim)
	return L + C
}

func (c *Covered) cooperativePopularitySum(key string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var sum float64
	for _, m := range c.neighborPopularity {
		sum += m[key]
	}
	return sum
}

func (c *Covered) candidates() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	edges := make([]uint32, 0, len(c.neighborPopularity)+1)
	edges = append(edges, c.selfIdx)
	for e := range c.neighborPopularity {
		edges = append(edges, e)
	}
	return edges
}

// ChoosePlacementTarget computes the admission benefit (L_e + C_e) - X_e
// for every candidate edge and returns the one with the largest positive
// benefit, or shouldPlace=false if none is positive.
func (c *Covered) ChoosePlacementTarget(ctx context.Context, key string) (uint32, bool) {
	w1, w2 := c.weights()

	best := c.selfIdx
	bestBenefit := math.Inf(-1)
	found := false

	for _, e := range c.candidates() {
		L := w1 * c.localPopularity(e, key)
		C := w2 * c.cooperativePopularitySum(key)
		X := c.evictionCost(e, key, w1, w2)
		benefit := (L + C) - X
		if benefit > bestBenefit {
			bestBenefit = benefit
			best = e
			found = true
		}
	}

	return best, found && bestBenefit > 0
}

func (c *Covered) AfterFetch(ctx context.Context, key string, value localcache.Value) (bool, error) {
	if tooLargeToAdmit(value, key, c.capacityBytes) {
		return false, nil
	}
	if !c.cache.NeedIndependentAdmit(key) {
		return false, nil
	}
	if c.cache.IsCached(key) {
		return false, nil
	}
	c.cache.Admit(key, value)
	notifyAdmission(ctx, c.coop, c.selfIdx, key, c.log)
	trimToCapacity(ctx, c.cache, c.capacityBytes, c.selfIdx, c.coop, c.log)
	return true, nil
}

func (c *Covered) AdmitAtTarget(ctx context.Context, key string, value localcache.Value) error {
	if tooLargeToAdmit(value, key, c.capacityBytes) {
		return nil
	}
	if c.cache.IsCached(key) {
		return nil
	}
	c.cache.Admit(key, value)
	if _, err := c.coop.UpdateBeacon(ctx, key, c.selfIdx, true); err != nil {
		return err
	}
	trimToCapacity(ctx, c.cache, c.capacityBytes, c.selfIdx, c.coop, c.log)
	return nil
}
