package localcache

import "sync"

// AdmitDecider gates NeedIndependentAdmit for COVERED: the reward-based
// placement decision itself lives in internal/cachemanager, which wires its decision in through SetAdmitDecider. A nil
// decider means "never admit independently", matching COVERED's default
// of always consulting the cooperative placement decision first.
type AdmitDecider func(key string) bool

type coveredItem struct {
	value Value
	freq  float64
	vtime int64
}

// Covered is the local store backing the COVERED method. Admission is gated by an externally supplied reward decision;
// this type's own job is byte-accurate storage, LRU-ordered eviction, and
// tracking each key's local popularity (hit/update frequency) so
// cachemanager.Covered can compute the local reward term L_e.
type Covered struct {
	*LRU

	mu      sync.Mutex
	freq    map[string]float64
	decider AdmitDecider
}

// NewCovered creates an empty COVERED local store.
func NewCovered(clock *VtimeClock) *Covered {
	return &Covered{LRU: NewLRU(clock), freq: make(map[string]float64)}
}

// SetAdmitDecider installs the reward-based admission gate.
func (c *Covered) SetAdmitDecider(fn AdmitDecider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decider = fn
}

func (c *Covered) NeedIndependentAdmit(key string) bool {
	c.mu.Lock()
	decider := c.decider
	c.mu.Unlock()
	if decider == nil {
		return false
	}
	return decider(key)
}

// LocalPopularity returns key's local access count (hits and updates,
// not decayed), used by cachemanager.Covered's L_e term. Keys never seen
// return 0.
func (c *Covered) LocalPopularity(key string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.freq[key]
}

func (c *Covered) bump(key string) {
	c.mu.Lock()
	c.freq[key]++
	c.mu.Unlock()
}

func (c *Covered) Get(key string) (Value, bool) {
	v, ok := c.LRU.Get(key)
	if ok {
		c.bump(key)
	}
	return v, ok
}

func (c *Covered) Update(key string, value Value) bool {
	ok := c.LRU.Update(key, value)
	if ok {
		c.bump(key)
	}
	return ok
}

func (c *Covered) Evict(key string) (Value, bool) {
	v, ok := c.LRU.Evict(key)
	if ok {
		c.mu.Lock()
		delete(c.freq, key)
		c.mu.Unlock()
	}
	return v, ok
}
