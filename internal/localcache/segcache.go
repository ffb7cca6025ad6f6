package localcache

import "sync"

// DefaultSegmentBytes bounds how large a single Segcache segment grows
// before a new one is opened.
const DefaultSegmentBytes = 1 << 20 // 1 MiB

type segment struct {
	items    map[string]*CachedItem
	sizeByte int64
}

// Segcache is the coarse-grained cache variant: items are grouped into
// fixed-capacity segments in admission order, and eviction removes
// whole segments (oldest first) rather than individual keys, which is
// why HasFineGrainedManagement reports false. The index is a plain
// map-of-segments; no separate fast-hash layer is needed at this
// scope.
type Segcache struct {
	mu              sync.Mutex
	segmentCapacity int64
	segments        []*segment // oldest first
	index           map[string]*segment
	sizeByte        int64
	clock           *VtimeClock
}

// NewSegcache creates an empty Segcache with the given per-segment byte
// capacity (0 defaults to DefaultSegmentBytes).
func NewSegcache(clock *VtimeClock, segmentCapacity int64) *Segcache {
	if segmentCapacity <= 0 {
		segmentCapacity = DefaultSegmentBytes
	}
	return &Segcache{
		segmentCapacity: segmentCapacity,
		index:           make(map[string]*segment),
		clock:           clock,
	}
}

func (c *Segcache) currentSegment(nextItemBytes int64) *segment {
	if n := len(c.segments); n > 0 {
		last := c.segments[n-1]
		if last.sizeByte+nextItemBytes <= c.segmentCapacity {
			return last
		}
	}
	seg := &segment{items: make(map[string]*CachedItem)}
	c.segments = append(c.segments, seg)
	return seg
}

func (c *Segcache) IsCached(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.index[key]
	return ok
}

func (c *Segcache) Get(key string) (Value, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	seg, ok := c.index[key]
	if !ok {
		return Value{}, false
	}
	item := seg.items[key]
	item.Vtime = c.clock.Tick()
	return item.Value, true
}

func (c *Segcache) Update(key string, value Value) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	seg, ok := c.index[key]
	if !ok {
		return false
	}
	item := seg.items[key]
	delta := value.sizeBytes(len(key)) - item.Value.sizeBytes(len(key))
	item.Value = value
	item.Vtime = c.clock.Tick()
	seg.sizeByte += delta
	c.sizeByte += delta
	return true
}

func (c *Segcache) Admit(key string, value Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.index[key]; ok {
		return
	}
	sz := value.sizeBytes(len(key))
	seg := c.currentSegment(sz)
	seg.items[key] = &CachedItem{Key: key, Value: value, Vtime: c.clock.Tick()}
	seg.sizeByte += sz
	c.index[key] = seg
	c.sizeByte += sz
}

func (c *Segcache) NeedIndependentAdmit(string) bool { return true }

func (c *Segcache) VictimKey() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, seg := range c.segments {
		for k := range seg.items {
			return k, true
		}
	}
	return "", false
}

func (c *Segcache) Evict(key string) (Value, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	seg, ok := c.index[key]
	if !ok {
		return Value{}, false
	}
	item := seg.items[key]
	delete(seg.items, key)
	delete(c.index, key)
	seg.sizeByte -= item.Value.sizeBytes(len(key))
	c.sizeByte -= item.Value.sizeBytes(len(key))
	c.dropEmptySegments()
	return item.Value, true
}

func (c *Segcache) dropEmptySegments() {
	kept := c.segments[:0]
	for _, seg := range c.segments {
		if len(seg.items) > 0 {
			kept = append(kept, seg)
		}
	}
	c.segments = kept
}

// EvictBulk removes whole segments, oldest first, until at least
// requiredBytes have been freed, returning every evicted item. This is
// the group-eviction path coarse-grained caches use in place of
// per-key trimming.
func (c *Segcache) EvictBulk(requiredBytes int64) []CachedItem {
	c.mu.Lock()
	defer c.mu.Unlock()

	var freed int64
	var evicted []CachedItem
	for freed < requiredBytes && len(c.segments) > 0 {
		seg := c.segments[0]
		c.segments = c.segments[1:]
		for key, item := range seg.items {
			evicted = append(evicted, *item)
			delete(c.index, key)
		}
		freed += seg.sizeByte
		c.sizeByte -= seg.sizeByte
	}
	return evicted
}

func (c *Segcache) SizeBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sizeByte
}

func (c *Segcache) HasFineGrainedManagement() bool { return false }
