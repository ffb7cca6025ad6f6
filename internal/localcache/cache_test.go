package localcache

import "testing"

func allCacheNames() []Name {
	return []Name{NameLRU, NameLRUK, NameGDSize, NameGDSF, NameLFUDA, NameBestGuess, NameSegcache, NameCovered}
}

func TestFactoryUnknownName(t *testing.T) {
	if _, err := New("bogus", &VtimeClock{}); err == nil {
		t.Fatal("expected error for unknown cache name")
	}
}

func TestAdmitEvictRoundTripAllVariants(t *testing.T) {
	for _, name := range allCacheNames() {
		name := name
		t.Run(string(name), func(t *testing.T) {
			clock := &VtimeClock{}
			c, err := New(name, clock)
			if err != nil {
				t.Fatalf("New(%s): %v", name, err)
			}
			c.Admit("k1", Value{Bytes: []byte("v1")})
			if !c.IsCached("k1") {
				t.Fatal("expected key cached after admit")
			}
			if _, ok := c.Evict("k1"); !ok {
				t.Fatal("expected evict to succeed")
			}
			if c.IsCached("k1") {
				t.Fatal("expected key gone after evict")
			}
		})
	}
}

func TestDuplicateAdmitIsNoopAllVariants(t *testing.T) {
	for _, name := range allCacheNames() {
		name := name
		t.Run(string(name), func(t *testing.T) {
			clock := &VtimeClock{}
			c, err := New(name, clock)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			c.Admit("k1", Value{Bytes: []byte("v1")})
			before := c.SizeBytes()
			c.Admit("k1", Value{Bytes: []byte("v2-longer-value")})
			if c.SizeBytes() != before {
				t.Fatalf("duplicate admit must not change size: before=%d after=%d", before, c.SizeBytes())
			}
		})
	}
}

func TestEvictAlreadyGoneIsNonFatal(t *testing.T) {
	for _, name := range allCacheNames() {
		name := name
		t.Run(string(name), func(t *testing.T) {
			clock := &VtimeClock{}
			c, err := New(name, clock)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if _, ok := c.Evict("never-admitted"); ok {
				t.Fatal("expected ok=false evicting a key never admitted")
			}
		})
	}
}

func TestLRUVictimIsLeastRecentlyUsed(t *testing.T) {
	clock := &VtimeClock{}
	c := NewLRU(clock)
	c.Admit("a", Value{Bytes: []byte("1")})
	c.Admit("b", Value{Bytes: []byte("2")})
	c.Admit("c", Value{Bytes: []byte("3")})
	c.Get("a") // touch a, now b is oldest

	victim, ok := c.VictimKey()
	if !ok || victim != "b" {
		t.Fatalf("expected victim b, got %q ok=%v", victim, ok)
	}
}

func TestLRUKAgesUnderKAccessesLowest(t *testing.T) {
	clock := &VtimeClock{}
	c := NewLRUK(clock, 2)
	c.Admit("a", Value{Bytes: []byte("1")})
	c.Get("a") // now a has 2 accesses (admit + get), age = admit vtime

	c.Admit("b", Value{Bytes: []byte("2")}) // only 1 access so far, age=0

	victim, ok := c.VictimKey()
	if !ok || victim != "b" {
		t.Fatalf("expected under-accessed key b to be victim, got %q", victim)
	}
}

func TestGreedyDualEvictionRaisesL(t *testing.T) {
	clock := &VtimeClock{}
	c := NewGDSize(clock)
	c.Admit("big", Value{Bytes: make([]byte, 1000)})  // small H (large size)
	c.Admit("tiny", Value{Bytes: make([]byte, 1)})    // larger H (small size)

	victim, ok := c.VictimKey()
	if !ok || victim != "big" {
		t.Fatalf("expected 'big' (smaller H) to be victim, got %q", victim)
	}
	if _, ok := c.Evict(victim); !ok {
		t.Fatal("expected evict to succeed")
	}
	if c.l == 0 {
		t.Fatal("expected L to be raised above zero after eviction")
	}
}

func TestGDSFFrequencyLowersEvictionOdds(t *testing.T) {
	clock := &VtimeClock{}
	c := NewGDSF(clock)
	c.Admit("cold", Value{Bytes: make([]byte, 10)})
	c.Admit("hot", Value{Bytes: make([]byte, 10)})
	for i := 0; i < 5; i++ {
		c.Get("hot")
	}

	victim, ok := c.VictimKey()
	if !ok || victim != "cold" {
		t.Fatalf("expected 'cold' to be victim under GDSF, got %q", victim)
	}
}

func TestBestGuessNeverIndependentAdmit(t *testing.T) {
	clock := &VtimeClock{}
	c := NewBestGuess(clock)
	if c.NeedIndependentAdmit("k") {
		t.Fatal("BestGuess must never admit independently")
	}
}

func TestBestGuessColdestEdgePrefersSmallestVictimVtime(t *testing.T) {
	clock := &VtimeClock{}
	c := NewBestGuess(clock)
	for i := 0; i < 99; i++ {
		clock.Tick()
	}
	c.Admit("k", Value{Bytes: []byte("v")}) // self's victim vtime is 100

	c.SetNeighborVictimVtime(1, 50)
	c.SetNeighborVictimVtime(2, 200)

	edge, isSelf := c.ColdestEdge(0)
	if isSelf {
		t.Fatal("expected neighbor 1 (smaller vtime) to win over self")
	}
	if edge != 1 {
		t.Fatalf("expected edge 1, got %d", edge)
	}
}

func TestSegcacheBulkEviction(t *testing.T) {
	clock := &VtimeClock{}
	c := NewSegcache(clock, 64)
	if c.HasFineGrainedManagement() {
		t.Fatal("segcache must be coarse-grained")
	}
	for i := 0; i < 10; i++ {
		c.Admit(string(rune('a'+i)), Value{Bytes: make([]byte, 20)})
	}
	before := c.SizeBytes()
	evicted := c.EvictBulk(30)
	if len(evicted) == 0 {
		t.Fatal("expected at least one evicted item")
	}
	if c.SizeBytes() >= before {
		t.Fatal("expected size to shrink after bulk eviction")
	}
}

func TestCoveredGatesOnDecider(t *testing.T) {
	clock := &VtimeClock{}
	c := NewCovered(clock)
	if c.NeedIndependentAdmit("k") {
		t.Fatal("expected false with no decider installed")
	}
	c.SetAdmitDecider(func(key string) bool { return key == "yes" })
	if !c.NeedIndependentAdmit("yes") || c.NeedIndependentAdmit("no") {
		t.Fatal("decider not consulted correctly")
	}
}

func TestCoveredTracksLocalPopularity(t *testing.T) {
	clock := &VtimeClock{}
	c := NewCovered(clock)
	c.Admit("k", Value{Bytes: []byte("v")})
	before := c.LocalPopularity("k")
	c.Get("k")
	c.Get("k")
	if c.LocalPopularity("k") <= before {
		t.Fatal("expected popularity to increase on hits")
	}
}
