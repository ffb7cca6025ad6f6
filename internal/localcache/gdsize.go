package localcache

// NewGDSize creates a GDSize cache: H = L + 1/size.
func NewGDSize(clock *VtimeClock) *GreedyDual { return NewGreedyDual(clock, GDSize) }
