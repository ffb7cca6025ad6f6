package localcache

// NewLFUDA creates an LFU-DA cache: H = L + freq, otherwise identical to
// GDSize.
func NewLFUDA(clock *VtimeClock) *GreedyDual { return NewGreedyDual(clock, LFUDA) }
