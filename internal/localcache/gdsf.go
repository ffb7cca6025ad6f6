package localcache

// NewGDSF creates a GDSF cache: H = L + freq/size, freq incremented on
// every hit and update.
func NewGDSF(clock *VtimeClock) *GreedyDual { return NewGreedyDual(clock, GDSF) }
