package localcache

import "fmt"

// Name is one of the cache-name values recognized by EdgeWrapper.
type Name string

const (
	NameLRU       Name = "lru"
	NameLRUK      Name = "lruk"
	NameGDSize    Name = "gdsize"
	NameGDSF      Name = "gdsf"
	NameLFUDA     Name = "lfuda"
	NameBestGuess Name = "bestguess"
	NameSegcache  Name = "segcache"
	NameCovered   Name = "covered"
)

// New constructs the LocalCache variant named by n, sharing clock with the
// rest of the edge. Returns an error for unrecognized names, which the
// caller treats as a configuration error.
func New(n Name, clock *VtimeClock) (Cache, error) {
	switch n {
	case NameLRU:
		return NewLRU(clock), nil
	case NameLRUK:
		return NewLRUK(clock, DefaultLRUK), nil
	case NameGDSize:
		return NewGDSize(clock), nil
	case NameGDSF:
		return NewGDSF(clock), nil
	case NameLFUDA:
		return NewLFUDA(clock), nil
	case NameBestGuess:
		return NewBestGuess(clock), nil
	case NameSegcache:
		return NewSegcache(clock, DefaultSegmentBytes), nil
	case NameCovered:
		return NewCovered(clock), nil
	default:
		return nil, fmt.Errorf("localcache: unknown cache name %q", n)
	}
}
