// Package workload is the boundary interface to the CDN trace driver:
// either a trace-derived key distribution or a synthetic Zipf one,
// behind one Driver interface with a trivial reference implementation,
// enough to exercise internal/cacheserver and internal/beacon end to
// end without a real trace file.
package workload

import (
	"fmt"
	"math/rand"

	"github.com/dreamware/edgecache/internal/config"
)

// Op is one generated request: a key and the operation to perform on it.
type Op struct {
	Key    string
	Method OpMethod
	Value  []byte
}

// OpMethod names the three foreground operations.
type OpMethod int

const (
	OpGet OpMethod = iota
	OpPut
	OpDelete
)

// Driver generates a bounded sequence of Ops for one client worker.
type Driver interface {
	Next() (Op, bool)
}

// NewDriver builds the Driver named by cfg.WorkloadName. "facebook"
// yields a Zipf-skewed key popularity over cfg.KeyCount keys,
// approximating a real CDN trace's shape without replaying an actual
// trace file; any other name falls back to a synthetic Zipf driver
// with the same skew.
func NewDriver(cfg config.Config, seed int64) (Driver, error) {
	if cfg.KeyCount <= 0 {
		return nil, fmt.Errorf("workload: keycnt must be > 0, got %d", cfg.KeyCount)
	}
	if cfg.OpCount <= 0 {
		return nil, fmt.Errorf("workload: opcnt must be > 0, got %d", cfg.OpCount)
	}
	return newZipfDriver(cfg, seed), nil
}

// zipfDriver is the trivial reference implementation: a per-client
// seeded deterministic PRNG driving Zipf key selection, with GET
// dominating per typical CDN read-heavy workloads and occasional
// PUT/DELETE so cache invalidation paths get exercised too.
type zipfDriver struct {
	rng       *rand.Rand
	zipf      *rand.Zipf
	remaining int
}

func newZipfDriver(cfg config.Config, seed int64) *zipfDriver {
	rng := rand.New(rand.NewSource(seed))
	// s > 1, v >= 1: s=1.2 gives a moderate popularity skew typical of CDN
	// workloads without concentrating everything on a single key.
	zipf := rand.NewZipf(rng, 1.2, 1, uint64(cfg.KeyCount-1))
	return &zipfDriver{rng: rng, zipf: zipf, remaining: cfg.OpCount}
}

func (d *zipfDriver) Next() (Op, bool) {
	if d.remaining <= 0 {
		return Op{}, false
	}
	d.remaining--

	key := fmt.Sprintf("key-%d", d.zipf.Uint64())
	switch roll := d.rng.Float64(); {
	case roll < 0.9:
		return Op{Key: key, Method: OpGet}, true
	case roll < 0.97:
		return Op{Key: key, Method: OpPut, Value: []byte(fmt.Sprintf("val-%d", d.rng.Int63()))}, true
	default:
		return Op{Key: key, Method: OpDelete}, true
	}
}
