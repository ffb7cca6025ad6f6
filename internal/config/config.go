// Package config is the edge process's configuration value: a flat
// struct of common, topology, client, workload, dataset-loader, and
// propagation knobs filled once at startup from environment variables
// and passed down by handle. Full CLI/config-file parsing is left to
// the surrounding deployment tooling.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dreamware/edgecache/internal/localcache"
)

// Config is built once per process and passed down by handle; it is never
// a package-level singleton.
type Config struct {
	// Process identity and debug toggles. IsDebug and TrackEvent have
	// no effect on simulation results.
	EdgeID       string
	IsSingleNode bool
	IsDebug      bool
	TrackEvent   bool

	// Cluster topology. SelfIdx is this
	// process's own index into the [0, EdgeCount) ring coordkey hashes
	// keys against.
	EdgeCount int
	SelfIdx   uint32

	// Workload driver sizing. ClientCount must be >= EdgeCount so every
	// edge has at least one client mapped to it (checked by Validate).
	ClientCount          int
	PerClientWorkerCount int
	OpCount              int
	IsWarmupSpeedup      bool

	// CDN trace driver sizing knobs; internal/workload builds the same
	// Zipf driver whatever WorkloadName holds.
	KeyCount     int
	WorkloadName string

	// Dataset preloading sizing.
	DatasetLoaderCount int
	CloudIdx           int

	// Additive latency model parameters for each network hop, consumed
	// by internal/propagation. Bounds and averages are microseconds.
	ClientEdgeLatency PropagationLatency
	CrossEdgeLatency  PropagationLatency
	EdgeCloudLatency  PropagationLatency

	// CacheName selects the replacement policy, one of the eight
	// recognized names.
	CacheName localcache.Name

	// CapacityBytes is the per-edge local cache capacity envelope the
	// cache manager trims against.
	CapacityBytes int64

	// DirectoryShardCount sizes both the PerKeyRwLock and the
	// DirectoryTable's internal striping.
	DirectoryShardCount int

	// HashAlgorithm selects pkg/coordkey's HashFn implementation.
	// "xxhash" (default) or "fnv1a" (legacy-placement fallback).
	HashAlgorithm string
}

// PropagationLatency is a uniform-distribution latency model: a lower
// bound, an average (used verbatim for a constant distribution), and an
// upper bound, all in microseconds.
type PropagationLatency struct {
	LowerBoundMicros uint32
	AvgMicros        uint32
	UpperBoundMicros uint32
}

// Avg returns the average leg as a time.Duration.
func (p PropagationLatency) Avg() time.Duration {
	return time.Duration(p.AvgMicros) * time.Microsecond
}

// Default propagation latencies, microsecond values carried over from
// PropagationCLI's DEFAULT_PROPAGATION_LATENCY_* constants.
var (
	DefaultClientEdgeLatency = PropagationLatency{LowerBoundMicros: 100, AvgMicros: 500, UpperBoundMicros: 1000}
	DefaultCrossEdgeLatency  = PropagationLatency{LowerBoundMicros: 200, AvgMicros: 1000, UpperBoundMicros: 2000}
	DefaultEdgeCloudLatency  = PropagationLatency{LowerBoundMicros: 1000, AvgMicros: 5000, UpperBoundMicros: 10000}
)

// FromEnv builds a Config from environment variables, falling back to
// the documented defaults for anything unset.
func FromEnv() (Config, error) {
	cfg := Config{
		EdgeID:               getenv("EDGE_ID", "edge-0"),
		IsSingleNode:         getenvBool("EDGE_SINGLE_NODE", false),
		IsDebug:              getenvBool("EDGE_DEBUG", false),
		TrackEvent:           getenvBool("EDGE_TRACK_EVENT", false),
		EdgeCount:            getenvInt("EDGESCALE_EDGECNT", 1),
		SelfIdx:              uint32(getenvInt("EDGE_IDX", 0)),
		ClientCount:          getenvInt("CLIENT_CLIENTCNT", 1),
		PerClientWorkerCount: getenvInt("CLIENT_PERCLIENT_WORKERCNT", 1),
		OpCount:              getenvInt("CLIENT_OPCNT", 1000),
		IsWarmupSpeedup:      getenvBool("CLIENT_WARMUP_SPEEDUP", true),
		KeyCount:             getenvInt("WORKLOAD_KEYCNT", 1000),
		WorkloadName:         getenv("WORKLOAD_NAME", "facebook"),
		DatasetLoaderCount:   getenvInt("DATASETLOADER_CNT", 1),
		CloudIdx:             getenvInt("DATASETLOADER_CLOUD_IDX", 0),
		ClientEdgeLatency:    DefaultClientEdgeLatency,
		CrossEdgeLatency:     DefaultCrossEdgeLatency,
		EdgeCloudLatency:     DefaultEdgeCloudLatency,
		CacheName:            localcache.Name(getenv("EDGE_CACHE_NAME", string(localcache.NameLRU))),
		CapacityBytes:        int64(getenvInt("EDGE_CAPACITY_BYTES", 64*1024*1024)),
		DirectoryShardCount:  getenvInt("EDGE_DIRECTORY_SHARDCNT", 128),
		HashAlgorithm:        getenv("EDGE_HASH_ALGORITHM", "xxhash"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the cross-param invariants, returning a
// configuration error rather than aborting so cmd/edge can choose its
// own exit behavior.
func (c Config) Validate() error {
	if c.ClientCount < c.EdgeCount {
		return fmt.Errorf("config: clientcnt %d must be >= edgecnt %d", c.ClientCount, c.EdgeCount)
	}
	if int(c.SelfIdx) >= c.EdgeCount {
		return fmt.Errorf("config: self idx %d must be < edgecnt %d", c.SelfIdx, c.EdgeCount)
	}
	if c.CapacityBytes <= 0 {
		return fmt.Errorf("config: capacity_bytes must be > 0, got %d", c.CapacityBytes)
	}
	if c.DirectoryShardCount <= 0 {
		return fmt.Errorf("config: directory shard count must be > 0, got %d", c.DirectoryShardCount)
	}
	switch c.CacheName {
	case localcache.NameLRU, localcache.NameLRUK, localcache.NameGDSize, localcache.NameGDSF,
		localcache.NameLFUDA, localcache.NameBestGuess, localcache.NameSegcache, localcache.NameCovered:
	default:
		return fmt.Errorf("config: unknown cache name %q", c.CacheName)
	}
	switch c.HashAlgorithm {
	case "xxhash", "fnv1a":
	default:
		return fmt.Errorf("config: unknown hash algorithm %q", c.HashAlgorithm)
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvBool(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
