package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics is the edge-local counter/histogram bundle. Every field is
// registered once per edge against the Registerer passed to New.
type Metrics struct {
	Hits                      prometheus.Counter
	Misses                    prometheus.Counter
	CooperativeHits           prometheus.Counter
	RedirectionLatencySeconds prometheus.Histogram
	RingBufferDepth           *prometheus.GaugeVec
	BandwidthBytes            *prometheus.CounterVec // labeled by message_type
	Evictions                 *prometheus.CounterVec // labeled by cache_name
}

// NewMetrics registers a fresh Metrics bundle against reg. A nil reg
// defaults to a private prometheus.NewRegistry() so concurrent tests never
// collide on the global default registry's metric names.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		Hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgecache_local_hits_total",
			Help: "Foreground requests served directly from the local cache.",
		}),
		Misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgecache_local_misses_total",
			Help: "Foreground requests that missed the local cache.",
		}),
		CooperativeHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edgecache_cooperative_hits_total",
			Help: "Foreground requests served by a redirected neighbor fetch.",
		}),
		RedirectionLatencySeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "edgecache_redirection_latency_seconds",
			Help:    "Observed latency of a RedirectedGet round trip.",
			Buckets: prometheus.DefBuckets,
		}),
		RingBufferDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "edgecache_ring_buffer_depth",
			Help: "Current depth of a worker's ring-buffer channel.",
		}, []string{"worker"}),
		BandwidthBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edgecache_bandwidth_bytes_total",
			Help: "Bytes sent, labeled by message type, reproducing the BANDWIDTH_ONLY accounting effect.",
		}, []string{"message_type"}),
		Evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edgecache_evictions_total",
			Help: "Local cache evictions, labeled by cache name.",
		}, []string{"cache_name"}),
	}

	collectors := []prometheus.Collector{
		m.Hits, m.Misses, m.CooperativeHits, m.RedirectionLatencySeconds,
		m.RingBufferDepth, m.BandwidthBytes, m.Evictions,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
