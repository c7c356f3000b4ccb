package storage

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PromBridge exports a Metrics instance through Prometheus collectors.
// Counters and gauges are function-backed, so scrapes always observe
// the live atomic values without a copy step in between.
// Safe for concurrent use; all Prometheus metric types are goroutine-safe.
type PromBridge struct {
	collectors []prometheus.Collector
}

// NewPromBridge registers collectors for m with reg.
//   - reg:         registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:     Prometheus namespace and subsystem
//   - constLabels: static labels applied to all metrics (may be nil)
func NewPromBridge(reg prometheus.Registerer, m *Metrics, ns, sub string, constLabels prometheus.Labels) *PromBridge {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	counter := func(name, help string, fn func() uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		}, func() float64 { return float64(fn()) })
	}

	b := &PromBridge{
		collectors: []prometheus.Collector{
			counter("cache_hits_total", "Buffer pool cache hits", m.GetCacheHits),
			counter("cache_misses_total", "Buffer pool cache misses", m.GetCacheMisses),
			counter("page_evictions_total", "Pages evicted from the buffer pool", m.GetPageEvictions),
			counter("dirty_page_flushes_total", "Dirty pages flushed to disk", m.GetDirtyPageFlushes),
			counter("bucket_splits_total", "Page table bucket splits", m.GetBucketSplits),
			counter("directory_doublings_total", "Page table directory doublings", m.GetDirectoryDoublings),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "cache_hit_rate",
				Help:        "Fraction of page fetches served from memory",
				ConstLabels: constLabels,
			}, m.GetCacheHitRate),
		},
	}

	reg.MustRegister(b.collectors...)
	return b
}

// Unregister removes the bridge's collectors from reg.
// Useful when a buffer pool is torn down while the registry lives on.
func (b *PromBridge) Unregister(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if unreg, ok := reg.(interface{ Unregister(prometheus.Collector) bool }); ok {
		for _, c := range b.collectors {
			unreg.Unregister(c)
		}
	}
}
