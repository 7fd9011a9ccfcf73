// Package metrics provides Prometheus instrumentation for the paging
// channel core.
//
// It exposes gauges for the quantities §8's testable properties care
// about (resident reference count, down-cache occupancy, paging mode)
// and counters for the operations that move references between tiers
// (flush, load, cancel-to-front). Wire it up once:
//
//	r.Get("/metrics", metrics.Handler())
//
// Then scrape http://localhost:8080/metrics from Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MessageRefs tracks messageRefs.size() per channel.
	MessageRefs = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "chanpage",
			Subsystem: "channel",
			Name:      "message_refs",
			Help:      "Number of references currently resident in memory for the channel.",
		},
		[]string{"channel"},
	)

	// DownCacheSize tracks downCache.size() per channel.
	DownCacheSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "chanpage",
			Subsystem: "channel",
			Name:      "down_cache_size",
			Help:      "Number of references currently buffered in the down-cache awaiting a store write.",
		},
		[]string{"channel"},
	)

	// Paging is 1 when the channel is in paging mode, 0 otherwise.
	Paging = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "chanpage",
			Subsystem: "channel",
			Name:      "paging",
			Help:      "1 if the channel is currently paging references to the store, 0 otherwise.",
		},
		[]string{"channel"},
	)

	// PagingOrderSpan tracks nextPagingOrder - firstPagingOrder per channel.
	PagingOrderSpan = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "chanpage",
			Subsystem: "channel",
			Name:      "paging_order_span",
			Help:      "Width of the channel's page-order window (nextPagingOrder - firstPagingOrder), including down-cache entries not yet flushed.",
		},
		[]string{"channel"},
	)

	// FlushesTotal counts down-cache flushes by outcome.
	FlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chanpage",
			Subsystem: "downcache",
			Name:      "flushes_total",
			Help:      "Total down-cache flush attempts.",
		},
		[]string{"channel", "outcome"}, // "ok" | "store_error"
	)

	// LoadsTotal counts paged-reference loads by outcome.
	LoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chanpage",
			Subsystem: "paging",
			Name:      "loads_total",
			Help:      "Total calls to loadPagedReferences.",
		},
		[]string{"channel", "outcome"},
	)

	// CancelsToFrontTotal counts cancellations that triggered a tail-eviction.
	CancelsToFrontTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chanpage",
			Subsystem: "channel",
			Name:      "cancels_to_front_total",
			Help:      "Total cancellations that evicted a tail reference into the down-cache.",
		},
		[]string{"channel"},
	)
)

// DefaultRegistry is the Prometheus registry used by this module.
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(collectors.NewGoCollector())
	DefaultRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	DefaultRegistry.MustRegister(
		MessageRefs,
		DownCacheSize,
		Paging,
		PagingOrderSpan,
		FlushesTotal,
		LoadsTotal,
		CancelsToFrontTotal,
	)
}

// Register lets you add your own prometheus.Collector to the registry.
func Register(c prometheus.Collector) error {
	return DefaultRegistry.Register(c)
}

// MustRegister panics if registration fails.
func MustRegister(c ...prometheus.Collector) {
	DefaultRegistry.MustRegister(c...)
}

// Handler returns an http.HandlerFunc that exposes the Prometheus metrics page.
func Handler() http.HandlerFunc {
	h := promhttp.HandlerFor(DefaultRegistry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	return h.ServeHTTP
}
