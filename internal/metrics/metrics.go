// Package metrics provides Prometheus metrics for the refscan daemon.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal tracks daemon requests by transport, method and outcome
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "refscan",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of daemon requests by transport, method and result code",
		},
		[]string{"transport", "method", "code"},
	)

	// RequestDuration tracks request handling time in seconds
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "refscan",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Duration of daemon requests in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"transport", "method"},
	)

	// CatalogReloads tracks catalog file reloads by result
	CatalogReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "refscan",
			Subsystem: "catalog",
			Name:      "reloads_total",
			Help:      "Total number of catalog reloads by result",
		},
		[]string{"result"},
	)

	// CatalogsLoaded tracks the number of catalogs currently compiled
	CatalogsLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "refscan",
			Subsystem: "catalog",
			Name:      "loaded",
			Help:      "Number of catalogs currently compiled",
		},
	)

	// CatalogValues tracks the number of registered values across catalogs
	CatalogValues = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "refscan",
			Subsystem: "catalog",
			Name:      "values",
			Help:      "Number of (entity, field, value) triples across compiled catalogs",
		},
	)
)

// RecordRequest records one handled request
func RecordRequest(transport, method, code string, durationSeconds float64) {
	RequestsTotal.WithLabelValues(transport, method, code).Inc()
	RequestDuration.WithLabelValues(transport, method).Observe(durationSeconds)
}

// RecordReload records a catalog reload
func RecordReload(result string) {
	CatalogReloads.WithLabelValues(result).Inc()
}

// SetCatalogs updates the loaded catalog gauges
func SetCatalogs(catalogs, values int) {
	CatalogsLoaded.Set(float64(catalogs))
	CatalogValues.Set(float64(values))
}

// ScannerStats is the subset of scanner counters exported as metrics.
type ScannerStats struct {
	Scans        uint64
	Matches      uint64
	FuzzyMatches uint64
	Compiles     uint64
	CacheHits    uint64
	CacheMisses  uint64
}

var statsSource atomic.Pointer[func() ScannerStats]

// SetScannerSource makes fn the source of the scanner counters. The latest
// call wins; a nil fn stops reporting.
func SetScannerSource(fn func() ScannerStats) {
	if fn == nil {
		statsSource.Store(nil)
		return
	}
	statsSource.Store(&fn)
}

// scannerCollector reads the scanner's own atomic counters at scrape time.
type scannerCollector struct {
	descs map[string]*prometheus.Desc
}

func newScannerCollector() *scannerCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("refscan", "scanner", name), help, nil, nil)
	}
	return &scannerCollector{descs: map[string]*prometheus.Desc{
		"scans":         desc("scans_total", "Total number of texts scanned"),
		"matches":       desc("matches_total", "Total number of match records produced"),
		"fuzzy_matches": desc("fuzzy_matches_total", "Total number of match records from the fuzzy fallback"),
		"compiles":      desc("compiles_total", "Total number of catalog compilations"),
		"cache_hits":    desc("cache_hits_total", "Compiled catalog cache hits"),
		"cache_misses":  desc("cache_misses_total", "Compiled catalog cache misses"),
	}}
}

func (c *scannerCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d
	}
}

func (c *scannerCollector) Collect(ch chan<- prometheus.Metric) {
	fn := statsSource.Load()
	if fn == nil {
		return
	}
	s := (*fn)()
	for name, v := range map[string]uint64{
		"scans":         s.Scans,
		"matches":       s.Matches,
		"fuzzy_matches": s.FuzzyMatches,
		"compiles":      s.Compiles,
		"cache_hits":    s.CacheHits,
		"cache_misses":  s.CacheMisses,
	} {
		ch <- prometheus.MustNewConstMetric(c.descs[name], prometheus.CounterValue, float64(v))
	}
}

func init() {
	prometheus.MustRegister(newScannerCollector())
}
