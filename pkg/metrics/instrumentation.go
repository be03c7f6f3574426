package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "asn_lookup"

	OK        = "OK"
	ERROR     = "ERROR"
	FOUND     = "FOUND"
	NOTFOUND  = "NOT_FOUND"
	INVALID   = "INVALID"
	HIT       = "HIT"
	MISS      = "MISS"
	LOCAL     = "LOCAL"
	REDIS     = "REDIS"
	SINGLE    = "SINGLE"
	BATCH     = "BATCH"
	ENVOY     = "ENVOY"
	PUBLISHED = "PUBLISHED"
	UNCHANGED = "UNCHANGED"
	FAILED    = "FAILED"
	IPV4      = "IPV4"
	IPV6      = "IPV6"
)

// Instrumentation publishes Prometheus metrics for lookups, caching and index reloads.
type Instrumentation struct {
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
	inFlight           *prometheus.GaugeVec
	lookupTotals       *prometheus.CounterVec
	lookupDuration     *prometheus.HistogramVec
	batchSize          prometheus.Histogram
	cacheRequests      *prometheus.CounterVec
	cacheEntries       *prometheus.GaugeVec
	cacheErrors        *prometheus.CounterVec
	reloadTotals       *prometheus.CounterVec
	reloadDuration     *prometheus.HistogramVec
	indexGeneration    prometheus.Gauge
	indexRecords       *prometheus.GaugeVec
	malformedLines     prometheus.Gauge
	lastSuccessfulLoad prometheus.Gauge
}

// NewInstrumentation registers all metric vectors.
func NewInstrumentation(reg prometheus.Registerer) *Instrumentation {
	inst := &Instrumentation{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP API requests by route and status code",
		}, []string{"route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP API request latency",
			Buckets:   []float64{.00005, .0001, .0005, .001, .002, .005, .01, .025, .05, .1, .25, .5},
		}, []string{"route", "code"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Active HTTP API requests",
		}, []string{"route"}),
		lookupTotals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookups_total",
			Help:      "Address lookups by entry point and result",
		}, []string{"kind", "result"}),
		lookupDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lookup_duration_seconds",
			Help:      "Time spent answering a lookup call",
			Buckets:   []float64{.000001, .000005, .00001, .00005, .0001, .0005, .001, .005, .01, .05, .1},
		}, []string{"kind"}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of addresses per batch lookup",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 7),
		}),
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "requests_total",
			Help:      "Cache lookups by tier and result",
		}, []string{"tier", "cache_result"}),
		cacheEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Current cache entries",
		}, []string{"tier"}),
		cacheErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "errors_total",
			Help:      "Cache tier failures treated as misses",
		}, []string{"tier"}),
		reloadTotals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "reloads_total",
			Help:      "Index reload attempts by source and result",
		}, []string{"source", "result"}),
		reloadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "reload_duration_seconds",
			Help:      "Time spent fetching, parsing and building an index",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"source", "result"}),
		indexGeneration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "generation",
			Help:      "Generation of the published index, 0 before the first publish",
		}),
		indexRecords: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "records",
			Help:      "Records in the published index by address family",
		}, []string{"family"}),
		malformedLines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "malformed_records",
			Help:      "Malformed records skipped by the last published build",
		}),
		lastSuccessfulLoad: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "last_publish_timestamp_seconds",
			Help:      "Unix time of the last successful publish",
		}),
	}

	reg.MustRegister(
		inst.httpRequests,
		inst.httpDuration,
		inst.inFlight,
		inst.lookupTotals,
		inst.lookupDuration,
		inst.batchSize,
		inst.cacheRequests,
		inst.cacheEntries,
		inst.cacheErrors,
		inst.reloadTotals,
		inst.reloadDuration,
		inst.indexGeneration,
		inst.indexRecords,
		inst.malformedLines,
		inst.lastSuccessfulLoad,
	)
	return inst
}

// InFlight increments or decrements the in-flight gauge.
func (i *Instrumentation) InFlight(route string, delta float64) {
	if i == nil {
		return
	}

	if delta == 0 {
		return
	}
	if delta > 0 {
		i.inFlight.WithLabelValues(route).Add(delta)
		return
	}
	i.inFlight.WithLabelValues(route).Sub(-delta)
}

// ObserveHTTPRequest records a served HTTP request.
func (i *Instrumentation) ObserveHTTPRequest(route string, status int, duration time.Duration) {
	if i == nil {
		return
	}
	code := strconv.Itoa(status)
	i.httpRequests.WithLabelValues(route, code).Inc()
	i.httpDuration.WithLabelValues(route, code).Observe(duration.Seconds())
}

// ObserveLookup counts one answered address.
func (i *Instrumentation) ObserveLookup(kind, result string) {
	if i == nil {
		return
	}
	i.lookupTotals.WithLabelValues(kind, result).Inc()
}

// ObserveLookupDuration records how long a lookup call took.
func (i *Instrumentation) ObserveLookupDuration(kind string, duration time.Duration) {
	if i == nil {
		return
	}
	i.lookupDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObserveBatchSize records the size of a batch lookup.
func (i *Instrumentation) ObserveBatchSize(size int) {
	if i == nil {
		return
	}
	i.batchSize.Observe(float64(size))
}

// ObserveCacheHit records a cache lookup that returned an entry.
func (i *Instrumentation) ObserveCacheHit(tier string) {
	if i == nil {
		return
	}
	i.cacheRequests.WithLabelValues(tier, HIT).Inc()
}

// ObserveCacheMiss records a cache lookup that missed.
func (i *Instrumentation) ObserveCacheMiss(tier string) {
	if i == nil {
		return
	}
	i.cacheRequests.WithLabelValues(tier, MISS).Inc()
}

// ObserveCacheError records a cache tier failure.
func (i *Instrumentation) ObserveCacheError(tier string) {
	if i == nil {
		return
	}
	i.cacheErrors.WithLabelValues(tier).Inc()
}

// ObserveCacheSize sets the current cache size gauge.
func (i *Instrumentation) ObserveCacheSize(tier string, size int) {
	if i == nil {
		return
	}
	i.cacheEntries.WithLabelValues(tier).Set(float64(size))
}

// ObserveReload records the outcome of one reload pipeline run.
func (i *Instrumentation) ObserveReload(source, result string, duration time.Duration) {
	if i == nil {
		return
	}
	i.reloadTotals.WithLabelValues(source, result).Inc()
	i.reloadDuration.WithLabelValues(source, result).Observe(duration.Seconds())
}

// ObservePublish updates the gauges describing the published index.
func (i *Instrumentation) ObservePublish(generation uint64, ipv4Records, ipv6Records, malformed int, publishedAt time.Time) {
	if i == nil {
		return
	}
	i.indexGeneration.Set(float64(generation))
	i.indexRecords.WithLabelValues(IPV4).Set(float64(ipv4Records))
	i.indexRecords.WithLabelValues(IPV6).Set(float64(ipv6Records))
	i.malformedLines.Set(float64(malformed))
	i.lastSuccessfulLoad.Set(float64(publishedAt.Unix()))
}
