// Package prom exports attribute-cache and origin-request metrics to
// Prometheus.
package prom

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/IvanBrykalov/autohttpfs/cache"
	"github.com/IvanBrykalov/autohttpfs/remote"
)

// Adapter implements cache.Metrics and remote.Metrics.
// Safe for concurrent use; all Prometheus metric types are goroutine-safe.
type Adapter struct {
	hits     prometheus.Counter
	misses   prometheus.Counter
	evicts   *prometheus.CounterVec
	sizeEnt  prometheus.Gauge
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// New constructs a Prometheus metrics adapter.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &Adapter{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "cache_hits_total",
			Help:        "Attribute cache hits",
			ConstLabels: constLabels,
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "cache_misses_total",
			Help:        "Attribute cache misses",
			ConstLabels: constLabels,
		}),
		evicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "cache_evictions_total",
				Help:        "Attribute cache evictions by reason",
				ConstLabels: constLabels,
			},
			[]string{"reason"},
		),
		sizeEnt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "cache_entries",
			Help:        "Number of resident attribute records",
			ConstLabels: constLabels,
		}),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "origin_requests_total",
				Help:        "Requests sent to the origin by method and status class",
				ConstLabels: constLabels,
			},
			[]string{"method", "class"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "origin_request_seconds",
				Help:        "Origin request latency",
				ConstLabels: constLabels,
				Buckets:     prometheus.ExponentialBuckets(0.001, 4, 8),
			},
			[]string{"method"},
		),
	}
	reg.MustRegister(a.hits, a.misses, a.evicts, a.sizeEnt, a.requests, a.latency)
	return a
}

// Hit increments the hit counter.
func (a *Adapter) Hit() { a.hits.Inc() }

// Miss increments the miss counter.
func (a *Adapter) Miss() { a.misses.Inc() }

// Evict increments the eviction counter with a reason label.
func (a *Adapter) Evict(r cache.EvictReason) {
	a.evicts.WithLabelValues(r.String()).Inc()
}

// Size updates the resident entries gauge.
func (a *Adapter) Size(entries int) {
	a.sizeEnt.Set(float64(entries))
}

// Request records one origin request.
func (a *Adapter) Request(method string, status int, elapsed time.Duration) {
	a.requests.WithLabelValues(method, statusClass(status)).Inc()
	a.latency.WithLabelValues(method).Observe(elapsed.Seconds())
}

// statusClass maps a status code to "2xx".."5xx", or "error" when the
// request never got a status.
func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}

// Compile-time checks.
var (
	_ cache.Metrics  = (*Adapter)(nil)
	_ remote.Metrics = (*Adapter)(nil)
)
