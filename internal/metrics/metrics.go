// Package metrics exposes discovery and cache counters to Prometheus. All
// methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"controlroom/internal/snapshot"
)

const namespace = "controlroom"

type Metrics struct {
	registry *prometheus.Registry

	passes       *prometheus.CounterVec
	artifacts    *prometheus.CounterVec
	passDuration prometheus.Histogram
	projects     *prometheus.GaugeVec
	stale        prometheus.Gauge
	unknown      prometheus.Gauge
	lastSuccess  prometheus.Gauge
	published    *prometheus.CounterVec
}

// CacheStats is read lazily on every scrape.
type CacheStats func() (hits, misses, originReads, originErrs uint64)

func New(cache CacheStats) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_passes_total",
			Help:      "Discovery passes by outcome.",
		}, []string{"outcome"}),
		artifacts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifacts_total",
			Help:      "Artifacts processed by outcome.",
		}, []string{"outcome"}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "discovery_pass_duration_seconds",
			Help:      "Wall time of discovery passes.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
		projects: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "projects",
			Help:      "Projects in the current view by status.",
		}, []string{"status"}),
		stale: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stale_projects",
			Help:      "Projects whose current snapshot is older than the freshness window.",
		}),
		unknown: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unknown_projects",
			Help:      "Known projects with no valid snapshot observed.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_successful_pass_timestamp_seconds",
			Help:      "Unix time of the last successful discovery pass.",
		}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_total",
			Help:      "Downstream publications by kind and outcome.",
		}, []string{"kind", "outcome"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.passes, m.artifacts, m.passDuration, m.projects,
		m.stale, m.unknown, m.lastSuccess, m.published,
	)
	if cache != nil {
		m.registerCache(cache)
	}
	return m
}

func (m *Metrics) registerCache(cache CacheStats) {
	counter := func(name, help string, pick func(h, mi, r, e uint64) uint64) prometheus.CounterFunc {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store_cache",
			Name:      name,
			Help:      help,
		}, func() float64 {
			return float64(pick(cache()))
		})
	}
	m.registry.MustRegister(
		counter("hits_total", "Artifact reads served from cache.", func(h, _, _, _ uint64) uint64 { return h }),
		counter("misses_total", "Artifact reads that missed the cache.", func(_, mi, _, _ uint64) uint64 { return mi }),
		counter("origin_reads_total", "Reads forwarded to the backing store.", func(_, _, r, _ uint64) uint64 { return r }),
		counter("origin_errors_total", "Backing store read failures.", func(_, _, _, e uint64) uint64 { return e }),
	)
}

// ObservePass records one discovery pass.
func (m *Metrics) ObservePass(ok bool, d time.Duration, accepted, rejected, unavailable int) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.passes.WithLabelValues(outcome).Inc()
	m.passDuration.Observe(d.Seconds())
	m.artifacts.WithLabelValues("accepted").Add(float64(accepted))
	m.artifacts.WithLabelValues("rejected").Add(float64(rejected))
	m.artifacts.WithLabelValues("unavailable").Add(float64(unavailable))
}

// ObserveView refreshes the gauges from a freshly published view.
func (m *Metrics) ObserveView(v *snapshot.ConsolidatedView) {
	if m == nil || v == nil {
		return
	}
	for status, n := range v.StatusCounts() {
		m.projects.WithLabelValues(string(status)).Set(float64(n))
	}
	m.stale.Set(float64(len(v.StaleProjects)))
	m.unknown.Set(float64(len(v.UnknownProjects)))
	if v.PassID != "" {
		m.lastSuccess.Set(float64(v.GeneratedAt.Unix()))
	}
}

func (m *Metrics) ObservePublish(kind string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	m.published.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
