// Package metrics owns the Prometheus registry. All recording methods are
// safe on a nil *Registry so components can run without metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	registry         *prometheus.Registry
	mintAttempts     *prometheus.CounterVec
	sessionCreations *prometheus.CounterVec
	resolverProbes   *prometheus.CounterVec
	readerCache      *prometheus.CounterVec
	idempotentReplay prometheus.Counter
	inclusionSeconds prometheus.Histogram
}

func New() *Registry {
	mint := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "smartmint_mint_attempts_total",
		Help: "Mint attempts by terminal status and error kind",
	}, []string{"status", "kind"})

	sessions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "smartmint_session_creations_total",
		Help: "Smart account creations by result",
	}, []string{"result"})

	probes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "smartmint_resolver_probes_total",
		Help: "Contract and mint function probes by stage and result",
	}, []string{"stage", "result"})

	cache := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "smartmint_reader_cache_total",
		Help: "NFT reader cache lookups",
	}, []string{"field", "result"})

	replays := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "smartmint_idempotent_replays_total",
		Help: "API responses served from the idempotency store",
	})

	inclusion := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "smartmint_userop_inclusion_seconds",
		Help:    "Time from user operation submission to inclusion",
		Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120},
	})

	r := prometheus.NewRegistry()
	r.MustRegister(mint, sessions, probes, cache, replays, inclusion)

	return &Registry{
		registry:         r,
		mintAttempts:     mint,
		sessionCreations: sessions,
		resolverProbes:   probes,
		readerCache:      cache,
		idempotentReplay: replays,
		inclusionSeconds: inclusion,
	}
}

func (m *Registry) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Registry) IncMint(status, kind string) {
	if m == nil {
		return
	}
	m.mintAttempts.WithLabelValues(status, kind).Inc()
}

func (m *Registry) IncSession(result string) {
	if m == nil {
		return
	}
	m.sessionCreations.WithLabelValues(result).Inc()
}

func (m *Registry) IncProbe(stage, result string) {
	if m == nil {
		return
	}
	m.resolverProbes.WithLabelValues(stage, result).Inc()
}

func (m *Registry) IncCache(field string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.readerCache.WithLabelValues(field, result).Inc()
}

func (m *Registry) IncReplay() {
	if m == nil {
		return
	}
	m.idempotentReplay.Inc()
}

func (m *Registry) ObserveInclusion(d time.Duration) {
	if m == nil {
		return
	}
	m.inclusionSeconds.Observe(d.Seconds())
}
