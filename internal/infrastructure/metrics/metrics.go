package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "marketdata"

// Metrics holds the service counters in a registry of its own, served on the
// metrics listener apart from the public API.
type Metrics struct {
	registry        *prometheus.Registry
	priceRequests   *prometheus.CounterVec
	cacheHits       prometheus.Counter
	refreshes       prometheus.Counter
	refreshFailures prometheus.Counter
	staleServed     prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		priceRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_requests_total",
			Help:      "Price requests by response status.",
		}, []string{"status"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Lookups answered by a fresh cached market.",
		}),
		refreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_refreshes_total",
			Help:      "Upstream refreshes started by the market cache.",
		}),
		refreshFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_refresh_failures_total",
			Help:      "Upstream refreshes that failed.",
		}),
		staleServed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_stale_served_total",
			Help:      "Failed refreshes answered with the last known price.",
		}),
	}

	m.registry.MustRegister(
		m.priceRequests,
		m.cacheHits,
		m.refreshes,
		m.refreshFailures,
		m.staleServed,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) PriceRequest(status int) {
	m.priceRequests.WithLabelValues(strconv.Itoa(status)).Inc()
}

func (m *Metrics) CacheHit()      { m.cacheHits.Inc() }
func (m *Metrics) Refresh()       { m.refreshes.Inc() }
func (m *Metrics) RefreshFailed() { m.refreshFailures.Inc() }
func (m *Metrics) StaleServed()   { m.staleServed.Inc() }

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Router serves the registry under GET /metrics.
func (m *Metrics) Router() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", m.Handler())
	return mux
}
