// Package metrics holds the Prometheus collectors of the ledger service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricPrefix = "station_ledger_"

// Metrics is a set of collectors registered on one registry. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec

	settlementsSaved *prometheus.CounterVec
	missingPrice     prometheus.Counter
	storeConflicts   prometheus.Counter
	priceChanges     *prometheus.CounterVec
	exportsRendered  *prometheus.CounterVec
	documents        *prometheus.GaugeVec
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "http_requests_total",
				Help: "HTTP requests by route, method and status",
			},
			[]string{"route", "method", "status"},
		),
		httpLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		settlementsSaved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "settlements_saved_total",
				Help: "Settlements upserted by consumption mode",
			},
			[]string{"mode"},
		),
		missingPrice: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "missing_price_total",
			Help: "Derivations for a period without a covering price",
		}),
		storeConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "store_conflicts_total",
			Help: "Commits rejected because the collections changed concurrently",
		}),
		priceChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "price_changes_total",
				Help: "Price schedule mutations by operation",
			},
			[]string{"op"},
		),
		exportsRendered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "exports_total",
				Help: "Statement exports by format",
			},
			[]string{"format"},
		),
		documents: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "documents",
				Help: "Compliance documents by expiry status at the last scan",
			},
			[]string{"status"},
		),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		m.httpRequests,
		m.httpLatency,
		m.settlementsSaved,
		m.missingPrice,
		m.storeConflicts,
		m.priceChanges,
		m.exportsRendered,
		m.documents,
	)
	return m
}

// Registry exposes the underlying registry (tests gather from it).
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request count and latency per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		m.httpLatency.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) SettlementSaved(mode string) {
	if m == nil {
		return
	}
	m.settlementsSaved.WithLabelValues(mode).Inc()
}

func (m *Metrics) MissingPrice() {
	if m == nil {
		return
	}
	m.missingPrice.Inc()
}

func (m *Metrics) StoreConflict() {
	if m == nil {
		return
	}
	m.storeConflicts.Inc()
}

func (m *Metrics) PriceChanged(op string) {
	if m == nil {
		return
	}
	m.priceChanges.WithLabelValues(op).Inc()
}

func (m *Metrics) ExportRendered(format string) {
	if m == nil {
		return
	}
	m.exportsRendered.WithLabelValues(format).Inc()
}

func (m *Metrics) DocumentStatus(status string, n int) {
	if m == nil {
		return
	}
	m.documents.WithLabelValues(status).Set(float64(n))
}
