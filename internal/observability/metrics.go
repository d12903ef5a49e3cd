// Package observability exposes Prometheus metrics for the financial core.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects HTTP and financial metrics on a private registry.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	fundsBlockedTotal    prometheus.Counter
	fundsBlockedCentimes prometheus.Counter
	jetonsIssuedTotal    prometheus.Counter
	jetonValidations     *prometheus.CounterVec
	discrepanciesTotal   *prometheus.CounterVec
}

// NewMetrics initialises the registry and metric families.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "prosartisan_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "prosartisan_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	fundsBlocked := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "prosartisan_escrow_funds_blocked_total",
		Help: "Escrows successfully blocked at the provider.",
	})
	fundsBlockedAmount := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "prosartisan_escrow_funds_blocked_centimes",
		Help: "Cumulative blocked amount in centimes.",
	})
	jetonsIssued := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "prosartisan_jetons_issued_total",
		Help: "Materials jetons issued.",
	})
	validations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "prosartisan_jeton_validations_total",
		Help: "Jeton redemption attempts by outcome code.",
	}, []string{"outcome"})
	discrepancies := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "prosartisan_reconciliation_discrepancies_total",
		Help: "Webhook deliveries that matched no domain record, by provider.",
	}, []string{"provider"})
	registry.MustRegister(requests, duration, fundsBlocked, fundsBlockedAmount, jetonsIssued, validations, discrepancies)
	return &Metrics{
		registry:             registry,
		handler:              promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:        requests,
		requestDuration:      duration,
		fundsBlockedTotal:    fundsBlocked,
		fundsBlockedCentimes: fundsBlockedAmount,
		jetonsIssuedTotal:    jetonsIssued,
		jetonValidations:     validations,
		discrepanciesTotal:   discrepancies,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for each HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveFundsBlocked counts a successful escrow block.
func (m *Metrics) ObserveFundsBlocked(centimes int64) {
	if m == nil {
		return
	}
	m.fundsBlockedTotal.Inc()
	m.fundsBlockedCentimes.Add(float64(centimes))
}

// ObserveJetonIssued counts an issued jeton.
func (m *Metrics) ObserveJetonIssued() {
	if m == nil {
		return
	}
	m.jetonsIssuedTotal.Inc()
}

// ObserveJetonValidation counts a redemption attempt by outcome code
// ("SUCCESS" or the rejection code).
func (m *Metrics) ObserveJetonValidation(outcome string) {
	if m == nil {
		return
	}
	m.jetonValidations.WithLabelValues(outcome).Inc()
}

// ObserveDiscrepancy counts an orphaned webhook delivery.
func (m *Metrics) ObserveDiscrepancy(provider string) {
	if m == nil {
		return
	}
	m.discrepanciesTotal.WithLabelValues(provider).Inc()
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
