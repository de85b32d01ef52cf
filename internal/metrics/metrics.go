// Package metrics provides Prometheus instrumentation.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "brokersync"

// Metrics holds every collector on its own registry
type Metrics struct {
	registry *prometheus.Registry

	// SyncsTotal counts reconciliation passes by terminal status.
	SyncsTotal *prometheus.CounterVec
	// SyncDuration tracks reconciliation pass latency.
	SyncDuration prometheus.Histogram
	// TransactionsTotal counts recorded ledger transactions by source.
	TransactionsTotal *prometheus.CounterVec
	// GatewayConnectAttempts counts gateway connection attempts by result.
	GatewayConnectAttempts *prometheus.CounterVec
	// QuotesTotal counts served quotes by source.
	QuotesTotal *prometheus.CounterVec
	// HubClients tracks connected realtime clients.
	HubClients prometheus.Gauge
	// BroadcastsTotal counts broadcasts by channel.
	BroadcastsTotal *prometheus.CounterVec
	// BroadcastDeliveries counts per-client deliveries by channel.
	BroadcastDeliveries *prometheus.CounterVec
	// RiskAlertsTotal counts raised risk alerts by kind.
	RiskAlertsTotal *prometheus.CounterVec
	// HTTPRequestsTotal counts HTTP requests by method, route and status.
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates collectors on a fresh registry, including Go runtime and process collectors
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		SyncsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "syncs_total",
			Help:      "Portfolio reconciliation passes by status",
		}, []string{"status"}),
		SyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Portfolio reconciliation duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		TransactionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Ledger transactions recorded by source",
		}, []string{"source"}),
		GatewayConnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_connect_attempts_total",
			Help:      "Brokerage gateway connection attempts by result",
		}, []string{"result"}),
		QuotesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quotes_total",
			Help:      "Quotes served by source",
		}, []string{"source"}),
		HubClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hub_clients",
			Help:      "Number of connected realtime clients",
		}),
		BroadcastsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hub_broadcasts_total",
			Help:      "Broadcasts by channel",
		}, []string{"channel"}),
		BroadcastDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hub_deliveries_total",
			Help:      "Messages queued to clients by channel",
		}, []string{"channel"}),
		RiskAlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_alerts_total",
			Help:      "Risk alerts raised by kind",
		}, []string{"kind"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.SyncsTotal,
		m.SyncDuration,
		m.TransactionsTotal,
		m.GatewayConnectAttempts,
		m.QuotesTotal,
		m.HubClients,
		m.BroadcastsTotal,
		m.BroadcastDeliveries,
		m.RiskAlertsTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)
	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveSync records a finished reconciliation pass
func (m *Metrics) ObserveSync(status string, d time.Duration) {
	m.SyncsTotal.WithLabelValues(status).Inc()
	m.SyncDuration.Observe(d.Seconds())
}

// ObserveTransaction records a ledger transaction
func (m *Metrics) ObserveTransaction(source string) {
	m.TransactionsTotal.WithLabelValues(source).Inc()
}

// ObserveConnectionAttempt records a gateway connection attempt
func (m *Metrics) ObserveConnectionAttempt(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	m.GatewayConnectAttempts.WithLabelValues(result).Inc()
}

// ObserveQuote records a served quote
func (m *Metrics) ObserveQuote(source string) {
	m.QuotesTotal.WithLabelValues(source).Inc()
}

// SetConnectedClients updates the realtime client gauge
func (m *Metrics) SetConnectedClients(n int) {
	m.HubClients.Set(float64(n))
}

// ObserveBroadcast records one broadcast and its fan-out
func (m *Metrics) ObserveBroadcast(channel string, delivered int) {
	if channel == "" {
		channel = "all"
	}
	m.BroadcastsTotal.WithLabelValues(channel).Inc()
	m.BroadcastDeliveries.WithLabelValues(channel).Add(float64(delivered))
}

// ObserveRiskAlert records a raised risk alert
func (m *Metrics) ObserveRiskAlert(kind string) {
	m.RiskAlertsTotal.WithLabelValues(kind).Inc()
}

// Middleware records request metrics labelled by chi route pattern
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		// Route pattern keeps label cardinality bounded
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack passes through to the underlying writer so websocket upgrades work behind the middleware
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

// Unwrap lets http.ResponseController reach the underlying writer
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
