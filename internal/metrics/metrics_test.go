package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservers(t *testing.T) {
	m := New()

	m.ObserveSync("success", 200*time.Millisecond)
	m.ObserveSync("partial_failure", time.Second)
	m.ObserveConnectionAttempt(true)
	m.ObserveConnectionAttempt(false)
	m.ObserveConnectionAttempt(false)
	m.ObserveQuote("yahoo")
	m.ObserveTransaction("manual")
	m.SetConnectedClients(3)
	m.ObserveBroadcast("", 3)
	m.ObserveBroadcast("positions", 2)
	m.ObserveRiskAlert("concentration")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SyncsTotal.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.GatewayConnectAttempts.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QuotesTotal.WithLabelValues("yahoo")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.HubClients))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BroadcastsTotal.WithLabelValues("all")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BroadcastDeliveries.WithLabelValues("positions")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RiskAlertsTotal.WithLabelValues("concentration")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.SyncsTotal))
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/portfolios/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Handle("/metrics", m.Handler())

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/portfolios/"+id, nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/portfolios/{id}", "404")))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "brokersync_http_requests_total")
}
