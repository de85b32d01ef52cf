package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/brokersync/internal/config"
	"github.com/aristath/brokersync/internal/di"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{
		DataDir:  t.TempDir(),
		LogLevel: "info",
		Port:     0,
		DevMode:  true,
		Gateway: config.GatewayConfig{
			BaseURL:        "http://127.0.0.1:1",
			AccountID:      "U1",
			RequestTimeout: 200 * time.Millisecond,
			RetryDelay:     time.Hour,
			MaxAttempts:    1,
			QuoteCacheTTL:  time.Second,
		},
		Fallback: config.FallbackConfig{RequestTimeout: 200 * time.Millisecond},
		Hub: config.HubConfig{
			SweepInterval:    time.Second,
			HeartbeatTimeout: 2 * time.Second,
			SendBuffer:       8,
		},
		Risk:                  config.RiskConfig{MaxPositionValue: 10000, MaxConcentration: 0.25},
		SystemStatusInterval:  time.Second,
		MarketRefreshInterval: time.Minute,
	}

	container, err := di.Wire(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)

	s := New(Config{
		Log:       zerolog.Nop(),
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
		Container: container,
	})
	s.systemHandlers.systemStats = func() (float64, float64) { return 12.5, 40 }
	return s
}

func serve(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := serve(s, "GET", "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "brokersync", body["service"])
	assert.Equal(t, false, body["connected"])
}

func TestRoutesMounted(t *testing.T) {
	s := newTestServer(t)

	testCases := []struct {
		method string
		path   string
		status int
	}{
		{"GET", "/metrics", http.StatusOK},
		{"GET", "/api/system/status", http.StatusOK},
		{"GET", "/api/system/jobs", http.StatusOK},
		{"GET", "/api/gateway/status", http.StatusOK},
		{"GET", "/api/portfolios/", http.StatusOK},
		{"GET", "/api/risk/limits", http.StatusOK},
		{"GET", "/api/portfolios/missing/", http.StatusNotFound},
		{"GET", "/api/market/quotes", http.StatusBadRequest},
	}
	for _, tc := range testCases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			rec := serve(s, tc.method, tc.path, "")
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}
}

func TestSystemStatus(t *testing.T) {
	s := newTestServer(t)

	rec := serve(s, "GET", "/api/system/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 12.5, body["cpuPercent"])
	assert.Equal(t, 40.0, body["memoryPercent"])
	assert.Equal(t, 0.0, body["clients"])
	assert.Contains(t, body, "gateway")
}

func TestJobsStatus(t *testing.T) {
	s := newTestServer(t)

	rec := serve(s, "GET", "/api/system/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp JobsStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.TotalJobs)
	names := make([]string, 0, len(resp.Jobs))
	for _, j := range resp.Jobs {
		names = append(names, j.Name)
	}
	assert.Equal(t, []string{di.JobGatewayTickle, di.JobMarketRefresh, di.JobQuoteCachePurge}, names)
}

func TestGatewayConnect_Unreachable(t *testing.T) {
	s := newTestServer(t)
	defer s.container.Gateway.Close()

	rec := serve(s, "POST", "/api/gateway/connect", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"connected":false`)
}

func TestPublishSignal(t *testing.T) {
	s := newTestServer(t)

	rec := serve(s, "POST", "/api/signals", `{"symbol":"aapl","action":"buy","confidence":0.8}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = serve(s, "POST", "/api/signals", `{"symbol":"AAPL","action":"maybe"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(s, "POST", "/api/signals", `{"symbol":"AAPL","action":"SELL","confidence":2}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(s, "POST", "/api/signals", `{"action":"SELL"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusMonitor_StartStop(t *testing.T) {
	s := newTestServer(t)

	m := s.statusMonitor
	m.Start(context.Background(), 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	m.Stop()
	// Stop is idempotent
	m.Stop()
}

func TestStatusMonitor_Disabled(t *testing.T) {
	s := newTestServer(t)

	s.statusMonitor.Start(context.Background(), 0)
	s.statusMonitor.Stop()
}
