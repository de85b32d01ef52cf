// Package sdk provides the raw HTTP client for an IBKR Client Portal gateway.
package sdk

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/brokersync/internal/domain"
)

const (
	apiPrefix        = "/v1/api"
	minRequestGap    = 100 * time.Millisecond // gateway allows ~10 req/s
	maxErrorBodySize = 500
)

// Config configures the SDK client
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	InsecureTLS bool
}

// Client represents the gateway SDK client
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger

	mu          sync.Mutex
	lastRequest time.Time
	minGap      time.Duration
}

// NewClient creates a new gateway SDK client
func NewClient(cfg Config, log zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // local gateway self-signed cert
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		log:        log.With().Str("component", "ibkr-sdk").Logger(),
		minGap:     minRequestGap,
	}
}

// throttle spaces consecutive requests by minGap
func (c *Client) throttle(ctx context.Context) error {
	c.mu.Lock()
	wait := c.minGap - time.Since(c.lastRequest)
	if wait < 0 {
		wait = 0
	}
	c.lastRequest = time.Now().Add(wait)
	c.mu.Unlock()

	if wait == 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// do sends a request and decodes the JSON response into out (if non-nil)
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out interface{}) error {
	if err := c.throttle(ctx); err != nil {
		return &domain.TransportError{Op: op, Err: err}
	}

	requestURL := c.baseURL + apiPrefix + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: failed to encode request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "brokersync/1.0")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyStr := truncate(string(data))
		c.log.Error().
			Int("status_code", resp.StatusCode).
			Str("response_body", bodyStr).
			Str("url", requestURL).
			Msg("Gateway returned non-2xx status")
		return &domain.TransportError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Err:        errors.New(bodyStr),
		}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		c.log.Error().Err(err).Str("response_body", truncate(string(data))).Str("url", requestURL).Msg("Failed to parse gateway response")
		return &domain.TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	return nil
}

func truncate(s string) string {
	if len(s) > maxErrorBodySize {
		return s[:maxErrorBodySize] + "..."
	}
	return s
}
