// Package ibkr provides the connection-managed client for the brokerage gateway.
package ibkr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/aristath/brokersync/internal/clients/ibkr/sdk"
	"github.com/aristath/brokersync/internal/domain"
)

// API is the subset of the gateway SDK used by the client (swappable in tests)
type API interface {
	AuthStatus(ctx context.Context) (sdk.AuthStatus, error)
	AccountSummary(ctx context.Context, accountID string) (sdk.AccountSummary, error)
	Positions(ctx context.Context, accountID string) ([]sdk.Position, error)
	SearchContract(ctx context.Context, symbol string) ([]sdk.ContractMatch, error)
	Snapshot(ctx context.Context, conids []int64) ([]sdk.Snapshot, error)
	History(ctx context.Context, conid int64, period, bar string) (sdk.HistoryResponse, error)
	PlaceOrder(ctx context.Context, accountID string, ticket sdk.OrderTicket) (sdk.OrderReply, error)
	CancelOrder(ctx context.Context, accountID, orderID string) error
}

// Metrics receives connection attempt outcomes
type Metrics interface {
	ObserveConnectionAttempt(success bool)
}

// Options configures the retry policy of the client
type Options struct {
	AccountID      string
	RetryDelay     time.Duration // fixed backoff between attempts
	MaxAttempts    int           // attempts per retry chain
	AttemptTimeout time.Duration // bound on a single auth status call
}

// DefaultOptions returns the standard retry policy: 5 attempts, 5s apart
func DefaultOptions() Options {
	return Options{
		RetryDelay:     5 * time.Second,
		MaxAttempts:    5,
		AttemptTimeout: 15 * time.Second,
	}
}

// Client maintains connectivity to exactly one gateway and exposes blocking calls.
type Client struct {
	api  API
	opts Options
	log  zerolog.Logger

	group singleflight.Group

	mu         sync.Mutex
	state      domain.ConnectionState
	retryTimer *time.Timer
	closed     bool
	observers  []func(domain.ConnectionState)
	metrics    Metrics

	conidMu sync.RWMutex
	conids  map[string]int64
}

// NewClient creates a gateway client on top of an SDK implementation
func NewClient(api API, opts Options, log zerolog.Logger) *Client {
	defaults := DefaultOptions()
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaults.RetryDelay
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaults.MaxAttempts
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = defaults.AttemptTimeout
	}
	return &Client{
		api:    api,
		opts:   opts,
		log:    log.With().Str("client", "ibkr").Logger(),
		state:  domain.ConnectionState{Status: domain.StatusDisconnected},
		conids: make(map[string]int64),
	}
}

// SetMetrics attaches a metrics sink
func (c *Client) SetMetrics(m Metrics) {
	c.mu.Lock()
	c.metrics = m
	c.mu.Unlock()
}

// OnStateChange registers an observer called after every connection state transition
func (c *Client) OnStateChange(fn func(domain.ConnectionState)) {
	c.mu.Lock()
	c.observers = append(c.observers, fn)
	c.mu.Unlock()
}

// Connect checks the gateway session. On failure it schedules one delayed retry
// (up to MaxAttempts per chain) and returns false without waiting for it.
// Concurrent callers share a single in-flight attempt; while a retry is pending
// callers return false immediately instead of starting another chain.
func (c *Client) Connect(ctx context.Context) bool {
	return c.connect(ctx, false)
}

// The shared attempt is detached from the caller's cancellation so one caller
// giving up neither fails the joiners nor counts against the retry chain.
// attempt still bounds it by AttemptTimeout.
func (c *Client) connect(ctx context.Context, fromRetry bool) bool {
	shared := context.WithoutCancel(ctx)
	v, _, _ := c.group.Do("connect", func() (interface{}, error) {
		return c.attempt(shared, fromRetry), nil
	})
	return v.(bool)
}

func (c *Client) attempt(ctx context.Context, fromRetry bool) bool {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return false
	case c.state.Status == domain.StatusConnected:
		c.mu.Unlock()
		return true
	case c.retryTimer != nil && !fromRetry:
		c.mu.Unlock()
		c.log.Debug().Msg("Connect skipped, retry already pending")
		return false
	}
	if !fromRetry && c.state.ConnectionAttempts >= c.opts.MaxAttempts {
		// The previous chain is exhausted; an explicit connect starts a new one
		c.state.ConnectionAttempts = 0
	}
	c.state.Status = domain.StatusConnecting
	c.mu.Unlock()
	c.notify()

	attemptCtx, cancel := context.WithTimeout(ctx, c.opts.AttemptTimeout)
	status, err := c.api.AuthStatus(attemptCtx)
	cancel()
	if err == nil && !status.Ready() {
		err = fmt.Errorf("gateway session not ready (authenticated=%t connected=%t competing=%t) %s",
			status.Authenticated, status.Connected, status.Competing, status.Message)
	}

	c.mu.Lock()
	metrics := c.metrics
	if err == nil {
		now := time.Now()
		c.state = domain.ConnectionState{
			Status:          domain.StatusConnected,
			Connected:       true,
			LastConnectedAt: &now,
		}
		c.stopRetryLocked()
		c.mu.Unlock()
		c.log.Info().Msg("Connected to brokerage gateway")
	} else {
		c.state.ConnectionAttempts++
		c.state.Status = domain.StatusDisconnected
		c.state.Connected = false
		c.state.LastError = err.Error()
		attempts := c.state.ConnectionAttempts
		scheduled := false
		if attempts < c.opts.MaxAttempts && c.retryTimer == nil && !c.closed {
			c.retryTimer = time.AfterFunc(c.opts.RetryDelay, c.retry)
			scheduled = true
		}
		c.mu.Unlock()
		c.log.Warn().
			Err(err).
			Int("attempt", attempts).
			Int("max_attempts", c.opts.MaxAttempts).
			Bool("retry_scheduled", scheduled).
			Msg("Gateway connection attempt failed")
	}

	if metrics != nil {
		metrics.ObserveConnectionAttempt(err == nil)
	}
	c.notify()
	return err == nil
}

func (c *Client) retry() {
	c.mu.Lock()
	c.retryTimer = nil
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	c.connect(context.Background(), true)
}

func (c *Client) stopRetryLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

// Disconnect cancels any pending retry and marks the client disconnected
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.stopRetryLocked()
	c.state.Status = domain.StatusDisconnected
	c.state.Connected = false
	c.mu.Unlock()
	c.notify()
}

// Close disconnects and prevents further connection attempts
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.Disconnect()
}

// IsConnected reports whether the last connection check succeeded
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Status == domain.StatusConnected
}

// ConnectionStats returns a copy of the connection state
func (c *Client) ConnectionStats() domain.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Client) snapshotLocked() domain.ConnectionState {
	s := c.state
	s.RetryPending = c.retryTimer != nil
	if s.LastConnectedAt != nil {
		t := *s.LastConnectedAt
		s.LastConnectedAt = &t
	}
	return s
}

func (c *Client) notify() {
	c.mu.Lock()
	state := c.snapshotLocked()
	observers := append(([]func(domain.ConnectionState))(nil), c.observers...)
	c.mu.Unlock()
	for _, fn := range observers {
		fn(state)
	}
}

// handleCallError marks the client disconnected when the gateway itself is unreachable
// or the session expired, so the next caller sees NotConnectedError and reconnects.
func (c *Client) handleCallError(err error) {
	var te *domain.TransportError
	if !errors.As(err, &te) {
		return
	}
	if te.StatusCode != 0 && te.StatusCode != http.StatusUnauthorized {
		return
	}
	c.mu.Lock()
	wasConnected := c.state.Status == domain.StatusConnected
	c.state.Status = domain.StatusDisconnected
	c.state.Connected = false
	c.state.LastError = err.Error()
	c.mu.Unlock()
	if wasConnected {
		c.log.Warn().Err(err).Msg("Gateway call failed, marking disconnected")
		c.notify()
	}
}

func (c *Client) accountID(accountID string) (string, error) {
	if accountID != "" {
		return accountID, nil
	}
	if c.opts.AccountID != "" {
		return c.opts.AccountID, nil
	}
	return "", domain.NewValidationError("accountId", "is required (no default account configured)")
}

// AccountInfo fetches a fresh account snapshot
func (c *Client) AccountInfo(ctx context.Context, accountID string) (domain.AccountSnapshot, error) {
	if !c.IsConnected() {
		return domain.AccountSnapshot{}, &domain.NotConnectedError{Op: "AccountInfo"}
	}
	acct, err := c.accountID(accountID)
	if err != nil {
		return domain.AccountSnapshot{}, err
	}

	summary, err := c.api.AccountSummary(ctx, acct)
	if err != nil {
		c.handleCallError(err)
		return domain.AccountSnapshot{}, fmt.Errorf("failed to get account summary: %w", err)
	}
	return transformAccountSummary(acct, summary), nil
}

// Positions fetches broker-reported positions
func (c *Client) Positions(ctx context.Context, accountID string) ([]domain.BrokerPosition, error) {
	if !c.IsConnected() {
		return nil, &domain.NotConnectedError{Op: "Positions"}
	}
	acct, err := c.accountID(accountID)
	if err != nil {
		return nil, err
	}

	raw, err := c.api.Positions(ctx, acct)
	if err != nil {
		c.handleCallError(err)
		return nil, fmt.Errorf("failed to get positions: %w", err)
	}

	c.conidMu.Lock()
	for _, p := range raw {
		if sym := p.Symbol(); sym != "" && p.ConID != 0 {
			c.conids[strings.ToUpper(sym)] = int64(p.ConID)
		}
	}
	c.conidMu.Unlock()

	c.log.Debug().Int("positions_count", len(raw)).Str("account_id", acct).Msg("Positions fetched")
	return transformPositions(acct, raw), nil
}

// ValidateOrder checks the order shape before any network call
func ValidateOrder(contract domain.Contract, order domain.Order) error {
	if strings.TrimSpace(contract.Symbol) == "" {
		return domain.NewValidationError("symbol", "is required")
	}
	if strings.TrimSpace(string(contract.SecType)) == "" {
		return domain.NewValidationError("secType", "is required")
	}
	if order.Quantity <= 0 {
		return domain.NewValidationError("quantity", "must be positive")
	}
	if order.Side != domain.SideBuy && order.Side != domain.SideSell {
		return domain.NewValidationError("side", "must be BUY or SELL")
	}
	switch order.Type {
	case domain.OrderLimit:
		if order.LimitPrice <= 0 {
			return domain.NewValidationError("limitPrice", "is required for limit orders")
		}
	case domain.OrderMarket:
	default:
		return domain.NewValidationError("orderType", "must be MKT or LMT")
	}
	return nil
}

// PlaceOrder validates and submits an order, returning the broker order id
func (c *Client) PlaceOrder(ctx context.Context, contract domain.Contract, order domain.Order) (string, error) {
	if err := ValidateOrder(contract, order); err != nil {
		return "", err
	}
	if !c.IsConnected() {
		return "", &domain.NotConnectedError{Op: "PlaceOrder"}
	}
	acct, err := c.accountID("")
	if err != nil {
		return "", err
	}

	conid := contract.ConID
	if conid == 0 {
		conid, err = c.resolveConID(ctx, contract.Symbol)
		if err != nil {
			return "", err
		}
	}

	tif := order.TimeInForce
	if tif == "" {
		tif = "DAY"
	}
	ticket := sdk.OrderTicket{
		AccountID: acct,
		ConID:     conid,
		SecType:   fmt.Sprintf("%d:%s", conid, domain.NormalizeSecType(string(contract.SecType))),
		OrderType: string(order.Type),
		Side:      string(order.Side),
		Quantity:  order.Quantity,
		Tif:       tif,
	}
	if order.Type == domain.OrderLimit {
		ticket.Price = order.LimitPrice
	}

	c.log.Info().
		Str("symbol", contract.Symbol).
		Str("side", string(order.Side)).
		Float64("quantity", order.Quantity).
		Str("order_type", string(order.Type)).
		Msg("Placing order")

	reply, err := c.api.PlaceOrder(ctx, acct, ticket)
	if err != nil {
		c.handleCallError(err)
		return "", fmt.Errorf("failed to place order: %w", err)
	}
	return reply.OrderID, nil
}

// CancelOrder cancels an open order
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if strings.TrimSpace(orderID) == "" {
		return domain.NewValidationError("orderId", "is required")
	}
	if !c.IsConnected() {
		return &domain.NotConnectedError{Op: "CancelOrder"}
	}
	acct, err := c.accountID("")
	if err != nil {
		return err
	}
	if err := c.api.CancelOrder(ctx, acct, orderID); err != nil {
		c.handleCallError(err)
		return fmt.Errorf("failed to cancel order: %w", err)
	}
	return nil
}

// resolveConID maps a symbol to a contract id, caching results
func (c *Client) resolveConID(ctx context.Context, symbol string) (int64, error) {
	key := strings.ToUpper(strings.TrimSpace(symbol))
	c.conidMu.RLock()
	conid, ok := c.conids[key]
	c.conidMu.RUnlock()
	if ok {
		return conid, nil
	}

	matches, err := c.api.SearchContract(ctx, key)
	if err != nil {
		c.handleCallError(err)
		return 0, fmt.Errorf("failed to resolve contract for %s: %w", key, err)
	}
	for _, m := range matches {
		if m.ConID != 0 && strings.EqualFold(m.Symbol, key) {
			conid = int64(m.ConID)
			break
		}
	}
	if conid == 0 && len(matches) > 0 {
		conid = int64(matches[0].ConID)
	}
	if conid == 0 {
		return 0, domain.NewValidationError("symbol", fmt.Sprintf("no contract found for %s", key))
	}

	c.conidMu.Lock()
	c.conids[key] = conid
	c.conidMu.Unlock()
	return conid, nil
}
