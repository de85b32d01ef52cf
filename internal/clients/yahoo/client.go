// Package yahoo provides the fallback market data source backed by Yahoo Finance via go-yfinance.
package yahoo

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/brokersync/internal/domain"
)

const (
	// quotesPeriod is wide enough to always contain the previous session
	quotesPeriod     = "5d"
	defaultPeriod    = "1mo"
	defaultInterval  = "1d"
	defaultTimeout   = 10 * time.Second
	maxErrorsInError = 10
)

// Client is the Yahoo Finance fallback source
type Client struct {
	feed    feed
	timeout time.Duration
	log     zerolog.Logger
}

// NewClient creates a new Yahoo Finance client. timeout bounds each upstream call.
func NewClient(timeout time.Duration, log zerolog.Logger) *Client {
	return newClient(yfinanceFeed{}, timeout, log)
}

func newClient(f feed, timeout time.Duration, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		feed:    f,
		timeout: timeout,
		log:     log.With().Str("client", "yahoo").Logger(),
	}
}

// Name identifies the source on quotes it produces
func (c *Client) Name() string {
	return domain.QuoteSourceFallback
}

// call runs a blocking library call, giving up when ctx is done or the timeout elapses.
// The abandoned call finishes in the background.
func call[T any](ctx context.Context, timeout time.Duration, op string, fn func() (T, error)) (T, error) {
	var zero T
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		val T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn()
		done <- outcome{val: v, err: err}
	}()

	select {
	case <-ctx.Done():
		return zero, &domain.TransportError{Op: op, Err: ctx.Err()}
	case out := <-done:
		if out.err != nil {
			return zero, &domain.TransportError{Op: op, Err: out.err}
		}
		return out.val, nil
	}
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func fallbackQuote(sym string, price, prev float64) domain.Quote {
	q := domain.Quote{
		Timestamp: time.Now(),
		Symbol:    sym,
		Source:    domain.QuoteSourceFallback,
		Price:     price,
		Fallback:  true,
	}
	if prev > 0 {
		q.Change = price - prev
		q.ChangePct = q.Change / prev * 100
	}
	return q
}

// Quote returns the latest quote for a symbol
func (c *Client) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	sym := normalize(symbol)
	if sym == "" {
		return domain.Quote{}, domain.NewValidationError("symbol", "is required")
	}

	snap, err := call(ctx, c.timeout, "yahoo quote "+sym, func() (snapshot, error) {
		return c.feed.snapshot(sym)
	})
	if err != nil {
		return domain.Quote{}, err
	}
	return fallbackQuote(sym, snap.Price, snap.PreviousClose), nil
}

type downloadResult struct {
	data map[string][]domain.Bar
	errs map[string]error
}

// Quotes fetches daily candles for all symbols in one batch and quotes the last close.
// Symbols without data are reported in the error alongside the quotes that were served.
func (c *Client) Quotes(ctx context.Context, symbols []string) ([]domain.Quote, error) {
	wanted := make([]string, 0, len(symbols))
	seen := make(map[string]bool, len(symbols))
	for _, raw := range symbols {
		sym := normalize(raw)
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		wanted = append(wanted, sym)
	}
	if len(wanted) == 0 {
		return nil, domain.NewValidationError("symbols", "at least one symbol is required")
	}

	res, err := call(ctx, c.timeout, "yahoo download", func() (downloadResult, error) {
		data, errs, err := c.feed.download(wanted, quotesPeriod, defaultInterval)
		return downloadResult{data: data, errs: errs}, err
	})
	if err != nil {
		return nil, err
	}

	quotes := make([]domain.Quote, 0, len(wanted))
	var failed []string
	for _, sym := range wanted {
		bars := res.data[sym]
		if len(bars) == 0 {
			reason := "no data"
			if e, ok := res.errs[sym]; ok && e != nil {
				reason = e.Error()
			}
			failed = append(failed, fmt.Sprintf("%s: %s", sym, reason))
			continue
		}

		last := bars[len(bars)-1]
		var prev float64
		if len(bars) > 1 {
			prev = bars[len(bars)-2].Close
		}
		q := fallbackQuote(sym, last.Close, prev)
		q.Volume = last.Volume
		if !last.Time.IsZero() {
			q.Timestamp = last.Time
		}
		quotes = append(quotes, q)
	}

	if len(failed) > 0 {
		sort.Strings(failed)
		c.log.Warn().Strs("failed", failed).Msg("Some fallback quotes failed")
		if len(failed) > maxErrorsInError {
			failed = append(failed[:maxErrorsInError], fmt.Sprintf("and %d more", len(failed)-maxErrorsInError))
		}
		return quotes, fmt.Errorf("incomplete quotes: %s", strings.Join(failed, "; "))
	}
	return quotes, nil
}

// History returns OHLCV bars. Period uses Yahoo range notation ("1mo", "1y"), interval e.g. "1d".
func (c *Client) History(ctx context.Context, symbol, period, interval string) ([]domain.Bar, error) {
	sym := normalize(symbol)
	if sym == "" {
		return nil, domain.NewValidationError("symbol", "is required")
	}
	if period == "" {
		period = defaultPeriod
	}
	if interval == "" {
		interval = defaultInterval
	}

	bars, err := call(ctx, c.timeout, "yahoo history "+sym, func() ([]domain.Bar, error) {
		return c.feed.history(sym, period, interval)
	})
	if err != nil {
		return nil, err
	}
	if bars == nil {
		bars = []domain.Bar{}
	}
	c.log.Debug().Str("symbol", sym).Str("period", period).Int("count", len(bars)).Msg("Fetched fallback history")
	return bars, nil
}
