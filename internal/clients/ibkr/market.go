package ibkr

import (
	"context"
	"fmt"
	"strings"

	"github.com/aristath/brokersync/internal/domain"
)

// Name identifies the client as a market data source
func (c *Client) Name() string {
	return domain.QuoteSourcePrimary
}

// Available reports whether the client can serve market data right now
func (c *Client) Available() bool {
	return c.IsConnected()
}

// Quote returns a snapshot quote for one symbol
func (c *Client) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	quotes, err := c.Quotes(ctx, []string{symbol})
	if err != nil {
		return domain.Quote{}, err
	}
	if len(quotes) == 0 {
		return domain.Quote{}, fmt.Errorf("no quote returned for %s", symbol)
	}
	return quotes[0], nil
}

// Quotes returns snapshot quotes for several symbols in one gateway call.
// Symbols without a usable price are reported in the returned error alongside the quotes that succeeded.
func (c *Client) Quotes(ctx context.Context, symbols []string) ([]domain.Quote, error) {
	if !c.IsConnected() {
		return nil, &domain.NotConnectedError{Op: "Quotes"}
	}
	if len(symbols) == 0 {
		return nil, nil
	}

	bySymbol := make(map[int64]string, len(symbols))
	conids := make([]int64, 0, len(symbols))
	var missing []string
	for _, s := range symbols {
		sym := strings.ToUpper(strings.TrimSpace(s))
		conid, err := c.resolveConID(ctx, sym)
		if err != nil {
			missing = append(missing, fmt.Sprintf("%s: %v", sym, err))
			continue
		}
		if _, dup := bySymbol[conid]; dup {
			continue
		}
		bySymbol[conid] = sym
		conids = append(conids, conid)
	}
	if len(conids) == 0 {
		return nil, fmt.Errorf("no quotes available: %s", strings.Join(missing, "; "))
	}

	rows, err := c.api.Snapshot(ctx, conids)
	if err != nil {
		c.handleCallError(err)
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	seen := make(map[int64]bool, len(rows))
	quotes := make([]domain.Quote, 0, len(rows))
	for _, row := range rows {
		conid := row.ConID()
		sym, ok := bySymbol[conid]
		if !ok {
			continue
		}
		seen[conid] = true
		q, err := transformSnapshot(sym, row)
		if err != nil {
			missing = append(missing, err.Error())
			continue
		}
		quotes = append(quotes, q)
	}
	for _, conid := range conids {
		if !seen[conid] {
			missing = append(missing, fmt.Sprintf("no snapshot for %s", bySymbol[conid]))
		}
	}

	if len(missing) > 0 {
		return quotes, fmt.Errorf("incomplete quotes: %s", strings.Join(missing, "; "))
	}
	return quotes, nil
}

// History returns historical bars. Period and interval use chart notation ("1mo", "1y", "5m", "1d")
// and are translated to gateway notation.
func (c *Client) History(ctx context.Context, symbol, period, interval string) ([]domain.Bar, error) {
	if !c.IsConnected() {
		return nil, &domain.NotConnectedError{Op: "History"}
	}
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if sym == "" {
		return nil, domain.NewValidationError("symbol", "is required")
	}
	conid, err := c.resolveConID(ctx, sym)
	if err != nil {
		return nil, err
	}
	resp, err := c.api.History(ctx, conid, gatewayPeriod(period), gatewayBar(interval))
	if err != nil {
		c.handleCallError(err)
		return nil, fmt.Errorf("failed to get history for %s: %w", sym, err)
	}
	return transformHistory(resp), nil
}

// gatewayPeriod converts "1mo" style periods to the gateway's "1m"
func gatewayPeriod(period string) string {
	switch {
	case period == "":
		return "1m"
	case strings.HasSuffix(period, "mo"):
		return strings.TrimSuffix(period, "o")
	}
	return period
}

// gatewayBar converts "5m" style minute intervals to the gateway's "5min"
func gatewayBar(interval string) string {
	switch {
	case interval == "":
		return "1d"
	case strings.HasSuffix(interval, "m") && !strings.HasSuffix(interval, "min"):
		return interval + "in"
	}
	return interval
}
