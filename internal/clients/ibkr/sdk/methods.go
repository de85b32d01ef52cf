package sdk

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// maxReplyConfirmations bounds the order-reply question loop
const maxReplyConfirmations = 5

// AuthStatus checks the brokerage session of the gateway
func (c *Client) AuthStatus(ctx context.Context) (AuthStatus, error) {
	var status AuthStatus
	err := c.do(ctx, "AuthStatus", http.MethodPost, "/iserver/auth/status", nil, nil, &status)
	return status, err
}

// Tickle keeps the gateway session alive
func (c *Client) Tickle(ctx context.Context) error {
	return c.do(ctx, "Tickle", http.MethodPost, "/tickle", nil, nil, nil)
}

// Accounts lists brokerage accounts available to the session
func (c *Client) Accounts(ctx context.Context) ([]string, error) {
	var resp struct {
		Accounts []string `json:"accounts"`
	}
	if err := c.do(ctx, "Accounts", http.MethodGet, "/iserver/accounts", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Accounts, nil
}

// AccountSummary fetches the portfolio summary of accountID
func (c *Client) AccountSummary(ctx context.Context, accountID string) (AccountSummary, error) {
	summary := AccountSummary{}
	path := fmt.Sprintf("/portfolio/%s/summary", url.PathEscape(accountID))
	if err := c.do(ctx, "AccountSummary", http.MethodGet, path, nil, nil, &summary); err != nil {
		return nil, err
	}
	return summary, nil
}

// Positions fetches every page of positions for accountID
func (c *Client) Positions(ctx context.Context, accountID string) ([]Position, error) {
	var all []Position
	for page := 0; ; page++ {
		var batch []Position
		path := fmt.Sprintf("/portfolio/%s/positions/%d", url.PathEscape(accountID), page)
		if err := c.do(ctx, "Positions", http.MethodGet, path, nil, nil, &batch); err != nil {
			return nil, err
		}
		all = append(all, batch...)
		// The gateway pages by 100 entries
		if len(batch) < 100 {
			return all, nil
		}
	}
}

// SearchContract resolves a symbol to contract matches
func (c *Client) SearchContract(ctx context.Context, symbol string) ([]ContractMatch, error) {
	var matches []ContractMatch
	q := url.Values{"symbol": {symbol}}
	if err := c.do(ctx, "SearchContract", http.MethodGet, "/iserver/secdef/search", q, nil, &matches); err != nil {
		return nil, err
	}
	return matches, nil
}

// Snapshot fetches market data snapshots for contract ids
func (c *Client) Snapshot(ctx context.Context, conids []int64) ([]Snapshot, error) {
	ids := make([]string, 0, len(conids))
	for _, id := range conids {
		ids = append(ids, strconv.FormatInt(id, 10))
	}
	q := url.Values{
		"conids": {strings.Join(ids, ",")},
		"fields": {SnapshotFields},
	}
	var rows []Snapshot
	if err := c.do(ctx, "Snapshot", http.MethodGet, "/iserver/marketdata/snapshot", q, nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// History fetches OHLCV bars for a contract
func (c *Client) History(ctx context.Context, conid int64, period, bar string) (HistoryResponse, error) {
	q := url.Values{
		"conid":  {strconv.FormatInt(conid, 10)},
		"period": {period},
		"bar":    {bar},
	}
	var resp HistoryResponse
	err := c.do(ctx, "History", http.MethodGet, "/iserver/marketdata/history", q, nil, &resp)
	return resp, err
}

// PlaceOrder submits an order and confirms any precautionary questions the gateway raises
func (c *Client) PlaceOrder(ctx context.Context, accountID string, ticket OrderTicket) (OrderReply, error) {
	body := map[string]interface{}{"orders": []OrderTicket{ticket}}
	path := fmt.Sprintf("/iserver/account/%s/orders", url.PathEscape(accountID))

	var replies []OrderReply
	if err := c.do(ctx, "PlaceOrder", http.MethodPost, path, nil, body, &replies); err != nil {
		return OrderReply{}, err
	}

	for i := 0; i < maxReplyConfirmations; i++ {
		if len(replies) == 0 {
			return OrderReply{}, fmt.Errorf("PlaceOrder: empty gateway reply")
		}
		reply := replies[0]
		if reply.Error != "" {
			return reply, fmt.Errorf("PlaceOrder: gateway rejected order: %s", reply.Error)
		}
		if reply.OrderID != "" {
			return reply, nil
		}
		if reply.ID == "" {
			return reply, fmt.Errorf("PlaceOrder: unexpected gateway reply")
		}

		c.log.Info().Str("reply_id", reply.ID).Strs("message", reply.Message).Msg("Confirming order reply")
		replies = nil
		confirm := map[string]bool{"confirmed": true}
		if err := c.do(ctx, "ConfirmOrder", http.MethodPost, "/iserver/reply/"+url.PathEscape(reply.ID), nil, confirm, &replies); err != nil {
			return OrderReply{}, err
		}
	}
	return OrderReply{}, fmt.Errorf("PlaceOrder: too many confirmation rounds")
}

// CancelOrder cancels an open order
func (c *Client) CancelOrder(ctx context.Context, accountID, orderID string) error {
	path := fmt.Sprintf("/iserver/account/%s/order/%s", url.PathEscape(accountID), url.PathEscape(orderID))
	var resp struct {
		Msg   string `json:"msg"`
		Error string `json:"error"`
	}
	if err := c.do(ctx, "CancelOrder", http.MethodDelete, path, nil, nil, &resp); err != nil {
		return err
	}
	if resp.Error != "" {
		return fmt.Errorf("CancelOrder: %s", resp.Error)
	}
	return nil
}
