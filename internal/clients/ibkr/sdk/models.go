package sdk

import (
	"encoding/json"
	"strconv"
	"strings"
)

// AuthStatus is the response of /iserver/auth/status
type AuthStatus struct {
	Authenticated bool   `json:"authenticated"`
	Connected     bool   `json:"connected"`
	Competing     bool   `json:"competing"`
	Message       string `json:"message"`
}

// Ready reports whether the brokerage session can serve requests
func (s AuthStatus) Ready() bool {
	return s.Authenticated && s.Connected && !s.Competing
}

// SummaryValue is one entry of the portfolio summary map
type SummaryValue struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// AccountSummary is the response of /portfolio/{accountId}/summary
type AccountSummary map[string]SummaryValue

// Amount returns the amount for key, 0 when absent
func (s AccountSummary) Amount(key string) float64 {
	return s[key].Amount
}

// Position is one entry of /portfolio/{accountId}/positions/{page}
type Position struct {
	AccountID     string  `json:"acctId"`
	ConID         FlexInt `json:"conid"`
	ContractDesc  string  `json:"contractDesc"`
	Ticker        string  `json:"ticker"`
	AssetClass    string  `json:"assetClass"`
	Currency      string  `json:"currency"`
	Position      float64 `json:"position"`
	MktPrice      float64 `json:"mktPrice"`
	MktValue      float64 `json:"mktValue"`
	AvgCost       float64 `json:"avgCost"`
	AvgPrice      float64 `json:"avgPrice"`
	UnrealizedPnl float64 `json:"unrealizedPnl"`
	RealizedPnl   float64 `json:"realizedPnl"`
}

// Symbol returns the ticker, falling back to the contract description
func (p Position) Symbol() string {
	if p.Ticker != "" {
		return p.Ticker
	}
	if fields := strings.Fields(p.ContractDesc); len(fields) > 0 {
		return fields[0]
	}
	return ""
}

// ContractMatch is one entry of /iserver/secdef/search
type ContractMatch struct {
	ConID       FlexInt `json:"conid"`
	Symbol      string  `json:"symbol"`
	CompanyName string  `json:"companyName"`
	Description string  `json:"description"`
}

// Snapshot field ids requested from /iserver/marketdata/snapshot
const (
	FieldLast      = "31"
	FieldSymbol    = "55"
	FieldChange    = "82"
	FieldChangePct = "83"
	FieldBid       = "84"
	FieldAsk       = "86"
	FieldVolume    = "87"
)

// SnapshotFields is the comma-joined field list used for quote snapshots
var SnapshotFields = strings.Join([]string{FieldLast, FieldSymbol, FieldChange, FieldChangePct, FieldBid, FieldAsk, FieldVolume}, ",")

// Snapshot is one entry of /iserver/marketdata/snapshot keyed by field id.
// Values arrive as strings with optional prefixes ("C" closing, "H" halted) and suffixes ("%", "K", "M").
type Snapshot map[string]json.RawMessage

// ConID returns the contract id of the snapshot row
func (s Snapshot) ConID() int64 {
	var v FlexInt
	if raw, ok := s["conid"]; ok {
		_ = json.Unmarshal(raw, &v)
	}
	return int64(v)
}

// String returns the raw string value of a field
func (s Snapshot) String(field string) string {
	raw, ok := s[field]
	if !ok {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	return strings.Trim(string(raw), `"`)
}

// Float parses a numeric field, tolerating gateway prefixes and suffixes
func (s Snapshot) Float(field string) float64 {
	v := strings.TrimSpace(s.String(field))
	if v == "" {
		return 0
	}
	v = strings.TrimLeft(v, "CH")
	v = strings.TrimSuffix(v, "%")
	multiplier := 1.0
	switch {
	case strings.HasSuffix(v, "K"):
		multiplier, v = 1e3, strings.TrimSuffix(v, "K")
	case strings.HasSuffix(v, "M"):
		multiplier, v = 1e6, strings.TrimSuffix(v, "M")
	case strings.HasSuffix(v, "B"):
		multiplier, v = 1e9, strings.TrimSuffix(v, "B")
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", ""), 64)
	if err != nil {
		return 0
	}
	return f * multiplier
}

// HistoryBar is one candle of /iserver/marketdata/history
type HistoryBar struct {
	Open   float64 `json:"o"`
	Close  float64 `json:"c"`
	High   float64 `json:"h"`
	Low    float64 `json:"l"`
	Volume float64 `json:"v"`
	Time   int64   `json:"t"` // epoch milliseconds
}

// HistoryResponse is the response of /iserver/marketdata/history
type HistoryResponse struct {
	Symbol string       `json:"symbol"`
	Data   []HistoryBar `json:"data"`
}

// OrderTicket is a single order in a place-order request
type OrderTicket struct {
	AccountID  string  `json:"acctId,omitempty"`
	ConID      int64   `json:"conid"`
	SecType    string  `json:"secType,omitempty"`
	OrderType  string  `json:"orderType"`
	Side       string  `json:"side"`
	Quantity   float64 `json:"quantity"`
	Price      float64 `json:"price,omitempty"`
	Tif        string  `json:"tif"`
	COID       string  `json:"cOID,omitempty"`
	ListingExc string  `json:"listingExchange,omitempty"`
}

// OrderReply is one element returned by order placement or reply confirmation.
// Either OrderID is set, or ID+Message carry a question that must be confirmed.
type OrderReply struct {
	OrderID     string   `json:"order_id"`
	OrderStatus string   `json:"order_status"`
	ID          string   `json:"id"`
	Message     []string `json:"message"`
	Error       string   `json:"error"`
}

// FlexInt decodes integers encoded either as JSON numbers or strings
type FlexInt int64

// UnmarshalJSON implements json.Unmarshaler
func (f *FlexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*f = FlexInt(n)
	return nil
}
