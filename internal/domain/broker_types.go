package domain

import "time"

// Broker-agnostic types for the gateway client

// ConnectionStatus is the lifecycle state of the gateway connection
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
)

// ConnectionState is a read-only view of the gateway connection.
type ConnectionState struct {
	LastConnectedAt    *time.Time       `json:"lastConnectedAt,omitempty"`
	Status             ConnectionStatus `json:"status"`
	LastError          string           `json:"lastError,omitempty"`
	ConnectionAttempts int              `json:"connectionAttempts"`
	Connected          bool             `json:"connected"`
	RetryPending       bool             `json:"retryPending"`
}

// BrokerPosition represents a position as reported by the broker
type BrokerPosition struct {
	AccountID     string  // Broker account
	Symbol        string  // Ticker
	SecType       SecType // Asset class
	Currency      string  // Position currency
	ConID         int64   // Broker contract id
	Quantity      float64 // Signed quantity
	AvgCost       float64 // Average cost per unit
	MarketPrice   float64 // Last price
	MarketValue   float64 // Position value
	UnrealizedPnL float64 // Unrealized profit/loss
}

// Quote sources
const (
	QuoteSourcePrimary  = "ibkr"
	QuoteSourceFallback = "yahoo"
)

// Quote is a market data snapshot. Source marks which provider produced it.
type Quote struct {
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol"`
	Source    string    `json:"source"`
	Price     float64   `json:"price"`
	Bid       float64   `json:"bid,omitempty"`
	Ask       float64   `json:"ask,omitempty"`
	Change    float64   `json:"change"`
	ChangePct float64   `json:"changePct"`
	Volume    int64     `json:"volume"`
	Fallback  bool      `json:"fallback"`
}

// Bar is a single OHLCV candle
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// History is a bar series tagged with the provider that produced it, like Quote
type History struct {
	Symbol   string `json:"symbol"`
	Source   string `json:"source"`
	Bars     []Bar  `json:"bars"`
	Fallback bool   `json:"fallback"`
}

// OrderType is the execution style of an order
type OrderType string

const (
	OrderMarket OrderType = "MKT"
	OrderLimit  OrderType = "LMT"
)

// Contract identifies the instrument an order is placed on
type Contract struct {
	Symbol   string  `json:"symbol"`
	SecType  SecType `json:"secType"`
	Exchange string  `json:"exchange,omitempty"`
	Currency string  `json:"currency,omitempty"`
	ConID    int64   `json:"conid,omitempty"`
}

// Order describes what to trade
type Order struct {
	Side        Side      `json:"side"`
	Type        OrderType `json:"orderType"`
	TimeInForce string    `json:"tif,omitempty"`
	Quantity    float64   `json:"quantity"`
	LimitPrice  float64   `json:"limitPrice,omitempty"`
}
