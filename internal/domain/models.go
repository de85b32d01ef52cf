// Package domain provides core domain models and types.
package domain

import (
	"strings"
	"time"
)

// SecType identifies the instrument class of a position (IBKR asset class codes).
type SecType string

const (
	SecTypeStock  SecType = "STK"
	SecTypeOption SecType = "OPT"
	SecTypeFuture SecType = "FUT"
	SecTypeCash   SecType = "CASH"
	SecTypeBond   SecType = "BOND"
)

// NormalizeSecType upper-cases a sec type and defaults empty values to STK.
func NormalizeSecType(s string) SecType {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return SecTypeStock
	}
	return SecType(s)
}

// Side is the direction of a transaction or order
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide accepts "buy"/"sell" in any case.
func ParseSide(s string) (Side, bool) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, true
	case SideSell:
		return SideSell, true
	}
	return "", false
}

// Sign returns +1 for buys and -1 for sells.
func (s Side) Sign() float64 {
	if s == SideSell {
		return -1
	}
	return 1
}

// PortfolioType distinguishes paper, live and demo portfolios
type PortfolioType string

const (
	PortfolioPaper PortfolioType = "paper"
	PortfolioLive  PortfolioType = "live"
	PortfolioDemo  PortfolioType = "demo"
)

// Valid reports whether t is a known portfolio type.
func (t PortfolioType) Valid() bool {
	switch t {
	case PortfolioPaper, PortfolioLive, PortfolioDemo:
		return true
	}
	return false
}

// PositionKey uniquely identifies a position inside a portfolio.
type PositionKey struct {
	Symbol  string
	SecType SecType
}

// Position represents a portfolio position.
// A position with zero quantity is retired and never kept in the ledger.
type Position struct {
	LastUpdated   time.Time `json:"lastUpdated" msgpack:"last_updated"`
	PortfolioID   string    `json:"portfolioId" msgpack:"portfolio_id"`
	Symbol        string    `json:"symbol" msgpack:"symbol"`
	SecType       SecType   `json:"secType" msgpack:"sec_type"`
	Quantity      float64   `json:"quantity" msgpack:"quantity"`
	AverageCost   float64   `json:"averageCost" msgpack:"average_cost"`
	MarketPrice   float64   `json:"marketPrice" msgpack:"market_price"`
	MarketValue   float64   `json:"marketValue" msgpack:"market_value"`
	UnrealizedPnL float64   `json:"unrealizedPnL" msgpack:"unrealized_pnl"`
}

// Key returns the (symbol, secType) identity of the position.
func (p Position) Key() PositionKey {
	return PositionKey{Symbol: p.Symbol, SecType: p.SecType}
}

// Transaction is an immutable, append-only ledger entry.
type Transaction struct {
	ExecutedAt  time.Time `json:"executedAt" msgpack:"executed_at"`
	ID          string    `json:"id" msgpack:"id"`
	PortfolioID string    `json:"portfolioId" msgpack:"portfolio_id"`
	Symbol      string    `json:"symbol" msgpack:"symbol"`
	SecType     SecType   `json:"secType" msgpack:"sec_type"`
	Side        Side      `json:"side" msgpack:"side"`
	Source      string    `json:"source,omitempty" msgpack:"source"` // manual, reconciliation, liquidation
	Note        string    `json:"note,omitempty" msgpack:"note"`
	Quantity    float64   `json:"quantity" msgpack:"quantity"`
	Price       float64   `json:"price" msgpack:"price"`
	Fees        float64   `json:"fees" msgpack:"fees"`
}

// SignedQuantity returns the quantity with the sign of the side.
func (t Transaction) SignedQuantity() float64 {
	return t.Side.Sign() * t.Quantity
}

// Transaction sources
const (
	SourceManual         = "manual"
	SourceReconciliation = "reconciliation"
	SourceLiquidation    = "liquidation"
)

// Portfolio holds the aggregate state of a locally owned ledger.
type Portfolio struct {
	CreatedAt       time.Time     `json:"createdAt" msgpack:"created_at"`
	UpdatedAt       time.Time     `json:"updatedAt" msgpack:"updated_at"`
	LastSyncedAt    *time.Time    `json:"lastSyncedAt,omitempty" msgpack:"last_synced_at"`
	ID              string        `json:"id" msgpack:"id"`
	OwnerID         string        `json:"ownerId" msgpack:"owner_id"`
	Name            string        `json:"name" msgpack:"name"`
	Type            PortfolioType `json:"type" msgpack:"type"`
	LinkedAccountID string        `json:"linkedAccountId,omitempty" msgpack:"linked_account_id"`
	CashBalance     float64       `json:"cashBalance" msgpack:"cash_balance"`
	TotalValue      float64       `json:"totalValue" msgpack:"total_value"`
	DayPnL          float64       `json:"dayPnL" msgpack:"day_pnl"`
	TotalPnL        float64       `json:"totalPnL" msgpack:"total_pnl"`
	RealizedPnL     float64       `json:"realizedPnL" msgpack:"realized_pnl"`
	AutoSyncMinutes int           `json:"autoSyncMinutes,omitempty" msgpack:"auto_sync_minutes"`
}

// AccountSnapshot is a point-in-time account summary fetched from the broker.
// It is never cached beyond a single reconciliation pass.
type AccountSnapshot struct {
	FetchedAt      time.Time `json:"fetchedAt"`
	AccountID      string    `json:"accountId"`
	Currency       string    `json:"currency"`
	NetLiquidation float64   `json:"netLiquidation"`
	Cash           float64   `json:"cash"`
	BuyingPower    float64   `json:"buyingPower"`
	RealizedPnL    float64   `json:"realizedPnL"`
	UnrealizedPnL  float64   `json:"unrealizedPnL"`
}

// AccountView is the account-channel projection of a portfolio.
type AccountView struct {
	UpdatedAt       time.Time `json:"updatedAt"`
	PortfolioID     string    `json:"portfolioId"`
	LinkedAccountID string    `json:"linkedAccountId,omitempty"`
	CashBalance     float64   `json:"cashBalance"`
	TotalValue      float64   `json:"totalValue"`
	DayPnL          float64   `json:"dayPnL"`
	TotalPnL        float64   `json:"totalPnL"`
}

// NewAccountView projects a portfolio onto the account channel.
func NewAccountView(p Portfolio) AccountView {
	return AccountView{
		UpdatedAt:       p.UpdatedAt,
		PortfolioID:     p.ID,
		LinkedAccountID: p.LinkedAccountID,
		CashBalance:     p.CashBalance,
		TotalValue:      p.TotalValue,
		DayPnL:          p.DayPnL,
		TotalPnL:        p.TotalPnL,
	}
}

// SyncStatus is the terminal state of a reconciliation pass
type SyncStatus string

const (
	SyncIdle           SyncStatus = "idle"
	SyncSyncing        SyncStatus = "syncing"
	SyncSuccess        SyncStatus = "success"
	SyncPartialFailure SyncStatus = "partial_failure"
	SyncFailed         SyncStatus = "failed"
)

// SyncResult reports the outcome of one reconciliation pass.
type SyncResult struct {
	StartedAt        time.Time  `json:"startedAt"`
	FinishedAt       time.Time  `json:"finishedAt"`
	PortfolioID      string     `json:"portfolioId"`
	Status           SyncStatus `json:"status"`
	Errors           []string   `json:"errors"`
	Success          bool       `json:"success"`
	PositionsUpdated int        `json:"positionsUpdated"`
	NewTransactions  int        `json:"newTransactions"`
}

// RiskAlertKind classifies a risk alert
type RiskAlertKind string

const (
	RiskPositionSize  RiskAlertKind = "position_size"
	RiskConcentration RiskAlertKind = "concentration"
)

// RiskAlert is raised when a portfolio breaches a configured limit.
type RiskAlert struct {
	RaisedAt    time.Time     `json:"raisedAt"`
	PortfolioID string        `json:"portfolioId"`
	Symbol      string        `json:"symbol,omitempty"`
	Kind        RiskAlertKind `json:"kind"`
	Message     string        `json:"message"`
	Value       float64       `json:"value"`
	Limit       float64       `json:"limit"`
}
