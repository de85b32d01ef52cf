package portfolio

import (
	"context"
	"math"
	"strings"

	"github.com/aristath/brokersync/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionResult is a recorded transaction and its effect on the ledger
type TransactionResult struct {
	Transaction domain.Transaction `json:"transaction"`
	Position    domain.Position    `json:"position"`
	Retired     bool               `json:"retired"`
	RealizedPnL float64            `json:"realizedPnL"`
}

// normalizeTransaction validates tx and fills id, timestamp and source defaults
func (s *Service) normalizeTransaction(tx domain.Transaction) (domain.Transaction, error) {
	tx.PortfolioID = strings.TrimSpace(tx.PortfolioID)
	tx.Symbol = strings.ToUpper(strings.TrimSpace(tx.Symbol))
	tx.SecType = domain.NormalizeSecType(string(tx.SecType))

	if tx.PortfolioID == "" {
		return tx, domain.NewValidationError("portfolioId", "is required")
	}
	if tx.Symbol == "" {
		return tx, domain.NewValidationError("symbol", "is required")
	}
	side, ok := domain.ParseSide(string(tx.Side))
	if !ok {
		return tx, domain.NewValidationError("side", "must be BUY or SELL")
	}
	tx.Side = side
	if !finite(tx.Quantity) || tx.Quantity <= 0 {
		return tx, domain.NewValidationError("quantity", "must be positive")
	}
	if !finite(tx.Price) || tx.Price <= 0 {
		return tx, domain.NewValidationError("price", "must be positive")
	}
	if !finite(tx.Fees) || tx.Fees < 0 {
		return tx, domain.NewValidationError("fees", "must not be negative")
	}

	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	if tx.ExecutedAt.IsZero() {
		tx.ExecutedAt = s.now()
	}
	if tx.Source == "" {
		tx.Source = domain.SourceManual
	}
	return tx, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// RecordTransaction appends tx to its portfolio's log and recomputes the affected position
func (s *Service) RecordTransaction(ctx context.Context, tx domain.Transaction) (TransactionResult, error) {
	tx, err := s.normalizeTransaction(tx)
	if err != nil {
		return TransactionResult{}, err
	}

	unlock := s.lock(tx.PortfolioID)
	defer unlock()

	ledger, err := s.repo.Load(ctx, tx.PortfolioID)
	if err != nil {
		return TransactionResult{}, err
	}

	result := s.apply(ledger, tx)
	if err := s.repo.Save(ctx, ledger); err != nil {
		return TransactionResult{}, err
	}

	s.log.Info().
		Str("portfolio_id", tx.PortfolioID).
		Str("symbol", tx.Symbol).
		Str("side", string(tx.Side)).
		Float64("quantity", tx.Quantity).
		Float64("price", tx.Price).
		Float64("position_qty", result.Position.Quantity).
		Float64("realized_pnl", result.RealizedPnL).
		Msg("Transaction recorded")

	if s.metrics != nil {
		s.metrics.ObserveTransaction(tx.Source)
	}
	s.publishLedger(ledger)
	return result, nil
}

// apply is the single path every transaction takes into a ledger.
// The caller holds the portfolio lock and persists the ledger.
func (s *Service) apply(l *Ledger, tx domain.Transaction) TransactionResult {
	prev, _ := l.Position(domain.PositionKey{Symbol: tx.Symbol, SecType: tx.SecType})
	fill := applyFill(prev, tx)

	l.Transactions = append(l.Transactions, tx)
	l.put(fill.Position)

	p := &l.Portfolio
	p.CashBalance = decimal.NewFromFloat(p.CashBalance).Add(fill.CashDelta).InexactFloat64()
	p.RealizedPnL = decimal.NewFromFloat(p.RealizedPnL).Add(fill.RealizedPnL).InexactFloat64()
	if p.LinkedAccountID == "" {
		l.recomputeTotals()
	}
	p.UpdatedAt = s.now()

	return TransactionResult{
		Transaction: tx,
		Position:    fill.Position,
		Retired:     fill.Retired(),
		RealizedPnL: fill.RealizedPnL.Round(8).InexactFloat64(),
	}
}
