package portfolio

import (
	"context"
	"fmt"
	"strings"

	"github.com/aristath/brokersync/internal/domain"
	"github.com/shopspring/decimal"
)

// LiquidationResult lists the closing transactions written by a liquidation
type LiquidationResult struct {
	PortfolioID  string               `json:"portfolioId"`
	Reason       string               `json:"reason"`
	Transactions []domain.Transaction `json:"transactions"`
	Errors       []string             `json:"errors"`
	RealizedPnL  float64              `json:"realizedPnL"`
}

// Liquidate closes every open position with a synthesized transaction at the
// last known market price, or the average cost when no price is known.
// The transactions go through the same path as RecordTransaction.
func (s *Service) Liquidate(ctx context.Context, portfolioID, reason string) (LiquidationResult, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "manual liquidation"
	}
	result := LiquidationResult{
		PortfolioID:  portfolioID,
		Reason:       reason,
		Transactions: []domain.Transaction{},
		Errors:       []string{},
	}

	unlock := s.lock(portfolioID)
	defer unlock()

	ledger, err := s.repo.Load(ctx, portfolioID)
	if err != nil {
		return result, err
	}

	realized := decimal.Zero
	for _, pos := range ledger.OpenPositions() {
		side := domain.SideSell
		if pos.Quantity < 0 {
			side = domain.SideBuy
		}
		price := pos.MarketPrice
		if price <= 0 {
			price = pos.AverageCost
		}

		tx, err := s.normalizeTransaction(domain.Transaction{
			PortfolioID: portfolioID,
			Symbol:      pos.Symbol,
			SecType:     pos.SecType,
			Side:        side,
			Source:      domain.SourceLiquidation,
			Note:        reason,
			Quantity:    decimal.NewFromFloat(pos.Quantity).Abs().InexactFloat64(),
			Price:       price,
		})
		if err != nil {
			s.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("Cannot liquidate position")
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", pos.Symbol, err))
			continue
		}

		r := s.apply(ledger, tx)
		realized = realized.Add(decimal.NewFromFloat(r.RealizedPnL))
		result.Transactions = append(result.Transactions, tx)
		if s.metrics != nil {
			s.metrics.ObserveTransaction(tx.Source)
		}
	}
	result.RealizedPnL = realized.InexactFloat64()

	if len(result.Transactions) > 0 {
		if err := s.repo.Save(ctx, ledger); err != nil {
			return result, err
		}
		s.publishLedger(ledger)
	}

	s.log.Info().
		Str("portfolio_id", portfolioID).
		Str("reason", reason).
		Int("closed", len(result.Transactions)).
		Int("errors", len(result.Errors)).
		Float64("realized_pnl", result.RealizedPnL).
		Msg("Portfolio liquidated")

	return result, nil
}
