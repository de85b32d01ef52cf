package portfolio

import (
	"context"
	"errors"
	"sort"

	"github.com/aristath/brokersync/internal/domain"
)

// MarkToMarket refreshes the market price of every open position across all
// portfolios from the quote source and publishes the quotes on the market
// channel. It returns the number of positions repriced.
func (s *Service) MarkToMarket(ctx context.Context) (int, error) {
	if s.quotes == nil {
		return 0, errors.New("no quote source configured")
	}
	ledgers, err := s.ledgers(ctx)
	if err != nil {
		return 0, err
	}

	seen := make(map[string]struct{})
	var symbols []string
	for _, l := range ledgers {
		for _, p := range l.Positions {
			if _, ok := seen[p.Symbol]; ok {
				continue
			}
			seen[p.Symbol] = struct{}{}
			symbols = append(symbols, p.Symbol)
		}
	}
	if len(symbols) == 0 {
		return 0, nil
	}
	sort.Strings(symbols)

	// Partial results are still applied
	quotes, quoteErr := s.quotes.Quotes(ctx, symbols)
	if len(quotes) == 0 {
		return 0, quoteErr
	}
	prices := make(map[string]float64, len(quotes))
	for _, q := range quotes {
		prices[q.Symbol] = q.Price
	}
	s.publisher.PublishMarket(quotes)

	repriced := 0
	for _, l := range ledgers {
		n, err := s.reprice(ctx, l.Portfolio.ID, prices)
		if err != nil {
			s.log.Warn().Err(err).Str("portfolio_id", l.Portfolio.ID).Msg("Failed to reprice portfolio")
			continue
		}
		repriced += n
	}

	s.log.Debug().
		Int("symbols", len(symbols)).
		Int("quotes", len(quotes)).
		Int("repriced", repriced).
		Msg("Positions marked to market")
	return repriced, quoteErr
}

func (s *Service) reprice(ctx context.Context, portfolioID string, prices map[string]float64) (int, error) {
	unlock := s.lock(portfolioID)
	defer unlock()

	ledger, err := s.repo.Load(ctx, portfolioID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, pos := range ledger.OpenPositions() {
		price, ok := prices[pos.Symbol]
		if !ok || price <= 0 || price == pos.MarketPrice {
			continue
		}
		ledger.put(reprice(pos, price))
		n++
	}
	if n == 0 {
		return 0, nil
	}
	if ledger.Portfolio.LinkedAccountID == "" {
		ledger.recomputeTotals()
	}
	ledger.Portfolio.UpdatedAt = s.now()
	if err := s.repo.Save(ctx, ledger); err != nil {
		return 0, err
	}
	s.publishLedger(ledger)
	s.checkRisk(ledger)
	return n, nil
}

// PortfolioPositions is the positions of one portfolio
type PortfolioPositions struct {
	PortfolioID string            `json:"portfolioId"`
	Positions   []domain.Position `json:"positions"`
}

// PositionsSnapshot returns the open positions of every portfolio
func (s *Service) PositionsSnapshot(ctx context.Context) (interface{}, error) {
	ledgers, err := s.ledgers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]PortfolioPositions, 0, len(ledgers))
	for _, l := range ledgers {
		out = append(out, PortfolioPositions{PortfolioID: l.Portfolio.ID, Positions: l.OpenPositions()})
	}
	return out, nil
}

// AccountSnapshot returns the account view of every portfolio
func (s *Service) AccountSnapshot(ctx context.Context) (interface{}, error) {
	ledgers, err := s.ledgers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.AccountView, 0, len(ledgers))
	for _, l := range ledgers {
		out = append(out, domain.NewAccountView(l.Portfolio))
	}
	return out, nil
}

// PortfoliosSnapshot returns every portfolio
func (s *Service) PortfoliosSnapshot(ctx context.Context) (interface{}, error) {
	return s.ListPortfolios(ctx)
}
