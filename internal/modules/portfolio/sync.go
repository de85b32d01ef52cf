package portfolio

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/brokersync/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// beginSync marks a portfolio as syncing; false if it already is
func (s *Service) beginSync(portfolioID string) bool {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	if _, busy := s.syncing[portfolioID]; busy {
		return false
	}
	s.syncing[portfolioID] = struct{}{}
	return true
}

func (s *Service) endSync(result domain.SyncResult) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	delete(s.syncing, result.PortfolioID)
	s.lastSync[result.PortfolioID] = result
}

// SyncState returns Syncing while a pass runs, otherwise the status of the
// last pass (Idle if none ran).
func (s *Service) SyncState(portfolioID string) (domain.SyncStatus, *domain.SyncResult) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	last, ok := s.lastSync[portfolioID]
	var lastPtr *domain.SyncResult
	if ok {
		lastPtr = &last
	}
	if _, busy := s.syncing[portfolioID]; busy {
		return domain.SyncSyncing, lastPtr
	}
	if !ok {
		return domain.SyncIdle, nil
	}
	return last.Status, lastPtr
}

// Sync reconciles a portfolio with the broker-reported account and positions.
//
// Broker positions update or create the matching local position; a reported
// quantity of zero retires it. Local positions missing from the report are
// left as they are. Quantity differences are recorded as reconciliation
// transactions so the transaction log keeps summing to the position.
// Per-symbol failures never abort the pass.
func (s *Service) Sync(ctx context.Context, portfolioID string) domain.SyncResult {
	result := domain.SyncResult{
		StartedAt:   s.now(),
		PortfolioID: portfolioID,
		Status:      domain.SyncSyncing,
		Errors:      []string{},
	}

	if !s.beginSync(portfolioID) {
		s.log.Warn().Str("portfolio_id", portfolioID).Msg("Sync rejected, already in progress")
		result.Status = domain.SyncFailed
		result.Errors = append(result.Errors, ErrSyncInProgress.Error())
		result.FinishedAt = s.now()
		return result
	}

	result = s.runSync(ctx, result)
	result.FinishedAt = s.now()
	s.endSync(result)

	if s.metrics != nil {
		s.metrics.ObserveSync(string(result.Status), result.FinishedAt.Sub(result.StartedAt))
	}
	s.publisher.PublishSyncResult(result)
	return result
}

func (s *Service) fail(result domain.SyncResult, err error) domain.SyncResult {
	s.log.Error().Err(err).Str("portfolio_id", result.PortfolioID).Msg("Sync failed")
	result.Status = domain.SyncFailed
	result.Success = false
	result.Errors = append(result.Errors, err.Error())
	return result
}

func (s *Service) runSync(ctx context.Context, result domain.SyncResult) domain.SyncResult {
	portfolioID := result.PortfolioID
	s.log.Info().Str("portfolio_id", portfolioID).Msg("Starting portfolio sync")

	ledger, err := s.repo.Load(ctx, portfolioID)
	if err != nil {
		return s.fail(result, err)
	}
	accountID := ledger.Portfolio.LinkedAccountID

	// Step 1: make sure the gateway is reachable
	if !s.gateway.IsConnected() && !s.gateway.Connect(ctx) {
		return s.fail(result, &domain.NotConnectedError{Op: "sync"})
	}

	// Step 2: fetch broker state outside the ledger lock
	snapshot, accountErr := s.gateway.AccountInfo(ctx, accountID)
	brokerPositions, positionsErr := s.gateway.Positions(ctx, accountID)
	if accountErr != nil && positionsErr != nil {
		if domain.IsNotConnected(accountErr) {
			return s.fail(result, accountErr)
		}
		return s.fail(result, fmt.Errorf("account: %v; positions: %w", accountErr, positionsErr))
	}

	unlock := s.lock(portfolioID)
	defer unlock()

	// Reload under the lock: transactions may have been recorded meanwhile
	ledger, err = s.repo.Load(ctx, portfolioID)
	if err != nil {
		return s.fail(result, err)
	}

	failures := make(map[string]error)
	succeeded := 0
	now := s.now()

	// Step 3: portfolio aggregates
	if accountErr != nil {
		failures["account"] = accountErr
	} else {
		succeeded++
	}

	// Step 4: merge broker positions
	if positionsErr != nil {
		failures["positions"] = positionsErr
	} else {
		for _, bp := range brokerPositions {
			updated, txCreated, err := s.mergePosition(ledger, bp, now)
			if err != nil {
				symbol := bp.Symbol
				if symbol == "" {
					symbol = fmt.Sprintf("conid:%d", bp.ConID)
				}
				s.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to reconcile position")
				failures[symbol] = err
				continue
			}
			succeeded++
			if updated {
				result.PositionsUpdated++
			}
			if txCreated {
				result.NewTransactions++
			}
		}
	}

	if accountErr == nil {
		applySnapshot(&ledger.Portfolio, snapshot, ledger.Positions)
	}
	ledger.Portfolio.UpdatedAt = now
	ledger.Portfolio.LastSyncedAt = &now

	// Step 5: persist
	if err := s.repo.Save(ctx, ledger); err != nil {
		return s.fail(result, err)
	}

	switch {
	case len(failures) == 0:
		result.Status = domain.SyncSuccess
		result.Success = true
	case succeeded > 0:
		result.Status = domain.SyncPartialFailure
		result.Success = true
	default:
		result.Status = domain.SyncFailed
	}
	if len(failures) > 0 {
		partial := &domain.PartialSyncError{PortfolioID: portfolioID, Failures: failures}
		result.Errors = append(result.Errors, partial.Messages()...)
	}

	// Step 6: notify
	s.publishLedger(ledger)
	s.checkRisk(ledger)

	s.log.Info().
		Str("portfolio_id", portfolioID).
		Str("status", string(result.Status)).
		Int("positions_updated", result.PositionsUpdated).
		Int("new_transactions", result.NewTransactions).
		Int("errors", len(failures)).
		Msg("Portfolio sync completed")

	return result
}

// mergePosition folds one broker position into the ledger. It reports whether
// the local position changed and whether a reconciliation transaction was written.
func (s *Service) mergePosition(l *Ledger, bp domain.BrokerPosition, now time.Time) (bool, bool, error) {
	symbol := strings.ToUpper(strings.TrimSpace(bp.Symbol))
	if symbol == "" {
		return false, false, fmt.Errorf("broker position without symbol")
	}
	if !finite(bp.Quantity) || !finite(bp.AvgCost) || !finite(bp.MarketPrice) ||
		!finite(bp.MarketValue) || !finite(bp.UnrealizedPnL) {
		return false, false, fmt.Errorf("non-numeric values in broker position")
	}
	if bp.AvgCost < 0 || bp.MarketPrice < 0 {
		return false, false, fmt.Errorf("negative price in broker position")
	}

	key := domain.PositionKey{Symbol: symbol, SecType: domain.NormalizeSecType(string(bp.SecType))}
	local, exists := l.Position(key)

	delta := decimal.NewFromFloat(bp.Quantity).Sub(decimal.NewFromFloat(local.Quantity))
	txCreated := false
	if !delta.IsZero() {
		price := bp.MarketPrice
		if price <= 0 {
			price = bp.AvgCost
		}
		if price <= 0 {
			return false, false, fmt.Errorf("no price to reconcile quantity change")
		}
		side := domain.SideBuy
		if delta.IsNegative() {
			side = domain.SideSell
		}
		l.Transactions = append(l.Transactions, domain.Transaction{
			ExecutedAt:  now,
			ID:          uuid.New().String(),
			PortfolioID: l.Portfolio.ID,
			Symbol:      key.Symbol,
			SecType:     key.SecType,
			Side:        side,
			Source:      domain.SourceReconciliation,
			Quantity:    delta.Abs().InexactFloat64(),
			Price:       price,
		})
		txCreated = true
	}

	if bp.Quantity == 0 {
		if !exists {
			return false, txCreated, nil
		}
		l.put(domain.Position{Symbol: key.Symbol, SecType: key.SecType})
		return true, txCreated, nil
	}

	next := domain.Position{
		LastUpdated:   local.LastUpdated,
		PortfolioID:   l.Portfolio.ID,
		Symbol:        key.Symbol,
		SecType:       key.SecType,
		Quantity:      bp.Quantity,
		AverageCost:   bp.AvgCost,
		MarketPrice:   bp.MarketPrice,
		MarketValue:   bp.MarketValue,
		UnrealizedPnL: bp.UnrealizedPnL,
	}
	if exists && samePosition(local, next) {
		return false, txCreated, nil
	}
	next.LastUpdated = now
	l.put(next)
	return true, txCreated, nil
}

func samePosition(a, b domain.Position) bool {
	return a.Quantity == b.Quantity &&
		a.AverageCost == b.AverageCost &&
		a.MarketPrice == b.MarketPrice &&
		a.MarketValue == b.MarketValue &&
		a.UnrealizedPnL == b.UnrealizedPnL
}

// applySnapshot copies broker account figures onto the portfolio aggregates
func applySnapshot(p *domain.Portfolio, snap domain.AccountSnapshot, positions []domain.Position) {
	unrealized := decimal.Zero
	for _, pos := range positions {
		unrealized = unrealized.Add(decimal.NewFromFloat(pos.UnrealizedPnL))
	}
	realized := decimal.NewFromFloat(snap.RealizedPnL)

	p.TotalValue = snap.NetLiquidation
	p.CashBalance = snap.Cash
	p.DayPnL = realized.Add(decimal.NewFromFloat(snap.UnrealizedPnL)).InexactFloat64()
	p.TotalPnL = unrealized.Add(realized).InexactFloat64()
	if p.LinkedAccountID == "" {
		p.LinkedAccountID = snap.AccountID
	}
}

// checkRisk evaluates and publishes risk alerts for a ledger
func (s *Service) checkRisk(l *Ledger) []domain.RiskAlert {
	if s.risk == nil {
		return nil
	}
	alerts := s.risk.Evaluate(l.Portfolio, l.Positions)
	if len(alerts) == 0 {
		return nil
	}
	for _, a := range alerts {
		s.log.Warn().
			Str("portfolio_id", a.PortfolioID).
			Str("symbol", a.Symbol).
			Str("kind", string(a.Kind)).
			Float64("value", a.Value).
			Float64("limit", a.Limit).
			Msg(a.Message)
		if s.metrics != nil {
			s.metrics.ObserveRiskAlert(string(a.Kind))
		}
	}
	s.publisher.PublishRiskAlert(alerts)
	return alerts
}
