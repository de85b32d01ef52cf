package ibkr

import (
	"fmt"
	"strings"
	"time"

	"github.com/aristath/brokersync/internal/clients/ibkr/sdk"
	"github.com/aristath/brokersync/internal/domain"
)

// Summary keys of /portfolio/{accountId}/summary
const (
	summaryNetLiquidation = "netliquidation"
	summaryCash           = "totalcashvalue"
	summaryBuyingPower    = "buyingpower"
	summaryRealizedPnL    = "realizedpnl"
	summaryUnrealizedPnL  = "unrealizedpnl"
)

// transformAccountSummary maps the gateway summary map onto an AccountSnapshot
func transformAccountSummary(accountID string, summary sdk.AccountSummary) domain.AccountSnapshot {
	return domain.AccountSnapshot{
		FetchedAt:      time.Now(),
		AccountID:      accountID,
		Currency:       summary[summaryNetLiquidation].Currency,
		NetLiquidation: summary.Amount(summaryNetLiquidation),
		Cash:           summary.Amount(summaryCash),
		BuyingPower:    summary.Amount(summaryBuyingPower),
		RealizedPnL:    summary.Amount(summaryRealizedPnL),
		UnrealizedPnL:  summary.Amount(summaryUnrealizedPnL),
	}
}

// transformPositions maps gateway positions to broker positions, skipping rows without a symbol
func transformPositions(accountID string, raw []sdk.Position) []domain.BrokerPosition {
	positions := make([]domain.BrokerPosition, 0, len(raw))
	for _, p := range raw {
		symbol := strings.ToUpper(p.Symbol())
		if symbol == "" {
			continue
		}

		// avgCost is per contract including multiplier; avgPrice is per unit
		avg := p.AvgPrice
		if avg == 0 {
			avg = p.AvgCost
		}

		acct := p.AccountID
		if acct == "" {
			acct = accountID
		}

		marketValue := p.MktValue
		if marketValue == 0 {
			marketValue = p.Position * p.MktPrice
		}

		positions = append(positions, domain.BrokerPosition{
			AccountID:     acct,
			Symbol:        symbol,
			SecType:       domain.NormalizeSecType(p.AssetClass),
			Currency:      p.Currency,
			ConID:         int64(p.ConID),
			Quantity:      p.Position,
			AvgCost:       avg,
			MarketPrice:   p.MktPrice,
			MarketValue:   marketValue,
			UnrealizedPnL: p.UnrealizedPnl,
		})
	}
	return positions
}

// transformSnapshot maps a snapshot row onto a Quote
func transformSnapshot(symbol string, s sdk.Snapshot) (domain.Quote, error) {
	price := s.Float(sdk.FieldLast)
	if price <= 0 {
		return domain.Quote{}, fmt.Errorf("no last price for %s", symbol)
	}
	return domain.Quote{
		Timestamp: time.Now(),
		Symbol:    symbol,
		Source:    domain.QuoteSourcePrimary,
		Price:     price,
		Bid:       s.Float(sdk.FieldBid),
		Ask:       s.Float(sdk.FieldAsk),
		Change:    s.Float(sdk.FieldChange),
		ChangePct: s.Float(sdk.FieldChangePct),
		Volume:    int64(s.Float(sdk.FieldVolume)),
	}, nil
}

// transformHistory maps gateway candles onto bars
func transformHistory(resp sdk.HistoryResponse) []domain.Bar {
	bars := make([]domain.Bar, 0, len(resp.Data))
	for _, b := range resp.Data {
		bars = append(bars, domain.Bar{
			Time:   time.UnixMilli(b.Time).UTC(),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: int64(b.Volume),
		})
	}
	return bars
}
