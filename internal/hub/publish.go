package hub

import (
	"github.com/aristath/brokersync/internal/domain"
	"github.com/aristath/brokersync/internal/events"
)

// Producer-facing operations. Each builds one typed message and broadcasts it.

// PublishPositions sends a portfolio's positions to positions subscribers
func (h *Hub) PublishPositions(portfolioID string, positions []domain.Position) {
	h.Broadcast(events.NewMessage(events.ChannelPositions, &events.PositionsData{
		PortfolioID: portfolioID,
		Positions:   positions,
	}), events.ChannelPositions)
}

// PublishAccount sends the account view of a portfolio to account subscribers
func (h *Hub) PublishAccount(view domain.AccountView) {
	h.Broadcast(events.NewMessage(events.ChannelAccount, &events.AccountData{Account: view}), events.ChannelAccount)
}

// PublishPortfolio sends portfolio aggregates to portfolios subscribers
func (h *Hub) PublishPortfolio(p domain.Portfolio) {
	h.Broadcast(events.NewMessage(events.ChannelPortfolios, &events.PortfolioData{Portfolio: p}), events.ChannelPortfolios)
}

// PublishPortfolioDeleted announces a removed portfolio
func (h *Hub) PublishPortfolioDeleted(p domain.Portfolio) {
	h.Broadcast(events.NewMessage(events.ChannelPortfolios, &events.PortfolioData{Portfolio: p, Deleted: true}), events.ChannelPortfolios)
}

// PublishMarket sends quotes to market subscribers
func (h *Hub) PublishMarket(quotes []domain.Quote) {
	if len(quotes) == 0 {
		return
	}
	h.Broadcast(events.NewMessage(events.ChannelMarket, &events.MarketData{Quotes: quotes}), events.ChannelMarket)
}

// PublishSignal sends a trading signal to signals subscribers
func (h *Hub) PublishSignal(signal events.SignalData) {
	h.Broadcast(events.NewMessage(events.ChannelSignals, &signal), events.ChannelSignals)
}

// PublishSystem sends a system status sample
func (h *Hub) PublishSystem(status events.SystemStatusData) {
	h.Broadcast(events.NewMessage(events.ChannelSystem, &status), events.ChannelSystem)
}

// PublishSyncResult reports the outcome of a reconciliation pass on the system channel
func (h *Hub) PublishSyncResult(result domain.SyncResult) {
	h.Broadcast(events.NewMessage(events.ChannelSystem, &events.SyncResultData{Result: result}), events.ChannelSystem)
}

// PublishRiskAlert reports limit breaches on the system channel
func (h *Hub) PublishRiskAlert(alerts []domain.RiskAlert) {
	if len(alerts) == 0 {
		return
	}
	h.Broadcast(events.NewMessage(events.ChannelSystem, &events.RiskAlertData{Alerts: alerts}), events.ChannelSystem)
}

// PublishConnectionStatus reports gateway state transitions on the system channel
func (h *Hub) PublishConnectionStatus(state domain.ConnectionState) {
	h.Broadcast(events.NewMessage(events.ChannelSystem, &events.ConnectionStatusData{Gateway: state}), events.ChannelSystem)
}
