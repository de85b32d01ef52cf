// Package di provides dependency injection wiring and initialization.
//
// The Container holds every long-lived service of the process and is the
// single source of truth handed to the HTTP server.
package di

import (
	"context"
	"time"

	"github.com/aristath/brokersync/internal/clients/ibkr"
	"github.com/aristath/brokersync/internal/clients/ibkr/sdk"
	"github.com/aristath/brokersync/internal/clients/yahoo"
	"github.com/aristath/brokersync/internal/config"
	"github.com/aristath/brokersync/internal/hub"
	"github.com/aristath/brokersync/internal/marketdata"
	"github.com/aristath/brokersync/internal/metrics"
	"github.com/aristath/brokersync/internal/modules/portfolio"
	"github.com/aristath/brokersync/internal/modules/risk"
	"github.com/aristath/brokersync/internal/scheduler"
	"github.com/aristath/brokersync/internal/storage"
	"github.com/rs/zerolog"
)

// Container holds all application dependencies
type Container struct {
	Config *config.Config

	// Storage
	Store   storage.Store
	Ledgers *portfolio.LedgerRepository

	// Clients
	GatewaySDK *sdk.Client
	Gateway    *ibkr.Client
	Fallback   *yahoo.Client

	// Services
	MarketData       *marketdata.Service
	Hub              *hub.Hub
	Scheduler        *scheduler.Scheduler
	PortfolioService *portfolio.Service
	RiskChecker      *risk.Checker
	Metrics          *metrics.Metrics

	StartedAt time.Time

	cancel context.CancelFunc
	log    zerolog.Logger
}
