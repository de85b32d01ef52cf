package di

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/brokersync/internal/clients/ibkr"
	"github.com/aristath/brokersync/internal/clients/ibkr/sdk"
	"github.com/aristath/brokersync/internal/clients/yahoo"
	"github.com/aristath/brokersync/internal/config"
	"github.com/aristath/brokersync/internal/domain"
	"github.com/aristath/brokersync/internal/events"
	"github.com/aristath/brokersync/internal/hub"
	"github.com/aristath/brokersync/internal/marketdata"
	"github.com/aristath/brokersync/internal/metrics"
	"github.com/aristath/brokersync/internal/modules/portfolio"
	"github.com/aristath/brokersync/internal/modules/risk"
	"github.com/aristath/brokersync/internal/scheduler"
	"github.com/aristath/brokersync/internal/storage"
	"github.com/rs/zerolog"
)

// Wire initializes all dependencies and returns a fully configured container.
// Order of operations:
// 1. Storage and ledger repository
// 2. Gateway and market data clients
// 3. Services (hub, scheduler, portfolio, risk)
// 4. Jobs
// Nothing runs until Container.Start is called.
func Wire(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Container, error) {
	c := &Container{
		Config:  cfg,
		Metrics: metrics.New(),
		log:     log.With().Str("component", "container").Logger(),
	}

	// Step 1: storage
	if err := initializeStorage(ctx, c, cfg, log); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	// Step 2: clients
	initializeClients(c, cfg, log)

	// Step 3: services
	initializeServices(c, cfg, log)

	// Step 4: jobs
	if err := RegisterJobs(c, cfg, log); err != nil {
		return nil, fmt.Errorf("failed to register jobs: %w", err)
	}

	log.Info().Msg("Dependencies wired")
	return c, nil
}

func initializeStorage(ctx context.Context, c *Container, cfg *config.Config, log zerolog.Logger) error {
	if cfg.Storage.UseS3() {
		store, err := storage.NewS3Store(ctx, storage.S3Config{
			Bucket:          cfg.Storage.Bucket,
			Prefix:          cfg.Storage.Prefix,
			Region:          cfg.Storage.Region,
			Endpoint:        cfg.Storage.Endpoint,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
		}, log)
		if err != nil {
			return err
		}
		c.Store = store
		log.Info().Str("bucket", cfg.Storage.Bucket).Msg("Using S3 ledger store")
	} else {
		store, err := storage.NewFileStore(cfg.DataDir, log)
		if err != nil {
			return err
		}
		c.Store = store
		log.Info().Str("dir", cfg.DataDir).Msg("Using file ledger store")
	}

	c.Ledgers = portfolio.NewLedgerRepository(c.Store, log)
	return nil
}

func initializeClients(c *Container, cfg *config.Config, log zerolog.Logger) {
	c.GatewaySDK = sdk.NewClient(sdk.Config{
		BaseURL:     cfg.Gateway.BaseURL,
		Timeout:     cfg.Gateway.RequestTimeout,
		InsecureTLS: cfg.Gateway.InsecureTLS,
	}, log)

	c.Gateway = ibkr.NewClient(c.GatewaySDK, ibkr.Options{
		AccountID:      cfg.Gateway.AccountID,
		RetryDelay:     cfg.Gateway.RetryDelay,
		MaxAttempts:    cfg.Gateway.MaxAttempts,
		AttemptTimeout: cfg.Gateway.RequestTimeout,
	}, log)
	c.Gateway.SetMetrics(c.Metrics)

	c.Fallback = yahoo.NewClient(cfg.Fallback.RequestTimeout, log)

	c.MarketData = marketdata.NewService(c.Gateway, c.Fallback, cfg.Gateway.QuoteCacheTTL, log)
	c.MarketData.SetMetrics(c.Metrics)
}

func initializeServices(c *Container, cfg *config.Config, log zerolog.Logger) {
	hubCfg := hub.DefaultConfig()
	hubCfg.SweepInterval = cfg.Hub.SweepInterval
	hubCfg.HeartbeatTimeout = cfg.Hub.HeartbeatTimeout
	if cfg.Hub.SendBuffer > 0 {
		hubCfg.SendBuffer = cfg.Hub.SendBuffer
	}
	c.Hub = hub.New(hubCfg, log)
	c.Hub.SetMetrics(c.Metrics)

	// Gateway transitions go out on the system channel
	c.Gateway.OnStateChange(func(state domain.ConnectionState) {
		c.Hub.PublishConnectionStatus(state)
	})

	c.Scheduler = scheduler.New(log)

	c.RiskChecker = risk.NewChecker(risk.Limits{
		MaxPositionValue: cfg.Risk.MaxPositionValue,
		MaxConcentration: cfg.Risk.MaxConcentration,
	})

	c.PortfolioService = portfolio.NewService(c.Ledgers, c.Gateway, c.Scheduler, c.Hub, log)
	c.PortfolioService.SetRiskEvaluator(c.RiskChecker)
	c.PortfolioService.SetQuoteSource(c.MarketData)
	c.PortfolioService.SetMetrics(c.Metrics)

	c.Hub.RegisterSnapshot(events.ChannelPositions, c.PortfolioService.PositionsSnapshot)
	c.Hub.RegisterSnapshot(events.ChannelAccount, c.PortfolioService.AccountSnapshot)
	c.Hub.RegisterSnapshot(events.ChannelPortfolios, c.PortfolioService.PortfoliosSnapshot)
}

// Start runs the hub, the scheduler and the first gateway connection attempt,
// then restores persisted auto-sync timers.
func (c *Container) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)
	c.StartedAt = time.Now()

	c.Hub.Start(ctx)
	c.Scheduler.Start()

	// Connect never blocks on retries
	go func() {
		if !c.Gateway.Connect(ctx) {
			c.log.Warn().Msg("Gateway not connected at startup, retrying in background")
		}
	}()

	restored, err := c.PortfolioService.RestoreAutoSync(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore auto-sync: %w", err)
	}
	c.log.Info().Int("auto_sync", restored).Msg("Container started")
	return nil
}

// Stop waits for running jobs, closes every client connection and cancels gateway retries.
// A sync already in flight completes before Stop returns.
func (c *Container) Stop() {
	c.Scheduler.Stop()
	c.Hub.Stop()
	c.Gateway.Close()
	if c.cancel != nil {
		c.cancel()
	}
	c.log.Info().Msg("Container stopped")
}
