package di

import (
	"context"
	"time"

	"github.com/aristath/brokersync/internal/config"
	"github.com/aristath/brokersync/internal/scheduler"
	"github.com/rs/zerolog"
)

// Job keys of the process-wide recurring jobs
const (
	JobQuoteCachePurge = "quote-cache-purge"
	JobMarketRefresh   = "market-refresh"
	JobGatewayTickle   = "gateway-tickle"
)

// RegisterJobs schedules the process-wide recurring jobs.
// Per-portfolio auto-sync jobs are owned by the portfolio service.
func RegisterJobs(c *Container, cfg *config.Config, log zerolog.Logger) error {
	purge := scheduler.FuncJob{
		JobName: JobQuoteCachePurge,
		Fn: func() error {
			if n := c.MarketData.Purge(); n > 0 {
				log.Debug().Int("purged", n).Msg("Expired quotes purged")
			}
			return nil
		},
	}
	if err := c.Scheduler.Schedule(JobQuoteCachePurge, time.Minute, purge); err != nil {
		return err
	}

	// Client Portal sessions expire without periodic traffic
	tickle := scheduler.FuncJob{
		JobName: JobGatewayTickle,
		Fn: func() error {
			if !c.Gateway.IsConnected() {
				return nil
			}
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Gateway.RequestTimeout)
			defer cancel()
			return c.GatewaySDK.Tickle(ctx)
		},
	}
	if err := c.Scheduler.Schedule(JobGatewayTickle, time.Minute, tickle); err != nil {
		return err
	}

	if cfg.MarketRefreshInterval > 0 {
		refresh := scheduler.FuncJob{
			JobName: JobMarketRefresh,
			Fn: func() error {
				ctx, cancel := context.WithTimeout(context.Background(), cfg.MarketRefreshInterval)
				defer cancel()
				_, err := c.PortfolioService.MarkToMarket(ctx)
				return err
			},
		}
		if err := c.Scheduler.Schedule(JobMarketRefresh, cfg.MarketRefreshInterval, refresh); err != nil {
			return err
		}
	}

	log.Info().Strs("jobs", c.Scheduler.Keys()).Msg("Jobs registered")
	return nil
}
