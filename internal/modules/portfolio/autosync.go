package portfolio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/brokersync/internal/domain"
)

const autoSyncPrefix = "portfolio-sync:"

func autoSyncKey(portfolioID string) string {
	return autoSyncPrefix + portfolioID
}

// SyncJob runs one reconciliation pass for a portfolio on the scheduler
type SyncJob struct {
	service     *Service
	portfolioID string
}

// NewSyncJob creates a sync job for a portfolio
func NewSyncJob(service *Service, portfolioID string) *SyncJob {
	return &SyncJob{service: service, portfolioID: portfolioID}
}

// Name returns the job name
func (j *SyncJob) Name() string {
	return autoSyncKey(j.portfolioID)
}

// Run executes the sync. A pass already in flight is not an error.
func (j *SyncJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.service.syncTimeout)
	defer cancel()

	result := j.service.Sync(ctx, j.portfolioID)
	if result.Success {
		return nil
	}
	if len(result.Errors) == 1 && result.Errors[0] == ErrSyncInProgress.Error() {
		return nil
	}
	return fmt.Errorf("portfolio %s sync %s: %s", j.portfolioID, result.Status, strings.Join(result.Errors, "; "))
}

// StartAutoSync syncs the portfolio every intervalMinutes. Starting it again
// replaces the existing timer.
func (s *Service) StartAutoSync(ctx context.Context, portfolioID string, intervalMinutes int) error {
	if s.scheduler == nil {
		return errors.New("auto-sync unavailable: no scheduler configured")
	}
	if intervalMinutes < 1 {
		return domain.NewValidationError("intervalMinutes", "must be at least 1")
	}

	unlock := s.lock(portfolioID)
	defer unlock()

	ledger, err := s.repo.Load(ctx, portfolioID)
	if err != nil {
		return err
	}

	every := time.Duration(intervalMinutes) * time.Minute
	if err := s.scheduler.Schedule(autoSyncKey(portfolioID), every, NewSyncJob(s, portfolioID)); err != nil {
		return fmt.Errorf("failed to schedule auto-sync: %w", err)
	}

	if ledger.Portfolio.AutoSyncMinutes != intervalMinutes {
		ledger.Portfolio.AutoSyncMinutes = intervalMinutes
		if err := s.repo.Save(ctx, ledger); err != nil {
			return err
		}
	}

	s.log.Info().
		Str("portfolio_id", portfolioID).
		Int("interval_minutes", intervalMinutes).
		Msg("Auto-sync started")
	return nil
}

// StopAutoSync cancels the portfolio's recurring sync. A pass already running completes.
func (s *Service) StopAutoSync(portfolioID string) bool {
	if s.scheduler == nil {
		return false
	}
	stopped := s.scheduler.Unschedule(autoSyncKey(portfolioID))
	if stopped {
		s.log.Info().Str("portfolio_id", portfolioID).Msg("Auto-sync stopped")
	}
	return stopped
}

// DisableAutoSync stops the recurring sync and forgets the persisted interval
func (s *Service) DisableAutoSync(ctx context.Context, portfolioID string) (bool, error) {
	unlock := s.lock(portfolioID)
	defer unlock()

	ledger, err := s.repo.Load(ctx, portfolioID)
	if err != nil {
		return false, err
	}
	stopped := s.StopAutoSync(portfolioID)
	if ledger.Portfolio.AutoSyncMinutes != 0 {
		ledger.Portfolio.AutoSyncMinutes = 0
		if err := s.repo.Save(ctx, ledger); err != nil {
			return stopped, err
		}
	}
	return stopped, nil
}

// AutoSyncing reports whether a recurring sync is scheduled for the portfolio
func (s *Service) AutoSyncing(portfolioID string) bool {
	return s.scheduler != nil && s.scheduler.Scheduled(autoSyncKey(portfolioID))
}

// RestoreAutoSync reschedules every portfolio that had auto-sync enabled
func (s *Service) RestoreAutoSync(ctx context.Context) (int, error) {
	ledgers, err := s.ledgers(ctx)
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, l := range ledgers {
		if l.Portfolio.AutoSyncMinutes < 1 {
			continue
		}
		if err := s.StartAutoSync(ctx, l.Portfolio.ID, l.Portfolio.AutoSyncMinutes); err != nil {
			s.log.Warn().Err(err).Str("portfolio_id", l.Portfolio.ID).Msg("Failed to restore auto-sync")
			continue
		}
		restored++
	}
	return restored, nil
}
