// Package portfolio keeps each portfolio's position and transaction ledger
// consistent with brokerage truth and with locally recorded trades.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aristath/brokersync/internal/domain"
	"github.com/aristath/brokersync/internal/scheduler"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrSyncInProgress is reported when a sync is requested for a portfolio that is already syncing
var ErrSyncInProgress = errors.New("sync already in progress")

// Publisher is the narrow broadcast surface the service emits updates on
type Publisher interface {
	PublishPositions(portfolioID string, positions []domain.Position)
	PublishAccount(view domain.AccountView)
	PublishPortfolio(p domain.Portfolio)
	PublishPortfolioDeleted(p domain.Portfolio)
	PublishMarket(quotes []domain.Quote)
	PublishSyncResult(result domain.SyncResult)
	PublishRiskAlert(alerts []domain.RiskAlert)
}

// Scheduler runs keyed recurring jobs
type Scheduler interface {
	Schedule(key string, every time.Duration, job scheduler.Job) error
	Unschedule(key string) bool
	Scheduled(key string) bool
}

// RiskEvaluator checks a portfolio against configured limits
type RiskEvaluator interface {
	Evaluate(p domain.Portfolio, positions []domain.Position) []domain.RiskAlert
}

// QuoteSource provides marks for open positions
type QuoteSource interface {
	Quotes(ctx context.Context, symbols []string) ([]domain.Quote, error)
}

// Metrics receives reconciliation observations
type Metrics interface {
	ObserveSync(status string, d time.Duration)
	ObserveTransaction(source string)
	ObserveRiskAlert(kind string)
}

// Service owns the ledgers of all portfolios.
// Mutations of one portfolio are serialized; different portfolios proceed independently.
type Service struct {
	repo      *LedgerRepository
	gateway   domain.BrokerGateway
	scheduler Scheduler
	publisher Publisher
	risk      RiskEvaluator
	quotes    QuoteSource
	metrics   Metrics

	locks sync.Map // portfolio id -> *sync.Mutex

	syncMu   sync.Mutex
	syncing  map[string]struct{}
	lastSync map[string]domain.SyncResult

	syncTimeout time.Duration
	now         func() time.Time
	log         zerolog.Logger
}

// NewService creates a new portfolio service.
// publisher may be nil when nothing listens for updates.
func NewService(
	repo *LedgerRepository,
	gateway domain.BrokerGateway,
	sched Scheduler,
	publisher Publisher,
	log zerolog.Logger,
) *Service {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &Service{
		repo:        repo,
		gateway:     gateway,
		scheduler:   sched,
		publisher:   publisher,
		syncing:     make(map[string]struct{}),
		lastSync:    make(map[string]domain.SyncResult),
		syncTimeout: 2 * time.Minute,
		now:         func() time.Time { return time.Now().UTC() },
		log:         log.With().Str("service", "portfolio").Logger(),
	}
}

// SetRiskEvaluator installs the post-sync risk checks
func (s *Service) SetRiskEvaluator(r RiskEvaluator) {
	s.risk = r
}

// SetQuoteSource installs the market data used by MarkToMarket
func (s *Service) SetQuoteSource(q QuoteSource) {
	s.quotes = q
}

// SetMetrics installs the metrics sink
func (s *Service) SetMetrics(m Metrics) {
	s.metrics = m
}

// lock serializes ledger mutations of one portfolio
func (s *Service) lock(portfolioID string) func() {
	v, _ := s.locks.LoadOrStore(portfolioID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// CreatePortfolio registers a new, empty portfolio
func (s *Service) CreatePortfolio(ctx context.Context, p domain.Portfolio) (domain.Portfolio, error) {
	p.Name = strings.TrimSpace(p.Name)
	p.OwnerID = strings.TrimSpace(p.OwnerID)
	if p.Type == "" {
		p.Type = domain.PortfolioPaper
	}
	if !p.Type.Valid() {
		return domain.Portfolio{}, domain.NewValidationError("type", fmt.Sprintf("unknown portfolio type %q", p.Type))
	}
	if p.Type == domain.PortfolioLive && p.LinkedAccountID == "" {
		return domain.Portfolio{}, domain.NewValidationError("linkedAccountId", "is required for live portfolios")
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if strings.ContainsAny(p.ID, "/\\") {
		return domain.Portfolio{}, domain.NewValidationError("id", "must not contain path separators")
	}

	unlock := s.lock(p.ID)
	defer unlock()

	if _, err := s.repo.Load(ctx, p.ID); err == nil {
		return domain.Portfolio{}, domain.NewValidationError("id", fmt.Sprintf("portfolio %s already exists", p.ID))
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Portfolio{}, err
	}

	now := s.now()
	p.CreatedAt = now
	p.UpdatedAt = now
	p.LastSyncedAt = nil
	p.AutoSyncMinutes = 0
	p.RealizedPnL = 0
	p.TotalValue = p.CashBalance
	p.TotalPnL = 0
	p.DayPnL = 0

	ledger := &Ledger{Portfolio: p}
	if err := s.repo.Save(ctx, ledger); err != nil {
		return domain.Portfolio{}, err
	}

	s.log.Info().
		Str("portfolio_id", p.ID).
		Str("type", string(p.Type)).
		Msg("Portfolio created")

	s.publisher.PublishPortfolio(p)
	return p, nil
}

// GetPortfolio returns a portfolio by id
func (s *Service) GetPortfolio(ctx context.Context, portfolioID string) (domain.Portfolio, error) {
	ledger, err := s.repo.Load(ctx, portfolioID)
	if err != nil {
		return domain.Portfolio{}, err
	}
	return ledger.Portfolio, nil
}

// ListPortfolios returns all portfolios ordered by id
func (s *Service) ListPortfolios(ctx context.Context) ([]domain.Portfolio, error) {
	ledgers, err := s.ledgers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Portfolio, 0, len(ledgers))
	for _, l := range ledgers {
		out = append(out, l.Portfolio)
	}
	return out, nil
}

func (s *Service) ledgers(ctx context.Context) ([]*Ledger, error) {
	ids, err := s.repo.IDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Ledger, 0, len(ids))
	for _, id := range ids {
		l, err := s.repo.Load(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

// DeletePortfolio removes a portfolio. It is refused while positions are open.
func (s *Service) DeletePortfolio(ctx context.Context, portfolioID string) error {
	unlock := s.lock(portfolioID)
	defer unlock()

	ledger, err := s.repo.Load(ctx, portfolioID)
	if err != nil {
		return err
	}
	if n := len(ledger.Positions); n > 0 {
		return domain.NewValidationError("positions", fmt.Sprintf("portfolio has %d open position(s); liquidate it first", n))
	}

	s.StopAutoSync(portfolioID)
	if err := s.repo.Delete(ctx, portfolioID); err != nil {
		return err
	}

	s.syncMu.Lock()
	delete(s.lastSync, portfolioID)
	s.syncMu.Unlock()

	s.log.Info().Str("portfolio_id", portfolioID).Msg("Portfolio deleted")
	s.publisher.PublishPortfolioDeleted(ledger.Portfolio)
	return nil
}

// Positions returns the open positions of a portfolio
func (s *Service) Positions(ctx context.Context, portfolioID string) ([]domain.Position, error) {
	ledger, err := s.repo.Load(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	return ledger.OpenPositions(), nil
}

// Transactions returns the transaction log of a portfolio, oldest first
func (s *Service) Transactions(ctx context.Context, portfolioID string) ([]domain.Transaction, error) {
	ledger, err := s.repo.Load(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	return ledger.Transactions, nil
}

// publishLedger emits the positions, account and portfolio views of a ledger
func (s *Service) publishLedger(l *Ledger) {
	s.publisher.PublishPositions(l.Portfolio.ID, l.OpenPositions())
	s.publisher.PublishAccount(domain.NewAccountView(l.Portfolio))
	s.publisher.PublishPortfolio(l.Portfolio)
}

type nopPublisher struct{}

func (nopPublisher) PublishPositions(string, []domain.Position) {}
func (nopPublisher) PublishAccount(domain.AccountView)          {}
func (nopPublisher) PublishPortfolio(domain.Portfolio)          {}
func (nopPublisher) PublishPortfolioDeleted(domain.Portfolio)   {}
func (nopPublisher) PublishMarket([]domain.Quote)               {}
func (nopPublisher) PublishSyncResult(domain.SyncResult)        {}
func (nopPublisher) PublishRiskAlert([]domain.RiskAlert)        {}
