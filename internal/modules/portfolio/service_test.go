package portfolio

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/aristath/brokersync/internal/domain"
	"github.com/aristath/brokersync/internal/scheduler"
	"github.com/aristath/brokersync/internal/storage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeGateway is a scriptable broker gateway
type fakeGateway struct {
	mu           sync.Mutex
	connected    bool
	connectOK    bool
	connectCalls int
	snapshot     domain.AccountSnapshot
	accountErr   error
	positions    []domain.BrokerPosition
	positionsErr error
	block        chan struct{} // when set, Positions waits on it
	entered      chan struct{}
}

func (g *fakeGateway) Connect(ctx context.Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connectCalls++
	if g.connectOK {
		g.connected = true
	}
	return g.connected
}

func (g *fakeGateway) IsConnected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connected
}

func (g *fakeGateway) ConnectionStats() domain.ConnectionState {
	return domain.ConnectionState{Connected: g.IsConnected()}
}

func (g *fakeGateway) AccountInfo(ctx context.Context, accountID string) (domain.AccountSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshot, g.accountErr
}

func (g *fakeGateway) Positions(ctx context.Context, accountID string) ([]domain.BrokerPosition, error) {
	g.mu.Lock()
	block, entered := g.block, g.entered
	g.mu.Unlock()
	if block != nil {
		entered <- struct{}{}
		<-block
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.BrokerPosition(nil), g.positions...), g.positionsErr
}

func (g *fakeGateway) setPositions(p ...domain.BrokerPosition) {
	g.mu.Lock()
	g.positions = p
	g.mu.Unlock()
}

// MockPublisher records published updates
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishPositions(portfolioID string, positions []domain.Position) {
	m.Called(portfolioID, positions)
}
func (m *MockPublisher) PublishAccount(view domain.AccountView)        { m.Called(view) }
func (m *MockPublisher) PublishPortfolio(p domain.Portfolio)           { m.Called(p) }
func (m *MockPublisher) PublishPortfolioDeleted(p domain.Portfolio)    { m.Called(p) }
func (m *MockPublisher) PublishMarket(quotes []domain.Quote)           { m.Called(quotes) }
func (m *MockPublisher) PublishSyncResult(result domain.SyncResult)    { m.Called(result) }
func (m *MockPublisher) PublishRiskAlert(alerts []domain.RiskAlert)    { m.Called(alerts) }

func newMockPublisher() *MockPublisher {
	m := &MockPublisher{}
	m.On("PublishPositions", mock.Anything, mock.Anything).Maybe()
	m.On("PublishAccount", mock.Anything).Maybe()
	m.On("PublishPortfolio", mock.Anything).Maybe()
	m.On("PublishPortfolioDeleted", mock.Anything).Maybe()
	m.On("PublishMarket", mock.Anything).Maybe()
	m.On("PublishSyncResult", mock.Anything).Maybe()
	m.On("PublishRiskAlert", mock.Anything).Maybe()
	return m
}

type staticRisk struct{ alerts []domain.RiskAlert }

func (r staticRisk) Evaluate(p domain.Portfolio, positions []domain.Position) []domain.RiskAlert {
	return r.alerts
}

type fakeQuotes struct {
	quotes []domain.Quote
	err    error
}

func (q fakeQuotes) Quotes(ctx context.Context, symbols []string) ([]domain.Quote, error) {
	return q.quotes, q.err
}

type testEnv struct {
	svc       *Service
	gateway   *fakeGateway
	publisher *MockPublisher
	sched     *scheduler.Scheduler
	repo      *LedgerRepository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	repo := NewLedgerRepository(store, zerolog.Nop())
	gw := &fakeGateway{connected: true, connectOK: true}
	pub := newMockPublisher()
	sched := scheduler.New(zerolog.Nop())

	svc := NewService(repo, gw, sched, pub, zerolog.Nop())
	return &testEnv{svc: svc, gateway: gw, publisher: pub, sched: sched, repo: repo}
}

func (e *testEnv) createPortfolio(t *testing.T, id string) domain.Portfolio {
	t.Helper()
	p, err := e.svc.CreatePortfolio(context.Background(), domain.Portfolio{
		ID:          id,
		OwnerID:     "owner-1",
		Name:        "Test " + id,
		Type:        domain.PortfolioPaper,
		CashBalance: 10000,
	})
	require.NoError(t, err)
	return p
}

func brokerPos(symbol string, qty, avg, price float64) domain.BrokerPosition {
	return domain.BrokerPosition{
		Symbol:        symbol,
		SecType:       domain.SecTypeStock,
		Quantity:      qty,
		AvgCost:       avg,
		MarketPrice:   price,
		MarketValue:   qty * price,
		UnrealizedPnL: (price - avg) * qty,
	}
}

func TestCreatePortfolio(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p := env.createPortfolio(t, "p1")
	assert.Equal(t, 10000.0, p.TotalValue)
	assert.False(t, p.CreatedAt.IsZero())

	_, err := env.svc.CreatePortfolio(ctx, domain.Portfolio{ID: "p1"})
	assert.True(t, domain.IsValidation(err))

	_, err = env.svc.CreatePortfolio(ctx, domain.Portfolio{Type: "margin"})
	assert.True(t, domain.IsValidation(err))

	_, err = env.svc.CreatePortfolio(ctx, domain.Portfolio{Type: domain.PortfolioLive})
	assert.True(t, domain.IsValidation(err))

	generated, err := env.svc.CreatePortfolio(ctx, domain.Portfolio{Name: "auto"})
	require.NoError(t, err)
	assert.NotEmpty(t, generated.ID)
	assert.Equal(t, domain.PortfolioPaper, generated.Type)

	list, err := env.svc.ListPortfolios(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = env.svc.GetPortfolio(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRecordTransaction_Scenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createPortfolio(t, "p1")

	record := func(side domain.Side, qty, price float64) TransactionResult {
		r, err := env.svc.RecordTransaction(ctx, domain.Transaction{
			PortfolioID: "p1", Symbol: "aapl", Side: side, Quantity: qty, Price: price,
		})
		require.NoError(t, err)
		return r
	}

	r := record(domain.SideBuy, 10, 100)
	assert.Equal(t, 10.0, r.Position.Quantity)
	assert.Equal(t, 100.0, r.Position.AverageCost)
	assert.Equal(t, "AAPL", r.Transaction.Symbol)
	assert.Equal(t, domain.SecTypeStock, r.Transaction.SecType)
	assert.Equal(t, domain.SourceManual, r.Transaction.Source)
	assert.NotEmpty(t, r.Transaction.ID)

	r = record(domain.SideBuy, 10, 120)
	assert.Equal(t, 20.0, r.Position.Quantity)
	assert.Equal(t, 110.0, r.Position.AverageCost)

	r = record(domain.SideSell, 15, 130)
	assert.Equal(t, 5.0, r.Position.Quantity)
	assert.Equal(t, 110.0, r.Position.AverageCost)
	assert.InDelta(t, 300.0, r.RealizedPnL, 1e-9)

	p, err := env.svc.GetPortfolio(ctx, "p1")
	require.NoError(t, err)
	assert.InDelta(t, 300.0, p.RealizedPnL, 1e-9)
	// 10000 - 1000 - 1200 + 1950
	assert.InDelta(t, 9750.0, p.CashBalance, 1e-9)

	txs, err := env.svc.Transactions(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, txs, 3)

	var signed float64
	for _, tx := range txs {
		signed += tx.SignedQuantity()
	}
	positions, err := env.svc.Positions(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, signed, positions[0].Quantity)

	env.publisher.AssertCalled(t, "PublishPositions", "p1", mock.Anything)
	env.publisher.AssertCalled(t, "PublishAccount", mock.Anything)
}

func TestRecordTransaction_ShortAndRetire(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createPortfolio(t, "p1")

	r, err := env.svc.RecordTransaction(ctx, domain.Transaction{
		PortfolioID: "p1", Symbol: "TSLA", Side: domain.SideSell, Quantity: 3, Price: 200,
	})
	require.NoError(t, err)
	assert.Equal(t, -3.0, r.Position.Quantity)

	r, err = env.svc.RecordTransaction(ctx, domain.Transaction{
		PortfolioID: "p1", Symbol: "TSLA", Side: domain.SideBuy, Quantity: 3, Price: 190,
	})
	require.NoError(t, err)
	assert.True(t, r.Retired)
	assert.InDelta(t, 30.0, r.RealizedPnL, 1e-9)

	positions, err := env.svc.Positions(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestRecordTransaction_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createPortfolio(t, "p1")

	valid := domain.Transaction{PortfolioID: "p1", Symbol: "AAPL", Side: domain.SideBuy, Quantity: 1, Price: 1}

	tests := []struct {
		name  string
		field string
		mut   func(tx *domain.Transaction)
	}{
		{"missing portfolio", "portfolioId", func(tx *domain.Transaction) { tx.PortfolioID = "" }},
		{"missing symbol", "symbol", func(tx *domain.Transaction) { tx.Symbol = "  " }},
		{"bad side", "side", func(tx *domain.Transaction) { tx.Side = "hold" }},
		{"zero quantity", "quantity", func(tx *domain.Transaction) { tx.Quantity = 0 }},
		{"nan quantity", "quantity", func(tx *domain.Transaction) { tx.Quantity = math.NaN() }},
		{"negative price", "price", func(tx *domain.Transaction) { tx.Price = -1 }},
		{"negative fees", "fees", func(tx *domain.Transaction) { tx.Fees = -0.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := valid
			tt.mut(&tx)
			_, err := env.svc.RecordTransaction(ctx, tx)
			var verr *domain.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	tx := valid
	tx.PortfolioID = "missing"
	_, err := env.svc.RecordTransaction(ctx, tx)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	txs, err := env.svc.Transactions(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestSync_MergesBrokerPositions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createPortfolio(t, "p1")

	// A locally held position the broker does not report stays as it is
	_, err := env.svc.RecordTransaction(ctx, domain.Transaction{
		PortfolioID: "p1", Symbol: "NVDA", Side: domain.SideBuy, Quantity: 2, Price: 400,
	})
	require.NoError(t, err)

	env.gateway.snapshot = domain.AccountSnapshot{
		AccountID: "U123", NetLiquidation: 25000, Cash: 5000, RealizedPnL: 100, UnrealizedPnL: 250,
	}
	env.gateway.setPositions(
		brokerPos("AAPL", 10, 150, 160),
		brokerPos("MSFT", -5, 300, 290),
	)

	result := env.svc.Sync(ctx, "p1")
	require.True(t, result.Success, result.Errors)
	assert.Equal(t, domain.SyncSuccess, result.Status)
	assert.Equal(t, 2, result.PositionsUpdated)
	assert.Equal(t, 2, result.NewTransactions)
	assert.Empty(t, result.Errors)

	positions, err := env.svc.Positions(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, positions, 3)
	assert.Equal(t, "AAPL", positions[0].Symbol)
	assert.Equal(t, 150.0, positions[0].AverageCost)
	assert.Equal(t, "MSFT", positions[1].Symbol)
	assert.Equal(t, -5.0, positions[1].Quantity)
	assert.Equal(t, "NVDA", positions[2].Symbol)
	assert.Equal(t, 2.0, positions[2].Quantity)

	p, err := env.svc.GetPortfolio(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 25000.0, p.TotalValue)
	assert.Equal(t, 5000.0, p.CashBalance)
	assert.Equal(t, 350.0, p.DayPnL)
	assert.Equal(t, "U123", p.LinkedAccountID)
	require.NotNil(t, p.LastSyncedAt)

	status, last := env.svc.SyncState("p1")
	assert.Equal(t, domain.SyncSuccess, status)
	require.NotNil(t, last)

	env.publisher.AssertCalled(t, "PublishSyncResult", mock.MatchedBy(func(r domain.SyncResult) bool {
		return r.PortfolioID == "p1" && r.Success
	}))
}

func TestSync_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createPortfolio(t, "p1")
	env.gateway.setPositions(brokerPos("AAPL", 10, 150, 160), brokerPos("MSFT", 4, 300, 310))

	first := env.svc.Sync(ctx, "p1")
	require.True(t, first.Success)
	before, err := env.svc.Positions(ctx, "p1")
	require.NoError(t, err)

	second := env.svc.Sync(ctx, "p1")
	require.True(t, second.Success)
	assert.Zero(t, second.PositionsUpdated)
	assert.Zero(t, second.NewTransactions)

	after, err := env.svc.Positions(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	txs, err := env.svc.Transactions(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, txs, 2)
}

func TestSync_ZeroQuantityRetiresPosition(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createPortfolio(t, "p1")
	env.gateway.setPositions(brokerPos("AAPL", 10, 150, 160))
	require.True(t, env.svc.Sync(ctx, "p1").Success)

	env.gateway.setPositions(brokerPos("AAPL", 0, 150, 165))
	result := env.svc.Sync(ctx, "p1")
	require.True(t, result.Success)
	assert.Equal(t, 1, result.PositionsUpdated)
	assert.Equal(t, 1, result.NewTransactions)

	positions, err := env.svc.Positions(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, positions)

	txs, err := env.svc.Transactions(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, domain.SideSell, txs[1].Side)
	assert.Equal(t, 10.0, txs[1].Quantity)
	assert.Equal(t, domain.SourceReconciliation, txs[1].Source)
}

func TestSync_PartialFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createPortfolio(t, "p1")
	env.gateway.setPositions(
		brokerPos("AAPL", 10, 150, 160),
		domain.BrokerPosition{Symbol: "BAD", Quantity: math.NaN()},
		domain.BrokerPosition{Symbol: "NOPRICE", Quantity: 3},
	)

	result := env.svc.Sync(ctx, "p1")
	assert.True(t, result.Success)
	assert.Equal(t, domain.SyncPartialFailure, result.Status)
	assert.Equal(t, 1, result.PositionsUpdated)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "BAD")
	assert.Contains(t, result.Errors[1], "NOPRICE")

	positions, err := env.svc.Positions(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "AAPL", positions[0].Symbol)
}

func TestSync_AccountFailureStillMergesPositions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createPortfolio(t, "p1")
	env.gateway.accountErr = &domain.TransportError{Op: "account summary", StatusCode: 500, Err: errors.New("boom")}
	env.gateway.setPositions(brokerPos("AAPL", 1, 150, 160))

	result := env.svc.Sync(ctx, "p1")
	assert.True(t, result.Success)
	assert.Equal(t, domain.SyncPartialFailure, result.Status)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "account")

	p, err := env.svc.GetPortfolio(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 10000.0, p.CashBalance)
}

func TestSync_NotConnected(t *testing.T) {
	env := newTestEnv(t)
	env.createPortfolio(t, "p1")
	env.gateway.connected = false
	env.gateway.connectOK = false

	result := env.svc.Sync(context.Background(), "p1")
	assert.False(t, result.Success)
	assert.Equal(t, domain.SyncFailed, result.Status)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "not connected")
	assert.Equal(t, 1, env.gateway.connectCalls)
}

func TestSync_ConnectsWhenDisconnected(t *testing.T) {
	env := newTestEnv(t)
	env.createPortfolio(t, "p1")
	env.gateway.connected = false

	result := env.svc.Sync(context.Background(), "p1")
	assert.True(t, result.Success)
	assert.Equal(t, 1, env.gateway.connectCalls)
}

func TestSync_RejectsConcurrentPassForSamePortfolio(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createPortfolio(t, "p1")
	env.createPortfolio(t, "p2")
	env.gateway.setPositions(brokerPos("AAPL", 1, 150, 160))

	block := make(chan struct{})
	entered := make(chan struct{}, 4)
	env.gateway.mu.Lock()
	env.gateway.block = block
	env.gateway.entered = entered
	env.gateway.mu.Unlock()

	done := make(chan domain.SyncResult, 1)
	go func() { done <- env.svc.Sync(ctx, "p1") }()
	<-entered

	status, _ := env.svc.SyncState("p1")
	assert.Equal(t, domain.SyncSyncing, status)

	rejected := env.svc.Sync(ctx, "p1")
	assert.False(t, rejected.Success)
	assert.Equal(t, []string{ErrSyncInProgress.Error()}, rejected.Errors)

	// A different portfolio is not blocked by p1's pass
	other := make(chan domain.SyncResult, 1)
	go func() { other <- env.svc.Sync(ctx, "p2") }()
	<-entered

	close(block)
	assert.True(t, (<-done).Success)
	assert.True(t, (<-other).Success)

	status, _ = env.svc.SyncState("p1")
	assert.Equal(t, domain.SyncSuccess, status)
}

func TestSync_PublishesRiskAlerts(t *testing.T) {
	env := newTestEnv(t)
	env.createPortfolio(t, "p1")
	alert := domain.RiskAlert{PortfolioID: "p1", Symbol: "AAPL", Kind: domain.RiskPositionSize}
	env.svc.SetRiskEvaluator(staticRisk{alerts: []domain.RiskAlert{alert}})
	env.gateway.setPositions(brokerPos("AAPL", 100, 150, 160))

	require.True(t, env.svc.Sync(context.Background(), "p1").Success)
	env.publisher.AssertCalled(t, "PublishRiskAlert", []domain.RiskAlert{alert})
}

func TestAutoSync_StartReplaceStop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createPortfolio(t, "p1")

	assert.True(t, domain.IsValidation(env.svc.StartAutoSync(ctx, "p1", 0)))
	assert.ErrorIs(t, env.svc.StartAutoSync(ctx, "missing", 5), domain.ErrNotFound)

	require.NoError(t, env.svc.StartAutoSync(ctx, "p1", 5))
	require.NoError(t, env.svc.StartAutoSync(ctx, "p1", 10))
	assert.True(t, env.svc.AutoSyncing("p1"))
	assert.Equal(t, []string{"portfolio-sync:p1"}, env.sched.Keys())

	p, err := env.svc.GetPortfolio(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 10, p.AutoSyncMinutes)

	stopped, err := env.svc.DisableAutoSync(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, stopped)
	assert.False(t, env.svc.AutoSyncing("p1"))
	assert.False(t, env.svc.StopAutoSync("p1"))

	p, err = env.svc.GetPortfolio(ctx, "p1")
	require.NoError(t, err)
	assert.Zero(t, p.AutoSyncMinutes)
}

func TestRestoreAutoSync(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createPortfolio(t, "p1")
	env.createPortfolio(t, "p2")
	require.NoError(t, env.svc.StartAutoSync(ctx, "p1", 15))

	// A fresh scheduler, as after a restart
	sched := scheduler.New(zerolog.Nop())
	svc := NewService(env.repo, env.gateway, sched, nil, zerolog.Nop())

	n, err := svc.RestoreAutoSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"portfolio-sync:p1"}, sched.Keys())
}

func TestSyncJob_Run(t *testing.T) {
	env := newTestEnv(t)
	env.createPortfolio(t, "p1")

	job := NewSyncJob(env.svc, "p1")
	assert.Equal(t, "portfolio-sync:p1", job.Name())
	assert.NoError(t, job.Run())

	env.gateway.connected = false
	env.gateway.connectOK = false
	assert.Error(t, job.Run())
}

func TestLiquidate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createPortfolio(t, "p1")

	for _, tx := range []domain.Transaction{
		{PortfolioID: "p1", Symbol: "AAPL", Side: domain.SideBuy, Quantity: 10, Price: 100},
		{PortfolioID: "p1", Symbol: "TSLA", Side: domain.SideSell, Quantity: 4, Price: 250},
	} {
		_, err := env.svc.RecordTransaction(ctx, tx)
		require.NoError(t, err)
	}
	_, err := env.svc.reprice(ctx, "p1", map[string]float64{"AAPL": 110})
	require.NoError(t, err)

	err = env.svc.DeletePortfolio(ctx, "p1")
	assert.True(t, domain.IsValidation(err))

	result, err := env.svc.Liquidate(ctx, "p1", "risk limit breached")
	require.NoError(t, err)
	require.Len(t, result.Transactions, 2)
	assert.Empty(t, result.Errors)

	byTicker := map[string]domain.Transaction{}
	for _, tx := range result.Transactions {
		byTicker[tx.Symbol] = tx
		assert.Equal(t, domain.SourceLiquidation, tx.Source)
		assert.Equal(t, "risk limit breached", tx.Note)
	}
	assert.Equal(t, domain.SideSell, byTicker["AAPL"].Side)
	assert.Equal(t, 110.0, byTicker["AAPL"].Price)
	assert.Equal(t, domain.SideBuy, byTicker["TSLA"].Side)
	assert.Equal(t, 250.0, byTicker["TSLA"].Price)
	assert.InDelta(t, 100.0, result.RealizedPnL, 1e-9)

	positions, err := env.svc.Positions(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, positions)

	txs, err := env.svc.Transactions(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, txs, 4)

	require.NoError(t, env.svc.DeletePortfolio(ctx, "p1"))
	_, err = env.svc.GetPortfolio(ctx, "p1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	env.publisher.AssertCalled(t, "PublishPortfolioDeleted", mock.Anything)
}

func TestMarkToMarket(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createPortfolio(t, "p1")
	_, err := env.svc.RecordTransaction(ctx, domain.Transaction{
		PortfolioID: "p1", Symbol: "AAPL", Side: domain.SideBuy, Quantity: 10, Price: 100,
	})
	require.NoError(t, err)

	_, err = env.svc.MarkToMarket(ctx)
	assert.Error(t, err)

	quotes := []domain.Quote{{Symbol: "AAPL", Price: 105, Source: domain.QuoteSourceFallback, Fallback: true}}
	env.svc.SetQuoteSource(fakeQuotes{quotes: quotes})

	n, err := env.svc.MarkToMarket(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	env.publisher.AssertCalled(t, "PublishMarket", quotes)

	positions, err := env.svc.Positions(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1050.0, positions[0].MarketValue)
	assert.Equal(t, 50.0, positions[0].UnrealizedPnL)

	p, err := env.svc.GetPortfolio(ctx, "p1")
	require.NoError(t, err)
	assert.InDelta(t, 10050.0, p.TotalValue, 1e-9)
	assert.InDelta(t, 50.0, p.TotalPnL, 1e-9)
}

func TestSnapshots(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createPortfolio(t, "p1")

	positions, err := env.svc.PositionsSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, []PortfolioPositions{{PortfolioID: "p1", Positions: []domain.Position{}}}, positions)

	accounts, err := env.svc.AccountSnapshot(ctx)
	require.NoError(t, err)
	views := accounts.([]domain.AccountView)
	require.Len(t, views, 1)
	assert.Equal(t, 10000.0, views[0].CashBalance)

	portfolios, err := env.svc.PortfoliosSnapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, portfolios.([]domain.Portfolio), 1)
}

func TestSync_InFlightCompletesWithinTimeout(t *testing.T) {
	env := newTestEnv(t)
	env.createPortfolio(t, "p1")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.True(t, env.svc.Sync(ctx, "p1").Success)
}
