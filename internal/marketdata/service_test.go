package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aristath/brokersync/internal/domain"
)

type mockSource struct {
	mock.Mock
	name      string
	available bool
}

func (m *mockSource) Name() string    { return m.name }
func (m *mockSource) Available() bool { return m.available }

func (m *mockSource) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	args := m.Called(symbol)
	return args.Get(0).(domain.Quote), args.Error(1)
}

func (m *mockSource) Quotes(ctx context.Context, symbols []string) ([]domain.Quote, error) {
	args := m.Called(symbols)
	quotes, _ := args.Get(0).([]domain.Quote)
	return quotes, args.Error(1)
}

func (m *mockSource) History(ctx context.Context, symbol, period, interval string) ([]domain.Bar, error) {
	args := m.Called(symbol, period, interval)
	bars, _ := args.Get(0).([]domain.Bar)
	return bars, args.Error(1)
}

func primaryQuote(sym string, price float64) domain.Quote {
	return domain.Quote{Symbol: sym, Price: price, Source: domain.QuoteSourcePrimary}
}

func fallbackQuote(sym string, price float64) domain.Quote {
	return domain.Quote{Symbol: sym, Price: price, Source: domain.QuoteSourceFallback}
}

func newTestService(primary *mockSource, fallback *mockSource) *Service {
	return NewService(primary, fallback, time.Minute, zerolog.Nop())
}

func TestQuote_UsesPrimaryWhenConnected(t *testing.T) {
	primary := &mockSource{name: "ibkr", available: true}
	fallback := &mockSource{name: "yahoo"}
	primary.On("Quote", "AAPL").Return(primaryQuote("AAPL", 100), nil).Once()

	s := newTestService(primary, fallback)
	q, err := s.Quote(context.Background(), "aapl")
	require.NoError(t, err)
	assert.Equal(t, domain.QuoteSourcePrimary, q.Source)
	assert.False(t, q.Fallback)

	// Second call is served from cache
	q, err = s.Quote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 100.0, q.Price)

	primary.AssertExpectations(t)
	fallback.AssertNotCalled(t, "Quote", mock.Anything)
}

func TestQuote_FallbackWhenDisconnected(t *testing.T) {
	primary := &mockSource{name: "ibkr", available: false}
	fallback := &mockSource{name: "yahoo"}
	fallback.On("Quote", "AAPL").Return(fallbackQuote("AAPL", 99), nil).Twice()

	s := newTestService(primary, fallback)
	for i := 0; i < 2; i++ {
		q, err := s.Quote(context.Background(), "AAPL")
		require.NoError(t, err)
		assert.Equal(t, domain.QuoteSourceFallback, q.Source)
		assert.True(t, q.Fallback)
	}

	// Fallback results never enter the primary cache
	assert.Empty(t, s.cache)
	fallback.AssertExpectations(t)
	primary.AssertNotCalled(t, "Quote", mock.Anything)
}

func TestQuote_FallbackOnPrimaryError(t *testing.T) {
	primary := &mockSource{name: "ibkr", available: true}
	fallback := &mockSource{name: "yahoo"}
	primary.On("Quote", "AAPL").Return(domain.Quote{}, errors.New("no market data yet"))
	fallback.On("Quote", "AAPL").Return(fallbackQuote("AAPL", 99), nil)

	s := newTestService(primary, fallback)
	q, err := s.Quote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.True(t, q.Fallback)
}

func TestQuote_BothFail(t *testing.T) {
	primary := &mockSource{name: "ibkr", available: true}
	fallback := &mockSource{name: "yahoo"}
	primary.On("Quote", "AAPL").Return(domain.Quote{}, errors.New("primary down"))
	fallback.On("Quote", "AAPL").Return(domain.Quote{}, errors.New("rate limited"))

	s := newTestService(primary, fallback)
	_, err := s.Quote(context.Background(), "AAPL")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "primary down")
	assert.Contains(t, err.Error(), "rate limited")
}

func TestQuote_NoFallbackConfigured(t *testing.T) {
	primary := &mockSource{name: "ibkr", available: false}
	s := NewService(primary, nil, time.Minute, zerolog.Nop())

	_, err := s.Quote(context.Background(), "AAPL")
	assert.True(t, domain.IsNotConnected(err))

	_, err = s.Quote(context.Background(), " ")
	assert.True(t, domain.IsValidation(err))
}

func TestQuote_CacheExpires(t *testing.T) {
	primary := &mockSource{name: "ibkr", available: true}
	primary.On("Quote", "AAPL").Return(primaryQuote("AAPL", 100), nil).Twice()

	s := newTestService(primary, nil)
	now := time.Now()
	s.now = func() time.Time { return now }

	_, err := s.Quote(context.Background(), "AAPL")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, s.Purge())
	_, err = s.Quote(context.Background(), "AAPL")
	require.NoError(t, err)
	primary.AssertExpectations(t)
}

func TestQuotes_MixesSourcesInRequestOrder(t *testing.T) {
	primary := &mockSource{name: "ibkr", available: true}
	fallback := &mockSource{name: "yahoo"}
	primary.On("Quotes", []string{"AAPL", "MSFT", "TSLA"}).
		Return([]domain.Quote{primaryQuote("MSFT", 300), primaryQuote("AAPL", 100)}, errors.New("incomplete quotes: TSLA"))
	fallback.On("Quotes", []string{"TSLA"}).Return([]domain.Quote{fallbackQuote("TSLA", 250)}, nil)

	s := newTestService(primary, fallback)
	quotes, err := s.Quotes(context.Background(), []string{"aapl", "MSFT", "TSLA", "AAPL"})
	require.NoError(t, err)
	require.Len(t, quotes, 3)

	assert.Equal(t, "AAPL", quotes[0].Symbol)
	assert.Equal(t, "MSFT", quotes[1].Symbol)
	assert.Equal(t, "TSLA", quotes[2].Symbol)
	assert.False(t, quotes[0].Fallback)
	assert.True(t, quotes[2].Fallback)
	assert.Equal(t, domain.QuoteSourceFallback, quotes[2].Source)
}

func TestQuotes_ReportsUnserved(t *testing.T) {
	primary := &mockSource{name: "ibkr", available: false}
	fallback := &mockSource{name: "yahoo"}
	fallback.On("Quotes", []string{"AAPL", "BAD"}).
		Return([]domain.Quote{fallbackQuote("AAPL", 100)}, errors.New("BAD: not found"))

	s := newTestService(primary, fallback)
	quotes, err := s.Quotes(context.Background(), []string{"AAPL", "BAD"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BAD")
	assert.Len(t, quotes, 1)

	_, err = s.Quotes(context.Background(), nil)
	assert.True(t, domain.IsValidation(err))
}

func TestHistory(t *testing.T) {
	bars := []domain.Bar{{Close: 1}}

	t.Run("primary", func(t *testing.T) {
		primary := &mockSource{name: "ibkr", available: true}
		primary.On("History", "AAPL", "1mo", "1d").Return(bars, nil)
		s := newTestService(primary, &mockSource{name: "yahoo"})

		got, err := s.History(context.Background(), "aapl", "1mo", "1d")
		require.NoError(t, err)
		assert.Equal(t, domain.History{Symbol: "AAPL", Source: domain.QuoteSourcePrimary, Bars: bars}, got)
	})

	t.Run("fallback on error", func(t *testing.T) {
		primary := &mockSource{name: "ibkr", available: true}
		fallback := &mockSource{name: "yahoo"}
		primary.On("History", "AAPL", "1mo", "1d").Return(nil, errors.New("pacing violation"))
		fallback.On("History", "AAPL", "1mo", "1d").Return(bars, nil)
		s := newTestService(primary, fallback)

		got, err := s.History(context.Background(), "AAPL", "1mo", "1d")
		require.NoError(t, err)
		assert.Equal(t, bars, got.Bars)
		assert.Equal(t, domain.QuoteSourceFallback, got.Source)
		assert.True(t, got.Fallback)
	})

	t.Run("fallback when disconnected", func(t *testing.T) {
		primary := &mockSource{name: "ibkr", available: false}
		fallback := &mockSource{name: "yahoo"}
		fallback.On("History", "AAPL", "1y", "1d").Return(nil, nil)
		s := newTestService(primary, fallback)

		got, err := s.History(context.Background(), "AAPL", "1y", "1d")
		require.NoError(t, err)
		assert.True(t, got.Fallback)
		assert.Equal(t, domain.QuoteSourceFallback, got.Source)
		assert.NotNil(t, got.Bars)
		assert.Empty(t, got.Bars)
		primary.AssertNotCalled(t, "History", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("both fail", func(t *testing.T) {
		primary := &mockSource{name: "ibkr", available: true}
		fallback := &mockSource{name: "yahoo"}
		primary.On("History", "AAPL", "1mo", "1d").Return(nil, errors.New("pacing violation"))
		fallback.On("History", "AAPL", "1mo", "1d").Return(nil, errors.New("rate limited"))
		s := newTestService(primary, fallback)

		_, err := s.History(context.Background(), "AAPL", "1mo", "1d")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "pacing violation")
		assert.Contains(t, err.Error(), "rate limited")
	})
}
