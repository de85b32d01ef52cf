package portfolio

import (
	"math/rand"
	"testing"
	"time"

	"github.com/aristath/brokersync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

func trade(side domain.Side, qty, price float64) domain.Transaction {
	return domain.Transaction{
		ExecutedAt:  time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC),
		PortfolioID: "p1",
		Symbol:      "AAPL",
		SecType:     domain.SecTypeStock,
		Side:        side,
		Quantity:    qty,
		Price:       price,
	}
}

func TestApplyFill_Scenario(t *testing.T) {
	var pos domain.Position

	f := applyFill(pos, trade(domain.SideBuy, 10, 100))
	assert.Equal(t, 10.0, f.Position.Quantity)
	assert.Equal(t, 100.0, f.Position.AverageCost)
	assert.True(t, f.RealizedPnL.IsZero())
	assert.Equal(t, -1000.0, f.CashDelta.InexactFloat64())

	f = applyFill(f.Position, trade(domain.SideBuy, 10, 120))
	assert.Equal(t, 20.0, f.Position.Quantity)
	assert.Equal(t, 110.0, f.Position.AverageCost)

	f = applyFill(f.Position, trade(domain.SideSell, 15, 130))
	assert.Equal(t, 5.0, f.Position.Quantity)
	assert.Equal(t, 110.0, f.Position.AverageCost)
	assert.InDelta(t, 300.0, f.RealizedPnL.InexactFloat64(), 1e-9)
	assert.Equal(t, 1950.0, f.CashDelta.InexactFloat64())
	assert.False(t, f.Retired())
}

func TestApplyFill_BuyAverageIsVolumeWeighted(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 200; run++ {
		n := 1 + rng.Intn(20)
		prices := make([]float64, n)
		qtys := make([]float64, n)

		var pos domain.Position
		for i := 0; i < n; i++ {
			qtys[i] = float64(1 + rng.Intn(500))
			prices[i] = float64(1+rng.Intn(100000)) / 100
			pos = applyFill(pos, trade(domain.SideBuy, qtys[i], prices[i])).Position
		}

		require.Equal(t, floats.Sum(qtys), pos.Quantity)
		assert.InDelta(t, stat.Mean(prices, qtys), pos.AverageCost, 1e-6, "run %d", run)
	}
}

func TestApplyFill_SellKeepsAverageCost(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for run := 0; run < 200; run++ {
		start := applyFill(domain.Position{}, trade(domain.SideBuy, float64(10+rng.Intn(100)), 50)).Position
		sellQty := float64(1 + rng.Intn(int(start.Quantity)-1))

		f := applyFill(start, trade(domain.SideSell, sellQty, float64(1+rng.Intn(200))))
		assert.Less(t, f.Position.Quantity, start.Quantity)
		assert.Equal(t, start.AverageCost, f.Position.AverageCost)
	}
}

func TestApplyFill_Shorts(t *testing.T) {
	t.Run("sell with no position opens a short", func(t *testing.T) {
		f := applyFill(domain.Position{}, trade(domain.SideSell, 10, 50))
		assert.Equal(t, -10.0, f.Position.Quantity)
		assert.Equal(t, 50.0, f.Position.AverageCost)
		assert.True(t, f.RealizedPnL.IsZero())
		assert.Equal(t, 500.0, f.CashDelta.InexactFloat64())
	})

	t.Run("selling more than held flips short at the trade price", func(t *testing.T) {
		long := applyFill(domain.Position{}, trade(domain.SideBuy, 5, 100)).Position
		f := applyFill(long, trade(domain.SideSell, 8, 90))
		assert.Equal(t, -3.0, f.Position.Quantity)
		assert.Equal(t, 90.0, f.Position.AverageCost)
		assert.InDelta(t, -50.0, f.RealizedPnL.InexactFloat64(), 1e-9)
	})

	t.Run("partial cover keeps the short average", func(t *testing.T) {
		short := applyFill(domain.Position{}, trade(domain.SideSell, 10, 50)).Position
		f := applyFill(short, trade(domain.SideBuy, 4, 40))
		assert.Equal(t, -6.0, f.Position.Quantity)
		assert.Equal(t, 50.0, f.Position.AverageCost)
		assert.InDelta(t, 40.0, f.RealizedPnL.InexactFloat64(), 1e-9)
	})

	t.Run("buying through a short flips long at the trade price", func(t *testing.T) {
		short := applyFill(domain.Position{}, trade(domain.SideSell, 10, 50)).Position
		f := applyFill(short, trade(domain.SideBuy, 15, 45))
		assert.Equal(t, 5.0, f.Position.Quantity)
		assert.Equal(t, 45.0, f.Position.AverageCost)
		// blending the short's cost in would give (-10*50 + 15*45)/5 = 35
		assert.NotEqual(t, 35.0, f.Position.AverageCost)
		assert.InDelta(t, 50.0, f.RealizedPnL.InexactFloat64(), 1e-9)
	})
}

func TestApplyFill_CloseRetiresPosition(t *testing.T) {
	long := applyFill(domain.Position{}, trade(domain.SideBuy, 10, 100)).Position

	tx := trade(domain.SideSell, 10, 105)
	tx.Fees = 2
	f := applyFill(long, tx)

	assert.True(t, f.Retired())
	assert.Zero(t, f.Position.AverageCost)
	assert.Zero(t, f.Position.MarketValue)
	assert.InDelta(t, 48.0, f.RealizedPnL.InexactFloat64(), 1e-9)
	assert.Equal(t, 1048.0, f.CashDelta.InexactFloat64())
}

func TestLedger_PutRemovesZeroQuantity(t *testing.T) {
	l := &Ledger{}
	l.put(domain.Position{Symbol: "MSFT", SecType: domain.SecTypeStock, Quantity: 1})
	l.put(domain.Position{Symbol: "AAPL", SecType: domain.SecTypeStock, Quantity: 2})
	require.Len(t, l.Positions, 2)
	assert.Equal(t, "AAPL", l.Positions[0].Symbol)

	l.put(domain.Position{Symbol: "AAPL", SecType: domain.SecTypeStock})
	require.Len(t, l.Positions, 1)
	assert.Equal(t, "MSFT", l.Positions[0].Symbol)
}

func TestReprice(t *testing.T) {
	pos := domain.Position{Quantity: -4, AverageCost: 50, MarketPrice: 50}
	got := reprice(pos, 45)
	assert.Equal(t, 45.0, got.MarketPrice)
	assert.Equal(t, -180.0, got.MarketValue)
	assert.Equal(t, 20.0, got.UnrealizedPnL)

	assert.Equal(t, pos, reprice(pos, 0))
}
