// Package risk checks portfolios against position size and concentration limits.
package risk

import (
	"fmt"
	"math"
	"time"

	"github.com/aristath/brokersync/internal/domain"
	"gonum.org/v1/gonum/floats"
)

// Default limits
const (
	DefaultMaxPositionValue = 10000.0
	DefaultMaxConcentration = 0.25
)

// Limits configures the checker. A zero limit disables its check.
type Limits struct {
	MaxPositionValue float64 // absolute market value of a single position
	MaxConcentration float64 // largest position as a fraction of total value
}

// DefaultLimits returns the default risk limits
func DefaultLimits() Limits {
	return Limits{
		MaxPositionValue: DefaultMaxPositionValue,
		MaxConcentration: DefaultMaxConcentration,
	}
}

// Checker evaluates portfolios against Limits
type Checker struct {
	limits Limits
	now    func() time.Time
}

// NewChecker creates a checker with the given limits
func NewChecker(limits Limits) *Checker {
	return &Checker{limits: limits, now: func() time.Time { return time.Now().UTC() }}
}

// Limits returns the configured limits
func (c *Checker) Limits() Limits {
	return c.limits
}

// Evaluate returns one alert per breached limit, position size alerts first
// in position order, then at most one concentration alert.
func (c *Checker) Evaluate(p domain.Portfolio, positions []domain.Position) []domain.RiskAlert {
	if len(positions) == 0 {
		return nil
	}
	now := c.now()
	var alerts []domain.RiskAlert

	values := make([]float64, len(positions))
	for i, pos := range positions {
		values[i] = math.Abs(pos.MarketValue)
		if c.limits.MaxPositionValue > 0 && values[i] > c.limits.MaxPositionValue {
			alerts = append(alerts, domain.RiskAlert{
				RaisedAt:    now,
				PortfolioID: p.ID,
				Symbol:      pos.Symbol,
				Kind:        domain.RiskPositionSize,
				Message:     fmt.Sprintf("%s position value %.2f exceeds limit %.2f", pos.Symbol, values[i], c.limits.MaxPositionValue),
				Value:       values[i],
				Limit:       c.limits.MaxPositionValue,
			})
		}
	}

	if c.limits.MaxConcentration <= 0 {
		return alerts
	}
	total := p.TotalValue
	if total <= 0 {
		total = floats.Sum(values)
	}
	if total <= 0 {
		return alerts
	}
	largest := floats.MaxIdx(values)
	share := values[largest] / total
	if share > c.limits.MaxConcentration {
		alerts = append(alerts, domain.RiskAlert{
			RaisedAt:    now,
			PortfolioID: p.ID,
			Symbol:      positions[largest].Symbol,
			Kind:        domain.RiskConcentration,
			Message: fmt.Sprintf("%s is %.1f%% of portfolio value, limit %.1f%%",
				positions[largest].Symbol, share*100, c.limits.MaxConcentration*100),
			Value: share,
			Limit: c.limits.MaxConcentration,
		})
	}
	return alerts
}

// AssessTrade reports whether buying quantity at price keeps the resulting
// position within the size and concentration limits.
func (c *Checker) AssessTrade(p domain.Portfolio, current domain.Position, quantity, price float64) error {
	value := math.Abs((current.Quantity + quantity) * price)
	if c.limits.MaxPositionValue > 0 && value > c.limits.MaxPositionValue {
		return domain.NewValidationError("quantity",
			fmt.Sprintf("resulting position value %.2f exceeds limit %.2f", value, c.limits.MaxPositionValue))
	}
	if c.limits.MaxConcentration > 0 && p.TotalValue > 0 {
		if share := value / p.TotalValue; share > c.limits.MaxConcentration {
			return domain.NewValidationError("quantity",
				fmt.Sprintf("resulting position would be %.1f%% of portfolio value, limit %.1f%%",
					share*100, c.limits.MaxConcentration*100))
		}
	}
	return nil
}
