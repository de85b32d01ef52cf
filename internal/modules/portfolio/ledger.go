package portfolio

import (
	"sort"

	"github.com/aristath/brokersync/internal/domain"
	"github.com/shopspring/decimal"
)

// Ledger is the persisted state of one portfolio: its aggregates, open
// positions and the append-only transaction log.
type Ledger struct {
	Portfolio    domain.Portfolio     `msgpack:"portfolio"`
	Positions    []domain.Position    `msgpack:"positions"`
	Transactions []domain.Transaction `msgpack:"transactions"`
}

func (l *Ledger) find(key domain.PositionKey) int {
	for i, p := range l.Positions {
		if p.Key() == key {
			return i
		}
	}
	return -1
}

// Position returns the open position for key.
func (l *Ledger) Position(key domain.PositionKey) (domain.Position, bool) {
	if i := l.find(key); i >= 0 {
		return l.Positions[i], true
	}
	return domain.Position{}, false
}

// put stores pos, removing it when its quantity is zero.
func (l *Ledger) put(pos domain.Position) {
	i := l.find(pos.Key())
	if pos.Quantity == 0 {
		if i >= 0 {
			l.Positions = append(l.Positions[:i], l.Positions[i+1:]...)
		}
		return
	}
	if i >= 0 {
		l.Positions[i] = pos
		return
	}
	l.Positions = append(l.Positions, pos)
	sort.Slice(l.Positions, func(a, b int) bool {
		if l.Positions[a].Symbol == l.Positions[b].Symbol {
			return l.Positions[a].SecType < l.Positions[b].SecType
		}
		return l.Positions[a].Symbol < l.Positions[b].Symbol
	})
}

// OpenPositions returns a copy of the open positions.
func (l *Ledger) OpenPositions() []domain.Position {
	out := make([]domain.Position, len(l.Positions))
	copy(out, l.Positions)
	return out
}

func (l *Ledger) clone() *Ledger {
	c := &Ledger{Portfolio: l.Portfolio}
	c.Positions = append([]domain.Position(nil), l.Positions...)
	c.Transactions = append([]domain.Transaction(nil), l.Transactions...)
	if l.Portfolio.LastSyncedAt != nil {
		t := *l.Portfolio.LastSyncedAt
		c.Portfolio.LastSyncedAt = &t
	}
	return c
}

// recomputeTotals derives totalValue and totalPnL from cash, realized P&L and
// the open positions.
func (l *Ledger) recomputeTotals() {
	value := decimal.NewFromFloat(l.Portfolio.CashBalance)
	unrealized := decimal.Zero
	for _, p := range l.Positions {
		value = value.Add(decimal.NewFromFloat(p.MarketValue))
		unrealized = unrealized.Add(decimal.NewFromFloat(p.UnrealizedPnL))
	}
	l.Portfolio.TotalValue = value.InexactFloat64()
	l.Portfolio.TotalPnL = decimal.NewFromFloat(l.Portfolio.RealizedPnL).Add(unrealized).InexactFloat64()
}

// Fill is the effect of one transaction on a position.
type Fill struct {
	Position    domain.Position // Quantity 0 means the position is retired
	RealizedPnL decimal.Decimal
	CashDelta   decimal.Decimal
}

// Retired reports whether the fill closed the position.
func (f Fill) Retired() bool {
	return f.Position.Quantity == 0
}

// applyFill computes the position that results from applying tx to prev.
// prev is the zero Position when nothing is held.
//
// A buy on a flat or long position moves the average cost to the volume
// weighted average of entries. A buy that covers a short realizes
// (avg - price) per covered unit and keeps the old average while the
// position stays short. A sell never changes the average cost while the
// position keeps its sign; a sell against a long realizes (price - avg) per
// closed unit. Crossing zero in either direction restarts the average at
// the trade price: a buy that flips a short to long sets the average cost of
// the new long to the fill price, not the blended (q*avg + tq*price)/q'.
// Fees reduce realized P&L only when the trade closes exposure, and always
// move cash.
func applyFill(prev domain.Position, tx domain.Transaction) Fill {
	q := decimal.NewFromFloat(prev.Quantity)
	avg := decimal.NewFromFloat(prev.AverageCost)
	tq := decimal.NewFromFloat(tx.Quantity)
	price := decimal.NewFromFloat(tx.Price)
	fees := decimal.NewFromFloat(tx.Fees)
	notional := tq.Mul(price)

	var next decimal.Decimal
	realized := decimal.Zero
	cash := decimal.Zero

	switch tx.Side {
	case domain.SideBuy:
		next = q.Add(tq)
		cash = notional.Neg().Sub(fees)
		if q.GreaterThanOrEqual(decimal.Zero) {
			avg = q.Mul(avg).Add(notional).Div(next)
			break
		}
		covered := decimal.Min(tq, q.Abs())
		realized = avg.Sub(price).Mul(covered).Sub(fees)
		if next.GreaterThan(decimal.Zero) {
			// short flipped to long
			avg = price
		}
	case domain.SideSell:
		next = q.Sub(tq)
		cash = notional.Sub(fees)
		switch {
		case q.GreaterThan(decimal.Zero):
			closed := decimal.Min(tq, q)
			realized = price.Sub(avg).Mul(closed).Sub(fees)
			if next.LessThan(decimal.Zero) {
				avg = price
			}
		case q.IsZero():
			avg = price
		}
	}

	pos := prev
	pos.PortfolioID = tx.PortfolioID
	pos.Symbol = tx.Symbol
	pos.SecType = tx.SecType
	pos.LastUpdated = tx.ExecutedAt

	if next.IsZero() {
		pos.Quantity = 0
		pos.AverageCost = 0
		pos.MarketValue = 0
		pos.UnrealizedPnL = 0
		return Fill{Position: pos, RealizedPnL: realized, CashDelta: cash}
	}

	pos.Quantity = next.InexactFloat64()
	pos.AverageCost = avg.Round(8).InexactFloat64()
	if pos.MarketPrice <= 0 {
		pos.MarketPrice = tx.Price
	}
	mark := decimal.NewFromFloat(pos.MarketPrice)
	pos.MarketValue = next.Mul(mark).InexactFloat64()
	pos.UnrealizedPnL = mark.Sub(avg).Mul(next).Round(8).InexactFloat64()

	return Fill{Position: pos, RealizedPnL: realized, CashDelta: cash}
}

// reprice marks pos to price, keeping quantity and average cost.
func reprice(pos domain.Position, price float64) domain.Position {
	if price <= 0 {
		return pos
	}
	q := decimal.NewFromFloat(pos.Quantity)
	mark := decimal.NewFromFloat(price)
	pos.MarketPrice = price
	pos.MarketValue = q.Mul(mark).InexactFloat64()
	pos.UnrealizedPnL = mark.Sub(decimal.NewFromFloat(pos.AverageCost)).Mul(q).Round(8).InexactFloat64()
	return pos
}
