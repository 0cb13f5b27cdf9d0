package domain

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Position is the net holding for a single symbol.
// Mutated only by confirmed fills; created on first fill, never deleted
// (quantity resets to zero when flat).
type Position struct {
	Symbol        string          `json:"symbol"`
	Qty           decimal.Decimal `json:"qty"`       // net quantity, negative = short
	AvgEntryPrice decimal.Decimal `json:"avg_entry"` // zero while flat
}

// PositionBook holds one Position per symbol.
// Single writer (the reconciliation loop), many readers (risk engine,
// status snapshots); access is synchronized so a reader never observes
// a partially-applied fill.
type PositionBook struct {
	mu        sync.RWMutex
	positions map[string]*Position
}

// NewPositionBook creates an empty position book.
func NewPositionBook() *PositionBook {
	return &PositionBook{positions: make(map[string]*Position)}
}

// Get returns a copy of the position for symbol. A symbol never traded
// reports a flat position.
func (b *PositionBook) Get(symbol string) Position {
	b.mu.RLock()
	defer b.mu.RUnlock()

	p, ok := b.positions[symbol]
	if !ok {
		return Position{Symbol: symbol, Qty: decimal.Zero, AvgEntryPrice: decimal.Zero}
	}
	return *p
}

// ApplyFill mutates the position for a confirmed fill and returns the
// realized profit or loss of the position-reducing part (zero when the
// fill only adds exposure).
func (b *PositionBook) ApplyFill(symbol, side string, qty, price decimal.Decimal) decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.positions[symbol]
	if !ok {
		p = &Position{Symbol: symbol, Qty: decimal.Zero, AvgEntryPrice: decimal.Zero}
		b.positions[symbol] = p
	}

	delta := qty
	if side == SideSell {
		delta = qty.Neg()
	}

	realized := decimal.Zero
	sameSign := p.Qty.Sign() == 0 || p.Qty.Sign() == delta.Sign()

	if sameSign {
		// Adding exposure: blend average entry price.
		newQty := p.Qty.Add(delta)
		if !newQty.IsZero() {
			notional := p.AvgEntryPrice.Mul(p.Qty.Abs()).Add(price.Mul(delta.Abs()))
			p.AvgEntryPrice = notional.Div(newQty.Abs())
		}
		p.Qty = newQty
		return realized
	}

	// Reducing (or crossing) exposure: realize P&L against avg entry.
	closed := decimal.Min(p.Qty.Abs(), delta.Abs())
	diff := price.Sub(p.AvgEntryPrice)
	if p.Qty.Sign() < 0 {
		diff = diff.Neg() // short position profits when price falls
	}
	realized = diff.Mul(closed)

	p.Qty = p.Qty.Add(delta)
	if p.Qty.IsZero() {
		p.AvgEntryPrice = decimal.Zero
	} else if p.Qty.Sign() == delta.Sign() {
		// Crossed through zero: the remainder opens at the fill price.
		p.AvgEntryPrice = price
	}

	return realized
}

// Snapshot returns a copy of every position, sorted input not required.
func (b *PositionBook) Snapshot() []Position {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	return out
}
