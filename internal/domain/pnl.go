package domain

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// DailyPnL accumulates realized losses for the current trading day.
// Only losses are accumulated: the accumulator is monotonically
// non-decreasing within a day and is the sole input to the daily-loss
// risk check. It resets at midnight in the configured location.
type DailyPnL struct {
	mu       sync.RWMutex
	loc      *time.Location
	day      time.Time // midnight of the current trading day
	lossAcc  decimal.Decimal
	realized decimal.Decimal // net realized P&L, informational only
	now      func() time.Time
}

// NewDailyPnL creates a tracker whose trading day rolls over at
// midnight in loc (UTC when nil).
func NewDailyPnL(loc *time.Location) *DailyPnL {
	if loc == nil {
		loc = time.UTC
	}
	p := &DailyPnL{
		loc:      loc,
		lossAcc:  decimal.Zero,
		realized: decimal.Zero,
		now:      time.Now,
	}
	p.day = dayStart(p.now(), loc)
	return p
}

func dayStart(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// AddRealized records a realized P&L amount. Losses (negative pnl)
// grow the daily loss accumulator; gains never shrink it.
func (p *DailyPnL) AddRealized(pnl decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.rollLocked()
	p.realized = p.realized.Add(pnl)
	if pnl.Sign() < 0 {
		p.lossAcc = p.lossAcc.Add(pnl.Abs())
	}
}

// RealizedLoss returns the accumulated loss for the current day.
func (p *DailyPnL) RealizedLoss() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.rollLocked()
	return p.lossAcc
}

// Snapshot returns the current day and its totals.
func (p *DailyPnL) Snapshot() (day time.Time, realized, realizedLoss decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.rollLocked()
	return p.day, p.realized, p.lossAcc
}

// rollLocked resets the accumulators when the trading day has changed.
// Caller must hold p.mu.
func (p *DailyPnL) rollLocked() {
	today := dayStart(p.now(), p.loc)
	if !today.Equal(p.day) {
		p.day = today
		p.lossAcc = decimal.Zero
		p.realized = decimal.Zero
	}
}
