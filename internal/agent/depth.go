package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"crypto_agents/internal/bus"
	"crypto_agents/internal/domain"
	"crypto_agents/internal/infra"
)

// Depth emits order book imbalance signals: a top of book heavily
// weighted to one side suggests short-term pressure in that direction.
// imbalance = bid_qty / (bid_qty + ask_qty); above the threshold is
// buy pressure, below its mirror is sell pressure.
type Depth struct {
	*base

	feed    domain.MarketDataSource
	bus     *bus.Bus
	metrics *infra.Metrics
	symbols []string

	threshold decimal.Decimal // in (0.5, 1)
}

// NewDepth creates a book imbalance producer over symbols.
func NewDepth(feed domain.MarketDataSource, b *bus.Bus, metrics *infra.Metrics, symbols []string, threshold decimal.Decimal, interval time.Duration) *Depth {
	d := &Depth{
		feed:      feed,
		bus:       b,
		metrics:   metrics,
		symbols:   symbols,
		threshold: threshold,
	}
	d.base = newBase("depth", interval, d.scan)
	return d
}

func (d *Depth) scan(ctx context.Context) error {
	one := decimal.NewFromInt(1)

	for _, symbol := range d.symbols {
		snap, err := d.feed.Fetch(ctx, symbol)
		if err != nil {
			if domain.IsRetriable(err) {
				continue
			}
			return err
		}

		total := snap.Bid.Qty.Add(snap.Ask.Qty)
		if total.Sign() <= 0 {
			continue
		}
		imbalance := snap.Bid.Qty.Div(total)

		var direction domain.Direction
		switch {
		case imbalance.GreaterThanOrEqual(d.threshold):
			direction = domain.DirectionLong
		case imbalance.LessThanOrEqual(one.Sub(d.threshold)):
			direction = domain.DirectionShort
		default:
			continue
		}

		sig := domain.Signal{
			Symbol:    symbol,
			Direction: direction,
			Strength:  imbalance,
			Reason:    "book imbalance " + imbalance.StringFixed(3),
			Source:    d.Name(),
			Seq:       nextSeq(),
			At:        time.Now(),
		}
		d.bus.Publish(sig)
		d.metrics.RecordSignalPublished()

		slog.Debug("imbalance signal",
			slog.String("symbol", symbol),
			slog.String("direction", direction.String()),
			slog.String("imbalance", imbalance.StringFixed(3)),
		)
	}
	return nil
}
