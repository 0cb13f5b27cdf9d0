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

// scannerWindow is how many recent mids feed the momentum computation.
const scannerWindow = 20

// Scanner emits momentum signals: when the mid price has moved more
// than the configured percentage across its recent window, it suggests
// trading in the direction of the move.
type Scanner struct {
	*base

	feed    domain.MarketDataSource
	bus     *bus.Bus
	metrics *infra.Metrics
	symbols []string

	// momentum threshold in percent of the window-open price
	threshold decimal.Decimal

	history map[string][]decimal.Decimal
}

// NewScanner creates a momentum scanner over symbols.
func NewScanner(feed domain.MarketDataSource, b *bus.Bus, metrics *infra.Metrics, symbols []string, threshold decimal.Decimal, interval time.Duration) *Scanner {
	s := &Scanner{
		feed:      feed,
		bus:       b,
		metrics:   metrics,
		symbols:   symbols,
		threshold: threshold,
		history:   make(map[string][]decimal.Decimal),
	}
	s.base = newBase("scanner", interval, s.scan)
	return s
}

func (s *Scanner) scan(ctx context.Context) error {
	for _, symbol := range s.symbols {
		snap, err := s.feed.Fetch(ctx, symbol)
		if err != nil {
			if domain.IsRetriable(err) {
				continue // no signal this cycle
			}
			return err
		}

		mid := snap.Mid()
		if mid.Sign() <= 0 {
			continue
		}

		window := append(s.history[symbol], mid)
		if len(window) > scannerWindow {
			window = window[len(window)-scannerWindow:]
		}
		s.history[symbol] = window

		if len(window) < scannerWindow {
			continue // not enough history yet
		}

		open := window[0]
		momentum := mid.Sub(open).Div(open).Mul(decimal.NewFromInt(100))

		var direction domain.Direction
		switch {
		case momentum.GreaterThanOrEqual(s.threshold):
			direction = domain.DirectionLong
		case momentum.LessThanOrEqual(s.threshold.Neg()):
			direction = domain.DirectionShort
		default:
			continue
		}

		sig := domain.Signal{
			Symbol:    symbol,
			Direction: direction,
			Strength:  momentum.Abs(),
			Reason:    "momentum " + momentum.StringFixed(3) + "%",
			Source:    s.Name(),
			Seq:       nextSeq(),
			At:        time.Now(),
		}
		s.bus.Publish(sig)
		s.metrics.RecordSignalPublished()

		slog.Debug("momentum signal",
			slog.String("symbol", symbol),
			slog.String("direction", direction.String()),
			slog.String("momentum_pct", momentum.StringFixed(3)),
		)
	}
	return nil
}
