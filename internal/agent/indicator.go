package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"

	"crypto_agents/internal/bus"
	"crypto_agents/internal/domain"
	"crypto_agents/internal/infra"
)

// Indicator tuning. RSI/MACD/EMA periods follow the usual defaults;
// the gates keep the producer quiet in untradeable conditions.
const (
	rsiPeriod  = 14
	macdFast   = 12
	macdSlow   = 26
	macdSignal = 9
	emaPeriod  = 200
	atrPeriod  = 14

	candleHistory = emaPeriod + macdSlow + macdSignal

	rsiBuyLevel      = 60.0
	rsiOversoldLevel = 30.0
)

var (
	// Entries are skipped when the spread is wider than this.
	indicatorSpreadGateBps = decimal.RequireFromString("3")
	// Momentum entries also want the book leaning toward the bid.
	indicatorImbalanceGate = decimal.RequireFromString("0.55")
	// Minimum ATR as a fraction of price; a dead market emits nothing.
	atrFloorPct = 0.0035
)

// Indicator emits long-side entries from one-minute candles, picking
// its rule from the EMA-200 regime: momentum buys in an uptrend when
// RSI and the MACD histogram agree, mean-reversion buys when RSI is
// deeply oversold. Entries are gated on spread and volatility.
type Indicator struct {
	*base

	feed    domain.MarketDataSource
	bus     *bus.Bus
	metrics *infra.Metrics
	symbols []string
}

// NewIndicator creates the TA producer over symbols.
func NewIndicator(feed domain.MarketDataSource, b *bus.Bus, metrics *infra.Metrics, symbols []string, interval time.Duration) *Indicator {
	i := &Indicator{
		feed:    feed,
		bus:     b,
		metrics: metrics,
		symbols: symbols,
	}
	i.base = newBase("indicator", interval, i.scan)
	return i
}

func (i *Indicator) scan(ctx context.Context) error {
	for _, symbol := range i.symbols {
		if err := i.scanSymbol(ctx, symbol); err != nil {
			if domain.IsRetriable(err) {
				continue
			}
			return err
		}
	}
	return nil
}

func (i *Indicator) scanSymbol(ctx context.Context, symbol string) error {
	snap, err := i.feed.Fetch(ctx, symbol)
	if err != nil {
		return err
	}
	if snap.SpreadBps().GreaterThan(indicatorSpreadGateBps) {
		return nil // too expensive to trade right now
	}

	candles, err := i.feed.RecentCandles(ctx, symbol, candleHistory)
	if err != nil {
		return err
	}
	if len(candles) < candleHistory {
		return nil // not enough history for EMA-200
	}

	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	for idx, c := range candles {
		closes[idx] = c.Close.InexactFloat64()
		highs[idx] = c.High.InexactFloat64()
		lows[idx] = c.Low.InexactFloat64()
	}
	last := len(closes) - 1
	price := closes[last]
	if price <= 0 {
		return nil
	}

	atr := talib.Atr(highs, lows, closes, atrPeriod)
	if atr[last]/price < atrFloorPct {
		return nil // volatility floor not met
	}

	rsi := talib.Rsi(closes, rsiPeriod)
	_, _, hist := talib.Macd(closes, macdFast, macdSlow, macdSignal)
	ema := talib.Ema(closes, emaPeriod)

	uptrend := price > ema[last] && ema[last] >= ema[last-1]

	var reason string
	switch {
	case uptrend && rsi[last] >= rsiBuyLevel && hist[last] > 0:
		// Momentum entries also want visible buy pressure.
		total := snap.Bid.Qty.Add(snap.Ask.Qty)
		if total.Sign() <= 0 || snap.Bid.Qty.Div(total).LessThan(indicatorImbalanceGate) {
			return nil
		}
		reason = "momentum: rsi/macd confluence above ema"
	case rsi[last] <= rsiOversoldLevel:
		reason = "mean reversion: oversold"
	default:
		return nil
	}

	sig := domain.Signal{
		Symbol:    symbol,
		Direction: domain.DirectionLong,
		Strength:  decimal.NewFromFloat(rsi[last]),
		Reason:    reason,
		Source:    i.Name(),
		Seq:       nextSeq(),
		At:        time.Now(),
	}
	i.bus.Publish(sig)
	i.metrics.RecordSignalPublished()

	slog.Debug("indicator signal",
		slog.String("symbol", symbol),
		slog.String("reason", reason),
		slog.Float64("rsi", rsi[last]),
		slog.Float64("macd_hist", hist[last]),
	)
	return nil
}
