package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel is one side of the top of book.
type PriceLevel struct {
	Price decimal.Decimal `json:"price"`
	Qty   decimal.Decimal `json:"qty"`
}

// PriceSnapshot is a timestamped view of a symbol's market.
type PriceSnapshot struct {
	Symbol string          `json:"symbol"`
	Bid    PriceLevel      `json:"bid"`
	Ask    PriceLevel      `json:"ask"`
	Last   decimal.Decimal `json:"last"`
	At     time.Time       `json:"at"`
}

// Mid returns the midpoint of the top of book, or Last when the book
// is one-sided.
func (s PriceSnapshot) Mid() decimal.Decimal {
	if s.Bid.Price.Sign() > 0 && s.Ask.Price.Sign() > 0 {
		return s.Bid.Price.Add(s.Ask.Price).Div(decimal.NewFromInt(2))
	}
	return s.Last
}

// SpreadBps returns the bid/ask spread in basis points of the mid.
// A one-sided or crossed book reports a very large spread so gated
// strategies skip the cycle.
func (s PriceSnapshot) SpreadBps() decimal.Decimal {
	if s.Bid.Price.Sign() <= 0 || s.Ask.Price.Sign() <= 0 || !s.Ask.Price.GreaterThan(s.Bid.Price) {
		return decimal.NewFromInt(1_000_000)
	}
	mid := s.Mid()
	return s.Ask.Price.Sub(s.Bid.Price).Div(mid).Mul(decimal.NewFromInt(10_000))
}

// Candle is one OHLCV bar, used by indicator computations.
type Candle struct {
	At     time.Time       `json:"at"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

// MarketDataSource abstracts polling and streaming feeds behind one
// capability. Transient failures are reported as retriable errors and
// treated by producers as "no signal this cycle".
type MarketDataSource interface {
	Fetch(ctx context.Context, symbol string) (PriceSnapshot, error)
	RecentCandles(ctx context.Context, symbol string, limit int) ([]Candle, error)
}

// SubmitResult is the exchange acknowledgment of an order submission.
type SubmitResult struct {
	ExchangeOrderID string
}

// OrderStatusReport is the exchange-reported authoritative order state.
type OrderStatusReport struct {
	Status       string
	FilledQty    decimal.Decimal
	AvgFillPrice decimal.Decimal
}

// Exchange is the order-side capability. SubmitOrder must be idempotent
// by clientOrderID: resubmitting a known id never creates a second
// exchange-side order. GetOrderStatus returns ErrOrderNotFound when the
// exchange does not know the order.
type Exchange interface {
	SubmitOrder(ctx context.Context, clientOrderID, symbol, side string, qty decimal.Decimal) (SubmitResult, error)
	GetOrderStatus(ctx context.Context, clientOrderID, exchangeOrderID string) (OrderStatusReport, error)
}

// SignalProducer is the capability shared by the scanner, depth and
// indicator agents: a closed set of variants selected at configuration
// time.
type SignalProducer interface {
	Name() string
	Start(ctx context.Context) error
	Stop()
	Running() bool
}
