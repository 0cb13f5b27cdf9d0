// Package exchange provides the order-side backends: a deterministic
// paper simulator for dry runs and a Kraken REST client for live
// trading. Both are idempotent by client order id.
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"crypto_agents/internal/domain"
)

// Fill model parameters, expressed as fractions of the quoted spread
// and basis points of the mid price.
var (
	makerSpreadFraction = decimal.RequireFromString("0.3")
	takerSpreadFraction = decimal.RequireFromString("0.5")
	takerFeeBps         = decimal.RequireFromString("6")
	makerSpreadGateBps  = decimal.RequireFromString("3")

	bpsDivisor = decimal.NewFromInt(10_000)
)

type paperOrder struct {
	exchangeOrderID string
	symbol          string
	side            string
	qty             decimal.Decimal
	fillPrice       decimal.Decimal
}

// Paper simulates an exchange against live quotes. Orders fill in full
// at a price derived from the book at submission time: inside the
// spread when it is tight enough to rest a passive order, and through
// the spread plus a taker fee otherwise.
type Paper struct {
	feed domain.MarketDataSource

	mu     sync.Mutex
	orders map[string]*paperOrder
	seq    int
}

// NewPaper creates a paper exchange priced from feed.
func NewPaper(feed domain.MarketDataSource) *Paper {
	return &Paper{
		feed:   feed,
		orders: make(map[string]*paperOrder),
	}
}

// SubmitOrder accepts and immediately prices the order. Resubmitting a
// known client order id returns the original acknowledgment without
// creating a second simulated order.
func (p *Paper) SubmitOrder(ctx context.Context, clientOrderID, symbol, side string, qty decimal.Decimal) (domain.SubmitResult, error) {
	p.mu.Lock()
	if existing, ok := p.orders[clientOrderID]; ok {
		p.mu.Unlock()
		return domain.SubmitResult{ExchangeOrderID: existing.exchangeOrderID}, nil
	}
	p.mu.Unlock()

	snap, err := p.feed.Fetch(ctx, symbol)
	if err != nil {
		return domain.SubmitResult{}, domain.NewNetworkError("submit_order", err)
	}

	price, liquidity := fillPrice(snap, side)
	if price.Sign() <= 0 {
		return domain.SubmitResult{}, fmt.Errorf("no usable price for %s", symbol)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Re-check under the lock: a concurrent duplicate may have won.
	if existing, ok := p.orders[clientOrderID]; ok {
		return domain.SubmitResult{ExchangeOrderID: existing.exchangeOrderID}, nil
	}

	p.seq++
	order := &paperOrder{
		exchangeOrderID: fmt.Sprintf("PAPER-%06d", p.seq),
		symbol:          symbol,
		side:            side,
		qty:             qty,
		fillPrice:       price,
	}
	p.orders[clientOrderID] = order

	slog.Info("paper order filled",
		slog.String("client_order_id", clientOrderID),
		slog.String("symbol", symbol),
		slog.String("side", side),
		slog.String("qty", qty.String()),
		slog.String("price", price.String()),
		slog.String("liquidity", liquidity),
	)
	return domain.SubmitResult{ExchangeOrderID: order.exchangeOrderID}, nil
}

// GetOrderStatus reports the simulated order as fully filled.
func (p *Paper) GetOrderStatus(_ context.Context, clientOrderID, _ string) (domain.OrderStatusReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[clientOrderID]
	if !ok {
		return domain.OrderStatusReport{}, domain.ErrOrderNotFound
	}
	return domain.OrderStatusReport{
		Status:       domain.OrderStatusFilled,
		FilledQty:    order.qty,
		AvgFillPrice: order.fillPrice,
	}, nil
}

// fillPrice derives the simulated execution price from the top of book.
// Tight books fill as a maker inside the spread; wide books pay most of
// the spread plus a taker fee.
func fillPrice(snap domain.PriceSnapshot, side string) (decimal.Decimal, string) {
	mid := snap.Mid()
	if mid.Sign() <= 0 {
		return decimal.Zero, ""
	}

	spread := snap.Ask.Price.Sub(snap.Bid.Price)
	if spread.Sign() < 0 {
		spread = decimal.Zero
	}

	if snap.SpreadBps().LessThanOrEqual(makerSpreadGateBps) {
		offset := spread.Mul(makerSpreadFraction)
		if side == domain.SideBuy {
			return mid.Sub(offset), "maker"
		}
		return mid.Add(offset), "maker"
	}

	offset := spread.Mul(takerSpreadFraction)
	fee := mid.Mul(takerFeeBps).Div(bpsDivisor)
	if side == domain.SideBuy {
		return mid.Add(offset).Add(fee), "taker"
	}
	return mid.Sub(offset).Sub(fee), "taker"
}
