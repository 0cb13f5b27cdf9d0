package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"crypto_agents/internal/domain"
)

type stubFeed struct {
	snap domain.PriceSnapshot
	err  error
}

func (s *stubFeed) Fetch(context.Context, string) (domain.PriceSnapshot, error) {
	return s.snap, s.err
}

func (s *stubFeed) RecentCandles(context.Context, string, int) ([]domain.Candle, error) {
	return nil, nil
}

func d(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return v
}

func snapshot(t *testing.T, bid, ask string) domain.PriceSnapshot {
	t.Helper()
	return domain.PriceSnapshot{
		Symbol: "BTC/CAD",
		Bid:    domain.PriceLevel{Price: d(t, bid), Qty: d(t, "5")},
		Ask:    domain.PriceLevel{Price: d(t, ask), Qty: d(t, "5")},
		Last:   d(t, bid),
		At:     time.Now(),
	}
}

func TestPaper_TightSpreadFillsAsMaker(t *testing.T) {
	// 100000/100010: 1bps spread, inside the maker gate.
	feed := &stubFeed{snap: snapshot(t, "100000", "100010")}
	p := NewPaper(feed)

	ctx := context.Background()
	if _, err := p.SubmitOrder(ctx, "ord-1", "BTC/CAD", domain.SideBuy, d(t, "1")); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	report, err := p.GetOrderStatus(ctx, "ord-1", "")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if report.Status != domain.OrderStatusFilled {
		t.Errorf("status = %s, want FILLED", report.Status)
	}
	// mid 100005 minus 0.3 * 10 spread.
	if !report.AvgFillPrice.Equal(d(t, "100002")) {
		t.Errorf("fill price = %s, want 100002", report.AvgFillPrice)
	}
}

func TestPaper_WideSpreadPaysTakerCosts(t *testing.T) {
	// 100/101: ~100bps spread, well past the maker gate.
	feed := &stubFeed{snap: snapshot(t, "100", "101")}
	p := NewPaper(feed)

	ctx := context.Background()
	if _, err := p.SubmitOrder(ctx, "ord-1", "BTC/CAD", domain.SideBuy, d(t, "1")); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	report, err := p.GetOrderStatus(ctx, "ord-1", "")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	// mid 100.5 + 0.5*1 spread + 6bps fee on mid (0.0603).
	if !report.AvgFillPrice.Equal(d(t, "101.0603")) {
		t.Errorf("fill price = %s, want 101.0603", report.AvgFillPrice)
	}

	// Sells take the mirrored penalty.
	if _, err := p.SubmitOrder(ctx, "ord-2", "BTC/CAD", domain.SideSell, d(t, "1")); err != nil {
		t.Fatalf("sell submit failed: %v", err)
	}
	sellReport, err := p.GetOrderStatus(ctx, "ord-2", "")
	if err != nil {
		t.Fatalf("sell status failed: %v", err)
	}
	if !sellReport.AvgFillPrice.Equal(d(t, "99.9397")) {
		t.Errorf("sell fill price = %s, want 99.9397", sellReport.AvgFillPrice)
	}
}

func TestPaper_SubmitIsIdempotent(t *testing.T) {
	feed := &stubFeed{snap: snapshot(t, "100", "101")}
	p := NewPaper(feed)

	ctx := context.Background()
	first, err := p.SubmitOrder(ctx, "ord-1", "BTC/CAD", domain.SideBuy, d(t, "1"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	second, err := p.SubmitOrder(ctx, "ord-1", "BTC/CAD", domain.SideBuy, d(t, "1"))
	if err != nil {
		t.Fatalf("resubmit failed: %v", err)
	}
	if first.ExchangeOrderID != second.ExchangeOrderID {
		t.Errorf("resubmit minted a new exchange order: %q vs %q",
			first.ExchangeOrderID, second.ExchangeOrderID)
	}
}

func TestPaper_FeedErrorFailsSubmission(t *testing.T) {
	feed := &stubFeed{err: errors.New("connection refused")}
	p := NewPaper(feed)

	_, err := p.SubmitOrder(context.Background(), "ord-1", "BTC/CAD", domain.SideBuy, d(t, "1"))
	if err == nil {
		t.Fatal("expected submission to fail when the feed is down")
	}
	if !domain.IsRetriable(err) {
		t.Errorf("feed outage should be retriable, got %v", err)
	}

	// The failed submission must not be remembered as an order.
	if _, err := p.GetOrderStatus(context.Background(), "ord-1", ""); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestPaper_UnknownOrder(t *testing.T) {
	p := NewPaper(&stubFeed{snap: snapshot(t, "100", "101")})

	_, err := p.GetOrderStatus(context.Background(), "nope", "")
	if !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}
