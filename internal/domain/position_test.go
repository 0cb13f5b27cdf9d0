package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestPositionBook_FirstFillCreatesPosition(t *testing.T) {
	book := NewPositionBook()

	realized := book.ApplyFill("BTC/CAD", SideBuy, d("10"), d("100"))
	if !realized.IsZero() {
		t.Errorf("opening fill should realize nothing, got %s", realized)
	}

	p := book.Get("BTC/CAD")
	if !p.Qty.Equal(d("10")) {
		t.Errorf("expected qty 10, got %s", p.Qty)
	}
	if !p.AvgEntryPrice.Equal(d("100")) {
		t.Errorf("expected avg entry 100, got %s", p.AvgEntryPrice)
	}
}

func TestPositionBook_AveragesEntryPrice(t *testing.T) {
	book := NewPositionBook()
	book.ApplyFill("BTC/CAD", SideBuy, d("10"), d("100"))
	book.ApplyFill("BTC/CAD", SideBuy, d("10"), d("200"))

	p := book.Get("BTC/CAD")
	if !p.Qty.Equal(d("20")) {
		t.Errorf("expected qty 20, got %s", p.Qty)
	}
	if !p.AvgEntryPrice.Equal(d("150")) {
		t.Errorf("expected avg entry 150, got %s", p.AvgEntryPrice)
	}
}

func TestPositionBook_RealizesOnReduce(t *testing.T) {
	book := NewPositionBook()
	book.ApplyFill("BTC/CAD", SideBuy, d("10"), d("100"))

	// Sell half at a loss of 20 per unit.
	realized := book.ApplyFill("BTC/CAD", SideSell, d("5"), d("80"))
	if !realized.Equal(d("-100")) {
		t.Errorf("expected realized -100, got %s", realized)
	}

	p := book.Get("BTC/CAD")
	if !p.Qty.Equal(d("5")) {
		t.Errorf("expected qty 5, got %s", p.Qty)
	}
	// Avg entry unchanged on a partial reduce.
	if !p.AvgEntryPrice.Equal(d("100")) {
		t.Errorf("expected avg entry 100, got %s", p.AvgEntryPrice)
	}
}

func TestPositionBook_FlatResetsEntry(t *testing.T) {
	book := NewPositionBook()
	book.ApplyFill("ETH/CAD", SideBuy, d("10"), d("100"))
	realized := book.ApplyFill("ETH/CAD", SideSell, d("10"), d("110"))

	if !realized.Equal(d("100")) {
		t.Errorf("expected realized 100, got %s", realized)
	}

	p := book.Get("ETH/CAD")
	if !p.Qty.IsZero() {
		t.Errorf("expected flat position, got %s", p.Qty)
	}
	if !p.AvgEntryPrice.IsZero() {
		t.Errorf("expected avg entry reset, got %s", p.AvgEntryPrice)
	}
}

func TestPositionBook_CrossThroughZero(t *testing.T) {
	book := NewPositionBook()
	book.ApplyFill("BTC/CAD", SideBuy, d("5"), d("100"))

	// Sell 8: close 5 at +10 each, open 3 short at 110.
	realized := book.ApplyFill("BTC/CAD", SideSell, d("8"), d("110"))
	if !realized.Equal(d("50")) {
		t.Errorf("expected realized 50, got %s", realized)
	}

	p := book.Get("BTC/CAD")
	if !p.Qty.Equal(d("-3")) {
		t.Errorf("expected qty -3, got %s", p.Qty)
	}
	if !p.AvgEntryPrice.Equal(d("110")) {
		t.Errorf("expected new entry 110, got %s", p.AvgEntryPrice)
	}
}

func TestPositionBook_ShortRealization(t *testing.T) {
	book := NewPositionBook()
	book.ApplyFill("BTC/CAD", SideSell, d("10"), d("100"))

	// Buy back at 90: short profits 10 per unit.
	realized := book.ApplyFill("BTC/CAD", SideBuy, d("10"), d("90"))
	if !realized.Equal(d("100")) {
		t.Errorf("expected realized 100, got %s", realized)
	}
}

func TestPositionBook_UnknownSymbolIsFlat(t *testing.T) {
	book := NewPositionBook()
	p := book.Get("XRP/CAD")
	if !p.Qty.IsZero() || !p.AvgEntryPrice.IsZero() {
		t.Errorf("unknown symbol should report a flat position, got %+v", p)
	}
}
