package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func validLimits() RiskLimits {
	return RiskLimits{
		AllowedSymbols:  []string{"BTC/CAD", "ETH/CAD"},
		MaxPosition:     d("50"),
		MaxOrderSize:    d("10"),
		PerTradeRiskPct: d("0.01"),
		TradeRiskBudget: d("100"),
		MaxDailyLoss:    d("100"),
		LongOnly:        true,
	}
}

func TestRiskLimits_Validate(t *testing.T) {
	l := validLimits()
	if err := l.Validate(); err != nil {
		t.Fatalf("valid limits rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*RiskLimits)
	}{
		{"empty whitelist", func(l *RiskLimits) { l.AllowedSymbols = nil }},
		{"blank symbol", func(l *RiskLimits) { l.AllowedSymbols = []string{""} }},
		{"zero max position", func(l *RiskLimits) { l.MaxPosition = decimal.Zero }},
		{"negative order size", func(l *RiskLimits) { l.MaxOrderSize = d("-1") }},
		{"risk pct above one", func(l *RiskLimits) { l.PerTradeRiskPct = d("1.5") }},
		{"zero daily loss", func(l *RiskLimits) { l.MaxDailyLoss = decimal.Zero }},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			l := validLimits()
			c.mutate(&l)
			err := l.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if IsRetriable(err) {
				t.Error("config errors must never be retriable")
			}
		})
	}
}

func TestRiskLimits_SymbolAllowed(t *testing.T) {
	l := validLimits()
	if !l.SymbolAllowed("BTC/CAD") {
		t.Error("BTC/CAD should be allowed")
	}
	if l.SymbolAllowed("DOGE/CAD") {
		t.Error("DOGE/CAD should not be allowed")
	}
}

func TestLimitsHandle_ReplaceVisibleToReaders(t *testing.T) {
	h, err := NewLimitsHandle(validLimits())
	if err != nil {
		t.Fatalf("NewLimitsHandle failed: %v", err)
	}

	next := validLimits()
	next.MaxPosition = d("80")
	if err := h.Replace(next); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	if !h.Current().MaxPosition.Equal(d("80")) {
		t.Errorf("expected replaced max position 80, got %s", h.Current().MaxPosition)
	}
}

func TestLimitsHandle_RejectsInvalidReplacement(t *testing.T) {
	h, err := NewLimitsHandle(validLimits())
	if err != nil {
		t.Fatalf("NewLimitsHandle failed: %v", err)
	}

	bad := validLimits()
	bad.AllowedSymbols = nil
	if err := h.Replace(bad); err == nil {
		t.Fatal("expected invalid limits to be rejected")
	}

	// Old snapshot stays active.
	if len(h.Current().AllowedSymbols) != 2 {
		t.Error("failed replace must not clobber the active snapshot")
	}
}
