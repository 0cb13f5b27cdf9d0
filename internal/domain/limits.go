package domain

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// RiskLimits is the trading limit configuration evaluated by the risk
// engine. Loaded once per session; hot-reload swaps the whole snapshot.
type RiskLimits struct {
	AllowedSymbols  []string        `json:"allowed_symbols" yaml:"allowed_symbols"`
	MaxPosition     decimal.Decimal `json:"max_position" yaml:"max_position"`
	MaxOrderSize    decimal.Decimal `json:"max_order_size" yaml:"max_order_size"`
	PerTradeRiskPct decimal.Decimal `json:"per_trade_risk_pct" yaml:"per_trade_risk_pct"`
	TradeRiskBudget decimal.Decimal `json:"trade_risk_budget" yaml:"trade_risk_budget"`
	MaxDailyLoss    decimal.Decimal `json:"max_daily_loss" yaml:"max_daily_loss"`
	LongOnly        bool            `json:"long_only" yaml:"long_only"`

	allowed map[string]bool
}

// Validate checks limit sanity. Returns a ConfigError so callers can
// treat it as fatal at startup.
func (l *RiskLimits) Validate() error {
	if len(l.AllowedSymbols) == 0 {
		return &ConfigError{Field: "allowed_symbols", Err: fmt.Errorf("at least one symbol is required")}
	}
	for _, s := range l.AllowedSymbols {
		if s == "" {
			return &ConfigError{Field: "allowed_symbols", Err: ErrInvalidSymbol}
		}
	}
	if l.MaxPosition.Sign() <= 0 {
		return &ConfigError{Field: "max_position", Err: fmt.Errorf("must be positive, got %s", l.MaxPosition)}
	}
	if l.MaxOrderSize.Sign() <= 0 {
		return &ConfigError{Field: "max_order_size", Err: fmt.Errorf("must be positive, got %s", l.MaxOrderSize)}
	}
	if l.PerTradeRiskPct.Sign() < 0 || l.PerTradeRiskPct.GreaterThan(decimal.NewFromInt(1)) {
		return &ConfigError{Field: "per_trade_risk_pct", Err: fmt.Errorf("must be within [0,1], got %s", l.PerTradeRiskPct)}
	}
	if l.MaxDailyLoss.Sign() <= 0 {
		return &ConfigError{Field: "max_daily_loss", Err: fmt.Errorf("must be positive, got %s", l.MaxDailyLoss)}
	}
	if l.TradeRiskBudget.Sign() < 0 {
		return &ConfigError{Field: "trade_risk_budget", Err: fmt.Errorf("must be non-negative, got %s", l.TradeRiskBudget)}
	}
	return nil
}

// SymbolAllowed reports whether symbol is whitelisted.
func (l *RiskLimits) SymbolAllowed(symbol string) bool {
	if l.allowed == nil {
		l.allowed = make(map[string]bool, len(l.AllowedSymbols))
		for _, s := range l.AllowedSymbols {
			l.allowed[s] = true
		}
	}
	return l.allowed[symbol]
}

// LimitsHandle publishes an immutable RiskLimits snapshot to many
// readers. Writes (hot reload) replace the snapshot atomically; readers
// never need to restart to observe a new one.
type LimitsHandle struct {
	mu     sync.RWMutex
	limits *RiskLimits
}

// NewLimitsHandle validates and wraps the initial limits.
func NewLimitsHandle(l RiskLimits) (*LimitsHandle, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	l.SymbolAllowed("") // build the whitelist set eagerly
	return &LimitsHandle{limits: &l}, nil
}

// Current returns the active snapshot. The returned pointer must be
// treated as read-only.
func (h *LimitsHandle) Current() *RiskLimits {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.limits
}

// Replace swaps in a new snapshot after validating it.
func (h *LimitsHandle) Replace(l RiskLimits) error {
	if err := l.Validate(); err != nil {
		return err
	}
	l.SymbolAllowed("")

	h.mu.Lock()
	h.limits = &l
	h.mu.Unlock()
	return nil
}
