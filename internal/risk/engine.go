// Package risk gates every candidate order against the configured
// trading limits before it may reach the exchange.
package risk

import (
	"github.com/shopspring/decimal"

	"crypto_agents/internal/domain"
)

// Reason identifies the first violated rule of a rejected candidate.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonKillSwitch        Reason = "kill_switch"
	ReasonSymbolNotAllowed  Reason = "symbol_not_allowed"
	ReasonLongOnlyViolation Reason = "long_only_violation"
	ReasonPositionLimit     Reason = "position_limit"
	ReasonOrderSizeLimit    Reason = "order_size_limit"
	ReasonTradeRiskLimit    Reason = "trade_risk_limit"
	ReasonDailyLossLimit    Reason = "daily_loss_limit"
)

// Candidate is an order proposal under evaluation.
type Candidate struct {
	Symbol string
	Side   string
	Qty    decimal.Decimal
	Price  decimal.Decimal // reference price for notional/risk projection
}

// Verdict is the engine's decision for one candidate.
type Verdict struct {
	Approved bool
	Reason   Reason
}

func approve() Verdict             { return Verdict{Approved: true} }
func reject(reason Reason) Verdict { return Verdict{Reason: reason} }

// Engine evaluates candidates. It is a pure function of its inputs
// apart from reading the kill switch handle, which is checked first.
type Engine struct {
	kill *domain.KillSwitch
}

// NewEngine creates a risk engine bound to the shared kill switch.
func NewEngine(kill *domain.KillSwitch) *Engine {
	return &Engine{kill: kill}
}

// Evaluate applies the checks in fixed order; the first failure wins
// and its rule is the reported reason.
func (e *Engine) Evaluate(c Candidate, position domain.Position, dailyLoss decimal.Decimal, limits *domain.RiskLimits) Verdict {
	if e.kill != nil && e.kill.Enabled() {
		return reject(ReasonKillSwitch)
	}

	if !limits.SymbolAllowed(c.Symbol) {
		return reject(ReasonSymbolNotAllowed)
	}

	if limits.LongOnly && c.Side == domain.SideSell && position.Qty.Sign() <= 0 {
		return reject(ReasonLongOnlyViolation)
	}

	delta := c.Qty
	if c.Side == domain.SideSell {
		delta = c.Qty.Neg()
	}
	if position.Qty.Add(delta).Abs().GreaterThan(limits.MaxPosition) {
		return reject(ReasonPositionLimit)
	}

	if c.Qty.GreaterThan(limits.MaxOrderSize) {
		return reject(ReasonOrderSizeLimit)
	}

	// Projected risk: order notional scaled by the per-trade risk
	// percentage, against an absolute budget. Skipped when no budget or
	// reference price is configured.
	if limits.TradeRiskBudget.Sign() > 0 && c.Price.Sign() > 0 {
		projected := c.Qty.Mul(c.Price).Mul(limits.PerTradeRiskPct)
		if projected.GreaterThan(limits.TradeRiskBudget) {
			return reject(ReasonTradeRiskLimit)
		}
	}

	if dailyLoss.GreaterThanOrEqual(limits.MaxDailyLoss) {
		return reject(ReasonDailyLossLimit)
	}

	return approve()
}
