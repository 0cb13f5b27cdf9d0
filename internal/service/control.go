// Package service exposes the operator control plane: a status
// surface over every runtime component, agent start/stop, the kill
// switch and limit reloads.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"crypto_agents/internal/agent"
	"crypto_agents/internal/bus"
	"crypto_agents/internal/domain"
	"crypto_agents/internal/infra"
	"crypto_agents/internal/store"
)

// BusStatus is the signal bus view of the status snapshot.
type BusStatus struct {
	Pending int    `json:"pending"`
	Dropped uint64 `json:"dropped"`
}

// PnLStatus is the daily P&L view of the status snapshot.
type PnLStatus struct {
	Day          time.Time       `json:"day"`
	Realized     decimal.Decimal `json:"realized"`
	RealizedLoss decimal.Decimal `json:"realized_loss"`
}

// Status is one consistent operator snapshot of the runtime.
type Status struct {
	Agents     map[string]bool        `json:"agents"`
	Positions  []domain.Position      `json:"positions"`
	DailyPnL   PnLStatus              `json:"daily_pnl"`
	KillSwitch domain.KillSwitchState `json:"kill_switch"`
	Rejections []agent.Rejection      `json:"rejections"`
	Alerts     []store.Alert          `json:"alerts"`
	Bus        BusStatus              `json:"bus"`
	Metrics    infra.MetricsSnapshot  `json:"metrics"`
}

// Control is the operator-facing service. It holds no state of its
// own; every call reads or mutates the shared runtime components.
type Control struct {
	manager    *agent.Manager
	execution  *agent.Execution
	reconciler *store.Reconciler
	bus        *bus.Bus
	kill       *domain.KillSwitch
	positions  *domain.PositionBook
	pnl        *domain.DailyPnL
	limits     *domain.LimitsHandle
	metrics    *infra.Metrics
}

// NewControl wires the control plane over the runtime components.
func NewControl(manager *agent.Manager, execution *agent.Execution, reconciler *store.Reconciler, b *bus.Bus, kill *domain.KillSwitch, positions *domain.PositionBook, pnl *domain.DailyPnL, limits *domain.LimitsHandle, metrics *infra.Metrics) *Control {
	return &Control{
		manager:    manager,
		execution:  execution,
		reconciler: reconciler,
		bus:        b,
		kill:       kill,
		positions:  positions,
		pnl:        pnl,
		limits:     limits,
		metrics:    metrics,
	}
}

// Status assembles the operator snapshot.
func (c *Control) Status() Status {
	day, realized, loss := c.pnl.Snapshot()
	return Status{
		Agents:    c.manager.Status(),
		Positions: c.positions.Snapshot(),
		DailyPnL: PnLStatus{
			Day:          day,
			Realized:     realized,
			RealizedLoss: loss,
		},
		KillSwitch: c.kill.State(),
		Rejections: c.execution.Rejections(),
		Alerts:     c.reconciler.Alerts(),
		Bus: BusStatus{
			Pending: c.bus.Pending(),
			Dropped: c.bus.Dropped(),
		},
		Metrics: c.metrics.Snapshot(),
	}
}

// SetKillSwitch flips the halt flag on behalf of actor. Only new order
// submission is affected; reconciliation keeps running.
func (c *Control) SetKillSwitch(enabled bool, actor string) {
	c.kill.Set(enabled, actor)
	slog.Warn("kill switch changed",
		slog.Bool("enabled", enabled),
		slog.String("actor", actor),
	)
}

// StartAgent starts a registered agent by name.
func (c *Control) StartAgent(ctx context.Context, name string) error {
	return c.manager.StartAgent(ctx, name)
}

// StopAgent stops a registered agent by name.
func (c *Control) StopAgent(name string) error {
	return c.manager.StopAgent(name)
}

// Agents lists the registered agent names.
func (c *Control) Agents() []string {
	return c.manager.Names()
}

// ReloadLimits swaps in new risk limits after validation. Running
// orders are unaffected; the next evaluation sees the new snapshot.
func (c *Control) ReloadLimits(l domain.RiskLimits) error {
	if err := c.limits.Replace(l); err != nil {
		return err
	}
	slog.Info("risk limits reloaded",
		slog.Any("allowed_symbols", l.AllowedSymbols),
		slog.String("max_position", l.MaxPosition.String()),
		slog.String("max_daily_loss", l.MaxDailyLoss.String()),
	)
	return nil
}
