// Package app wires the runtime together: configuration, storage,
// market data, agents and the control plane.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"crypto_agents/internal/agent"
	"crypto_agents/internal/bus"
	"crypto_agents/internal/domain"
	"crypto_agents/internal/exchange"
	"crypto_agents/internal/feed"
	"crypto_agents/internal/infra"
	"crypto_agents/internal/risk"
	"crypto_agents/internal/service"
	"crypto_agents/internal/store"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config     *infra.Config
	Feed       domain.MarketDataSource
	Exchange   domain.Exchange
	Store      *store.Store
	Bus        *bus.Bus
	KillSwitch *domain.KillSwitch
	Positions  *domain.PositionBook
	DailyPnL   *domain.DailyPnL
	Limits     *domain.LimitsHandle
	Metrics    *infra.Metrics
	Manager    *agent.Manager
	Reconciler *store.Reconciler
	Control    *service.Control

	wsFeed    *feed.WSFeed
	execution *agent.Execution
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization (config, DB, wiring).
func (b *Bootstrap) Initialize(configPath string) error {
	slog.Info("🚀 Bootstrapping Crypto Agents...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 3. Market data source
	rest := feed.NewRESTClient(cfg.Feed.RestURL)
	if cfg.Feed.Mode == "ws" {
		b.wsFeed = feed.NewWSFeed(cfg.Feed.WSURL, cfg.Trading.Limits.AllowedSymbols, rest)
		b.Feed = b.wsFeed
	} else {
		b.Feed = rest
	}
	slog.Info("✅ Market data source ready", slog.String("mode", cfg.Feed.Mode))

	// 4. Exchange backend
	if cfg.IsLive() {
		kraken, err := exchange.NewKraken(cfg.Exchange.RestURL, cfg.Exchange.APIKey, cfg.Exchange.APISecret)
		if err != nil {
			return err
		}
		b.Exchange = kraken
		slog.Warn("⚠️ LIVE trading enabled")
	} else {
		b.Exchange = exchange.NewPaper(b.Feed)
		slog.Info("✅ Paper trading mode")
	}

	// 5. Order store (DB)
	st, err := store.Open(cfg.Storage.Path, b.Exchange)
	if err != nil {
		return err
	}
	b.Store = st
	slog.Info("✅ Database initialized")

	// 6. Shared trading state
	limits, err := domain.NewLimitsHandle(cfg.Trading.Limits)
	if err != nil {
		return err
	}
	b.Limits = limits
	b.KillSwitch = domain.NewKillSwitch()
	b.Positions = domain.NewPositionBook()
	b.DailyPnL = domain.NewDailyPnL(cfg.DayBoundaryLocation())
	b.Metrics = &infra.Metrics{}
	b.Bus = bus.New(cfg.Bus.BufferSize)
	b.Bus.OnDrop(b.Metrics.RecordSignalDropped)

	// 7. Agents
	engine := risk.NewEngine(b.KillSwitch)
	symbols := cfg.Trading.Limits.AllowedSymbols

	b.execution = agent.NewExecution(b.Bus, b.Feed, engine, b.Store, b.Positions, b.DailyPnL, b.Limits, b.Metrics, cfg.Trading.OrderSize)

	b.Manager = agent.NewManager(b.Store)
	b.Manager.Register(agent.NewScanner(b.Feed, b.Bus, b.Metrics, symbols,
		cfg.Agents.Scanner.MomentumThreshold, secs(cfg.Agents.Scanner.IntervalSec)))
	b.Manager.Register(agent.NewDepth(b.Feed, b.Bus, b.Metrics, symbols,
		cfg.Agents.Depth.ImbalanceThreshold, secs(cfg.Agents.Depth.IntervalSec)))
	b.Manager.Register(agent.NewIndicator(b.Feed, b.Bus, b.Metrics, symbols,
		secs(cfg.Agents.Indicator.IntervalSec)))
	b.Manager.Register(b.execution)

	// 8. Reconciliation and control plane
	b.Reconciler = store.NewReconciler(b.Store, b.Exchange, b.Positions, b.DailyPnL, b.Metrics,
		secs(cfg.Reconcile.IntervalSec), secs(cfg.Reconcile.GracePeriodSec))
	b.Control = service.NewControl(b.Manager, b.execution, b.Reconciler, b.Bus,
		b.KillSwitch, b.Positions, b.DailyPnL, b.Limits, b.Metrics)

	return nil
}

// Run starts the feed, reconciler and enabled agents, then blocks
// until the context is cancelled.
func (b *Bootstrap) Run(ctx context.Context) error {
	if b.wsFeed != nil {
		if err := b.wsFeed.Start(ctx); err != nil {
			return fmt.Errorf("failed to start websocket feed: %w", err)
		}
	}
	if err := b.Reconciler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start reconciler: %w", err)
	}

	defaults := map[string]bool{
		"scanner":   b.Config.Agents.Scanner.Enabled,
		"depth":     b.Config.Agents.Depth.Enabled,
		"indicator": b.Config.Agents.Indicator.Enabled,
		"execution": b.Config.Agents.Execution.Enabled,
	}
	if err := b.Manager.StartEnabled(ctx, defaults); err != nil {
		return err
	}
	slog.Info("✨ Crypto Agents fully operational")

	<-ctx.Done()
	b.Shutdown()
	return nil
}

// Shutdown quiesces agents, then the reconciler, then the feed.
func (b *Bootstrap) Shutdown() {
	slog.Info("👋 Shutting down gracefully...")

	b.Manager.StopAll()
	b.Reconciler.Stop()
	if b.wsFeed != nil {
		b.wsFeed.Stop()
	}

	snap := b.Metrics.Snapshot()
	slog.Info("final counters",
		slog.Uint64("signals_published", snap.SignalsPublished),
		slog.Uint64("orders_submitted", snap.OrdersSubmitted),
		slog.Uint64("orders_rejected", snap.OrdersRejected),
		slog.Uint64("reconcile_alerts", snap.ReconcileAlerts),
	)
}

func secs(n int) time.Duration {
	return time.Duration(n) * time.Second
}
