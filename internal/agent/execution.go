package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"crypto_agents/internal/bus"
	"crypto_agents/internal/domain"
	"crypto_agents/internal/infra"
	"crypto_agents/internal/risk"
	"crypto_agents/internal/store"
)

// maxRejectionLog bounds the in-memory rejection history.
const maxRejectionLog = 100

// symbolQueueDepth bounds the per-symbol submission backlog. A full
// queue drops the newest candidate; stale intents must not pile up.
const symbolQueueDepth = 16

// Rejection is one risk engine refusal, kept for the status surface.
type Rejection struct {
	Symbol string      `json:"symbol"`
	Side   string      `json:"side"`
	Qty    string      `json:"qty"`
	Reason risk.Reason `json:"reason"`
	Source string      `json:"source"` // producer that emitted the signal
	At     time.Time   `json:"at"`
}

// Execution consumes the signal bus, gates every candidate through the
// risk engine and submits approved orders. Submissions for the same
// symbol run in signal order; different symbols submit concurrently.
type Execution struct {
	bus       *bus.Bus
	feed      domain.MarketDataSource
	engine    *risk.Engine
	orders    *store.Store
	positions *domain.PositionBook
	pnl       *domain.DailyPnL
	limits    *domain.LimitsHandle
	metrics   *infra.Metrics
	orderSize decimal.Decimal

	mu         sync.Mutex
	queues     map[string]chan submitTask
	rejections []Rejection

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
}

type submitTask struct {
	clientOrderID string
	symbol        string
	side          string
	qty           decimal.Decimal
}

// NewExecution wires the execution agent.
func NewExecution(b *bus.Bus, feed domain.MarketDataSource, engine *risk.Engine, orders *store.Store, positions *domain.PositionBook, pnl *domain.DailyPnL, limits *domain.LimitsHandle, metrics *infra.Metrics, orderSize decimal.Decimal) *Execution {
	return &Execution{
		bus:       b,
		feed:      feed,
		engine:    engine,
		orders:    orders,
		positions: positions,
		pnl:       pnl,
		limits:    limits,
		metrics:   metrics,
		orderSize: orderSize,
		queues:    make(map[string]chan submitTask),
	}
}

// Name returns the agent's registry name.
func (e *Execution) Name() string { return "execution" }

// Running reports whether the consumer loop is active.
func (e *Execution) Running() bool { return e.running.Load() }

// Start subscribes to the bus and launches the consumer loop.
func (e *Execution) Start(ctx context.Context) error {
	if e.running.Load() {
		return nil
	}

	ctx, e.cancel = context.WithCancel(ctx)
	e.running.Store(true)

	// Workers from a previous run exited with its context; start clean.
	e.mu.Lock()
	e.queues = make(map[string]chan submitTask)
	e.mu.Unlock()

	sub := e.bus.Subscribe()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.running.Store(false)
		defer sub.Close()

		for {
			sig, err := sub.Next(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) && !errors.Is(err, bus.ErrSubscriptionClosed) {
					slog.Error("signal consumption failed", slog.Any("error", err))
				}
				slog.Info("agent stopped", slog.String("agent", e.Name()))
				return
			}
			e.handleSignal(ctx, sig)
		}
	}()

	slog.Info("agent started", slog.String("agent", e.Name()))
	return nil
}

// Stop cancels the consumer and waits for in-flight submissions.
func (e *Execution) Stop() {
	if e.cancel != nil {
		e.cancel()
		e.wg.Wait()
	}
}

// handleSignal turns one signal into at most one candidate order.
func (e *Execution) handleSignal(ctx context.Context, sig domain.Signal) {
	position := e.positions.Get(sig.Symbol)

	side, qty, ok := e.candidateFor(sig, position)
	if !ok {
		return
	}

	price := decimal.Zero
	if snap, err := e.feed.Fetch(ctx, sig.Symbol); err == nil {
		price = snap.Mid()
	}

	verdict := e.engine.Evaluate(risk.Candidate{
		Symbol: sig.Symbol,
		Side:   side,
		Qty:    qty,
		Price:  price,
	}, position, e.pnl.RealizedLoss(), e.limits.Current())

	if !verdict.Approved {
		e.recordRejection(Rejection{
			Symbol: sig.Symbol,
			Side:   side,
			Qty:    qty.String(),
			Reason: verdict.Reason,
			Source: sig.Source,
			At:     time.Now(),
		})
		e.metrics.RecordOrderRejected()
		slog.Info("candidate rejected",
			slog.String("symbol", sig.Symbol),
			slog.String("side", side),
			slog.String("reason", string(verdict.Reason)),
			slog.String("source", sig.Source),
		)
		return
	}

	e.enqueue(ctx, submitTask{
		clientOrderID: uuid.NewString(),
		symbol:        sig.Symbol,
		side:          side,
		qty:           qty,
	})
}

// candidateFor maps a signal direction onto an order. Flat signals
// close toward zero and are ignored when already flat.
func (e *Execution) candidateFor(sig domain.Signal, position domain.Position) (side string, qty decimal.Decimal, ok bool) {
	switch sig.Direction {
	case domain.DirectionLong:
		return domain.SideBuy, e.orderSize, true
	case domain.DirectionShort:
		return domain.SideSell, e.orderSize, true
	case domain.DirectionFlat:
		switch position.Qty.Sign() {
		case 1:
			return domain.SideSell, decimal.Min(e.orderSize, position.Qty), true
		case -1:
			return domain.SideBuy, decimal.Min(e.orderSize, position.Qty.Abs()), true
		default:
			return "", decimal.Zero, false
		}
	default:
		return "", decimal.Zero, false
	}
}

// enqueue hands the task to the symbol's serial submission worker,
// creating it on first use.
func (e *Execution) enqueue(ctx context.Context, task submitTask) {
	e.mu.Lock()
	queue, ok := e.queues[task.symbol]
	if !ok {
		queue = make(chan submitTask, symbolQueueDepth)
		e.queues[task.symbol] = queue

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.submitWorker(ctx, queue)
		}()
	}
	e.mu.Unlock()

	select {
	case queue <- task:
	default:
		slog.Warn("submission backlog full, dropping candidate",
			slog.String("symbol", task.symbol),
			slog.String("side", task.side),
		)
	}
}

func (e *Execution) submitWorker(ctx context.Context, queue <-chan submitTask) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-queue:
			e.submit(ctx, task)
		}
	}
}

func (e *Execution) submit(ctx context.Context, task submitTask) {
	order, err := e.orders.Submit(ctx, task.clientOrderID, task.symbol, task.side, task.qty)
	if err != nil {
		e.metrics.RecordOrderFailed()
		slog.Error("order submission failed",
			slog.String("client_order_id", task.clientOrderID),
			slog.String("symbol", task.symbol),
			slog.Any("error", err),
		)
		return
	}

	e.metrics.RecordOrderSubmitted()
	slog.Info("order submitted",
		slog.String("client_order_id", order.ClientOrderID),
		slog.String("exchange_order_id", order.ExchangeOrderID),
		slog.String("symbol", order.Symbol),
		slog.String("side", order.Side),
		slog.String("qty", order.Qty.String()),
	)
}

func (e *Execution) recordRejection(r Rejection) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.rejections = append(e.rejections, r)
	if len(e.rejections) > maxRejectionLog {
		e.rejections = e.rejections[len(e.rejections)-maxRejectionLog:]
	}
}

// Rejections returns the recent risk refusals, oldest first.
func (e *Execution) Rejections() []Rejection {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Rejection, len(e.rejections))
	copy(out, e.rejections)
	return out
}
