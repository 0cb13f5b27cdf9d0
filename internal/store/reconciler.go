package store

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"crypto_agents/internal/domain"
	"crypto_agents/internal/infra"
)

// Alert records a reconciliation divergence that needed operator
// attention. Alerts are surfaced through the status snapshot, never
// silently dropped.
type Alert struct {
	ClientOrderID string    `json:"client_order_id"`
	Symbol        string    `json:"symbol"`
	Message       string    `json:"message"`
	At            time.Time `json:"at"`
}

// Reconciler periodically folds exchange-reported order state into the
// Order Store and applies confirmed fills to positions and daily P&L.
// The exchange is authoritative; local state converges toward it.
type Reconciler struct {
	store     *Store
	exchange  domain.Exchange
	positions *domain.PositionBook
	pnl       *domain.DailyPnL
	metrics   *infra.Metrics

	interval time.Duration
	grace    time.Duration

	mu      sync.Mutex
	alerts  []Alert
	alerted map[string]bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReconciler wires a reconciliation loop. interval is the fixed
// period between passes; grace is how long a locally SUBMITTED order
// may stay unknown to the exchange before it is declared FAILED.
func NewReconciler(store *Store, exchange domain.Exchange, positions *domain.PositionBook, pnl *domain.DailyPnL, metrics *infra.Metrics, interval, grace time.Duration) *Reconciler {
	return &Reconciler{
		store:     store,
		exchange:  exchange,
		positions: positions,
		pnl:       pnl,
		metrics:   metrics,
		interval:  interval,
		grace:     grace,
		alerted:   make(map[string]bool),
	}
}

// Start begins the periodic loop. The first pass runs immediately so
// restart recovery does not wait a full interval.
func (r *Reconciler) Start(ctx context.Context) error {
	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("reconciler panic recovered", slog.Any("panic", rec))
			}
		}()

		r.RunOnce(ctx)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				slog.Info("reconciliation loop stopped")
				return
			case <-ticker.C:
				r.RunOnce(ctx)
			}
		}
	}()

	return nil
}

// Stop cancels the loop and waits for the current pass to finish.
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
		r.wg.Wait()
	}
}

// RunOnce reconciles every open order against the exchange. Running it
// twice with no exchange-side change leaves the store unchanged.
func (r *Reconciler) RunOnce(ctx context.Context) {
	if r.metrics != nil {
		r.metrics.RecordReconcileRun()
	}

	orders, err := r.store.OpenOrders()
	if err != nil {
		slog.Error("failed to load open orders", slog.Any("error", err))
		return
	}

	for i := range orders {
		select {
		case <-ctx.Done():
			return
		default:
		}
		r.reconcileOrder(ctx, &orders[i])
	}
}

func (r *Reconciler) reconcileOrder(ctx context.Context, order *domain.Order) {
	report, err := r.exchange.GetOrderStatus(ctx, order.ClientOrderID, order.ExchangeOrderID)

	if errors.Is(err, domain.ErrOrderNotFound) {
		r.handleUnknownOrder(order)
		return
	}
	if err != nil {
		// Transient failure: skip this cycle, the next pass retries.
		if r.metrics != nil {
			r.metrics.RecordError()
		}
		slog.Warn("order status query failed",
			slog.String("client_order_id", order.ClientOrderID),
			slog.Any("error", err),
		)
		return
	}

	updated, delta, err := r.store.ApplyReport(order.ClientOrderID, report)
	if err != nil {
		slog.Error("failed to apply exchange report",
			slog.String("client_order_id", order.ClientOrderID),
			slog.Any("error", err),
		)
		return
	}

	if delta.Qty.Sign() > 0 {
		realized := r.positions.ApplyFill(updated.Symbol, updated.Side, delta.Qty, delta.Price)
		r.pnl.AddRealized(realized)
		slog.Info("fill applied",
			slog.String("client_order_id", updated.ClientOrderID),
			slog.String("symbol", updated.Symbol),
			slog.String("qty", delta.Qty.String()),
			slog.String("price", delta.Price.String()),
			slog.String("realized", realized.String()),
		)
	}

	if updated.Status == domain.OrderStatusFilled && order.Status != domain.OrderStatusFilled {
		if r.metrics != nil {
			r.metrics.RecordOrderFilled()
		}
	}

	// The state machine refused the reported status. The order would
	// otherwise sit divergent pass after pass with nobody told.
	if updated.Status != report.Status {
		r.alertDivergence(updated, report.Status)
	}
}

// alertDivergence raises one alert per order for an exchange report the
// local state machine could not apply.
func (r *Reconciler) alertDivergence(order *domain.Order, reported string) {
	r.mu.Lock()
	seen := r.alerted[order.ClientOrderID]
	r.alerted[order.ClientOrderID] = true
	r.mu.Unlock()
	if seen {
		return
	}

	if r.metrics != nil {
		r.metrics.RecordReconcileAlert()
	}
	r.addAlert(Alert{
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		Message:       "exchange reports " + reported + ", local state " + order.Status + " cannot accept it",
		At:            time.Now(),
	})

	slog.Warn("reconciliation alert: divergent exchange report",
		slog.String("client_order_id", order.ClientOrderID),
		slog.String("local", order.Status),
		slog.String("exchange", reported),
	)
}

// handleUnknownOrder resolves orders the exchange does not recognize.
// Before the grace period elapses the order is left as-is (the
// submission may still be in flight); after it, the order is assumed
// to have never reached the exchange and is marked FAILED.
func (r *Reconciler) handleUnknownOrder(order *domain.Order) {
	if time.Since(order.CreatedAt) <= r.grace {
		if err := r.store.Touch(order.ClientOrderID); err != nil {
			slog.Warn("failed to record reconciliation check", slog.Any("error", err))
		}
		return
	}

	if _, err := r.store.MarkFailed(order.ClientOrderID, "unknown to exchange after grace period"); err != nil {
		slog.Error("failed to mark order failed",
			slog.String("client_order_id", order.ClientOrderID),
			slog.Any("error", err),
		)
		return
	}

	if r.metrics != nil {
		r.metrics.RecordOrderFailed()
		r.metrics.RecordReconcileAlert()
	}
	r.addAlert(Alert{
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		Message:       "order unknown to exchange after grace period, marked FAILED",
		At:            time.Now(),
	})

	slog.Warn("reconciliation alert: order marked FAILED",
		slog.String("client_order_id", order.ClientOrderID),
		slog.String("symbol", order.Symbol),
	)
}

func (r *Reconciler) addAlert(a Alert) {
	r.mu.Lock()
	r.alerts = append(r.alerts, a)
	r.mu.Unlock()
}

// Alerts returns a copy of every alert raised so far.
func (r *Reconciler) Alerts() []Alert {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Alert, len(r.alerts))
	copy(out, r.alerts)
	return out
}
