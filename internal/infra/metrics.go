package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	signalsPublished atomic.Uint64
	signalsDropped   atomic.Uint64
	ordersSubmitted  atomic.Uint64
	ordersRejected   atomic.Uint64
	ordersFilled     atomic.Uint64
	ordersFailed     atomic.Uint64
	reconcileRuns    atomic.Uint64
	reconcileAlerts  atomic.Uint64
	errorsTotal      atomic.Uint64
}

// RecordSignalPublished records a signal accepted by the bus.
func (m *Metrics) RecordSignalPublished() {
	m.signalsPublished.Add(1)
}

// RecordSignalDropped records a signal evicted by the bus drop policy.
func (m *Metrics) RecordSignalDropped() {
	m.signalsDropped.Add(1)
}

// RecordOrderSubmitted records an order dispatched to the exchange.
func (m *Metrics) RecordOrderSubmitted() {
	m.ordersSubmitted.Add(1)
}

// RecordOrderRejected records a risk engine rejection.
func (m *Metrics) RecordOrderRejected() {
	m.ordersRejected.Add(1)
}

// RecordOrderFilled records a fully filled order.
func (m *Metrics) RecordOrderFilled() {
	m.ordersFilled.Add(1)
}

// RecordOrderFailed records an order that reached FAILED.
func (m *Metrics) RecordOrderFailed() {
	m.ordersFailed.Add(1)
}

// RecordReconcileRun records one pass of the reconciliation loop.
func (m *Metrics) RecordReconcileRun() {
	m.reconcileRuns.Add(1)
}

// RecordReconcileAlert records an unresolved divergence alert.
func (m *Metrics) RecordReconcileAlert() {
	m.reconcileAlerts.Add(1)
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	SignalsPublished uint64    `json:"signals_published"`
	SignalsDropped   uint64    `json:"signals_dropped"`
	OrdersSubmitted  uint64    `json:"orders_submitted"`
	OrdersRejected   uint64    `json:"orders_rejected"`
	OrdersFilled     uint64    `json:"orders_filled"`
	OrdersFailed     uint64    `json:"orders_failed"`
	ReconcileRuns    uint64    `json:"reconcile_runs"`
	ReconcileAlerts  uint64    `json:"reconcile_alerts"`
	ErrorsTotal      uint64    `json:"errors_total"`
	Timestamp        time.Time `json:"timestamp"`
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		SignalsPublished: m.signalsPublished.Load(),
		SignalsDropped:   m.signalsDropped.Load(),
		OrdersSubmitted:  m.ordersSubmitted.Load(),
		OrdersRejected:   m.ordersRejected.Load(),
		OrdersFilled:     m.ordersFilled.Load(),
		OrdersFailed:     m.ordersFailed.Load(),
		ReconcileRuns:    m.reconcileRuns.Load(),
		ReconcileAlerts:  m.reconcileAlerts.Load(),
		ErrorsTotal:      m.errorsTotal.Load(),
		Timestamp:        time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.signalsPublished.Store(0)
	m.signalsDropped.Store(0)
	m.ordersSubmitted.Store(0)
	m.ordersRejected.Store(0)
	m.ordersFilled.Store(0)
	m.ordersFailed.Store(0)
	m.reconcileRuns.Store(0)
	m.reconcileAlerts.Store(0)
	m.errorsTotal.Store(0)
}
