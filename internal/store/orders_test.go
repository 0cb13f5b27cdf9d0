package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"crypto_agents/internal/domain"
)

// fakeExchange is a scriptable in-memory exchange for store tests.
type fakeExchange struct {
	mu          sync.Mutex
	submitCalls int
	submitErrs  []error // consumed in order; nil entries mean success
	reports     map[string]domain.OrderStatusReport
	statusErr   error
}

func (f *fakeExchange) SubmitOrder(_ context.Context, clientOrderID, _, _ string, _ decimal.Decimal) (domain.SubmitResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.submitCalls++
	if len(f.submitErrs) > 0 {
		err := f.submitErrs[0]
		f.submitErrs = f.submitErrs[1:]
		if err != nil {
			return domain.SubmitResult{}, err
		}
	}
	return domain.SubmitResult{ExchangeOrderID: "EX-" + clientOrderID}, nil
}

func (f *fakeExchange) GetOrderStatus(_ context.Context, clientOrderID, _ string) (domain.OrderStatusReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.statusErr != nil {
		return domain.OrderStatusReport{}, f.statusErr
	}
	report, ok := f.reports[clientOrderID]
	if !ok {
		return domain.OrderStatusReport{}, domain.ErrOrderNotFound
	}
	return report, nil
}

func (f *fakeExchange) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitCalls
}

func (f *fakeExchange) setReport(clientOrderID string, report domain.OrderStatusReport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reports == nil {
		f.reports = make(map[string]domain.OrderStatusReport)
	}
	f.reports[clientOrderID] = report
}

func openTestStore(t *testing.T, ex domain.Exchange) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "orders.db"), ex)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	return s
}

func d(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return v
}

func TestSubmit_Success(t *testing.T) {
	ex := &fakeExchange{}
	s := openTestStore(t, ex)

	order, err := s.Submit(context.Background(), "ord-1", "BTC/CAD", domain.SideBuy, d(t, "1"))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if order.Status != domain.OrderStatusSubmitted {
		t.Errorf("status = %s, want SUBMITTED", order.Status)
	}
	if order.ExchangeOrderID != "EX-ord-1" {
		t.Errorf("exchange order id = %q", order.ExchangeOrderID)
	}
	if order.SubmitAttempts != 1 {
		t.Errorf("attempts = %d, want 1", order.SubmitAttempts)
	}
}

func TestSubmit_DuplicateIsNoOp(t *testing.T) {
	ex := &fakeExchange{}
	s := openTestStore(t, ex)

	ctx := context.Background()
	if _, err := s.Submit(ctx, "ord-1", "BTC/CAD", domain.SideBuy, d(t, "1")); err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	order, err := s.Submit(ctx, "ord-1", "BTC/CAD", domain.SideBuy, d(t, "1"))
	if err != nil {
		t.Fatalf("duplicate submit failed: %v", err)
	}

	if ex.calls() != 1 {
		t.Errorf("exchange called %d times, want 1", ex.calls())
	}
	if order.Status != domain.OrderStatusSubmitted {
		t.Errorf("status = %s, want SUBMITTED", order.Status)
	}
}

func TestSubmit_RetriesOnceThenFails(t *testing.T) {
	ex := &fakeExchange{submitErrs: []error{
		errors.New("connection reset"),
		errors.New("connection reset"),
	}}
	s := openTestStore(t, ex)

	order, err := s.Submit(context.Background(), "ord-1", "BTC/CAD", domain.SideBuy, d(t, "1"))
	if err == nil {
		t.Fatal("expected submit error after exhausted retries")
	}
	if order.Status != domain.OrderStatusFailed {
		t.Errorf("status = %s, want FAILED", order.Status)
	}
	if order.SubmitAttempts != domain.MaxSubmitAttempts {
		t.Errorf("attempts = %d, want %d", order.SubmitAttempts, domain.MaxSubmitAttempts)
	}
	if ex.calls() != 2 {
		t.Errorf("exchange called %d times, want 2", ex.calls())
	}

	var netErr *domain.NetworkError
	if !errors.As(err, &netErr) {
		t.Errorf("expected NetworkError, got %T", err)
	}

	// Terminal FAILED must not be resubmitted.
	again, err := s.Submit(context.Background(), "ord-1", "BTC/CAD", domain.SideBuy, d(t, "1"))
	if err != nil {
		t.Fatalf("resubmit of terminal order errored: %v", err)
	}
	if again.Status != domain.OrderStatusFailed {
		t.Errorf("status = %s, want FAILED", again.Status)
	}
	if ex.calls() != 2 {
		t.Errorf("terminal order reached the exchange again: %d calls", ex.calls())
	}
}

func TestSubmit_FirstFailureSecondSuccess(t *testing.T) {
	ex := &fakeExchange{submitErrs: []error{errors.New("timeout"), nil}}
	s := openTestStore(t, ex)

	order, err := s.Submit(context.Background(), "ord-1", "BTC/CAD", domain.SideBuy, d(t, "1"))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if order.Status != domain.OrderStatusSubmitted {
		t.Errorf("status = %s, want SUBMITTED", order.Status)
	}
	if order.SubmitAttempts != 2 {
		t.Errorf("attempts = %d, want 2", order.SubmitAttempts)
	}
	if ex.calls() != 2 {
		t.Errorf("exchange called %d times, want 2", ex.calls())
	}
}

func TestStore_SurvivesRestart(t *testing.T) {
	ex := &fakeExchange{}
	path := filepath.Join(t.TempDir(), "orders.db")

	s, err := Open(path, ex)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, err := s.Submit(context.Background(), "ord-1", "ETH/CAD", domain.SideSell, d(t, "2")); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	reopened, err := Open(path, ex)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	order, err := reopened.Get("ord-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if order == nil {
		t.Fatal("order lost across restart")
	}
	if order.Status != domain.OrderStatusSubmitted || order.Symbol != "ETH/CAD" {
		t.Errorf("restored order wrong: %+v", order)
	}
}

func TestApplyReport_FillDelta(t *testing.T) {
	ex := &fakeExchange{}
	s := openTestStore(t, ex)

	ctx := context.Background()
	if _, err := s.Submit(ctx, "ord-1", "BTC/CAD", domain.SideBuy, d(t, "10")); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	report := domain.OrderStatusReport{
		Status:       domain.OrderStatusPartiallyFilled,
		FilledQty:    d(t, "4"),
		AvgFillPrice: d(t, "100"),
	}
	order, delta, err := s.ApplyReport("ord-1", report)
	if err != nil {
		t.Fatalf("ApplyReport failed: %v", err)
	}
	if !delta.Qty.Equal(d(t, "4")) {
		t.Errorf("delta qty = %s, want 4", delta.Qty)
	}
	if order.Status != domain.OrderStatusPartiallyFilled {
		t.Errorf("status = %s, want PARTIALLY_FILLED", order.Status)
	}

	// Same report again: no new fill.
	_, delta, err = s.ApplyReport("ord-1", report)
	if err != nil {
		t.Fatalf("second ApplyReport failed: %v", err)
	}
	if !delta.Qty.IsZero() {
		t.Errorf("repeated report produced delta %s, want 0", delta.Qty)
	}

	// Completion reports only the remainder as delta.
	full := domain.OrderStatusReport{
		Status:       domain.OrderStatusFilled,
		FilledQty:    d(t, "10"),
		AvgFillPrice: d(t, "101"),
	}
	order, delta, err = s.ApplyReport("ord-1", full)
	if err != nil {
		t.Fatalf("final ApplyReport failed: %v", err)
	}
	if !delta.Qty.Equal(d(t, "6")) {
		t.Errorf("delta qty = %s, want 6", delta.Qty)
	}
	if order.Status != domain.OrderStatusFilled {
		t.Errorf("status = %s, want FILLED", order.Status)
	}
}

func TestApplyReport_IgnoresInvalidTransition(t *testing.T) {
	ex := &fakeExchange{}
	s := openTestStore(t, ex)

	ctx := context.Background()
	if _, err := s.Submit(ctx, "ord-1", "BTC/CAD", domain.SideBuy, d(t, "1")); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if _, _, err := s.ApplyReport("ord-1", domain.OrderStatusReport{
		Status:       domain.OrderStatusFilled,
		FilledQty:    d(t, "1"),
		AvgFillPrice: d(t, "100"),
	}); err != nil {
		t.Fatalf("fill report failed: %v", err)
	}

	// FILLED is terminal; a stale CANCELLED report must not move it.
	order, _, err := s.ApplyReport("ord-1", domain.OrderStatusReport{
		Status:       domain.OrderStatusCancelled,
		FilledQty:    d(t, "1"),
		AvgFillPrice: d(t, "100"),
	})
	if err != nil {
		t.Fatalf("stale report failed: %v", err)
	}
	if order.Status != domain.OrderStatusFilled {
		t.Errorf("status = %s, terminal FILLED must stick", order.Status)
	}
}

func TestOpenOrders_ExcludesTerminal(t *testing.T) {
	ex := &fakeExchange{}
	s := openTestStore(t, ex)

	ctx := context.Background()
	if _, err := s.Submit(ctx, "ord-1", "BTC/CAD", domain.SideBuy, d(t, "1")); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if _, err := s.Submit(ctx, "ord-2", "BTC/CAD", domain.SideBuy, d(t, "1")); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if _, _, err := s.ApplyReport("ord-2", domain.OrderStatusReport{
		Status:       domain.OrderStatusFilled,
		FilledQty:    d(t, "1"),
		AvgFillPrice: d(t, "100"),
	}); err != nil {
		t.Fatalf("fill failed: %v", err)
	}

	open, err := s.OpenOrders()
	if err != nil {
		t.Fatalf("OpenOrders failed: %v", err)
	}
	if len(open) != 1 || open[0].ClientOrderID != "ord-1" {
		t.Errorf("open orders = %+v, want only ord-1", open)
	}
}

func TestMarkFailed_IsTerminal(t *testing.T) {
	ex := &fakeExchange{}
	s := openTestStore(t, ex)

	ctx := context.Background()
	if _, err := s.Submit(ctx, "ord-1", "BTC/CAD", domain.SideBuy, d(t, "1")); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	order, err := s.MarkFailed("ord-1", "unknown to exchange after grace period")
	if err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	if !order.IsTerminal() {
		t.Error("MarkFailed must leave the order terminal")
	}

	if ex.calls() != 1 {
		t.Fatalf("setup: exchange calls = %d", ex.calls())
	}
	if _, err := s.Submit(ctx, "ord-1", "BTC/CAD", domain.SideBuy, d(t, "1")); err != nil {
		t.Fatalf("resubmit errored: %v", err)
	}
	if ex.calls() != 1 {
		t.Errorf("resubmit of force-failed order reached the exchange")
	}
}

func TestLockFor_BoundedAndStable(t *testing.T) {
	s := openTestStore(t, &fakeExchange{})

	if s.lockFor("ord-1") != s.lockFor("ord-1") {
		t.Error("same client order id must map to the same lock")
	}

	seen := make(map[*sync.Mutex]bool)
	for i := 0; i < 1000; i++ {
		seen[s.lockFor(fmt.Sprintf("ord-%d", i))] = true
	}
	if len(seen) > lockStripes {
		t.Errorf("lock set grew past the stripe count: %d", len(seen))
	}
}

func TestAgentState_RoundTrip(t *testing.T) {
	s := openTestStore(t, &fakeExchange{})

	if err := s.SaveAgentState("scanner", true); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := s.SaveAgentState("execution", false); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := s.SaveAgentState("scanner", false); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	states, err := s.LoadAgentStates()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("expected 2 states, got %d", len(states))
	}
	if states["scanner"] || states["execution"] {
		t.Errorf("states = %v, want both disabled", states)
	}
}
