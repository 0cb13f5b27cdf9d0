// Package store owns durable order state and its reconciliation
// against the exchange. Orders are persisted to SQLite so that a
// process restart loses nothing and never reuses a client order id.
package store

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"crypto_agents/internal/domain"
)

// AgentState persists per-agent configuration across restarts.
type AgentState struct {
	Name      string    `gorm:"primaryKey" json:"name"`
	Enabled   bool      `json:"enabled"`
	UpdatedAt time.Time `json:"updated_at"`
}

// lockStripes sizes the fixed lock set orders hash into.
const lockStripes = 64

// Store is the durable Order Store. Every mutation of a single order is
// serialized through a per-client-order-id lock so the execution path
// and the reconciliation loop can never race on the same order.
type Store struct {
	db       *gorm.DB
	exchange domain.Exchange
	locks    [lockStripes]sync.Mutex
}

// Open creates or opens the store at path. An empty path resolves to
// the platform config directory.
func Open(path string, exchange domain.Exchange) (*Store, error) {
	if path == "" {
		var err error
		path, err = defaultDBPath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&domain.Order{}, &AgentState{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{
		db:       db,
		exchange: exchange,
	}, nil
}

// defaultDBPath resolves the database file path based on OS
func defaultDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "CryptoAgents", "data", "orders.db"), nil
}

// lockFor returns the stripe serializing updates to one order. Striping
// keeps the lock set bounded over the process lifetime; ids sharing a
// stripe contend but never interleave.
func (s *Store) lockFor(clientOrderID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(clientOrderID))
	return &s.locks[h.Sum32()%lockStripes]
}

// Submit dispatches an order idempotently. A client order id already
// present in a non-FAILED state is a no-op returning the existing
// order. Submission failure before acknowledgment is retried exactly
// once with the same client order id; a second failure is terminal.
func (s *Store) Submit(ctx context.Context, clientOrderID, symbol, side string, qty decimal.Decimal) (*domain.Order, error) {
	l := s.lockFor(clientOrderID)
	l.Lock()
	defer l.Unlock()

	order, err := s.get(clientOrderID)
	if err != nil {
		return nil, err
	}

	if order != nil {
		if order.Status != domain.OrderStatusFailed {
			// Idempotent no-op: duplicate submission caused by a retry
			// or restart must not create a second exchange order.
			return order, nil
		}
		if order.IsTerminal() {
			return order, nil
		}
		// FAILED with the retry remaining: resubmit the same id.
		order.Status = domain.OrderStatusPendingSubmit
	} else {
		order = &domain.Order{
			ClientOrderID: clientOrderID,
			Symbol:        symbol,
			Side:          side,
			Qty:           qty,
			FilledQty:     decimal.Zero,
			AvgFillPrice:  decimal.Zero,
			Status:        domain.OrderStatusPendingSubmit,
			CreatedAt:     time.Now(),
		}
	}

	if err := s.save(order); err != nil {
		return nil, err
	}

	var lastErr error
	for order.SubmitAttempts < domain.MaxSubmitAttempts {
		order.SubmitAttempts++

		result, submitErr := s.exchange.SubmitOrder(ctx, order.ClientOrderID, order.Symbol, order.Side, order.Qty)
		if submitErr == nil {
			order.Status = domain.OrderStatusSubmitted
			order.ExchangeOrderID = result.ExchangeOrderID
			order.Reason = ""
			if err := s.save(order); err != nil {
				return nil, err
			}
			return order, nil
		}

		lastErr = submitErr
		order.Status = domain.OrderStatusFailed
		order.Reason = submitErr.Error()
		if err := s.save(order); err != nil {
			return nil, err
		}

		slog.Warn("order submission failed",
			slog.String("client_order_id", order.ClientOrderID),
			slog.Int("attempt", order.SubmitAttempts),
			slog.Any("error", submitErr),
		)

		if order.SubmitAttempts < domain.MaxSubmitAttempts {
			order.Status = domain.OrderStatusPendingSubmit
			if err := s.save(order); err != nil {
				return nil, err
			}
		}
	}

	return order, domain.NewNetworkError("submit_order", lastErr)
}

// Get returns the order for a client order id, or nil when unknown.
func (s *Store) Get(clientOrderID string) (*domain.Order, error) {
	return s.get(clientOrderID)
}

func (s *Store) get(clientOrderID string) (*domain.Order, error) {
	var order domain.Order
	err := s.db.First(&order, "client_order_id = ?", clientOrderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// OpenOrders returns every order still subject to reconciliation.
func (s *Store) OpenOrders() ([]domain.Order, error) {
	var orders []domain.Order
	err := s.db.
		Where("status IN ?", []string{
			domain.OrderStatusPendingSubmit,
			domain.OrderStatusSubmitted,
			domain.OrderStatusPartiallyFilled,
		}).
		Find(&orders).Error
	return orders, err
}

// AllOrders returns every order, newest first.
func (s *Store) AllOrders() ([]domain.Order, error) {
	var orders []domain.Order
	err := s.db.Order("created_at DESC").Find(&orders).Error
	return orders, err
}

// FillDelta is the portion of a fill not yet recorded locally.
type FillDelta struct {
	Qty   decimal.Decimal
	Price decimal.Decimal
}

// ApplyReport folds an exchange-reported status into the local order.
// Exchange state is authoritative. It returns the newly observed fill
// quantity (zero when the report adds nothing), so the caller can
// update positions exactly once per fill.
func (s *Store) ApplyReport(clientOrderID string, report domain.OrderStatusReport) (*domain.Order, FillDelta, error) {
	l := s.lockFor(clientOrderID)
	l.Lock()
	defer l.Unlock()

	delta := FillDelta{Qty: decimal.Zero, Price: decimal.Zero}

	order, err := s.get(clientOrderID)
	if err != nil {
		return nil, delta, err
	}
	if order == nil {
		return nil, delta, domain.ErrOrderNotFound
	}

	order.LastCheckedAt = time.Now()

	if newQty := report.FilledQty.Sub(order.FilledQty); newQty.Sign() > 0 {
		delta = FillDelta{Qty: newQty, Price: report.AvgFillPrice}
		order.FilledQty = report.FilledQty
		order.AvgFillPrice = report.AvgFillPrice
	}

	if report.Status != order.Status {
		if order.CanTransition(report.Status) {
			order.Status = report.Status
		} else {
			slog.Warn("exchange reported an unexpected transition",
				slog.String("client_order_id", clientOrderID),
				slog.String("local", order.Status),
				slog.String("exchange", report.Status),
			)
		}
	}

	if err := s.save(order); err != nil {
		return nil, FillDelta{Qty: decimal.Zero, Price: decimal.Zero}, err
	}
	return order, delta, nil
}

// MarkFailed forces an order to FAILED with no retry remaining, used
// when the exchange does not recognize it after the grace period.
func (s *Store) MarkFailed(clientOrderID, reason string) (*domain.Order, error) {
	l := s.lockFor(clientOrderID)
	l.Lock()
	defer l.Unlock()

	order, err := s.get(clientOrderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrOrderNotFound
	}

	order.Status = domain.OrderStatusFailed
	order.SubmitAttempts = domain.MaxSubmitAttempts
	order.Reason = reason
	order.LastCheckedAt = time.Now()

	if err := s.save(order); err != nil {
		return nil, err
	}
	return order, nil
}

// Touch records a reconciliation check without any state change.
func (s *Store) Touch(clientOrderID string) error {
	l := s.lockFor(clientOrderID)
	l.Lock()
	defer l.Unlock()

	return s.db.Model(&domain.Order{}).
		Where("client_order_id = ?", clientOrderID).
		Update("last_checked_at", time.Now()).Error
}

func (s *Store) save(order *domain.Order) error {
	return s.db.Save(order).Error
}

// ======================================================================================
// Agent state operations
// ======================================================================================

// SaveAgentState persists an agent's enabled flag.
func (s *Store) SaveAgentState(name string, enabled bool) error {
	state := AgentState{Name: name, Enabled: enabled, UpdatedAt: time.Now()}
	return s.db.Save(&state).Error
}

// LoadAgentStates returns the persisted agent configuration as a map.
func (s *Store) LoadAgentStates() (map[string]bool, error) {
	var states []AgentState
	if err := s.db.Find(&states).Error; err != nil {
		return nil, err
	}

	result := make(map[string]bool, len(states))
	for _, st := range states {
		result[st.Name] = st.Enabled
	}
	return result, nil
}
