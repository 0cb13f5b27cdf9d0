package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order represents a trading order owned by the Order Store.
// ClientOrderID is caller-generated and globally unique; it is the
// idempotency key for exchange submission. ExchangeOrderID is empty
// until the exchange acknowledges the order.
type Order struct {
	ClientOrderID   string          `gorm:"primaryKey" json:"client_order_id"`
	ExchangeOrderID string          `gorm:"index" json:"exchange_order_id"`
	Symbol          string          `gorm:"index" json:"symbol"`
	Side            string          `json:"side"` // "BUY", "SELL"
	Qty             decimal.Decimal `gorm:"type:text" json:"qty"`
	FilledQty       decimal.Decimal `gorm:"type:text" json:"filled_qty"`
	AvgFillPrice    decimal.Decimal `gorm:"type:text" json:"avg_fill_price"`
	Status          string          `gorm:"index" json:"status"`
	SubmitAttempts  int             `json:"submit_attempts"`
	Reason          string          `json:"reason"` // last failure/alert detail
	CreatedAt       time.Time       `json:"created_at"`
	LastCheckedAt   time.Time       `json:"last_checked_at"`
}

const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	OrderStatusPendingSubmit   = "PENDING_SUBMIT"
	OrderStatusSubmitted       = "SUBMITTED"
	OrderStatusPartiallyFilled = "PARTIALLY_FILLED"
	OrderStatusFilled          = "FILLED"
	OrderStatusCancelled       = "CANCELLED"
	OrderStatusFailed          = "FAILED"
)

// MaxSubmitAttempts caps submission at the initial attempt plus one
// idempotent retry with the same ClientOrderID.
const MaxSubmitAttempts = 2

// IsTerminal reports whether the order can no longer change state.
// FAILED is terminal only once the single resubmission attempt is spent.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusFilled, OrderStatusCancelled:
		return true
	case OrderStatusFailed:
		return o.SubmitAttempts >= MaxSubmitAttempts
	default:
		return false
	}
}

// IsOpen reports whether the order still needs reconciliation.
func (o *Order) IsOpen() bool {
	return !o.IsTerminal()
}

// validTransitions encodes the order state machine:
// PENDING_SUBMIT -> SUBMITTED -> {PARTIALLY_FILLED -> FILLED, CANCELLED, FAILED}.
var validTransitions = map[string]map[string]bool{
	// A crash between the exchange accepting an order and the local
	// SUBMITTED write leaves it durably pending, so reconciliation may
	// observe any exchange-side state from here.
	OrderStatusPendingSubmit: {
		OrderStatusSubmitted:       true,
		OrderStatusPartiallyFilled: true,
		OrderStatusFilled:          true,
		OrderStatusCancelled:       true,
		OrderStatusFailed:          true,
	},
	OrderStatusSubmitted: {
		OrderStatusPartiallyFilled: true,
		OrderStatusFilled:          true,
		OrderStatusCancelled:       true,
		OrderStatusFailed:          true,
	},
	OrderStatusPartiallyFilled: {
		OrderStatusPartiallyFilled: true,
		OrderStatusFilled:          true,
		OrderStatusCancelled:       true,
		OrderStatusFailed:          true,
	},
	// A failed pre-ack submission may be retried once.
	OrderStatusFailed: {
		OrderStatusPendingSubmit: true,
	},
}

// CanTransition reports whether moving from the order's current status
// to next is a legal state machine step.
func (o *Order) CanTransition(next string) bool {
	return validTransitions[o.Status][next]
}
