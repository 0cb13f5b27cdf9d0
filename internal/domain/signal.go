package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the trading direction suggested by a signal.
type Direction int

const (
	DirectionFlat Direction = iota
	DirectionLong
	DirectionShort
)

// String returns the string representation of Direction
func (d Direction) String() string {
	switch d {
	case DirectionLong:
		return "LONG"
	case DirectionShort:
		return "SHORT"
	case DirectionFlat:
		return "FLAT"
	default:
		return "UNKNOWN"
	}
}

// Signal is a directional trading suggestion emitted by a producer agent.
// It is immutable once published. Seq is monotonic per Source; ordering
// across sources is not defined and consumers must not assume one.
type Signal struct {
	Symbol    string          `json:"symbol"`
	Direction Direction       `json:"direction"`
	Strength  decimal.Decimal `json:"strength"` // producer-specific magnitude (momentum, imbalance, ...)
	Reason    string          `json:"reason"`
	Source    string          `json:"source"` // producer agent name
	Seq       uint64          `json:"seq"`
	At        time.Time       `json:"at"`
}
