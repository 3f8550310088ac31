package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/bitmint/exchange-core/internal/amount"
)

type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

type OrderType string

const (
	TypeLimit  OrderType = "limit"
	TypeMarket OrderType = "market"
)

type OrderStatus string

const (
	OrderOpen            OrderStatus = "open"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderFilled          OrderStatus = "filled"
	OrderCanceled        OrderStatus = "canceled"
)

// Order is a spot order. Price is meaningful for limit orders only; market
// orders match with a synthetic extreme price that is never stored here.
// Remaining is monotonically non-increasing and never negative.
type Order struct {
	ID        uuid.UUID     `json:"id"`
	Market    string        `json:"market"`
	UserID    string        `json:"user_id"`
	Side      OrderSide     `json:"side"`
	Type      OrderType     `json:"type"`
	Price     amount.Amount `json:"price"`
	Quantity  amount.Amount `json:"quantity"`
	Remaining amount.Amount `json:"remaining"`
	HoldID    uuid.UUID     `json:"hold_id"`
	Canceled  bool          `json:"-"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Status derives the lifecycle state from the cancel flag and the remaining
// quantity; it is never stored independently, so it cannot drift.
func (o Order) Status() OrderStatus {
	switch {
	case o.Canceled:
		return OrderCanceled
	case !o.Remaining.IsPositive():
		return OrderFilled
	case o.Remaining.Cmp(o.Quantity) < 0:
		return OrderPartiallyFilled
	default:
		return OrderOpen
	}
}

// Terminal reports whether the order can no longer transition.
func (o Order) Terminal() bool {
	s := o.Status()
	return s == OrderFilled || s == OrderCanceled
}
