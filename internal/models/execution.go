package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/bitmint/exchange-core/internal/amount"
)

// Execution is one trade fill. Rows are append-only; Price is always the
// maker's quoted price.
type Execution struct {
	ID           uuid.UUID     `json:"id"`
	Market       string        `json:"market"`
	Price        amount.Amount `json:"price"`
	Quantity     amount.Amount `json:"quantity"`
	MakerOrderID uuid.UUID     `json:"maker_order_id"`
	TakerOrderID uuid.UUID     `json:"taker_order_id"`
	CreatedAt    time.Time     `json:"created_at"`
}
