package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/bitmint/exchange-core/internal/amount"
)

type TradeExecuted struct {
	ExecutionID  uuid.UUID     `json:"execution_id"`
	Market       string        `json:"market"`
	Price        amount.Amount `json:"price"`
	Quantity     amount.Amount `json:"quantity"`
	MakerOrderID uuid.UUID     `json:"maker_order_id"`
	TakerOrderID uuid.UUID     `json:"taker_order_id"`
	OccurredAt   time.Time     `json:"occurred_at"`
}
