package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/bitmint/exchange-core/internal/amount"
	"github.com/bitmint/exchange-core/internal/models"
)

type OrderStatusChanged struct {
	OrderID    uuid.UUID          `json:"order_id"`
	Market     string             `json:"market"`
	UserID     string             `json:"user_id"`
	Status     models.OrderStatus `json:"status"`
	Remaining  amount.Amount      `json:"remaining"`
	OccurredAt time.Time          `json:"occurred_at"`
}
