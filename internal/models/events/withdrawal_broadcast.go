package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/bitmint/exchange-core/internal/amount"
)

type WithdrawalBroadcast struct {
	HoldID     uuid.UUID     `json:"hold_id"`
	UserID     string        `json:"user_id"`
	Asset      string        `json:"asset"`
	Amount     amount.Amount `json:"amount"`
	TxHash     string        `json:"tx_hash"`
	OccurredAt time.Time     `json:"occurred_at"`
}
