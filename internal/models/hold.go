package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/bitmint/exchange-core/internal/amount"
)

// HoldStatus is the lifecycle state of a hold.
type HoldStatus string

const (
	HoldActive   HoldStatus = "active"
	HoldReleased HoldStatus = "released"
)

// Hold reserves part of an account's posted balance for an open order or a
// pending withdrawal. Available balance is posted minus the sum of active
// hold remainders; a hold never changes the posted balance itself.
type Hold struct {
	ID        uuid.UUID     `json:"id"`
	AccountID uuid.UUID     `json:"account_id"`
	Amount    amount.Amount `json:"amount"`
	Remaining amount.Amount `json:"remaining"`
	Status    HoldStatus    `json:"status"`
	Reference string        `json:"reference"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}
