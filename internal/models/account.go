package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/bitmint/exchange-core/internal/amount"
)

// System users that own the exchange's internal accounts. The treasury
// account is the omnibus counterpart of deposits and withdrawals; the fee
// account collects trading fees.
const (
	SystemTreasuryUser = "system:treasury"
	SystemFeeUser      = "system:fees"
)

// Account is a (user, asset) ledger account. It carries no balance field:
// balances are always derived from journal lines.
type Account struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"user_id"`
	Asset     string    `json:"asset"`
	CreatedAt time.Time `json:"created_at"`
}

// BalanceView is the derived balance of one account at read time.
type BalanceView struct {
	Asset     string        `json:"asset"`
	Posted    amount.Amount `json:"posted"`
	Held      amount.Amount `json:"held"`
	Available amount.Amount `json:"available"`
}
