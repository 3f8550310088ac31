package interfaces

import (
	"context"

	"github.com/google/uuid"

	"github.com/bitmint/exchange-core/internal/models"
)

// OrderStore persists markets, orders and executions.
//
// SaveOrderWithHold writes the order and its funding hold as one atomic
// unit: if either insert fails, neither row may remain. ApplySettlement
// applies a whole settlement batch in one transaction or not at all.
type OrderStore interface {
	SaveMarket(ctx context.Context, m models.Market) error
	GetMarket(ctx context.Context, id string) (models.Market, error)

	SaveOrderWithHold(ctx context.Context, order models.Order, hold models.Hold) error
	GetOrder(ctx context.Context, id uuid.UUID) (models.Order, error)
	// RestingOrders returns non-terminal orders with remaining quantity on
	// the given side of the market.
	RestingOrders(ctx context.Context, market string, side models.OrderSide) ([]models.Order, error)

	// ExecutionsByMarket returns the market's executions newest first. A
	// limit <= 0 returns them all.
	ExecutionsByMarket(ctx context.Context, market string, limit int) ([]models.Execution, error)

	ApplySettlement(ctx context.Context, batch models.SettlementBatch) error
}

// Store is the full persistence surface; concrete stores implement both
// halves over the same underlying state.
type Store interface {
	LedgerStore
	OrderStore
}
