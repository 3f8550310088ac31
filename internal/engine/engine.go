// Package engine turns incoming orders into holds, fills and settled trades.
// Matching itself is a pure planning function (see match.go); the engine
// wraps it with reservation, per-market serialization and transactional
// settlement.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bitmint/exchange-core/internal/amount"
	"github.com/bitmint/exchange-core/internal/errs"
	"github.com/bitmint/exchange-core/internal/interfaces"
	"github.com/bitmint/exchange-core/internal/ledger"
	"github.com/bitmint/exchange-core/internal/models"
	"github.com/bitmint/exchange-core/internal/models/events"
)

// Kafka topics for engine events.
const (
	TopicTradeExecuted      = "trade_executed"
	TopicOrderStatusChanged = "order_status_changed"
)

// Config bounds the engine's fee, slippage and matching behavior.
type Config struct {
	// MaxFeeRate is the highest fee rate any market may charge; reserves
	// are computed against it.
	MaxFeeRate amount.Amount
	// SlippageBuffer pads market-buy reserves, e.g. 0.01 for 1%.
	SlippageBuffer amount.Amount
	// MaxFillsPerPass caps the fills planned in one matching pass.
	MaxFillsPerPass int
}

// Engine processes orders for all markets. Matching passes for one market
// are serialized through a per-market mutex so price-time priority is
// applied deterministically under concurrent takers.
type Engine struct {
	store  interfaces.Store
	ledger *ledger.Ledger
	pub    interfaces.EventPublisher
	cfg    Config
	log    *slog.Logger

	mktMu map[string]*sync.Mutex
	mapMu sync.Mutex
}

func New(store interfaces.Store, led *ledger.Ledger, pub interfaces.EventPublisher, cfg Config) *Engine {
	if cfg.MaxFillsPerPass <= 0 {
		cfg.MaxFillsPerPass = 100
	}
	return &Engine{
		store:  store,
		ledger: led,
		pub:    pub,
		cfg:    cfg,
		log:    slog.Default(),
		mktMu:  make(map[string]*sync.Mutex),
	}
}

func (e *Engine) marketLock(marketID string) *sync.Mutex {
	e.mapMu.Lock()
	defer e.mapMu.Unlock()

	if _, exists := e.mktMu[marketID]; !exists {
		e.mktMu[marketID] = &sync.Mutex{}
	}
	return e.mktMu[marketID]
}

// PlaceOrderRequest is the contract for placing an order. Price must be the
// zero amount for market orders.
type PlaceOrderRequest struct {
	UserID   string
	Market   string
	Side     models.OrderSide
	Type     models.OrderType
	Price    amount.Amount
	Quantity amount.Amount
}

// PlaceOrderResult reports the accepted order (already reflecting any
// synchronous fills) and the executions from the immediate matching pass.
type PlaceOrderResult struct {
	Order models.Order
	Fills []models.Execution
}

func (r PlaceOrderRequest) validate() error {
	if r.UserID == "" {
		return errs.New(errs.CodeInvalidInput, "user id is required")
	}
	if r.Side != models.SideBuy && r.Side != models.SideSell {
		return errs.New(errs.CodeInvalidInput, "unknown side %q", r.Side)
	}
	if r.Type != models.TypeLimit && r.Type != models.TypeMarket {
		return errs.New(errs.CodeInvalidInput, "unknown order type %q", r.Type)
	}
	if !r.Quantity.IsPositive() {
		return errs.New(errs.CodeInvalidInput, "quantity must be positive")
	}
	if r.Type == models.TypeLimit && !r.Price.IsPositive() {
		return errs.New(errs.CodeInvalidInput, "limit orders require a positive price")
	}
	if r.Type == models.TypeMarket && !r.Price.IsZero() {
		return errs.New(errs.CodeInvalidInput, "market orders must not carry a price")
	}
	return nil
}

// PlaceOrder reserves funds, persists the order, and runs matching passes
// until the taker stops crossing or is exhausted. Reservation and order
// insertion are one atomic unit: if the hold cannot be created, no order row
// is persisted. When a settlement pass fails after the order is persisted,
// the returned result still carries the order and the fills committed by
// earlier passes; the order stays on the book and can be canceled or left
// to match later.
func (e *Engine) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (PlaceOrderResult, error) {
	if err := req.validate(); err != nil {
		return PlaceOrderResult{}, err
	}

	market, err := e.store.GetMarket(ctx, req.Market)
	if err != nil {
		return PlaceOrderResult{}, err
	}
	if !market.Enabled {
		return PlaceOrderResult{}, errs.New(errs.CodeMarketDisabled, "market %s is disabled", market.ID)
	}

	mu := e.marketLock(market.ID)
	mu.Lock()
	defer mu.Unlock()

	reserveAsset, reserve, err := e.requiredReserve(ctx, market, req.Side, req.Type, req.Price, req.Quantity)
	if err != nil {
		return PlaceOrderResult{}, err
	}

	account, err := e.store.GetOrCreateAccount(ctx, req.UserID, reserveAsset)
	if err != nil {
		return PlaceOrderResult{}, err
	}

	now := time.Now().UTC()
	order := models.Order{
		ID:        uuid.New(),
		Market:    market.ID,
		UserID:    req.UserID,
		Side:      req.Side,
		Type:      req.Type,
		Price:     req.Price,
		Quantity:  req.Quantity,
		Remaining: req.Quantity,
		CreatedAt: now,
		UpdatedAt: now,
	}
	hold := models.Hold{
		ID:        uuid.New(),
		AccountID: account.ID,
		Amount:    reserve,
		Remaining: reserve,
		Status:    models.HoldActive,
		Reference: "order:" + order.ID.String(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	order.HoldID = hold.ID

	unlock := e.ledger.LockAccounts(account.ID)
	available, err := e.ledger.Available(ctx, account.ID)
	if err != nil {
		unlock()
		return PlaceOrderResult{}, err
	}
	if reserve.Cmp(available) > 0 {
		unlock()
		return PlaceOrderResult{}, errs.New(errs.CodeInsufficientBalance,
			"reserve of %s %s exceeds available %s", reserve, reserveAsset, available)
	}
	err = e.store.SaveOrderWithHold(ctx, order, hold)
	unlock()
	if err != nil {
		return PlaceOrderResult{}, err
	}

	fills, err := e.matchAndSettle(ctx, market, &order)
	result := PlaceOrderResult{Order: order, Fills: fills}
	if err != nil {
		return result, err
	}

	e.publishOrderStatus(order)
	return result, nil
}

// matchAndSettle runs read-plan-settle passes for the taker. A pass that
// stops at the fill cap with the taker still crossing is followed by another
// pass; each pass commits its own settlement batch.
func (e *Engine) matchAndSettle(ctx context.Context, market models.Market, taker *models.Order) ([]models.Execution, error) {
	var fills []models.Execution
	opposite := models.SideSell
	if taker.Side == models.SideSell {
		opposite = models.SideBuy
	}

	for taker.Remaining.IsPositive() {
		makers, err := e.store.RestingOrders(ctx, market.ID, opposite)
		if err != nil {
			return fills, err
		}
		plan := Match(*taker, makers, e.cfg.MaxFillsPerPass)
		if len(plan.Fills) == 0 {
			break
		}

		execs, err := e.settle(ctx, market, taker, makers, plan)
		if err != nil {
			return fills, err
		}
		fills = append(fills, execs...)

		if !plan.CapReached {
			break
		}
	}
	return fills, nil
}

// CancelOrder cancels the unfilled remainder of an order the user owns and
// releases its hold. Terminal orders cannot be canceled.
func (e *Engine) CancelOrder(ctx context.Context, orderID uuid.UUID, userID string) (models.Order, error) {
	order, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return models.Order{}, err
	}
	if order.UserID != userID {
		return models.Order{}, errs.New(errs.CodeUnauthorized, "order %s is not owned by %s", orderID, userID)
	}

	mu := e.marketLock(order.Market)
	mu.Lock()
	defer mu.Unlock()

	order, err = e.store.GetOrder(ctx, orderID)
	if err != nil {
		return models.Order{}, err
	}
	if order.Terminal() {
		return models.Order{}, errs.New(errs.CodeOrderState,
			"order %s is already %s", orderID, order.Status())
	}

	hold, err := e.store.GetHold(ctx, order.HoldID)
	if err != nil {
		return models.Order{}, err
	}

	now := time.Now().UTC()
	order.Canceled = true
	order.UpdatedAt = now
	hold.Status = models.HoldReleased
	hold.UpdatedAt = now

	unlock := e.ledger.LockAccounts(hold.AccountID)
	err = e.store.ApplySettlement(ctx, models.SettlementBatch{
		OrderUpdate: []models.Order{order},
		HoldUpdates: []models.Hold{hold},
	})
	unlock()
	if err != nil {
		return models.Order{}, err
	}

	e.publishOrderStatus(order)
	return order, nil
}

// publish delivers an event without blocking the caller; failures are
// logged, never propagated.
func (e *Engine) publish(topic string, event any) {
	if e.pub == nil {
		return
	}
	go func() {
		if err := e.pub.Publish(topic, event); err != nil {
			e.log.Error("event publish failed", "topic", topic, "error", err)
		}
	}()
}

func (e *Engine) publishOrderStatus(order models.Order) {
	e.publish(TopicOrderStatusChanged, events.OrderStatusChanged{
		OrderID:    order.ID,
		Market:     order.Market,
		UserID:     order.UserID,
		Status:     order.Status(),
		Remaining:  order.Remaining,
		OccurredAt: time.Now().UTC(),
	})
}
