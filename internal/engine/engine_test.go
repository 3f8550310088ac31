package engine_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitmint/exchange-core/internal/amount"
	"github.com/bitmint/exchange-core/internal/engine"
	"github.com/bitmint/exchange-core/internal/errs"
	"github.com/bitmint/exchange-core/internal/events"
	"github.com/bitmint/exchange-core/internal/funding"
	"github.com/bitmint/exchange-core/internal/ledger"
	"github.com/bitmint/exchange-core/internal/models"
	"github.com/bitmint/exchange-core/internal/storage/memory"
)

type env struct {
	store *memory.Store
	led   *ledger.Ledger
	eng   *engine.Engine
	fund  *funding.Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return newEnvWithCap(t, 100)
}

func newEnvWithCap(t *testing.T, maxFills int) *env {
	t.Helper()

	store := memory.NewStore()
	led := ledger.New(store)
	eng := engine.New(store, led, events.Noop{}, engine.Config{
		MaxFeeRate:      amount.MustParse("0.002"),
		SlippageBuffer:  amount.MustParse("0.01"),
		MaxFillsPerPass: maxFills,
	})
	fund := funding.New(store, led, events.Noop{})

	require.NoError(t, store.SaveMarket(context.Background(), models.Market{
		ID:           "BTC-USDT",
		BaseAsset:    "BTC",
		QuoteAsset:   "USDT",
		MakerFeeRate: amount.MustParse("0.001"),
		TakerFeeRate: amount.MustParse("0.002"),
		Enabled:      true,
	}))
	return &env{store: store, led: led, eng: eng, fund: fund}
}

func (e *env) deposit(t *testing.T, user, asset, amt string) {
	t.Helper()
	require.NoError(t, e.fund.Deposit(context.Background(), user, asset, amount.MustParse(amt), "tx-"+uuid.NewString()))
}

func (e *env) place(t *testing.T, user string, side models.OrderSide, typ models.OrderType, price, qty string) engine.PlaceOrderResult {
	t.Helper()

	p := amount.Zero()
	if price != "" {
		p = amount.MustParse(price)
	}
	result, err := e.eng.PlaceOrder(context.Background(), engine.PlaceOrderRequest{
		UserID:   user,
		Market:   "BTC-USDT",
		Side:     side,
		Type:     typ,
		Price:    p,
		Quantity: amount.MustParse(qty),
	})
	require.NoError(t, err)
	return result
}

func (e *env) balance(t *testing.T, user, asset string) models.BalanceView {
	t.Helper()

	views, err := e.led.Balances(context.Background(), user)
	require.NoError(t, err)
	for _, v := range views {
		if v.Asset == asset {
			return v
		}
	}
	return models.BalanceView{Asset: asset}
}

func TestPlaceOrderRestsWithoutLiquidity(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.deposit(t, "bob", "USDT", "2000")

	result := e.place(t, "bob", models.SideBuy, models.TypeLimit, "100", "10")
	assert.Equal(t, models.OrderOpen, result.Order.Status())
	assert.Empty(t, result.Fills)

	// Reserve = 1000 cost + 2 fee buffer at the 0.002 max rate.
	view := e.balance(t, "bob", "USDT")
	assert.Equal(t, "2000", view.Posted.String())
	assert.Equal(t, "1002", view.Held.String())
	assert.Equal(t, "998", view.Available.String())
}

// Taker buy limit 100 for 10; resting asks 4@99 (older) and 10@100 (newer).
// The taker fills 4@99 then 6@100, ends filled; maker B keeps 4 open.
func TestLimitTakerCrossesTwoMakers(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.deposit(t, "alice", "BTC", "20")
	e.deposit(t, "bob", "USDT", "2000")

	askA := e.place(t, "alice", models.SideSell, models.TypeLimit, "99", "4").Order
	askB := e.place(t, "alice", models.SideSell, models.TypeLimit, "100", "10").Order

	result := e.place(t, "bob", models.SideBuy, models.TypeLimit, "100", "10")
	require.Len(t, result.Fills, 2)
	assert.Equal(t, "99", result.Fills[0].Price.String())
	assert.Equal(t, "4", result.Fills[0].Quantity.String())
	assert.Equal(t, "100", result.Fills[1].Price.String())
	assert.Equal(t, "6", result.Fills[1].Quantity.String())
	assert.Equal(t, models.OrderFilled, result.Order.Status())
	assert.True(t, result.Order.Remaining.IsZero())

	ctx := context.Background()
	gotA, err := e.store.GetOrder(ctx, askA.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderFilled, gotA.Status())

	gotB, err := e.store.GetOrder(ctx, askB.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPartiallyFilled, gotB.Status())
	assert.Equal(t, "4", gotB.Remaining.String())

	// Buyer: paid 396 + 0.792 taker fee, then 600 + 1.2; hold remainder
	// returned on fill.
	bobUSDT := e.balance(t, "bob", "USDT")
	assert.Equal(t, "1002.008", bobUSDT.Posted.String())
	assert.True(t, bobUSDT.Held.IsZero())
	assert.Equal(t, "10", e.balance(t, "bob", "BTC").Posted.String())

	// Seller: proceeds net of the 0.001 maker fee; 4 BTC still held for
	// the open remainder of ask B.
	aliceUSDT := e.balance(t, "alice", "USDT")
	assert.Equal(t, "995.004", aliceUSDT.Posted.String())
	aliceBTC := e.balance(t, "alice", "BTC")
	assert.Equal(t, "10", aliceBTC.Posted.String())
	assert.Equal(t, "4", aliceBTC.Held.String())

	// Fee account collected both sides' fees.
	fees := e.balance(t, models.SystemFeeUser, "USDT")
	assert.Equal(t, "2.988", fees.Posted.String())
}

// Market buy 12 against asks 5@99, 5@100, 5@101: fills 5, 5 and 2; the
// synthetic extreme price never appears in executions.
func TestMarketBuyWalksTheBook(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.deposit(t, "alice", "BTC", "15")
	e.deposit(t, "bob", "USDT", "2000")

	e.place(t, "alice", models.SideSell, models.TypeLimit, "99", "5")
	e.place(t, "alice", models.SideSell, models.TypeLimit, "100", "5")
	e.place(t, "alice", models.SideSell, models.TypeLimit, "101", "5")

	result := e.place(t, "bob", models.SideBuy, models.TypeMarket, "", "12")
	require.Len(t, result.Fills, 3)
	assert.Equal(t, "99", result.Fills[0].Price.String())
	assert.Equal(t, "5", result.Fills[0].Quantity.String())
	assert.Equal(t, "100", result.Fills[1].Price.String())
	assert.Equal(t, "5", result.Fills[1].Quantity.String())
	assert.Equal(t, "101", result.Fills[2].Price.String())
	assert.Equal(t, "2", result.Fills[2].Quantity.String())
	assert.Equal(t, models.OrderFilled, result.Order.Status())

	for _, fill := range result.Fills {
		assert.NotEqual(t, 0, fill.Price.Cmp(amount.MaxPrice()))
	}

	execs, err := e.store.ExecutionsByMarket(context.Background(), "BTC-USDT", 0)
	require.NoError(t, err)
	for _, exec := range execs {
		assert.NotEqual(t, 0, exec.Price.Cmp(amount.MaxPrice()))
	}

	assert.Equal(t, "12", e.balance(t, "bob", "BTC").Posted.String())
	// 1197 notional + 2.394 in taker fees; slippage over-reserve returned.
	bobUSDT := e.balance(t, "bob", "USDT")
	assert.Equal(t, "800.606", bobUSDT.Posted.String())
	assert.True(t, bobUSDT.Held.IsZero())
}

func TestMarketBuyRejectedWithoutLiquidity(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.deposit(t, "alice", "BTC", "5")
	e.deposit(t, "bob", "USDT", "5000")

	// Empty book.
	_, err := e.eng.PlaceOrder(context.Background(), engine.PlaceOrderRequest{
		UserID: "bob", Market: "BTC-USDT", Side: models.SideBuy,
		Type: models.TypeMarket, Quantity: amount.MustParse("12"),
	})
	assert.True(t, errs.Is(err, errs.CodeLiquidityUnavailable))

	// Partially covered book is still a rejection, before any hold.
	e.place(t, "alice", models.SideSell, models.TypeLimit, "100", "5")
	_, err = e.eng.PlaceOrder(context.Background(), engine.PlaceOrderRequest{
		UserID: "bob", Market: "BTC-USDT", Side: models.SideBuy,
		Type: models.TypeMarket, Quantity: amount.MustParse("12"),
	})
	assert.True(t, errs.Is(err, errs.CodeLiquidityUnavailable))

	view := e.balance(t, "bob", "USDT")
	assert.True(t, view.Held.IsZero())
	assert.Equal(t, "5000", view.Available.String())
}

func TestMarketSellRejectedWithoutLiquidity(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.deposit(t, "alice", "BTC", "5")

	_, err := e.eng.PlaceOrder(context.Background(), engine.PlaceOrderRequest{
		UserID: "alice", Market: "BTC-USDT", Side: models.SideSell,
		Type: models.TypeMarket, Quantity: amount.MustParse("5"),
	})
	assert.True(t, errs.Is(err, errs.CodeLiquidityUnavailable))
}

func TestPlaceOrderInsufficientBalance(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.deposit(t, "bob", "USDT", "100")

	_, err := e.eng.PlaceOrder(context.Background(), engine.PlaceOrderRequest{
		UserID: "bob", Market: "BTC-USDT", Side: models.SideBuy,
		Type: models.TypeLimit, Price: amount.MustParse("100"), Quantity: amount.MustParse("10"),
	})
	assert.True(t, errs.Is(err, errs.CodeInsufficientBalance))

	// No order row was persisted.
	resting, err := e.store.RestingOrders(context.Background(), "BTC-USDT", models.SideBuy)
	require.NoError(t, err)
	assert.Empty(t, resting)
}

func TestPlaceOrderMarketDisabled(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	require.NoError(t, e.store.SaveMarket(context.Background(), models.Market{
		ID: "ETH-USDT", BaseAsset: "ETH", QuoteAsset: "USDT",
		MakerFeeRate: amount.MustParse("0.001"), TakerFeeRate: amount.MustParse("0.002"),
		Enabled: false,
	}))
	e.deposit(t, "bob", "USDT", "1000")

	_, err := e.eng.PlaceOrder(context.Background(), engine.PlaceOrderRequest{
		UserID: "bob", Market: "ETH-USDT", Side: models.SideBuy,
		Type: models.TypeLimit, Price: amount.MustParse("10"), Quantity: amount.MustParse("1"),
	})
	assert.True(t, errs.Is(err, errs.CodeMarketDisabled))
}

func TestPlaceOrderValidation(t *testing.T) {
	t.Parallel()
	e := newEnv(t)

	tests := []struct {
		name string
		req  engine.PlaceOrderRequest
	}{
		{"missing_user", engine.PlaceOrderRequest{Market: "BTC-USDT", Side: models.SideBuy, Type: models.TypeLimit, Price: amount.MustParse("1"), Quantity: amount.MustParse("1")}},
		{"bad_side", engine.PlaceOrderRequest{UserID: "bob", Market: "BTC-USDT", Side: "hold", Type: models.TypeLimit, Price: amount.MustParse("1"), Quantity: amount.MustParse("1")}},
		{"bad_type", engine.PlaceOrderRequest{UserID: "bob", Market: "BTC-USDT", Side: models.SideBuy, Type: "stop", Price: amount.MustParse("1"), Quantity: amount.MustParse("1")}},
		{"zero_quantity", engine.PlaceOrderRequest{UserID: "bob", Market: "BTC-USDT", Side: models.SideBuy, Type: models.TypeLimit, Price: amount.MustParse("1"), Quantity: amount.Zero()}},
		{"limit_without_price", engine.PlaceOrderRequest{UserID: "bob", Market: "BTC-USDT", Side: models.SideBuy, Type: models.TypeLimit, Quantity: amount.MustParse("1")}},
		{"market_with_price", engine.PlaceOrderRequest{UserID: "bob", Market: "BTC-USDT", Side: models.SideSell, Type: models.TypeMarket, Price: amount.MustParse("1"), Quantity: amount.MustParse("1")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.eng.PlaceOrder(context.Background(), tt.req)
			assert.True(t, errs.Is(err, errs.CodeInvalidInput), "got %v", err)
		})
	}
}

func TestCancelRestingOrderReleasesHold(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.deposit(t, "bob", "USDT", "2000")

	order := e.place(t, "bob", models.SideBuy, models.TypeLimit, "100", "10").Order

	canceled, err := e.eng.CancelOrder(context.Background(), order.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, models.OrderCanceled, canceled.Status())

	view := e.balance(t, "bob", "USDT")
	assert.True(t, view.Held.IsZero())
	assert.Equal(t, "2000", view.Available.String())

	// Cancel of an already-canceled order is a state conflict.
	_, err = e.eng.CancelOrder(context.Background(), order.ID, "bob")
	assert.True(t, errs.Is(err, errs.CodeOrderState))
}

func TestCancelRequiresOwnership(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.deposit(t, "bob", "USDT", "2000")

	order := e.place(t, "bob", models.SideBuy, models.TypeLimit, "100", "10").Order

	_, err := e.eng.CancelOrder(context.Background(), order.ID, "mallory")
	assert.True(t, errs.Is(err, errs.CodeUnauthorized))
}

// Cancel on a filled order fails with a state conflict and changes nothing.
func TestCancelFilledOrderFails(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.deposit(t, "alice", "BTC", "5")
	e.deposit(t, "bob", "USDT", "1000")

	ask := e.place(t, "alice", models.SideSell, models.TypeLimit, "100", "5").Order
	e.place(t, "bob", models.SideBuy, models.TypeLimit, "100", "5")

	ctx := context.Background()
	filled, err := e.store.GetOrder(ctx, ask.ID)
	require.NoError(t, err)
	require.Equal(t, models.OrderFilled, filled.Status())

	_, err = e.eng.CancelOrder(ctx, ask.ID, "alice")
	assert.True(t, errs.Is(err, errs.CodeOrderState))

	after, err := e.store.GetOrder(ctx, ask.ID)
	require.NoError(t, err)
	assert.True(t, after.Remaining.IsZero())

	hold, err := e.store.GetHold(ctx, ask.HoldID)
	require.NoError(t, err)
	assert.Equal(t, models.HoldReleased, hold.Status)
}

func TestPartialFillThenCancelReturnsRemainder(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.deposit(t, "alice", "BTC", "4")
	e.deposit(t, "bob", "USDT", "2000")

	e.place(t, "alice", models.SideSell, models.TypeLimit, "99", "4")
	result := e.place(t, "bob", models.SideBuy, models.TypeLimit, "100", "10")
	require.Equal(t, models.OrderPartiallyFilled, result.Order.Status())
	require.Equal(t, "6", result.Order.Remaining.String())

	canceled, err := e.eng.CancelOrder(context.Background(), result.Order.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, models.OrderCanceled, canceled.Status())

	// 396 notional + 0.792 taker fee was consumed; everything else is
	// available again.
	view := e.balance(t, "bob", "USDT")
	assert.True(t, view.Held.IsZero())
	assert.Equal(t, "1603.208", view.Available.String())
}

// outageStore fails a number of settlement batches to stand in for a
// transient storage outage.
type outageStore struct {
	*memory.Store
	failures int
}

func (s *outageStore) ApplySettlement(ctx context.Context, batch models.SettlementBatch) error {
	if s.failures > 0 {
		s.failures--
		return errs.New(errs.CodeUpstreamUnavailable, "storage unavailable")
	}
	return s.Store.ApplySettlement(ctx, batch)
}

// A settlement failure after the order is persisted must still hand the
// caller the order, so it can be canceled or left to match later.
func TestPlaceOrderReturnsOrderOnSettlementFailure(t *testing.T) {
	t.Parallel()
	store := &outageStore{Store: memory.NewStore()}
	led := ledger.New(store)
	eng := engine.New(store, led, events.Noop{}, engine.Config{
		MaxFeeRate:     amount.MustParse("0.002"),
		SlippageBuffer: amount.MustParse("0.01"),
	})
	fund := funding.New(store, led, events.Noop{})
	ctx := context.Background()

	require.NoError(t, store.SaveMarket(ctx, models.Market{
		ID: "BTC-USDT", BaseAsset: "BTC", QuoteAsset: "USDT",
		MakerFeeRate: amount.MustParse("0.001"), TakerFeeRate: amount.MustParse("0.002"),
		Enabled: true,
	}))
	require.NoError(t, fund.Deposit(ctx, "alice", "BTC", amount.MustParse("1"), "0xa"))
	require.NoError(t, fund.Deposit(ctx, "bob", "USDT", amount.MustParse("200"), "0xb"))

	_, err := eng.PlaceOrder(ctx, engine.PlaceOrderRequest{
		UserID: "alice", Market: "BTC-USDT", Side: models.SideSell,
		Type: models.TypeLimit, Price: amount.MustParse("100"), Quantity: amount.MustParse("1"),
	})
	require.NoError(t, err)

	store.failures = 1
	result, err := eng.PlaceOrder(ctx, engine.PlaceOrderRequest{
		UserID: "bob", Market: "BTC-USDT", Side: models.SideBuy,
		Type: models.TypeLimit, Price: amount.MustParse("100"), Quantity: amount.MustParse("1"),
	})
	require.Error(t, err)
	require.NotEqual(t, uuid.Nil, result.Order.ID)
	assert.Empty(t, result.Fills)

	// The order survived the failed pass and is still cancelable.
	got, err := store.GetOrder(ctx, result.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderOpen, got.Status())

	canceled, err := eng.CancelOrder(ctx, result.Order.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, models.OrderCanceled, canceled.Status())
}

// A fill cap smaller than the crossing set triggers follow-up passes in the
// same request until the taker is done.
func TestFillCapRunsFollowUpPasses(t *testing.T) {
	t.Parallel()
	e := newEnvWithCap(t, 1)
	e.deposit(t, "alice", "BTC", "3")
	e.deposit(t, "bob", "USDT", "1000")

	e.place(t, "alice", models.SideSell, models.TypeLimit, "99", "1")
	e.place(t, "alice", models.SideSell, models.TypeLimit, "99", "1")
	e.place(t, "alice", models.SideSell, models.TypeLimit, "99", "1")

	result := e.place(t, "bob", models.SideBuy, models.TypeLimit, "100", "3")
	assert.Len(t, result.Fills, 3)
	assert.Equal(t, models.OrderFilled, result.Order.Status())
}

// remaining_quantity never increases and never goes negative across a
// multi-fill lifecycle.
func TestRemainingQuantityMonotone(t *testing.T) {
	t.Parallel()
	e := newEnv(t)
	e.deposit(t, "alice", "BTC", "10")
	e.deposit(t, "bob", "USDT", "5000")

	ask := e.place(t, "alice", models.SideSell, models.TypeLimit, "100", "10").Order
	prev := ask.Remaining

	for i := 0; i < 3; i++ {
		e.place(t, "bob", models.SideBuy, models.TypeLimit, "100", "3")
		got, err := e.store.GetOrder(context.Background(), ask.ID)
		require.NoError(t, err)
		assert.LessOrEqual(t, got.Remaining.Cmp(prev), 0)
		assert.False(t, got.Remaining.IsNegative())
		prev = got.Remaining
	}
	got, err := e.store.GetOrder(context.Background(), ask.ID)
	require.NoError(t, err)
	assert.Equal(t, "1", got.Remaining.String())
}
