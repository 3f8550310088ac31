package engine

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitmint/exchange-core/internal/amount"
	"github.com/bitmint/exchange-core/internal/models"
)

func limitOrder(side models.OrderSide, price, qty string, age time.Duration) models.Order {
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).Add(-age)
	return models.Order{
		ID:        uuid.New(),
		Market:    "BTC-USDT",
		UserID:    "maker",
		Side:      side,
		Type:      models.TypeLimit,
		Price:     amount.MustParse(price),
		Quantity:  amount.MustParse(qty),
		Remaining: amount.MustParse(qty),
		HoldID:    uuid.New(),
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func marketOrder(side models.OrderSide, qty string) models.Order {
	o := limitOrder(side, "1", qty, 0)
	o.Type = models.TypeMarket
	o.Price = amount.Zero()
	return o
}

// Taker buy limit at 100 for 10 against an older ask A 4@99 and a newer ask
// B 10@100: A fills first at its own price, then B partially.
func TestMatchPriceTimePriority(t *testing.T) {
	t.Parallel()

	askA := limitOrder(models.SideSell, "99", "4", time.Minute)
	askB := limitOrder(models.SideSell, "100", "10", 0)
	taker := limitOrder(models.SideBuy, "100", "10", 0)

	plan := Match(taker, []models.Order{askB, askA}, 100)

	require.Len(t, plan.Fills, 2)
	assert.Equal(t, askA.ID, plan.Fills[0].MakerOrderID)
	assert.Equal(t, "99", plan.Fills[0].Price.String())
	assert.Equal(t, "4", plan.Fills[0].Quantity.String())
	assert.Equal(t, askB.ID, plan.Fills[1].MakerOrderID)
	assert.Equal(t, "100", plan.Fills[1].Price.String())
	assert.Equal(t, "6", plan.Fills[1].Quantity.String())

	assert.True(t, plan.TakerRemaining.IsZero())
	assert.Equal(t, "0", plan.MakerRemaining[askA.ID].String())
	assert.Equal(t, "4", plan.MakerRemaining[askB.ID].String())
	assert.False(t, plan.CapReached)
}

// Market buy for 12 against asks 5@99, 5@100, 5@101 fills 5, 5 and 2. The
// synthetic extreme price must never surface as an execution price.
func TestMatchMarketBuyWalksBook(t *testing.T) {
	t.Parallel()

	asks := []models.Order{
		limitOrder(models.SideSell, "101", "5", time.Minute),
		limitOrder(models.SideSell, "99", "5", 3*time.Minute),
		limitOrder(models.SideSell, "100", "5", 2*time.Minute),
	}
	taker := marketOrder(models.SideBuy, "12")

	plan := Match(taker, asks, 100)

	require.Len(t, plan.Fills, 3)
	assert.Equal(t, "99", plan.Fills[0].Price.String())
	assert.Equal(t, "5", plan.Fills[0].Quantity.String())
	assert.Equal(t, "100", plan.Fills[1].Price.String())
	assert.Equal(t, "5", plan.Fills[1].Quantity.String())
	assert.Equal(t, "101", plan.Fills[2].Price.String())
	assert.Equal(t, "2", plan.Fills[2].Quantity.String())
	assert.True(t, plan.TakerRemaining.IsZero())

	for _, fill := range plan.Fills {
		assert.NotEqual(t, 0, fill.Price.Cmp(amount.MaxPrice()))
	}
}

func TestMatchStopsAtFirstNonCrossingMaker(t *testing.T) {
	t.Parallel()

	asks := []models.Order{
		limitOrder(models.SideSell, "100", "5", time.Minute),
		limitOrder(models.SideSell, "101", "5", 0),
	}
	taker := limitOrder(models.SideBuy, "100", "10", 0)

	plan := Match(taker, asks, 100)

	require.Len(t, plan.Fills, 1)
	assert.Equal(t, "100", plan.Fills[0].Price.String())
	assert.Equal(t, "5", plan.TakerRemaining.String())
}

func TestMatchSellTakerCrossesHighestBidFirst(t *testing.T) {
	t.Parallel()

	bids := []models.Order{
		limitOrder(models.SideBuy, "98", "3", time.Minute),
		limitOrder(models.SideBuy, "100", "3", 0),
	}
	taker := limitOrder(models.SideSell, "99", "4", 0)

	plan := Match(taker, bids, 100)

	require.Len(t, plan.Fills, 1)
	assert.Equal(t, "100", plan.Fills[0].Price.String())
	assert.Equal(t, "3", plan.Fills[0].Quantity.String())
	assert.Equal(t, "1", plan.TakerRemaining.String())
}

func TestMatchEqualPricesFillInCreationOrder(t *testing.T) {
	t.Parallel()

	older := limitOrder(models.SideSell, "100", "2", time.Hour)
	newer := limitOrder(models.SideSell, "100", "2", 0)
	taker := limitOrder(models.SideBuy, "100", "3", 0)

	plan := Match(taker, []models.Order{newer, older}, 100)

	require.Len(t, plan.Fills, 2)
	assert.Equal(t, older.ID, plan.Fills[0].MakerOrderID)
	assert.Equal(t, "2", plan.Fills[0].Quantity.String())
	assert.Equal(t, newer.ID, plan.Fills[1].MakerOrderID)
	assert.Equal(t, "1", plan.Fills[1].Quantity.String())
}

func TestMatchFillCapLeavesRemainderOpen(t *testing.T) {
	t.Parallel()

	asks := []models.Order{
		limitOrder(models.SideSell, "99", "1", 3*time.Minute),
		limitOrder(models.SideSell, "99", "1", 2*time.Minute),
		limitOrder(models.SideSell, "99", "1", time.Minute),
	}
	taker := limitOrder(models.SideBuy, "100", "3", 0)

	plan := Match(taker, asks, 2)

	require.Len(t, plan.Fills, 2)
	assert.True(t, plan.CapReached)
	assert.Equal(t, "1", plan.TakerRemaining.String())
}

func TestMatchIsDeterministic(t *testing.T) {
	t.Parallel()

	asks := []models.Order{
		limitOrder(models.SideSell, "101", "5", time.Minute),
		limitOrder(models.SideSell, "99", "2", 2*time.Minute),
		limitOrder(models.SideSell, "100", "7", 0),
	}
	taker := limitOrder(models.SideBuy, "101", "10", 0)

	first := Match(taker, asks, 100)
	for i := 0; i < 5; i++ {
		again := Match(taker, asks, 100)
		require.Equal(t, len(first.Fills), len(again.Fills))
		for j := range first.Fills {
			assert.Equal(t, first.Fills[j].MakerOrderID, again.Fills[j].MakerOrderID)
			assert.Equal(t, 0, first.Fills[j].Price.Cmp(again.Fills[j].Price))
			assert.Equal(t, 0, first.Fills[j].Quantity.Cmp(again.Fills[j].Quantity))
		}
	}

	// Consecutive fills never regress in price priority.
	for j := 1; j < len(first.Fills); j++ {
		assert.LessOrEqual(t, first.Fills[j-1].Price.Cmp(first.Fills[j].Price), 0)
	}
}

func TestMatchNoCrossProducesNoFills(t *testing.T) {
	t.Parallel()

	asks := []models.Order{limitOrder(models.SideSell, "105", "5", 0)}
	taker := limitOrder(models.SideBuy, "100", "5", 0)

	plan := Match(taker, asks, 100)
	assert.Empty(t, plan.Fills)
	assert.Equal(t, "5", plan.TakerRemaining.String())
}
