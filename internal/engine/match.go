package engine

import (
	"sort"

	"github.com/google/uuid"

	"github.com/bitmint/exchange-core/internal/amount"
	"github.com/bitmint/exchange-core/internal/models"
)

// Fill is one planned trade between the taker and a resting maker. Price is
// always the maker's quoted price; a taker with a better limit receives the
// improvement.
type Fill struct {
	MakerOrderID uuid.UUID
	MakerUserID  string
	MakerHoldID  uuid.UUID
	Price        amount.Amount
	Quantity     amount.Amount
}

// Plan is the output of one matching pass: the fills to settle plus the
// remaining quantities after applying them. CapReached reports that the pass
// stopped at the fill cap with the taker still open.
type Plan struct {
	Fills          []Fill
	TakerRemaining amount.Amount
	MakerRemaining map[uuid.UUID]amount.Amount
	CapReached     bool
}

// effectivePrice is the price used for crossing decisions. Market orders get
// a synthetic extreme limit so every resting opposite order crosses; the
// synthetic value never appears in a fill.
func effectivePrice(o models.Order) amount.Amount {
	if o.Type == models.TypeMarket {
		if o.Side == models.SideBuy {
			return amount.MaxPrice()
		}
		return amount.MinPrice()
	}
	return o.Price
}

// sortMakers orders candidates by strict price-time priority for the given
// taker side: best price first (lowest ask for a buy, highest bid for a
// sell), then earliest creation, then id as a stable final tie-break.
func sortMakers(takerSide models.OrderSide, makers []models.Order) []models.Order {
	sorted := make([]models.Order, len(makers))
	copy(sorted, makers)
	sort.Slice(sorted, func(i, j int) bool {
		pc := sorted[i].Price.Cmp(sorted[j].Price)
		if pc != 0 {
			if takerSide == models.SideBuy {
				return pc < 0
			}
			return pc > 0
		}
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].ID.String() < sorted[j].ID.String()
	})
	return sorted
}

func crosses(takerSide models.OrderSide, takerPrice, makerPrice amount.Amount) bool {
	if takerSide == models.SideBuy {
		return makerPrice.Cmp(takerPrice) <= 0
	}
	return makerPrice.Cmp(takerPrice) >= 0
}

// Match plans the fills for one taker against a snapshot of resting makers
// on the opposite side of the same market. It performs no I/O: identical
// inputs always produce identical plans.
//
// Because makers are sorted by priority, the crossing set is a prefix;
// matching stops at the first non-crossing maker, when the taker is
// exhausted, or when maxFills is reached. Any quantity still open after the
// cap stays open for a subsequent pass.
func Match(taker models.Order, makers []models.Order, maxFills int) Plan {
	plan := Plan{
		TakerRemaining: taker.Remaining,
		MakerRemaining: make(map[uuid.UUID]amount.Amount),
	}
	takerPrice := effectivePrice(taker)

	for _, maker := range sortMakers(taker.Side, makers) {
		if !plan.TakerRemaining.IsPositive() {
			break
		}
		if len(plan.Fills) >= maxFills {
			plan.CapReached = crosses(taker.Side, takerPrice, maker.Price)
			break
		}
		if !crosses(taker.Side, takerPrice, maker.Price) {
			break
		}
		if !maker.Remaining.IsPositive() {
			continue
		}

		qty := amount.Min(plan.TakerRemaining, maker.Remaining)
		plan.Fills = append(plan.Fills, Fill{
			MakerOrderID: maker.ID,
			MakerUserID:  maker.UserID,
			MakerHoldID:  maker.HoldID,
			Price:        maker.Price,
			Quantity:     qty,
		})
		plan.TakerRemaining = plan.TakerRemaining.SubFloor(qty)
		plan.MakerRemaining[maker.ID] = maker.Remaining.SubFloor(qty)
	}
	return plan
}
