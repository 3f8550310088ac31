package engine

import (
	"context"

	"github.com/bitmint/exchange-core/internal/amount"
	"github.com/bitmint/exchange-core/internal/errs"
	"github.com/bitmint/exchange-core/internal/models"
)

// requiredReserve computes the hold that must back an order before it is
// accepted, and the asset the hold is taken in.
//
//   - buy limit: ceil(price×qty) plus a fee buffer at the maximum configured
//     fee rate, in the quote asset
//   - sell (limit or market): the quantity itself, in the base asset
//   - market buy: worst-case cost from walking the current resting asks,
//     plus fee and slippage buffers, in the quote asset
func (e *Engine) requiredReserve(ctx context.Context, market models.Market, side models.OrderSide, typ models.OrderType, price, qty amount.Amount) (string, amount.Amount, error) {
	if side == models.SideSell {
		if typ == models.TypeMarket {
			if err := e.checkBidCoverage(ctx, market, qty); err != nil {
				return "", amount.Zero(), err
			}
		}
		return market.BaseAsset, qty, nil
	}

	if typ == models.TypeLimit {
		cost := price.MulCeil(qty)
		fee := cost.MulCeil(e.cfg.MaxFeeRate)
		return market.QuoteAsset, cost.Add(fee), nil
	}

	cost, err := e.marketBuyCost(ctx, market, qty)
	if err != nil {
		return "", amount.Zero(), err
	}
	buffered := cost.MulCeil(one.Add(e.cfg.MaxFeeRate)).MulCeil(one.Add(e.cfg.SlippageBuffer))
	return market.QuoteAsset, buffered, nil
}

var one = amount.MustParse("1")

// marketBuyCost walks the resting asks best-first and accumulates the
// worst-case cost of filling qty. If the book cannot cover the full
// quantity at any price, the order is rejected before a hold is attempted.
func (e *Engine) marketBuyCost(ctx context.Context, market models.Market, qty amount.Amount) (amount.Amount, error) {
	asks, err := e.store.RestingOrders(ctx, market.ID, models.SideSell)
	if err != nil {
		return amount.Zero(), err
	}

	need := qty
	cost := amount.Zero()
	for _, ask := range sortMakers(models.SideBuy, asks) {
		if !need.IsPositive() {
			break
		}
		take := amount.Min(need, ask.Remaining)
		cost = cost.Add(ask.Price.MulCeil(take))
		need = need.SubFloor(take)
	}
	if need.IsPositive() {
		return amount.Zero(), errs.New(errs.CodeLiquidityUnavailable,
			"resting liquidity covers only %s of %s %s", qty.Sub(need), qty, market.BaseAsset)
	}
	return cost, nil
}

// checkBidCoverage rejects a market sell the resting bids cannot absorb, so
// a market order never rests on the book.
func (e *Engine) checkBidCoverage(ctx context.Context, market models.Market, qty amount.Amount) error {
	bids, err := e.store.RestingOrders(ctx, market.ID, models.SideBuy)
	if err != nil {
		return err
	}
	need := qty
	for _, bid := range bids {
		need = need.SubFloor(bid.Remaining)
		if !need.IsPositive() {
			return nil
		}
	}
	return errs.New(errs.CodeLiquidityUnavailable,
		"resting liquidity covers only %s of %s %s", qty.Sub(need), qty, market.BaseAsset)
}
