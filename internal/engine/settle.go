package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/bitmint/exchange-core/internal/errs"
	"github.com/bitmint/exchange-core/internal/ledger"
	"github.com/bitmint/exchange-core/internal/models"
	"github.com/bitmint/exchange-core/internal/models/events"
)

// settle applies one matching plan transactionally: per fill it posts a
// balanced trade entry, consumes both parties' holds, updates both orders
// and appends an execution row. The whole batch commits or none of it does;
// on success the taker is updated in place.
func (e *Engine) settle(ctx context.Context, market models.Market, taker *models.Order, makers []models.Order, plan Plan) ([]models.Execution, error) {
	makerByID := make(map[uuid.UUID]models.Order, len(makers))
	for _, m := range makers {
		makerByID[m.ID] = m
	}

	now := time.Now().UTC()
	accounts := make(map[string]models.Account)
	holds := make(map[uuid.UUID]*models.Hold)
	touchedMakers := make(map[uuid.UUID]*models.Order)

	loadHold := func(id uuid.UUID) (*models.Hold, error) {
		if h, ok := holds[id]; ok {
			return h, nil
		}
		h, err := e.store.GetHold(ctx, id)
		if err != nil {
			return nil, err
		}
		holds[id] = &h
		return &h, nil
	}

	var entries []models.JournalEntry
	var executions []models.Execution

	for _, fill := range plan.Fills {
		maker, ok := makerByID[fill.MakerOrderID]
		if !ok {
			return nil, errs.New(errs.CodeUnbalancedEntry, "plan references unknown maker %s", fill.MakerOrderID)
		}
		if _, seen := touchedMakers[maker.ID]; !seen {
			m := maker
			touchedMakers[maker.ID] = &m
		}

		buyer, seller := taker, touchedMakers[maker.ID]
		buyerRate, sellerRate := market.TakerFeeRate, market.MakerFeeRate
		if taker.Side == models.SideSell {
			buyer, seller = touchedMakers[maker.ID], taker
			buyerRate, sellerRate = market.MakerFeeRate, market.TakerFeeRate
		}

		cost := fill.Price.MulBankers(fill.Quantity)
		buyerFee := cost.MulCeil(buyerRate)
		sellerFee := cost.MulCeil(sellerRate)

		buyerQuote, err := e.account(ctx, accounts, buyer.UserID, market.QuoteAsset)
		if err != nil {
			return nil, err
		}
		buyerBase, err := e.account(ctx, accounts, buyer.UserID, market.BaseAsset)
		if err != nil {
			return nil, err
		}
		sellerQuote, err := e.account(ctx, accounts, seller.UserID, market.QuoteAsset)
		if err != nil {
			return nil, err
		}
		sellerBase, err := e.account(ctx, accounts, seller.UserID, market.BaseAsset)
		if err != nil {
			return nil, err
		}
		feeQuote, err := e.account(ctx, accounts, models.SystemFeeUser, market.QuoteAsset)
		if err != nil {
			return nil, err
		}

		exec := models.Execution{
			ID:           uuid.New(),
			Market:       market.ID,
			Price:        fill.Price,
			Quantity:     fill.Quantity,
			MakerOrderID: maker.ID,
			TakerOrderID: taker.ID,
			CreatedAt:    now,
		}
		executions = append(executions, exec)

		entry := models.JournalEntry{
			ID:        uuid.New(),
			Type:      models.EntryTrade,
			Reference: "trade:" + exec.ID.String(),
			Metadata: map[string]string{
				"market":      market.ID,
				"maker_order": maker.ID.String(),
				"taker_order": taker.ID.String(),
			},
			CreatedAt: now,
		}
		lines := []models.JournalLine{
			{ID: uuid.New(), EntryID: entry.ID, AccountID: buyerQuote.ID, Asset: market.QuoteAsset, Amount: cost.Add(buyerFee).Neg()},
		}
		if proceeds := cost.Sub(sellerFee); !proceeds.IsZero() {
			lines = append(lines, models.JournalLine{
				ID: uuid.New(), EntryID: entry.ID, AccountID: sellerQuote.ID, Asset: market.QuoteAsset, Amount: proceeds,
			})
		}
		if totalFee := buyerFee.Add(sellerFee); !totalFee.IsZero() {
			lines = append(lines, models.JournalLine{
				ID: uuid.New(), EntryID: entry.ID, AccountID: feeQuote.ID, Asset: market.QuoteAsset, Amount: totalFee,
			})
		}
		lines = append(lines,
			models.JournalLine{ID: uuid.New(), EntryID: entry.ID, AccountID: sellerBase.ID, Asset: market.BaseAsset, Amount: fill.Quantity.Neg()},
			models.JournalLine{ID: uuid.New(), EntryID: entry.ID, AccountID: buyerBase.ID, Asset: market.BaseAsset, Amount: fill.Quantity},
		)
		entry.Lines = lines
		entries = append(entries, entry)

		// Consume reserved funds: the buyer's quote hold by cost plus fee,
		// the seller's base hold by the filled quantity.
		buyerHold, err := loadHold(buyer.HoldID)
		if err != nil {
			return nil, err
		}
		sellerHold, err := loadHold(seller.HoldID)
		if err != nil {
			return nil, err
		}
		buyerHold.Remaining = buyerHold.Remaining.SubFloor(cost.Add(buyerFee))
		sellerHold.Remaining = sellerHold.Remaining.SubFloor(fill.Quantity)

		buyer.Remaining = buyer.Remaining.SubFloor(fill.Quantity)
		seller.Remaining = seller.Remaining.SubFloor(fill.Quantity)
	}

	// Filled orders terminate their hold, returning any over-reservation
	// (the buy-side fee buffer) to the available balance.
	finalizeHold := func(o *models.Order) error {
		h, err := loadHold(o.HoldID)
		if err != nil {
			return err
		}
		if o.Status() == models.OrderFilled || h.Remaining.IsZero() {
			h.Status = models.HoldReleased
		}
		return nil
	}
	if err := finalizeHold(taker); err != nil {
		return nil, err
	}
	for _, m := range touchedMakers {
		if err := finalizeHold(m); err != nil {
			return nil, err
		}
	}

	// Integrity gate: an unbalanced entry here is a bug, never retried.
	for _, entry := range entries {
		if err := ledger.ValidateBalanced(entry); err != nil {
			e.log.Error("settlement produced unbalanced entry", "entry", entry.ID, "error", err)
			return nil, err
		}
	}

	batch := models.SettlementBatch{
		Entries:    entries,
		Executions: executions,
	}
	taker.UpdatedAt = now
	batch.OrderUpdate = append(batch.OrderUpdate, *taker)
	accountIDs := make([]uuid.UUID, 0, len(accounts))
	for _, acct := range accounts {
		accountIDs = append(accountIDs, acct.ID)
	}
	for _, m := range touchedMakers {
		m.UpdatedAt = now
		batch.OrderUpdate = append(batch.OrderUpdate, *m)
	}
	for _, h := range holds {
		h.UpdatedAt = now
		batch.HoldUpdates = append(batch.HoldUpdates, *h)
	}

	unlock := e.ledger.LockAccounts(accountIDs...)
	err := e.store.ApplySettlement(ctx, batch)
	unlock()
	if err != nil {
		return nil, err
	}

	for _, exec := range executions {
		e.publish(TopicTradeExecuted, events.TradeExecuted{
			ExecutionID:  exec.ID,
			Market:       exec.Market,
			Price:        exec.Price,
			Quantity:     exec.Quantity,
			MakerOrderID: exec.MakerOrderID,
			TakerOrderID: exec.TakerOrderID,
			OccurredAt:   exec.CreatedAt,
		})
	}
	for _, m := range touchedMakers {
		e.publishOrderStatus(*m)
	}
	return executions, nil
}

// account resolves and caches the (user, asset) account for this batch.
func (e *Engine) account(ctx context.Context, cache map[string]models.Account, userID, asset string) (models.Account, error) {
	key := userID + "|" + asset
	if acct, ok := cache[key]; ok {
		return acct, nil
	}
	acct, err := e.store.GetOrCreateAccount(ctx, userID, asset)
	if err != nil {
		return models.Account{}, err
	}
	cache[key] = acct
	return acct, nil
}
