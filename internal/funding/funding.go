// Package funding is the ledger client used by deposit and withdrawal
// ingestion. It posts balanced entries against the omnibus treasury account
// and deduplicates by external transaction hash, since chain watchers retry.
package funding

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/bitmint/exchange-core/internal/amount"
	"github.com/bitmint/exchange-core/internal/errs"
	"github.com/bitmint/exchange-core/internal/interfaces"
	"github.com/bitmint/exchange-core/internal/ledger"
	"github.com/bitmint/exchange-core/internal/models"
	"github.com/bitmint/exchange-core/internal/models/events"
)

const TopicWithdrawalBroadcast = "withdrawal_broadcast"

type Service struct {
	store  interfaces.Store
	ledger *ledger.Ledger
	pub    interfaces.EventPublisher
}

func New(store interfaces.Store, led *ledger.Ledger, pub interfaces.EventPublisher) *Service {
	return &Service{store: store, ledger: led, pub: pub}
}

// Deposit credits a confirmed on-chain deposit to the user. One entry is
// posted per transaction hash; replays are no-ops.
func (s *Service) Deposit(ctx context.Context, userID, asset string, amt amount.Amount, txHash string) error {
	if !amt.IsPositive() {
		return errs.New(errs.CodeInvalidInput, "deposit amount must be positive")
	}
	if txHash == "" {
		return errs.New(errs.CodeInvalidInput, "deposit requires a transaction hash")
	}

	reference := "deposit:" + txHash
	exists, err := s.store.EntryExists(ctx, reference)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	userAcct, err := s.store.GetOrCreateAccount(ctx, userID, asset)
	if err != nil {
		return err
	}
	treasury, err := s.store.GetOrCreateAccount(ctx, models.SystemTreasuryUser, asset)
	if err != nil {
		return err
	}

	entryID := uuid.New()
	return s.ledger.PostEntry(ctx, models.JournalEntry{
		ID:        entryID,
		Type:      models.EntryDeposit,
		Reference: reference,
		Metadata:  map[string]string{"tx_hash": txHash},
		CreatedAt: time.Now().UTC(),
		Lines: []models.JournalLine{
			{ID: uuid.New(), EntryID: entryID, AccountID: treasury.ID, Asset: asset, Amount: amt.Neg()},
			{ID: uuid.New(), EntryID: entryID, AccountID: userAcct.ID, Asset: asset, Amount: amt},
		},
	})
}

// RequestWithdrawal reserves the amount with a hold; nothing is debited
// until the transaction is broadcast.
func (s *Service) RequestWithdrawal(ctx context.Context, userID, asset string, amt amount.Amount) (models.Hold, error) {
	acct, err := s.store.GetOrCreateAccount(ctx, userID, asset)
	if err != nil {
		return models.Hold{}, err
	}
	return s.ledger.CreateHold(ctx, acct.ID, amt, "withdrawal:"+userID)
}

// ConfirmWithdrawal posts the withdrawal debit and terminates the hold in
// one settlement batch once the transaction is broadcast. Entry and hold
// commit together, so a retry after a failure either sees the committed
// entry via the dedup check or redoes both. Deduplicated per transaction
// hash.
func (s *Service) ConfirmWithdrawal(ctx context.Context, holdID uuid.UUID, txHash string) error {
	if txHash == "" {
		return errs.New(errs.CodeInvalidInput, "withdrawal requires a transaction hash")
	}

	reference := "withdrawal:" + txHash
	exists, err := s.store.EntryExists(ctx, reference)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	hold, err := s.store.GetHold(ctx, holdID)
	if err != nil {
		return err
	}
	if hold.Status != models.HoldActive {
		return errs.New(errs.CodeOrderState, "withdrawal hold %s is already released", holdID)
	}
	acct, err := s.store.GetAccount(ctx, hold.AccountID)
	if err != nil {
		return err
	}
	treasury, err := s.store.GetOrCreateAccount(ctx, models.SystemTreasuryUser, acct.Asset)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	debit := hold.Remaining
	entryID := uuid.New()
	entry := models.JournalEntry{
		ID:        entryID,
		Type:      models.EntryWithdrawal,
		Reference: reference,
		Metadata:  map[string]string{"tx_hash": txHash},
		CreatedAt: now,
		Lines: []models.JournalLine{
			{ID: uuid.New(), EntryID: entryID, AccountID: acct.ID, Asset: acct.Asset, Amount: debit.Neg()},
			{ID: uuid.New(), EntryID: entryID, AccountID: treasury.ID, Asset: acct.Asset, Amount: debit},
		},
	}
	hold.Remaining = amount.Zero()
	hold.Status = models.HoldReleased
	hold.UpdatedAt = now

	unlock := s.ledger.LockAccounts(acct.ID)
	err = s.store.ApplySettlement(ctx, models.SettlementBatch{
		Entries:     []models.JournalEntry{entry},
		HoldUpdates: []models.Hold{hold},
	})
	unlock()
	if err != nil {
		return err
	}

	if s.pub != nil {
		event := events.WithdrawalBroadcast{
			HoldID:     holdID,
			UserID:     acct.UserID,
			Asset:      acct.Asset,
			Amount:     debit,
			TxHash:     txHash,
			OccurredAt: time.Now().UTC(),
		}
		go func() {
			_ = s.pub.Publish(TopicWithdrawalBroadcast, event)
		}()
	}
	return nil
}

// CancelWithdrawal releases the hold; safe to retry.
func (s *Service) CancelWithdrawal(ctx context.Context, holdID uuid.UUID) error {
	return s.ledger.ReleaseHold(ctx, holdID)
}
