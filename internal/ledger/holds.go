package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/bitmint/exchange-core/internal/amount"
	"github.com/bitmint/exchange-core/internal/errs"
	"github.com/bitmint/exchange-core/internal/models"
)

// CreateHold reserves amt of the account's available balance. The check and
// the insert run under the account lock so two concurrent holds cannot both
// observe sufficient funds.
func (l *Ledger) CreateHold(ctx context.Context, accountID uuid.UUID, amt amount.Amount, reference string) (models.Hold, error) {
	if !amt.IsPositive() {
		return models.Hold{}, errs.New(errs.CodeInvalidInput, "hold amount must be positive")
	}

	mu := l.accountLock(accountID)
	mu.Lock()
	defer mu.Unlock()

	available, err := l.Available(ctx, accountID)
	if err != nil {
		return models.Hold{}, err
	}
	if amt.Cmp(available) > 0 {
		return models.Hold{}, errs.New(errs.CodeInsufficientBalance,
			"hold of %s exceeds available %s", amt, available)
	}

	now := time.Now().UTC()
	hold := models.Hold{
		ID:        uuid.New(),
		AccountID: accountID,
		Amount:    amt,
		Remaining: amt,
		Status:    models.HoldActive,
		Reference: reference,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := l.store.SaveHold(ctx, hold); err != nil {
		return models.Hold{}, err
	}
	return hold, nil
}

// ReleaseHold returns the hold's remainder to the available balance.
// Releasing an already-released hold is a no-op, so upstream retries are
// safe.
func (l *Ledger) ReleaseHold(ctx context.Context, holdID uuid.UUID) error {
	hold, err := l.store.GetHold(ctx, holdID)
	if err != nil {
		return err
	}

	mu := l.accountLock(hold.AccountID)
	mu.Lock()
	defer mu.Unlock()

	hold, err = l.store.GetHold(ctx, holdID)
	if err != nil {
		return err
	}
	if hold.Status == models.HoldReleased {
		return nil
	}
	hold.Status = models.HoldReleased
	hold.UpdatedAt = time.Now().UTC()
	return l.store.UpdateHold(ctx, hold)
}

// ConsumeHold permanently spends amt of the hold's remainder. The remainder
// is clamped at zero; a fully consumed hold terminates as released.
func (l *Ledger) ConsumeHold(ctx context.Context, holdID uuid.UUID, amt amount.Amount) (models.Hold, error) {
	if amt.IsNegative() {
		return models.Hold{}, errs.New(errs.CodeInvalidInput, "consume amount must not be negative")
	}

	hold, err := l.store.GetHold(ctx, holdID)
	if err != nil {
		return models.Hold{}, err
	}

	mu := l.accountLock(hold.AccountID)
	mu.Lock()
	defer mu.Unlock()

	hold, err = l.store.GetHold(ctx, holdID)
	if err != nil {
		return models.Hold{}, err
	}
	if hold.Status != models.HoldActive {
		return models.Hold{}, errs.New(errs.CodeUnbalancedEntry,
			"consume on released hold %s", holdID)
	}
	hold.Remaining = hold.Remaining.SubFloor(amt)
	if hold.Remaining.IsZero() {
		hold.Status = models.HoldReleased
	}
	hold.UpdatedAt = time.Now().UTC()
	if err := l.store.UpdateHold(ctx, hold); err != nil {
		return models.Hold{}, err
	}
	return hold, nil
}
