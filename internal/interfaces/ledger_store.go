package interfaces

import (
	"context"

	"github.com/google/uuid"

	"github.com/bitmint/exchange-core/internal/models"
)

// LedgerStore persists accounts, journal entries and holds. SaveEntry must
// write the entry and all of its lines atomically; implementations also
// re-check the per-asset zero-sum invariant as defense in depth.
type LedgerStore interface {
	GetOrCreateAccount(ctx context.Context, userID, asset string) (models.Account, error)
	GetAccount(ctx context.Context, id uuid.UUID) (models.Account, error)
	AccountsByUser(ctx context.Context, userID string) ([]models.Account, error)

	SaveEntry(ctx context.Context, entry models.JournalEntry) error
	EntryExists(ctx context.Context, reference string) (bool, error)
	LinesByAccount(ctx context.Context, accountID uuid.UUID) ([]models.JournalLine, error)

	SaveHold(ctx context.Context, hold models.Hold) error
	GetHold(ctx context.Context, id uuid.UUID) (models.Hold, error)
	UpdateHold(ctx context.Context, hold models.Hold) error
	ActiveHoldsByAccount(ctx context.Context, accountID uuid.UUID) ([]models.Hold, error)
}
