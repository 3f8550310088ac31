// Package ledger implements the double-entry accounting core: balanced
// journal posting, balances derived from journal lines, and the hold
// manager that reserves funds for orders and withdrawals.
package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/bitmint/exchange-core/internal/amount"
	"github.com/bitmint/exchange-core/internal/errs"
	"github.com/bitmint/exchange-core/internal/interfaces"
	"github.com/bitmint/exchange-core/internal/models"
)

// Ledger is the system of record for balances. It holds a mutex per account
// so every check-then-write on one account is serialized.
type Ledger struct {
	store interfaces.LedgerStore
	muMap map[uuid.UUID]*sync.Mutex
	mapMu sync.Mutex
}

func New(store interfaces.LedgerStore) *Ledger {
	return &Ledger{
		store: store,
		muMap: make(map[uuid.UUID]*sync.Mutex),
	}
}

func (l *Ledger) accountLock(accountID uuid.UUID) *sync.Mutex {
	l.mapMu.Lock()
	defer l.mapMu.Unlock()

	if _, exists := l.muMap[accountID]; !exists {
		l.muMap[accountID] = &sync.Mutex{}
	}
	return l.muMap[accountID]
}

// LockAccounts acquires the locks for every given account in a global order
// to avoid deadlocks, and returns the function that releases them. Duplicate
// ids are locked once.
func (l *Ledger) LockAccounts(ids ...uuid.UUID) (unlock func()) {
	seen := make(map[uuid.UUID]bool, len(ids))
	unique := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	sort.Slice(unique, func(i, j int) bool {
		return unique[i].String() < unique[j].String()
	})

	locks := make([]*sync.Mutex, len(unique))
	for i, id := range unique {
		locks[i] = l.accountLock(id)
		locks[i].Lock()
	}
	return func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}
}

// ValidateBalanced checks the double-entry invariant: for every asset an
// entry references, the signed line amounts sum to exactly zero.
func ValidateBalanced(entry models.JournalEntry) error {
	if len(entry.Lines) == 0 {
		return errs.New(errs.CodeInvalidInput, "journal entry has no lines")
	}
	sums := make(map[string]amount.Amount)
	for _, line := range entry.Lines {
		if line.Asset == "" {
			return errs.New(errs.CodeInvalidInput, "journal line missing asset")
		}
		if line.AccountID == uuid.Nil {
			return errs.New(errs.CodeInvalidInput, "journal line missing account")
		}
		if line.Amount.IsZero() {
			return errs.New(errs.CodeInvalidInput, "journal line amount is zero")
		}
		sums[line.Asset] = sums[line.Asset].Add(line.Amount)
	}
	for asset, sum := range sums {
		if !sum.IsZero() {
			return errs.New(errs.CodeUnbalancedEntry,
				"entry %s does not balance for asset %s: sum %s", entry.ID, asset, sum)
		}
	}
	return nil
}

// PostEntry atomically writes one journal entry with all of its lines. This
// is the only way balances change. Posting is not idempotent; callers that
// may retry must deduplicate by reference first (see funding).
func (l *Ledger) PostEntry(ctx context.Context, entry models.JournalEntry) error {
	if err := ValidateBalanced(entry); err != nil {
		return err
	}
	return l.store.SaveEntry(ctx, entry)
}

// AccountBalance derives one account's balance: posted is the sum of its
// journal lines, held the sum of its active hold remainders.
func (l *Ledger) AccountBalance(ctx context.Context, accountID uuid.UUID) (models.BalanceView, error) {
	acct, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return models.BalanceView{}, err
	}

	lines, err := l.store.LinesByAccount(ctx, accountID)
	if err != nil {
		return models.BalanceView{}, err
	}
	posted := amount.Zero()
	for _, line := range lines {
		posted = posted.Add(line.Amount)
	}

	holds, err := l.store.ActiveHoldsByAccount(ctx, accountID)
	if err != nil {
		return models.BalanceView{}, err
	}
	held := amount.Zero()
	for _, h := range holds {
		held = held.Add(h.Remaining)
	}

	return models.BalanceView{
		Asset:     acct.Asset,
		Posted:    posted,
		Held:      held,
		Available: posted.Sub(held),
	}, nil
}

// Available returns posted minus active holds for one account.
func (l *Ledger) Available(ctx context.Context, accountID uuid.UUID) (amount.Amount, error) {
	view, err := l.AccountBalance(ctx, accountID)
	if err != nil {
		return amount.Zero(), err
	}
	return view.Available, nil
}

// Balances derives the balance of every account the user owns.
func (l *Ledger) Balances(ctx context.Context, userID string) ([]models.BalanceView, error) {
	accounts, err := l.store.AccountsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	views := make([]models.BalanceView, 0, len(accounts))
	for _, acct := range accounts {
		view, err := l.AccountBalance(ctx, acct.ID)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}
