// Package memory is the in-memory implementation of interfaces.Store, used
// in tests and local development. One mutex guards all state; batches are
// validated in full before any mutation so a failed settlement leaves
// nothing behind.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bitmint/exchange-core/internal/errs"
	"github.com/bitmint/exchange-core/internal/interfaces"
	"github.com/bitmint/exchange-core/internal/ledger"
	"github.com/bitmint/exchange-core/internal/models"
)

type Store struct {
	mu sync.Mutex

	markets      map[string]models.Market
	accounts     map[uuid.UUID]models.Account
	accountByKey map[string]uuid.UUID
	entries      []models.JournalEntry
	entryRefs    map[string]bool
	lines        map[uuid.UUID][]models.JournalLine
	holds        map[uuid.UUID]models.Hold
	orders       map[uuid.UUID]models.Order
	executions   []models.Execution
}

func NewStore() *Store {
	return &Store{
		markets:      make(map[string]models.Market),
		accounts:     make(map[uuid.UUID]models.Account),
		accountByKey: make(map[string]uuid.UUID),
		entryRefs:    make(map[string]bool),
		lines:        make(map[uuid.UUID][]models.JournalLine),
		holds:        make(map[uuid.UUID]models.Hold),
		orders:       make(map[uuid.UUID]models.Order),
	}
}

func accountKey(userID, asset string) string {
	return userID + "|" + asset
}

func (s *Store) SaveMarket(ctx context.Context, m models.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markets[m.ID] = m
	return nil
}

func (s *Store) GetMarket(ctx context.Context, id string) (models.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[id]
	if !ok {
		return models.Market{}, errs.New(errs.CodeNotFound, "market %s not found", id)
	}
	return m, nil
}

func (s *Store) GetOrCreateAccount(ctx context.Context, userID, asset string) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.accountByKey[accountKey(userID, asset)]; ok {
		return s.accounts[id], nil
	}
	acct := models.Account{
		ID:        uuid.New(),
		UserID:    userID,
		Asset:     asset,
		CreatedAt: time.Now().UTC(),
	}
	s.accounts[acct.ID] = acct
	s.accountByKey[accountKey(userID, asset)] = acct.ID
	return acct, nil
}

func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return models.Account{}, errs.New(errs.CodeNotFound, "account %s not found", id)
	}
	return acct, nil
}

func (s *Store) AccountsByUser(ctx context.Context, userID string) ([]models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Account
	for _, acct := range s.accounts {
		if acct.UserID == userID {
			out = append(out, acct)
		}
	}
	return out, nil
}

// SaveEntry re-validates the per-asset zero-sum invariant before writing:
// the store is the last line of defense against an unbalanced entry.
func (s *Store) SaveEntry(ctx context.Context, entry models.JournalEntry) error {
	if err := ledger.ValidateBalanced(entry); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, line := range entry.Lines {
		if _, ok := s.accounts[line.AccountID]; !ok {
			return errs.New(errs.CodeNotFound, "journal line references unknown account %s", line.AccountID)
		}
	}
	s.applyEntryLocked(entry)
	return nil
}

func (s *Store) applyEntryLocked(entry models.JournalEntry) {
	s.entries = append(s.entries, entry)
	if entry.Reference != "" {
		s.entryRefs[entry.Reference] = true
	}
	for _, line := range entry.Lines {
		s.lines[line.AccountID] = append(s.lines[line.AccountID], line)
	}
}

func (s *Store) EntryExists(ctx context.Context, reference string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entryRefs[reference], nil
}

func (s *Store) LinesByAccount(ctx context.Context, accountID uuid.UUID) ([]models.JournalLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines := make([]models.JournalLine, len(s.lines[accountID]))
	copy(lines, s.lines[accountID])
	return lines, nil
}

func (s *Store) SaveHold(ctx context.Context, hold models.Hold) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holds[hold.ID] = hold
	return nil
}

func (s *Store) GetHold(ctx context.Context, id uuid.UUID) (models.Hold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hold, ok := s.holds[id]
	if !ok {
		return models.Hold{}, errs.New(errs.CodeNotFound, "hold %s not found", id)
	}
	return hold, nil
}

func (s *Store) UpdateHold(ctx context.Context, hold models.Hold) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.holds[hold.ID]; !ok {
		return errs.New(errs.CodeNotFound, "hold %s not found", hold.ID)
	}
	s.holds[hold.ID] = hold
	return nil
}

func (s *Store) ActiveHoldsByAccount(ctx context.Context, accountID uuid.UUID) ([]models.Hold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Hold
	for _, hold := range s.holds {
		if hold.AccountID == accountID && hold.Status == models.HoldActive {
			out = append(out, hold)
		}
	}
	return out, nil
}

func (s *Store) SaveOrderWithHold(ctx context.Context, order models.Order, hold models.Hold) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[hold.AccountID]; !ok {
		return errs.New(errs.CodeNotFound, "hold references unknown account %s", hold.AccountID)
	}
	s.holds[hold.ID] = hold
	s.orders[order.ID] = order
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id uuid.UUID) (models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[id]
	if !ok {
		return models.Order{}, errs.New(errs.CodeNotFound, "order %s not found", id)
	}
	return order, nil
}

func (s *Store) RestingOrders(ctx context.Context, market string, side models.OrderSide) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Order
	for _, order := range s.orders {
		if order.Market == market && order.Side == side && !order.Terminal() {
			out = append(out, order)
		}
	}
	return out, nil
}

func (s *Store) ExecutionsByMarket(ctx context.Context, market string, limit int) ([]models.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Execution
	for i := len(s.executions) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if s.executions[i].Market == market {
			out = append(out, s.executions[i])
		}
	}
	return out, nil
}

// ApplySettlement validates the whole batch first and only then mutates, so
// a rejected batch leaves the store untouched.
func (s *Store) ApplySettlement(ctx context.Context, batch models.SettlementBatch) error {
	for _, entry := range batch.Entries {
		if err := ledger.ValidateBalanced(entry); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range batch.Entries {
		for _, line := range entry.Lines {
			if _, ok := s.accounts[line.AccountID]; !ok {
				return errs.New(errs.CodeNotFound, "journal line references unknown account %s", line.AccountID)
			}
		}
	}
	for _, hold := range batch.HoldUpdates {
		if _, ok := s.holds[hold.ID]; !ok {
			return errs.New(errs.CodeNotFound, "hold %s not found", hold.ID)
		}
		if hold.Remaining.IsNegative() {
			return errs.New(errs.CodeUnbalancedEntry, "hold %s remaining is negative", hold.ID)
		}
	}
	for _, order := range batch.OrderUpdate {
		if _, ok := s.orders[order.ID]; !ok {
			return errs.New(errs.CodeNotFound, "order %s not found", order.ID)
		}
		if order.Remaining.IsNegative() {
			return errs.New(errs.CodeUnbalancedEntry, "order %s remaining is negative", order.ID)
		}
	}

	for _, entry := range batch.Entries {
		s.applyEntryLocked(entry)
	}
	for _, hold := range batch.HoldUpdates {
		s.holds[hold.ID] = hold
	}
	for _, order := range batch.OrderUpdate {
		s.orders[order.ID] = order
	}
	s.executions = append(s.executions, batch.Executions...)
	return nil
}

var _ interfaces.Store = (*Store)(nil)
