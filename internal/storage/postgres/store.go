// Package postgres is the relational implementation of interfaces.Store.
// Settlement batches and journal posting run inside a single transaction
// with row locks on the touched accounts, holds and orders; the per-asset
// zero-sum invariant is re-verified inside the transaction before commit.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/bitmint/exchange-core/internal/errs"
	"github.com/bitmint/exchange-core/internal/interfaces"
	"github.com/bitmint/exchange-core/internal/ledger"
	"github.com/bitmint/exchange-core/internal/models"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) SaveMarket(ctx context.Context, m models.Market) error {
	const query = `INSERT INTO markets (id, base_asset, quote_asset, maker_fee_rate, taker_fee_rate, enabled)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO UPDATE SET
		maker_fee_rate = EXCLUDED.maker_fee_rate,
		taker_fee_rate = EXCLUDED.taker_fee_rate,
		enabled = EXCLUDED.enabled`

	_, err := s.db.ExecContext(ctx, query, m.ID, m.BaseAsset, m.QuoteAsset, m.MakerFeeRate, m.TakerFeeRate, m.Enabled)
	return err
}

func (s *Store) GetMarket(ctx context.Context, id string) (models.Market, error) {
	const query = `SELECT id, base_asset, quote_asset, maker_fee_rate, taker_fee_rate, enabled
	FROM markets WHERE id = $1`

	var m models.Market
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&m.ID, &m.BaseAsset, &m.QuoteAsset, &m.MakerFeeRate, &m.TakerFeeRate, &m.Enabled)
	if err == sql.ErrNoRows {
		return models.Market{}, errs.New(errs.CodeNotFound, "market %s not found", id)
	}
	if err != nil {
		return models.Market{}, err
	}
	return m, nil
}

func (s *Store) GetOrCreateAccount(ctx context.Context, userID, asset string) (models.Account, error) {
	// The unique constraint on (user_id, asset) makes concurrent creation
	// safe; ON CONFLICT returns the existing row.
	const query = `INSERT INTO accounts (id, user_id, asset, created_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (user_id, asset) DO UPDATE SET user_id = EXCLUDED.user_id
	RETURNING id, user_id, asset, created_at`

	var acct models.Account
	err := s.db.QueryRowContext(ctx, query, uuid.New(), userID, asset, time.Now().UTC()).
		Scan(&acct.ID, &acct.UserID, &acct.Asset, &acct.CreatedAt)
	if err != nil {
		return models.Account{}, err
	}
	return acct, nil
}

func (s *Store) GetAccount(ctx context.Context, id uuid.UUID) (models.Account, error) {
	const query = `SELECT id, user_id, asset, created_at FROM accounts WHERE id = $1`

	var acct models.Account
	err := s.db.QueryRowContext(ctx, query, id).Scan(&acct.ID, &acct.UserID, &acct.Asset, &acct.CreatedAt)
	if err == sql.ErrNoRows {
		return models.Account{}, errs.New(errs.CodeNotFound, "account %s not found", id)
	}
	if err != nil {
		return models.Account{}, err
	}
	return acct, nil
}

func (s *Store) AccountsByUser(ctx context.Context, userID string) ([]models.Account, error) {
	const query = `SELECT id, user_id, asset, created_at FROM accounts WHERE user_id = $1 ORDER BY asset`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		var acct models.Account
		if err := rows.Scan(&acct.ID, &acct.UserID, &acct.Asset, &acct.CreatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, acct)
	}
	return accounts, rows.Err()
}

func (s *Store) SaveEntry(ctx context.Context, entry models.JournalEntry) error {
	if err := ledger.ValidateBalanced(entry); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = insertEntry(ctx, tx, entry); err != nil {
		return err
	}
	if err = verifyEntryBalanced(ctx, tx, entry.ID); err != nil {
		return err
	}
	return tx.Commit()
}

func insertEntry(ctx context.Context, tx *sql.Tx, entry models.JournalEntry) error {
	const entryQuery = `INSERT INTO journal_entries (id, entry_type, reference, metadata, created_at)
	VALUES ($1, $2, $3, $4, $5)`
	const lineQuery = `INSERT INTO journal_lines (id, entry_id, account_id, asset, amount)
	VALUES ($1, $2, $3, $4, $5)`

	var metadata []byte
	if entry.Metadata != nil {
		var err error
		metadata, err = json.Marshal(entry.Metadata)
		if err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, entryQuery, entry.ID, entry.Type, entry.Reference, metadata, entry.CreatedAt); err != nil {
		return err
	}
	for _, line := range entry.Lines {
		if _, err := tx.ExecContext(ctx, lineQuery, line.ID, entry.ID, line.AccountID, line.Asset, line.Amount); err != nil {
			return err
		}
	}
	return nil
}

// verifyEntryBalanced re-checks the zero-sum invariant against the rows that
// were actually written, inside the same transaction.
func verifyEntryBalanced(ctx context.Context, tx *sql.Tx, entryID uuid.UUID) error {
	const query = `SELECT asset FROM journal_lines
	WHERE entry_id = $1 GROUP BY asset HAVING SUM(amount) <> 0`

	rows, err := tx.QueryContext(ctx, query, entryID)
	if err != nil {
		return err
	}
	defer rows.Close()

	if rows.Next() {
		var asset string
		_ = rows.Scan(&asset)
		return errs.New(errs.CodeUnbalancedEntry, "entry %s does not balance for asset %s", entryID, asset)
	}
	return rows.Err()
}

func (s *Store) EntryExists(ctx context.Context, reference string) (bool, error) {
	const query = `SELECT 1 FROM journal_entries WHERE reference = $1 LIMIT 1`

	var exists int
	err := s.db.QueryRowContext(ctx, query, reference).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) LinesByAccount(ctx context.Context, accountID uuid.UUID) ([]models.JournalLine, error) {
	const query = `SELECT id, entry_id, account_id, asset, amount
	FROM journal_lines WHERE account_id = $1`

	rows, err := s.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []models.JournalLine
	for rows.Next() {
		var line models.JournalLine
		if err := rows.Scan(&line.ID, &line.EntryID, &line.AccountID, &line.Asset, &line.Amount); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (s *Store) SaveHold(ctx context.Context, hold models.Hold) error {
	const query = `INSERT INTO holds (id, account_id, amount, remaining, status, reference, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.ExecContext(ctx, query, hold.ID, hold.AccountID, hold.Amount, hold.Remaining,
		hold.Status, hold.Reference, hold.CreatedAt, hold.UpdatedAt)
	return err
}

func (s *Store) GetHold(ctx context.Context, id uuid.UUID) (models.Hold, error) {
	const query = `SELECT id, account_id, amount, remaining, status, reference, created_at, updated_at
	FROM holds WHERE id = $1`

	var hold models.Hold
	err := s.db.QueryRowContext(ctx, query, id).Scan(&hold.ID, &hold.AccountID, &hold.Amount,
		&hold.Remaining, &hold.Status, &hold.Reference, &hold.CreatedAt, &hold.UpdatedAt)
	if err == sql.ErrNoRows {
		return models.Hold{}, errs.New(errs.CodeNotFound, "hold %s not found", id)
	}
	if err != nil {
		return models.Hold{}, err
	}
	return hold, nil
}

func (s *Store) UpdateHold(ctx context.Context, hold models.Hold) error {
	const query = `UPDATE holds SET remaining = $2, status = $3, updated_at = $4 WHERE id = $1`

	res, err := s.db.ExecContext(ctx, query, hold.ID, hold.Remaining, hold.Status, hold.UpdatedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.New(errs.CodeNotFound, "hold %s not found", hold.ID)
	}
	return nil
}

func (s *Store) ActiveHoldsByAccount(ctx context.Context, accountID uuid.UUID) ([]models.Hold, error) {
	const query = `SELECT id, account_id, amount, remaining, status, reference, created_at, updated_at
	FROM holds WHERE account_id = $1 AND status = 'active'`

	rows, err := s.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holds []models.Hold
	for rows.Next() {
		var hold models.Hold
		if err := rows.Scan(&hold.ID, &hold.AccountID, &hold.Amount, &hold.Remaining,
			&hold.Status, &hold.Reference, &hold.CreatedAt, &hold.UpdatedAt); err != nil {
			return nil, err
		}
		holds = append(holds, hold)
	}
	return holds, rows.Err()
}

func (s *Store) SaveOrderWithHold(ctx context.Context, order models.Order, hold models.Hold) error {
	const holdQuery = `INSERT INTO holds (id, account_id, amount, remaining, status, reference, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	const orderQuery = `INSERT INTO orders (id, market, user_id, side, order_type, price, quantity, remaining, hold_id, canceled, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, holdQuery, hold.ID, hold.AccountID, hold.Amount, hold.Remaining,
		hold.Status, hold.Reference, hold.CreatedAt, hold.UpdatedAt); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, orderQuery, order.ID, order.Market, order.UserID, order.Side,
		order.Type, order.Price, order.Quantity, order.Remaining, order.HoldID, order.Canceled,
		order.CreatedAt, order.UpdatedAt); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) GetOrder(ctx context.Context, id uuid.UUID) (models.Order, error) {
	const query = `SELECT id, market, user_id, side, order_type, price, quantity, remaining, hold_id, canceled, created_at, updated_at
	FROM orders WHERE id = $1`

	var o models.Order
	err := s.db.QueryRowContext(ctx, query, id).Scan(&o.ID, &o.Market, &o.UserID, &o.Side, &o.Type,
		&o.Price, &o.Quantity, &o.Remaining, &o.HoldID, &o.Canceled, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return models.Order{}, errs.New(errs.CodeNotFound, "order %s not found", id)
	}
	if err != nil {
		return models.Order{}, err
	}
	return o, nil
}

func (s *Store) RestingOrders(ctx context.Context, market string, side models.OrderSide) ([]models.Order, error) {
	const query = `SELECT id, market, user_id, side, order_type, price, quantity, remaining, hold_id, canceled, created_at, updated_at
	FROM orders
	WHERE market = $1 AND side = $2 AND NOT canceled AND remaining > 0
	ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, market, side)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var o models.Order
		if err := rows.Scan(&o.ID, &o.Market, &o.UserID, &o.Side, &o.Type, &o.Price, &o.Quantity,
			&o.Remaining, &o.HoldID, &o.Canceled, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *Store) ExecutionsByMarket(ctx context.Context, market string, limit int) ([]models.Execution, error) {
	const query = `SELECT id, market, price, quantity, maker_order_id, taker_order_id, created_at
	FROM executions WHERE market = $1 ORDER BY created_at DESC LIMIT $2`

	// LIMIT NULL is unbounded.
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.db.QueryContext(ctx, query, market, lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []models.Execution
	for rows.Next() {
		var e models.Execution
		if err := rows.Scan(&e.ID, &e.Market, &e.Price, &e.Quantity, &e.MakerOrderID, &e.TakerOrderID, &e.CreatedAt); err != nil {
			return nil, err
		}
		executions = append(executions, e)
	}
	return executions, rows.Err()
}

// ApplySettlement applies a whole batch in one transaction: row locks on the
// touched accounts, holds and orders, then entries, hold updates, order
// updates and execution rows. Any failure rolls back the entire batch.
func (s *Store) ApplySettlement(ctx context.Context, batch models.SettlementBatch) error {
	for _, entry := range batch.Entries {
		if err := ledger.ValidateBalanced(entry); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = lockRows(ctx, tx, batch); err != nil {
		return err
	}
	for _, entry := range batch.Entries {
		if err = insertEntry(ctx, tx, entry); err != nil {
			return err
		}
		if err = verifyEntryBalanced(ctx, tx, entry.ID); err != nil {
			return err
		}
	}
	for _, hold := range batch.HoldUpdates {
		if _, err = tx.ExecContext(ctx,
			`UPDATE holds SET remaining = $2, status = $3, updated_at = $4 WHERE id = $1`,
			hold.ID, hold.Remaining, hold.Status, hold.UpdatedAt); err != nil {
			return err
		}
	}
	for _, order := range batch.OrderUpdate {
		if _, err = tx.ExecContext(ctx,
			`UPDATE orders SET remaining = $2, canceled = $3, updated_at = $4 WHERE id = $1`,
			order.ID, order.Remaining, order.Canceled, order.UpdatedAt); err != nil {
			return err
		}
	}
	for _, exec := range batch.Executions {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO executions (id, market, price, quantity, maker_order_id, taker_order_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			exec.ID, exec.Market, exec.Price, exec.Quantity, exec.MakerOrderID, exec.TakerOrderID, exec.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// lockRows takes FOR UPDATE locks in a stable order (accounts, then holds,
// then orders, each sorted by the driver) before any write.
func lockRows(ctx context.Context, tx *sql.Tx, batch models.SettlementBatch) error {
	accountIDs := make([]string, 0)
	seen := make(map[uuid.UUID]bool)
	for _, entry := range batch.Entries {
		for _, line := range entry.Lines {
			if !seen[line.AccountID] {
				seen[line.AccountID] = true
				accountIDs = append(accountIDs, line.AccountID.String())
			}
		}
	}
	holdIDs := make([]string, 0, len(batch.HoldUpdates))
	for _, hold := range batch.HoldUpdates {
		holdIDs = append(holdIDs, hold.ID.String())
	}
	orderIDs := make([]string, 0, len(batch.OrderUpdate))
	for _, order := range batch.OrderUpdate {
		orderIDs = append(orderIDs, order.ID.String())
	}

	if len(accountIDs) > 0 {
		if _, err := tx.ExecContext(ctx,
			`SELECT id FROM accounts WHERE id = ANY($1::uuid[]) ORDER BY id FOR UPDATE`,
			pq.Array(accountIDs)); err != nil {
			return err
		}
	}
	if len(holdIDs) > 0 {
		if _, err := tx.ExecContext(ctx,
			`SELECT id FROM holds WHERE id = ANY($1::uuid[]) ORDER BY id FOR UPDATE`,
			pq.Array(holdIDs)); err != nil {
			return err
		}
	}
	if len(orderIDs) > 0 {
		if _, err := tx.ExecContext(ctx,
			`SELECT id FROM orders WHERE id = ANY($1::uuid[]) ORDER BY id FOR UPDATE`,
			pq.Array(orderIDs)); err != nil {
			return err
		}
	}
	return nil
}

var _ interfaces.Store = (*Store)(nil)
