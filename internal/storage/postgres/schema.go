package postgres

// Schema is applied at startup. Constraints mirror the application-level
// invariants as defense in depth: non-zero journal lines, non-negative hold
// and order remainders, one account per (user, asset).
const Schema = `
CREATE TABLE IF NOT EXISTS markets (
	id TEXT PRIMARY KEY,
	base_asset TEXT NOT NULL,
	quote_asset TEXT NOT NULL,
	maker_fee_rate NUMERIC(38,18) NOT NULL,
	taker_fee_rate NUMERIC(38,18) NOT NULL,
	enabled BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS accounts (
	id UUID PRIMARY KEY,
	user_id TEXT NOT NULL,
	asset TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (user_id, asset)
);

CREATE TABLE IF NOT EXISTS journal_entries (
	id UUID PRIMARY KEY,
	entry_type TEXT NOT NULL,
	reference TEXT NOT NULL DEFAULT '',
	metadata JSONB,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_journal_entries_reference
	ON journal_entries(reference) WHERE reference <> '';

CREATE TABLE IF NOT EXISTS journal_lines (
	id UUID PRIMARY KEY,
	entry_id UUID NOT NULL REFERENCES journal_entries(id),
	account_id UUID NOT NULL REFERENCES accounts(id),
	asset TEXT NOT NULL,
	amount NUMERIC(38,18) NOT NULL CHECK (amount <> 0)
);

CREATE INDEX IF NOT EXISTS idx_journal_lines_account ON journal_lines(account_id);

CREATE TABLE IF NOT EXISTS holds (
	id UUID PRIMARY KEY,
	account_id UUID NOT NULL REFERENCES accounts(id),
	amount NUMERIC(38,18) NOT NULL CHECK (amount > 0),
	remaining NUMERIC(38,18) NOT NULL CHECK (remaining >= 0),
	status TEXT NOT NULL CHECK (status IN ('active', 'released')),
	reference TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_holds_account_active
	ON holds(account_id) WHERE status = 'active';

CREATE TABLE IF NOT EXISTS orders (
	id UUID PRIMARY KEY,
	market TEXT NOT NULL REFERENCES markets(id),
	user_id TEXT NOT NULL,
	side TEXT NOT NULL CHECK (side IN ('buy', 'sell')),
	order_type TEXT NOT NULL CHECK (order_type IN ('limit', 'market')),
	price NUMERIC(38,18) NOT NULL,
	quantity NUMERIC(38,18) NOT NULL CHECK (quantity > 0),
	remaining NUMERIC(38,18) NOT NULL CHECK (remaining >= 0),
	hold_id UUID NOT NULL REFERENCES holds(id),
	canceled BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_resting
	ON orders(market, side) WHERE NOT canceled AND remaining > 0;

CREATE TABLE IF NOT EXISTS executions (
	id UUID PRIMARY KEY,
	market TEXT NOT NULL,
	price NUMERIC(38,18) NOT NULL,
	quantity NUMERIC(38,18) NOT NULL,
	maker_order_id UUID NOT NULL REFERENCES orders(id),
	taker_order_id UUID NOT NULL REFERENCES orders(id),
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_executions_market ON executions(market, created_at);
`
