// Package store is the only component that owns persistence and transaction
// boundaries. Every table is created
// here; SQL migration tooling proper is out of core scope, so the baseline
// schema is applied with idempotent CREATE TABLE IF NOT EXISTS statements.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps a *sql.DB opened against the relational layout.
type Store struct {
	db *sql.DB
}

// Open connects to dbPath, enables WAL mode for crash recovery, and
// applies the baseline schema.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle for callers (e.g. backtest tooling) that
// need read-only access outside the Store's own repository methods.
func (s *Store) DB() *sql.DB { return s.db }

const schema = `
CREATE TABLE IF NOT EXISTS market_data (
	symbol TEXT NOT NULL,
	timeframe TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	open TEXT NOT NULL,
	high TEXT NOT NULL,
	low TEXT NOT NULL,
	close TEXT NOT NULL,
	volume TEXT NOT NULL,
	PRIMARY KEY (symbol, timeframe, timestamp)
);

CREATE TABLE IF NOT EXISTS funding_rates (
	symbol TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	funding_rate TEXT NOT NULL,
	next_funding_time INTEGER,
	PRIMARY KEY (symbol, timestamp)
);

CREATE TABLE IF NOT EXISTS price_snapshots (
	symbol TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	last_price TEXT,
	mark_price TEXT,
	index_price TEXT,
	PRIMARY KEY (symbol, timestamp)
);

CREATE TABLE IF NOT EXISTS orders (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	client_order_id TEXT NOT NULL UNIQUE,
	exchange_order_id TEXT UNIQUE,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	type TEXT NOT NULL,
	price TEXT,
	amount TEXT NOT NULL,
	filled_amount TEXT,
	remaining_amount TEXT,
	average_price TEXT,
	leverage TEXT,
	status TEXT NOT NULL,
	time_in_force TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);

CREATE TABLE IF NOT EXISTS trades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id INTEGER NOT NULL REFERENCES orders(id),
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	price TEXT NOT NULL,
	amount TEXT NOT NULL,
	fee TEXT,
	fee_currency TEXT,
	realized_pnl TEXT,
	timestamp INTEGER NOT NULL,
	UNIQUE(order_id, timestamp, price, amount, side)
);

CREATE TABLE IF NOT EXISTS order_lifecycle_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id INTEGER NOT NULL REFERENCES orders(id),
	from_status TEXT NOT NULL,
	to_status TEXT NOT NULL,
	message TEXT,
	timestamp INTEGER NOT NULL,
	exchange_status TEXT,
	exchange_event_ts INTEGER,
	raw_payload TEXT,
	trade_id INTEGER,
	fill_qty TEXT,
	fill_price TEXT,
	fee TEXT,
	fee_currency TEXT
);
CREATE INDEX IF NOT EXISTS idx_lifecycle_order ON order_lifecycle_events(order_id, id);

CREATE TABLE IF NOT EXISTS positions (
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	size TEXT NOT NULL,
	entry_price TEXT NOT NULL,
	leverage TEXT,
	unrealized_pnl TEXT,
	margin TEXT,
	liquidation_price TEXT,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (symbol, side)
);

CREATE TABLE IF NOT EXISTS position_snapshots (
	symbol TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	side TEXT NOT NULL,
	size TEXT NOT NULL,
	entry_price TEXT NOT NULL,
	mark_price TEXT,
	unrealized_pnl TEXT,
	PRIMARY KEY (symbol, timestamp, side)
);

CREATE TABLE IF NOT EXISTS balances (
	currency TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	total TEXT NOT NULL,
	free TEXT NOT NULL,
	used TEXT NOT NULL,
	PRIMARY KEY (currency, timestamp)
);

CREATE TABLE IF NOT EXISTS decisions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol TEXT NOT NULL,
	timeframe TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	action TEXT NOT NULL,
	confidence REAL,
	reasoning TEXT,
	technical_analysis TEXT,
	accepted INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS risk_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	level TEXT NOT NULL,
	rule TEXT NOT NULL,
	details TEXT
);

CREATE TABLE IF NOT EXISTS ingestion_runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source TEXT NOT NULL,
	symbol TEXT NOT NULL,
	timeframe TEXT,
	data_type TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	ended_at INTEGER,
	status TEXT NOT NULL,
	rows_inserted INTEGER NOT NULL DEFAULT 0,
	error TEXT
);

CREATE TABLE IF NOT EXISTS candle_integrity_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol TEXT NOT NULL,
	timeframe TEXT NOT NULL,
	event_type TEXT NOT NULL,
	start_ts INTEGER NOT NULL,
	end_ts INTEGER NOT NULL,
	expected_bars INTEGER NOT NULL DEFAULT 0,
	actual_bars INTEGER NOT NULL DEFAULT 0,
	missing_bars INTEGER NOT NULL DEFAULT 0,
	duplicate_bars INTEGER NOT NULL DEFAULT 0,
	severity TEXT NOT NULL,
	detected_at INTEGER NOT NULL,
	repair_job_id TEXT
);

CREATE TABLE IF NOT EXISTS candle_repair_jobs (
	job_id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	timeframe TEXT NOT NULL,
	range_start_ts INTEGER NOT NULL,
	range_end_ts INTEGER NOT NULL,
	status TEXT NOT NULL,
	repaired_bars INTEGER NOT NULL DEFAULT 0,
	message TEXT,
	raw_payload TEXT
);

CREATE TABLE IF NOT EXISTS open_interest (
	symbol TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	oi_contracts TEXT NOT NULL,
	oi_value TEXT,
	PRIMARY KEY (symbol, timestamp)
);

CREATE TABLE IF NOT EXISTS backtest_configs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	strategy_key TEXT NOT NULL,
	symbol TEXT NOT NULL,
	timeframe TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS backtest_results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	config_id INTEGER NOT NULL REFERENCES backtest_configs(id),
	win_rate TEXT NOT NULL,
	return_pct TEXT NOT NULL,
	max_drawdown TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
`

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}
