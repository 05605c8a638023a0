package journal

const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
	user_id TEXT PRIMARY KEY,
	initial_capital TEXT NOT NULL,
	available TEXT NOT NULL,
	invested TEXT NOT NULL,
	realized_today TEXT NOT NULL,
	realized_total TEXT NOT NULL,
	trades_today INTEGER NOT NULL,
	day TEXT NOT NULL,
	square_off_day TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	user_id TEXT NOT NULL,
	instrument TEXT NOT NULL,
	quantity INTEGER NOT NULL,
	average_price TEXT NOT NULL,
	cost_basis TEXT NOT NULL,
	realized_pnl TEXT NOT NULL,
	last_price TEXT NOT NULL,
	unrealized_pnl TEXT NOT NULL,
	opened_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (user_id, instrument)
);

CREATE TABLE IF NOT EXISTS trades (
	trade_id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	order_id TEXT NOT NULL,
	instrument TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity INTEGER NOT NULL,
	fill_price TEXT NOT NULL,
	realized_pl TEXT NOT NULL,
	product TEXT NOT NULL DEFAULT '',
	tag TEXT NOT NULL DEFAULT '',
	time DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_user_time ON trades(user_id, time);
`
