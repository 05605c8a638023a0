package journal

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rustyeddy/papertrader/ledger"
)

type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// one writer; sqlite serializes anyway and this avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (j *SQLite) Load(ctx context.Context, userID string) (*Snapshot, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}

	snap := &Snapshot{UserID: userID}
	f := &snap.Funds
	err := j.db.QueryRowContext(ctx, `
		SELECT initial_capital, available, invested, realized_today, realized_total,
		       trades_today, day, square_off_day, updated_at
		FROM accounts WHERE user_id = ?`, userID).Scan(
		&f.InitialCapital, &f.Available, &f.Invested, &f.RealizedToday, &f.RealizedTotal,
		&f.TradesToday, &f.Day, &snap.SquareOffDay, &snap.SavedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load account %q: %w", userID, err)
	}

	if snap.Positions, err = j.positions(ctx, userID); err != nil {
		return nil, err
	}
	if snap.Trades, err = j.ListTrades(ctx, userID); err != nil {
		return nil, err
	}
	return snap, nil
}

func (j *SQLite) positions(ctx context.Context, userID string) ([]ledger.Position, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT instrument, quantity, average_price, cost_basis, realized_pnl,
		       last_price, unrealized_pnl, opened_at, updated_at
		FROM positions WHERE user_id = ? ORDER BY instrument`, userID)
	if err != nil {
		return nil, fmt.Errorf("load positions %q: %w", userID, err)
	}
	defer rows.Close()

	var out []ledger.Position
	for rows.Next() {
		var p ledger.Position
		if err := rows.Scan(
			&p.Instrument, &p.Quantity, &p.AveragePrice, &p.CostBasis, &p.RealizedPnL,
			&p.LastPrice, &p.UnrealizedPnL, &p.OpenedAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListTrades returns a user's trades in execution order.
func (j *SQLite) ListTrades(ctx context.Context, userID string) ([]ledger.Trade, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT trade_id, order_id, instrument, side, quantity, fill_price, realized_pl, product, tag, time
		FROM trades WHERE user_id = ? ORDER BY time ASC, trade_id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("load trades %q: %w", userID, err)
	}
	defer rows.Close()

	var out []ledger.Trade
	for rows.Next() {
		var t ledger.Trade
		if err := rows.Scan(
			&t.ID, &t.OrderID, &t.Instrument, &t.Side, &t.Quantity,
			&t.FillPrice, &t.RealizedPnL, &t.Product, &t.Tag, &t.Time,
		); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (j *SQLite) Save(ctx context.Context, userID string, snap Snapshot, newTrades ...ledger.Trade) error {
	if userID == "" {
		return ErrEmptyUserID
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	f := snap.Funds
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO accounts
		(user_id, initial_capital, available, invested, realized_today, realized_total,
		 trades_today, day, square_off_day, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			initial_capital = excluded.initial_capital,
			available = excluded.available,
			invested = excluded.invested,
			realized_today = excluded.realized_today,
			realized_total = excluded.realized_total,
			trades_today = excluded.trades_today,
			day = excluded.day,
			square_off_day = excluded.square_off_day,
			updated_at = excluded.updated_at`,
		userID, f.InitialCapital, f.Available, f.Invested, f.RealizedToday, f.RealizedTotal,
		f.TradesToday, f.Day, snap.SquareOffDay, snap.SavedAt,
	); err != nil {
		return fmt.Errorf("save account %q: %w", userID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM positions WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("clear positions %q: %w", userID, err)
	}
	for _, p := range snap.Positions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO positions
			(user_id, instrument, quantity, average_price, cost_basis, realized_pnl,
			 last_price, unrealized_pnl, opened_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			userID, p.Instrument, p.Quantity, p.AveragePrice, p.CostBasis, p.RealizedPnL,
			p.LastPrice, p.UnrealizedPnL, p.OpenedAt, p.UpdatedAt,
		); err != nil {
			return fmt.Errorf("save position %q/%s: %w", userID, p.Instrument, err)
		}
	}

	for _, t := range newTrades {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO trades
			(trade_id, user_id, order_id, instrument, side, quantity, fill_price, realized_pl, product, tag, time)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, userID, t.OrderID, t.Instrument, string(t.Side), t.Quantity,
			t.FillPrice, t.RealizedPnL, string(t.Product), t.Tag, t.Time,
		); err != nil {
			return fmt.Errorf("append trade %s: %w", t.ID, err)
		}
	}

	return tx.Commit()
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
