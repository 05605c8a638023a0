// Package journal persists tenant state: the funds ledger, open positions and
// the append-only trade log. Every key is scoped by user id.
package journal

import (
	"context"
	"errors"
	"time"

	"github.com/rustyeddy/papertrader/ledger"
)

var ErrEmptyUserID = errors.New("journal: empty user id")

// Snapshot is the persisted state of one tenant.
type Snapshot struct {
	UserID       string
	Funds        ledger.Funds
	Positions    []ledger.Position
	Trades       []ledger.Trade
	SquareOffDay string
	SavedAt      time.Time
}

// Store loads and saves tenant snapshots. Load returns nil, nil for a user
// that has never been saved. Save writes the funds, positions and square-off
// marker of snap and appends newTrades; snap.Trades is ignored.
type Store interface {
	Load(ctx context.Context, userID string) (*Snapshot, error)
	Save(ctx context.Context, userID string, snap Snapshot, newTrades ...ledger.Trade) error
	Close() error
}
