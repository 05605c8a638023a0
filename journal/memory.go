package journal

import (
	"context"
	"sync"

	"github.com/rustyeddy/papertrader/ledger"
)

// Memory is a process-local Store.
type Memory struct {
	mu    sync.Mutex
	snaps map[string]*Snapshot
	seen  map[string]map[string]struct{}
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		snaps: make(map[string]*Snapshot),
		seen:  make(map[string]map[string]struct{}),
	}
}

func (m *Memory) Load(_ context.Context, userID string) (*Snapshot, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.snaps[userID]
	if !ok {
		return nil, nil
	}
	return s.clone(), nil
}

func (m *Memory) Save(_ context.Context, userID string, snap Snapshot, newTrades ...ledger.Trade) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var trades []ledger.Trade
	if prev, ok := m.snaps[userID]; ok {
		trades = prev.Trades
	}
	seen := m.seen[userID]
	if seen == nil {
		seen = make(map[string]struct{})
		m.seen[userID] = seen
	}
	for _, t := range newTrades {
		if _, dup := seen[t.ID]; dup {
			continue
		}
		seen[t.ID] = struct{}{}
		trades = append(trades, t)
	}

	snap.UserID = userID
	snap.Trades = trades
	m.snaps[userID] = snap.clone()
	return nil
}

func (m *Memory) Close() error { return nil }

func (s *Snapshot) clone() *Snapshot {
	c := *s
	c.Positions = append([]ledger.Position(nil), s.Positions...)
	c.Trades = append([]ledger.Trade(nil), s.Trades...)
	return &c
}
