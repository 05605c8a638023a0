package market

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrPriceUnavailable  = errors.New("price unavailable")
	ErrUnknownInstrument = errors.New("unknown instrument")
)

// PriceSource supplies the last traded price used at fill time.
type PriceSource interface {
	LTP(ctx context.Context, instrument string) (decimal.Decimal, error)
}

type Tick struct {
	Instrument string
	LTP        decimal.Decimal
	Time       time.Time
}

var symbolRE = regexp.MustCompile(`^[A-Z0-9][A-Z0-9&._:-]{0,39}$`)

// NormalizeInstrument upper-cases and trims a symbol and reports whether it
// is well formed.
func NormalizeInstrument(s string) (string, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	return s, symbolRE.MatchString(s)
}

// Universe is an optional allow-list of tradable instruments. A nil or empty
// universe admits every well formed symbol.
type Universe map[string]struct{}

func NewUniverse(symbols []string) Universe {
	if len(symbols) == 0 {
		return nil
	}
	u := make(Universe, len(symbols))
	for _, s := range symbols {
		if n, ok := NormalizeInstrument(s); ok {
			u[n] = struct{}{}
		}
	}
	return u
}

func (u Universe) Contains(instrument string) bool {
	if len(u) == 0 {
		return true
	}
	_, ok := u[instrument]
	return ok
}

// TickStore caches the latest tick per instrument and serves it as a
// PriceSource. Ticks older than maxAge are treated as unavailable.
type TickStore struct {
	mu     sync.RWMutex
	ticks  map[string]Tick
	maxAge time.Duration
	now    func() time.Time
}

func NewTickStore(maxAge time.Duration, now func() time.Time) *TickStore {
	if now == nil {
		now = time.Now
	}
	return &TickStore{
		ticks:  make(map[string]Tick),
		maxAge: maxAge,
		now:    now,
	}
}

// Set stores t unless a newer tick for the same instrument is already held.
func (ts *TickStore) Set(t Tick) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if cur, ok := ts.ticks[t.Instrument]; ok && t.Time.Before(cur.Time) {
		return
	}
	ts.ticks[t.Instrument] = t
}

func (ts *TickStore) Get(instr string) (Tick, bool) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	t, ok := ts.ticks[instr]
	return t, ok
}

func (ts *TickStore) LTP(ctx context.Context, instrument string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, errors.Join(ErrPriceUnavailable, err)
	}
	t, ok := ts.Get(instrument)
	if !ok || !t.LTP.IsPositive() {
		return decimal.Zero, ErrPriceUnavailable
	}
	if ts.maxAge > 0 && ts.now().Sub(t.Time) > ts.maxAge {
		return decimal.Zero, ErrPriceUnavailable
	}
	return t.LTP, nil
}
