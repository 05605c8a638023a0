package sim

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rustyeddy/papertrader/internal/clock"
	"github.com/rustyeddy/papertrader/journal"
	"github.com/rustyeddy/papertrader/ledger"
	"github.com/rustyeddy/papertrader/market"
	"github.com/rustyeddy/papertrader/risk"
)

// 10:00 on a trading day; cutoff is 15:15 the same day.
var (
	t0     = time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	cutoff = clock.Cutoff{Hour: 15, Minute: 15, Loc: time.UTC}
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDec(t *testing.T, want string, got decimal.Decimal, what string) {
	t.Helper()
	assert.Truef(t, d(want).Equal(got), "%s: want %s got %s", what, want, got)
}

type fakePrices struct {
	mu    sync.Mutex
	px    map[string]decimal.Decimal
	block chan struct{}
	calls int
}

func newFakePrices() *fakePrices {
	return &fakePrices{px: make(map[string]decimal.Decimal)}
}

func (f *fakePrices) set(instr, price string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.px[instr] = d(price)
}

func (f *fakePrices) drop(instr string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.px, instr)
}

func (f *fakePrices) LTP(ctx context.Context, instr string) (decimal.Decimal, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	p, ok := f.px[instr]
	f.mu.Unlock()

	if block != nil {
		// ignores ctx on purpose
		<-block
	}
	if !ok {
		return decimal.Zero, market.ErrPriceUnavailable
	}
	return p, nil
}

type harness struct {
	e      *Engine
	prices *fakePrices
	clock  *clock.Fake
	store  *journal.Memory
}

type option func(*Options)

func withLimits(l risk.Limits) option {
	return func(o *Options) { o.Config.Limits = l }
}

func withCapital(c string) option {
	return func(o *Options) { o.Config.InitialCapital = d(c) }
}

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()

	h := &harness{
		prices: newFakePrices(),
		clock:  clock.NewFake(t0, cutoff),
		store:  journal.NewMemory(),
	}
	o := Options{
		UserID: "u1",
		Config: Config{
			InitialCapital: d("100000"),
			PriceTimeout:   200 * time.Millisecond,
		},
		Prices: h.prices,
		Clock:  h.clock,
		Store:  h.store,
		Logger: zaptest.NewLogger(t),
	}
	for _, fn := range opts {
		fn(&o)
	}
	e, err := New(o)
	require.NoError(t, err)
	h.e = e
	return h
}

func (h *harness) market(t *testing.T, instr string, side market.Side, qty int64) (ledger.Trade, error) {
	t.Helper()
	return h.e.PlaceOrder(context.Background(), OrderRequest{
		Instrument: instr,
		Side:       side,
		Quantity:   qty,
		Kind:       market.Market,
	})
}

func (h *harness) mustFill(t *testing.T, instr string, side market.Side, qty int64, price string) ledger.Trade {
	t.Helper()
	h.prices.set(instr, price)
	tr, err := h.market(t, instr, side, qty)
	require.NoError(t, err)
	return tr
}

// requireInvariants checks the ledger identities that must hold in every
// reachable state.
func (h *harness) requireInvariants(t *testing.T) {
	t.Helper()
	h.e.mu.Lock()
	defer h.e.mu.Unlock()
	require.NoError(t, ledger.Check(h.e.funds, h.e.book))
	f := h.e.funds
	assert.True(t, f.Available.Add(f.Invested).Sub(f.InitialCapital.Add(f.RealizedTotal)).Abs().LessThanOrEqual(ledger.Tolerance))
	for _, p := range h.e.book.Positions() {
		assert.NotZero(t, p.Quantity)
		assert.True(t, p.AveragePrice.IsPositive())
	}
}
