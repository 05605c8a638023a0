package ledger

import (
	"testing"
	"time"

	"github.com/rustyeddy/papertrader/market"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, d(want).Equal(got), append([]interface{}{"want %s got %s", want, got.String()}, msgAndArgs...)...)
}

var t0 = time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

func fill(t *testing.T, f *Funds, b *Book, instr string, side market.Side, qty int64, price string) Fill {
	t.Helper()
	pl, err := b.Plan(instr, side, qty, d(price))
	require.NoError(t, err)
	require.NoError(t, f.Settle(pl))
	b.Apply(pl, t0)
	require.NoError(t, Check(*f, b))
	return pl
}

func TestFundsDebitCredit(t *testing.T) {
	t.Parallel()

	f := NewFunds(d("1000"), "2024-01-02")
	require.NoError(t, f.Debit(d("400")))
	assertDec(t, "600", f.Available)

	err := f.Debit(d("600.01"))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assertDec(t, "600", f.Available)

	require.NoError(t, f.Credit(d("50")))
	assertDec(t, "650", f.Available)

	assert.ErrorIs(t, f.Credit(d("-1")), ErrNegativeAmount)
	assert.ErrorIs(t, f.Debit(d("-1")), ErrNegativeAmount)
}

func TestFundsReserveAndRelease(t *testing.T) {
	t.Parallel()

	f := NewFunds(d("100000"), "2024-01-02")
	require.NoError(t, f.ReserveForBuy(10, d("2550.50")))
	assertDec(t, "74495", f.Available)
	assertDec(t, "25505", f.Invested)

	require.NoError(t, f.ReleaseOnSell(10, d("25505"), d("25600")))
	assertDec(t, "0", f.Invested)
	assertDec(t, "100095", f.Available)
	assertDec(t, "95", f.RealizedToday)
	assertDec(t, "95", f.RealizedTotal)
}

func TestFundsReserveInsufficientLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	f := NewFunds(d("1000"), "2024-01-02")
	before := f
	err := f.ReserveForBuy(11, d("100"))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, before, f)
}

func TestFundsReleaseBeyondInvested(t *testing.T) {
	t.Parallel()

	f := NewFunds(d("1000"), "2024-01-02")
	require.NoError(t, f.ReserveForBuy(1, d("100")))
	err := f.ReleaseOnSell(1, d("200"), d("150"))

	var inv *InvariantError
	assert.ErrorAs(t, err, &inv)
	assertDec(t, "100", f.Invested)
}

func TestFundsResetDay(t *testing.T) {
	t.Parallel()

	f := NewFunds(d("1000"), "2024-01-02")
	f.TradesToday = 7
	f.RealizedToday = d("-50")
	f.RealizedTotal = d("-50")

	assert.False(t, f.ResetDay("2024-01-02"))
	assert.Equal(t, 7, f.TradesToday)

	assert.True(t, f.ResetDay("2024-01-03"))
	assert.Equal(t, 0, f.TradesToday)
	assert.True(t, f.RealizedToday.IsZero())
	assertDec(t, "-50", f.RealizedTotal)
	assert.Equal(t, "2024-01-03", f.Day)
}

func TestBookScenarioAB(t *testing.T) {
	t.Parallel()

	f := NewFunds(d("100000"), "2024-01-02")
	b := NewBook()

	fill(t, &f, b, "RELIANCE", market.Buy, 10, "2550.50")
	assertDec(t, "74495.00", f.Available)
	assertDec(t, "25505.00", f.Invested)
	p, ok := b.Get("RELIANCE")
	require.True(t, ok)
	assert.Equal(t, int64(10), p.Quantity)
	assertDec(t, "2550.50", p.AveragePrice)

	pl := fill(t, &f, b, "RELIANCE", market.Sell, 10, "2560.00")
	assertDec(t, "95", pl.Realized)
	assertDec(t, "100095.00", f.Available)
	assertDec(t, "0", f.Invested)
	assertDec(t, "95.00", f.RealizedTotal)
	_, ok = b.Get("RELIANCE")
	assert.False(t, ok)
	assert.Equal(t, 0, b.Len())
}

func TestBookScenarioCAveraging(t *testing.T) {
	t.Parallel()

	f := NewFunds(d("100000"), "2024-01-02")
	b := NewBook()

	first := fill(t, &f, b, "TCS", market.Buy, 5, "100")
	assert.True(t, first.Opening)
	assert.True(t, first.Realized.IsZero())
	fill(t, &f, b, "TCS", market.Buy, 5, "110")

	p, _ := b.Get("TCS")
	assert.Equal(t, int64(10), p.Quantity)
	assertDec(t, "105", p.AveragePrice)
	assertDec(t, "1050", p.CostBasis)
}

func TestBookPartialReduceKeepsAverage(t *testing.T) {
	t.Parallel()

	f := NewFunds(d("100000"), "2024-01-02")
	b := NewBook()

	fill(t, &f, b, "INFY", market.Buy, 3, "100")
	fill(t, &f, b, "INFY", market.Buy, 1, "101")
	pl := fill(t, &f, b, "INFY", market.Sell, 1, "99")

	p, _ := b.Get("INFY")
	assert.Equal(t, int64(3), p.Quantity)
	assertDec(t, "100.25", p.AveragePrice)
	assertDec(t, "-1.25", pl.Realized)
	assertDec(t, "-1.25", f.RealizedTotal)

	// closing the rest releases exactly the remaining cost basis
	fill(t, &f, b, "INFY", market.Sell, 3, "100.25")
	assertDec(t, "0", f.Invested)
	assertDec(t, "-1.25", f.RealizedTotal)
}

func TestBookRejectsShortAndReversal(t *testing.T) {
	t.Parallel()

	b := NewBook()
	_, err := b.Plan("SBIN", market.Sell, 1, d("500"))
	assert.ErrorIs(t, err, ErrNoOpenPosition)

	f := NewFunds(d("100000"), "2024-01-02")
	fill(t, &f, b, "SBIN", market.Buy, 10, "500")

	_, err = b.Plan("SBIN", market.Sell, 11, d("500"))
	assert.ErrorIs(t, err, ErrOverClose)

	_, err = b.Plan("SBIN", market.Buy, 0, d("500"))
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestBookClosesAndMark(t *testing.T) {
	t.Parallel()

	f := NewFunds(d("100000"), "2024-01-02")
	b := NewBook()
	fill(t, &f, b, "HDFC", market.Buy, 4, "1500")

	assert.True(t, b.Closes("HDFC", market.Sell))
	assert.False(t, b.Closes("HDFC", market.Buy))
	assert.False(t, b.Closes("ITC", market.Sell))

	assert.True(t, b.Mark("HDFC", d("1490")))
	assert.False(t, b.Mark("ITC", d("400")))
	assertDec(t, "-40", b.Unrealized())

	// marks never touch the ledger
	require.NoError(t, Check(f, b))
	assertDec(t, "6000", f.Invested)
}

func TestRoundTripChangesAvailableByPnL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		qty    int64
		p1, p2 string
	}{
		{1, "100", "100"},
		{7, "333.33", "350.10"},
		{25, "1999.95", "1890.05"},
	}
	for _, c := range cases {
		f := NewFunds(d("100000"), "2024-01-02")
		b := NewBook()
		start := f.Available

		fill(t, &f, b, "X", market.Buy, c.qty, c.p1)
		fill(t, &f, b, "X", market.Sell, c.qty, c.p2)

		want := d(c.p2).Sub(d(c.p1)).Mul(decimal.NewFromInt(c.qty))
		assertDec(t, "0", f.Invested)
		assertDec(t, want.String(), f.Available.Sub(start))
	}
}

func TestCheckDetectsDivergence(t *testing.T) {
	t.Parallel()

	f := NewFunds(d("1000"), "2024-01-02")
	f.Available = d("999")

	var inv *InvariantError
	require.ErrorAs(t, Check(f, NewBook()), &inv)
	assert.Equal(t, "capital_conservation", inv.Rule)

	f = NewFunds(d("1000"), "2024-01-02")
	f.Available = d("900")
	f.Invested = d("100")
	require.ErrorAs(t, Check(f, NewBook()), &inv)
	assert.Equal(t, "invested_matches_book", inv.Rule)

	b := NewBook(Position{Instrument: "BAD", Quantity: 1, CostBasis: d("100")})
	require.ErrorAs(t, Check(f, b), &inv)
	assert.Equal(t, "position_average", inv.Rule)
}

func TestNewBookSkipsFlatPositions(t *testing.T) {
	t.Parallel()

	b := NewBook(
		Position{Instrument: "B", Quantity: 2, AveragePrice: d("10"), CostBasis: d("20")},
		Position{Instrument: "A", Quantity: 1, AveragePrice: d("5"), CostBasis: d("5")},
		Position{Instrument: "Z", Quantity: 0},
	)
	ps := b.Positions()
	require.Len(t, ps, 2)
	assert.Equal(t, "A", ps[0].Instrument)
	assert.Equal(t, "B", ps[1].Instrument)
	assertDec(t, "25", b.CostBasis())
}
