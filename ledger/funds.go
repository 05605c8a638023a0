// Package ledger holds one tenant's financial state: the funds ledger, the
// position book and the trade record produced by every fill.
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNegativeAmount    = errors.New("amount must not be negative")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrNoOpenPosition    = errors.New("no open position")
	ErrOverClose         = errors.New("close quantity exceeds open position")
)

// Tolerance is the largest drift Check accepts between ledger sums.
var Tolerance = decimal.New(1, -2)

// Funds is the funds ledger for one account. All methods either apply fully
// or leave the receiver untouched.
type Funds struct {
	InitialCapital decimal.Decimal `json:"initial_capital"`
	Available      decimal.Decimal `json:"available_funds"`
	Invested       decimal.Decimal `json:"invested_amount"`
	RealizedToday  decimal.Decimal `json:"realized_pnl_today"`
	RealizedTotal  decimal.Decimal `json:"realized_pnl_total"`
	TradesToday    int             `json:"trade_count_today"`
	Day            string          `json:"current_day"`
}

func NewFunds(capital decimal.Decimal, day string) Funds {
	return Funds{
		InitialCapital: capital,
		Available:      capital,
		Day:            day,
	}
}

func (f *Funds) Debit(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}
	if amount.GreaterThan(f.Available) {
		return fmt.Errorf("%w: need %s, available %s", ErrInsufficientFunds, amount.StringFixed(2), f.Available.StringFixed(2))
	}
	f.Available = f.Available.Sub(amount)
	return nil
}

func (f *Funds) Credit(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}
	f.Available = f.Available.Add(amount)
	return nil
}

// ReserveForBuy debits qty*price and books it as invested capital.
func (f *Funds) ReserveForBuy(qty int64, price decimal.Decimal) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	cost := price.Mul(decimal.NewFromInt(qty))
	if err := f.Debit(cost); err != nil {
		return err
	}
	f.Invested = f.Invested.Add(cost)
	return nil
}

// ReleaseOnSell removes costBasis from invested capital, credits proceeds and
// books the difference as realized P&L.
func (f *Funds) ReleaseOnSell(qty int64, costBasis, proceeds decimal.Decimal) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if costBasis.IsNegative() || proceeds.IsNegative() {
		return ErrNegativeAmount
	}
	if costBasis.Sub(f.Invested).GreaterThan(Tolerance) {
		return &InvariantError{
			Rule:   "invested_non_negative",
			Detail: fmt.Sprintf("release %s exceeds invested %s", costBasis, f.Invested),
		}
	}
	pnl := proceeds.Sub(costBasis)
	f.Invested = f.Invested.Sub(costBasis)
	f.Available = f.Available.Add(proceeds)
	f.RealizedToday = f.RealizedToday.Add(pnl)
	f.RealizedTotal = f.RealizedTotal.Add(pnl)
	return nil
}

// Settle applies the cash side of a planned fill.
func (f *Funds) Settle(fill Fill) error {
	if fill.Opening {
		return f.ReserveForBuy(fill.Quantity, fill.Price)
	}
	return f.ReleaseOnSell(fill.Quantity, fill.CostBasis, fill.Notional)
}

// ResetDay clears the daily counters when day differs from the current one.
func (f *Funds) ResetDay(day string) bool {
	if f.Day == day {
		return false
	}
	f.Day = day
	f.TradesToday = 0
	f.RealizedToday = decimal.Zero
	return true
}

// Equity is the ledger value of the account, excluding unrealized marks.
func (f Funds) Equity() decimal.Decimal {
	return f.Available.Add(f.Invested)
}
