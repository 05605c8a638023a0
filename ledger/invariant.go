package ledger

import "fmt"

// InvariantError reports corrupted ledger state. It is never a normal order
// outcome.
type InvariantError struct {
	Rule   string
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("ledger invariant %s violated: %s", e.Rule, e.Detail)
}

// Check verifies the funds ledger against itself and against the book.
func Check(f Funds, b *Book) error {
	want := f.InitialCapital.Add(f.RealizedTotal)
	if drift := f.Equity().Sub(want).Abs(); drift.GreaterThan(Tolerance) {
		return &InvariantError{
			Rule:   "capital_conservation",
			Detail: fmt.Sprintf("available+invested=%s, initial+realized=%s", f.Equity(), want),
		}
	}
	neg := Tolerance.Neg()
	if f.Invested.LessThan(neg) {
		return &InvariantError{Rule: "invested_non_negative", Detail: f.Invested.String()}
	}
	if f.Available.LessThan(neg) {
		return &InvariantError{Rule: "available_non_negative", Detail: f.Available.String()}
	}
	if b == nil {
		return nil
	}
	if drift := f.Invested.Sub(b.CostBasis()).Abs(); drift.GreaterThan(Tolerance) {
		return &InvariantError{
			Rule:   "invested_matches_book",
			Detail: fmt.Sprintf("invested=%s, book cost=%s", f.Invested, b.CostBasis()),
		}
	}
	for _, p := range b.Positions() {
		if p.Quantity == 0 || !p.AveragePrice.IsPositive() {
			return &InvariantError{
				Rule:   "position_average",
				Detail: fmt.Sprintf("%s qty=%d avg=%s", p.Instrument, p.Quantity, p.AveragePrice),
			}
		}
	}
	return nil
}

