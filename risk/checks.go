package risk

import "fmt"

type Code string

const (
	CodeDailyLoss    Code = "DAILY_LOSS_LIMIT_REACHED"
	CodeMaxPositions Code = "MAX_POSITIONS_REACHED"
	CodeMaxTrades    Code = "MAX_TRADES_REACHED"
)

// Violation is a risk rejection. Violations compare equal under errors.Is
// when their codes match.
type Violation struct {
	Code Code
	Msg  string
}

func (v *Violation) Error() string {
	if v.Msg == "" {
		return string(v.Code)
	}
	return fmt.Sprintf("%s: %s", v.Code, v.Msg)
}

func (v *Violation) Is(target error) bool {
	t, ok := target.(*Violation)
	return ok && t.Code == v.Code
}

var (
	ErrDailyLossLimit = &Violation{Code: CodeDailyLoss}
	ErrMaxPositions   = &Violation{Code: CodeMaxPositions}
	ErrMaxTrades      = &Violation{Code: CodeMaxTrades}
)

// Check evaluates an order against the limits. The first failing rule wins:
// daily loss, then open positions, then trade count. Orders that reduce a
// position are never blocked by the daily loss limit.
func Check(l Limits, e Exposure) error {
	if e.Opening && l.MaxLossPerDay.IsPositive() {
		if loss := e.NetLoss(); loss.GreaterThanOrEqual(l.MaxLossPerDay) {
			return &Violation{
				Code: CodeDailyLoss,
				Msg:  fmt.Sprintf("day loss %s >= limit %s", loss.StringFixed(2), l.MaxLossPerDay.StringFixed(2)),
			}
		}
	}

	if e.Opening && !e.Held && l.MaxPositions > 0 && e.OpenPositions >= l.MaxPositions {
		return &Violation{
			Code: CodeMaxPositions,
			Msg:  fmt.Sprintf("open positions %d >= max %d", e.OpenPositions, l.MaxPositions),
		}
	}

	if l.MaxTradesPerDay > 0 && e.TradesToday >= l.MaxTradesPerDay {
		return &Violation{
			Code: CodeMaxTrades,
			Msg:  fmt.Sprintf("trades today %d >= max %d", e.TradesToday, l.MaxTradesPerDay),
		}
	}

	return nil
}
