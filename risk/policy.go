package risk

import "github.com/shopspring/decimal"

// Limits are the per-tenant daily risk limits. A zero value disables the
// corresponding check.
type Limits struct {
	MaxLossPerDay   decimal.Decimal `json:"max_loss_per_day" yaml:"max_loss_per_day"`
	MaxPositions    int             `json:"max_positions" yaml:"max_positions"`
	MaxTradesPerDay int             `json:"max_trades_per_day" yaml:"max_trades_per_day"`
}

// Exposure is the account state an order is checked against. Day rollover
// must already have been applied.
type Exposure struct {
	// Opening is false when the order reduces an existing position.
	Opening bool
	// Held is true when the instrument already has an open position.
	Held bool

	OpenPositions int
	TradesToday   int
	RealizedToday decimal.Decimal
	Unrealized    decimal.Decimal
}

// NetLoss is the day's loss including open marks; negative when in profit.
func (e Exposure) NetLoss() decimal.Decimal {
	return e.RealizedToday.Add(e.Unrealized).Neg()
}
