package ledger

import (
	"time"

	"github.com/rustyeddy/papertrader/market"
	"github.com/shopspring/decimal"
)

// Trade is the immutable record of one fill. RealizedPnL is zero for opening
// and adding fills.
type Trade struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"order_id"`
	Instrument  string          `json:"instrument"`
	Side        market.Side     `json:"side"`
	Quantity    int64           `json:"quantity"`
	FillPrice   decimal.Decimal `json:"fill_price"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Product     market.Product  `json:"product,omitempty"`
	Tag         string          `json:"tag,omitempty"`
	Time        time.Time       `json:"timestamp"`
}
