package sim

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/papertrader/internal/id"
	"github.com/rustyeddy/papertrader/market"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusFilled   Status = "FILLED"
	StatusRejected Status = "REJECTED"
)

type OrderRequest struct {
	Instrument string
	Side       market.Side
	Quantity   int64
	Kind       market.OrderKind
	LimitPrice decimal.NullDecimal
	Product    market.Product
	Tag        string
}

// Order moves from PENDING to exactly one of FILLED or REJECTED within a
// single PlaceOrder call. Nothing rests.
type Order struct {
	ID         string              `json:"id"`
	Instrument string              `json:"instrument"`
	Side       market.Side         `json:"side"`
	Quantity   int64               `json:"quantity"`
	Kind       market.OrderKind    `json:"order_kind"`
	LimitPrice decimal.NullDecimal `json:"limit_price"`
	Product    market.Product      `json:"product,omitempty"`
	Tag        string              `json:"tag,omitempty"`
	Status     Status              `json:"status"`
	Reason     string              `json:"reason,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
}

func newOrder(req OrderRequest, now time.Time) Order {
	instr, _ := market.NormalizeInstrument(req.Instrument)
	kind := req.Kind
	if kind == "" {
		kind = market.Market
	}
	return Order{
		ID:         id.Order(now),
		Instrument: instr,
		Side:       req.Side,
		Quantity:   req.Quantity,
		Kind:       kind,
		LimitPrice: req.LimitPrice,
		Product:    req.Product,
		Tag:        req.Tag,
		Status:     StatusPending,
		CreatedAt:  now,
	}
}

func (o Order) validate(u market.Universe) error {
	if o.Side != market.Buy && o.Side != market.Sell {
		return ErrInvalidSide
	}
	if o.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	if _, ok := market.NormalizeInstrument(o.Instrument); !ok || !u.Contains(o.Instrument) {
		return ErrUnknownInstrument
	}
	switch o.Kind {
	case market.Market:
	case market.Limit:
		if !o.LimitPrice.Valid || !o.LimitPrice.Decimal.IsPositive() {
			return ErrInvalidLimitPrice
		}
	default:
		return ErrInvalidOrderKind
	}
	return nil
}

// limitMet reports whether price satisfies a LIMIT order. MARKET orders are
// always satisfied.
func (o Order) limitMet(price decimal.Decimal) bool {
	if o.Kind != market.Limit {
		return true
	}
	if o.Side == market.Buy {
		return price.LessThanOrEqual(o.LimitPrice.Decimal)
	}
	return price.GreaterThanOrEqual(o.LimitPrice.Decimal)
}
