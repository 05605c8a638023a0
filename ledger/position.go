package ledger

import (
	"sort"
	"time"

	"github.com/rustyeddy/papertrader/market"
	"github.com/shopspring/decimal"
)

// Position is an open holding in one instrument. Quantity is signed; a
// position with zero quantity is removed from the book.
type Position struct {
	Instrument    string          `json:"instrument"`
	Quantity      int64           `json:"quantity"`
	AveragePrice  decimal.Decimal `json:"average_price"`
	CostBasis     decimal.Decimal `json:"cost_basis"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	LastPrice     decimal.Decimal `json:"last_price"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	OpenedAt      time.Time       `json:"opened_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (p Position) Side() market.Side {
	if p.Quantity < 0 {
		return market.Sell
	}
	return market.Buy
}

func (p *Position) mark(price decimal.Decimal) {
	p.LastPrice = price
	p.UnrealizedPnL = price.Sub(p.AveragePrice).Mul(decimal.NewFromInt(p.Quantity))
}

// Fill is the planned effect of one execution on the book and the funds.
type Fill struct {
	Instrument string
	Side       market.Side
	Quantity   int64
	Price      decimal.Decimal
	Notional   decimal.Decimal // Quantity * Price

	// Opening is true for fills that open or add to a position.
	Opening bool
	// CostBasis is the cost added by an opening fill or released by a
	// reducing one.
	CostBasis decimal.Decimal
	Realized  decimal.Decimal

	NewQuantity int64
	NewAverage  decimal.Decimal
}

type Book struct {
	positions map[string]*Position
}

func NewBook(ps ...Position) *Book {
	b := &Book{positions: make(map[string]*Position, len(ps))}
	for _, p := range ps {
		if p.Quantity == 0 {
			continue
		}
		p := p
		b.positions[p.Instrument] = &p
	}
	return b
}

func (b *Book) Get(instrument string) (Position, bool) {
	p, ok := b.positions[instrument]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// Clone returns a deep copy of the book.
func (b *Book) Clone() *Book {
	c := &Book{positions: make(map[string]*Position, len(b.positions))}
	for k, p := range b.positions {
		cp := *p
		c.positions[k] = &cp
	}
	return c
}

func (b *Book) Len() int { return len(b.positions) }

// Closes reports whether an order on side reduces an existing position.
func (b *Book) Closes(instrument string, side market.Side) bool {
	p, ok := b.positions[instrument]
	return ok && sign(p.Quantity) != side.Sign()
}

// Plan works out the effect of filling qty at price without touching the
// book. Reversals and short sales are rejected.
func (b *Book) Plan(instrument string, side market.Side, qty int64, price decimal.Decimal) (Fill, error) {
	if qty <= 0 {
		return Fill{}, ErrInvalidQuantity
	}
	notional := price.Mul(decimal.NewFromInt(qty))
	f := Fill{
		Instrument: instrument,
		Side:       side,
		Quantity:   qty,
		Price:      price,
		Notional:   notional,
	}

	p, held := b.positions[instrument]
	if !held || sign(p.Quantity) == side.Sign() {
		if !held && side == market.Sell {
			return Fill{}, ErrNoOpenPosition
		}
		var oldQty int64
		oldCost := decimal.Zero
		if held {
			oldQty = abs(p.Quantity)
			oldCost = p.CostBasis
		}
		newQty := oldQty + qty
		f.Opening = true
		f.CostBasis = notional
		f.NewQuantity = side.Sign() * newQty
		f.NewAverage = oldCost.Add(notional).Div(decimal.NewFromInt(newQty))
		return f, nil
	}

	open := abs(p.Quantity)
	if qty > open {
		return Fill{}, ErrOverClose
	}
	if qty == open {
		f.CostBasis = p.CostBasis
	} else {
		f.CostBasis = p.AveragePrice.Mul(decimal.NewFromInt(qty))
	}
	f.Realized = notional.Sub(f.CostBasis).Mul(decimal.NewFromInt(sign(p.Quantity)))
	f.NewQuantity = p.Quantity + side.Sign()*qty
	f.NewAverage = p.AveragePrice
	return f, nil
}

// Apply commits a fill produced by Plan.
func (b *Book) Apply(f Fill, now time.Time) {
	p, ok := b.positions[f.Instrument]
	if !ok {
		p = &Position{Instrument: f.Instrument, OpenedAt: now}
		b.positions[f.Instrument] = p
	}
	if f.Opening {
		p.CostBasis = p.CostBasis.Add(f.CostBasis)
	} else {
		p.CostBasis = p.CostBasis.Sub(f.CostBasis)
		p.RealizedPnL = p.RealizedPnL.Add(f.Realized)
	}
	p.Quantity = f.NewQuantity
	p.AveragePrice = f.NewAverage
	p.UpdatedAt = now

	if p.Quantity == 0 {
		delete(b.positions, f.Instrument)
		return
	}
	p.mark(f.Price)
}

// Mark refreshes the cached mark-to-market of a held instrument.
func (b *Book) Mark(instrument string, price decimal.Decimal) bool {
	p, ok := b.positions[instrument]
	if !ok {
		return false
	}
	p.mark(price)
	return true
}

// Positions returns copies sorted by instrument.
func (b *Book) Positions() []Position {
	out := make([]Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out
}

func (b *Book) Unrealized() decimal.Decimal {
	total := decimal.Zero
	for _, p := range b.positions {
		total = total.Add(p.UnrealizedPnL)
	}
	return total
}

func (b *Book) CostBasis() decimal.Decimal {
	total := decimal.Zero
	for _, p := range b.positions {
		total = total.Add(p.CostBasis)
	}
	return total
}

func sign(x int64) int64 {
	if x < 0 {
		return -1
	}
	return 1
}

func abs(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}
