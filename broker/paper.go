package broker

import (
	"context"

	"github.com/rustyeddy/papertrader/ledger"
	"github.com/rustyeddy/papertrader/session"
	"github.com/rustyeddy/papertrader/sim"
)

// Paper fills orders against each user's simulated account.
type Paper struct {
	reg *session.Registry
}

var _ Broker = (*Paper)(nil)

func NewPaper(reg *session.Registry) *Paper {
	return &Paper{reg: reg}
}

func (p *Paper) Name() string { return string(ModePaper) }

func (p *Paper) PlaceOrder(ctx context.Context, userID string, req sim.OrderRequest) (ledger.Trade, error) {
	e, err := p.reg.GetOrCreate(ctx, userID)
	if err != nil {
		return ledger.Trade{}, err
	}
	return e.PlaceOrder(ctx, req)
}

func (p *Paper) Positions(ctx context.Context, userID string) ([]ledger.Position, error) {
	e, err := p.reg.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	return e.Positions(), nil
}

func (p *Paper) Trades(ctx context.Context, userID string) ([]ledger.Trade, error) {
	e, err := p.reg.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	return e.Trades(), nil
}

func (p *Paper) Account(ctx context.Context, userID string) (sim.Account, error) {
	e, err := p.reg.GetOrCreate(ctx, userID)
	if err != nil {
		return sim.Account{}, err
	}
	return e.Account(), nil
}

func (p *Paper) SquareOff(ctx context.Context, userID string) ([]ledger.Trade, error) {
	e, err := p.reg.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	return e.ForceSquareOff(ctx)
}
