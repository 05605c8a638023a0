// Package broker routes orders to an execution venue. The paper broker
// simulates fills per tenant; a live broker is an external collaborator
// selected by configuration.
package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rustyeddy/papertrader/ledger"
	"github.com/rustyeddy/papertrader/sim"
)

var ErrLiveUnavailable = errors.New("broker: live trading is not configured")

type Broker interface {
	Name() string
	PlaceOrder(ctx context.Context, userID string, req sim.OrderRequest) (ledger.Trade, error)
	Positions(ctx context.Context, userID string) ([]ledger.Position, error)
	Trades(ctx context.Context, userID string) ([]ledger.Trade, error)
	Account(ctx context.Context, userID string) (sim.Account, error)
	// SquareOff closes every open position of the user now.
	SquareOff(ctx context.Context, userID string) ([]ledger.Trade, error)
}

type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "", ModePaper:
		return ModePaper, nil
	case ModeLive:
		return m, nil
	}
	return "", fmt.Errorf("broker: unknown mode %q", s)
}

// Select returns the broker for mode. live may be nil when no live venue is
// wired in.
func Select(mode Mode, paper, live Broker) (Broker, error) {
	switch mode {
	case "", ModePaper:
		if paper == nil {
			return nil, errors.New("broker: nil paper broker")
		}
		return paper, nil
	case ModeLive:
		if live == nil {
			return nil, ErrLiveUnavailable
		}
		return live, nil
	}
	return nil, fmt.Errorf("broker: unknown mode %q", mode)
}
