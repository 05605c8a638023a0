package sim

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rustyeddy/papertrader/internal/clock"
	"github.com/rustyeddy/papertrader/ledger"
	"github.com/rustyeddy/papertrader/market"
)

// SquareOffTag marks trades produced by a square-off.
const SquareOffTag = "SQUARE_OFF"

type SquareOffState string

const (
	Armed      SquareOffState = "ARMED"
	FiredToday SquareOffState = "FIRED_TODAY"
)

// SquareOffState is FIRED_TODAY once a square-off completed on the current
// calendar day and ARMED otherwise; a new day re-arms it.
func (e *Engine) SquareOffState() SquareOffState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.squareOffStateLocked()
}

func (e *Engine) squareOffStateLocked() SquareOffState {
	if e.squareOffDay != "" && e.squareOffDay == clock.Day(e.clock.Now()) {
		return FiredToday
	}
	return Armed
}

// CheckSquareOff fires the square-off once the clock is past the cutoff and
// it has not completed today. It is safe to call on every scheduler tick.
func (e *Engine) CheckSquareOff(ctx context.Context) ([]ledger.Trade, error) {
	if !e.clock.PastCutoff() {
		return nil, nil
	}
	e.sqMu.Lock()
	defer e.sqMu.Unlock()
	if e.SquareOffState() == FiredToday {
		return nil, nil
	}
	return e.squareOff(ctx, "cutoff", true)
}

// ForceSquareOff closes every open position now, regardless of the cutoff.
// It leaves the day armed, so positions opened afterwards are still closed
// at the cutoff.
func (e *Engine) ForceSquareOff(ctx context.Context) ([]ledger.Trade, error) {
	e.sqMu.Lock()
	defer e.sqMu.Unlock()
	return e.squareOff(ctx, "manual", false)
}

// squareOff sends one closing MARKET order per open position through the
// normal order path. When markDay is set the day is marked fired only once
// every close fills, so a failed instrument is retried by the next check.
func (e *Engine) squareOff(ctx context.Context, trigger string, markDay bool) ([]ledger.Trade, error) {
	positions := e.Positions()
	e.log.Info("square-off firing", zap.String("trigger", trigger), zap.Int("positions", len(positions)))

	var (
		trades []ledger.Trade
		errs   []error
	)
	for _, p := range positions {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		qty := p.Quantity
		if qty < 0 {
			qty = -qty
		}
		t, err := e.PlaceOrder(ctx, OrderRequest{
			Instrument: p.Instrument,
			Side:       market.ClosingSide(p.Quantity),
			Quantity:   qty,
			Kind:       market.Market,
			Tag:        SquareOffTag,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("square-off %s: %w", p.Instrument, err))
			continue
		}
		trades = append(trades, t)
	}

	if err := errors.Join(errs...); err != nil {
		e.log.Warn("square-off incomplete", zap.Int("closed", len(trades)), zap.Error(err))
		return trades, err
	}

	if !markDay {
		return trades, nil
	}
	e.mu.Lock()
	e.squareOffDay = clock.Day(e.clock.Now())
	e.mu.Unlock()
	if err := e.Flush(ctx); err != nil {
		e.log.Warn("persist after square-off failed", zap.Error(err))
	}
	return trades, nil
}
