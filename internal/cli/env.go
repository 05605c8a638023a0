package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/papertrader/internal/clock"
	"github.com/rustyeddy/papertrader/journal"
	"github.com/rustyeddy/papertrader/market"
	"github.com/rustyeddy/papertrader/session"
)

// env is the engine stack shared by serve and the offline commands.
type env struct {
	store journal.Store
	ticks *market.TickStore
	clock clock.Clock
	reg   *session.Registry
}

func (rc *rootConfig) openEnv() (*env, error) {
	return rc.openEnvAt(nil)
}

// openEnvAt builds the stack on clk. A nil clk means the wall clock in the
// configured cutoff zone.
func (rc *rootConfig) openEnvAt(clk clock.Clock) (*env, error) {
	cfg := rc.cfg
	cutoff, err := cfg.SquareOff.ParseCutoff()
	if err != nil {
		return nil, err
	}
	maxAge, err := cfg.Market.TickMaxAgeDuration()
	if err != nil {
		return nil, err
	}
	engineCfg, err := cfg.Engine()
	if err != nil {
		return nil, err
	}

	var store journal.Store
	if cfg.Storage.DBPath != "" {
		s, err := journal.NewSQLite(cfg.Storage.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}
		store = s
	} else {
		store = journal.NewMemory()
	}

	if clk == nil {
		clk = clock.NewWall(cutoff)
	}
	ticks := market.NewTickStore(maxAge, clk.Now)
	reg, err := session.New(session.Options{
		Engine: engineCfg,
		Prices: ticks,
		Clock:  clk,
		Store:  store,
		Logger: rc.log,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	return &env{store: store, ticks: ticks, clock: clk, reg: reg}, nil
}

// seed stores manual quotes given as INSTRUMENT=PRICE.
func (e *env) seed(quotes map[string]string) error {
	now := e.clock.Now()
	for instr, px := range quotes {
		n, ok := market.NormalizeInstrument(instr)
		if !ok {
			return fmt.Errorf("--ltp: invalid instrument %q", instr)
		}
		p, err := decimal.NewFromString(px)
		if err != nil {
			return fmt.Errorf("--ltp %s: %w", instr, err)
		}
		e.ticks.Set(market.Tick{Instrument: n, LTP: p, Time: now})
	}
	return nil
}

func (e *env) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return errors.Join(e.reg.Close(ctx), e.store.Close())
}
