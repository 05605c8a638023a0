// Package replay drives recorded ticks and scripted account actions through
// a broker, so a trading day can be reproduced offline.
package replay

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rustyeddy/papertrader/broker"
	"github.com/rustyeddy/papertrader/market"
	"github.com/rustyeddy/papertrader/sim"
)

// Options controls how replay behaves.
type Options struct {
	// TickThenEvent applies the row's tick before its event, so an order on
	// the row fills at that row's price. This is what you want most of the time.
	TickThenEvent bool

	// Ticks receives every tick. Usually it updates the price store and fans
	// out to the engines.
	Ticks func(market.Tick)

	// Clock, when set, is moved to each row's time before the row applies.
	Clock interface{ Set(time.Time) }

	// Sweep runs after every row. Wire the registry's cutoff check here to
	// have square-off fire at the recorded time.
	Sweep func(context.Context) error

	// DefaultUser is used for event rows that leave the user column empty.
	DefaultUser string

	Logger *zap.Logger
}

// Stats summarises one replay.
type Stats struct {
	Rows       int
	Orders     int
	Rejected   int
	SquareOffs int
}

// CSV replays rows from r. Two layouts are accepted:
//
//  1. Ticks only:
//     time,instrument,ltp
//
//  2. Ticks and events:
//     time,instrument,ltp,user,event,arg1,arg2,arg3
//
// Events (case-insensitive):
//
//	BUY / SELL:  arg1=quantity  arg2=limit price (optional)  arg3=tag (optional)
//	SQUAREOFF:   closes every open position of the user
//
// An order the engine rejects is counted and the replay continues. Malformed
// rows and internal failures stop it.
func CSV(ctx context.Context, r io.Reader, b broker.Broker, opts Options) (Stats, error) {
	if b == nil {
		return Stats{}, errors.New("replay: nil broker")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	rp := &replayer{b: b, opts: opts, log: opts.Logger.Named("replay")}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	line := 0
	for {
		row, err := cr.Read()
		if err == io.EOF {
			return rp.stats, nil
		}
		if err != nil {
			return rp.stats, err
		}
		line++
		if line == 1 && len(row) > 0 && strings.EqualFold(strings.TrimSpace(row[0]), "time") {
			continue
		}
		if len(row) == 0 || (len(row) == 1 && strings.TrimSpace(row[0]) == "") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return rp.stats, err
		}
		if err := rp.row(ctx, row); err != nil {
			return rp.stats, fmt.Errorf("line %d: %w", line, err)
		}
	}
}

type replayer struct {
	b     broker.Broker
	opts  Options
	log   *zap.Logger
	stats Stats
}

func (rp *replayer) row(ctx context.Context, row []string) error {
	for i := range row {
		row[i] = strings.TrimSpace(row[i])
	}
	if len(row) < 3 {
		return fmt.Errorf("bad row (need at least time,instrument,ltp): %v", row)
	}
	ts, err := time.Parse(time.RFC3339, row[0])
	if err != nil {
		return fmt.Errorf("bad time %q: %w", row[0], err)
	}
	instr, ok := market.NormalizeInstrument(row[1])
	if !ok {
		return fmt.Errorf("bad instrument %q", row[1])
	}
	ltp, err := decimal.NewFromString(row[2])
	if err != nil {
		return fmt.Errorf("bad ltp %q: %w", row[2], err)
	}
	if !ltp.IsPositive() {
		return fmt.Errorf("ltp must be positive, got %s", ltp)
	}

	var user, event string
	var args []string
	if len(row) >= 4 {
		user = row[3]
	}
	if len(row) >= 5 {
		event = row[4]
	}
	if len(row) >= 6 {
		args = row[5:]
	}
	if user == "" {
		user = rp.opts.DefaultUser
	}

	rp.stats.Rows++
	if rp.opts.Clock != nil {
		rp.opts.Clock.Set(ts)
	}
	tick := market.Tick{Instrument: instr, LTP: ltp, Time: ts}

	if rp.opts.TickThenEvent {
		rp.tick(tick)
		if err := rp.event(ctx, user, instr, event, args); err != nil {
			return err
		}
	} else {
		if err := rp.event(ctx, user, instr, event, args); err != nil {
			return err
		}
		rp.tick(tick)
	}

	if rp.opts.Sweep != nil {
		if err := rp.opts.Sweep(ctx); err != nil {
			// a failed sweep retries on the next row
			rp.log.Warn("sweep failed", zap.Time("at", ts), zap.Error(err))
		}
	}
	return nil
}

func (rp *replayer) tick(t market.Tick) {
	if rp.opts.Ticks != nil {
		rp.opts.Ticks(t)
	}
}

func (rp *replayer) event(ctx context.Context, user, instr, event string, args []string) error {
	if event == "" {
		return nil
	}
	if user == "" {
		return fmt.Errorf("%s: missing user", event)
	}

	switch ev := strings.ToUpper(event); ev {
	case "BUY", "SELL":
		req, err := parseOrderArgs(instr, market.Side(ev), args)
		if err != nil {
			return fmt.Errorf("%s: %w", ev, err)
		}
		rp.stats.Orders++
		tr, err := rp.b.PlaceOrder(ctx, user, req)
		if err != nil {
			return rp.rejected(user, err)
		}
		rp.log.Debug("filled", zap.String("user", user), zap.String("trade", tr.ID),
			zap.String("instrument", tr.Instrument), zap.Stringer("price", tr.FillPrice))
		return nil

	case "SQUAREOFF":
		trades, err := rp.b.SquareOff(ctx, user)
		rp.stats.SquareOffs++
		if err != nil {
			return rp.rejected(user, err)
		}
		rp.log.Debug("squared off", zap.String("user", user), zap.Int("closed", len(trades)))
		return nil
	}
	return fmt.Errorf("unknown event %q", event)
}

// rejected swallows order outcomes and passes everything else through.
func (rp *replayer) rejected(user string, err error) error {
	var oe *sim.OrderError
	if !errors.As(err, &oe) || sim.KindOf(err) == sim.KindInternal {
		return err
	}
	rp.stats.Rejected++
	rp.log.Info("order rejected", zap.String("user", user), zap.String("code", sim.ReasonCode(err)), zap.Error(err))
	return nil
}

func parseOrderArgs(instr string, side market.Side, args []string) (sim.OrderRequest, error) {
	if len(args) < 1 || args[0] == "" {
		return sim.OrderRequest{}, errors.New("need arg1=quantity")
	}
	qty, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return sim.OrderRequest{}, fmt.Errorf("bad quantity %q: %w", args[0], err)
	}
	req := sim.OrderRequest{
		Instrument: instr,
		Side:       side,
		Quantity:   qty,
		Kind:       market.Market,
		Product:    market.MIS,
	}
	if len(args) >= 2 && args[1] != "" {
		lp, err := decimal.NewFromString(args[1])
		if err != nil {
			return sim.OrderRequest{}, fmt.Errorf("bad limit %q: %w", args[1], err)
		}
		req.Kind = market.Limit
		req.LimitPrice = decimal.NewNullDecimal(lp)
	}
	if len(args) >= 3 {
		req.Tag = args[2]
	}
	return req, nil
}
