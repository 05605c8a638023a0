// Package sim is the paper-trading engine for a single tenant. It fills
// orders at the quoted last traded price, keeps the funds ledger and the
// position book consistent, enforces risk limits and squares off open
// positions at the daily cutoff.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rustyeddy/papertrader/internal/clock"
	"github.com/rustyeddy/papertrader/internal/id"
	"github.com/rustyeddy/papertrader/journal"
	"github.com/rustyeddy/papertrader/ledger"
	"github.com/rustyeddy/papertrader/market"
	"github.com/rustyeddy/papertrader/risk"
)

const (
	DefaultPriceTimeout = 2 * time.Second
	DefaultTickBuffer   = 256
)

type Config struct {
	InitialCapital decimal.Decimal
	Limits         risk.Limits
	// PriceTimeout bounds the wait for a fill price.
	PriceTimeout time.Duration
	// TickBuffer is the capacity of the per-tenant tick queue.
	TickBuffer int
	Universe   market.Universe
}

type Options struct {
	UserID string
	Config Config
	Prices market.PriceSource
	Clock  clock.Clock
	// Store is optional; without it state lives only in memory.
	Store journal.Store
	// Snapshot restores persisted state when non-nil.
	Snapshot *journal.Snapshot
	Logger   *zap.Logger
}

// Account is the read projection of the funds ledger with open marks.
type Account struct {
	ledger.Funds
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	Equity        decimal.Decimal `json:"equity"`
	OpenPositions int             `json:"open_positions"`
	Halted        bool            `json:"halted"`
}

// Engine owns one tenant's account, position book and trade log. mu guards
// all of them; order fills, tick marks and square-off all take it.
type Engine struct {
	user   string
	cfg    Config
	prices market.PriceSource
	clock  clock.Clock
	store  journal.Store
	log    *zap.Logger

	mu           sync.Mutex
	funds        ledger.Funds
	book         *ledger.Book
	trades       []ledger.Trade
	squareOffDay string
	halted       error
	unsaved      []ledger.Trade

	// persistMu orders snapshot writes so an older snapshot never lands
	// after a newer one.
	persistMu sync.Mutex
	// sqMu serializes square-off runs.
	sqMu sync.Mutex

	ticks   chan market.Tick
	dropped atomic.Uint64
}

func New(o Options) (*Engine, error) {
	if o.UserID == "" {
		return nil, errors.New("sim: empty user id")
	}
	if o.Prices == nil {
		return nil, errors.New("sim: nil price source")
	}
	if o.Clock == nil {
		return nil, errors.New("sim: nil clock")
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	cfg := o.Config
	if cfg.PriceTimeout <= 0 {
		cfg.PriceTimeout = DefaultPriceTimeout
	}
	if cfg.TickBuffer <= 0 {
		cfg.TickBuffer = DefaultTickBuffer
	}

	e := &Engine{
		user:   o.UserID,
		cfg:    cfg,
		prices: o.Prices,
		clock:  o.Clock,
		store:  o.Store,
		log:    o.Logger.Named("engine").With(zap.String("user", o.UserID)),
		ticks:  make(chan market.Tick, cfg.TickBuffer),
	}

	if s := o.Snapshot; s != nil {
		e.funds = s.Funds
		e.book = ledger.NewBook(s.Positions...)
		e.trades = append([]ledger.Trade(nil), s.Trades...)
		e.squareOffDay = s.SquareOffDay
		if err := ledger.Check(e.funds, e.book); err != nil {
			e.halted = err
			e.log.Error("restored state violates ledger invariants; engine halted", zap.Error(err))
		}
	} else {
		if !cfg.InitialCapital.IsPositive() {
			return nil, fmt.Errorf("sim: initial capital must be positive, got %s", cfg.InitialCapital)
		}
		e.funds = ledger.NewFunds(cfg.InitialCapital, clock.Day(e.clock.Now()))
		e.book = ledger.NewBook()
	}
	return e, nil
}

func (e *Engine) UserID() string { return e.user }

// PlaceOrder runs one order to a terminal state. On success it returns the
// trade and both the book and the funds reflect it; on failure it returns an
// *OrderError and nothing was changed.
func (e *Engine) PlaceOrder(ctx context.Context, req OrderRequest) (ledger.Trade, error) {
	o := newOrder(req, e.clock.Now())

	if err := e.admit(o); err != nil {
		return ledger.Trade{}, e.reject(o, err)
	}

	// Price resolution happens outside the lock so a slow source never
	// stalls tick processing.
	price, err := e.resolvePrice(ctx, o.Instrument)
	if err != nil {
		return ledger.Trade{}, e.reject(o, err)
	}
	if !o.limitMet(price) {
		return ledger.Trade{}, e.reject(o, fmt.Errorf("%w: ltp %s, limit %s", ErrLimitNotMet, price, o.LimitPrice.Decimal))
	}

	e.mu.Lock()
	trade, err := e.fillLocked(o, price)
	e.mu.Unlock()
	if err != nil {
		return ledger.Trade{}, e.reject(o, err)
	}

	e.log.Info("order filled",
		zap.String("order_id", o.ID),
		zap.String("instrument", trade.Instrument),
		zap.String("side", string(trade.Side)),
		zap.Int64("qty", trade.Quantity),
		zap.String("price", trade.FillPrice.String()),
		zap.String("realized_pnl", trade.RealizedPnL.String()),
		zap.String("tag", trade.Tag),
	)

	if err := e.Flush(ctx); err != nil {
		e.log.Warn("persist after fill failed; will retry on next save", zap.Error(err))
	}
	return trade, nil
}

// admit runs validation and the risk check against the current state.
func (e *Engine) admit(o Order) error {
	if err := o.validate(e.cfg.Universe); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.halted != nil {
		return fmt.Errorf("%w: %v", ErrEngineHalted, e.halted)
	}
	e.rolloverLocked()
	return risk.Check(e.cfg.Limits, e.exposureLocked(o))
}

// fillLocked re-checks the order against the state as of now and applies it.
func (e *Engine) fillLocked(o Order, price decimal.Decimal) (ledger.Trade, error) {
	if e.halted != nil {
		return ledger.Trade{}, fmt.Errorf("%w: %v", ErrEngineHalted, e.halted)
	}
	e.rolloverLocked()
	if err := risk.Check(e.cfg.Limits, e.exposureLocked(o)); err != nil {
		return ledger.Trade{}, err
	}

	fill, err := e.book.Plan(o.Instrument, o.Side, o.Quantity, price)
	if err != nil {
		return ledger.Trade{}, err
	}
	// The fill is applied to copies and only committed once the invariants
	// hold, so a breach leaves no trace of the order.
	funds := e.funds
	if err := funds.Settle(fill); err != nil {
		return ledger.Trade{}, err
	}
	funds.TradesToday++
	book := e.book.Clone()
	now := e.clock.Now()
	book.Apply(fill, now)

	if err := ledger.Check(funds, book); err != nil {
		e.halted = err
		e.log.Error("ledger invariant breached; engine halted", zap.Error(err), zap.String("order_id", o.ID))
		return ledger.Trade{}, fmt.Errorf("%w: %w", ErrEngineHalted, err)
	}

	trade := ledger.Trade{
		ID:          id.Trade(now),
		OrderID:     o.ID,
		Instrument:  o.Instrument,
		Side:        o.Side,
		Quantity:    o.Quantity,
		FillPrice:   price,
		RealizedPnL: fill.Realized,
		Product:     o.Product,
		Tag:         o.Tag,
		Time:        now,
	}
	e.funds, e.book = funds, book
	e.trades = append(e.trades, trade)
	e.unsaved = append(e.unsaved, trade)
	return trade, nil
}

func (e *Engine) exposureLocked(o Order) risk.Exposure {
	_, held := e.book.Get(o.Instrument)
	return risk.Exposure{
		Opening:       !e.book.Closes(o.Instrument, o.Side),
		Held:          held,
		OpenPositions: e.book.Len(),
		TradesToday:   e.funds.TradesToday,
		RealizedToday: e.funds.RealizedToday,
		Unrealized:    e.book.Unrealized(),
	}
}

func (e *Engine) rolloverLocked() {
	day := clock.Day(e.clock.Now())
	if prev := e.funds.Day; e.funds.ResetDay(day) {
		e.log.Info("day rollover", zap.String("from", prev), zap.String("to", day))
	}
}

func (e *Engine) reject(o Order, err error) error {
	o.Status = StatusRejected
	o.Reason = ReasonCode(err)
	e.log.Info("order rejected",
		zap.String("order_id", o.ID),
		zap.String("instrument", o.Instrument),
		zap.String("side", string(o.Side)),
		zap.Int64("qty", o.Quantity),
		zap.String("reason", o.Reason),
		zap.Error(err),
	)
	return &OrderError{Order: o, Err: err}
}

type priceResult struct {
	price decimal.Decimal
	err   error
}

// resolvePrice asks the price source for the LTP and gives up after
// PriceTimeout even if the source ignores its context.
func (e *Engine) resolvePrice(ctx context.Context, instrument string) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.PriceTimeout)
	defer cancel()

	ch := make(chan priceResult, 1)
	go func() {
		p, err := e.prices.LTP(ctx, instrument)
		ch <- priceResult{price: p, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			if errors.Is(r.err, ErrPriceUnavailable) {
				return decimal.Zero, r.err
			}
			return decimal.Zero, fmt.Errorf("%w: %s: %v", ErrPriceUnavailable, instrument, r.err)
		}
		if !r.price.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: %s: non-positive price %s", ErrPriceUnavailable, instrument, r.price)
		}
		return r.price, nil
	case <-ctx.Done():
		return decimal.Zero, fmt.Errorf("%w: %s: %v", ErrPriceUnavailable, instrument, ctx.Err())
	}
}

// OnTick queues a tick for the mark-to-market consumer. It never blocks; a
// full queue drops the tick and returns false.
func (e *Engine) OnTick(t market.Tick) bool {
	select {
	case e.ticks <- t:
		return true
	default:
		e.dropped.Add(1)
		return false
	}
}

// Dropped reports how many ticks were discarded because the queue was full.
func (e *Engine) Dropped() uint64 { return e.dropped.Load() }

// Run consumes queued ticks until ctx is done.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-e.ticks:
			e.applyTick(t)
		}
	}
}

// applyTick refreshes the cached mark of a held instrument. Ledger fields are
// never written here.
func (e *Engine) applyTick(t market.Tick) {
	if !t.LTP.IsPositive() {
		return
	}
	e.mu.Lock()
	e.book.Mark(t.Instrument, t.LTP)
	e.mu.Unlock()
}

func (e *Engine) Positions() []ledger.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.Positions()
}

func (e *Engine) Position(instrument string) (ledger.Position, bool) {
	instr, _ := market.NormalizeInstrument(instrument)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.Get(instr)
}

func (e *Engine) Trades() []ledger.Trade {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]ledger.Trade(nil), e.trades...)
}

// Account returns the funds as seen today. Daily counters from a previous
// day read as zero until the next order rolls the ledger over.
func (e *Engine) Account() Account {
	e.mu.Lock()
	defer e.mu.Unlock()

	f := e.funds
	f.ResetDay(clock.Day(e.clock.Now()))
	u := e.book.Unrealized()
	return Account{
		Funds:         f,
		UnrealizedPnL: u,
		Equity:        f.Equity().Add(u),
		OpenPositions: e.book.Len(),
		Halted:        e.halted != nil,
	}
}

// Halted returns the invariant breach that stopped the engine, if any.
func (e *Engine) Halted() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.halted
}

func (e *Engine) snapshotLocked() journal.Snapshot {
	return journal.Snapshot{
		UserID:       e.user,
		Funds:        e.funds,
		Positions:    e.book.Positions(),
		SquareOffDay: e.squareOffDay,
		SavedAt:      e.clock.Now(),
	}
}

// Flush writes the current state and any unsaved trades to the store.
func (e *Engine) Flush(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	e.persistMu.Lock()
	defer e.persistMu.Unlock()

	e.mu.Lock()
	snap := e.snapshotLocked()
	pending := e.unsaved
	e.unsaved = nil
	e.mu.Unlock()

	if err := e.store.Save(ctx, e.user, snap, pending...); err != nil {
		e.mu.Lock()
		e.unsaved = append(pending, e.unsaved...)
		e.mu.Unlock()
		return fmt.Errorf("save %q: %w", e.user, err)
	}
	return nil
}
