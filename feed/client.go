// Package feed streams last-traded prices from a WebSocket endpoint into the
// tick cache and the per-tenant engines.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rustyeddy/papertrader/market"
)

const DefaultReconnect = 5 * time.Second

// TickSink receives every accepted tick. It must not block.
type TickSink interface {
	OnTick(market.Tick)
}

type Options struct {
	URL         string
	Instruments []string
	Reconnect   time.Duration
	Store       *market.TickStore
	Sink        TickSink
	Dialer      *websocket.Dialer
	Logger      *zap.Logger
	// Now stamps ticks that arrive without a timestamp.
	Now func() time.Time
}

type subscribeMsg struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

type tickMsg struct {
	Instrument string          `json:"instrument"`
	LTP        decimal.Decimal `json:"ltp"`
	TS         time.Time       `json:"ts"`
}

type Client struct {
	opts Options
	log  *zap.Logger

	received  atomic.Uint64
	malformed atomic.Uint64
}

func New(o Options) (*Client, error) {
	if o.URL == "" {
		return nil, errors.New("feed: empty url")
	}
	if o.Store == nil && o.Sink == nil {
		return nil, errors.New("feed: nothing to deliver ticks to")
	}
	if o.Reconnect <= 0 {
		o.Reconnect = DefaultReconnect
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return &Client{opts: o, log: o.Logger.Named("feed")}, nil
}

// Received and Malformed count inbound messages since the client started.
func (c *Client) Received() uint64  { return c.received.Load() }
func (c *Client) Malformed() uint64 { return c.malformed.Load() }

// Run keeps a connection open until ctx ends, reconnecting after
// Options.Reconnect whenever the connection drops.
func (c *Client) Run(ctx context.Context) error {
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("feed disconnected", zap.Error(err), zap.Duration("retry_in", c.opts.Reconnect))

		t := time.NewTimer(c.opts.Reconnect)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (c *Client) session(ctx context.Context) error {
	conn, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	if len(c.opts.Instruments) > 0 {
		if err := conn.WriteJSON(subscribeMsg{Op: "subscribe", Args: c.opts.Instruments}); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}
	c.log.Info("feed connected", zap.String("url", c.opts.URL), zap.Int("instruments", len(c.opts.Instruments)))

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		c.received.Add(1)
		t, err := c.decode(msg)
		if err != nil {
			c.malformed.Add(1)
			c.log.Debug("skipping message", zap.Error(err), zap.ByteString("raw", msg))
			continue
		}
		c.deliver(t)
	}
}

func (c *Client) decode(msg []byte) (market.Tick, error) {
	var m tickMsg
	if err := json.Unmarshal(msg, &m); err != nil {
		return market.Tick{}, err
	}
	instr, ok := market.NormalizeInstrument(m.Instrument)
	if !ok {
		return market.Tick{}, fmt.Errorf("bad instrument %q", m.Instrument)
	}
	if !m.LTP.IsPositive() {
		return market.Tick{}, fmt.Errorf("bad ltp %s for %s", m.LTP, instr)
	}
	ts := m.TS
	if ts.IsZero() {
		ts = c.opts.Now()
	}
	return market.Tick{Instrument: instr, LTP: m.LTP, Time: ts}, nil
}

func (c *Client) deliver(t market.Tick) {
	if c.opts.Store != nil {
		c.opts.Store.Set(t)
	}
	if c.opts.Sink != nil {
		c.opts.Sink.OnTick(t)
	}
}
