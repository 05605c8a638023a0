// Package session owns the per-tenant engines of one process. Each user id
// maps to exactly one sim.Engine, created on first access from persisted
// state and kept for the lifetime of the registry.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/rustyeddy/papertrader/internal/clock"
	"github.com/rustyeddy/papertrader/journal"
	"github.com/rustyeddy/papertrader/market"
	"github.com/rustyeddy/papertrader/sim"
)

var (
	ErrEmptyUserID = errors.New("session: empty user id")
	ErrClosed      = errors.New("session: registry closed")
)

// DefaultSweepParallelism bounds how many tenants a sweep squares off at once.
const DefaultSweepParallelism = 8

type Options struct {
	Engine sim.Config
	Prices market.PriceSource
	Clock  clock.Clock
	Store  journal.Store
	Logger *zap.Logger
	// SweepParallelism defaults to DefaultSweepParallelism.
	SweepParallelism int
}

type Registry struct {
	opts Options
	log  *zap.Logger

	mu      sync.RWMutex
	engines map[string]*sim.Engine
	closed  bool
	loads   singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(o Options) (*Registry, error) {
	if o.Prices == nil {
		return nil, errors.New("session: nil price source")
	}
	if o.Clock == nil {
		return nil, errors.New("session: nil clock")
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.SweepParallelism <= 0 {
		o.SweepParallelism = DefaultSweepParallelism
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		opts:    o,
		log:     o.Logger.Named("registry"),
		engines: make(map[string]*sim.Engine),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// GetOrCreate returns the engine for userID, loading its persisted state on
// first use. Concurrent first calls for one user share a single load, and the
// load runs without the registry lock so other users are never held up.
func (r *Registry) GetOrCreate(ctx context.Context, userID string) (*sim.Engine, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}
	r.mu.RLock()
	e, ok := r.engines[userID]
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	if ok {
		return e, nil
	}

	// callers joining an in-flight load share the first caller's ctx
	v, err, _ := r.loads.Do(userID, func() (any, error) {
		return r.create(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*sim.Engine), nil
}

func (r *Registry) create(ctx context.Context, userID string) (*sim.Engine, error) {
	if e, ok := r.Lookup(userID); ok {
		return e, nil
	}

	var snap *journal.Snapshot
	if r.opts.Store != nil {
		s, err := r.opts.Store.Load(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("load %q: %w", userID, err)
		}
		snap = s
	}

	e, err := sim.New(sim.Options{
		UserID:   userID,
		Config:   r.opts.Engine,
		Prices:   r.opts.Prices,
		Clock:    r.opts.Clock,
		Store:    r.opts.Store,
		Snapshot: snap,
		Logger:   r.opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if prev, ok := r.engines[userID]; ok {
		return prev, nil
	}
	r.engines[userID] = e

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		e.Run(r.ctx)
	}()

	r.log.Info("engine started", zap.String("user", userID), zap.Bool("restored", snap != nil))
	return e, nil
}

// Lookup returns the engine for userID without creating one.
func (r *Registry) Lookup(userID string) (*sim.Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[userID]
	return e, ok
}

func (r *Registry) Users() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := make([]string, 0, len(r.engines))
	for u := range r.engines {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

func (r *Registry) snapshot() []*sim.Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*sim.Engine, 0, len(r.engines))
	for _, e := range r.engines {
		out = append(out, e)
	}
	return out
}

// OnTick hands t to every engine's tick queue. It never blocks.
func (r *Registry) OnTick(t market.Tick) {
	for _, e := range r.snapshot() {
		if !e.OnTick(t) {
			r.log.Debug("tick dropped", zap.String("user", e.UserID()), zap.String("instrument", t.Instrument))
		}
	}
}

// SweepSquareOff runs the cutoff check on every engine. Tenants are
// independent: one tenant's failure does not stop the others, and all
// failures are returned joined.
func (r *Registry) SweepSquareOff(ctx context.Context) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(r.opts.SweepParallelism)

	for _, e := range r.snapshot() {
		e := e
		g.Go(func() error {
			trades, err := e.CheckSquareOff(ctx)
			if len(trades) > 0 {
				r.log.Info("square-off swept", zap.String("user", e.UserID()), zap.Int("closed", len(trades)))
			}
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("user %q: %w", e.UserID(), err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Close stops every tick consumer and flushes each engine's state.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()

	engines := r.snapshot()
	var errs []error
	for _, e := range engines {
		if err := e.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	r.log.Info("registry closed", zap.Int("engines", len(engines)))
	return errors.Join(errs...)
}
