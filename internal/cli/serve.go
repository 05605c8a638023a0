package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/papertrader/api"
	"github.com/rustyeddy/papertrader/broker"
	"github.com/rustyeddy/papertrader/feed"
	"github.com/rustyeddy/papertrader/internal/cronrunner"
)

func newServeCmd(rc *rootConfig) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, tick feed and square-off scheduler",
		Long: `Serve the paper trading API. Ticks from feed.url mark open positions,
and the square-off sweep runs on square_off.schedule.

Example:
  papertrader serve --config papertrader.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				rc.cfg.API.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return rc.serve(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides api.addr)")
	return cmd
}

func (rc *rootConfig) serve(ctx context.Context) (err error) {
	cfg := rc.cfg
	log := rc.log

	mode, err := broker.ParseMode(cfg.Mode)
	if err != nil {
		return err
	}
	cutoff, err := cfg.SquareOff.ParseCutoff()
	if err != nil {
		return err
	}
	reconnect, err := cfg.Feed.ReconnectDuration()
	if err != nil {
		return err
	}

	e, err := rc.openEnv()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := e.close(); err == nil {
			err = cerr
		}
	}()

	b, err := broker.Select(mode, broker.NewPaper(e.reg), nil)
	if err != nil {
		return err
	}

	runner := cronrunner.New(log, ctx, cutoff.Loc)
	if _, err := runner.Add("square-off sweep", cfg.SquareOff.Schedule, func(ctx context.Context) {
		if err := e.reg.SweepSquareOff(ctx); err != nil {
			log.Warn("square-off sweep incomplete", zap.Error(err))
		}
	}); err != nil {
		return err
	}
	runner.Start()
	defer runner.Stop()

	srv := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           api.NewServer(b, api.NewAuthenticator(cfg.API.JWTSecret), log).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("api listening", zap.String("addr", srv.Addr), zap.String("broker", b.Name()),
			zap.Bool("jwt", cfg.API.JWTSecret != ""), zap.String("cutoff", cutoff.String()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if cfg.Feed.URL != "" {
		fc, err := feed.New(feed.Options{
			URL:         cfg.Feed.URL,
			Instruments: cfg.Market.Instruments,
			Reconnect:   reconnect,
			Store:       e.ticks,
			Sink:        e.reg,
			Logger:      log,
			Now:         e.clock.Now,
		})
		if err != nil {
			return err
		}
		g.Go(func() error {
			if err := fc.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	} else {
		log.Warn("no feed.url configured; prices come only from manual quotes")
	}

	return g.Wait()
}
