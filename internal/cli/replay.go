package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/papertrader/broker"
	"github.com/rustyeddy/papertrader/internal/clock"
	"github.com/rustyeddy/papertrader/market"
	"github.com/rustyeddy/papertrader/replay"
)

func newReplayCmd(rc *rootConfig) *cobra.Command {
	var eventFirst bool

	cmd := &cobra.Command{
		Use:   "replay <ticks.csv>",
		Short: "Replay recorded ticks and scripted orders through the paper broker",
		Long: `Replay a CSV of ticks, optionally with scripted orders, on a simulated
clock. The cutoff square-off fires at the recorded time.

Columns: time,instrument,ltp[,user,event,arg1,arg2,arg3]
Events:  BUY|SELL qty [limit] [tag], SQUAREOFF

Rows without a user act for --user.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			cutoff, err := rc.cfg.SquareOff.ParseCutoff()
			if err != nil {
				return err
			}
			clk := clock.NewFake(time.Time{}, cutoff)
			e, err := rc.openEnvAt(clk)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := e.close(); err == nil {
					err = cerr
				}
			}()

			stats, err := replay.CSV(cmd.Context(), f, broker.NewPaper(e.reg), replay.Options{
				TickThenEvent: !eventFirst,
				Ticks: func(t market.Tick) {
					e.ticks.Set(t)
					e.reg.OnTick(t)
				},
				Clock:       clk,
				Sweep:       e.reg.SweepSquareOff,
				DefaultUser: rc.UserID,
				Logger:      rc.log,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rows=%d orders=%d rejected=%d squareoffs=%d users=%d\n",
				stats.Rows, stats.Orders, stats.Rejected, stats.SquareOffs, len(e.reg.Users()))
			return nil
		},
	}
	cmd.Flags().BoolVar(&eventFirst, "event-first", false, "apply each row's event before its tick")
	return cmd
}
