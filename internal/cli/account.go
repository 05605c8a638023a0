package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/papertrader/journal"
	"github.com/rustyeddy/papertrader/ledger"
	"github.com/rustyeddy/papertrader/market"
	"github.com/rustyeddy/papertrader/sim"
)

// withEngine opens the stack, seeds quotes and runs fn on the user's engine.
func (rc *rootConfig) withEngine(ctx context.Context, quotes map[string]string, fn func(*sim.Engine) error) (err error) {
	e, err := rc.openEnv()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := e.close(); err == nil {
			err = cerr
		}
	}()
	if err := e.seed(quotes); err != nil {
		return err
	}
	eng, err := e.reg.GetOrCreate(ctx, rc.UserID)
	if err != nil {
		return err
	}
	return fn(eng)
}

func printTrades(w io.Writer, trades []ledger.Trade) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tID\tINSTRUMENT\tSIDE\tQTY\tPRICE\tREALIZED\tTAG")
	for _, t := range trades {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			t.Time.Format("2006-01-02 15:04:05"), t.ID, t.Instrument, t.Side, t.Quantity,
			t.FillPrice.StringFixed(2), t.RealizedPnL.StringFixed(2), t.Tag)
	}
	tw.Flush()
}

func newOrderCmd(rc *rootConfig) *cobra.Command {
	var (
		instrument string
		side       string
		qty        int64
		kind       string
		limit      string
		product    string
		tag        string
		quotes     map[string]string
	)
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Place a paper order",
		Long: `Place one order against the stored account and print the fill.

Example:
  papertrader order --instrument RELIANCE --side BUY --qty 10 --ltp RELIANCE=2550.50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := market.ParseSide(side)
			if err != nil {
				return err
			}
			k, err := market.ParseOrderKind(kind)
			if err != nil {
				return err
			}
			req := sim.OrderRequest{
				Instrument: instrument,
				Side:       s,
				Quantity:   qty,
				Kind:       k,
				Product:    market.Product(product),
				Tag:        tag,
			}
			if limit != "" {
				p, err := decimal.NewFromString(limit)
				if err != nil {
					return fmt.Errorf("--limit: %w", err)
				}
				req.LimitPrice = decimal.NewNullDecimal(p)
			}

			return rc.withEngine(cmd.Context(), quotes, func(e *sim.Engine) error {
				t, err := e.PlaceOrder(cmd.Context(), req)
				if err != nil {
					return fmt.Errorf("%s: %w", sim.ReasonCode(err), err)
				}
				printTrades(cmd.OutOrStdout(), []ledger.Trade{t})
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&instrument, "instrument", "i", "", "instrument symbol (required)")
	cmd.Flags().StringVarP(&side, "side", "s", "BUY", "BUY or SELL")
	cmd.Flags().Int64VarP(&qty, "qty", "q", 0, "quantity (required)")
	cmd.Flags().StringVar(&kind, "kind", "MARKET", "MARKET or LIMIT")
	cmd.Flags().StringVar(&limit, "limit", "", "limit price for LIMIT orders")
	cmd.Flags().StringVar(&product, "product", string(market.MIS), "product type: MIS|CNC|NRML")
	cmd.Flags().StringVar(&tag, "tag", "", "free-form order tag")
	cmd.Flags().StringToStringVar(&quotes, "ltp", nil, "seed last traded prices, e.g. RELIANCE=2550.50")
	_ = cmd.MarkFlagRequired("instrument")
	_ = cmd.MarkFlagRequired("qty")
	return cmd
}

func newPositionsCmd(rc *rootConfig) *cobra.Command {
	var quotes map[string]string
	cmd := &cobra.Command{
		Use:   "positions",
		Short: "List open positions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rc.withEngine(cmd.Context(), quotes, func(e *sim.Engine) error {
				// quotes were validated by seed
				positions := markAll(e.Positions(), quotes)
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "INSTRUMENT\tQTY\tAVG\tLTP\tUNREALIZED")
				for _, p := range positions {
					fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", p.Instrument, p.Quantity,
						p.AveragePrice.StringFixed(2), p.LastPrice.StringFixed(2), p.UnrealizedPnL.StringFixed(2))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringToStringVar(&quotes, "ltp", nil, "mark positions at these prices, e.g. INFY=1510")
	return cmd
}

func markAll(ps []ledger.Position, quotes map[string]string) []ledger.Position {
	out := make([]ledger.Position, len(ps))
	for i, p := range ps {
		for instr, px := range quotes {
			n, _ := market.NormalizeInstrument(instr)
			if n != p.Instrument {
				continue
			}
			ltp := decimal.RequireFromString(px)
			p.LastPrice = ltp
			p.UnrealizedPnL = ltp.Sub(p.AveragePrice).Mul(decimal.NewFromInt(p.Quantity))
		}
		out[i] = p
	}
	return out
}

func newTradesCmd(rc *rootConfig) *cobra.Command {
	var asCSV bool
	cmd := &cobra.Command{
		Use:   "trades",
		Short: "List the trade log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rc.withEngine(cmd.Context(), nil, func(e *sim.Engine) error {
				trades := e.Trades()
				if asCSV {
					return journal.WriteTradesCSV(cmd.OutOrStdout(), trades)
				}
				printTrades(cmd.OutOrStdout(), trades)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asCSV, "csv", false, "write CSV instead of a table")
	return cmd
}

func newFundsCmd(rc *rootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "funds",
		Short: "Show the funds ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rc.withEngine(cmd.Context(), nil, func(e *sim.Engine) error {
				a := e.Account()
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "User:            %s\n", e.UserID())
				fmt.Fprintf(w, "Day:             %s\n", a.Day)
				fmt.Fprintf(w, "Initial capital: %s\n", a.InitialCapital.StringFixed(2))
				fmt.Fprintf(w, "Available:       %s\n", a.Available.StringFixed(2))
				fmt.Fprintf(w, "Invested:        %s\n", a.Invested.StringFixed(2))
				fmt.Fprintf(w, "Realized today:  %s\n", a.RealizedToday.StringFixed(2))
				fmt.Fprintf(w, "Realized total:  %s\n", a.RealizedTotal.StringFixed(2))
				fmt.Fprintf(w, "Trades today:    %d\n", a.TradesToday)
				fmt.Fprintf(w, "Open positions:  %d\n", a.OpenPositions)
				fmt.Fprintf(w, "Square-off:      %s\n", e.SquareOffState())
				if a.Halted {
					fmt.Fprintf(w, "HALTED:          %v\n", e.Halted())
				}
				return nil
			})
		},
	}
}

func newSquareOffCmd(rc *rootConfig) *cobra.Command {
	var quotes map[string]string
	cmd := &cobra.Command{
		Use:   "squareoff",
		Short: "Close every open position now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rc.withEngine(cmd.Context(), quotes, func(e *sim.Engine) error {
				trades, err := e.ForceSquareOff(cmd.Context())
				printTrades(cmd.OutOrStdout(), trades)
				return err
			})
		},
	}
	cmd.Flags().StringToStringVar(&quotes, "ltp", nil, "closing prices, e.g. INFY=1510,TCS=3490")
	return cmd
}
