package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fundarb/internal/domain/model"
	"fundarb/internal/infrastructure/container"
	"fundarb/internal/interfaces/console"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newPositionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "positions",
		Aliases: []string{"pos"},
		Short:   "Manage tracked arbitrage positions and their funding ledger",
	}
	cmd.AddCommand(
		newPositionsListCmd(a),
		newPositionsShowCmd(a),
		newPositionsOpenCmd(a),
		newPositionsCloseCmd(a),
		newPositionsFlagCmd(a),
		newPositionsPayCmd(a),
		newPositionsSummaryCmd(a),
		newPositionsRebalanceCmd(a),
	)
	return cmd
}

func newPositionsListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List open positions",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return a.run(container.Options{}, func(ctx context.Context, c *container.Container) error {
				positions, err := c.App().PositionService().GetOpenPositions(ctx)
				if err != nil {
					return err
				}
				return a.emit(positions, func() error { return console.NewSinkTo(a.out).WritePositions(positions) })
			})
		},
	}
}

func newPositionsShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one position with its funding payments",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return a.run(container.Options{}, func(ctx context.Context, c *container.Container) error {
				svc := c.App().PositionService()
				p, ok, err := svc.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("position %s: %w", args[0], model.ErrNotFound)
				}
				pays, err := svc.ListFundingPayments(ctx, p.ID)
				if err != nil {
					return err
				}
				view := struct {
					Position model.Position         `json:"position"`
					Payments []model.FundingPayment `json:"payments"`
				}{p, pays}
				return a.emit(view, func() error {
					if err := console.NewSinkTo(a.out).WritePositions([]model.Position{p}); err != nil {
						return err
					}
					for _, pay := range pays {
						fmt.Fprintf(a.out, "  %s  long %s  short %s  net %s\n",
							pay.PaidAt.Format(time.RFC3339), pay.LongLegPayment, pay.ShortLegPayment, pay.NetPayment)
					}
					return nil
				})
			})
		},
	}
}

func newPositionsOpenCmd(a *app) *cobra.Command {
	var (
		req      model.NewPosition
		size     string
		fromBest bool
		meta     []string
	)
	cmd := &cobra.Command{
		Use:   "open",
		Short: "Record a new long/short position",
		Long: `Record a new position on a long/short exchange pair. With --from-best the
legs and entry rates are taken from the current best opportunity for --symbol.`,
		Args: cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			sizeUSD, err := decimal.NewFromString(size)
			if err != nil {
				return fmt.Errorf("%w: size %q", model.ErrValidation, size)
			}
			extra, err := parseMeta(meta)
			if err != nil {
				return err
			}

			return a.run(container.Options{}, func(ctx context.Context, c *container.Container) error {
				open := req
				open.SizeUSD = sizeUSD
				if fromBest {
					best, ok, err := c.App().OpportunityFinder().FindBest(ctx, bestFilter(a, req.Symbol))
					if err != nil {
						return err
					}
					if !ok {
						return fmt.Errorf("opportunity for %s: %w", req.Symbol, model.ErrNotFound)
					}
					open = model.PositionFromOpportunity(best, sizeUSD)
				}
				if open.Metadata == nil {
					open.Metadata = model.Metadata{}
				}
				for k, v := range extra {
					open.Metadata[k] = v
				}

				id, err := c.App().PositionService().Create(ctx, open)
				if err != nil {
					return err
				}
				return a.emit(map[string]string{"id": id}, func() error {
					_, err := fmt.Fprintln(a.out, id)
					return err
				})
			})
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&req.Symbol, "symbol", "s", "", "symbol, e.g. BTC")
	fs.StringVar(&req.LongExchange, "long", "", "exchange of the long leg")
	fs.StringVar(&req.ShortExchange, "short", "", "exchange of the short leg")
	fs.Float64Var(&req.EntryLongRate, "long-rate", 0, "funding rate of the long leg at entry")
	fs.Float64Var(&req.EntryShortRate, "short-rate", 0, "funding rate of the short leg at entry")
	fs.StringVar(&size, "size", "", "position size in usd")
	fs.BoolVar(&fromBest, "from-best", false, "use the current best opportunity for --symbol")
	fs.StringSliceVar(&meta, "meta", nil, "extra metadata as key=value")
	_ = cmd.MarkFlagRequired("symbol")
	_ = cmd.MarkFlagRequired("size")
	return cmd
}

func newPositionsCloseCmd(a *app) *cobra.Command {
	var (
		reason string
		pnl    string
	)
	cmd := &cobra.Command{
		Use:   "close <id>",
		Short: "Close a position; closing an already closed position is a no-op",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			var realized *decimal.Decimal
			if pnl != "" {
				d, err := decimal.NewFromString(pnl)
				if err != nil {
					return fmt.Errorf("%w: pnl %q", model.ErrValidation, pnl)
				}
				realized = &d
			}
			return a.run(container.Options{}, func(ctx context.Context, c *container.Container) error {
				p, err := c.App().PositionService().Close(ctx, args[0], reason, realized)
				if err != nil {
					return err
				}
				return a.emit(p, func() error { return console.NewSinkTo(a.out).WritePositions([]model.Position{p}) })
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "manual", "exit reason")
	cmd.Flags().StringVar(&pnl, "pnl", "", "realized pnl in usd (default cumulative funding)")
	return cmd
}

func newPositionsFlagCmd(a *app) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "flag <id>",
		Short: "Flag a position for rebalance",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return a.run(container.Options{}, func(ctx context.Context, c *container.Container) error {
				return c.App().PositionService().FlagForRebalance(ctx, args[0], reason)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "manual", "rebalance reason")
	return cmd
}

func newPositionsPayCmd(a *app) *cobra.Command {
	var (
		longLeg, shortLeg string
		at                string
		longRate          float64
		shortRate         float64
	)
	cmd := &cobra.Command{
		Use:   "pay <id>",
		Short: "Record a funding payment; net = short leg - long leg",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			longPay, err := decimal.NewFromString(longLeg)
			if err != nil {
				return fmt.Errorf("%w: long leg %q", model.ErrValidation, longLeg)
			}
			shortPay, err := decimal.NewFromString(shortLeg)
			if err != nil {
				return fmt.Errorf("%w: short leg %q", model.ErrValidation, shortLeg)
			}
			var paidAt time.Time
			if at != "" {
				if paidAt, err = time.Parse(time.RFC3339, at); err != nil {
					return fmt.Errorf("%w: at %q", model.ErrValidation, at)
				}
			}
			var rates *model.LegRates
			if cmd.Flags().Changed("long-rate") || cmd.Flags().Changed("short-rate") {
				rates = &model.LegRates{Long: longRate, Short: shortRate}
			}

			return a.run(container.Options{}, func(ctx context.Context, c *container.Container) error {
				pay, err := c.App().PositionService().RecordFundingPayment(ctx, args[0], longPay, shortPay, paidAt, rates, nil)
				if err != nil {
					return err
				}
				return a.emit(pay, func() error {
					_, err := fmt.Fprintf(a.out, "payment %d recorded, net %s\n", pay.ID, pay.NetPayment)
					return err
				})
			})
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&longLeg, "long", "0", "long leg payment in usd")
	fs.StringVar(&shortLeg, "short", "0", "short leg payment in usd")
	fs.StringVar(&at, "at", "", "payment time (RFC3339, default now)")
	fs.Float64Var(&longRate, "long-rate", 0, "long leg funding rate at payment")
	fs.Float64Var(&shortRate, "short-rate", 0, "short leg funding rate at payment")
	return cmd
}

func newPositionsSummaryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Aggregate exposure and funding across open positions",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return a.run(container.Options{}, func(ctx context.Context, c *container.Container) error {
				sum, err := c.App().PositionService().GetPortfolioSummary(ctx)
				if err != nil {
					return err
				}
				return a.emit(sum, func() error { return console.NewSinkTo(a.out).WriteSummary(sum) })
			})
		},
	}
}

func newPositionsRebalanceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rebalance",
		Short: "List open positions flagged for rebalance",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return a.run(container.Options{}, func(ctx context.Context, c *container.Container) error {
				positions, err := c.App().PositionService().GetPendingRebalancePositions(ctx)
				if err != nil {
					return err
				}
				return a.emit(positions, func() error { return console.NewSinkTo(a.out).WritePositions(positions) })
			})
		},
	}
}

// parseMeta key=value，数值与布尔按类型存储
func parseMeta(pairs []string) (model.Metadata, error) {
	out := model.Metadata{}
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: meta %q is not key=value", model.ErrValidation, kv)
		}
		switch {
		case isNumber(v):
			n, _ := strconv.ParseFloat(v, 64)
			out[k] = model.Number(n)
		case v == "true" || v == "false":
			out[k] = model.Bool(v == "true")
		default:
			out[k] = model.String(v)
		}
	}
	return out, nil
}

func isNumber(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}
