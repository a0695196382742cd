package main

import (
	"context"
	"fmt"

	"fundarb/internal/application/service"
	"fundarb/internal/domain/model"
	"fundarb/internal/infrastructure/container"
	"fundarb/internal/interfaces/console"

	"github.com/spf13/cobra"
)

// filterFlags 扫描类命令共享的过滤参数
type filterFlags struct {
	f service.OpportunityFilter

	oiImbalance string
	optionals   map[string]*float64
}

func bindFilterFlags(cmd *cobra.Command) *filterFlags {
	ff := &filterFlags{optionals: map[string]*float64{}}
	fs := cmd.Flags()
	fs.StringSliceVarP(&ff.f.Symbols, "symbols", "s", nil, "only these symbols (comma separated)")
	fs.StringVar(&ff.f.RequiredExchange, "required-exchange", "", "one leg must be on this exchange")
	fs.StringSliceVar(&ff.f.IncludeExchanges, "include", nil, "at least one leg on these exchanges")
	fs.StringSliceVar(&ff.f.ExcludeExchanges, "exclude", nil, "neither leg on these exchanges")
	fs.StringSliceVar(&ff.f.WhitelistExchanges, "whitelist", nil, "both legs on these exchanges")
	fs.Float64Var(&ff.f.MinDivergence, "min-divergence", 0, "minimum rate divergence per period")
	fs.Float64Var(&ff.f.MinProfitPercent, "min-profit", 0, "minimum net profit per period (fraction)")
	fs.BoolVar(&ff.f.UseTaker, "taker", false, "price entry and exit with taker fees")
	fs.Float64Var(&ff.f.IntervalHours, "interval-hours", 0, "override the funding interval used for APY")
	fs.StringVar(&ff.f.SortBy, "sort", "", "sort field: net_profit_percent, annualized_apy, divergence, volume_24h, open_interest, oi_ratio, spread_bps")
	fs.BoolVar(&ff.f.Ascending, "asc", false, "sort ascending")
	fs.IntVarP(&ff.f.Limit, "limit", "n", 0, "maximum results (default opportunity.default_limit, max 100)")
	fs.StringVar(&ff.oiImbalance, "oi-imbalance", "", "balanced, long_heavy or short_heavy")

	for _, o := range []struct{ name, usage string }{
		{"min-volume", "minimum 24h volume of the smaller leg"},
		{"max-volume", "maximum 24h volume of the smaller leg"},
		{"min-oi", "minimum open interest (usd) of the smaller leg"},
		{"max-oi", "maximum open interest (usd) of the smaller leg"},
		{"min-oi-ratio", "minimum long/short open interest ratio"},
		{"max-oi-ratio", "maximum long/short open interest ratio"},
		{"max-spread-bps", "maximum average bid/ask spread in bps"},
	} {
		ff.optionals[o.name] = fs.Float64(o.name, 0, o.usage)
	}
	return ff
}

// filter 只有显式给出的可选条件才生效
func (ff *filterFlags) filter(cmd *cobra.Command, a *app) service.OpportunityFilter {
	f := ff.f
	f.OIImbalance = model.OIImbalance(ff.oiImbalance)
	if !cmd.Flags().Changed("taker") {
		f.UseTaker = a.cfg.Opportunity.UseTakerFees
	}

	targets := map[string]**float64{
		"min-volume":     &f.MinVolume24h,
		"max-volume":     &f.MaxVolume24h,
		"min-oi":         &f.MinOpenInterest,
		"max-oi":         &f.MaxOpenInterest,
		"min-oi-ratio":   &f.MinOIRatio,
		"max-oi-ratio":   &f.MaxOIRatio,
		"max-spread-bps": &f.MaxSpreadBps,
	}
	for name, dst := range targets {
		if cmd.Flags().Changed(name) {
			v := *ff.optionals[name]
			*dst = &v
		}
	}
	return f
}

func newScanCmd(a *app) *cobra.Command {
	var ff *filterFlags
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List fee-adjusted funding arbitrage opportunities from the latest rates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := ff.filter(cmd, a)
			return a.run(container.Options{}, func(ctx context.Context, c *container.Container) error {
				opps, err := c.App().OpportunityFinder().FindOpportunities(ctx, filter)
				if err != nil {
					return err
				}
				return a.emit(opps, func() error { return console.NewSinkTo(a.out).WriteOpportunities(opps) })
			})
		},
	}
	ff = bindFilterFlags(cmd)
	return cmd
}

func newBestCmd(a *app) *cobra.Command {
	var ff *filterFlags
	cmd := &cobra.Command{
		Use:   "best",
		Short: "Show the single best opportunity under the given filter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := ff.filter(cmd, a)
			return a.run(container.Options{}, func(ctx context.Context, c *container.Container) error {
				best, ok, err := c.App().OpportunityFinder().FindBest(ctx, filter)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("opportunity: %w", model.ErrNotFound)
				}
				return a.emit(best, func() error {
					return console.NewSinkTo(a.out).WriteOpportunities([]model.ArbitrageOpportunity{best})
				})
			})
		},
	}
	ff = bindFilterFlags(cmd)
	return cmd
}

// bestFilter 开仓 --from-best 使用的过滤条件
func bestFilter(a *app, symbol string) service.OpportunityFilter {
	return service.OpportunityFilter{
		Symbols:  []string{symbol},
		UseTaker: a.cfg.Opportunity.UseTakerFees,
	}
}
