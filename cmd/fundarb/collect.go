package main

import (
	"context"

	"fundarb/internal/domain/model"
	"fundarb/internal/infrastructure/container"
	"fundarb/internal/interfaces/console"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newCollectCmd(a *app) *cobra.Command {
	var (
		loop       bool
		marketData bool
	)
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Fetch funding rates (and optionally market data) from every enabled exchange",
		Long: `Run one collection pass across all enabled exchange adapters and store
the funding rate snapshots. With --loop the pass repeats every
collection.interval_sec until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("market-data") {
				a.cfg.Collection.IncludeMarketData = marketData
			}
			include := a.cfg.Collection.IncludeMarketData
			sink := console.NewSinkTo(a.out)

			return a.run(container.Options{WithAdapters: true}, func(ctx context.Context, c *container.Container) error {
				if !loop {
					sum, err := c.App().Collector().CollectAll(ctx, include)
					if err != nil {
						return err
					}
					return a.emit(sum, func() error { return sink.WriteCollection(sum) })
				}

				syncer := c.App().FundingRateSyncer()
				syncer.OnSummary(func(sum model.CollectionSummary) {
					if err := a.emit(sum, func() error { return sink.WriteCollection(sum) }); err != nil {
						log.Warn().Err(err).Msg("print collection summary failed")
					}
				})
				log.Info().
					Dur("interval", a.cfg.CollectionInterval()).
					Bool("market_data", include).
					Msg("collection loop started")
				return syncer.Run(ctx)
			})
		},
	}
	cmd.Flags().BoolVar(&loop, "loop", false, "keep collecting every collection.interval_sec")
	cmd.Flags().BoolVar(&marketData, "market-data", false, "also fetch volume, open interest and spreads")
	return cmd
}
