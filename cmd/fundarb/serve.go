package main

import (
	"context"
	"time"

	"fundarb/internal/infrastructure/container"
	"fundarb/internal/interfaces/httpserver"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		addr    string
		collect bool
		monitor bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve metrics, health and read-only JSON endpoints",
		Long: `Start the HTTP server exposing /metrics, /healthz and /api/*. With
--collect the collection loop runs in the same process, and with
--monitor the position monitor does too.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("addr") {
				addr = a.cfg.Server.Addr
			}
			return a.run(container.Options{WithAdapters: collect}, func(ctx context.Context, c *container.Container) error {
				svc := c.App()
				cfg := httpserver.Config{
					Addr:      addr,
					Scanner:   svc.OpportunityFinder(),
					Positions: svc.PositionService(),
					Exchanges: c.Store(),
					Quotes:    c.Store(),
				}
				if mirror := c.RedisMirror(); mirror != nil {
					cfg.Live = mirror
				}
				srv := httpserver.New(cfg)

				g, gctx := errgroup.WithContext(ctx)
				g.Go(srv.Start)
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
				if collect {
					g.Go(func() error { return svc.FundingRateSyncer().Run(gctx) })
				}
				if monitor {
					g.Go(func() error {
						return svc.PositionMonitor(a.cfg.MonitorInterval(), 0, nil, false).Run(gctx)
					})
				}

				log.Info().
					Str("addr", addr).
					Bool("collect", collect).
					Bool("monitor", monitor).
					Msg("fundarb serving")
				return g.Wait()
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":9108", "listen address (default server.addr)")
	cmd.Flags().BoolVar(&collect, "collect", false, "run the collection loop in-process")
	cmd.Flags().BoolVar(&monitor, "monitor", false, "run the position monitor in-process")
	return cmd
}
