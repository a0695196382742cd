package main

import (
	"context"
	"time"

	"fundarb/internal/infrastructure/container"
	"fundarb/internal/interfaces/console"

	"github.com/spf13/cobra"
)

func newMonitorCmd(a *app) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Refresh open positions against the latest rates and flag rebalances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("interval") {
				interval = a.cfg.MonitorInterval()
			}
			return a.run(container.Options{}, func(ctx context.Context, c *container.Container) error {
				mon := c.App().PositionMonitor(interval, a.cfg.App.PrintEveryMin, console.NewSinkTo(a.out), a.cfg.App.Color)
				return mon.Run(ctx)
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Minute, "mark interval (default app.monitor_interval_sec)")
	return cmd
}
