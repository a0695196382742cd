package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"fundarb/internal/infrastructure/config"
	"fundarb/internal/infrastructure/container"
	"fundarb/internal/infrastructure/logger"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "configs/fundarb.toml"

// app 命令共享的全局状态
type app struct {
	configPath string
	logLevel   string
	jsonOut    bool

	cfg       *config.Config
	logCloser io.Closer
	out       io.Writer
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}

	root := &cobra.Command{
		Use:   "fundarb",
		Short: "Cross-exchange perpetual funding rate arbitrage engine",
		Long: `fundarb collects perpetual futures funding rates from multiple exchanges,
scores delta-neutral long/short pairs net of trading fees, and tracks the
positions opened on them together with their funding payment ledger.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logCloser != nil {
				_ = a.logCloser.Close()
			}
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", defaultConfigPath, "path to config toml")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override app.log_level")
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "print results as JSON")

	root.AddCommand(
		newCollectCmd(a),
		newScanCmd(a),
		newBestCmd(a),
		newPositionsCmd(a),
		newMonitorCmd(a),
		newServeCmd(a),
	)
	root.SetOut(out)
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	path := a.configPath
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config") {
		// 默认路径不存在时只用内置默认值与环境变量
		path = ""
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if a.logLevel != "" {
		cfg.App.LogLevel = a.logLevel
	}
	a.cfg = cfg
	a.logCloser = logger.Setup(logger.Options{
		Level:   cfg.App.LogLevel,
		File:    cfg.App.LogFile,
		NoColor: !cfg.App.Color,
	})

	log.Debug().
		Str("config", path).
		Str("storage", cfg.Storage.Driver).
		Strs("exchanges", cfg.EnabledExchanges()).
		Int("symbols", len(cfg.Symbols.List)).
		Msg("config loaded")
	return nil
}

// run 构建基础设施容器并在信号可取消的 ctx 中执行 fn
func (a *app) run(opts container.Options, fn func(ctx context.Context, c *container.Container) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := container.New(ctx, a.cfg, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Msg("container close failed")
		}
	}()
	return fn(ctx, c)
}

// emit JSON 模式下编码 v，否则调用 table
func (a *app) emit(v interface{}, table func() error) error {
	if !a.jsonOut {
		return table()
	}
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
