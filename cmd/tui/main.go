package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/stlehmann/qthmi.ads/internal/config"
	"github.com/stlehmann/qthmi.ads/internal/system"
	"github.com/stlehmann/qthmi.ads/internal/tui"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := pflag.StringP("config", "c", "configs/config.yaml", "path to the config file")
	screen := pflag.StringP("screen", "s", "", "screen id, overrides screens.default")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *screen != "" {
		cfg.Screens.Default = *screen
	}

	level := zapcore.InfoLevel
	if cfg.Log.Development {
		level = zapcore.DebugLevel
	}
	app := tui.NewApp(level)
	logger := app.Logger()

	lifecycle, err := system.NewLifecycleManager(cfg, nil, logger, system.WithoutServers())
	if err != nil {
		return err
	}
	statuses := lifecycle.SubscribeStatus()
	defer lifecycle.UnsubscribeStatus(statuses)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := lifecycle.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	if err := app.Bind(lifecycle.Panel()); err != nil {
		lifecycle.Shutdown(context.Background())
		return err
	}

	runErr := app.Run(ctx, statuses)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := lifecycle.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
		return err
	}
	return runErr
}
