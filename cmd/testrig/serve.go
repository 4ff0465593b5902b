package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/KevinKickass/OpenTestRig/internal/system"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the simulated machine with the REST and WebSocket API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer logger.Sync()

		logger.Info("Config loaded successfully",
			zap.String("profile", cfg.Machine.Profile),
			zap.Strings("search_paths", cfg.Machine.SearchPaths))

		lifecycle, err := system.NewLifecycleManager(cfg, logger)
		if err != nil {
			return err
		}

		sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		errc := make(chan error, 1)
		go func() { errc <- lifecycle.Run(context.Background()) }()

		select {
		case err := <-errc:
			return err
		case <-sigCtx.Done():
			logger.Info("Shutdown signal received")
		}

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := lifecycle.Shutdown(ctx); err != nil {
			return err
		}
		if err := <-errc; err != nil {
			return err
		}

		logger.Info("OpenTestRig stopped successfully")
		return nil
	},
}
