package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zlc_ai/messaging-bridge/internal/config"
	"github.com/zlc_ai/messaging-bridge/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if logLevel != "" {
			cfg.Observability.LogLevel = logLevel
		}

		logger := initLogger(cfg.Observability.LogLevel)
		defer logger.Sync()

		logger.Info("Starting Messaging Bridge",
			zap.String("version", version),
			zap.String("config", configPath),
			zap.String("provider", cfg.Bridge.Provider),
			zap.String("platform", cfg.Bridge.Platform))

		srv, err := server.New(cfg, logger, version)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("start bridge: %w", err)
		}

		serveErr := make(chan error, 1)
		go func() {
			serveErr <- srv.ListenAndServe()
		}()
		printBanner(cmd, cfg)

		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received")
		case err := <-serveErr:
			if err != nil {
				logger.Error("HTTP server error", zap.Error(err))
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Shutdown error", zap.Error(err))
			return err
		}

		logger.Info("Messaging Bridge stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func printBanner(cmd *cobra.Command, cfg *config.Config) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nMessaging Bridge v%s\n", version)
	fmt.Fprintf(out, "  HTTP:      http://localhost:%d\n", cfg.Server.HTTPPort)
	fmt.Fprintf(out, "  Provider:  %s (%s)\n", cfg.Bridge.Provider, cfg.Bridge.Platform)
	if cfg.Transport.WebSocket.Enabled {
		fmt.Fprintf(out, "  WS         %s\n", cfg.Server.WebSocketPath)
	}
	if cfg.Transport.Polling.Enabled {
		fmt.Fprintf(out, "  POST       %s/command\n", cfg.Transport.Polling.Path)
		fmt.Fprintf(out, "  GET        %s/events?since=N\n", cfg.Transport.Polling.Path)
	}
	if cfg.EventHook.Enabled {
		fmt.Fprintf(out, "  Webhook:   %s\n", cfg.EventHook.URL)
	}
	fmt.Fprintf(out, "  GET        /health\n\n")
}
