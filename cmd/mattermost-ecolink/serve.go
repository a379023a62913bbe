// Copyright 2024-2026 Aiku AI

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aiku/mattermost-ecolink/pkg/bridge"
	"github.com/aiku/mattermost-ecolink/pkg/connector"
	"github.com/aiku/mattermost-ecolink/pkg/gamebus"
)

const shutdownTimeout = 30 * time.Second

var (
	configPath string
	noUpdate   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := bridge.LoadConfig(configPath, !noUpdate)
		if err != nil {
			return err
		}
		log, err := cfg.Logging.Compile()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		log.Info().Str("version", Tag).Str("commit", Commit).Msg("Starting mattermost-ecolink")
		if err := cfg.Validate(); err != nil {
			log.Warn().Err(err).Msg("Configuration has problems, the bridge may not connect")
		}

		bus, err := gamebus.Connect(cfg.Game, *log)
		if err != nil {
			return err
		}
		defer bus.Close()

		b, err := bridge.New(bridge.Options{
			Config: cfg,
			Chat:   connector.NewClient(cfg.Mattermost, *log),
			Game:   bus,
			Log:    *log,
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := b.Start(ctx); err != nil {
			return err
		}
		b.PostServerInitialize(ctx)

		var admin *http.Server
		if cfg.Admin.Addr != "" {
			admin = b.ServeAdmin(cfg.Admin.Addr)
		}

		<-ctx.Done()
		log.Info().Msg("Received shutdown signal")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if admin != nil {
			if err := admin.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("Failed to stop admin API")
			}
		}
		if err := b.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Shutdown finished with errors")
			return err
		}
		log.Info().Msg("Shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the config file")
	serveCmd.Flags().BoolVar(&noUpdate, "no-update", false, "do not write missing keys back to the config file")
}
