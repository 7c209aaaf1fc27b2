package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/melih/lighthouse-ctl/internal/adapters/http"
	"github.com/melih/lighthouse-ctl/internal/adapters/registry"
	"github.com/melih/lighthouse-ctl/internal/core/services"
	"github.com/melih/lighthouse-ctl/internal/logging"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP control plane (default)",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	closeLog, err := logging.Init(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer closeLog()
	log := logging.Get()

	// 1. Infrastructure: one runtime connection per configured host
	hosts, err := registry.FromConfig(cfg)
	if err != nil {
		return fmt.Errorf("failed to connect hosts: %w", err)
	}
	defer func() {
		if err := hosts.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close host connections")
		}
	}()

	// 2. Core services
	router := services.NewRouter(hosts)
	relay := services.NewRelay(hosts, services.RelayOptions{
		Heartbeat: cfg.Stream.HeartbeatInterval,
		ChunkSize: cfg.Stream.ChunkSize,
	})

	// 3. HTTP surface
	handler := http.NewContainerHandler(router, relay, hosts, cfg.RequestTimeout)
	app := http.NewApp(handler, http.AppOptions{
		CORSAllowOrigins: cfg.CORSAllowOrigins,
		MetricsEnabled:   cfg.MetricsEnabled,
	})

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("listen", cfg.Listen).Strs("hosts", hosts.Names()).Msg("server starting")
		errCh <- app.Listen(cfg.Listen)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case err := <-errCh:
		relay.Shutdown()
		return fmt.Errorf("server failed: %w", err)
	case s := <-sig:
		log.Info().Str("signal", s.String()).Msg("shutting down")
	}

	// Streams never finish on their own, so they are closed before the
	// server waits for open connections.
	relay.Shutdown()
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		log.Warn().Err(err).Msg("server shutdown incomplete")
	}
	return nil
}
