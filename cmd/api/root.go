package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/melih/lighthouse-ctl/internal/config"
)

var (
	configPath string
	listenAddr string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "lighthouse",
	Short: "Multi-host container control plane",
	Long: `lighthouse exposes the containers of one or more Docker hosts over HTTP.

Each configured host is addressed by its logical name:
  GET /container/<host>/<id>            inspect
  GET /container/<host>/<id>/<command>  pause, start, stop, remove
  GET /container/<host>/<id>/logs       live logs (server-sent events)
  GET /container/<host>/<id>/stats      live resource usage (server-sent events)`,
	SilenceUsage: true,
	RunE:         runServe,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML or TOML config file")
	rootCmd.PersistentFlags().StringVar(&listenAddr, "listen", "", "Listen address (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadConfig layers defaults, the config file, LIGHTHOUSE_* variables and
// flags, in that order.
func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configPath != "" {
		var err error
		if cfg, err = config.LoadConfigFromFile(configPath); err != nil {
			return nil, err
		}
	}
	if err := config.ApplyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if listenAddr != "" {
		cfg.Listen = listenAddr
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
