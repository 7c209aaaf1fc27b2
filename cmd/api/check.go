package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/melih/lighthouse-ctl/internal/adapters/registry"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and ping every host",
	Args:  cobra.NoArgs,
	RunE:  runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	hosts, err := registry.FromConfig(cfg)
	if err != nil {
		return err
	}
	defer hosts.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.RequestTimeout)
		defer cancel()
	}

	names := hosts.Names()
	results := make([]error, len(names))
	var g errgroup.Group
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			h, err := hosts.Resolve(name)
			if err == nil {
				err = h.Ping(ctx)
			}
			results[i] = err
			return nil
		})
	}
	_ = g.Wait()

	out := cmd.OutOrStdout()
	failed := 0
	for i, name := range names {
		if results[i] != nil {
			failed++
			fmt.Fprintf(out, "  ✗ %s: %v\n", name, results[i])
			continue
		}
		fmt.Fprintf(out, "  ✓ %s\n", name)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d hosts unreachable", failed, len(names))
	}
	return nil
}
