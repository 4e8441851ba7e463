package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/ztl"
	"github.com/ehrlich-b/ztl/internal/logging"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Open (and immediately close) a device, proving the config is usable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			e, err := ztl.Open(context.Background(), cfg.URI, cfg)
			if err != nil {
				return fmt.Errorf("open %s: %w", cfg.URI, err)
			}
			defer e.Close()
			logging.Infof("opened %s (%d zones, %d/node)", cfg.URI, cfg.TotalZones, cfg.ZonesPerNode)
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %s\n", cfg.URI)
			return nil
		},
	}
}
