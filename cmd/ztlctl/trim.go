package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/ztl"
)

func newTrimCmd() *cobra.Command {
	var node uint32
	var start uint32
	var num uint32

	cmd := &cobra.Command{
		Use:   "trim",
		Short: "Invalidate a previously-written piece, triggering node reclamation once it empties",
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

			if err := e.Trim(ztl.Piece{NodeID: node, Start: start, Num: num}); err != nil {
				return fmt.Errorf("trim: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "trimmed node=%d start=%d num=%d\n", node, start, num)
			return nil
		},
	}

	cmd.Flags().Uint32Var(&node, "node", 0, "node id")
	cmd.Flags().Uint32Var(&start, "start", 0, "piece start, in sectors (as printed by write)")
	cmd.Flags().Uint32Var(&num, "num", 0, "piece length, in sectors; a multiple of min_write_units")
	return cmd
}
