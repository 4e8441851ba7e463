package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/ztl"
)

func newFinishCmd() *cobra.Command {
	var node uint32

	cmd := &cobra.Command{
		Use:   "finish",
		Short: "Explicitly FINISH every zone of a node and wait for it to complete",
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

			if err := e.NodeFinish(node); err != nil {
				return fmt.Errorf("finish node %d: %w", node, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "finished node=%d\n", node)
			return nil
		},
	}

	cmd.Flags().Uint32Var(&node, "node", 0, "node id")
	return cmd
}
