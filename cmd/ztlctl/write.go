package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/ztl"
)

func newWriteCmd() *cobra.Command {
	var level int
	var in string

	cmd := &cobra.Command{
		Use:   "write",
		Short: "Write stdin (or --in) to the given level, printing the resulting pieces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			var data []byte
			if in == "" || in == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(in)
			}
			if err != nil {
				return fmt.Errorf("reading input: %w", err)
			}

			unit := cfg.MinWriteUnits * cfg.SectorBytes
			if unit <= 0 {
				return fmt.Errorf("config: min_write_units * sector_bytes must be positive")
			}
			if pad := len(data) % unit; pad != 0 {
				data = append(data, make([]byte, unit-pad)...)
			}

			e, err := ztl.Open(context.Background(), cfg.URI, cfg)
			if err != nil {
				return fmt.Errorf("open %s: %w", cfg.URI, err)
			}
			defer e.Close()

			pieces, err := e.Write(context.Background(), data, level)
			if err != nil {
				return fmt.Errorf("write: %w", err)
			}

			for _, p := range pieces {
				tuple := ztl.PackMapping(p)
				fmt.Fprintf(cmd.OutOrStdout(), "node=%d start=%d num=%d tuple=%#016x\n", p.NodeID, p.Start, p.Num, uint64(tuple))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&level, "level", 0, "write level (0-indexed)")
	cmd.Flags().StringVar(&in, "in", "-", "input file, or - for stdin")
	return cmd
}
