package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/ztl"
)

func newReadCmd() *cobra.Command {
	var node uint32
	var offset uint64
	var size int
	var out string

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read size bytes from a node at offset, writing to stdout (or --out)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if size <= 0 {
				return fmt.Errorf("--size must be positive")
			}

			e, err := ztl.Open(context.Background(), cfg.URI, cfg)
			if err != nil {
				return fmt.Errorf("open %s: %w", cfg.URI, err)
			}
			defer e.Close()

			buf, err := e.Alloc(size)
			if err != nil {
				return fmt.Errorf("alloc: %w", err)
			}
			defer e.Free(buf)

			if err := e.Read(context.Background(), node, offset, buf); err != nil {
				return fmt.Errorf("read: %w", err)
			}

			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(buf)
				return err
			}
			return os.WriteFile(out, buf, 0o644)
		},
	}

	cmd.Flags().Uint32Var(&node, "node", 0, "node id")
	cmd.Flags().Uint64Var(&offset, "offset", 0, "byte offset within the node")
	cmd.Flags().IntVar(&size, "size", 0, "bytes to read")
	cmd.Flags().StringVar(&out, "out", "-", "output file, or - for stdout")
	return cmd
}
