package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat",
		Short: "Print the resolved geometry and retry/pool configuration, without opening the device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "uri               = %s\n", cfg.URI)
			fmt.Fprintf(w, "total_zones       = %d\n", cfg.TotalZones)
			fmt.Fprintf(w, "reserved_zones    = %d\n", cfg.ReservedZones)
			fmt.Fprintf(w, "zones_per_node    = %d\n", cfg.ZonesPerNode)
			fmt.Fprintf(w, "sectors_per_zone  = %d\n", cfg.SectorsPerZone)
			fmt.Fprintf(w, "sector_bytes      = %d\n", cfg.SectorBytes)
			fmt.Fprintf(w, "level_count       = %d\n", cfg.LevelCount)
			fmt.Fprintf(w, "min_write_units   = %d\n", cfg.MinWriteUnits)
			fmt.Fprintf(w, "min_read_units    = %d\n", cfg.MinReadUnits)
			fmt.Fprintf(w, "node_mgmt_pool    = %d\n", cfg.NodeMgmtPoolSize)
			fmt.Fprintf(w, "read_resources    = %d\n", cfg.ReadResourceCount)
			fmt.Fprintf(w, "ring_depth        = %d\n", cfg.RingDepth)
			return nil
		},
	}
}
