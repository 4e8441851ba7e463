// Package config loads ztl engine configuration from TOML files.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds the enumerated configuration of spec.md §6.
type Config struct {
	URI string `toml:"uri"`

	ZonesPerNode  int `toml:"zones_per_node"` // N
	LevelCount    int `toml:"level_count"`    // L
	MinWriteUnits int `toml:"min_write_units"`
	MinReadUnits  int `toml:"min_read_units"`
	SectorBytes   int `toml:"sector_bytes"`
	ReservedZones int `toml:"reserved_zones"` // M, metadata zones

	TotalZones     int    `toml:"total_zones"`      // device-wide zone count at Open
	SectorsPerZone uint64 `toml:"sectors_per_zone"` // zone capacity, sectors

	NodeMgmtPoolSize  int `toml:"node_mgmt_pool_size"`
	ReadResourceCount int `toml:"read_resource_count"`

	WriteRetryMax     int `toml:"write_retry_max"`
	ReadRetryMax      int `toml:"read_retry_max"`
	MetaWriteRetryMax int `toml:"meta_write_retry_max"`
	MgmtRetryMax      int `toml:"mgmt_retry_max"`

	RingDepth int `toml:"ring_depth"` // MAX_MCMD / RING

	CompressBaseSnapshots bool `toml:"compress_base_snapshots"`

	PokeInterval time.Duration `toml:"poke_interval"`
}

// Default returns the reference parameterization from spec.md (N=64, L=5).
func Default() Config {
	return Config{
		ZonesPerNode:      64,
		LevelCount:        5,
		MinWriteUnits:     8,
		MinReadUnits:      8,
		SectorBytes:       4096,
		ReservedZones:     2,
		TotalZones:        128,
		SectorsPerZone:    524288, // 2GiB zones at 4096-byte sectors
		NodeMgmtPoolSize:  8,
		ReadResourceCount: 16,
		WriteRetryMax:     3,
		ReadRetryMax:      3,
		MetaWriteRetryMax: 3,
		MgmtRetryMax:      3,
		RingDepth:         128,
		PokeInterval:      time.Microsecond,
	}
}

// Load reads and parses a TOML configuration file, filling unset fields
// from Default().
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for obviously invalid values.
func (c Config) Validate() error {
	if c.URI == "" {
		return fmt.Errorf("config: uri is required")
	}
	if c.ZonesPerNode <= 0 {
		return fmt.Errorf("config: zones_per_node must be positive")
	}
	if c.LevelCount <= 0 {
		return fmt.Errorf("config: level_count must be positive")
	}
	if c.MinWriteUnits <= 0 || c.MinReadUnits <= 0 {
		return fmt.Errorf("config: min_write_units and min_read_units must be positive")
	}
	if c.SectorBytes <= 0 {
		return fmt.Errorf("config: sector_bytes must be positive")
	}
	if c.TotalZones <= c.ReservedZones {
		return fmt.Errorf("config: total_zones must exceed reserved_zones")
	}
	if c.SectorsPerZone == 0 {
		return fmt.Errorf("config: sectors_per_zone must be positive")
	}
	return nil
}
