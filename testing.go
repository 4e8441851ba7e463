package ztl

import (
	"context"
	"fmt"
	"sync/atomic"
)

// testURICounter gives each OpenForTesting call its own nullzns instance;
// backend/nullzns.New allocates a fresh temp-file-backed device per call, but the
// URI string is still required to route through the "nullzns:" scheme in
// openBackend, so the suffix is cosmetic rather than an actual handle.
var testURICounter atomic.Uint64

// OpenForTesting opens an Engine against a fresh in-process simulated ZNS
// device (backend/nullzns), for unit tests of code built on top of this
// package that don't want to depend on a real block device or file. cfg
// should come from DefaultConfig with any fields overridden; its geometry
// fields (TotalZones, SectorsPerZone, SectorBytes) determine the size of
// the simulated device.
func OpenForTesting(cfg Config) (*Engine, error) {
	cfg.URI = fmt.Sprintf("nullzns:test-%d", testURICounter.Add(1))
	return Open(context.Background(), cfg.URI, cfg)
}
