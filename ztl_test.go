package ztl

import (
	"context"
	"testing"
)

// testConfig returns a small, fast geometry suitable for exercising the
// façade against backend/nullzns: 2 reserved zones plus 4 zones split into
// 2 nodes of 2 zones each, 16 reservation units per zone.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TotalZones = 6
	cfg.ReservedZones = 2
	cfg.ZonesPerNode = 2
	cfg.LevelCount = 2
	cfg.SectorBytes = 512
	cfg.SectorsPerZone = 32
	cfg.MinWriteUnits = 2
	cfg.MinReadUnits = 2
	cfg.NodeMgmtPoolSize = 2
	cfg.ReadResourceCount = 2
	cfg.RingDepth = 8
	return cfg
}

func TestOpenClose(t *testing.T) {
	e, err := OpenForTesting(testConfig())
	if err != nil {
		t.Fatalf("OpenForTesting: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Close must be idempotent.
	if err := e.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	e, err := OpenForTesting(testConfig())
	if err != nil {
		t.Fatalf("OpenForTesting: %v", err)
	}
	defer e.Close()

	unit := e.cfg.MinWriteUnits * e.cfg.SectorBytes
	buf, err := e.Alloc(unit * 2)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	defer e.Free(buf)
	for i := range buf {
		buf[i] = byte(i)
	}

	pieces, err := e.Write(context.Background(), buf, 0)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(pieces) == 0 {
		t.Fatal("Write returned no pieces")
	}

	var totalSectors uint32
	nodeID := pieces[0].NodeID
	for _, p := range pieces {
		if p.NodeID != nodeID {
			t.Fatalf("expected all pieces on one node for a single-level write, got %d and %d", nodeID, p.NodeID)
		}
		totalSectors += p.Num
	}
	wantSectors := uint32(len(buf) / e.cfg.SectorBytes)
	if totalSectors != wantSectors {
		t.Fatalf("pieces cover %d sectors, want %d", totalSectors, wantSectors)
	}

	readBuf, err := e.Alloc(len(buf))
	if err != nil {
		t.Fatalf("Alloc (read): %v", err)
	}
	defer e.Free(readBuf)

	if err := e.Read(context.Background(), nodeID, 0, readBuf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i := range buf {
		if readBuf[i] != buf[i] {
			t.Fatalf("read back mismatch at byte %d: got %d, want %d", i, readBuf[i], buf[i])
		}
	}
}

func TestWriteAndReadRecordMetrics(t *testing.T) {
	e, err := OpenForTesting(testConfig())
	if err != nil {
		t.Fatalf("OpenForTesting: %v", err)
	}
	defer e.Close()

	unit := e.cfg.MinWriteUnits * e.cfg.SectorBytes
	buf, err := e.Alloc(unit)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	defer e.Free(buf)

	pieces, err := e.Write(context.Background(), buf, 0)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	readBuf, err := e.Alloc(unit)
	if err != nil {
		t.Fatalf("Alloc (read): %v", err)
	}
	defer e.Free(readBuf)
	if err := e.Read(context.Background(), pieces[0].NodeID, 0, readBuf); err != nil {
		t.Fatalf("Read: %v", err)
	}

	snap := e.MetricsSnapshot()
	if snap.WriteOps != 1 {
		t.Errorf("WriteOps = %d, want 1", snap.WriteOps)
	}
	if snap.WriteBytes != uint64(unit) {
		t.Errorf("WriteBytes = %d, want %d", snap.WriteBytes, unit)
	}
	if snap.ReadOps != 1 {
		t.Errorf("ReadOps = %d, want 1", snap.ReadOps)
	}
	if snap.ReadBytes != uint64(unit) {
		t.Errorf("ReadBytes = %d, want %d", snap.ReadBytes, unit)
	}
}

func TestTrimInvalidatesWrittenPiece(t *testing.T) {
	e, err := OpenForTesting(testConfig())
	if err != nil {
		t.Fatalf("OpenForTesting: %v", err)
	}
	defer e.Close()

	unit := e.cfg.MinWriteUnits * e.cfg.SectorBytes
	buf, err := e.Alloc(unit)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	defer e.Free(buf)

	pieces, err := e.Write(context.Background(), buf, 0)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	for _, p := range pieces {
		if err := e.Trim(p); err != nil {
			t.Fatalf("Trim(%+v): %v", p, err)
		}
	}
}

func TestTrimRejectsMisalignedPiece(t *testing.T) {
	e, err := OpenForTesting(testConfig())
	if err != nil {
		t.Fatalf("OpenForTesting: %v", err)
	}
	defer e.Close()

	err = e.Trim(Piece{NodeID: 0, Start: 0, Num: uint32(e.cfg.MinWriteUnits) - 1})
	if err == nil {
		t.Fatal("expected an error trimming a piece not aligned to min_write_units")
	}
}

func TestNodeFinish(t *testing.T) {
	e, err := OpenForTesting(testConfig())
	if err != nil {
		t.Fatalf("OpenForTesting: %v", err)
	}
	defer e.Close()

	unit := e.cfg.MinWriteUnits * e.cfg.SectorBytes
	buf, err := e.Alloc(unit)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	defer e.Free(buf)

	pieces, err := e.Write(context.Background(), buf, 0)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := e.NodeFinish(pieces[0].NodeID); err != nil {
		t.Fatalf("NodeFinish: %v", err)
	}
}

func TestNodeFinishUnknownNode(t *testing.T) {
	e, err := OpenForTesting(testConfig())
	if err != nil {
		t.Fatalf("OpenForTesting: %v", err)
	}
	defer e.Close()

	if err := e.NodeFinish(999999); err == nil {
		t.Fatal("expected an error finishing an unknown node id")
	}
}

func TestWriteFileMetadataRoundTrip(t *testing.T) {
	e, err := OpenForTesting(testConfig())
	if err != nil {
		t.Fatalf("OpenForTesting: %v", err)
	}
	defer e.Close()

	if err := e.WriteFileMetadata([]byte("first snapshot")); err != nil {
		t.Fatalf("WriteFileMetadata: %v", err)
	}
	if err := e.WriteFileMetadata([]byte("second snapshot")); err != nil {
		t.Fatalf("WriteFileMetadata (second): %v", err)
	}

	sb := make([]byte, e.cfg.SectorBytes)
	if err := e.ReadMetadata(0, sb); err != nil {
		t.Fatalf("ReadMetadata: %v", err)
	}
}

func TestWriteRejectsUnalignedSize(t *testing.T) {
	e, err := OpenForTesting(testConfig())
	if err != nil {
		t.Fatalf("OpenForTesting: %v", err)
	}
	defer e.Close()

	buf := make([]byte, e.cfg.SectorBytes+1)
	if _, err := e.Write(context.Background(), buf, 0); err == nil {
		t.Fatal("expected an error writing a size not aligned to sector_bytes*min_write_units")
	}
}

func TestWriteRejectsOutOfRangeLevel(t *testing.T) {
	e, err := OpenForTesting(testConfig())
	if err != nil {
		t.Fatalf("OpenForTesting: %v", err)
	}
	defer e.Close()

	unit := e.cfg.MinWriteUnits * e.cfg.SectorBytes
	buf := make([]byte, unit)
	if _, err := e.Write(context.Background(), buf, e.cfg.LevelCount); err == nil {
		t.Fatal("expected an error writing to an out-of-range level")
	}
}
