package writeengine

import (
	"os"
	"testing"

	"github.com/ehrlich-b/ztl/internal/async"
	"github.com/ehrlich-b/ztl/internal/media"
	"github.com/ehrlich-b/ztl/internal/provisioner"
	"github.com/ehrlich-b/ztl/internal/zmd"
)

const (
	testSectorBytes = 512
	testUnit        = 4
)

func tempDeviceFile(t *testing.T) int {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "writeengine-*.img")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	if err := f.Truncate(4 << 20); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	fd := int(f.Fd())
	t.Cleanup(func() { f.Close() })
	return fd
}

func testSetup(t *testing.T, nzones int, zoneCapacitySectors uint64) (*provisioner.Table, *media.Device, *async.Context) {
	t.Helper()
	reports := make([]zmd.Report, nzones)
	for i := 0; i < nzones; i++ {
		reports[i] = zmd.Report{Index: uint32(i), Base: uint64(i) * zoneCapacitySectors, Capacity: zoneCapacitySectors, State: zmd.StateEmpty}
	}
	table := zmd.NewTable(reports)
	zones := table.All()
	nodes := provisioner.Build(zones, nzones)

	fd := tempDeviceFile(t)
	device, err := media.Open("/tmp/fake?be=thrpool", fd, media.Geometry{
		Groups: 1, PUsPerGroup: 1, ZonesPerPU: nzones,
		SectorsPerZone: zoneCapacitySectors, BytesPerSector: testSectorBytes,
	})
	if err != nil {
		t.Fatalf("media.Open: %v", err)
	}

	ring, err := async.NewContext(async.Config{Depth: 64, FD: fd})
	if err != nil {
		t.Fatalf("async.NewContext: %v", err)
	}
	return nodes, device, ring
}

func TestProcessSingleRoundProducesOnePiece(t *testing.T) {
	nodes, device, ring := testSetup(t, 2, 64)
	w := NewWorker(0, Config{SectorBytes: testSectorBytes, MinWriteUnits: testUnit, BurstSize: 8, MaxCallbackErrCount: 3, QueueDepth: 8}, nodes, device, ring)

	unitBytes := testUnit * testSectorBytes
	buf := make([]byte, 2*unitBytes) // exactly one full round across 2 zones
	for i := range buf {
		buf[i] = byte(i)
	}

	u := NewUCmd(buf, 0)
	if err := w.Enqueue(u); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	w.Close()
	w.Run()

	if u.Err != nil {
		t.Fatalf("UCmd.Err = %v", u.Err)
	}
	if len(u.Pieces) != 1 {
		t.Fatalf("got %d pieces, want 1", len(u.Pieces))
	}
	p := u.Pieces[0]
	if p.NodeID != 0 || p.Start != 0 || p.Num != 8 {
		t.Errorf("piece = %+v, want {node=0 start=0 num=8} (2 chunks * min_write_units=4 sectors)", p)
	}

	node := nodes.Nodes()[0]
	if node.NrValid.Load() != 2 {
		t.Errorf("NrValid = %d, want 2", node.NrValid.Load())
	}
}

func TestProcessRejectsMisalignedSize(t *testing.T) {
	nodes, device, ring := testSetup(t, 2, 64)
	w := NewWorker(0, Config{SectorBytes: testSectorBytes, MinWriteUnits: testUnit, BurstSize: 8, MaxCallbackErrCount: 3, QueueDepth: 8}, nodes, device, ring)

	u := NewUCmd(make([]byte, testSectorBytes+1), 0)
	if err := w.Enqueue(u); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	w.Close()
	w.Run()

	if u.Err == nil {
		t.Fatal("expected an alignment error")
	}
}

func TestProcessSpillsAcrossTwoNodes(t *testing.T) {
	// One zone per node (N=1) so a node is exhausted after a single unit.
	reports := []zmd.Report{
		{Index: 0, Base: 0, Capacity: 4, State: zmd.StateEmpty},
		{Index: 1, Base: 4, Capacity: 4, State: zmd.StateEmpty},
	}
	table := zmd.NewTable(reports)
	nodes := provisioner.Build(table.All(), 1)

	fd := tempDeviceFile(t)
	device, err := media.Open("/tmp/fake?be=thrpool", fd, media.Geometry{
		Groups: 1, PUsPerGroup: 1, ZonesPerPU: 2, SectorsPerZone: 4, BytesPerSector: testSectorBytes,
	})
	if err != nil {
		t.Fatalf("media.Open: %v", err)
	}
	ring, err := async.NewContext(async.Config{Depth: 64, FD: fd})
	if err != nil {
		t.Fatalf("async.NewContext: %v", err)
	}

	w := NewWorker(0, Config{SectorBytes: testSectorBytes, MinWriteUnits: testUnit, BurstSize: 8, MaxCallbackErrCount: 3, QueueDepth: 8}, nodes, device, ring)

	unitBytes := testUnit * testSectorBytes
	buf := make([]byte, 2*unitBytes) // 2 units total; node 0 (1 zone, capacity 1 unit) takes 1, spills to node 1
	u := NewUCmd(buf, 0)
	if err := w.Enqueue(u); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	w.Close()
	w.Run()

	if u.Err != nil {
		t.Fatalf("UCmd.Err = %v", u.Err)
	}
	if len(u.Pieces) != 2 {
		t.Fatalf("got %d pieces, want 2 (one per node)", len(u.Pieces))
	}
	if u.Pieces[0].NodeID != 0 || u.Pieces[1].NodeID != 1 {
		t.Errorf("pieces = %+v, want node 0 then node 1", u.Pieces)
	}
}
