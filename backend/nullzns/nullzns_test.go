package nullzns

import (
	"testing"

	"github.com/ehrlich-b/ztl/internal/zerr"
	"github.com/ehrlich-b/ztl/internal/zmd"
)

const (
	testSectorBytes    = 512
	testSectorsPerZone = 8
)

func newBackend(t *testing.T, nzones int) *Backend {
	t.Helper()
	b, err := New(nzones, testSectorsPerZone, testSectorBytes)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestWriteAtWritePointerSucceeds(t *testing.T) {
	b := newBackend(t, 2)
	data := make([]byte, 2*testSectorBytes)
	for i := range data {
		data[i] = byte(i)
	}
	if _, err := b.Write(0, 0, data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := b.Write(0, 2, data); err != nil {
		t.Fatalf("second sequential Write: %v", err)
	}
}

func TestWriteNotAtWritePointerRejected(t *testing.T) {
	b := newBackend(t, 1)
	data := make([]byte, testSectorBytes)
	if _, err := b.Write(0, 1, data); err == nil {
		t.Fatal("expected an error writing past the write pointer")
	}
	if _, err := b.Write(0, 0, data); err != nil {
		t.Fatalf("Write at wp=0: %v", err)
	}
	if _, err := b.Write(0, 0, data); err == nil {
		t.Fatal("expected an error re-writing an already-written sector")
	}
}

func TestWriteBeyondCapacityRejected(t *testing.T) {
	b := newBackend(t, 1)
	data := make([]byte, (testSectorsPerZone+1)*testSectorBytes)
	if _, err := b.Write(0, 0, data); err == nil {
		t.Fatal("expected an error writing beyond zone capacity")
	}
}

func TestReadPastWritePointerReturnsZeroes(t *testing.T) {
	b := newBackend(t, 1)
	data := make([]byte, testSectorBytes)
	for i := range data {
		data[i] = 0xAB
	}
	if _, err := b.Write(0, 0, data); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, 3*testSectorBytes) // spans the written sector and two unwritten ones
	if _, err := b.Read(0, 0, buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i := 0; i < testSectorBytes; i++ {
		if buf[i] != 0xAB {
			t.Fatalf("byte %d = %x, want 0xAB (written)", i, buf[i])
		}
	}
	for i := testSectorBytes; i < len(buf); i++ {
		if buf[i] != 0 {
			t.Fatalf("byte %d = %x, want 0 (unwritten tail)", i, buf[i])
		}
	}
}

func TestResetRewindsWritePointerAndZeroesData(t *testing.T) {
	b := newBackend(t, 1)
	data := make([]byte, testSectorBytes)
	for i := range data {
		data[i] = 0xFF
	}
	if _, err := b.Write(0, 0, data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := b.Reset(0); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	buf := make([]byte, testSectorBytes)
	if _, err := b.Read(0, 0, buf); err != nil {
		t.Fatalf("Read after reset: %v", err)
	}
	for i, v := range buf {
		if v != 0 {
			t.Fatalf("byte %d = %x after reset, want 0", i, v)
		}
	}

	if _, err := b.Write(0, 0, data); err != nil {
		t.Fatalf("Write after reset should land at wp=0: %v", err)
	}
}

func TestFinishAdvancesWritePointerToCapacity(t *testing.T) {
	b := newBackend(t, 1)
	if err := b.Finish(0); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	reports := b.Report()
	if reports[0].State != zmd.StateFull {
		t.Errorf("state = %v, want FULL", reports[0].State)
	}
	if reports[0].WP != testSectorsPerZone {
		t.Errorf("WP = %d, want %d (capacity)", reports[0].WP, testSectorsPerZone)
	}
}

func TestReportReflectsZoneBasesAndCapacity(t *testing.T) {
	b := newBackend(t, 3)
	reports := b.Report()
	if len(reports) != 3 {
		t.Fatalf("got %d reports, want 3", len(reports))
	}
	for i, r := range reports {
		if r.Base != uint64(i)*testSectorsPerZone {
			t.Errorf("zone %d Base = %d, want %d", i, r.Base, uint64(i)*testSectorsPerZone)
		}
		if r.Capacity != testSectorsPerZone {
			t.Errorf("zone %d Capacity = %d, want %d", i, r.Capacity, testSectorsPerZone)
		}
	}
}

func TestZoneIndexOutOfRangeRejected(t *testing.T) {
	b := newBackend(t, 1)
	_, err := b.Write(5, 0, make([]byte, testSectorBytes))
	if !zerr.IsCode(err, zerr.CodeOutOfBounds) {
		t.Fatalf("err = %v, want CodeOutOfBounds", err)
	}
}
