package file

import (
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/ztl/internal/zmd"
)

func TestOpenCreatesAndSizesRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backend.img")
	b, err := Open(path, Options{Create: true, Size: 1 << 20})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	if b.Size() != 1<<20 {
		t.Errorf("Size() = %d, want %d", b.Size(), int64(1<<20))
	}
	if b.FD() < 0 {
		t.Errorf("FD() = %d, want a valid descriptor", b.FD())
	}
	if b.Direct() {
		t.Errorf("Direct() = true, want false (O_DIRECT was not requested)")
	}
}

func TestOpenDoesNotShrinkExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backend.img")
	b1, err := Open(path, Options{Create: true, Size: 2 << 20})
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	b1.Close()

	b2, err := Open(path, Options{Create: true, Size: 1 << 20})
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer b2.Close()

	if b2.Size() != 2<<20 {
		t.Errorf("Size() = %d, want %d (existing file should not shrink)", b2.Size(), int64(2<<20))
	}
}

func TestReadWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backend.img")
	b, err := Open(path, Options{Create: true, Size: 1 << 16})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	want := make([]byte, 512)
	for i := range want {
		want[i] = byte(i)
	}
	if _, err := unix.Pwrite(b.FD(), want, 4096); err != nil {
		t.Fatalf("Pwrite: %v", err)
	}

	got := make([]byte, 512)
	if _, err := unix.Pread(b.FD(), got, 4096); err != nil {
		t.Fatalf("Pread: %v", err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestOpenRejectsMissingFileWithoutCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.img")
	if _, err := Open(path, Options{}); err == nil {
		t.Fatal("expected an error opening a nonexistent path without Create")
	}
}

func TestReportPartitionsIntoEmptyZones(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backend.img")
	b, err := Open(path, Options{Create: true, Size: 1 << 20})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	reports, err := b.Report(4, 128)
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if len(reports) != 4 {
		t.Fatalf("got %d reports, want 4", len(reports))
	}
	for i, r := range reports {
		if r.Base != uint64(i)*128 {
			t.Errorf("zone %d Base = %d, want %d", i, r.Base, uint64(i)*128)
		}
		if r.Capacity != 128 {
			t.Errorf("zone %d Capacity = %d, want 128", i, r.Capacity)
		}
		if r.State != zmd.StateEmpty {
			t.Errorf("zone %d State = %v, want EMPTY", i, r.State)
		}
	}
}

func TestReportRejectsGeometryLargerThanBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backend.img")
	b, err := Open(path, Options{Create: true, Size: 1 << 12})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	if _, err := b.Report(1000, 1000); err == nil {
		t.Fatal("expected an error for geometry exceeding backend size")
	}
}
