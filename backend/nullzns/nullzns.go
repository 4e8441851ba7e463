// Package nullzns implements an in-process simulated ZNS device: a zone
// table enforcing sequential per-zone writes and explicit reset/finish,
// backed by a temp file so the resulting descriptor can be handed to
// internal/media.Device exactly like a real block device.
//
// Grounded on the teacher's backend/mem.go sharded-lock RAM backend,
// generalized from ShardSize-sized byte-range locks over a flat array to
// one lock per zone guarding that zone's write pointer and state, since
// the unit of concurrency and of sequential-write enforcement on a ZNS
// device is the zone, not an arbitrary byte range.
package nullzns

import (
	"os"
	"sync"

	"github.com/ehrlich-b/ztl/internal/zerr"
	"github.com/ehrlich-b/ztl/internal/zmd"
)

// Backend is the simulated device. It tracks write pointer and state per
// zone independently of anything internal/zmd maintains, the way a real
// drive's own firmware state is independent of the host's view of it --
// tests can deliberately desync the two to exercise invariant violations.
type Backend struct {
	file           *os.File
	sectorBytes    int
	sectorsPerZone uint64

	mu    []sync.Mutex
	wp    []uint64 // sectors from zone base; next writable sector
	state []zmd.State
}

// New creates a simulated device of nzones zones, each sectorsPerZone
// sectors of sectorBytes bytes, backed by a temp file.
func New(nzones int, sectorsPerZone uint64, sectorBytes int) (*Backend, error) {
	f, err := os.CreateTemp("", "nullzns-*.img")
	if err != nil {
		return nil, zerr.Wrap("NULLZNS_OPEN", err)
	}
	size := int64(nzones) * int64(sectorsPerZone) * int64(sectorBytes)
	if err := f.Truncate(size); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, zerr.Wrap("NULLZNS_OPEN", err)
	}
	return &Backend{
		file:           f,
		sectorBytes:    sectorBytes,
		sectorsPerZone: sectorsPerZone,
		mu:             make([]sync.Mutex, nzones),
		wp:             make([]uint64, nzones),
		state:          make([]zmd.State, nzones),
	}, nil
}

// FD returns the backing file descriptor, suitable for internal/media.Open
// and internal/async.Context (pread/pwrite address absolute device
// sectors, which is exactly what the temp file's byte offsets are).
func (b *Backend) FD() int { return int(b.file.Fd()) }

// NumZones returns the zone count the backend was created with.
func (b *Backend) NumZones() int { return len(b.wp) }

// SectorsPerZone returns the configured zone capacity in sectors.
func (b *Backend) SectorsPerZone() uint64 { return b.sectorsPerZone }

// Close releases the backing temp file.
func (b *Backend) Close() error {
	name := b.file.Name()
	err := b.file.Close()
	os.Remove(name)
	return err
}

func (b *Backend) checkIndex(zoneIdx int) error {
	if zoneIdx < 0 || zoneIdx >= len(b.wp) {
		return zerr.New("NULLZNS", zerr.CodeOutOfBounds, "zone index out of range")
	}
	return nil
}

// Write rejects any write that does not land exactly at the zone's
// current write pointer, the way a real ZNS drive does absent APPEND.
func (b *Backend) Write(zoneIdx int, sectorOff uint64, data []byte) (int, error) {
	if err := b.checkIndex(zoneIdx); err != nil {
		return 0, err
	}
	if len(data) == 0 || len(data)%b.sectorBytes != 0 {
		return 0, zerr.New("NULLZNS_WRITE", zerr.CodeInvalid, "write not aligned to sector_bytes")
	}

	b.mu[zoneIdx].Lock()
	defer b.mu[zoneIdx].Unlock()

	if sectorOff != b.wp[zoneIdx] {
		return 0, zerr.New("NULLZNS_WRITE", zerr.CodeInvalid, "write does not land at the zone write pointer")
	}
	nsec := uint64(len(data)) / uint64(b.sectorBytes)
	if b.wp[zoneIdx]+nsec > b.sectorsPerZone {
		return 0, zerr.New("NULLZNS_WRITE", zerr.CodeNoSpace, "write exceeds zone capacity")
	}

	base := uint64(zoneIdx) * b.sectorsPerZone
	off := int64(base+sectorOff) * int64(b.sectorBytes)
	n, err := b.file.WriteAt(data, off)
	if err != nil {
		return n, zerr.Wrap("NULLZNS_WRITE", err)
	}

	b.wp[zoneIdx] += nsec
	if b.state[zoneIdx] == zmd.StateEmpty {
		b.state[zoneIdx] = zmd.StateIOpen
	}
	if b.wp[zoneIdx] == b.sectorsPerZone {
		b.state[zoneIdx] = zmd.StateFull
	}
	return n, nil
}

// Read returns zero-filled bytes for any sector at or past the zone's
// write pointer, so a caller reading the tail of a zone observes exactly
// what a real drive reports for unwritten media. (The engine's own
// metadata replay reads the fd directly, not through this method.)
func (b *Backend) Read(zoneIdx int, sectorOff uint64, buf []byte) (int, error) {
	if err := b.checkIndex(zoneIdx); err != nil {
		return 0, err
	}

	b.mu[zoneIdx].Lock()
	wp := b.wp[zoneIdx]
	b.mu[zoneIdx].Unlock()

	base := uint64(zoneIdx) * b.sectorsPerZone
	off := int64(base+sectorOff) * int64(b.sectorBytes)
	nsec := uint64(len(buf)) / uint64(b.sectorBytes)

	if sectorOff >= wp {
		for i := range buf {
			buf[i] = 0
		}
		return len(buf), nil
	}
	if sectorOff+nsec > wp {
		writtenBytes := int(wp-sectorOff) * b.sectorBytes
		n, err := b.file.ReadAt(buf[:writtenBytes], off)
		for i := writtenBytes; i < len(buf); i++ {
			buf[i] = 0
		}
		if err != nil {
			return n, zerr.Wrap("NULLZNS_READ", err)
		}
		return len(buf), nil
	}

	n, err := b.file.ReadAt(buf, off)
	if err != nil {
		return n, zerr.Wrap("NULLZNS_READ", err)
	}
	return n, nil
}

// Reset rewinds a zone's write pointer to its base and zero-fills its
// contents (explicit RESET, spec.md §3).
func (b *Backend) Reset(zoneIdx int) error {
	if err := b.checkIndex(zoneIdx); err != nil {
		return err
	}
	b.mu[zoneIdx].Lock()
	defer b.mu[zoneIdx].Unlock()

	base := uint64(zoneIdx) * b.sectorsPerZone
	zero := make([]byte, b.sectorsPerZone*uint64(b.sectorBytes))
	if _, err := b.file.WriteAt(zero, int64(base)*int64(b.sectorBytes)); err != nil {
		return zerr.Wrap("NULLZNS_RESET", err)
	}
	b.wp[zoneIdx] = 0
	b.state[zoneIdx] = zmd.StateEmpty
	return nil
}

// Finish advances a zone's write pointer to its capacity without
// requiring the remainder to actually be written (explicit FINISH).
func (b *Backend) Finish(zoneIdx int) error {
	if err := b.checkIndex(zoneIdx); err != nil {
		return err
	}
	b.mu[zoneIdx].Lock()
	defer b.mu[zoneIdx].Unlock()

	b.wp[zoneIdx] = b.sectorsPerZone
	b.state[zoneIdx] = zmd.StateFull
	return nil
}

// Report builds a device zone report suitable for zmd.NewTable.
func (b *Backend) Report() []zmd.Report {
	out := make([]zmd.Report, len(b.wp))
	for i := range out {
		b.mu[i].Lock()
		out[i] = zmd.Report{
			Index:    uint32(i),
			Base:     uint64(i) * b.sectorsPerZone,
			Capacity: b.sectorsPerZone,
			State:    b.state[i],
			WP:       uint64(i)*b.sectorsPerZone + b.wp[i],
		}
		b.mu[i].Unlock()
	}
	return out
}
