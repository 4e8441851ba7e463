package metalog

import (
	"sync"

	"github.com/klauspost/compress/s2"

	"github.com/ehrlich-b/ztl/internal/zerr"
)

// BlockIO is the synchronous sector I/O surface the log writer needs.
// Addresses are absolute sector numbers; xztl's C counterpart issues a
// blocking xnvme_nvm_write per record (spec.md §4.6), so the log does
// not need the cooperative async.Context the write/read engines use.
type BlockIO interface {
	ReadSectors(addr uint64, buf []byte) error
	WriteSectors(addr uint64, buf []byte) error
}

// ZoneDesc describes one of the two reserved log zones.
type ZoneDesc struct {
	Index    int    // zone index, for ZoneResetter.Reset
	Base     uint64 // absolute base sector
	Capacity uint64 // sectors
}

// ZoneResetter issues a real zone reset on the reserved log zone being
// switched away from. backend/nullzns.Backend's Reset method (surfaced
// through async.ZoneBackend) satisfies this directly.
type ZoneResetter interface {
	Reset(zoneIdx int) error
}

// Writer serializes appends to the two-zone FS-metadata log. Grounded on
// spec.md §4.6: a single mutex guards both the current-zone pointer and
// the write pointer; a record that would overflow the current zone
// triggers a zone switch and returns ErrWriteFull to the caller.
type Writer struct {
	io          BlockIO
	sectorBytes int
	maxRetry    int
	compress    bool
	resetter    ZoneResetter // nil on backends with no explicit zone state (e.g. backend/file)

	mu       sync.Mutex
	zones    [2]ZoneDesc
	current  int
	wp       uint64 // sector offset within the current zone, relative to zones[current].Base
	sequence uint32
}

// NewWriter constructs a fresh Writer bound to two reserved zones,
// writing an initial superblock to zone 0 and starting the write
// pointer immediately after it. Use OpenWriter instead when resuming
// from an existing log (see Replay). When compress is set, TagBase
// payloads are run through s2 block compression before they're padded
// to sector alignment (spec.md §4.6's optional Base-snapshot compression).
// resetter may be nil, in which case switchZone skips the real zone reset
// (matching backends with no notion of explicit zone state).
func NewWriter(io BlockIO, zones [2]ZoneDesc, sectorBytes int, maxRetry int, compress bool, resetter ZoneResetter) (*Writer, error) {
	w := &Writer{io: io, zones: zones, sectorBytes: sectorBytes, maxRetry: maxRetry, compress: compress, resetter: resetter}
	w.wp = 1 // sector 0 of each zone holds the superblock
	w.sequence = 1

	sb := EncodeSuperblock(Superblock{Magic: Magic, Sequence: w.sequence})
	padded := make([]byte, sectorBytes)
	copy(padded, sb)
	if err := io.WriteSectors(zones[0].Base, padded); err != nil {
		return nil, zerr.Wrap("METALOG_INIT", err)
	}
	return w, nil
}

// OpenWriter resumes a Writer at the given zone/write-pointer/sequence,
// as determined by Replay.
func OpenWriter(io BlockIO, zones [2]ZoneDesc, sectorBytes, maxRetry int, compress bool, resetter ZoneResetter, zoneIdx int, wp uint64, sequence uint32) *Writer {
	return &Writer{
		io: io, zones: zones, sectorBytes: sectorBytes, maxRetry: maxRetry, compress: compress, resetter: resetter,
		current: zoneIdx, wp: wp, sequence: sequence,
	}
}

// sectorAlign rounds n up to the next sector boundary.
func (w *Writer) sectorAlign(n int) int {
	rem := n % w.sectorBytes
	if rem == 0 {
		return n
	}
	return n + (w.sectorBytes - rem)
}

// Append writes a record (header + payload, padded to sector alignment)
// at the current zone's write pointer. If the record doesn't fit in the
// zone's remaining capacity, Append resets the OTHER zone, switches to
// it, advances the in-memory sequence, and returns ErrWriteFull so the
// caller can retry (typically by re-emitting a Base snapshot).
func (w *Writer) Append(tag Tag, payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.compress && tag == TagBase {
		compressed := s2.Encode(nil, payload)
		if len(compressed) < len(payload) {
			payload = compressed
			tag |= tagCompressedFlag
		}
	}

	header := EncodeHeader(Header{CRC: checksum(payload), DataLength: uint32(len(payload)), Tag: tag})
	recordSectors := uint64(w.sectorAlign(len(header)+len(payload))) / uint64(w.sectorBytes)

	zone := w.zones[w.current]
	if w.wp+recordSectors > zone.Capacity {
		if err := w.switchZone(); err != nil {
			return err
		}
		return zerr.ErrWriteFull
	}

	buf := make([]byte, recordSectors*uint64(w.sectorBytes))
	copy(buf, header)
	copy(buf[len(header):], payload)

	addr := zone.Base + w.wp
	var lastErr error
	for attempt := 0; attempt <= w.maxRetry; attempt++ {
		if err := w.io.WriteSectors(addr, buf); err != nil {
			lastErr = err
			continue
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		return zerr.New("METALOG_WRITE", zerr.CodeMetaIOError, "metadata write failed after retries")
	}

	w.wp += recordSectors
	return nil
}

// switchZone issues a real zone reset on the other reserved zone (so its
// media write pointer actually rewinds to 0, not just its superblock
// sector getting overwritten), moves the write pointer there (just past
// its superblock), writes the new superblock with an advanced sequence,
// and makes it current.
func (w *Writer) switchZone() error {
	other := 1 - w.current
	if w.resetter != nil {
		if err := w.resetter.Reset(w.zones[other].Index); err != nil {
			return zerr.Wrap("METALOG_RESET", err)
		}
	}

	w.sequence++
	sb := EncodeSuperblock(Superblock{Magic: Magic, Sequence: w.sequence})
	padded := make([]byte, w.sectorBytes)
	copy(padded, sb)
	if err := w.io.WriteSectors(w.zones[other].Base, padded); err != nil {
		return zerr.New("METALOG_WRITE", zerr.CodeMetaIOError, "metadata superblock write failed after zone reset")
	}

	w.current = other
	w.wp = 1
	return nil
}

// Sequence returns the writer's current in-memory sequence number.
func (w *Writer) Sequence() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sequence
}

// CurrentZone returns the index of the zone currently being appended to.
func (w *Writer) CurrentZone() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}
