package metalog

import (
	"sync"

	"github.com/klauspost/compress/s2"
	"golang.org/x/exp/maps"

	"github.com/ehrlich-b/ztl/internal/zerr"
)

// FileTable is the in-memory file map rebuilt by Replay, protected by
// its own mutex (spec.md §5: "the file-map ... is protected by its own
// mutex when mutated").
type FileTable struct {
	mu    sync.Mutex
	files map[string]FileRecord
}

// NewFileTable builds an empty file table.
func NewFileTable() *FileTable {
	return &FileTable{files: make(map[string]FileRecord)}
}

// Get returns a copy of the named file's record, if present.
func (t *FileTable) Get(name string) (FileRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fr, ok := t.files[name]
	return fr, ok
}

// Snapshot returns every file record, for emitting a fresh Base snapshot.
func (t *FileTable) Snapshot() []FileRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]FileRecord, 0, len(t.files))
	for _, fr := range t.files {
		out = append(out, fr)
	}
	return out
}

// Names returns every file name currently tracked, in no particular
// order. Used by callers (e.g. ztlctl replay) that just need to report
// what the log recovered without copying full FileRecords.
func (t *FileTable) Names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return maps.Keys(t.files)
}

func (t *FileTable) reset() {
	t.mu.Lock()
	t.files = make(map[string]FileRecord)
	t.mu.Unlock()
}

func (t *FileTable) insert(fr FileRecord) {
	t.mu.Lock()
	t.files[fr.Name] = fr
	t.mu.Unlock()
}

func (t *FileTable) appendDelta(fr FileRecord) {
	t.mu.Lock()
	existing, ok := t.files[fr.Name]
	if !ok {
		t.files[fr.Name] = fr
	} else {
		existing.FileSize = fr.FileSize
		existing.Level = fr.Level
		existing.Pieces = append(existing.Pieces, fr.Pieces...)
		existing.PieceCount = int32(len(existing.Pieces))
		t.files[fr.Name] = existing
	}
	t.mu.Unlock()
}

func (t *FileTable) rename(src, dst string) {
	t.mu.Lock()
	if fr, ok := t.files[src]; ok {
		fr.Name = dst
		delete(t.files, src)
		t.files[dst] = fr
	}
	t.mu.Unlock()
}

func (t *FileTable) delete(name string) {
	t.mu.Lock()
	delete(t.files, name)
	t.mu.Unlock()
}

// ReplayResult is everything Replay needs to hand back to the caller so
// it can resume appending with OpenWriter.
type ReplayResult struct {
	Table        *FileTable
	ZoneIndex    int
	WritePointer uint64
	Sequence     uint32
	// Fresh reports whether neither reserved zone carried a valid
	// superblock, meaning the caller must use NewWriter (which writes
	// zone 0's initial superblock) rather than OpenWriter.
	Fresh bool
}

// Replay reads both reserved zones' superblocks, picks the one with the
// strictly greater sequence number as authoritative (spec.md §8
// invariant 8), and replays its records into a fresh FileTable, stopping
// at the first record with data_length == 0 (the log tail).
func Replay(io BlockIO, zones [2]ZoneDesc, sectorBytes int) (ReplayResult, error) {
	var sbs [2]Superblock
	var valid [2]bool

	for i, z := range zones {
		buf := make([]byte, sectorBytes)
		if err := io.ReadSectors(z.Base, buf); err != nil {
			return ReplayResult{}, zerr.Wrap("METALOG_REPLAY", err)
		}
		sb, err := DecodeSuperblock(buf)
		if err != nil {
			return ReplayResult{}, err
		}
		if sb.Magic == Magic {
			sbs[i] = sb
			valid[i] = true
		}
	}

	authoritative := -1
	for i := range zones {
		if !valid[i] {
			continue
		}
		if authoritative == -1 || sbs[i].Sequence > sbs[authoritative].Sequence {
			authoritative = i
		}
	}

	table := NewFileTable()
	if authoritative == -1 {
		// Nothing valid yet; caller should treat this as a fresh log.
		return ReplayResult{Table: table, ZoneIndex: 0, WritePointer: 1, Sequence: 1, Fresh: true}, nil
	}

	zone := zones[authoritative]
	wp := uint64(1)
	for {
		header, payload, n, err := readRecord(io, zone.Base+wp, sectorBytes)
		if err != nil {
			return ReplayResult{}, err
		}
		if header.DataLength == 0 {
			break
		}

		tag := header.Tag & tagMask
		switch tag {
		case TagBase:
			if header.Tag&tagCompressedFlag != 0 {
				n, err := s2.DecodedLen(payload)
				if err != nil {
					return ReplayResult{}, zerr.Wrap("METALOG_REPLAY", err)
				}
				dst := make([]byte, n)
				payload, err = s2.Decode(dst, payload)
				if err != nil {
					return ReplayResult{}, zerr.Wrap("METALOG_REPLAY", err)
				}
			}
			files, err := DecodeBase(payload)
			if err != nil {
				return ReplayResult{}, err
			}
			table.reset()
			for _, f := range files {
				table.insert(f)
			}
		case TagUpdate:
			fr, err := DecodeFileDelta(payload)
			if err != nil {
				return ReplayResult{}, err
			}
			table.appendDelta(fr)
		case TagGCChange:
			fr, err := DecodeFileDelta(payload)
			if err != nil {
				return ReplayResult{}, err
			}
			table.insert(fr)
		case TagReplace:
			src, dst, err := DecodeReplace(payload)
			if err != nil {
				return ReplayResult{}, err
			}
			table.rename(src, dst)
		case TagDelete:
			name, err := DecodeDelete(payload)
			if err != nil {
				return ReplayResult{}, err
			}
			table.delete(name)
		}

		wp += n
		if wp >= zone.Capacity {
			break
		}
	}

	return ReplayResult{Table: table, ZoneIndex: authoritative, WritePointer: wp, Sequence: sbs[authoritative].Sequence}, nil
}

// readRecord reads one sector at addr, then the rest of the payload if
// the header reports a longer length, and returns the decoded header,
// payload, and the record's length in sectors.
func readRecord(io BlockIO, addr uint64, sectorBytes int) (Header, []byte, uint64, error) {
	first := make([]byte, sectorBytes)
	if err := io.ReadSectors(addr, first); err != nil {
		return Header{}, nil, 0, zerr.Wrap("METALOG_REPLAY", err)
	}
	header, err := DecodeHeader(first)
	if err != nil {
		return Header{}, nil, 0, err
	}
	if header.DataLength == 0 {
		return header, nil, 1, nil
	}

	total := headerSize + int(header.DataLength)
	sectors := uint64((total + sectorBytes - 1) / sectorBytes)

	buf := first
	if int(sectors)*sectorBytes > sectorBytes {
		buf = make([]byte, int(sectors)*sectorBytes)
		copy(buf, first)
		if err := io.ReadSectors(addr+1, buf[sectorBytes:]); err != nil {
			return Header{}, nil, 0, zerr.Wrap("METALOG_REPLAY", err)
		}
	}

	payload := buf[headerSize : headerSize+int(header.DataLength)]
	return header, payload, sectors, nil
}
