package metalog

import (
	"errors"
	"testing"

	"github.com/ehrlich-b/ztl/internal/mapping"
	"github.com/ehrlich-b/ztl/internal/zerr"
)

const testSectorBytes = 512

type memBlockIO struct {
	sectors [][]byte
}

func newMemBlockIO(totalSectors int) *memBlockIO {
	sectors := make([][]byte, totalSectors)
	for i := range sectors {
		sectors[i] = make([]byte, testSectorBytes)
	}
	return &memBlockIO{sectors: sectors}
}

func (m *memBlockIO) ReadSectors(addr uint64, buf []byte) error {
	n := len(buf) / testSectorBytes
	for i := 0; i < n; i++ {
		copy(buf[i*testSectorBytes:(i+1)*testSectorBytes], m.sectors[int(addr)+i])
	}
	return nil
}

func (m *memBlockIO) WriteSectors(addr uint64, buf []byte) error {
	n := len(buf) / testSectorBytes
	for i := 0; i < n; i++ {
		copy(m.sectors[int(addr)+i], buf[i*testSectorBytes:(i+1)*testSectorBytes])
	}
	return nil
}

func testZones() [2]ZoneDesc {
	return [2]ZoneDesc{
		{Base: 0, Capacity: 16},
		{Base: 16, Capacity: 16},
	}
}

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := Header{CRC: 0xdeadbeef, DataLength: 128, Tag: TagUpdate}
	got, err := DecodeHeader(EncodeHeader(h))
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}
	if got != h {
		t.Errorf("got %+v, want %+v", got, h)
	}
}

func TestSuperblockEncodeDecodeRoundTrip(t *testing.T) {
	sb := Superblock{Magic: Magic, Sequence: 7}
	got, err := DecodeSuperblock(EncodeSuperblock(sb))
	if err != nil {
		t.Fatalf("DecodeSuperblock: %v", err)
	}
	if got != sb {
		t.Errorf("got %+v, want %+v", got, sb)
	}
}

func TestBaseRecordEncodeDecodeRoundTrip(t *testing.T) {
	files := []FileRecord{
		{Level: 0, FileSize: 4096, Name: "sst-000001", Pieces: []mapping.Tuple{mapping.Pack(mapping.Piece{NodeID: 1, Start: 0, Num: 8})}},
		{Level: 2, FileSize: 8192, Name: "sst-000002", Pieces: []mapping.Tuple{
			mapping.Pack(mapping.Piece{NodeID: 2, Start: 0, Num: 4}),
			mapping.Pack(mapping.Piece{NodeID: 2, Start: 4, Num: 4}),
		}},
	}
	for i := range files {
		files[i].PieceCount = int32(len(files[i].Pieces))
	}

	payload := EncodeBase(files)
	got, err := DecodeBase(payload)
	if err != nil {
		t.Fatalf("DecodeBase: %v", err)
	}
	if len(got) != len(files) {
		t.Fatalf("got %d files, want %d", len(got), len(files))
	}
	for i := range files {
		if got[i].Name != files[i].Name || got[i].FileSize != files[i].FileSize || len(got[i].Pieces) != len(files[i].Pieces) {
			t.Errorf("file %d = %+v, want %+v", i, got[i], files[i])
		}
	}
}

func TestReplaceRecordEncodeDecodeRoundTrip(t *testing.T) {
	src, dst, err := DecodeReplace(EncodeReplace("old-name", "new-name"))
	if err != nil {
		t.Fatalf("DecodeReplace: %v", err)
	}
	if src != "old-name" || dst != "new-name" {
		t.Errorf("got (%q, %q), want (old-name, new-name)", src, dst)
	}
}

func TestDeleteRecordEncodeDecodeRoundTrip(t *testing.T) {
	name, err := DecodeDelete(EncodeDelete("doomed-file"))
	if err != nil {
		t.Fatalf("DecodeDelete: %v", err)
	}
	if name != "doomed-file" {
		t.Errorf("got %q, want doomed-file", name)
	}
}

func TestWriterAppendThenReplayRecoversBase(t *testing.T) {
	io := newMemBlockIO(32)
	w, err := NewWriter(io, testZones(), testSectorBytes, 3, false, nil)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	files := []FileRecord{{Level: 0, FileSize: 4096, PieceCount: 1, Name: "a",
		Pieces: []mapping.Tuple{mapping.Pack(mapping.Piece{NodeID: 0, Start: 0, Num: 8})}}}
	if err := w.Append(TagBase, EncodeBase(files)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	result, err := Replay(io, testZones(), testSectorBytes)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	fr, ok := result.Table.Get("a")
	if !ok {
		t.Fatal("expected file \"a\" to be present after replay")
	}
	if fr.FileSize != 4096 {
		t.Errorf("FileSize = %d, want 4096", fr.FileSize)
	}
}

func TestReplayAppliesUpdateAfterBase(t *testing.T) {
	io := newMemBlockIO(32)
	w, err := NewWriter(io, testZones(), testSectorBytes, 3, false, nil)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	base := []FileRecord{{Name: "a", FileSize: 4096, PieceCount: 1,
		Pieces: []mapping.Tuple{mapping.Pack(mapping.Piece{NodeID: 0, Start: 0, Num: 8})}}}
	if err := w.Append(TagBase, EncodeBase(base)); err != nil {
		t.Fatalf("Append base: %v", err)
	}

	update := FileRecord{Name: "a", FileSize: 8192, PieceCount: 1,
		Pieces: []mapping.Tuple{mapping.Pack(mapping.Piece{NodeID: 0, Start: 8, Num: 8})}}
	if err := w.Append(TagUpdate, EncodeFileDelta(update)); err != nil {
		t.Fatalf("Append update: %v", err)
	}

	result, err := Replay(io, testZones(), testSectorBytes)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	fr, ok := result.Table.Get("a")
	if !ok {
		t.Fatal("expected file \"a\" to be present after replay")
	}
	if fr.FileSize != 8192 {
		t.Errorf("FileSize = %d, want 8192 (post-update)", fr.FileSize)
	}
	if len(fr.Pieces) != 2 {
		t.Errorf("got %d pieces, want 2 (base + update)", len(fr.Pieces))
	}
}

func TestReplayHandlesDeleteAndRename(t *testing.T) {
	io := newMemBlockIO(32)
	w, err := NewWriter(io, testZones(), testSectorBytes, 3, false, nil)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	base := []FileRecord{
		{Name: "a", FileSize: 1, PieceCount: 0},
		{Name: "b", FileSize: 1, PieceCount: 0},
	}
	if err := w.Append(TagBase, EncodeBase(base)); err != nil {
		t.Fatalf("Append base: %v", err)
	}
	if err := w.Append(TagDelete, EncodeDelete("a")); err != nil {
		t.Fatalf("Append delete: %v", err)
	}
	if err := w.Append(TagReplace, EncodeReplace("b", "c")); err != nil {
		t.Fatalf("Append replace: %v", err)
	}

	result, err := Replay(io, testZones(), testSectorBytes)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if _, ok := result.Table.Get("a"); ok {
		t.Error("expected \"a\" to be deleted")
	}
	if _, ok := result.Table.Get("b"); ok {
		t.Error("expected \"b\" to be renamed away")
	}
	if _, ok := result.Table.Get("c"); !ok {
		t.Error("expected \"c\" to exist after rename")
	}
}

func TestAppendReturnsWriteFullOnOverflowAndSwitchesZone(t *testing.T) {
	io := newMemBlockIO(32)
	zones := [2]ZoneDesc{{Base: 0, Capacity: 2}, {Base: 2, Capacity: 2}}
	w, err := NewWriter(io, zones, testSectorBytes, 3, false, nil)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	payload := make([]byte, testSectorBytes*4) // far larger than the 2-sector zone capacity
	err = w.Append(TagBase, payload)
	if !errors.Is(err, zerr.ErrWriteFull) {
		t.Fatalf("Append err = %v, want ErrWriteFull", err)
	}
	if w.CurrentZone() != 1 {
		t.Errorf("CurrentZone = %d, want 1 (switched)", w.CurrentZone())
	}
	if w.Sequence() != 2 {
		t.Errorf("Sequence = %d, want 2 (advanced on switch)", w.Sequence())
	}
}

func TestWriterCompressesBaseRecordsWhenEnabled(t *testing.T) {
	io := newMemBlockIO(32)
	w, err := NewWriter(io, testZones(), testSectorBytes, 3, true, nil)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	// A file name repeated many times compresses well; this is what
	// distinguishes the compressed-header path from the plain one below.
	files := make([]FileRecord, 64)
	for i := range files {
		files[i] = FileRecord{Level: 0, FileSize: 4096, PieceCount: 1, Name: "sst-repeated-name",
			Pieces: []mapping.Tuple{mapping.Pack(mapping.Piece{NodeID: 0, Start: 0, Num: 8})}}
	}
	if err := w.Append(TagBase, EncodeBase(files)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	header, _, _, err := readRecord(io, testZones()[0].Base+1, testSectorBytes)
	if err != nil {
		t.Fatalf("readRecord: %v", err)
	}
	if header.Tag&tagCompressedFlag == 0 {
		t.Error("expected the compressed flag to be set on a highly-compressible Base record")
	}

	result, err := Replay(io, testZones(), testSectorBytes)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	fr, ok := result.Table.Get("sst-repeated-name")
	if !ok {
		t.Fatal("expected a file to be present after replaying a compressed Base record")
	}
	if fr.FileSize != 4096 {
		t.Errorf("FileSize = %d, want 4096", fr.FileSize)
	}
}

type fakeZoneResetter struct {
	resetCalls []int
	failZone   int // zone index that errors, or -1
}

func (f *fakeZoneResetter) Reset(zoneIdx int) error {
	f.resetCalls = append(f.resetCalls, zoneIdx)
	if zoneIdx == f.failZone {
		return errors.New("simulated reset failure")
	}
	return nil
}

func TestSwitchZoneIssuesRealResetOnOtherZone(t *testing.T) {
	io := newMemBlockIO(32)
	zones := [2]ZoneDesc{{Index: 4, Base: 0, Capacity: 2}, {Index: 9, Base: 2, Capacity: 2}}
	resetter := &fakeZoneResetter{failZone: -1}
	w, err := NewWriter(io, zones, testSectorBytes, 3, false, resetter)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	payload := make([]byte, testSectorBytes*4) // overflows the 2-sector zone, forcing a switch
	if err := w.Append(TagBase, payload); !errors.Is(err, zerr.ErrWriteFull) {
		t.Fatalf("Append err = %v, want ErrWriteFull", err)
	}

	if len(resetter.resetCalls) != 1 || resetter.resetCalls[0] != 9 {
		t.Errorf("resetCalls = %v, want a single reset of zone 9 (the other reserved zone)", resetter.resetCalls)
	}
}

func TestSwitchZoneSurfacesResetterError(t *testing.T) {
	io := newMemBlockIO(32)
	zones := [2]ZoneDesc{{Index: 0, Base: 0, Capacity: 2}, {Index: 1, Base: 2, Capacity: 2}}
	resetter := &fakeZoneResetter{failZone: 1}
	w, err := NewWriter(io, zones, testSectorBytes, 3, false, resetter)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	payload := make([]byte, testSectorBytes*4)
	err = w.Append(TagBase, payload)
	if err == nil || errors.Is(err, zerr.ErrWriteFull) {
		t.Fatalf("Append err = %v, want the resetter's failure, not ErrWriteFull", err)
	}
}

func TestReplayPicksHigherSequenceZone(t *testing.T) {
	io := newMemBlockIO(32)
	zones := testZones()

	sb0 := EncodeSuperblock(Superblock{Magic: Magic, Sequence: 1})
	sb1 := EncodeSuperblock(Superblock{Magic: Magic, Sequence: 5})
	buf0 := make([]byte, testSectorBytes)
	buf1 := make([]byte, testSectorBytes)
	copy(buf0, sb0)
	copy(buf1, sb1)
	if err := io.WriteSectors(zones[0].Base, buf0); err != nil {
		t.Fatalf("WriteSectors: %v", err)
	}
	if err := io.WriteSectors(zones[1].Base, buf1); err != nil {
		t.Fatalf("WriteSectors: %v", err)
	}

	result, err := Replay(io, zones, testSectorBytes)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if result.ZoneIndex != 1 {
		t.Errorf("ZoneIndex = %d, want 1 (higher sequence)", result.ZoneIndex)
	}
	if result.Sequence != 5 {
		t.Errorf("Sequence = %d, want 5", result.Sequence)
	}
}
