// Package metalog implements the FS-metadata log (C6): an append-only
// log of typed records (Base/Update/Replace/Delete/GCChange) across two
// reserved zones, with sequence-numbered superblocks and replay-by-
// newest-sequence recovery.
//
// Encoding follows the teacher's internal/uapi marshal style: explicit
// field-by-field encoding.binary.LittleEndian put/get, not a reflection
// codec (spec.md §3 FS-metadata record, §6 sector layout).
package metalog

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/ehrlich-b/ztl/internal/mapping"
	"github.com/ehrlich-b/ztl/internal/zerr"
)

// Tag identifies a record's payload shape.
type Tag uint8

const (
	TagBase Tag = iota
	TagUpdate
	TagReplace
	TagDelete
	TagGCChange
)

// tagCompressedFlag marks a record's payload as s2-compressed (currently
// only ever set on TagBase records, per config.CompressBaseSnapshots).
// tagMask strips it back off to recover the underlying Tag value.
const (
	tagCompressedFlag Tag = 0x80
	tagMask           Tag = 0x7f
)

// NameSize is the fixed width of a file name field in a record.
const NameSize = 128

// Magic identifies a valid zone superblock.
const Magic = 0x3D

// Header precedes every record's payload.
type Header struct {
	CRC        uint32
	DataLength uint32
	Tag        Tag
}

const headerSize = 4 + 4 + 1

// EncodeHeader writes a Header in little-endian wire format.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.CRC)
	binary.LittleEndian.PutUint32(buf[4:8], h.DataLength)
	buf[8] = byte(h.Tag)
	return buf
}

// DecodeHeader reads a Header from its little-endian wire format.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < headerSize {
		return Header{}, zerr.New("METALOG_DECODE_HEADER", zerr.CodeMetaIOError, "short header read")
	}
	return Header{
		CRC:        binary.LittleEndian.Uint32(buf[0:4]),
		DataLength: binary.LittleEndian.Uint32(buf[4:8]),
		Tag:        Tag(buf[8]),
	}, nil
}

// Superblock is the {magic, sequence} record at LBA 0 of each reserved zone.
type Superblock struct {
	Magic    uint8
	Sequence uint32
}

const superblockSize = 1 + 4

// EncodeSuperblock writes a Superblock in little-endian wire format.
func EncodeSuperblock(s Superblock) []byte {
	buf := make([]byte, superblockSize)
	buf[0] = s.Magic
	binary.LittleEndian.PutUint32(buf[1:5], s.Sequence)
	return buf
}

// DecodeSuperblock reads a Superblock from its little-endian wire format.
func DecodeSuperblock(buf []byte) (Superblock, error) {
	if len(buf) < superblockSize {
		return Superblock{}, zerr.New("METALOG_DECODE_SUPERBLOCK", zerr.CodeMetaIOError, "short superblock read")
	}
	return Superblock{Magic: buf[0], Sequence: binary.LittleEndian.Uint32(buf[1:5])}, nil
}

// FileRecord is the per-file payload shared by Base (repeated),
// Update, and GCChange records.
type FileRecord struct {
	Level      int8
	FileSize   uint64
	PieceCount int32
	Name       string
	Pieces     []mapping.Tuple
}

func encodeName(name string) [NameSize]byte {
	var out [NameSize]byte
	copy(out[:], name)
	return out
}

func decodeName(buf [NameSize]byte) string {
	n := 0
	for n < len(buf) && buf[n] != 0 {
		n++
	}
	return string(buf[:n])
}

const fileRecordFixedSize = 1 + 8 + 4 + NameSize

func encodeFileRecord(fr FileRecord) []byte {
	buf := make([]byte, fileRecordFixedSize+len(fr.Pieces)*8)
	buf[0] = byte(fr.Level)
	binary.LittleEndian.PutUint64(buf[1:9], fr.FileSize)
	binary.LittleEndian.PutUint32(buf[9:13], uint32(fr.PieceCount))
	name := encodeName(fr.Name)
	copy(buf[13:13+NameSize], name[:])

	off := fileRecordFixedSize
	for _, p := range fr.Pieces {
		binary.LittleEndian.PutUint64(buf[off:off+8], uint64(p))
		off += 8
	}
	return buf
}

func decodeFileRecord(buf []byte) (FileRecord, int, error) {
	if len(buf) < fileRecordFixedSize {
		return FileRecord{}, 0, zerr.New("METALOG_DECODE_FILE", zerr.CodeMetaIOError, "short file record")
	}
	level := int8(buf[0])
	size := binary.LittleEndian.Uint64(buf[1:9])
	count := int32(binary.LittleEndian.Uint32(buf[9:13]))
	var name [NameSize]byte
	copy(name[:], buf[13:13+NameSize])

	off := fileRecordFixedSize
	need := off + int(count)*8
	if len(buf) < need {
		return FileRecord{}, 0, zerr.New("METALOG_DECODE_FILE", zerr.CodeMetaIOError, "short piece list")
	}
	pieces := make([]mapping.Tuple, count)
	for i := range pieces {
		pieces[i] = mapping.Tuple(binary.LittleEndian.Uint64(buf[off : off+8]))
		off += 8
	}
	return FileRecord{Level: level, FileSize: size, PieceCount: count, Name: decodeName(name), Pieces: pieces}, need, nil
}

// EncodeBase encodes a Base snapshot payload: u32 file_count followed by
// each file's FileRecord.
func EncodeBase(files []FileRecord) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(len(files)))
	for _, f := range files {
		buf = append(buf, encodeFileRecord(f)...)
	}
	return buf
}

// DecodeBase decodes a Base snapshot payload.
func DecodeBase(payload []byte) ([]FileRecord, error) {
	if len(payload) < 4 {
		return nil, zerr.New("METALOG_DECODE_BASE", zerr.CodeMetaIOError, "short base payload")
	}
	count := binary.LittleEndian.Uint32(payload[0:4])
	off := 4
	files := make([]FileRecord, 0, count)
	for i := uint32(0); i < count; i++ {
		fr, n, err := decodeFileRecord(payload[off:])
		if err != nil {
			return nil, err
		}
		files = append(files, fr)
		off += n
	}
	return files, nil
}

// EncodeFileDelta encodes the single-file payload shared by Update and
// GCChange records.
func EncodeFileDelta(fr FileRecord) []byte { return encodeFileRecord(fr) }

// DecodeFileDelta decodes the single-file payload shared by Update and
// GCChange records.
func DecodeFileDelta(payload []byte) (FileRecord, error) {
	fr, _, err := decodeFileRecord(payload)
	return fr, err
}

// EncodeReplace encodes a rename record: src_name, dst_name.
func EncodeReplace(src, dst string) []byte {
	s := encodeName(src)
	d := encodeName(dst)
	buf := make([]byte, 2*NameSize)
	copy(buf[:NameSize], s[:])
	copy(buf[NameSize:], d[:])
	return buf
}

// DecodeReplace decodes a rename record.
func DecodeReplace(payload []byte) (src, dst string, err error) {
	if len(payload) < 2*NameSize {
		return "", "", zerr.New("METALOG_DECODE_REPLACE", zerr.CodeMetaIOError, "short replace payload")
	}
	var s, d [NameSize]byte
	copy(s[:], payload[:NameSize])
	copy(d[:], payload[NameSize:2*NameSize])
	return decodeName(s), decodeName(d), nil
}

// EncodeDelete encodes a delete record: name.
func EncodeDelete(name string) []byte {
	n := encodeName(name)
	return n[:]
}

// DecodeDelete decodes a delete record.
func DecodeDelete(payload []byte) (string, error) {
	if len(payload) < NameSize {
		return "", zerr.New("METALOG_DECODE_DELETE", zerr.CodeMetaIOError, "short delete payload")
	}
	var n [NameSize]byte
	copy(n[:], payload[:NameSize])
	return decodeName(n), nil
}

// checksum computes the CRC32 (IEEE) of a payload, matching the
// RecordHeader.crc field's role in spec.md §3.
func checksum(payload []byte) uint32 {
	return crc32.ChecksumIEEE(payload)
}
