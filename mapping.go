package ztl

import "github.com/ehrlich-b/ztl/internal/mapping"

// Piece is one contiguous span of a write's mapping. Start and Num are
// counted in sectors, each a multiple of the media minimum write size.
type Piece = mapping.Piece

// MappingTuple is the 64-bit packed wire format returned to callers and
// persisted in the FS-metadata log (spec.md §6). See internal/mapping
// for the bit layout.
type MappingTuple = mapping.Tuple

// PackMapping packs a Piece into its wire-format MappingTuple.
func PackMapping(p Piece) MappingTuple { return mapping.Pack(p) }

// UnpackMapping unpacks a wire-format MappingTuple into a Piece.
func UnpackMapping(m MappingTuple) Piece { return mapping.Unpack(m) }

// Opcode distinguishes a user command's direction.
type Opcode uint8

const (
	OpRead Opcode = iota
	OpWrite
)
