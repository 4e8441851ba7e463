package ztl

import "testing"

func TestPackUnpackMappingRoundTrip(t *testing.T) {
	cases := []Piece{
		{NodeID: 0, Start: 0, Num: 0},
		{NodeID: 1, Start: 8, Num: 512},
		{NodeID: 16383, Start: 4194303, Num: 65535}, // max values for each field
	}
	for _, p := range cases {
		tuple := PackMapping(p)
		got := UnpackMapping(tuple)
		if got != p {
			t.Errorf("PackMapping(%+v) -> UnpackMapping = %+v, want %+v", p, got, p)
		}
	}
}

func TestPackMappingReservedBitsAreZero(t *testing.T) {
	p := Piece{NodeID: 16383, Start: 4194303, Num: 65535}
	tuple := PackMapping(p)
	if uint64(tuple)>>52 != 0 {
		t.Errorf("reserved bits 52..63 not zero: %064b", uint64(tuple))
	}
}
