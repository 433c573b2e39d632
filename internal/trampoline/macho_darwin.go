//go:build darwin

package trampoline

import "encoding/binary"

// Mach-O magic constants, ported from blacktop/go-macho's types/header.go.
// Only the magic numbers are needed here — C4 only has to decide "is this
// plausibly a Mach-O executable", not parse its load commands, so the full
// parser is not imported (see DESIGN.md).
const (
	magic32    uint32 = 0xfeedface
	magic64    uint32 = 0xfeedfacf
	magicFat   uint32 = 0xcafebabe
	cigam32    uint32 = 0xcefaedfe // magic32 byte-swapped
	cigam64    uint32 = 0xcffaedfe // magic64 byte-swapped
	magicFatCi uint32 = 0xbebafeca // magicFat byte-swapped
)

// looksLikeMachO reports whether the first 4 bytes of a file are one of the
// thin or fat Mach-O magic numbers, in either byte order (spec.md §4.4 step
// 2: "Read the first 4 bytes; accept only one of the Mach-O / fat-Mach-O
// magics").
func looksLikeMachO(first4 []byte) bool {
	if len(first4) < 4 {
		return false
	}

	be := binary.BigEndian.Uint32(first4)
	le := binary.LittleEndian.Uint32(first4)

	switch be {
	case magic32, magic64, magicFat, cigam32, cigam64, magicFatCi:
		return true
	}

	switch le {
	case magic32, magic64, magicFat, cigam32, cigam64, magicFatCi:
		return true
	}

	return false
}
