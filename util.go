package fiu

import (
	"encoding/binary"

	"golang.org/x/exp/constraints"
)

// aligndown rounds `val` down to nearest multiple of `align`.
func aligndown[T constraints.Unsigned](val, align T) T {
	return val &^ (align - 1)
}

func max[T constraints.Integer](a, b T) T {
	if a > b {
		return a
	}
	return b
}

func min[T constraints.Integer](a, b T) T {
	if a < b {
		return a
	}
	return b
}

// putWord stores up to 4 bytes of src into a little-endian register word.
func putWord(src []byte) uint32 {
	var w [4]byte
	copy(w[:], src)
	return binary.LittleEndian.Uint32(w[:])
}

// getWord copies up to 4 bytes of a little-endian register word into dst.
func getWord(dst []byte, v uint32) {
	var w [4]byte
	binary.LittleEndian.PutUint32(w[:], v)
	copy(dst, w[:])
}
