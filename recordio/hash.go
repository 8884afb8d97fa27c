package recordio

import (
	"encoding/binary"
	"hash/fnv"
)

// Hash combines per-field hashes into a record hash.
func Hash(values ...int32) int32 {
	var h int32
	for _, v := range values {
		h ^= v
	}
	return h
}

// HashInt64 folds the two halves of v together.
func HashInt64(v int64) int32 {
	return int32(v) ^ int32(v>>32)
}

// HashInt32 is the identity; it exists so record code reads uniformly.
func HashInt32(v int32) int32 {
	return v
}

// HashBytes folds b as little-endian 32-bit words. A short tail is zero padded.
func HashBytes(b []byte) int32 {
	var h uint32
	for len(b) >= 4 {
		h ^= binary.LittleEndian.Uint32(b)
		b = b[4:]
	}
	if len(b) > 0 {
		var tail [4]byte
		copy(tail[:], b)
		h ^= binary.LittleEndian.Uint32(tail[:])
	}
	return int32(h)
}

// HashString is FNV-1a, which unlike the runtime string hash is stable across processes.
func HashString(s string) int32 {
	f := fnv.New32a()
	_, _ = f.Write([]byte(s))
	return int32(f.Sum32())
}
