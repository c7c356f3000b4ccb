package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// HashFunc computes a 64-bit hash of a key. It must be deterministic
// and pure: the table calls it while holding its lock.
type HashFunc[K comparable] func(K) uint64

// DefaultHash hashes common key types using xxHash64.
// Supported: string, all int/uint widths, uintptr, and fmt.Stringer.
// Other key types panic: silently falling back to a poor hash would
// defeat the extendible directory, so unsupported types are treated as
// a programming error. Supply a custom hasher for anything else.
func DefaultHash[K comparable](k K) uint64 {
	switch v := any(k).(type) {
	case string:
		return xxhash.Sum64String(v)

	case uint8:
		return hashUint64(uint64(v))
	case uint16:
		return hashUint64(uint64(v))
	case uint32:
		return hashUint64(uint64(v))
	case uint64:
		return hashUint64(v)
	case uint:
		return hashUint64(uint64(v))
	case uintptr:
		return hashUint64(uint64(v))
	case int8:
		return hashUint64(uint64(uint8(v)))
	case int16:
		return hashUint64(uint64(uint16(v)))
	case int32:
		return hashUint64(uint64(uint32(v)))
	case int64:
		return hashUint64(uint64(v))
	case int:
		return hashUint64(uint64(v))

	case fmt.Stringer:
		return xxhash.Sum64String(v.String())

	default:
		panic(fmt.Sprintf("storage.DefaultHash: unsupported key type %T; provide a custom hasher", k))
	}
}

// hashUint64 hashes the 8 little-endian bytes of u
func hashUint64(u uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], u)
	return xxhash.Sum64(buf[:])
}
