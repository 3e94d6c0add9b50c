package wflow

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// hashKey turns an arbitrary comparable key into a routing hash using
// xxhash, the hashing dependency already present in the retrieval pack's
// rate-limiter sibling project for exactly this kind of shard-routing
// concern. Keys are rendered through fmt-free, allocation-light paths for
// the common cases (strings, the fixed-width integer kinds) and fall back
// to a %v-style string conversion otherwise.
func hashKey(key any) uint64 {
	switch v := key.(type) {
	case string:
		return xxhash.Sum64String(v)
	case []byte:
		return xxhash.Sum64(v)
	case int:
		return hashUint64(uint64(v))
	case int32:
		return hashUint64(uint64(v))
	case int64:
		return hashUint64(uint64(v))
	case uint:
		return hashUint64(uint64(v))
	case uint32:
		return hashUint64(uint64(v))
	case uint64:
		return hashUint64(v)
	default:
		return xxhash.Sum64String(stringify(v))
	}
}

func hashUint64(v uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return xxhash.Sum64(buf[:])
}

func stringify(v any) string {
	type stringer interface{ String() string }
	if s, ok := v.(stringer); ok {
		return s.String()
	}
	return fmt.Sprint(v)
}
