package util

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// UintKey is the hashed form of a string key used inside the engines.
type UintKey uint64

// GenerateSeed returns a random hash seed, falling back to the clock if the
// system random source is unavailable.
func GenerateSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

// HashString hashes s with FNV-1a, mixing seed into the offset basis so two
// databases with different seeds place keys differently.
func HashString(s string, seed uint64) UintKey {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)

	h := uint64(offset64) ^ seed
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return UintKey(h)
}
