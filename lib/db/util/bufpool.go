package util

import (
	"math/bits"
	"sync"
)

const (
	minBufClass = 6  // 64 B
	maxBufClass = 20 // 1 MiB
)

var bufPools [maxBufClass + 1]sync.Pool

func bufClass(n int) int {
	if n <= 1<<minBufClass {
		return minBufClass
	}
	return bits.Len(uint(n - 1))
}

// GetBuffer returns a buffer of length n. Buffers up to 1 MiB come from a pool
// and should be handed back with PutBuffer once the caller is done with them.
func GetBuffer(n int) []byte {
	c := bufClass(n)
	if c > maxBufClass {
		return make([]byte, n)
	}
	if p, ok := bufPools[c].Get().(*[]byte); ok {
		return (*p)[:n]
	}
	return make([]byte, n, 1<<c)
}

// PutBuffer hands a buffer obtained from GetBuffer back to its pool. Buffers that
// did not come from GetBuffer are dropped.
func PutBuffer(b []byte) {
	c := cap(b)
	if c == 0 || c&(c-1) != 0 {
		return
	}
	class := bits.Len(uint(c)) - 1
	if class < minBufClass || class > maxBufClass {
		return
	}
	b = b[:0]
	bufPools[class].Put(&b)
}
