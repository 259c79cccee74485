package schema

import (
	"bytes"
	"testing"
)

func BenchmarkGenerateValue(b *testing.B) {
	g := NewGenerator()
	payload := bytes.Repeat([]byte("x"), 4096)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := g.GenerateValue(0, payload, uint32(i)); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkExtractUserData(b *testing.B) {
	for _, size := range []int{64, 4096, 1 << 20} {
		raw := make([]byte, HeaderSize+size)
		b.Run(sizeName(size), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_, blob, err := ExtractUserData(0, raw, nil)
				if err != nil {
					b.Fatal(err)
				}
				blob.Release()
			}
		})
	}
}

func BenchmarkIsExpiredFromEncoded(b *testing.B) {
	raw := []byte{0, 0, 3, 232, 'v'}
	for i := 0; i < b.N; i++ {
		if _, err := IsExpiredFromEncoded(0, uint32(i), raw); err != nil {
			b.Fatal(err)
		}
	}
}

func sizeName(n int) string {
	switch {
	case n >= 1<<20:
		return "1MiB"
	case n >= 1<<10:
		return "4KiB"
	default:
		return "64B"
	}
}
