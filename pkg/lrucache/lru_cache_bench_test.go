package lrucache

import (
	"math/rand"
	"testing"
)

func BenchmarkLRU_SequentialGet(b *testing.B) {
	cache := New[uint32, []byte](1000)
	for i := range 1000 {
		cache.Put(uint32(i), make([]byte, 64))
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		cache.Get(uint32(i % 1000))
	}
}

func BenchmarkLRU_RandomGet(b *testing.B) {
	cache := New[uint32, []byte](1000)
	for i := range 1000 {
		cache.Put(uint32(i), make([]byte, 64))
	}

	keys := make([]uint32, b.N)
	for i := 0; i < b.N; i++ {
		keys[i] = uint32(rand.Intn(1000))
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		cache.Get(keys[i])
	}
}

func BenchmarkLRU_Eviction(b *testing.B) {
	cache := New[uint32, []byte](64)

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		cache.Put(uint32(i), nil)
	}
}
