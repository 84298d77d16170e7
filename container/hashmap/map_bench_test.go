package hashmap

import (
	"testing"

	"github.com/joshuapare/pmemkit/codec"
	"github.com/joshuapare/pmemkit/pool"
)

func BenchmarkMap_GetOrInsert(b *testing.B) {
	p, err := pool.NewMemory(pool.Options{HeapSize: 16 << 20, LogSize: 16 << 20})
	if err != nil {
		b.Fatal(err)
	}
	defer p.Close()
	m, err := New(p, Config{Buckets: 16384}, codec.Uint64, codec.Uint64)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := range b.N {
		if _, _, err := m.GetOrInsert(uint64(i), uint64(i)); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkMap_Lookup(b *testing.B) {
	p, err := pool.NewMemory(pool.Options{HeapSize: 16 << 20})
	if err != nil {
		b.Fatal(err)
	}
	defer p.Close()
	m, err := New(p, Config{Buckets: 1024}, codec.Uint64, codec.Uint64)
	if err != nil {
		b.Fatal(err)
	}
	for i := range uint64(4096) {
		if _, _, err := m.GetOrInsert(i, i); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	for i := range b.N {
		m.Lookup(uint64(i) % 4096)
	}
}
