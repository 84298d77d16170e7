package shardmap

import (
	"fmt"

	"github.com/joshuapare/pmemkit/codec"
)

// Config fixes the shape of a new map.
type Config struct {
	Shards  int // rounded up to a power of two; runtime.GOMAXPROCS(0) when zero
	Buckets int // initial buckets per shard; 16 when zero
}

// Option customizes key hashing and comparison.
type Option func(*settings)

type settings struct {
	hash  any
	equal any
}

// WithHasher replaces the default hash (xxhash of the key encoding).
func WithHasher[K any](fn func(K) uint64) Option {
	return func(s *settings) { s.hash = fn }
}

// WithEqual replaces the default key comparison.
func WithEqual[K any](fn func(a, b K) bool) Option {
	return func(s *settings) { s.equal = fn }
}

func strategy[K any](kc codec.Codec[K], opts []Option) (hash func(K) uint64, equal func(a, b K) bool, err error) {
	var s settings
	for _, o := range opts {
		o(&s)
	}
	hash = func(k K) uint64 { return codec.Hash(kc, k) }
	equal = func(a, b K) bool { return codec.Equal(kc, a, b) }
	if s.hash != nil {
		if hash, _ = s.hash.(func(K) uint64); hash == nil {
			return nil, nil, fmt.Errorf("shardmap: hasher %T does not match key type", s.hash)
		}
	}
	if s.equal != nil {
		if equal, _ = s.equal.(func(a, b K) bool); equal == nil {
			return nil, nil, fmt.Errorf("shardmap: equality %T does not match key type", s.equal)
		}
	}
	return hash, equal, nil
}
