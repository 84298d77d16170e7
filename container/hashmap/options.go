package hashmap

import (
	"fmt"

	"github.com/joshuapare/pmemkit/codec"
	"github.com/joshuapare/pmemkit/internal/check"
)

// DefaultBuckets is the bucket count used when Config.Buckets is zero.
const DefaultBuckets = 128

// Config fixes the shape of a new container.
type Config struct {
	Buckets int // bucket array length; DefaultBuckets when zero
}

func (c Config) withDefaults() Config {
	if c.Buckets <= 0 {
		c.Buckets = DefaultBuckets
	}
	return c
}

// Option toggles optional behaviour of a container handle.
type Option interface {
	apply(*settings)
}

type settings struct {
	locking bool
	checks  bool
	hash    any
	equal   any
}

type optionFunc func(*settings)

func (f optionFunc) apply(s *settings) { f(s) }

// WithLocking guards the container with a reader/writer lock.
func WithLocking() Option {
	return optionFunc(func(s *settings) { s.locking = true })
}

// WithAccessChecks enables the concurrent-access checker. It is also on in
// builds with the pmemdebug tag.
func WithAccessChecks() Option {
	return optionFunc(func(s *settings) { s.checks = true })
}

// WithHasher replaces the default hash (xxhash of the key encoding).
// A map must be reopened with the same hash it was filled with.
func WithHasher[K any](fn func(K) uint64) Option {
	return optionFunc(func(s *settings) { s.hash = fn })
}

// WithEqual replaces the default key comparison (equal encodings).
func WithEqual[K any](fn func(a, b K) bool) Option {
	return optionFunc(func(s *settings) { s.equal = fn })
}

type strategy[K any] struct {
	hash   func(K) uint64
	equal  func(a, b K) bool
	access *check.Access
	lock   bool
}

func resolve[K any](kc codec.Codec[K], opts []Option) (strategy[K], error) {
	s := settings{checks: check.Enabled}
	for _, o := range opts {
		o.apply(&s)
	}
	st := strategy[K]{
		hash:   func(k K) uint64 { return codec.Hash(kc, k) },
		equal:  func(a, b K) bool { return codec.Equal(kc, a, b) },
		access: check.NewAccess(s.checks),
		lock:   s.locking,
	}
	if s.hash != nil {
		fn, ok := s.hash.(func(K) uint64)
		if !ok {
			return st, fmt.Errorf("hashmap: hasher %T does not match key type", s.hash)
		}
		st.hash = fn
	}
	if s.equal != nil {
		fn, ok := s.equal.(func(a, b K) bool)
		if !ok {
			return st, fmt.Errorf("hashmap: equality %T does not match key type", s.equal)
		}
		st.equal = fn
	}
	return st, nil
}
