package hashmap

import (
	"io"
	"iter"

	"github.com/joshuapare/pmemkit/codec"
	"github.com/joshuapare/pmemkit/container"
	"github.com/joshuapare/pmemkit/region"
)

// Set is a durable chained hash set. Its entries carry no value.
type Set[E any] struct {
	m *Map[E, struct{}]
}

// NewSet allocates an empty set in one transaction.
func NewSet[E any](h container.Heap, cfg Config, ec codec.Codec[E], opts ...Option) (*Set[E], error) {
	m, err := create(h, cfg, ec, codec.Unit, setMagic, opts)
	if err != nil {
		return nil, err
	}
	return &Set[E]{m: m}, nil
}

// OpenSet attaches to the set whose header is at ref.
func OpenSet[E any](h container.Heap, ref region.Ref, ec codec.Codec[E], opts ...Option) (*Set[E], error) {
	m, err := attach(h, ref, ec, codec.Unit, setMagic, opts)
	if err != nil {
		return nil, err
	}
	return &Set[E]{m: m}, nil
}

// Add inserts e and reports whether it was absent.
func (s *Set[E]) Add(e E) (bool, error) {
	_, inserted, err := s.m.GetOrInsert(e, struct{}{})
	return inserted, err
}

// Contains reports whether e is present.
func (s *Set[E]) Contains(e E) bool { return s.m.Contains(e) }

// Erase removes e and reports whether it was present.
func (s *Set[E]) Erase(e E) (bool, error) { return s.m.Erase(e) }

// Clear removes every element in one transaction.
func (s *Set[E]) Clear() error { return s.m.Clear() }

// Len returns the element count.
func (s *Set[E]) Len() int { return s.m.Len() }

// All yields every element in bucket order.
func (s *Set[E]) All() iter.Seq[E] {
	return func(yield func(E) bool) {
		for e := range s.m.All() {
			if !yield(e) {
				return
			}
		}
	}
}

func (s *Set[E]) Ref() region.Ref             { return s.m.Ref() }
func (s *Set[E]) Cells() iter.Seq[region.Ref] { return s.m.Cells() }
func (s *Set[E]) Dump(w io.Writer) error      { return s.m.Dump(w) }
func (s *Set[E]) Destroy() error              { return s.m.Destroy() }
func (s *Set[E]) ResetLock()                  { s.m.ResetLock() }
func (s *Set[E]) LockUnique() (unlock func()) { return s.m.LockUnique() }
func (s *Set[E]) LockShared() (unlock func()) { return s.m.LockShared() }
