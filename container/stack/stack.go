// Package stack implements GrowableStack, a durable array-backed stack
// whose capacity doubles when full.
//
// Growing moves every element through its codec (codec.Move), never with
// a raw copy, so address-sensitive encodings stay correct.
//
// PushBack writes slots that held no committed data at transaction entry
// without snapshotting them; slots that were live when the transaction
// began (freed again by a PopBack in the same transaction) are snapshotted
// before reuse.
//
// A Stack is not safe for concurrent use.
package stack

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/joshuapare/pmemkit/codec"
	"github.com/joshuapare/pmemkit/container"
	"github.com/joshuapare/pmemkit/internal/format"
	"github.com/joshuapare/pmemkit/region"
)

// DefaultCapacity is the initial capacity when New is given zero.
const DefaultCapacity = 4

const (
	hdrArray   = 0x00 // u64
	hdrLen     = 0x08 // u64
	hdrCap     = 0x10 // u64
	hdrElem    = 0x18 // u32 element size
	hdrMagic   = 0x1C // u32
	headerSize = 0x20

	magic uint32 = 0x4B545350 // "PSTK"
)

// ErrZeroSize is returned for codecs with an empty encoding.
var ErrZeroSize = errors.New("stack: element codec has zero size")

// Stack is a durable growable stack of T.
type Stack[T any] struct {
	h   container.Heap
	c   codec.Codec[T]
	ref region.Ref
	sz  uint64

	// Length at the start of transaction tx. Slots below it held
	// committed data.
	tx   uint64
	live uint64
}

// New allocates an empty stack with room for capacity elements.
func New[T any](h container.Heap, c codec.Codec[T], capacity int) (*Stack[T], error) {
	if c.Size() == 0 {
		return nil, ErrZeroSize
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	s := &Stack[T]{h: h, c: c, sz: uint64(c.Size())}

	err := h.Update(func() error {
		hdr, err := h.Alloc(headerSize, container.TagStackHeader)
		if err != nil {
			return err
		}
		arr, err := h.Alloc(uint64(capacity)*s.sz, container.TagStackArray)
		if err != nil {
			return err
		}
		data := h.Bytes()
		o := uint64(hdr)
		format.PutU64(data, o+hdrArray, uint64(arr))
		format.PutU64(data, o+hdrCap, uint64(capacity))
		format.PutU32(data, o+hdrElem, uint32(s.sz))
		format.PutU32(data, o+hdrMagic, magic)
		s.ref = hdr
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("stack: create: %w", err)
	}
	return s, nil
}

// Open attaches to the stack whose header is at ref.
func Open[T any](h container.Heap, ref region.Ref, c codec.Codec[T]) (*Stack[T], error) {
	data := h.Bytes()
	o := uint64(ref)
	if ref.IsNil() || o+headerSize > uint64(len(data)) || format.ReadU32(data, o+hdrMagic) != magic {
		return nil, fmt.Errorf("%w: stack header at 0x%x", container.ErrCorrupt, o)
	}
	if got := format.ReadU32(data, o+hdrElem); int(got) != c.Size() {
		return nil, fmt.Errorf("%w: stored element size %d, codec %d", container.ErrCodecMismatch, got, c.Size())
	}
	s := &Stack[T]{h: h, c: c, ref: ref, sz: uint64(c.Size())}
	if s.length(data) > s.capacity(data) {
		return nil, fmt.Errorf("%w: stack length exceeds capacity", container.ErrCorrupt)
	}
	return s, nil
}

// Ref returns the header cell.
func (s *Stack[T]) Ref() region.Ref { return s.ref }

// Len returns the number of elements.
func (s *Stack[T]) Len() int {
	if s.ref.IsNil() {
		return 0
	}
	return int(s.length(s.h.Bytes()))
}

// Cap returns the capacity of the backing array.
func (s *Stack[T]) Cap() int {
	if s.ref.IsNil() {
		return 0
	}
	return int(s.capacity(s.h.Bytes()))
}

// Empty reports whether the stack has no elements.
func (s *Stack[T]) Empty() bool { return s.Len() == 0 }

// PushBack appends v, doubling the capacity when the array is full.
func (s *Stack[T]) PushBack(v T) error {
	if s.ref.IsNil() {
		return container.ErrDestroyed
	}
	return s.h.Update(func() error {
		s.enter()
		data := s.h.Bytes()
		n, capacity := s.length(data), s.capacity(data)
		if n == capacity {
			if err := s.grow(2 * capacity); err != nil {
				return err
			}
			data = s.h.Bytes()
		}

		slot := s.slot(data, n)
		if n < s.live {
			if err := s.h.Snapshot(slot, s.sz); err != nil {
				return err
			}
			s.c.Encode(data[slot:slot+s.sz], v)
		} else {
			s.c.Encode(data[slot:slot+s.sz], v)
			if err := s.h.Flush(slot, s.sz); err != nil {
				return err
			}
			s.h.Drain()
		}
		return s.setLen(n + 1)
	})
}

// PopBack removes and returns the last element.
func (s *Stack[T]) PopBack() (T, bool, error) {
	var v T
	if s.Len() == 0 {
		return v, false, nil
	}
	err := s.h.Update(func() error {
		s.enter()
		data := s.h.Bytes()
		n := s.length(data)
		slot := s.slot(data, n-1)
		v = s.c.Decode(data[slot : slot+s.sz])
		return s.setLen(n - 1)
	})
	if err != nil {
		var zero T
		return zero, false, err
	}
	return v, true, nil
}

// Back returns the last element.
func (s *Stack[T]) Back() (T, bool) {
	return s.At(s.Len() - 1)
}

// At returns element i, counted from the bottom.
func (s *Stack[T]) At(i int) (T, bool) {
	var zero T
	if i < 0 || i >= s.Len() {
		return zero, false
	}
	data := s.h.Bytes()
	slot := s.slot(data, uint64(i))
	return s.c.Decode(data[slot : slot+s.sz]), true
}

// Set overwrites element i. The old value is snapshotted first.
func (s *Stack[T]) Set(i int, v T) error {
	if i < 0 || i >= s.Len() {
		return fmt.Errorf("stack: index %d out of range [0, %d)", i, s.Len())
	}
	return container.NewValue(s.h, s.c, s.slot(s.h.Bytes(), uint64(i))).Store(v)
}

// Clear drops every element. Capacity is kept.
func (s *Stack[T]) Clear() error {
	if s.Len() == 0 {
		return nil
	}
	return s.h.Update(func() error {
		s.enter()
		return s.setLen(0)
	})
}

// All yields the elements from the bottom up.
func (s *Stack[T]) All() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		for i := range s.Len() {
			v, ok := s.At(i)
			if !ok || !yield(i, v) {
				return
			}
		}
	}
}

// Cells yields the header and the backing array.
func (s *Stack[T]) Cells() iter.Seq[region.Ref] {
	return func(yield func(region.Ref) bool) {
		if s.ref.IsNil() {
			return
		}
		if yield(s.ref) {
			yield(region.Ref(s.array(s.h.Bytes())))
		}
	}
}

// Dump writes length and capacity.
func (s *Stack[T]) Dump(w io.Writer) error {
	var buf bytes.Buffer
	p := container.Printer()
	if s.ref.IsNil() {
		p.Fprintf(&buf, "stack: destroyed\n")
	} else {
		p.Fprintf(&buf, "stack at 0x%x: %d of %d slots, %d bytes each\n",
			uint64(s.ref), s.Len(), s.Cap(), s.sz)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// Destroy frees the stack. Elements that are refs are not followed.
func (s *Stack[T]) Destroy() error {
	if s.ref.IsNil() {
		return container.ErrDestroyed
	}
	err := s.h.Update(func() error {
		if err := s.h.Free(region.Ref(s.array(s.h.Bytes()))); err != nil {
			return err
		}
		return s.h.Free(s.ref)
	})
	if err != nil {
		return err
	}
	s.ref = region.Nil
	return nil
}

func (s *Stack[T]) enter() {
	if tx := s.h.TxID(); tx != s.tx {
		s.tx = tx
		s.live = s.length(s.h.Bytes())
	}
}

func (s *Stack[T]) grow(capacity uint64) error {
	arr, err := s.h.Alloc(capacity*s.sz, container.TagStackArray)
	if err != nil {
		return fmt.Errorf("stack: grow to %d: %w", capacity, err)
	}
	data := s.h.Bytes()
	old, n := s.array(data), s.length(data)
	// A Mover may rewrite the source slot, and the old array comes back
	// if the transaction aborts.
	if _, ok := s.c.(codec.Mover); ok && n > 0 {
		if err := s.h.Snapshot(old, n*s.sz); err != nil {
			return err
		}
	}
	codec.Move(s.c, data, uint64(arr), old, int(n))

	o := uint64(s.ref)
	if err := s.h.Snapshot(o+hdrArray, 8); err != nil {
		return err
	}
	if err := s.h.Snapshot(o+hdrCap, 8); err != nil {
		return err
	}
	format.PutU64(data, o+hdrArray, uint64(arr))
	format.PutU64(data, o+hdrCap, capacity)
	return s.h.Free(region.Ref(old))
}

func (s *Stack[T]) setLen(n uint64) error {
	off := uint64(s.ref) + hdrLen
	if err := s.h.Snapshot(off, 8); err != nil {
		return err
	}
	format.PutU64(s.h.Bytes(), off, n)
	return nil
}

func (s *Stack[T]) array(data []byte) uint64 {
	return format.ReadU64(data, uint64(s.ref)+hdrArray)
}

func (s *Stack[T]) length(data []byte) uint64 {
	return format.ReadU64(data, uint64(s.ref)+hdrLen)
}

func (s *Stack[T]) capacity(data []byte) uint64 {
	return format.ReadU64(data, uint64(s.ref)+hdrCap)
}

func (s *Stack[T]) slot(data []byte, i uint64) uint64 {
	return s.array(data) + i*s.sz
}
