// Package queue implements a durable append-only FIFO queue: a singly
// linked chain of nodes with head and tail refs and an element count.
//
// The queue is empty iff head is nil, and then tail is nil as well.
// Every mutator runs in a transaction. A Queue is not safe for concurrent
// use.
package queue

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

// ErrEmpty is returned by Front and PopFront on an empty queue. Unlike a
// lookup miss it signals a caller bug.
var ErrEmpty = errors.New("queue: empty")

const (
	hdrHead    = 0x00
	hdrTail    = 0x08
	hdrCount   = 0x10
	hdrElem    = 0x18 // u32
	hdrMagic   = 0x1C // u32
	headerSize = 0x20

	magic uint32 = 0x55455551 // "QQEU"

	nodeNext  = 0
	nodeValue = 8
)

// Queue is a durable FIFO of T.
type Queue[T any] struct {
	h   container.Heap
	c   codec.Codec[T]
	ref region.Ref
	sz  uint64
}

// New allocates an empty queue.
func New[T any](h container.Heap, c codec.Codec[T]) (*Queue[T], error) {
	q := &Queue[T]{h: h, c: c, sz: uint64(c.Size())}
	err := h.Update(func() error {
		hdr, err := h.Alloc(headerSize, container.TagQueueHeader)
		if err != nil {
			return err
		}
		data := h.Bytes()
		format.PutU32(data, uint64(hdr)+hdrElem, uint32(q.sz))
		format.PutU32(data, uint64(hdr)+hdrMagic, magic)
		q.ref = hdr
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("queue: create: %w", err)
	}
	return q, nil
}

// Open attaches to the queue whose header is at ref.
func Open[T any](h container.Heap, ref region.Ref, c codec.Codec[T]) (*Queue[T], error) {
	data := h.Bytes()
	o := uint64(ref)
	if ref.IsNil() || o+headerSize > uint64(len(data)) || format.ReadU32(data, o+hdrMagic) != magic {
		return nil, fmt.Errorf("%w: queue header at 0x%x", container.ErrCorrupt, o)
	}
	if got := format.ReadU32(data, o+hdrElem); int(got) != c.Size() {
		return nil, fmt.Errorf("%w: stored element size %d, codec %d", container.ErrCodecMismatch, got, c.Size())
	}
	head, tail := format.ReadU64(data, o+hdrHead), format.ReadU64(data, o+hdrTail)
	if (head == 0) != (tail == 0) {
		return nil, fmt.Errorf("%w: queue head 0x%x, tail 0x%x", container.ErrCorrupt, head, tail)
	}
	return &Queue[T]{h: h, c: c, ref: ref, sz: uint64(c.Size())}, nil
}

// Ref returns the header cell.
func (q *Queue[T]) Ref() region.Ref { return q.ref }

// Len returns the element count.
func (q *Queue[T]) Len() int {
	if q.ref.IsNil() {
		return 0
	}
	return int(q.field(q.h.Bytes(), hdrCount))
}

// Empty reports whether the queue has no elements.
func (q *Queue[T]) Empty() bool {
	return q.ref.IsNil() || q.field(q.h.Bytes(), hdrHead) == 0
}

// PushBack appends v as the new tail.
func (q *Queue[T]) PushBack(v T) error {
	if q.ref.IsNil() {
		return container.ErrDestroyed
	}
	return q.h.Update(func() error {
		ref, err := q.h.Alloc(nodeValue+q.sz, container.TagQueueNode)
		if err != nil {
			return err
		}
		node := uint64(ref)
		data := q.h.Bytes()
		q.c.Encode(data[node+nodeValue:node+nodeValue+q.sz], v)

		o := uint64(q.ref)
		if tail := q.field(data, hdrTail); tail == 0 {
			if err := q.h.Snapshot(o+hdrHead, 16); err != nil {
				return err
			}
			format.PutU64(data, o+hdrHead, node)
		} else {
			if err := q.h.Snapshot(tail+nodeNext, 8); err != nil {
				return err
			}
			format.PutU64(data, tail+nodeNext, node)
			if err := q.h.Snapshot(o+hdrTail, 8); err != nil {
				return err
			}
		}
		format.PutU64(data, o+hdrTail, node)
		return q.addCount(data, 1)
	})
}

// PopFront removes and returns the head element.
func (q *Queue[T]) PopFront() (T, error) {
	var v T
	if q.Empty() {
		return v, ErrEmpty
	}
	err := q.h.Update(func() error {
		data := q.h.Bytes()
		o := uint64(q.ref)
		head := q.field(data, hdrHead)
		v = q.c.Decode(data[head+nodeValue : head+nodeValue+q.sz])
		next := format.ReadU64(data, head+nodeNext)

		if err := q.h.Snapshot(o+hdrHead, 16); err != nil {
			return err
		}
		format.PutU64(data, o+hdrHead, next)
		if next == 0 {
			format.PutU64(data, o+hdrTail, 0)
		}
		if err := q.addCount(data, -1); err != nil {
			return err
		}
		return q.h.Free(region.Ref(head))
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

// Front returns a handle to the head element.
func (q *Queue[T]) Front() (container.Value[T], error) {
	if q.Empty() {
		return container.Value[T]{}, ErrEmpty
	}
	head := q.field(q.h.Bytes(), hdrHead)
	return container.NewValue(q.h, q.c, head+nodeValue), nil
}

// Clear frees every node.
func (q *Queue[T]) Clear() error {
	if q.Empty() {
		return nil
	}
	return q.h.Update(q.clear)
}

func (q *Queue[T]) clear() error {
	data := q.h.Bytes()
	for n := q.field(data, hdrHead); n != 0; n = format.ReadU64(data, n+nodeNext) {
		if err := q.h.Free(region.Ref(n)); err != nil {
			return err
		}
	}
	o := uint64(q.ref)
	if err := q.h.Snapshot(o, 24); err != nil {
		return err
	}
	format.PutU64(data, o+hdrHead, 0)
	format.PutU64(data, o+hdrTail, 0)
	format.PutU64(data, o+hdrCount, 0)
	return nil
}

// All yields the elements front to back.
func (q *Queue[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		for n := range q.nodes() {
			data := q.h.Bytes()
			if !yield(q.c.Decode(data[n+nodeValue : n+nodeValue+q.sz])) {
				return
			}
		}
	}
}

// Cells yields the header and every node.
func (q *Queue[T]) Cells() iter.Seq[region.Ref] {
	return func(yield func(region.Ref) bool) {
		if q.ref.IsNil() || !yield(q.ref) {
			return
		}
		for n := range q.nodes() {
			if !yield(region.Ref(n)) {
				return
			}
		}
	}
}

// Dump writes the element count.
func (q *Queue[T]) Dump(w io.Writer) error {
	var buf bytes.Buffer
	p := container.Printer()
	if q.ref.IsNil() {
		p.Fprintf(&buf, "queue: destroyed\n")
	} else {
		p.Fprintf(&buf, "queue at 0x%x: %d elements\n", uint64(q.ref), q.Len())
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// Destroy frees the queue and its nodes.
func (q *Queue[T]) Destroy() error {
	if q.ref.IsNil() {
		return container.ErrDestroyed
	}
	err := q.h.Update(func() error {
		if err := q.clear(); err != nil {
			return err
		}
		return q.h.Free(q.ref)
	})
	if err != nil {
		return err
	}
	q.ref = region.Nil
	return nil
}

func (q *Queue[T]) nodes() iter.Seq[uint64] {
	return func(yield func(uint64) bool) {
		if q.ref.IsNil() {
			return
		}
		for n := q.field(q.h.Bytes(), hdrHead); n != 0; n = format.ReadU64(q.h.Bytes(), n+nodeNext) {
			if !yield(n) {
				return
			}
		}
	}
}

func (q *Queue[T]) field(data []byte, off uint64) uint64 {
	return format.ReadU64(data, uint64(q.ref)+off)
}

func (q *Queue[T]) addCount(data []byte, delta int64) error {
	off := uint64(q.ref) + hdrCount
	if err := q.h.Snapshot(off, 8); err != nil {
		return err
	}
	format.PutU64(data, off, format.ReadU64(data, off)+uint64(delta))
	return nil
}
