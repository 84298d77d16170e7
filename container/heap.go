package container

import (
	"github.com/joshuapare/pmemkit/codec"
	"github.com/joshuapare/pmemkit/region"
)

// Heap is the durability substrate a container is built on. *pool.Pool
// implements it.
//
// Snapshot, Alloc and Free must be called inside Update; calling them
// outside a transaction is a usage violation and panics.
type Heap interface {
	// Bytes returns the current view of the region. It is invalidated by
	// any call that may allocate.
	Bytes() []byte

	InTransaction() bool

	// TxID identifies the running transaction; 0 outside one.
	TxID() uint64

	// Update runs fn in a transaction, joining the running one if any.
	Update(fn func() error) error

	// Snapshot records the pre-image of [off, off+n) for rollback.
	// Ranges already logged or allocated in this transaction are skipped.
	Snapshot(off, n uint64) error

	// Alloc returns a zeroed payload of n bytes. It is released again if
	// the transaction aborts.
	Alloc(n uint64, tag uint32) (region.Ref, error)

	// Free releases a payload when the transaction commits.
	Free(ref region.Ref) error

	// Flush writes [off, off+n) back without logging it. Only for bytes
	// that hold no state readable before the transaction.
	Flush(off, n uint64) error

	// Drain orders earlier flushes before later stores.
	Drain()
}

// Value is a handle to one encoded value inside the region. It is only
// valid while the container entry it points into exists.
type Value[V any] struct {
	h   Heap
	c   codec.Codec[V]
	off uint64
}

// NewValue returns a handle for the value encoded at off.
func NewValue[V any](h Heap, c codec.Codec[V], off uint64) Value[V] {
	return Value[V]{h: h, c: c, off: off}
}

// Offset returns where the value lives in the region.
func (v Value[V]) Offset() uint64 { return v.off }

// Valid reports whether v refers to anything.
func (v Value[V]) Valid() bool { return v.h != nil }

// Load decodes the current value.
func (v Value[V]) Load() V {
	n := uint64(v.c.Size())
	return v.c.Decode(v.h.Bytes()[v.off : v.off+n])
}

// Store overwrites the value. The old bytes are snapshotted first, so the
// write is undone if the transaction aborts. Outside a transaction Store
// runs in its own.
func (v Value[V]) Store(x V) error {
	n := uint64(v.c.Size())
	return v.h.Update(func() error {
		if err := v.h.Snapshot(v.off, n); err != nil {
			return err
		}
		v.c.Encode(v.h.Bytes()[v.off:v.off+n], x)
		return nil
	})
}
