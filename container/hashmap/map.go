package hashmap

import (
	"bytes"
	"fmt"
	"io"
	"iter"

	"github.com/joshuapare/pmemkit/codec"
	"github.com/joshuapare/pmemkit/container"
	"github.com/joshuapare/pmemkit/internal/check"
	"github.com/joshuapare/pmemkit/internal/format"
	"github.com/joshuapare/pmemkit/region"
)

// Map is a durable chained hash map. See the package documentation for
// layout and locking rules.
type Map[K, V any] struct {
	h  container.Heap
	kc codec.Codec[K]
	vc codec.Codec[V]

	ref   region.Ref // header cell
	arr   uint64     // bucket array
	nb    uint64
	lay   layout
	magic uint32

	hash   func(K) uint64
	equal  func(a, b K) bool
	lock   container.Locker
	access *check.Access
}

// New allocates an empty map in one transaction.
func New[K, V any](h container.Heap, cfg Config, kc codec.Codec[K], vc codec.Codec[V], opts ...Option) (*Map[K, V], error) {
	return create(h, cfg, kc, vc, mapMagic, opts)
}

// Open attaches to the map whose header is at ref. With WithLocking, the
// returned map must have ResetLock called before use.
func Open[K, V any](h container.Heap, ref region.Ref, kc codec.Codec[K], vc codec.Codec[V], opts ...Option) (*Map[K, V], error) {
	return attach(h, ref, kc, vc, mapMagic, opts)
}

func handle[K, V any](h container.Heap, kc codec.Codec[K], vc codec.Codec[V], magic uint32, opts []Option) (*Map[K, V], bool, error) {
	st, err := resolve(kc, opts)
	if err != nil {
		return nil, false, err
	}
	m := &Map[K, V]{
		h:      h,
		kc:     kc,
		vc:     vc,
		lay:    newLayout(kc.Size(), vc.Size()),
		magic:  magic,
		hash:   st.hash,
		equal:  st.equal,
		access: st.access,
		lock:   container.NoLock{},
	}
	return m, st.lock, nil
}

func create[K, V any](h container.Heap, cfg Config, kc codec.Codec[K], vc codec.Codec[V], magic uint32, opts []Option) (*Map[K, V], error) {
	m, locking, err := handle(h, kc, vc, magic, opts)
	if err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	nb := uint64(cfg.Buckets)

	var hdr, arr region.Ref
	err = h.Update(func() error {
		var err error
		if hdr, err = h.Alloc(headerSize, container.TagMapHeader); err != nil {
			return err
		}
		if arr, err = h.Alloc(nb*m.lay.head, container.TagMapBuckets); err != nil {
			return err
		}
		data := h.Bytes()
		o := uint64(hdr)
		format.PutU64(data, o+hdrArray, uint64(arr))
		format.PutU64(data, o+hdrBuckets, nb)
		format.PutU32(data, o+hdrKeySize, uint32(kc.Size()))
		format.PutU32(data, o+hdrValSize, uint32(vc.Size()))
		format.PutU32(data, o+hdrMagic, magic)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("hashmap: create: %w", err)
	}

	m.ref, m.arr, m.nb = hdr, uint64(arr), nb
	if locking {
		m.lock = container.NewRWLock()
	}
	return m, nil
}

func attach[K, V any](h container.Heap, ref region.Ref, kc codec.Codec[K], vc codec.Codec[V], magic uint32, opts []Option) (*Map[K, V], error) {
	m, locking, err := handle(h, kc, vc, magic, opts)
	if err != nil {
		return nil, err
	}
	data := h.Bytes()
	o := uint64(ref)
	if ref.IsNil() || o+headerSize > uint64(len(data)) {
		return nil, fmt.Errorf("%w: hashmap header at 0x%x", container.ErrCorrupt, o)
	}
	if got := format.ReadU32(data, o+hdrMagic); got != magic {
		return nil, fmt.Errorf("%w: hashmap magic 0x%08x at 0x%x", container.ErrCorrupt, got, o)
	}
	ks := format.ReadU32(data, o+hdrKeySize)
	vs := format.ReadU32(data, o+hdrValSize)
	if int(ks) != kc.Size() || int(vs) != vc.Size() {
		return nil, fmt.Errorf("%w: stored %d/%d, codecs %d/%d",
			container.ErrCodecMismatch, ks, vs, kc.Size(), vc.Size())
	}
	nb := format.ReadU64(data, o+hdrBuckets)
	arr := format.ReadU64(data, o+hdrArray)
	if nb == 0 || arr == 0 || arr+nb*m.lay.head > uint64(len(data)) {
		return nil, fmt.Errorf("%w: bucket array 0x%x x %d", container.ErrCorrupt, arr, nb)
	}

	m.ref, m.arr, m.nb = ref, arr, nb
	if locking {
		m.lock = container.NewUnresetRWLock()
	}
	return m, nil
}

// Ref returns the header cell; persist it to Open the map again.
func (m *Map[K, V]) Ref() region.Ref { return m.ref }

// Buckets returns the bucket count fixed at construction.
func (m *Map[K, V]) Buckets() int { return int(m.nb) }

// ResetLock reinitializes the lock. Call it once after Open.
func (m *Map[K, V]) ResetLock() { m.lock.Reset() }

// LockUnique takes the lock exclusively and returns the unlock.
func (m *Map[K, V]) LockUnique() (unlock func()) { return container.Unique(m.lock) }

// LockShared takes the lock for reading and returns the unlock.
func (m *Map[K, V]) LockShared() (unlock func()) { return container.Shared(m.lock) }

// GetOrInsert returns the value stored for k, inserting v first if k is
// absent. inserted reports whether the insert happened.
func (m *Map[K, V]) GetOrInsert(k K, v V) (val container.Value[V], inserted bool, err error) {
	defer container.Unique(m.lock)()
	defer m.access.Modify()()
	if m.ref.IsNil() {
		return val, false, container.ErrDestroyed
	}

	head := m.bucket(k)
	if !m.valid(m.h.Bytes(), head) {
		if err := m.h.Update(func() error { return m.fillHead(head, k, v) }); err != nil {
			return val, false, err
		}
		return m.value(head), true, nil
	}

	e := head
	for {
		data := m.h.Bytes()
		if m.equal(m.key(data, e), k) {
			return m.value(e), false, nil
		}
		next := m.nextOf(data, e)
		if next == 0 {
			break
		}
		e = next
	}

	var node uint64
	err = m.h.Update(func() error {
		ref, err := m.h.Alloc(m.lay.node, container.TagMapNode)
		if err != nil {
			return err
		}
		node = uint64(ref)
		data := m.h.Bytes()
		m.writeEntry(data, node, k, v)
		if err := m.h.Snapshot(e+m.lay.next, 8); err != nil {
			return err
		}
		format.PutU64(data, e+m.lay.next, node)
		return m.addCount(1)
	})
	if err != nil {
		return val, false, err
	}
	return m.value(node), true, nil
}

// fillHead writes an entry into an invalid head. The slot holds no live
// data, so the entry is flushed instead of snapshotted; only the flag and
// the count go through the log.
func (m *Map[K, V]) fillHead(head uint64, k K, v V) error {
	data := m.h.Bytes()
	m.writeEntry(data, head, k, v)
	if err := m.h.Flush(head, m.lay.ks+m.lay.vs); err != nil {
		return err
	}
	m.h.Drain()

	if err := m.h.Snapshot(head+m.lay.valid, 8); err != nil {
		return err
	}
	format.PutU64(data, head+m.lay.valid, 1)
	return m.addCount(1)
}

// Lookup returns the value stored for k.
func (m *Map[K, V]) Lookup(k K) (V, bool) {
	defer container.Shared(m.lock)()
	defer m.access.Read()()

	var zero V
	if m.ref.IsNil() {
		return zero, false
	}
	data := m.h.Bytes()
	e, ok := m.find(data, k)
	if !ok {
		return zero, false
	}
	return m.vc.Decode(data[e+m.lay.ks : e+m.lay.ks+m.lay.vs]), true
}

// LookupValue returns a handle to the value stored for k. Writes through
// the handle are snapshotted before they happen.
func (m *Map[K, V]) LookupValue(k K) (container.Value[V], bool) {
	defer container.Shared(m.lock)()
	defer m.access.Read()()

	if m.ref.IsNil() {
		return container.Value[V]{}, false
	}
	e, ok := m.find(m.h.Bytes(), k)
	if !ok {
		return container.Value[V]{}, false
	}
	return m.value(e), true
}

// Contains reports whether k is present.
func (m *Map[K, V]) Contains(k K) bool {
	_, ok := m.Lookup(k)
	return ok
}

// Erase removes k and reports whether it was present.
func (m *Map[K, V]) Erase(k K) (bool, error) {
	defer container.Unique(m.lock)()
	defer m.access.Modify()()
	if m.ref.IsNil() {
		return false, container.ErrDestroyed
	}

	data := m.h.Bytes()
	head := m.bucket(k)
	if !m.valid(data, head) {
		return false, nil
	}
	if m.equal(m.key(data, head), k) {
		if err := m.h.Update(func() error { return m.eraseHead(head) }); err != nil {
			return false, err
		}
		return true, nil
	}

	for prev := head; ; {
		cur := m.nextOf(data, prev)
		if cur == 0 {
			return false, nil
		}
		if m.equal(m.key(data, cur), k) {
			err := m.h.Update(func() error { return m.unlink(prev, cur) })
			if err != nil {
				return false, err
			}
			return true, nil
		}
		prev = cur
	}
}

// eraseHead removes the head entry. A successor is moved into the head so
// that the head stays valid while the bucket is non-empty.
func (m *Map[K, V]) eraseHead(head uint64) error {
	data := m.h.Bytes()
	next := m.nextOf(data, head)

	if next == 0 {
		// The whole head is logged, not only the flag: a later insert in
		// this transaction rewrites key and value without a snapshot.
		if err := m.h.Snapshot(head, m.lay.head); err != nil {
			return err
		}
		format.PutU64(data, head+m.lay.valid, 0)
		return m.addCount(-1)
	}

	if err := m.h.Snapshot(head, m.lay.node); err != nil {
		return err
	}
	// Moving may rewrite the source as well.
	if err := m.h.Snapshot(next, m.lay.ks+m.lay.vs); err != nil {
		return err
	}
	codec.Move(m.kc, data, head, next, 1)
	codec.Move(m.vc, data, head+m.lay.ks, next+m.lay.ks, 1)
	format.PutU64(data, head+m.lay.next, m.nextOf(data, next))
	if err := m.h.Free(region.Ref(next)); err != nil {
		return err
	}
	return m.addCount(-1)
}

func (m *Map[K, V]) unlink(prev, cur uint64) error {
	data := m.h.Bytes()
	if err := m.h.Snapshot(prev+m.lay.next, 8); err != nil {
		return err
	}
	format.PutU64(data, prev+m.lay.next, m.nextOf(data, cur))
	if err := m.h.Free(region.Ref(cur)); err != nil {
		return err
	}
	return m.addCount(-1)
}

// Clear removes every entry in one transaction.
func (m *Map[K, V]) Clear() error {
	defer container.Unique(m.lock)()
	defer m.access.Modify()()
	if m.ref.IsNil() {
		return container.ErrDestroyed
	}
	return m.h.Update(m.clear)
}

func (m *Map[K, V]) clear() error {
	data := m.h.Bytes()
	for i := range m.nb {
		head := m.arr + i*m.lay.head
		if !m.valid(data, head) {
			continue
		}
		for e := m.nextOf(data, head); e != 0; e = m.nextOf(data, e) {
			if err := m.h.Free(region.Ref(e)); err != nil {
				return err
			}
		}
		if err := m.h.Snapshot(head, m.lay.head); err != nil {
			return err
		}
		format.PutU64(data, head+m.lay.next, 0)
		format.PutU64(data, head+m.lay.valid, 0)
	}

	cnt := uint64(m.ref) + hdrCount
	if format.ReadU64(data, cnt) == 0 {
		return nil
	}
	if err := m.h.Snapshot(cnt, 8); err != nil {
		return err
	}
	format.PutU64(data, cnt, 0)
	return nil
}

// Len returns the element count.
func (m *Map[K, V]) Len() int {
	defer container.Shared(m.lock)()
	if m.ref.IsNil() {
		return 0
	}
	return int(format.ReadU64(m.h.Bytes(), uint64(m.ref)+hdrCount))
}

// All yields every entry, bucket by bucket, head first.
func (m *Map[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		m.walk(func(e uint64) bool {
			data := m.h.Bytes()
			return yield(m.key(data, e), m.vc.Decode(data[e+m.lay.ks:e+m.lay.ks+m.lay.vs]))
		})
	}
}

// Entries is All with value handles, for updating values in place.
func (m *Map[K, V]) Entries() iter.Seq2[K, container.Value[V]] {
	return func(yield func(K, container.Value[V]) bool) {
		m.walk(func(e uint64) bool {
			return yield(m.key(m.h.Bytes(), e), m.value(e))
		})
	}
}

func (m *Map[K, V]) walk(fn func(e uint64) bool) {
	defer container.Shared(m.lock)()
	if m.ref.IsNil() {
		return
	}
	defer m.access.StartIteration()()
	for i := range m.nb {
		head := m.arr + i*m.lay.head
		if !m.valid(m.h.Bytes(), head) {
			continue
		}
		for e := head; e != 0; e = m.nextOf(m.h.Bytes(), e) {
			m.access.Advance()
			if !fn(e) {
				return
			}
		}
	}
}

// Cells yields every cell the map owns.
func (m *Map[K, V]) Cells() iter.Seq[region.Ref] {
	return func(yield func(region.Ref) bool) {
		defer container.Shared(m.lock)()
		if m.ref.IsNil() {
			return
		}
		if !yield(m.ref) || !yield(region.Ref(m.arr)) {
			return
		}
		data := m.h.Bytes()
		for i := range m.nb {
			head := m.arr + i*m.lay.head
			if !m.valid(data, head) {
				continue
			}
			for e := m.nextOf(data, head); e != 0; e = m.nextOf(data, e) {
				if !yield(region.Ref(e)) {
					return
				}
			}
		}
	}
}

// Dump writes the occupied buckets with their chain lengths.
func (m *Map[K, V]) Dump(w io.Writer) error {
	defer container.Shared(m.lock)()
	kind := "map"
	if m.magic == setMagic {
		kind = "set"
	}
	p := container.Printer()
	var buf bytes.Buffer
	if m.ref.IsNil() {
		p.Fprintf(&buf, "hash %s: destroyed\n", kind)
		_, err := w.Write(buf.Bytes())
		return err
	}

	data := m.h.Bytes()
	occupied, longest := 0, 0
	p.Fprintf(&buf, "hash %s at 0x%x:\n", kind, uint64(m.ref))
	for i := range m.nb {
		head := m.arr + i*m.lay.head
		if !m.valid(data, head) {
			continue
		}
		n := 0
		for e := head; e != 0; e = m.nextOf(data, e) {
			n++
		}
		occupied++
		longest = max(longest, n)
		p.Fprintf(&buf, "  bucket %d: %d\n", i, n)
	}
	p.Fprintf(&buf, "  %d elements in %d of %d buckets, longest chain %d\n",
		format.ReadU64(data, uint64(m.ref)+hdrCount), occupied, m.nb, longest)
	_, err := w.Write(buf.Bytes())
	return err
}

// Destroy frees every cell of the map. The handle is unusable afterwards.
func (m *Map[K, V]) Destroy() error {
	defer container.Unique(m.lock)()
	defer m.access.Modify()()
	if m.ref.IsNil() {
		return container.ErrDestroyed
	}
	err := m.h.Update(func() error {
		if err := m.clear(); err != nil {
			return err
		}
		if err := m.h.Free(region.Ref(m.arr)); err != nil {
			return err
		}
		return m.h.Free(m.ref)
	})
	if err != nil {
		return err
	}
	m.ref, m.arr = region.Nil, 0
	return nil
}

func (m *Map[K, V]) bucket(k K) uint64 {
	return m.arr + (m.hash(k)%m.nb)*m.lay.head
}

func (m *Map[K, V]) valid(data []byte, head uint64) bool {
	return format.ReadU64(data, head+m.lay.valid) != 0
}

func (m *Map[K, V]) nextOf(data []byte, e uint64) uint64 {
	return format.ReadU64(data, e+m.lay.next)
}

func (m *Map[K, V]) key(data []byte, e uint64) K {
	return m.kc.Decode(data[e : e+m.lay.ks])
}

func (m *Map[K, V]) value(e uint64) container.Value[V] {
	return container.NewValue(m.h, m.vc, e+m.lay.ks)
}

func (m *Map[K, V]) writeEntry(data []byte, e uint64, k K, v V) {
	m.kc.Encode(data[e:e+m.lay.ks], k)
	m.vc.Encode(data[e+m.lay.ks:e+m.lay.ks+m.lay.vs], v)
}

func (m *Map[K, V]) find(data []byte, k K) (uint64, bool) {
	head := m.bucket(k)
	if !m.valid(data, head) {
		return 0, false
	}
	for e := head; e != 0; e = m.nextOf(data, e) {
		if m.equal(m.key(data, e), k) {
			return e, true
		}
	}
	return 0, false
}

func (m *Map[K, V]) addCount(delta int64) error {
	off := uint64(m.ref) + hdrCount
	if err := m.h.Snapshot(off, 8); err != nil {
		return err
	}
	data := m.h.Bytes()
	format.PutU64(data, off, format.ReadU64(data, off)+uint64(delta))
	return nil
}
