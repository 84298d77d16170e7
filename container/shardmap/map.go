package shardmap

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
	"math/bits"
	"runtime"

	"github.com/joshuapare/pmemkit/codec"
	"github.com/joshuapare/pmemkit/container"
	"github.com/joshuapare/pmemkit/internal/format"
	"github.com/joshuapare/pmemkit/region"
)

// ErrTooManyShards is returned by New for a shard count above 65536.
var ErrTooManyShards = errors.New("shardmap: too many shards")

// Map is a durable sharded hash map.
type Map[K, V any] struct {
	h  container.Heap
	kc codec.Codec[K]
	vc codec.Codec[V]

	ref    region.Ref // header cell
	table  uint64     // shard records
	shards uint64
	shift  uint
	ks, vs uint64

	hash  func(K) uint64
	equal func(a, b K) bool
	locks []*container.RWLock
}

// New allocates an empty map in one transaction.
func New[K, V any](h container.Heap, cfg Config, kc codec.Codec[K], vc codec.Codec[V], opts ...Option) (*Map[K, V], error) {
	m, err := handle(h, kc, vc, opts)
	if err != nil {
		return nil, err
	}

	n := uint64(cfg.Shards)
	if cfg.Shards <= 0 {
		n = uint64(runtime.GOMAXPROCS(0))
	}
	if n > maxShards {
		return nil, fmt.Errorf("%w: %d", ErrTooManyShards, n)
	}
	n = 1 << bits.Len64(n-1)
	nb := uint64(max(cfg.Buckets, minBuckets))
	if cfg.Buckets == 0 {
		nb = defaultSize
	}

	var hdr, table region.Ref
	err = h.Update(func() error {
		var err error
		if hdr, err = h.Alloc(headerSize, container.TagShardHeader); err != nil {
			return err
		}
		if table, err = h.Alloc(n*recordSize, container.TagShardTable); err != nil {
			return err
		}
		for i := range n {
			arr, err := h.Alloc(nb*bucketSize, container.TagShardBuckets)
			if err != nil {
				return err
			}
			rec := uint64(table) + i*recordSize
			data := h.Bytes()
			format.PutU64(data, rec+shBuckets, nb)
			format.PutU64(data, rec+shArray, uint64(arr))
		}
		data := h.Bytes()
		o := uint64(hdr)
		format.PutU64(data, o+hdrShards, n)
		format.PutU64(data, o+hdrTable, uint64(table))
		format.PutU32(data, o+hdrKeySize, uint32(kc.Size()))
		format.PutU32(data, o+hdrValSize, uint32(vc.Size()))
		format.PutU32(data, o+hdrMagic, shardMagic)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("shardmap: create: %w", err)
	}

	m.setShape(hdr, uint64(table), n)
	for i := range m.locks {
		m.locks[i] = container.NewRWLock()
	}
	return m, nil
}

// Open attaches to the map whose header is at ref. ResetLocks must be
// called before the map is used.
func Open[K, V any](h container.Heap, ref region.Ref, kc codec.Codec[K], vc codec.Codec[V], opts ...Option) (*Map[K, V], error) {
	m, err := handle(h, kc, vc, opts)
	if err != nil {
		return nil, err
	}
	data := h.Bytes()
	o := uint64(ref)
	if ref.IsNil() || o+headerSize > uint64(len(data)) {
		return nil, fmt.Errorf("%w: shardmap header at 0x%x", container.ErrCorrupt, o)
	}
	if got := format.ReadU32(data, o+hdrMagic); got != shardMagic {
		return nil, fmt.Errorf("%w: shardmap magic 0x%08x at 0x%x", container.ErrCorrupt, got, o)
	}
	ks := format.ReadU32(data, o+hdrKeySize)
	vs := format.ReadU32(data, o+hdrValSize)
	if int(ks) != kc.Size() || int(vs) != vc.Size() {
		return nil, fmt.Errorf("%w: stored %d/%d, codecs %d/%d",
			container.ErrCodecMismatch, ks, vs, kc.Size(), vc.Size())
	}
	n := format.ReadU64(data, o+hdrShards)
	table := format.ReadU64(data, o+hdrTable)
	if n == 0 || n > maxShards || n&(n-1) != 0 || table+n*recordSize > uint64(len(data)) {
		return nil, fmt.Errorf("%w: shard table 0x%x x %d", container.ErrCorrupt, table, n)
	}

	m.setShape(ref, table, n)
	for i := range m.locks {
		m.locks[i] = container.NewUnresetRWLock()
	}
	return m, nil
}

func handle[K, V any](h container.Heap, kc codec.Codec[K], vc codec.Codec[V], opts []Option) (*Map[K, V], error) {
	hash, equal, err := strategy(kc, opts)
	if err != nil {
		return nil, err
	}
	return &Map[K, V]{
		h:     h,
		kc:    kc,
		vc:    vc,
		ks:    uint64(kc.Size()),
		vs:    uint64(vc.Size()),
		hash:  hash,
		equal: equal,
	}, nil
}

func (m *Map[K, V]) setShape(ref region.Ref, table, n uint64) {
	m.ref, m.table, m.shards = ref, table, n
	m.shift = uint(bits.TrailingZeros64(n))
	m.locks = make([]*container.RWLock, n)
}

// Ref returns the header cell.
func (m *Map[K, V]) Ref() region.Ref { return m.ref }

// Shards returns the shard count.
func (m *Map[K, V]) Shards() int { return int(m.shards) }

// ResetLocks reinitializes every shard lock. None may be held.
func (m *Map[K, V]) ResetLocks() {
	for _, l := range m.locks {
		l.Reset()
	}
}

// InsertOrReplace stores v under k. inserted is false when an existing
// value was replaced.
func (m *Map[K, V]) InsertOrReplace(k K, v V) (inserted bool, err error) {
	if m.ref.IsNil() {
		return false, container.ErrDestroyed
	}
	hv := m.hash(k)
	i := m.shardOf(hv)
	defer container.Unique(m.locks[i])()

	err = m.h.Update(func() error {
		if err := m.maybeGrow(i); err != nil {
			return err
		}
		data := m.h.Bytes()
		rec := m.record(i)
		b := m.bucketOf(data, rec, hv)
		if _, node := m.find(data, b, hv, k); node != 0 {
			return m.value(node).Store(v)
		}

		ref, err := m.h.Alloc(m.nodeSize(), container.TagShardNode)
		if err != nil {
			return err
		}
		node := uint64(ref)
		data = m.h.Bytes()
		format.PutU64(data, node+ndNext, format.ReadU64(data, b+bkHead))
		format.PutU64(data, node+ndHash, hv)
		m.kc.Encode(data[node+ndKey:node+ndKey+m.ks], k)
		m.vc.Encode(data[node+ndKey+m.ks:node+m.nodeSize()], v)

		if err := m.h.Snapshot(b, bucketSize); err != nil {
			return err
		}
		format.PutU64(data, b+bkLen, format.ReadU64(data, b+bkLen)+1)
		format.PutU64(data, b+bkHead, node)
		inserted = true
		return m.addCount(rec, 1)
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// maybeGrow resizes shard i when it is above the load limit.
func (m *Map[K, V]) maybeGrow(i uint64) error {
	data := m.h.Bytes()
	rec := m.record(i)
	nb := format.ReadU64(data, rec+shBuckets)
	if format.ReadU64(data, rec+shCount)*loadDen <= nb*loadNum {
		return nil
	}
	return m.resize(i, nb*growFactor)
}

// resize relinks every node of shard i into a new array of size buckets.
// The new array is fresh, so only the node links and the shard record
// are logged.
func (m *Map[K, V]) resize(i, size uint64) error {
	ref, err := m.h.Alloc(size*bucketSize, container.TagShardBuckets)
	if err != nil {
		return err
	}
	arr := uint64(ref)
	data := m.h.Bytes()
	rec := m.record(i)
	old := format.ReadU64(data, rec+shArray)
	nb := format.ReadU64(data, rec+shBuckets)

	for b := range nb {
		node := format.ReadU64(data, old+b*bucketSize+bkHead)
		for node != 0 {
			next := format.ReadU64(data, node+ndNext)
			dst := arr + ((format.ReadU64(data, node+ndHash)>>m.shift)%size)*bucketSize
			if err := m.h.Snapshot(node+ndNext, 8); err != nil {
				return err
			}
			format.PutU64(data, node+ndNext, format.ReadU64(data, dst+bkHead))
			format.PutU64(data, dst+bkHead, node)
			format.PutU64(data, dst+bkLen, format.ReadU64(data, dst+bkLen)+1)
			node = next
		}
	}

	if err := m.h.Snapshot(rec+shBuckets, 16); err != nil {
		return err
	}
	format.PutU64(data, rec+shBuckets, size)
	format.PutU64(data, rec+shArray, arr)
	return m.h.Free(region.Ref(old))
}

// Get returns the value stored under k.
func (m *Map[K, V]) Get(k K) (V, bool) {
	var zero V
	if m.ref.IsNil() {
		return zero, false
	}
	hv := m.hash(k)
	i := m.shardOf(hv)
	defer container.Shared(m.locks[i])()

	data := m.h.Bytes()
	_, node := m.find(data, m.bucketOf(data, m.record(i), hv), hv, k)
	if node == 0 {
		return zero, false
	}
	return m.vc.Decode(data[node+ndKey+m.ks : node+m.nodeSize()]), true
}

// Find looks up an entry by hash, letting match decide among the entries
// that share it. It serves keys that are costly to rebuild for Get.
func (m *Map[K, V]) Find(hash uint64, match func(K) bool) (K, V, bool) {
	var (
		zk K
		zv V
	)
	if m.ref.IsNil() {
		return zk, zv, false
	}
	i := m.shardOf(hash)
	defer container.Shared(m.locks[i])()

	data := m.h.Bytes()
	b := m.bucketOf(data, m.record(i), hash)
	for node := format.ReadU64(data, b+bkHead); node != 0; node = format.ReadU64(data, node+ndNext) {
		if format.ReadU64(data, node+ndHash) != hash {
			continue
		}
		if k := m.key(data, node); match(k) {
			return k, m.vc.Decode(data[node+ndKey+m.ks : node+m.nodeSize()]), true
		}
	}
	return zk, zv, false
}

// Update replaces the value under k with fn(old). It reports whether k
// was present.
func (m *Map[K, V]) Update(k K, fn func(V) V) (bool, error) {
	if m.ref.IsNil() {
		return false, container.ErrDestroyed
	}
	hv := m.hash(k)
	i := m.shardOf(hv)
	defer container.Unique(m.locks[i])()

	data := m.h.Bytes()
	_, node := m.find(data, m.bucketOf(data, m.record(i), hv), hv, k)
	if node == 0 {
		return false, nil
	}
	v := m.value(node)
	return true, v.Store(fn(v.Load()))
}

// Remove deletes k and returns its value.
func (m *Map[K, V]) Remove(k K) (V, bool, error) {
	var old V
	if m.ref.IsNil() {
		return old, false, container.ErrDestroyed
	}
	hv := m.hash(k)
	i := m.shardOf(hv)
	defer container.Unique(m.locks[i])()

	var found bool
	err := m.h.Update(func() error {
		data := m.h.Bytes()
		rec := m.record(i)
		b := m.bucketOf(data, rec, hv)
		link, node := m.find(data, b, hv, k)
		if node == 0 {
			return nil
		}
		old = m.vc.Decode(data[node+ndKey+m.ks : node+m.nodeSize()])
		found = true

		if err := m.h.Snapshot(b, bucketSize); err != nil {
			return err
		}
		if err := m.h.Snapshot(link, 8); err != nil {
			return err
		}
		format.PutU64(data, link, format.ReadU64(data, node+ndNext))
		format.PutU64(data, b+bkLen, format.ReadU64(data, b+bkLen)-1)
		if err := m.h.Free(region.Ref(node)); err != nil {
			return err
		}
		return m.addCount(rec, -1)
	})
	if err != nil {
		var zero V
		return zero, false, err
	}
	return old, found, nil
}

// Len returns the element count summed over all shards.
func (m *Map[K, V]) Len() int {
	if m.ref.IsNil() {
		return 0
	}
	var n uint64
	for i := range m.shards {
		unlock := container.Shared(m.locks[i])
		n += format.ReadU64(m.h.Bytes(), m.record(i)+shCount)
		unlock()
	}
	return int(n)
}

// All yields every entry, one shard at a time under its read lock.
func (m *Map[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		if m.ref.IsNil() {
			return
		}
		for i := range m.shards {
			if !m.visit(i, yield) {
				return
			}
		}
	}
}

func (m *Map[K, V]) visit(i uint64, yield func(K, V) bool) bool {
	defer container.Shared(m.locks[i])()
	data := m.h.Bytes()
	rec := m.record(i)
	arr := format.ReadU64(data, rec+shArray)
	for b := range format.ReadU64(data, rec+shBuckets) {
		for node := format.ReadU64(data, arr+b*bucketSize+bkHead); node != 0; node = format.ReadU64(data, node+ndNext) {
			v := m.vc.Decode(data[node+ndKey+m.ks : node+m.nodeSize()])
			if !yield(m.key(data, node), v) {
				return false
			}
		}
	}
	return true
}

// Cells yields the header, the shard table, every bucket array and every
// node.
func (m *Map[K, V]) Cells() iter.Seq[region.Ref] {
	return func(yield func(region.Ref) bool) {
		if m.ref.IsNil() {
			return
		}
		if !yield(m.ref) || !yield(region.Ref(m.table)) {
			return
		}
		for i := range m.shards {
			if !m.shardCells(i, yield) {
				return
			}
		}
	}
}

func (m *Map[K, V]) shardCells(i uint64, yield func(region.Ref) bool) bool {
	defer container.Shared(m.locks[i])()
	data := m.h.Bytes()
	rec := m.record(i)
	arr := format.ReadU64(data, rec+shArray)
	if !yield(region.Ref(arr)) {
		return false
	}
	for b := range format.ReadU64(data, rec+shBuckets) {
		for node := format.ReadU64(data, arr+b*bucketSize+bkHead); node != 0; node = format.ReadU64(data, node+ndNext) {
			if !yield(region.Ref(node)) {
				return false
			}
		}
	}
	return true
}

// Dump prints per-shard occupancy.
func (m *Map[K, V]) Dump(w io.Writer) error {
	var buf bytes.Buffer
	p := container.Printer()
	p.Fprintf(&buf, "sharded map at 0x%x: %d shards, %d elements\n", uint64(m.ref), m.shards, m.Len())
	for i := range m.shards {
		unlock := container.Shared(m.locks[i])
		data := m.h.Bytes()
		rec := m.record(i)
		arr := format.ReadU64(data, rec+shArray)
		nb := format.ReadU64(data, rec+shBuckets)
		var longest uint64
		for b := range nb {
			longest = max(longest, format.ReadU64(data, arr+b*bucketSize+bkLen))
		}
		p.Fprintf(&buf, "  shard %d: %d elements in %d buckets, longest chain %d\n",
			i, format.ReadU64(data, rec+shCount), nb, longest)
		unlock()
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// Destroy frees every node, bucket array, the shard table and the
// header. The map is unusable afterwards.
func (m *Map[K, V]) Destroy() error {
	if m.ref.IsNil() {
		return container.ErrDestroyed
	}
	for _, l := range m.locks {
		l.Lock()
	}
	defer func() {
		for _, l := range m.locks {
			l.Unlock()
		}
	}()

	err := m.h.Update(func() error {
		data := m.h.Bytes()
		for i := range m.shards {
			rec := m.record(i)
			arr := format.ReadU64(data, rec+shArray)
			for b := range format.ReadU64(data, rec+shBuckets) {
				for node := format.ReadU64(data, arr+b*bucketSize+bkHead); node != 0; node = format.ReadU64(data, node+ndNext) {
					if err := m.h.Free(region.Ref(node)); err != nil {
						return err
					}
				}
			}
			if err := m.h.Free(region.Ref(arr)); err != nil {
				return err
			}
		}
		if err := m.h.Free(region.Ref(m.table)); err != nil {
			return err
		}
		return m.h.Free(m.ref)
	})
	if err != nil {
		return err
	}
	m.ref, m.table = 0, 0
	return nil
}

func (m *Map[K, V]) shardOf(hv uint64) uint64 { return hv & (m.shards - 1) }

func (m *Map[K, V]) record(i uint64) uint64 { return m.table + i*recordSize }

func (m *Map[K, V]) nodeSize() uint64 { return ndKey + m.ks + m.vs }

func (m *Map[K, V]) bucketOf(data []byte, rec, hv uint64) uint64 {
	nb := format.ReadU64(data, rec+shBuckets)
	return format.ReadU64(data, rec+shArray) + ((hv>>m.shift)%nb)*bucketSize
}

func (m *Map[K, V]) key(data []byte, node uint64) K {
	return m.kc.Decode(data[node+ndKey : node+ndKey+m.ks])
}

func (m *Map[K, V]) value(node uint64) container.Value[V] {
	return container.NewValue(m.h, m.vc, node+ndKey+m.ks)
}

// find returns the node holding k and the offset of the link word that
// points at it.
func (m *Map[K, V]) find(data []byte, bucket, hv uint64, k K) (link, node uint64) {
	link = bucket + bkHead
	for node = format.ReadU64(data, link); node != 0; node = format.ReadU64(data, link) {
		if format.ReadU64(data, node+ndHash) == hv && m.equal(m.key(data, node), k) {
			return link, node
		}
		link = node + ndNext
	}
	return 0, 0
}

func (m *Map[K, V]) addCount(rec uint64, delta int64) error {
	if err := m.h.Snapshot(rec+shCount, 8); err != nil {
		return err
	}
	data := m.h.Bytes()
	format.PutU64(data, rec+shCount, uint64(int64(format.ReadU64(data, rec+shCount))+delta))
	return nil
}
