package hashmap

import (
	"bytes"
	"errors"
	"io"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/pmemkit/codec"
	"github.com/joshuapare/pmemkit/container"
	"github.com/joshuapare/pmemkit/internal/check"
	"github.com/joshuapare/pmemkit/internal/format"
	"github.com/joshuapare/pmemkit/pool"
	"github.com/joshuapare/pmemkit/region"
)

func newPool(t *testing.T) *pool.Pool {
	t.Helper()
	p, err := pool.NewMemory(pool.Options{HeapSize: 1 << 20})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

// sameBucket sends every key to bucket 0.
func sameBucket(uint64) uint64 { return 0 }

func requireAllHeadsInvalid[K, V any](t *testing.T, m *Map[K, V]) {
	t.Helper()
	data := m.h.Bytes()
	for i := range m.nb {
		require.False(t, m.valid(data, m.arr+i*m.lay.head), "bucket %d still valid", i)
	}
}

func TestMap_InsertLookupErase_1000Keys(t *testing.T) {
	p := newPool(t)
	m, err := New(p, Config{Buckets: 128}, codec.Uint64, codec.Uint64)
	require.NoError(t, err)

	for k := uint64(1); k <= 1000; k++ {
		_, inserted, err := m.GetOrInsert(k, k*10)
		require.NoError(t, err)
		require.True(t, inserted)
	}
	require.Equal(t, 1000, m.Len())

	for k := uint64(1); k <= 500; k++ {
		ok, err := m.Erase(k)
		require.NoError(t, err)
		require.True(t, ok, "key %d", k)
	}
	require.Equal(t, 500, m.Len())

	for k := uint64(1); k <= 500; k++ {
		_, ok := m.Lookup(k)
		require.False(t, ok, "key %d", k)
	}
	for k := uint64(501); k <= 1000; k++ {
		v, ok := m.Lookup(k)
		require.True(t, ok, "key %d", k)
		require.Equal(t, k*10, v)
	}

	for k := uint64(501); k <= 1000; k++ {
		ok, err := m.Erase(k)
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.Zero(t, m.Len())
	requireAllHeadsInvalid(t, m)
}

func TestMap_GetOrInsertReturnsExisting(t *testing.T) {
	p := newPool(t)
	m, err := New(p, Config{}, codec.Int64, codec.Int64)
	require.NoError(t, err)
	require.Equal(t, DefaultBuckets, m.Buckets())

	v, inserted, err := m.GetOrInsert(7, 70)
	require.NoError(t, err)
	require.True(t, inserted)
	require.Equal(t, int64(70), v.Load())

	v, inserted, err = m.GetOrInsert(7, 99)
	require.NoError(t, err)
	require.False(t, inserted)
	require.Equal(t, int64(70), v.Load())
	require.Equal(t, 1, m.Len())
}

func TestMap_EraseHeadCompactsSuccessor(t *testing.T) {
	p := newPool(t)
	m, err := New(p, Config{Buckets: 4}, codec.Uint64, codec.Uint64, WithHasher(sameBucket))
	require.NoError(t, err)

	for _, k := range []uint64{1, 2} {
		_, _, err := m.GetOrInsert(k, k+100)
		require.NoError(t, err)
	}
	before, err := p.Stats()
	require.NoError(t, err)

	ok, err := m.Erase(1)
	require.NoError(t, err)
	require.True(t, ok)

	data := p.Bytes()
	head := m.arr
	require.True(t, m.valid(data, head))
	require.Equal(t, uint64(2), m.key(data, head))
	require.Equal(t, uint64(102), codec.Uint64.Decode(data[head+m.lay.ks:]))
	require.Zero(t, m.nextOf(data, head))
	require.Equal(t, 1, m.Len())

	after, err := p.Stats()
	require.NoError(t, err)
	require.Equal(t, before.Usage.AllocatedCells-1, after.Usage.AllocatedCells, "successor node freed")
}

func TestMap_EraseInteriorAndTail(t *testing.T) {
	p := newPool(t)
	m, err := New(p, Config{Buckets: 2}, codec.Uint64, codec.Uint64, WithHasher(sameBucket))
	require.NoError(t, err)
	for k := uint64(1); k <= 4; k++ {
		_, _, err := m.GetOrInsert(k, k)
		require.NoError(t, err)
	}

	ok, err := m.Erase(3) // interior
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = m.Erase(4) // tail
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = m.Erase(4)
	require.NoError(t, err)
	require.False(t, ok)

	var keys []uint64
	for k := range m.All() {
		keys = append(keys, k)
	}
	require.Equal(t, []uint64{1, 2}, keys)
}

func TestMap_ClearIsIdempotent(t *testing.T) {
	p := newPool(t)
	m, err := New(p, Config{Buckets: 8}, codec.Uint64, codec.Uint64)
	require.NoError(t, err)
	empty, err := p.Stats()
	require.NoError(t, err)

	for k := range uint64(50) {
		_, _, err := m.GetOrInsert(k, k)
		require.NoError(t, err)
	}
	require.NoError(t, m.Clear())
	require.Zero(t, m.Len())
	requireAllHeadsInvalid(t, m)

	cleared, err := p.Stats()
	require.NoError(t, err)
	require.Equal(t, empty.Usage.AllocatedCells, cleared.Usage.AllocatedCells)

	snaps := cleared.Tx.Snapshots
	require.NoError(t, m.Clear())
	require.Zero(t, m.Len())
	again, err := p.Stats()
	require.NoError(t, err)
	require.Equal(t, snaps, again.Tx.Snapshots, "clearing an empty map writes nothing")
}

func TestMap_LookupValueStore(t *testing.T) {
	p := newPool(t)
	m, err := New(p, Config{}, codec.Uint64, codec.Uint64)
	require.NoError(t, err)
	_, _, err = m.GetOrInsert(1, 10)
	require.NoError(t, err)

	v, ok := m.LookupValue(1)
	require.True(t, ok)

	boom := errors.New("boom")
	err = p.Update(func() error {
		require.NoError(t, v.Store(11))
		return boom
	})
	require.ErrorIs(t, err, boom)
	got, _ := m.Lookup(1)
	require.Equal(t, uint64(10), got)

	require.NoError(t, v.Store(12))
	got, _ = m.Lookup(1)
	require.Equal(t, uint64(12), got)

	_, ok = m.LookupValue(2)
	require.False(t, ok)
}

func TestMap_EntriesUpdateInPlace(t *testing.T) {
	p := newPool(t)
	m, err := New(p, Config{Buckets: 4}, codec.Uint64, codec.Uint64)
	require.NoError(t, err)
	for k := range uint64(10) {
		_, _, err := m.GetOrInsert(k, k)
		require.NoError(t, err)
	}

	require.NoError(t, p.Update(func() error {
		for _, v := range m.Entries() {
			if err := v.Store(v.Load() * 2); err != nil {
				return err
			}
		}
		return nil
	}))

	n := 0
	for k, v := range m.All() {
		require.Equal(t, k*2, v)
		n++
	}
	require.Equal(t, 10, n)
}

func TestMap_OpenAfterReopen(t *testing.T) {
	path := t.TempDir() + "/map.pool"
	p, err := pool.Create(path, pool.Options{})
	require.NoError(t, err)

	m, err := New(p, Config{Buckets: 16}, codec.Int64, codec.Uint32)
	require.NoError(t, err)
	for k := range int64(40) {
		_, _, err := m.GetOrInsert(k, uint32(k)+1)
		require.NoError(t, err)
	}
	require.NoError(t, p.SetRoot(m.Ref()))
	require.NoError(t, p.Close())

	p, err = pool.Open(path, pool.Options{})
	require.NoError(t, err)
	defer p.Close()

	m2, err := Open(p, p.Root(), codec.Int64, codec.Uint32)
	require.NoError(t, err)
	require.Equal(t, 40, m2.Len())
	v, ok := m2.Lookup(39)
	require.True(t, ok)
	require.Equal(t, uint32(40), v)

	_, err = Open(p, p.Root(), codec.Int64, codec.Uint64)
	require.ErrorIs(t, err, container.ErrCodecMismatch)
	_, err = OpenSet(p, p.Root(), codec.Int64)
	require.ErrorIs(t, err, container.ErrCorrupt)
	_, err = Open(p, region.Nil, codec.Int64, codec.Uint32)
	require.ErrorIs(t, err, container.ErrCorrupt)
}

func TestMap_AbortedInsertIntoEmptyBucket(t *testing.T) {
	p := newPool(t)
	m, err := New(p, Config{Buckets: 8}, codec.Uint64, codec.Uint64)
	require.NoError(t, err)
	_, _, err = m.GetOrInsert(1, 1)
	require.NoError(t, err)

	head := m.bucket(42)
	require.False(t, m.valid(p.Bytes(), head))

	boom := errors.New("boom")
	err = p.Update(func() error {
		_, inserted, err := m.GetOrInsert(42, 4242)
		require.NoError(t, err)
		require.True(t, inserted)
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.False(t, m.valid(p.Bytes(), head))
	require.Equal(t, 1, m.Len())
	_, ok := m.Lookup(42)
	require.False(t, ok)
}

func TestMap_CrashMidInsertIntoEmptyBucket(t *testing.T) {
	p := newPool(t)
	m, err := New(p, Config{Buckets: 8}, codec.Uint64, codec.Uint64)
	require.NoError(t, err)
	_, _, err = m.GetOrInsert(1, 1)
	require.NoError(t, err)
	require.NoError(t, p.SetRoot(m.Ref()))

	var image []byte
	err = p.Update(func() error {
		if _, _, err := m.GetOrInsert(42, 4242); err != nil {
			return err
		}
		image = p.Clone()
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, m.Len())

	crashed, err := pool.OpenMemory(image, pool.Options{})
	require.NoError(t, err)
	defer crashed.Close()
	require.True(t, crashed.Recovery().Recovered)

	m2, err := Open(crashed, crashed.Root(), codec.Uint64, codec.Uint64)
	require.NoError(t, err)
	require.Equal(t, 1, m2.Len())
	require.False(t, m2.valid(crashed.Bytes(), m2.bucket(42)))
	_, ok := m2.Lookup(42)
	require.False(t, ok)
	v, ok := m2.Lookup(1)
	require.True(t, ok)
	require.Equal(t, uint64(1), v)
}

func TestMap_EraseThenReinsertSameHeadThenAbort(t *testing.T) {
	p := newPool(t)
	m, err := New(p, Config{Buckets: 4}, codec.Uint64, codec.Uint64, WithHasher(sameBucket))
	require.NoError(t, err)
	_, _, err = m.GetOrInsert(1, 100)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = p.Update(func() error {
		if _, err := m.Erase(1); err != nil {
			return err
		}
		if _, _, err := m.GetOrInsert(2, 200); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	v, ok := m.Lookup(1)
	require.True(t, ok)
	require.Equal(t, uint64(100), v)
	_, ok = m.Lookup(2)
	require.False(t, ok)
	require.Equal(t, 1, m.Len())
}

func TestMap_CellsAreReachable(t *testing.T) {
	p := newPool(t)
	m, err := New(p, Config{Buckets: 2}, codec.Uint64, codec.Uint64,
		WithHasher(func(k uint64) uint64 { return k }))
	require.NoError(t, err)
	for k := range uint64(9) {
		_, _, err := m.GetOrInsert(k, k)
		require.NoError(t, err)
	}

	var cells []region.Ref
	for c := range m.Cells() {
		cells = append(cells, c)
	}
	// header, bucket array, 9 entries minus 2 inline heads
	require.Len(t, cells, 2+7)

	st, err := p.Stats()
	require.NoError(t, err)
	require.Equal(t, len(cells), st.Usage.AllocatedCells)
}

func TestMap_Destroy(t *testing.T) {
	p := newPool(t)
	m, err := New(p, Config{Buckets: 4}, codec.Uint64, codec.Uint64)
	require.NoError(t, err)
	for k := range uint64(10) {
		_, _, err := m.GetOrInsert(k, k)
		require.NoError(t, err)
	}
	require.NoError(t, m.Destroy())

	st, err := p.Stats()
	require.NoError(t, err)
	require.Zero(t, st.Usage.AllocatedCells)

	require.ErrorIs(t, m.Destroy(), container.ErrDestroyed)
	_, _, err = m.GetOrInsert(1, 1)
	require.ErrorIs(t, err, container.ErrDestroyed)
	require.Zero(t, m.Len())
}

func TestMap_Dump(t *testing.T) {
	p := newPool(t)
	m, err := New(p, Config{Buckets: 4}, codec.Uint64, codec.Uint64, WithHasher(sameBucket))
	require.NoError(t, err)
	for k := range uint64(3) {
		_, _, err := m.GetOrInsert(k, k)
		require.NoError(t, err)
	}

	var buf bytes.Buffer
	require.NoError(t, m.Dump(&buf))
	out := buf.String()
	assert.Contains(t, out, "hash map at")
	assert.Contains(t, out, "bucket 0: 3")
	assert.Contains(t, out, "3 elements in 1 of 4 buckets, longest chain 3")
}

func TestMap_Locking(t *testing.T) {
	p := newPool(t)
	m, err := New(p, Config{}, codec.Uint64, codec.Uint64, WithLocking())
	require.NoError(t, err)
	_, _, err = m.GetOrInsert(1, 1)
	require.NoError(t, err)
	require.NoError(t, p.SetRoot(m.Ref()))

	n := 0
	for range m.All() {
		n++
	}
	require.Equal(t, 1, n)

	reopened, err := Open(p, p.Root(), codec.Uint64, codec.Uint64, WithLocking())
	require.NoError(t, err)
	require.PanicsWithValue(t, container.ErrLockNotReset, func() { reopened.Lookup(1) })
	reopened.ResetLock()
	v, ok := reopened.Lookup(1)
	require.True(t, ok)
	require.Equal(t, uint64(1), v)
}

func TestMap_IterationHoldsSharedLock(t *testing.T) {
	p := newPool(t)
	m, err := New(p, Config{Buckets: 8}, codec.Uint64, codec.Uint64, WithLocking())
	require.NoError(t, err)
	for k := range uint64(3) {
		_, _, err := m.GetOrInsert(k, k)
		require.NoError(t, err)
	}

	done := make(chan error, 1)
	started := false
	for range m.All() {
		if !started {
			started = true
			go func() {
				_, _, err := m.GetOrInsert(100, 100)
				done <- err
			}()
		}
		select {
		case <-done:
			t.Fatal("writer ran while the map was being iterated")
		case <-time.After(20 * time.Millisecond):
		}
	}
	require.NoError(t, <-done)
	require.Equal(t, 4, m.Len())

	// Cells and Dump hold the lock too, and release it.
	require.NotEmpty(t, slices.Collect(m.Cells()))
	require.NoError(t, m.Dump(io.Discard))
	_, ok := m.Lookup(100)
	require.True(t, ok)
}

func TestMap_AccessChecks(t *testing.T) {
	p := newPool(t)
	m, err := New(p, Config{}, codec.Uint64, codec.Uint64, WithAccessChecks())
	require.NoError(t, err)
	for k := range uint64(4) {
		_, _, err := m.GetOrInsert(k, k)
		require.NoError(t, err)
	}

	defer func() {
		r := recover()
		require.NotNil(t, r)
		_, ok := r.(*check.Violation)
		require.True(t, ok, "got %v", r)
	}()
	for k := range m.All() {
		_, _ = m.Erase(k)
	}
}

func TestMap_AccessChecks_EraseThenBreak(t *testing.T) {
	p := newPool(t)
	m, err := New(p, Config{}, codec.Uint64, codec.Uint64, WithAccessChecks())
	require.NoError(t, err)
	for k := range uint64(4) {
		_, _, err := m.GetOrInsert(k, k)
		require.NoError(t, err)
	}

	require.Panics(t, func() {
		for k := range m.All() {
			_, _ = m.Erase(k)
			break
		}
	})

	// A finished iteration, including one left by break, allows changes.
	for range m.All() {
		break
	}
	ok, err := m.Erase(3)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMap_HasherTypeMismatch(t *testing.T) {
	p := newPool(t)
	_, err := New(p, Config{}, codec.Uint64, codec.Uint64, WithHasher(func(int32) uint64 { return 0 }))
	require.Error(t, err)
}

func TestLayout(t *testing.T) {
	l := newLayout(8, 4)
	require.Equal(t, uint64(16), l.next)
	require.Equal(t, uint64(24), l.node)
	require.Equal(t, uint64(32), l.head)

	l = newLayout(4, 0)
	require.Equal(t, uint64(8), l.next)
	require.Equal(t, format.Align8(4), l.next)
}
