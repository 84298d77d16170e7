package blockcache

import (
	"bytes"
	"errors"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/pmemkit/container"
	"github.com/joshuapare/pmemkit/internal/check"
	"github.com/joshuapare/pmemkit/pool"
)

func newPool(t *testing.T) *pool.Pool {
	t.Helper()
	p, err := pool.NewMemory(pool.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func alloc(t *testing.T, p *pool.Pool, size uint64) Block {
	t.Helper()
	var b Block
	require.NoError(t, p.Update(func() error {
		ref, err := p.Alloc(size, container.TagBlock)
		b = Block{Ref: ref, Size: size}
		return err
	}))
	return b
}

func requireViolation(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		require.NotNil(t, r, "expected a violation")
		_, ok := r.(*check.Violation)
		require.True(t, ok, "panic value %v is not a *check.Violation", r)
	}()
	fn()
}

func allocated(t *testing.T, p *pool.Pool) int {
	t.Helper()
	st, err := p.Stats()
	require.NoError(t, err)
	return st.Usage.AllocatedCells
}

func TestSizeBucketed_KeepsFirst(t *testing.T) {
	p := newPool(t)
	c, err := NewSizeBucketed(p, Options{Accounting: true})
	require.NoError(t, err)
	a, b := alloc(t, p, 64), alloc(t, p, 64)
	before := allocated(t, p)

	require.NoError(t, c.Push(a))
	require.NoError(t, c.Push(b))
	require.Equal(t, before-1, allocated(t, p), "second block freed")

	got, ok, err := c.Pop(64)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, a, got)

	_, ok, err = c.Pop(64)
	require.NoError(t, err)
	require.False(t, ok)

	n, ok := c.TotalBlocks()
	require.True(t, ok)
	require.Zero(t, n)
}

func TestSizeBucketed_ExchangeSequence(t *testing.T) {
	p := newPool(t)
	c, err := NewSizeBucketed(p, Options{})
	require.NoError(t, err)
	b1, b2 := alloc(t, p, 32), alloc(t, p, 32)

	_, had, err := c.Exchange(b1)
	require.NoError(t, err)
	require.False(t, had)

	old, had, err := c.Exchange(b2)
	require.NoError(t, err)
	require.True(t, had)
	require.Equal(t, b1, old)

	got, ok, err := c.Pop(32)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, b2, got)

	_, ok, err = c.Pop(32)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSizeBucketed_Accounting(t *testing.T) {
	p := newPool(t)
	c, err := NewSizeBucketed(p, Options{Accounting: true})
	require.NoError(t, err)

	require.NoError(t, c.Push(alloc(t, p, 64)))
	require.NoError(t, c.Push(alloc(t, p, 128)))
	require.NoError(t, c.Push(alloc(t, p, 64)))
	_, _, err = c.Exchange(alloc(t, p, 128))
	require.NoError(t, err)

	n, _ := c.TotalBlocks()
	size, _ := c.TotalSize()
	require.Equal(t, uint64(2), n)
	require.Equal(t, uint64(192), size)

	_, _, err = c.Pop(128)
	require.NoError(t, err)
	n, _ = c.TotalBlocks()
	size, _ = c.TotalSize()
	require.Equal(t, uint64(1), n)
	require.Equal(t, uint64(64), size)

	plain, err := NewSizeBucketed(p, Options{})
	require.NoError(t, err)
	_, ok := plain.TotalBlocks()
	require.False(t, ok)
}

func TestSizeBucketed_AbortReturnsBlock(t *testing.T) {
	p := newPool(t)
	c, err := NewSizeBucketed(p, Options{Accounting: true})
	require.NoError(t, err)
	b := alloc(t, p, 48)
	require.NoError(t, c.Push(b))

	boom := errors.New("boom")
	err = p.Update(func() error {
		got, ok, err := c.Pop(48)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, b, got)
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.Equal(t, 1, c.Len())
	n, _ := c.TotalBlocks()
	require.Equal(t, uint64(1), n)
}

func TestSizeBucketed_Checks(t *testing.T) {
	p := newPool(t)
	c, err := NewSizeBucketed(p, Options{Checks: true})
	require.NoError(t, err)
	a, b := alloc(t, p, 16), alloc(t, p, 16)

	requireViolation(t, func() { _ = c.Push(a) })

	requireViolation(t, func() {
		_ = p.Update(func() error {
			if err := c.Push(a); err != nil {
				return err
			}
			return c.Push(b)
		})
	})
	require.Zero(t, c.Len(), "panicking transaction rolled back")

	// Take then give is the allowed order.
	require.NoError(t, p.Update(func() error { return c.Push(a) }))
	require.NoError(t, p.Update(func() error {
		got, ok, err := c.Pop(16)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, a, got)
		return c.Push(b)
	}))
}

func TestSizeBucketed_CellsReopenDump(t *testing.T) {
	p := newPool(t)
	c, err := NewSizeBucketed(p, Options{Accounting: true, Buckets: 8})
	require.NoError(t, err)
	require.NoError(t, c.Push(alloc(t, p, 64)))
	require.NoError(t, c.Push(alloc(t, p, 128)))

	cells := slices.Collect(c.Cells())
	require.Len(t, cells, allocated(t, p))

	c2, err := OpenSizeBucketed(p, c.Ref(), Options{})
	require.NoError(t, err)
	require.Equal(t, 2, c2.Len())
	n, ok := c2.TotalBlocks()
	require.True(t, ok)
	require.Equal(t, uint64(2), n)

	_, err = OpenMultiSize(p, c.Ref(), Options{})
	require.ErrorIs(t, err, container.ErrCodecMismatch)

	var buf bytes.Buffer
	require.NoError(t, c2.Dump(&buf))
	out := buf.String()
	require.Contains(t, out, "64: 1")
	require.Contains(t, out, "128: 1")
	require.Contains(t, out, "2 blocks, 192 bytes total.")
	require.Less(t, bytes.Index(buf.Bytes(), []byte("64: 1")), bytes.Index(buf.Bytes(), []byte("128: 1")))

	require.NoError(t, c2.Destroy())
	require.Zero(t, allocated(t, p))
}

func TestMultiSize_LIFO(t *testing.T) {
	p := newPool(t)
	c, err := NewMultiSize(p, Options{Accounting: true})
	require.NoError(t, err)

	var blocks []Block
	for range 5 {
		b := alloc(t, p, 256)
		blocks = append(blocks, b)
		require.NoError(t, c.Push(b))
	}
	require.Equal(t, 5, c.Len(256))
	require.Zero(t, c.Len(512))

	for i := 4; i >= 0; i-- {
		got, ok, err := c.Pop(256)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, blocks[i], got)
	}
	_, ok, err := c.Pop(256)
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = c.Pop(512)
	require.NoError(t, err)
	require.False(t, ok)

	n, _ := c.TotalBlocks()
	require.Zero(t, n)
}

func TestMultiSize_Exchange(t *testing.T) {
	p := newPool(t)
	c, err := NewMultiSize(p, Options{Accounting: true})
	require.NoError(t, err)
	b1, b2, b3 := alloc(t, p, 32), alloc(t, p, 32), alloc(t, p, 32)

	_, had, err := c.Exchange(b1)
	require.NoError(t, err)
	require.False(t, had)
	require.NoError(t, c.Push(b2))

	old, had, err := c.Exchange(b3)
	require.NoError(t, err)
	require.True(t, had)
	require.Equal(t, b2, old)
	require.Equal(t, 2, c.Len(32))

	n, _ := c.TotalBlocks()
	size, _ := c.TotalSize()
	require.Equal(t, uint64(2), n)
	require.Equal(t, uint64(64), size)

	got, _, err := c.Pop(32)
	require.NoError(t, err)
	require.Equal(t, b3, got)
}

func TestMultiSize_AbortedCreation(t *testing.T) {
	p := newPool(t)
	c, err := NewMultiSize(p, Options{})
	require.NoError(t, err)
	b := alloc(t, p, 96)
	before := allocated(t, p)

	boom := errors.New("boom")
	err = p.Update(func() error {
		require.NoError(t, c.Push(b))
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Zero(t, c.Len(96))
	require.Equal(t, before, allocated(t, p))

	require.NoError(t, c.Push(b))
	got, ok, err := c.Pop(96)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, b, got)
}

func TestMultiSize_Checks(t *testing.T) {
	p := newPool(t)
	c, err := NewMultiSize(p, Options{Checks: true})
	require.NoError(t, err)
	a, b, d := alloc(t, p, 16), alloc(t, p, 16), alloc(t, p, 16)
	require.NoError(t, p.Update(func() error {
		if err := c.Push(a); err != nil {
			return err
		}
		return c.Push(b)
	}))

	// Pops, an exchange, then pushes.
	require.NoError(t, p.Update(func() error {
		if _, _, err := c.Pop(16); err != nil {
			return err
		}
		old, _, err := c.Exchange(d)
		if err != nil {
			return err
		}
		return c.Push(old)
	}))
	require.Equal(t, 2, c.Len(16))

	requireViolation(t, func() {
		_ = p.Update(func() error {
			got, _, err := c.Pop(16)
			if err != nil {
				return err
			}
			if err := c.Push(got); err != nil {
				return err
			}
			_, _, err = c.Pop(16)
			return err
		})
	})
	require.Equal(t, 2, c.Len(16))
}

func TestMultiSize_CellsReopenDestroy(t *testing.T) {
	p := newPool(t)
	c, err := NewMultiSize(p, Options{Accounting: true})
	require.NoError(t, err)
	for _, size := range []uint64{64, 64, 64, 1024} {
		require.NoError(t, c.Push(alloc(t, p, size)))
	}

	cells := slices.Collect(c.Cells())
	require.Len(t, cells, allocated(t, p))

	c2, err := OpenMultiSize(p, c.Ref(), Options{})
	require.NoError(t, err)
	require.Equal(t, 3, c2.Len(64))
	require.Equal(t, 1, c2.Len(1024))

	_, err = OpenSizeBucketed(p, c.Ref(), Options{})
	require.ErrorIs(t, err, container.ErrCodecMismatch)
	_, err = OpenMultiSize(p, alloc(t, p, 64).Ref, Options{})
	require.ErrorIs(t, err, container.ErrCorrupt)

	var buf bytes.Buffer
	require.NoError(t, c2.Dump(&buf))
	out := buf.String()
	require.Contains(t, out, "multi-size block cache")
	require.Contains(t, out, "64: 3")
	require.Contains(t, out, "1,024: 1")
	require.Contains(t, out, "4 blocks, 1,216 bytes total.")

	require.NoError(t, c2.Destroy())
	require.Zero(t, allocated(t, p))
}
