package queue

import (
	"bytes"
	"errors"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/pmemkit/codec"
	"github.com/joshuapare/pmemkit/pool"
)

func newPool(t *testing.T) *pool.Pool {
	t.Helper()
	p, err := pool.NewMemory(pool.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestQueue_FIFO(t *testing.T) {
	p := newPool(t)
	q, err := New(p, codec.Int64)
	require.NoError(t, err)
	require.True(t, q.Empty())

	for i := range int64(5) {
		require.NoError(t, q.PushBack(i))
	}
	require.Equal(t, 5, q.Len())
	require.Equal(t, []int64{0, 1, 2, 3, 4}, slices.Collect(q.All()))

	front, err := q.Front()
	require.NoError(t, err)
	require.Equal(t, int64(0), front.Load())

	for i := range int64(5) {
		v, err := q.PopFront()
		require.NoError(t, err)
		require.Equal(t, i, v)
	}
	require.True(t, q.Empty())
	require.Zero(t, q.Len())

	data := p.Bytes()
	require.Zero(t, q.field(data, hdrTail), "tail cleared with head")
}

func TestQueue_EmptyIsAnError(t *testing.T) {
	p := newPool(t)
	q, err := New(p, codec.Int64)
	require.NoError(t, err)

	_, err = q.PopFront()
	require.ErrorIs(t, err, ErrEmpty)
	_, err = q.Front()
	require.ErrorIs(t, err, ErrEmpty)
}

func TestQueue_PushAfterDrain(t *testing.T) {
	p := newPool(t)
	q, err := New(p, codec.Uint32)
	require.NoError(t, err)
	require.NoError(t, q.PushBack(1))
	_, err = q.PopFront()
	require.NoError(t, err)
	require.NoError(t, q.PushBack(2))
	require.NoError(t, q.PushBack(3))
	require.Equal(t, []uint32{2, 3}, slices.Collect(q.All()))
}

func TestQueue_AbortedPushLeavesQueueIntact(t *testing.T) {
	p := newPool(t)
	q, err := New(p, codec.Int64)
	require.NoError(t, err)
	require.NoError(t, q.PushBack(1))

	boom := errors.New("boom")
	err = p.Update(func() error {
		if err := q.PushBack(2); err != nil {
			return err
		}
		if _, err := q.PopFront(); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, []int64{1}, slices.Collect(q.All()))
	require.Equal(t, 1, q.Len())
}

func TestQueue_ClearReopenDestroy(t *testing.T) {
	p := newPool(t)
	q, err := New(p, codec.Int64)
	require.NoError(t, err)
	for i := range int64(10) {
		require.NoError(t, q.PushBack(i))
	}

	q2, err := Open(p, q.Ref(), codec.Int64)
	require.NoError(t, err)
	require.Equal(t, 10, q2.Len())
	require.Len(t, slices.Collect(q2.Cells()), 11)

	var buf bytes.Buffer
	require.NoError(t, q2.Dump(&buf))
	require.Contains(t, buf.String(), "10 elements")

	require.NoError(t, q2.Clear())
	require.True(t, q2.Empty())
	require.NoError(t, q2.Clear())

	require.NoError(t, q2.Destroy())
	st, err := p.Stats()
	require.NoError(t, err)
	require.Zero(t, st.Usage.AllocatedCells)
}
