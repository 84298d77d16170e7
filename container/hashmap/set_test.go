package hashmap

import (
	"bytes"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/pmemkit/codec"
)

func TestSet_AddContainsErase(t *testing.T) {
	p := newPool(t)
	s, err := NewSet(p, Config{Buckets: 16}, codec.Int32)
	require.NoError(t, err)

	for i := range int32(100) {
		added, err := s.Add(i)
		require.NoError(t, err)
		require.True(t, added)
	}
	added, err := s.Add(5)
	require.NoError(t, err)
	require.False(t, added)
	require.Equal(t, 100, s.Len())

	for i := int32(0); i < 100; i += 2 {
		ok, err := s.Erase(i)
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.Equal(t, 50, s.Len())
	require.False(t, s.Contains(4))
	require.True(t, s.Contains(5))

	got := slices.Sorted(s.All())
	require.Len(t, got, 50)
	require.Equal(t, int32(1), got[0])
	require.Equal(t, int32(99), got[49])

	require.NoError(t, s.Clear())
	require.Zero(t, s.Len())
	requireAllHeadsInvalid(t, s.m)
}

func TestSet_ElementOnlyEntries(t *testing.T) {
	p := newPool(t)
	s, err := NewSet(p, Config{Buckets: 2}, codec.Int64)
	require.NoError(t, err)
	require.Equal(t, uint64(8), s.m.lay.next)
	require.Equal(t, uint64(16), s.m.lay.node)
}

func TestSet_Reopen(t *testing.T) {
	p := newPool(t)
	s, err := NewSet(p, Config{}, codec.Int32, WithLocking())
	require.NoError(t, err)
	_, err = s.Add(3)
	require.NoError(t, err)

	s2, err := OpenSet(p, s.Ref(), codec.Int32, WithLocking())
	require.NoError(t, err)
	s2.ResetLock()
	require.True(t, s2.Contains(3))

	var buf bytes.Buffer
	require.NoError(t, s2.Dump(&buf))
	require.Contains(t, buf.String(), "hash set at")

	require.NoError(t, s2.Destroy())
}
