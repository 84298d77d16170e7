package verify

import (
	"context"
	"errors"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/pmemkit/internal/format"
	"github.com/joshuapare/pmemkit/region"
	"github.com/joshuapare/pmemkit/region/dirty"
	"github.com/joshuapare/pmemkit/region/tx"
)

// buildImage returns a committed region with three allocated cells.
func buildImage(t *testing.T) (*region.Region, []region.Ref) {
	t.Helper()
	ctx := context.Background()
	r := region.NewMemory(region.Options{HeapSize: 64 << 10, LogSize: format.PageSize})
	m, _, err := tx.Open(ctx, r, dirty.NewTracker(r), tx.Options{})
	require.NoError(t, err)

	require.NoError(t, m.Begin(ctx))
	var refs []region.Ref
	for i := range 3 {
		ref, err := m.Alloc(uint64(24*(i+1)), uint32(i+1))
		require.NoError(t, err)
		refs = append(refs, ref)
	}
	require.NoError(t, m.SetRoot(refs[0]))
	require.NoError(t, m.Commit(ctx))
	return r, refs
}

func TestAllInvariants_Clean(t *testing.T) {
	r, _ := buildImage(t)
	require.NoError(t, AllInvariants(r.Bytes()))

	rep, err := Heap(r.Bytes())
	require.NoError(t, err)
	require.Equal(t, 3, rep.AllocatedCells)
	require.Equal(t, 1, rep.FreeCells)
	require.Equal(t, map[uint32]int{1: 1, 2: 1, 3: 1}, rep.Tags)
	require.Equal(t, r.HeapEnd()-r.HeapStart(), rep.AllocatedBytes+rep.FreeBytes)
}

func TestHeader_Failures(t *testing.T) {
	r, _ := buildImage(t)

	cases := []struct {
		name   string
		mutate func([]byte)
	}{
		{"magic", func(b []byte) { b[0] = 'X' }},
		{"sequence", func(b []byte) { format.PutU64(b, format.PrimarySeqOffset, 99) }},
		{"checksum", func(b []byte) { b[format.LayoutNameOffset] ^= 0xFF }},
		{"heap end", func(b []byte) { format.PutU64(b, format.HeapEndOffset, uint64(len(b))+8) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			img := r.Clone()
			tc.mutate(img)
			var ve *ValidationError
			require.True(t, errors.As(Header(img), &ve))
			require.Equal(t, "Header", ve.Type)
		})
	}

	require.Error(t, Header(make([]byte, 16)))
}

func TestHeap_CorruptCell(t *testing.T) {
	r, refs := buildImage(t)
	img := r.Clone()
	format.PutI32(img, uint64(refs[1])-format.CellHeaderSize, -12)

	_, err := Heap(img)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	require.Equal(t, int64(refs[1])-format.CellHeaderSize, ve.Offset)
}

func TestLog_NeedsRecovery(t *testing.T) {
	r, _ := buildImage(t)
	img := r.Clone()
	logOff, _ := r.LogArea()
	format.PutU64(img, logOff+format.LogUsedOffset, 24)

	require.ErrorContains(t, Log(img), "needs recovery")
}

func TestRun_Reachability(t *testing.T) {
	r, refs := buildImage(t)

	all := func(context.Context) (*roaring.Bitmap, error) {
		bm := roaring.New()
		for _, ref := range refs {
			bm.Add(CellKey(uint64(ref)))
		}
		return bm, nil
	}
	rep, err := Run(context.Background(), r.Bytes(), all)
	require.NoError(t, err)
	require.Empty(t, rep.Leaked)
	require.Empty(t, rep.Dangling)

	partial := func(context.Context) (*roaring.Bitmap, error) {
		return roaring.BitmapOf(CellKey(uint64(refs[0]))), nil
	}
	rep, err = Run(context.Background(), r.Bytes(), partial)
	require.Error(t, err)
	require.ElementsMatch(t, []uint64{uint64(refs[1]), uint64(refs[2])}, rep.Leaked)

	dangling := func(context.Context) (*roaring.Bitmap, error) {
		bm, _ := all(context.Background())
		bm.Add(CellKey(r.HeapEnd() + 64))
		return bm, nil
	}
	rep, err = Run(context.Background(), r.Bytes(), dangling)
	require.ErrorContains(t, err, "unallocated")
	require.Equal(t, []uint64{r.HeapEnd() + 64}, rep.Dangling)

	boom := errors.New("boom")
	_, err = Run(context.Background(), r.Bytes(), func(context.Context) (*roaring.Bitmap, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
}
