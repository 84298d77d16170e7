package alloc

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/pmemkit/internal/format"
	"github.com/joshuapare/pmemkit/region"
)

// Test 1: First allocation grows an empty heap and returns a zeroed payload.
func Test_Alloc_GrowsEmptyHeap(t *testing.T) {
	a, _ := newTestAllocator(t, 64<<10)
	require.Equal(t, a.r.HeapStart(), a.r.HeapEnd())

	ref, err := a.Alloc(24, 7)
	require.NoError(t, err)
	require.Equal(t, region.Ref(a.r.HeapStart()+format.CellHeaderSize), ref)
	require.Greater(t, a.r.HeapEnd(), a.r.HeapStart())

	capacity, err := a.Capacity(ref)
	require.NoError(t, err)
	require.Equal(t, uint64(24), capacity)

	tag, err := a.Tag(ref)
	require.NoError(t, err)
	require.Equal(t, uint32(7), tag)

	for _, b := range a.r.Bytes()[ref : uint64(ref)+capacity] {
		require.Zero(t, b)
	}
	require.Equal(t, 1, a.Stats().GrowCalls)
	require.Zero(t, a.Stats().Remaps, "reserved slack absorbs the first grow")
}

// Test 2: Tiny requests round up to the minimum cell.
func Test_Alloc_MinimumCell(t *testing.T) {
	a, _ := newTestAllocator(t, 64<<10)

	ref, err := a.Alloc(1, 1)
	require.NoError(t, err)
	capacity, err := a.Capacity(ref)
	require.NoError(t, err)
	require.Equal(t, uint64(format.MinCellSize-format.CellHeaderSize), capacity)
}

// Test 3: Free then Alloc of the same size reuses the cell.
func Test_Alloc_ReusesFreedCell(t *testing.T) {
	a, _ := newTestAllocator(t, 64<<10)

	r1, err := a.Alloc(100, 1)
	require.NoError(t, err)
	_, err = a.Alloc(100, 1)
	require.NoError(t, err)

	require.NoError(t, a.Free(r1))
	r3, err := a.Alloc(100, 1)
	require.NoError(t, err)
	require.Equal(t, r1, r3)
}

// Test 4: Freeing neighbours coalesces them into one cell.
func Test_Free_Coalesces(t *testing.T) {
	a, _ := newTestAllocator(t, 64<<10)

	refs := make([]region.Ref, 3)
	for i := range refs {
		ref, err := a.Alloc(56, 1)
		require.NoError(t, err)
		refs[i] = ref
	}
	before, err := a.Usage()
	require.NoError(t, err)

	require.NoError(t, a.Free(refs[0]))
	require.NoError(t, a.Free(refs[2])) // merges forward into the tail
	require.NoError(t, a.Free(refs[1])) // merges both ways

	after, err := a.Usage()
	require.NoError(t, err)
	require.Equal(t, 1, after.FreeCells)
	require.Zero(t, after.AllocatedCells)
	require.Equal(t, before.HeapBytes, after.FreeBytes)
	require.GreaterOrEqual(t, a.Stats().CoalesceForward, 1)
	require.GreaterOrEqual(t, a.Stats().CoalesceBackward, 1)
}

// Test 5: Double free is reported.
func Test_Free_Twice(t *testing.T) {
	a, _ := newTestAllocator(t, 64<<10)

	ref, err := a.Alloc(32, 1)
	require.NoError(t, err)
	_, err = a.Alloc(32, 1)
	require.NoError(t, err)
	require.NoError(t, a.Free(ref))
	require.ErrorIs(t, a.Free(ref), ErrNotAllocated)
}

// Test 6: Bad references are rejected.
func Test_Free_BadRef(t *testing.T) {
	a, _ := newTestAllocator(t, 64<<10)
	_, err := a.Alloc(32, 1)
	require.NoError(t, err)

	require.ErrorIs(t, a.Free(region.Nil), ErrBadRef)
	require.ErrorIs(t, a.Free(region.Ref(a.r.HeapEnd()+64)), ErrBadRef)
	require.ErrorIs(t, a.Free(region.Ref(a.r.HeapStart()+12)), ErrBadRef)
}

// Test 7: Allocation past the reserved space grows and remaps the region.
func Test_Alloc_GrowsRegion(t *testing.T) {
	a, _ := newTestAllocator(t, format.PageSize)
	size := a.r.Size()

	var refs []region.Ref
	for range 64 {
		ref, err := a.Alloc(1000, 2)
		require.NoError(t, err)
		refs = append(refs, ref)
	}
	require.Greater(t, a.r.Size(), size)
	require.Positive(t, a.Stats().Remaps)
	require.LessOrEqual(t, a.r.HeapEnd(), uint64(a.r.Size()))

	// All cells are distinct and non-overlapping.
	seen := map[region.Ref]bool{}
	for _, r := range refs {
		require.False(t, seen[r])
		seen[r] = true
	}
	u, err := a.Usage()
	require.NoError(t, err)
	require.Equal(t, 64, u.AllocatedCells)
}

// Test 8: Requests beyond the cell limit fail cleanly.
func Test_Alloc_TooLarge(t *testing.T) {
	a, _ := newTestAllocator(t, 64<<10)
	_, err := a.Alloc(format.MaxCellSize, 1)
	require.ErrorIs(t, err, ErrTooLarge)
}

// Test 9: Header writes are journaled, payloads are marked fresh, and
// undoing the journal followed by Rebuild restores the free lists.
func Test_Alloc_JournalRollback(t *testing.T) {
	a, j := newTestAllocator(t, 64<<10)

	keep, err := a.Alloc(40, 1)
	require.NoError(t, err)
	j.saved = map[uint64][]byte{}
	j.snapshots, j.fresh = nil, nil
	before, err := a.Usage()
	require.NoError(t, err)
	heapEnd := a.r.HeapEnd()

	ref, err := a.Alloc(200, 3)
	require.NoError(t, err)
	require.NotEmpty(t, j.snapshots)
	require.Contains(t, j.fresh, span{uint64(ref), 200})

	j.undo()
	require.NoError(t, a.Rebuild())

	after, err := a.Usage()
	require.NoError(t, err)
	require.Equal(t, before, after)
	require.Equal(t, heapEnd, a.r.HeapEnd())

	_, err = a.Capacity(keep)
	require.NoError(t, err)
	_, err = a.Capacity(ref)
	require.Error(t, err)
}

// Test 10: Rebuild detects corrupt headers.
func Test_Rebuild_Corrupt(t *testing.T) {
	a, _ := newTestAllocator(t, 64<<10)
	ref, err := a.Alloc(40, 1)
	require.NoError(t, err)

	format.PutI32(a.r.Bytes(), uint64(ref)-format.CellHeaderSize, -13)
	require.ErrorIs(t, a.Rebuild(), ErrCorrupt)
}

// Test 11: Walk visits cells in address order and tiles the heap.
func Test_Walk_TilesHeap(t *testing.T) {
	a, _ := newTestAllocator(t, 64<<10)
	for i := range 10 {
		_, err := a.Alloc(uint64(16+i*24), uint32(i+1))
		require.NoError(t, err)
	}

	next := a.r.HeapStart()
	require.NoError(t, a.Walk(func(c Cell) bool {
		require.Equal(t, next, c.Off)
		next += c.Size
		return true
	}))
	require.Equal(t, a.r.HeapEnd(), next)
}

func Test_SizeClassTable(t *testing.T) {
	table := newSizeClassTable(ConfigBalanced)
	require.Equal(t, 0, table.class(16))
	require.Equal(t, 0, table.class(31))
	require.Equal(t, 1, table.class(32))
	require.Equal(t, table.numClasses(), table.class(1<<20))

	require.True(t, slices.IsSorted(table.bounds))
	require.Equal(t, "Balanced", table.String())

	arrays := newSizeClassTable(ConfigArrays)
	require.Equal(t, uint32(1<<20-1), arrays.bounds[arrays.numClasses()-1])
	require.Equal(t, arrays.numClasses()-1, arrays.class(1<<20-8))
}
