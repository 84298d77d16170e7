package alloc

import (
	"container/heap"
	"context"
	"fmt"

	"github.com/tidwall/btree"

	"github.com/joshuapare/pmemkit/internal/format"
	"github.com/joshuapare/pmemkit/internal/logger"
	"github.com/joshuapare/pmemkit/region"
)

// DefaultGrowChunk is the minimum number of bytes added to the heap when no
// free cell fits.
const DefaultGrowChunk = 256 << 10

// Journal records the prior contents of ranges before they change.
// region/tx implements it; Snapshot is a no-op for ranges marked Fresh.
type Journal interface {
	// Snapshot logs [off, off+n) so the write that follows can be undone.
	Snapshot(off, n uint64) error

	// Fresh marks [off, off+n) as newly allocated in the current
	// transaction. Fresh ranges are dirty but never logged.
	Fresh(off, n uint64)
}

// Options configures an Allocator.
type Options struct {
	Config    *SizeClassConfig // nil selects DefaultConfig
	GrowChunk uint64           // 0 selects DefaultGrowChunk
	Logger    *logger.Logger   // nil discards
}

// Stats holds allocator counters.
type Stats struct {
	AllocCalls       int
	FreeCalls        int
	GrowCalls        int
	GrowBytes        uint64
	Remaps           int
	BytesAllocated   uint64
	BytesFreed       uint64
	SplitCount       int
	CoalesceForward  int
	CoalesceBackward int
}

// Usage summarizes the heap layout.
type Usage struct {
	HeapBytes      uint64
	AllocatedBytes uint64
	FreeBytes      uint64
	AllocatedCells int
	FreeCells      int
	LargestFree    uint64
}

// Cell describes one heap cell as found by Walk.
type Cell struct {
	Off       uint64 // header offset
	Size      uint64 // total size including header
	Tag       uint32
	Allocated bool
}

// Ref returns the payload reference of the cell.
func (c Cell) Ref() region.Ref { return region.Ref(c.Off + format.CellHeaderSize) }

// Allocator is a best-fit allocator over the heap of a region using
// segregated min-heaps per size class and an ordered offset index for
// coalescing.
//
// Every header write goes through the Journal, so an aborted or interrupted
// transaction restores the heap layout together with the data. The in-memory
// free lists are derived state; Rebuild recreates them from the headers.
//
// NOT thread-safe.
type Allocator struct {
	r   *region.Region
	j   Journal
	log *logger.Logger

	sizeTable *sizeClassTable
	freeLists []freeCellHeap // last entry is the large list
	byOff     *btree.Map[uint64, *freeCell]

	growChunk uint64
	stats     Stats
}

// New creates an allocator and builds its free lists from the heap.
func New(r *region.Region, j Journal, opts Options) (*Allocator, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = &DefaultConfig
	}
	grow := opts.GrowChunk
	if grow == 0 {
		grow = DefaultGrowChunk
	}
	log := opts.Logger
	if log == nil {
		log = logger.Noop()
	}

	table := newSizeClassTable(*cfg)
	a := &Allocator{
		r:         r,
		j:         j,
		log:       log.WithComponent("alloc"),
		sizeTable: table,
		freeLists: make([]freeCellHeap, table.numClasses()+1),
		byOff:     btree.NewMap[uint64, *freeCell](0),
		growChunk: format.Align8(grow),
	}
	if err := a.Rebuild(); err != nil {
		return nil, err
	}
	return a, nil
}

// Rebuild discards the free lists and rescans every cell header.
// region/tx calls it after an abort or recovery.
func (a *Allocator) Rebuild() error {
	for i := range a.freeLists {
		a.freeLists[i] = a.freeLists[i][:0]
	}
	a.byOff = btree.NewMap[uint64, *freeCell](0)

	return a.Walk(func(c Cell) bool {
		if !c.Allocated {
			a.insertFree(&freeCell{off: c.Off, size: uint32(c.Size)})
		}
		return true
	})
}

// Walk visits every cell in address order. It stops early when fn returns
// false and reports ErrCorrupt on an impossible header.
func (a *Allocator) Walk(fn func(Cell) bool) error {
	data := a.r.Bytes()
	start, end := a.r.HeapStart(), a.r.HeapEnd()

	for off := start; off < end; {
		if off+format.CellHeaderSize > end {
			return fmt.Errorf("%w: truncated header at 0x%x", ErrCorrupt, off)
		}
		raw := format.ReadI32(data, off)
		size := uint64(raw)
		allocated := raw < 0
		if allocated {
			size = uint64(-int64(raw))
		}
		if size < format.MinCellSize || size&format.CellAlignmentMask != 0 || off+size > end {
			return fmt.Errorf("%w: cell at 0x%x has size %d", ErrCorrupt, off, raw)
		}
		c := Cell{
			Off:       off,
			Size:      size,
			Tag:       format.ReadU32(data, off+4),
			Allocated: allocated,
		}
		if !fn(c) {
			return nil
		}
		off += size
	}
	return nil
}

// Alloc returns a zeroed payload of at least need bytes tagged with tag.
// The region may be remapped; re-read Bytes() afterwards.
func (a *Allocator) Alloc(need uint64, tag uint32) (region.Ref, error) {
	a.stats.AllocCalls++

	if need > format.MaxCellSize-format.CellHeaderSize {
		return region.Nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, need)
	}
	total := uint32(format.Align8(need + format.CellHeaderSize))
	if total < format.MinCellSize {
		total = format.MinCellSize
	}

	c := a.find(total)
	if c == nil {
		if err := a.grow(total); err != nil {
			return region.Nil, err
		}
		if c = a.find(total); c == nil {
			return region.Nil, fmt.Errorf("%w: no fit for %d bytes after grow", ErrGrowFail, total)
		}
	}
	return a.take(c, total, tag)
}

// Free returns a cell to the heap, coalescing with free neighbours.
// Transactions defer Free to commit; see region/tx.
func (a *Allocator) Free(ref region.Ref) error {
	a.stats.FreeCalls++

	off, size, err := a.allocatedCell(ref)
	if err != nil {
		return err
	}
	if err := a.j.Snapshot(off, format.CellHeaderSize); err != nil {
		return err
	}
	a.stats.BytesFreed += uint64(size)

	merged := &freeCell{off: off, size: size}

	if next, ok := a.byOff.Get(off + uint64(size)); ok && uint64(merged.size)+uint64(next.size) <= format.MaxCellSize {
		a.removeFree(next)
		merged.size += next.size
		a.stats.CoalesceForward++
	}
	if pred := a.predecessor(off); pred != nil && uint64(pred.size)+uint64(merged.size) <= format.MaxCellSize {
		if err := a.j.Snapshot(pred.off, format.CellHeaderSize); err != nil {
			return err
		}
		a.removeFree(pred)
		merged.off = pred.off
		merged.size += pred.size
		a.stats.CoalesceBackward++
	}

	a.writeHeader(merged.off, int32(merged.size), 0)
	a.insertFree(merged)

	if logger.LogAlloc {
		a.log.Debug("free", "ref", uint64(ref), "size", size, "merged_off", merged.off, "merged_size", merged.size)
	}
	return nil
}

// Capacity returns the usable payload size of an allocated cell.
func (a *Allocator) Capacity(ref region.Ref) (uint64, error) {
	_, size, err := a.allocatedCell(ref)
	if err != nil {
		return 0, err
	}
	return uint64(size) - format.CellHeaderSize, nil
}

// Tag returns the tag of an allocated cell.
func (a *Allocator) Tag(ref region.Ref) (uint32, error) {
	off, _, err := a.allocatedCell(ref)
	if err != nil {
		return 0, err
	}
	return format.ReadU32(a.r.Bytes(), off+4), nil
}

// Stats returns a copy of the counters.
func (a *Allocator) Stats() Stats { return a.stats }

// Usage walks the heap and summarizes it.
func (a *Allocator) Usage() (Usage, error) {
	u := Usage{HeapBytes: a.r.HeapEnd() - a.r.HeapStart()}
	err := a.Walk(func(c Cell) bool {
		if c.Allocated {
			u.AllocatedCells++
			u.AllocatedBytes += c.Size
			return true
		}
		u.FreeCells++
		u.FreeBytes += c.Size
		u.LargestFree = max(u.LargestFree, c.Size)
		return true
	})
	return u, err
}

// SizeClasses reports the configured class table name.
func (a *Allocator) SizeClasses() string { return a.sizeTable.String() }

func (a *Allocator) allocatedCell(ref region.Ref) (uint64, uint32, error) {
	if ref < format.CellHeaderSize {
		return 0, 0, fmt.Errorf("%w: 0x%x", ErrBadRef, uint64(ref))
	}
	off := uint64(ref) - format.CellHeaderSize
	if off < a.r.HeapStart() || off+format.MinCellSize > a.r.HeapEnd() || off&format.CellAlignmentMask != 0 {
		return 0, 0, fmt.Errorf("%w: 0x%x", ErrBadRef, uint64(ref))
	}
	raw := format.ReadI32(a.r.Bytes(), off)
	if raw >= 0 {
		return 0, 0, fmt.Errorf("%w: 0x%x", ErrNotAllocated, uint64(ref))
	}
	size := uint32(-raw)
	if off+uint64(size) > a.r.HeapEnd() {
		return 0, 0, fmt.Errorf("%w: 0x%x size %d", ErrBadRef, uint64(ref), size)
	}
	return off, size, nil
}

// find returns the best fitting free cell or nil.
func (a *Allocator) find(total uint32) *freeCell {
	sc := a.sizeTable.class(total)
	large := a.sizeTable.numClasses()

	if c := a.freeLists[sc].bestFit(total); c != nil {
		return c
	}
	for i := sc + 1; i < large; i++ {
		if len(a.freeLists[i]) > 0 {
			return a.freeLists[i][0]
		}
	}
	if sc == large {
		return nil
	}
	return a.freeLists[large].bestFit(total)
}

func (a *Allocator) take(c *freeCell, total uint32, tag uint32) (region.Ref, error) {
	if err := a.j.Snapshot(c.off, format.CellHeaderSize); err != nil {
		return region.Nil, err
	}
	a.removeFree(c)

	off := c.off
	if c.size-total >= format.MinCellSize {
		rem := &freeCell{off: off + uint64(total), size: c.size - total}
		a.writeHeader(rem.off, int32(rem.size), 0)
		a.j.Fresh(rem.off, format.CellHeaderSize)
		a.insertFree(rem)
		a.stats.SplitCount++
	} else {
		total = c.size
	}

	a.writeHeader(off, -int32(total), tag)
	payload := off + format.CellHeaderSize
	clear(a.r.Bytes()[payload : off+uint64(total)])
	a.j.Fresh(payload, uint64(total)-format.CellHeaderSize)

	a.stats.BytesAllocated += uint64(total)
	if logger.LogAlloc {
		a.log.Debug("alloc", "ref", payload, "size", total, "tag", tag)
	}
	return region.Ref(payload), nil
}

// grow extends the heap by at least need bytes, consuming slack past the
// current heap end first and growing the file only when that is not enough.
func (a *Allocator) grow(need uint32) error {
	a.stats.GrowCalls++

	oldEnd := a.r.HeapEnd()
	chunk := max(uint64(need), a.growChunk)
	remapped := false

	if avail := uint64(a.r.Size()) - oldEnd; avail < chunk {
		if err := a.r.Append(int64(format.AlignPage(chunk - avail))); err != nil {
			return fmt.Errorf("%w: %w", ErrGrowFail, err)
		}
		a.stats.Remaps++
		remapped = true
	}

	newEnd := min(uint64(a.r.Size()), oldEnd+(format.MaxCellSize&^format.CellAlignmentMask))
	size := newEnd - oldEnd
	if size < uint64(need) {
		return fmt.Errorf("%w: need %d, got %d", ErrGrowFail, need, size)
	}

	if err := a.j.Snapshot(format.HeapEndOffset, 8); err != nil {
		return err
	}
	a.r.SetHeapEnd(newEnd)

	cell := &freeCell{off: oldEnd, size: uint32(size)}
	if pred := a.predecessor(oldEnd); pred != nil && uint64(pred.size)+size <= format.MaxCellSize {
		if err := a.j.Snapshot(pred.off, format.CellHeaderSize); err != nil {
			return err
		}
		a.removeFree(pred)
		cell.off = pred.off
		cell.size += pred.size
	} else {
		a.j.Fresh(oldEnd, format.CellHeaderSize)
	}
	a.writeHeader(cell.off, int32(cell.size), 0)
	a.insertFree(cell)

	a.stats.GrowBytes += size
	a.log.LogGrow(context.Background(), oldEnd, newEnd, remapped)
	return nil
}

// predecessor returns the free cell ending exactly at off, if any.
func (a *Allocator) predecessor(off uint64) *freeCell {
	if off == 0 {
		return nil
	}
	var pred *freeCell
	a.byOff.Descend(off-1, func(_ uint64, c *freeCell) bool {
		pred = c
		return false
	})
	if pred == nil || pred.off+uint64(pred.size) != off {
		return nil
	}
	return pred
}

func (a *Allocator) insertFree(c *freeCell) {
	c.sc = a.sizeTable.class(c.size)
	heap.Push(&a.freeLists[c.sc], c)
	a.byOff.Set(c.off, c)
}

func (a *Allocator) removeFree(c *freeCell) {
	a.freeLists[c.sc].remove(c)
	a.byOff.Delete(c.off)
}

func (a *Allocator) writeHeader(off uint64, size int32, tag uint32) {
	data := a.r.Bytes()
	format.PutI32(data, off, size)
	format.PutU32(data, off+4, tag)
}
