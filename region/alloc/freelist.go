package alloc

import "container/heap"

// freeCell is a free cell tracked in memory. The on-media header is the
// source of truth; this is derived state rebuilt by Rebuild.
type freeCell struct {
	off       uint64 // absolute offset of the cell header
	size      uint32 // total size including header
	sc        int
	heapIndex int
}

// freeCellHeap is a min-heap keyed on size, giving best fit within a class.
type freeCellHeap []*freeCell

func (h freeCellHeap) Len() int { return len(h) }

func (h freeCellHeap) Less(i, j int) bool {
	if h[i].size == h[j].size {
		return h[i].off < h[j].off
	}
	return h[i].size < h[j].size
}

func (h freeCellHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *freeCellHeap) Push(x any) {
	cell := x.(*freeCell) //nolint:errcheck // heap.Interface contract guarantees type
	cell.heapIndex = len(*h)
	*h = append(*h, cell)
}

func (h *freeCellHeap) Pop() any {
	old := *h
	n := len(old)
	cell := old[n-1]
	old[n-1] = nil
	cell.heapIndex = -1
	*h = old[:n-1]
	return cell
}

// bestFit returns the smallest cell in h with size >= need, or nil.
// Within a class the heap is small, so a scan beats a second index.
func (h freeCellHeap) bestFit(need uint32) *freeCell {
	var best *freeCell
	for _, c := range h {
		if c.size >= need && (best == nil || c.size < best.size || (c.size == best.size && c.off < best.off)) {
			best = c
		}
	}
	return best
}

func (h *freeCellHeap) remove(c *freeCell) {
	heap.Remove(h, c.heapIndex)
}
