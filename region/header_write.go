package region

import "github.com/joshuapare/pmemkit/internal/format"

// The setters below write header fields in place. They do not journal and do
// not flush: region/tx snapshots the header before calling them and owns the
// flush ordering.

// SetHeapEnd records the absolute end of the heap.
func (r *Region) SetHeapEnd(end uint64) {
	format.PutU64(r.window, format.HeapEndOffset, end)
}

// SetRoot records the application root reference.
func (r *Region) SetRoot(ref Ref) {
	format.PutU64(r.window, format.RootRefOffset, uint64(ref))
}

// SetSequences writes both sequence numbers.
func (r *Region) SetSequences(primary, secondary uint64) {
	format.PutU64(r.window, format.PrimarySeqOffset, primary)
	format.PutU64(r.window, format.SecondarySeqOffset, secondary)
}

// UpdateChecksum recomputes the header checksum.
func (r *Region) UpdateChecksum() {
	format.PutU32(r.window, format.ChecksumOffset, format.HeaderChecksum(r.window))
}
