// Package alloc manages cells in the heap of a region.
//
// # Cell Layout
//
// Every cell starts with an 8-byte header followed by its payload:
//
//	+0  int32  size   total bytes including header; negative = allocated
//	+4  uint32 tag    caller-defined type tag, 0 for free cells
//	+8  payload
//
// Sizes are multiples of 8 and at least 16. Cells tile the heap from
// HeapStart to HeapEnd without gaps, so the heap can always be walked.
//
// # Design
//
// Allocator keeps segregated free lists (min-heaps per size class, see
// SizeClassConfig) for best-fit allocation, plus an ordered offset index
// (github.com/tidwall/btree) to find the free predecessor of a cell when
// coalescing. Both are derived state: Rebuild recreates them by walking the
// headers, which is what happens after an abort or recovery.
//
// # Crash Consistency
//
// Every header the allocator modifies is first passed to Journal.Snapshot.
// Payloads handed out by Alloc are zeroed and registered with Journal.Fresh,
// so the transaction does not log their prior contents. A transaction that
// aborts after Alloc therefore leaves the heap exactly as it was.
//
// # Growth
//
// When nothing fits, the heap is extended by at least DefaultGrowChunk bytes.
// Slack between HeapEnd and the end of the file is used first; otherwise the
// region file is grown and remapped. Callers must re-read region.Bytes()
// after every Alloc.
//
// # Debug Logging
//
// Set PMEMKIT_LOG_ALLOC to log every Alloc and Free at debug level.
//
// # Thread Safety
//
// Allocator instances are not thread-safe. region/tx serializes access.
package alloc
