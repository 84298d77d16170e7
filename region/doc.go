// Package region provides the durable, memory-mapped address range that every
// pmemkit container lives in.
//
// # Layout
//
// A region is a single file mapped MAP_SHARED read-write:
//
//	0x0000  header page (magic, version, uuid, sequences, heap end, root, ...)
//	0x1000  undo-log area (LogSize bytes)
//	  ...   heap (cells managed by region/alloc)
//
// Durable references are Refs: absolute byte offsets into the region. They
// stay valid across remaps and process restarts because they never encode a
// virtual address.
//
// # Remapping
//
// Append grows the file and remaps it. Any []byte obtained from Bytes() before
// a call that may grow the region is stale afterwards; callers re-read Bytes()
// after every allocation.
//
// # Heap-backed regions
//
// NewMemory and FromBytes create regions backed by an ordinary byte slice.
// They behave exactly like file-backed regions except that flushing is a no-op.
// Tests use them to simulate a crash: copy Bytes() in the middle of a
// transaction and reopen the copy.
//
// # Thread Safety
//
// Region instances are not thread-safe. Growth must be serialized with every
// other access, which region/tx does by owning the region during a transaction.
package region
