// Package verify checks the structural invariants of a region image.
//
// Validation categories:
//   - Header: magic, version, layout bounds, sequences, checksum
//   - Heap: cells tile the heap, sizes are aligned and in range
//   - Log: an idle region has an empty undo log
//   - Reachability: every allocated cell is reachable from the root and
//     every reference the containers follow points at an allocated cell
//
// The first three only need the raw bytes:
//
//	data, _ := os.ReadFile("pool.pmk")
//	if err := verify.AllInvariants(data); err != nil {
//	    fmt.Printf("Validation failed: %v\n", err)
//	}
//
// Reachability needs the container layer to enumerate the references it
// owns; pool.Pool.Verify wires the two together. Reachable sets are kept in
// roaring bitmaps keyed by cell index (offset / 8), which keeps the check
// cheap for heaps with millions of cells.
//
// Run executes the independent checks concurrently with an errgroup.
package verify
