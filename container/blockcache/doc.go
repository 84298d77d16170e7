// Package blockcache keeps freed blocks for reuse as scratch pads.
//
// A block handed out by Pop or Exchange was retained by an earlier,
// committed transaction, so the caller may overwrite it with flush and
// drain instead of snapshotting it. That only holds if, per transaction
// and per size, blocks are taken before they are given:
//
//   - SizeBucketed: at most one Pop or Exchange, then at most one Push
//   - MultiSize: Pops then at most one Exchange, or at most one Exchange
//     then Pushes
//
// The contract is the caller's to keep. With Options.Checks (or the
// pmemdebug build tag) violations panic with a *check.Violation; without
// them they go unnoticed.
//
// SizeBucketed retains at most one block per size. When a size is already
// occupied, Push frees the incoming block and keeps the earlier one.
// MultiSize keeps a LIFO stack per size.
//
// Neither cache is safe for concurrent use.
package blockcache
