// Package tx provides undo-log transactions over a region.
//
// # Overview
//
// A transaction makes a group of in-place writes atomic with respect to
// crashes. Before a range is modified its old contents are appended to the
// undo log in the region's log area. If the process dies before commit,
// the next Open copies the logged bytes back.
//
// # Log Layout
//
//	logOff+0x00  u64 used   bytes of entries published
//	logOff+0x08  u64 seq    sequence of the owning transaction
//	logOff+0x10  entries:   [u64 off][u64 len][payload, padded to 8]
//
// An entry becomes part of the log only once "used" covers it, and "used"
// is flushed only after the entry itself. Truncating the log to zero is the
// commit point.
//
// # What Gets Logged
//
// Snapshot logs only the parts of a range that are neither already logged
// nor freshly allocated in the current transaction (see alloc.Journal). The
// covered set is an interval set over github.com/tidwall/btree.
//
// # Frees
//
// Free is deferred to commit. Until then the cell stays allocated, so a
// rolled back transaction never has to resurrect a released cell. The frees
// are journaled when applied, so a crash during the free phase rolls back
// the whole transaction.
//
// # Sequence Numbers
//
// Begin bumps PrimarySeq; a successful commit or rollback sets SecondarySeq
// to the same value and refreshes the header checksum. A region whose
// sequences differ but whose log is empty crashed after its commit point;
// Open repairs the header and keeps the data.
//
// # Thread Safety
//
// The Manager is not thread-safe. pool.Pool serializes transactions.
package tx
