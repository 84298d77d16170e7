// Package hashmap implements durable chained hash containers: Map[K, V]
// and Set[E].
//
// # Layout
//
// A map is a header cell and a fixed array of bucket heads, both allocated
// once at construction. Each head holds one entry inline, so a bucket with
// a single element costs no allocation; further entries are chained nodes
// allocated individually:
//
//	head: [key][value] pad8 [next u64][valid u64]
//	node: [key][value] pad8 [next u64]
//
// A head is valid iff its bucket is non-empty, and the element count is
// the number of valid heads plus chained nodes.
//
// # Durability
//
// Every mutation runs in a transaction. Inserting into an invalid head
// writes the key and value without snapshotting them (the slot holds no
// live data) and flushes them before the valid flag is set. Erasing a head
// with successors moves the second entry into the head through the codecs,
// so the head stays populated for every non-empty bucket.
//
// # Concurrency
//
// A Map is not safe for concurrent use unless constructed WithLocking.
// Then every method takes the lock itself: iterators, Cells and Dump hold
// it shared until they finish, so a loop body must not call a mutator of
// the same map. LockShared and LockUnique are for callers that need
// several calls to observe one state; the self-locking methods must not
// be called while holding them. After Open, ResetLock must be called once
// before any locking.
//
// Iterators are not durable and are valid for one open session only.
package hashmap
