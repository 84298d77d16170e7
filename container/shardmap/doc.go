// Package shardmap provides a durable hash map split into independently
// locked, independently resized shards.
//
// A key's hash picks the shard with its low bits and the bucket with the
// rest:
//
//	shard  = hash & (shards-1)
//	bucket = (hash >> log2(shards)) % buckets
//
// Each shard owns a bucket array of chain heads and an element count.
// Before an insert, a shard holding more than 0.7 elements per bucket is
// resized to four times as many buckets in one transaction.
//
// # Locking
//
// Every shard has a reader/writer lock that lives in process memory. After
// Open, ResetLocks must be called before the map is used.
//
// Readers only take shard locks. Writers additionally share the heap's
// transaction manager, so concurrent writers must serialize themselves
// (pool.Pool.Lock). The pool must be opened with a reservation large
// enough that growth never remaps the region under a reader.
//
// All holds a shard's read lock while yielding that shard's entries; the
// loop body must not modify the map.
package shardmap
