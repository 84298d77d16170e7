// Package replica keeps the durable state of a state-machine replica in a
// pool: execution progress, instances decided but not yet executed, the
// last reply sent to every client, the service snapshot files awaiting
// restore and the consensus record.
//
// Storage owns the pool root. Open creates the records on an empty pool
// and attaches to them otherwise.
//
// Mutating methods open their own transactions and may be called inside a
// caller's. They must be serialized by the caller, for example with
// pool.Pool.Lock. IsDecided, LastReply, LastReplySeq and AllReplies are
// safe to call concurrently with a writer.
package replica
