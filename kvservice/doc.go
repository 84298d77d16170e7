// Package kvservice is a replicated key/value service executing requests
// against a durable sharded map.
//
// A request is a type byte, a big-endian u32 key length, the key, and for
// puts the value:
//
//	'G' keylen key          -> the stored value, empty if none
//	'P' keylen key value    -> the previous value, empty if none
//
// Values are stored in blocks. A put takes a block of the new length from
// a size-bucketed cache and gives the old block back, so steady-state
// overwrites neither allocate nor snapshot the value bytes.
//
// Every applied request extends a SHA-512 chain over all requests so far,
// letting replicas compare their histories by digest.
package kvservice
