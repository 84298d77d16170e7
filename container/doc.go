// Package container holds what every durable container shares: the Heap
// capability they are built on, the Value handle returned by lookups, the
// Locker used by the synchronized variants and the cell tags written into
// the region.
//
// Containers never keep Go pointers into the region. They keep offsets and
// re-read Heap.Bytes() after any call that may allocate, since growing the
// region can move the mapping.
//
// Every mutating container method runs inside Heap.Update, so it can be
// called on its own or from within a caller's transaction; in the latter
// case it joins the caller's transaction and an error aborts all of it.
package container
