// Package pool is the durability substrate handle the containers run on.
//
// A Pool bundles a region, its dirty tracker, the transaction manager with
// its allocator, and the application root reference:
//
//	p, err := pool.Create("replica.pmk", pool.Options{Layout: "replica"})
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//
//	err = p.Tx(ctx, func() error {
//	    ref, err := p.Alloc(64, 1)
//	    if err != nil {
//	        return err
//	    }
//	    return p.SetRoot(ref)
//	})
//
// Open recovers an interrupted transaction before anything else reads the
// heap, and logs the outcome.
//
// *Pool implements container.Heap. Snapshot, Alloc and Free outside a
// transaction are usage errors and panic with tx.ErrNotInTransaction.
//
// # Concurrency
//
// Transactions are not thread-safe. Goroutines that mutate containers of
// the same pool concurrently serialize their outermost operations with
// Pool.Lock, as kvservice does around every request. Calls made from
// inside a running transaction must not take the lock again.
//
// Set Options.Reserve when readers run concurrently with writers: growth
// inside the reservation never unmaps the region.
package pool
