// Package dirty tracks modified byte ranges of a region and makes them durable.
//
// # Overview
//
// Writers call Add after every in-place store. At commit time the transaction
// manager calls FlushDataOnly, which page-aligns and coalesces the ranges and
// pushes them with msync. The header page is excluded from data flushes and
// written last by FlushHeaderAndMeta, so a torn commit never publishes a
// header that points at unflushed data.
//
// Flush and Drain are the two persistence primitives the containers rely on:
//
//   - Flush(ctx, off, n): write back one range immediately (msync MS_SYNC)
//   - Drain(): ordering barrier between previously issued flushes and later stores
//
// With MS_SYNC every flush is synchronous, so Drain only orders the Go
// memory model side of things. It exists so container code can state the
// ordering it depends on, which matters when a tracker is used with a
// weaker backend.
//
// # Page-Level Granularity
//
//	Dirty ranges: [0x2010+16, 0x2ff0+32, 0x5000+8] → flush: [0x2000-0x4000, 0x5000-0x6000]
//
// # Heap-Backed Regions
//
// All flushes are no-ops for regions created by region.NewMemory or
// region.FromBytes. Crash tests clone the bytes instead.
//
// # Thread Safety
//
// Tracker instances are not thread-safe. region/tx serializes access.
package dirty
