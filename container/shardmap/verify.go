package shardmap

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/joshuapare/pmemkit/container"
	"github.com/joshuapare/pmemkit/internal/format"
)

// Verify checks every shard concurrently: chain lengths and counts agree,
// nodes are in range and each node sits in the shard and bucket its hash
// selects.
func (m *Map[K, V]) Verify(ctx context.Context) error {
	if m.ref.IsNil() {
		return container.ErrDestroyed
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range m.shards {
		g.Go(func() error { return m.verifyShard(ctx, i) })
	}
	return g.Wait()
}

func (m *Map[K, V]) verifyShard(ctx context.Context, i uint64) error {
	defer container.Shared(m.locks[i])()

	data := m.h.Bytes()
	size := uint64(len(data))
	rec := m.record(i)
	nb := format.ReadU64(data, rec+shBuckets)
	arr := format.ReadU64(data, rec+shArray)
	count := format.ReadU64(data, rec+shCount)
	if nb == 0 || arr == 0 || arr+nb*bucketSize > size {
		return fmt.Errorf("%w: shard %d: bucket array 0x%x x %d", container.ErrCorrupt, i, arr, nb)
	}

	var total uint64
	for b := range nb {
		if b%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		bk := arr + b*bucketSize
		var n uint64
		for node := format.ReadU64(data, bk+bkHead); node != 0; node = format.ReadU64(data, node+ndNext) {
			if node+m.nodeSize() > size {
				return fmt.Errorf("%w: shard %d bucket %d: node 0x%x out of range", container.ErrCorrupt, i, b, node)
			}
			n++
			if total+n > count {
				return fmt.Errorf("%w: shard %d: more nodes than its count %d", container.ErrCorrupt, i, count)
			}
			hv := format.ReadU64(data, node+ndHash)
			if m.shardOf(hv) != i || (hv>>m.shift)%nb != b {
				return fmt.Errorf("%w: shard %d bucket %d: node 0x%x hash 0x%x misplaced", container.ErrCorrupt, i, b, node, hv)
			}
			if m.hash(m.key(data, node)) != hv {
				return fmt.Errorf("%w: shard %d: node 0x%x stored hash differs", container.ErrCorrupt, i, node)
			}
		}
		if got := format.ReadU64(data, bk+bkLen); got != n {
			return fmt.Errorf("%w: shard %d bucket %d: length %d, chain %d", container.ErrCorrupt, i, b, got, n)
		}
		total += n
	}
	if total != count {
		return fmt.Errorf("%w: shard %d: count %d, found %d", container.ErrCorrupt, i, count, total)
	}
	return nil
}
