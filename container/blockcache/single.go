package blockcache

import (
	"bytes"
	"fmt"
	"io"
	"iter"
	"slices"

	"github.com/joshuapare/pmemkit/codec"
	"github.com/joshuapare/pmemkit/container"
	"github.com/joshuapare/pmemkit/container/hashmap"
	"github.com/joshuapare/pmemkit/internal/check"
	"github.com/joshuapare/pmemkit/region"
)

// SizeBucketed retains at most one block per size.
type SizeBucketed struct {
	header
	index *hashmap.Map[uint64, Block]
	seq   *check.Sequence
}

// NewSizeBucketed allocates an empty cache.
func NewSizeBucketed(h container.Heap, opts Options) (*SizeBucketed, error) {
	c := &SizeBucketed{seq: check.NewSequence(check.SingleSlot, opts.Checks || check.Enabled)}
	err := h.Update(func() error {
		hd, err := createHeader(h, singleMagic, opts.Accounting)
		if err != nil {
			return err
		}
		index, err := hashmap.New(h, hashmap.Config{Buckets: opts.Buckets}, codec.Uint64, BlockCodec)
		if err != nil {
			return err
		}
		hd.setIndex(index.Ref())
		c.header, c.index = hd, index
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("blockcache: create: %w", err)
	}
	return c, nil
}

// OpenSizeBucketed attaches to an existing cache. Only opts.Checks is
// used; accounting is fixed at construction.
func OpenSizeBucketed(h container.Heap, ref region.Ref, opts Options) (*SizeBucketed, error) {
	hd, indexRef, err := openHeader(h, ref, singleMagic)
	if err != nil {
		return nil, err
	}
	index, err := hashmap.Open(h, indexRef, codec.Uint64, BlockCodec)
	if err != nil {
		return nil, fmt.Errorf("blockcache: size index: %w", err)
	}
	return &SizeBucketed{
		header: hd,
		index:  index,
		seq:    check.NewSequence(check.SingleSlot, opts.Checks || check.Enabled),
	}, nil
}

// Len returns the number of retained blocks.
func (c *SizeBucketed) Len() int { return c.index.Len() }

// Pop removes and returns the block cached for size.
func (c *SizeBucketed) Pop(size uint64) (Block, bool, error) {
	b, ok := c.index.Lookup(size)
	if !ok {
		return Block{}, false, nil
	}
	c.seq.Pop(c.h.TxID(), size)
	err := c.h.Update(func() error {
		if _, err := c.index.Erase(size); err != nil {
			return err
		}
		return c.account(-1, size)
	})
	if err != nil {
		return Block{}, false, err
	}
	return b, true, nil
}

// Push hands b to the cache. If a block of b.Size is already retained, b
// is freed and the earlier block kept.
func (c *SizeBucketed) Push(b Block) error {
	c.seq.Push(c.h.TxID(), b.Size)
	return c.h.Update(func() error {
		_, inserted, err := c.index.GetOrInsert(b.Size, b)
		if err != nil {
			return err
		}
		if !inserted {
			return c.h.Free(b.Ref)
		}
		return c.account(1, b.Size)
	})
}

// Exchange retains b and returns the block it replaces. With an empty
// slot b is retained and nothing is returned.
func (c *SizeBucketed) Exchange(b Block) (Block, bool, error) {
	c.seq.Exchange(c.h.TxID(), b.Size)
	var old Block
	var had bool
	err := c.h.Update(func() error {
		v, inserted, err := c.index.GetOrInsert(b.Size, b)
		if err != nil {
			return err
		}
		if inserted {
			return c.account(1, b.Size)
		}
		old, had = v.Load(), true
		return v.Store(b)
	})
	if err != nil {
		return Block{}, false, err
	}
	return old, had, nil
}

// Cells yields the cells owned by the cache, retained blocks included.
func (c *SizeBucketed) Cells() iter.Seq[region.Ref] {
	return func(yield func(region.Ref) bool) {
		if !yield(c.ref) {
			return
		}
		for ref := range c.index.Cells() {
			if !yield(ref) {
				return
			}
		}
		for _, b := range c.index.All() {
			if !yield(b.Ref) {
				return
			}
		}
	}
}

// Dump lists the retained sizes.
func (c *SizeBucketed) Dump(w io.Writer) error {
	var buf bytes.Buffer
	p := container.Printer()
	p.Fprintf(&buf, "size-bucketed block cache at 0x%x:\n", uint64(c.ref))
	sizes := slices.Sorted(func(yield func(uint64) bool) {
		for size := range c.index.All() {
			if !yield(size) {
				return
			}
		}
	})
	for _, size := range sizes {
		p.Fprintf(&buf, "%12d: 1\n", size)
	}
	if blocks, ok := c.TotalBlocks(); ok {
		total, _ := c.TotalSize()
		p.Fprintf(&buf, "  %d blocks, %d bytes total.\n", blocks, total)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// Destroy frees every retained block and the cache itself.
func (c *SizeBucketed) Destroy() error {
	return c.h.Update(func() error {
		for _, b := range c.index.All() {
			if err := c.h.Free(b.Ref); err != nil {
				return err
			}
		}
		if err := c.index.Destroy(); err != nil {
			return err
		}
		return c.h.Free(c.ref)
	})
}
