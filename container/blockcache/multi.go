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
	"github.com/joshuapare/pmemkit/container/stack"
	"github.com/joshuapare/pmemkit/internal/check"
	"github.com/joshuapare/pmemkit/region"
)

// MultiSize retains a LIFO stack of blocks per size.
type MultiSize struct {
	header
	index *hashmap.Map[uint64, region.Ref] // size -> stack header
	seq   *check.Sequence

	// Stack handles by size. A handle remembers which of its slots were
	// live at transaction entry, so it must outlive single calls.
	stacks map[uint64]*stack.Stack[region.Ref]
}

// NewMultiSize allocates an empty cache.
func NewMultiSize(h container.Heap, opts Options) (*MultiSize, error) {
	c := &MultiSize{
		seq:    check.NewSequence(check.MultiSlot, opts.Checks || check.Enabled),
		stacks: make(map[uint64]*stack.Stack[region.Ref]),
	}
	err := h.Update(func() error {
		hd, err := createHeader(h, multiMagic, opts.Accounting)
		if err != nil {
			return err
		}
		index, err := hashmap.New(h, hashmap.Config{Buckets: opts.Buckets}, codec.Uint64, codec.Ref)
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

// OpenMultiSize attaches to an existing cache.
func OpenMultiSize(h container.Heap, ref region.Ref, opts Options) (*MultiSize, error) {
	hd, indexRef, err := openHeader(h, ref, multiMagic)
	if err != nil {
		return nil, err
	}
	index, err := hashmap.Open(h, indexRef, codec.Uint64, codec.Ref)
	if err != nil {
		return nil, fmt.Errorf("blockcache: size index: %w", err)
	}
	return &MultiSize{
		header: hd,
		index:  index,
		seq:    check.NewSequence(check.MultiSlot, opts.Checks || check.Enabled),
		stacks: make(map[uint64]*stack.Stack[region.Ref]),
	}, nil
}

// Len returns the number of retained blocks of the given size.
func (c *MultiSize) Len(size uint64) int {
	s, err := c.stack(size)
	if err != nil || s == nil {
		return 0
	}
	return s.Len()
}

// Pop removes and returns the most recently retained block of size.
func (c *MultiSize) Pop(size uint64) (Block, bool, error) {
	s, err := c.stack(size)
	if err != nil {
		return Block{}, false, err
	}
	if s == nil || s.Empty() {
		return Block{}, false, nil
	}
	c.seq.Pop(c.h.TxID(), size)

	var ref region.Ref
	err = c.h.Update(func() error {
		var err error
		if ref, _, err = s.PopBack(); err != nil {
			return err
		}
		return c.account(-1, size)
	})
	if err != nil {
		return Block{}, false, err
	}
	return Block{Ref: ref, Size: size}, true, nil
}

// Push retains b.
func (c *MultiSize) Push(b Block) error {
	c.seq.Push(c.h.TxID(), b.Size)
	return c.h.Update(func() error {
		s, err := c.stackOrCreate(b.Size)
		if err != nil {
			return err
		}
		if err := s.PushBack(b.Ref); err != nil {
			return err
		}
		return c.account(1, b.Size)
	})
}

// Exchange replaces the most recently retained block of b.Size with b and
// returns it. With nothing retained, b is retained and nothing returned.
func (c *MultiSize) Exchange(b Block) (Block, bool, error) {
	c.seq.Exchange(c.h.TxID(), b.Size)
	var old Block
	var had bool
	err := c.h.Update(func() error {
		s, err := c.stackOrCreate(b.Size)
		if err != nil {
			return err
		}
		if s.Empty() {
			if err := s.PushBack(b.Ref); err != nil {
				return err
			}
			return c.account(1, b.Size)
		}
		top, _ := s.Back()
		old, had = Block{Ref: top, Size: b.Size}, true
		return s.Set(s.Len()-1, b.Ref)
	})
	if err != nil {
		return Block{}, false, err
	}
	return old, had, nil
}

// stack returns the stack for size, or nil if the size was never used.
func (c *MultiSize) stack(size uint64) (*stack.Stack[region.Ref], error) {
	ref, ok := c.index.Lookup(size)
	if !ok {
		return nil, nil
	}
	// A cached handle can be stale after an abort rolled back its creation.
	if s := c.stacks[size]; s != nil && s.Ref() == ref {
		return s, nil
	}
	s, err := stack.Open(c.h, ref, codec.Ref)
	if err != nil {
		return nil, fmt.Errorf("blockcache: stack for size %d: %w", size, err)
	}
	c.stacks[size] = s
	return s, nil
}

func (c *MultiSize) stackOrCreate(size uint64) (*stack.Stack[region.Ref], error) {
	s, err := c.stack(size)
	if s != nil || err != nil {
		return s, err
	}
	s, err = stack.New(c.h, codec.Ref, 0)
	if err != nil {
		return nil, err
	}
	if _, _, err := c.index.GetOrInsert(size, s.Ref()); err != nil {
		return nil, err
	}
	c.stacks[size] = s
	return s, nil
}

func (c *MultiSize) sizes() []uint64 {
	return slices.Sorted(func(yield func(uint64) bool) {
		for size := range c.index.All() {
			if !yield(size) {
				return
			}
		}
	})
}

// Cells yields the cells owned by the cache, retained blocks included.
func (c *MultiSize) Cells() iter.Seq[region.Ref] {
	return func(yield func(region.Ref) bool) {
		if !yield(c.ref) {
			return
		}
		for ref := range c.index.Cells() {
			if !yield(ref) {
				return
			}
		}
		for _, size := range c.sizes() {
			s, err := c.stack(size)
			if err != nil || s == nil {
				continue
			}
			for ref := range s.Cells() {
				if !yield(ref) {
					return
				}
			}
			for _, ref := range s.All() {
				if !yield(ref) {
					return
				}
			}
		}
	}
}

// Dump lists "size: count" for every size ever used, sorted by size.
func (c *MultiSize) Dump(w io.Writer) error {
	var buf bytes.Buffer
	p := container.Printer()
	p.Fprintf(&buf, "multi-size block cache at 0x%x:\n", uint64(c.ref))
	for _, size := range c.sizes() {
		p.Fprintf(&buf, "%12d: %d\n", size, c.Len(size))
	}
	if blocks, ok := c.TotalBlocks(); ok {
		total, _ := c.TotalSize()
		p.Fprintf(&buf, "  %d blocks, %d bytes total.\n", blocks, total)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// Destroy frees every retained block, the per-size stacks and the cache.
func (c *MultiSize) Destroy() error {
	err := c.h.Update(func() error {
		for _, size := range c.sizes() {
			s, err := c.stack(size)
			if err != nil {
				return err
			}
			for _, ref := range s.All() {
				if err := c.h.Free(ref); err != nil {
					return err
				}
			}
			if err := s.Destroy(); err != nil {
				return err
			}
		}
		if err := c.index.Destroy(); err != nil {
			return err
		}
		return c.h.Free(c.ref)
	})
	clear(c.stacks)
	return err
}
