package blockcache

import (
	"fmt"

	"github.com/joshuapare/pmemkit/container"
	"github.com/joshuapare/pmemkit/internal/format"
	"github.com/joshuapare/pmemkit/region"
)

// Options configures a cache at construction.
type Options struct {
	// Accounting keeps running totals of retained blocks and bytes. It is
	// fixed at construction and stored in the region.
	Accounting bool

	// Buckets sizes the durable size index (hashmap.DefaultBuckets).
	Buckets int

	// Checks enables the take-then-give sequencing checker.
	Checks bool
}

const (
	hdrIndex   = 0x00 // u64 size index map
	hdrBlocks  = 0x08 // u64 retained blocks
	hdrBytes   = 0x10 // u64 retained bytes
	hdrFlags   = 0x18 // u32
	hdrMagic   = 0x1C // u32
	headerSize = 0x20

	flagAccounting uint32 = 1

	singleMagic uint32 = 0x31434B42 // "BKC1"
	multiMagic  uint32 = 0x4E434B42 // "BKCN"
)

// header is the durable part shared by both caches.
type header struct {
	h          container.Heap
	ref        region.Ref
	accounting bool
}

func createHeader(h container.Heap, magic uint32, accounting bool) (header, error) {
	hdr, err := h.Alloc(headerSize, container.TagCacheHeader)
	if err != nil {
		return header{}, err
	}
	var flags uint32
	if accounting {
		flags |= flagAccounting
	}
	data := h.Bytes()
	format.PutU32(data, uint64(hdr)+hdrFlags, flags)
	format.PutU32(data, uint64(hdr)+hdrMagic, magic)
	return header{h: h, ref: hdr, accounting: accounting}, nil
}

func openHeader(h container.Heap, ref region.Ref, magic uint32) (header, region.Ref, error) {
	data := h.Bytes()
	o := uint64(ref)
	if ref.IsNil() || o+headerSize > uint64(len(data)) {
		return header{}, region.Nil, fmt.Errorf("%w: block cache header at 0x%x", container.ErrCorrupt, o)
	}
	switch got := format.ReadU32(data, o+hdrMagic); {
	case got == magic:
	case got == singleMagic || got == multiMagic:
		return header{}, region.Nil, fmt.Errorf("%w: block cache at 0x%x is the other kind", container.ErrCodecMismatch, o)
	default:
		return header{}, region.Nil, fmt.Errorf("%w: block cache header at 0x%x", container.ErrCorrupt, o)
	}
	hd := header{
		h:          h,
		ref:        ref,
		accounting: format.ReadU32(data, o+hdrFlags)&flagAccounting != 0,
	}
	return hd, region.Ref(format.ReadU64(data, o+hdrIndex)), nil
}

func (hd header) setIndex(index region.Ref) {
	format.PutU64(hd.h.Bytes(), uint64(hd.ref)+hdrIndex, uint64(index))
}

// account adjusts the totals by delta blocks of size bytes each.
func (hd header) account(delta int64, size uint64) error {
	if !hd.accounting {
		return nil
	}
	o := uint64(hd.ref)
	if err := hd.h.Snapshot(o+hdrBlocks, 16); err != nil {
		return err
	}
	data := hd.h.Bytes()
	format.PutU64(data, o+hdrBlocks, format.ReadU64(data, o+hdrBlocks)+uint64(delta))
	format.PutU64(data, o+hdrBytes, format.ReadU64(data, o+hdrBytes)+uint64(delta)*size)
	return nil
}

func (hd header) totals() (blocks, bytes uint64) {
	data := hd.h.Bytes()
	return format.ReadU64(data, uint64(hd.ref)+hdrBlocks), format.ReadU64(data, uint64(hd.ref)+hdrBytes)
}

// TotalBlocks returns the number of retained blocks; ok is false when
// accounting is disabled.
func (hd header) TotalBlocks() (n uint64, ok bool) {
	if !hd.accounting {
		return 0, false
	}
	n, _ = hd.totals()
	return n, true
}

// TotalSize returns the retained bytes; ok is false when accounting is
// disabled.
func (hd header) TotalSize() (n uint64, ok bool) {
	if !hd.accounting {
		return 0, false
	}
	_, n = hd.totals()
	return n, true
}

// Ref returns the cache header cell.
func (hd header) Ref() region.Ref { return hd.ref }
