package hashmap

import "github.com/joshuapare/pmemkit/internal/format"

// Header cell.
const (
	hdrArray   = 0x00 // u64 bucket array ref
	hdrBuckets = 0x08 // u64 bucket count
	hdrCount   = 0x10 // u64 element count
	hdrKeySize = 0x18 // u32
	hdrValSize = 0x1C // u32
	hdrMagic   = 0x20 // u32
	headerSize = 0x28

	mapMagic uint32 = 0x50414D48 // "HMAP"
	setMagic uint32 = 0x54455348 // "HSET"
)

// layout gives the entry offsets for one key/value codec pair.
type layout struct {
	ks, vs uint64
	next   uint64 // offset of the next pointer
	valid  uint64 // offset of the valid flag, heads only
	node   uint64 // size of a chained node
	head   uint64 // size of a bucket head
}

func newLayout(keySize, valueSize int) layout {
	next := format.Align8(uint64(keySize + valueSize))
	return layout{
		ks:    uint64(keySize),
		vs:    uint64(valueSize),
		next:  next,
		valid: next + 8,
		node:  next + 8,
		head:  next + 16,
	}
}
