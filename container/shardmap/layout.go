package shardmap

// Header cell.
const (
	hdrShards  = 0x00 // u64 shard count, a power of two
	hdrTable   = 0x08 // u64 shard table ref
	hdrKeySize = 0x10 // u32
	hdrValSize = 0x14 // u32
	hdrMagic   = 0x18 // u32
	headerSize = 0x20

	shardMagic uint32 = 0x50414D53 // "SMAP"
)

// Shard record, one per shard in the table cell.
const (
	shBuckets  = 0x00 // u64 bucket count
	shArray    = 0x08 // u64 bucket array ref
	shCount    = 0x10 // u64 elements
	recordSize = 0x18
)

// Bucket, one per bucket in a shard's array.
const (
	bkLen      = 0x00 // u64 chain length
	bkHead     = 0x08 // u64 first node
	bucketSize = 0x10
)

// Node.
const (
	ndNext = 0x00 // u64
	ndHash = 0x08 // u64 full hash, used to relink on resize
	ndKey  = 0x10
)

const (
	loadNum     = 7 // resize above loadNum/loadDen elements per bucket
	loadDen     = 10
	growFactor  = 4
	maxShards   = 1 << 16
	minBuckets  = 4
	defaultSize = 16
)
