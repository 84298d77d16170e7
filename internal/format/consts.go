// Package format houses the low-level layout of a pmemkit region: the header
// page, the undo-log area and the cell headers of the heap. Everything here is
// allocation-free and independent from the public API so higher-level packages
// can build on the raw bytes directly.
package format

var (
	// Magic is the four-byte signature at the start of every region file.
	// Layout:
	//   0x00  'P' 'M' 'K' 'T'
	Magic = []byte{'P', 'M', 'K', 'T'}
)

const (
	// Version is the on-media layout version written at creation.
	Version = 1

	// HeaderSize is the size of the region header in bytes (one page).
	HeaderSize = 4096

	// PageSize is the flush and growth granularity.
	PageSize = 4096

	// PageAlignmentMask is the bitmask used for aligning to page boundaries.
	PageAlignmentMask = PageSize - 1

	// CellHeaderSize is the number of bytes preceding every cell payload:
	// a signed 32-bit size (negative = allocated) and a 32-bit tag.
	CellHeaderSize = 8

	// CellAlignment is the required alignment of cells and payloads.
	CellAlignment = 8

	// CellAlignmentMask is the bitmask used for aligning to 8-byte boundaries.
	CellAlignmentMask = CellAlignment - 1

	// MinCellSize is the smallest legal cell (header plus one word).
	MinCellSize = 16

	// MaxCellSize bounds a single cell; the size field is an int32.
	MaxCellSize = 0x7FFFFFF8

	// LayoutNameSize is the capacity of the layout name field.
	LayoutNameSize = 32
)

// Header field offsets. All integers are little-endian.
const (
	MagicOffset        = 0x00 // [4]byte
	MagicSize          = 4
	VersionOffset      = 0x04 // u32
	UUIDOffset         = 0x08 // [16]byte
	UUIDSize           = 16
	PrimarySeqOffset   = 0x18 // u64, bumped by Begin
	SecondarySeqOffset = 0x20 // u64, set equal to primary by Commit
	HeapEndOffset      = 0x28 // u64, absolute end of the heap
	RootRefOffset      = 0x30 // u64, application root cell
	LogOffsetOffset    = 0x38 // u64, start of undo-log area
	LogSizeOffset      = 0x40 // u64, size of undo-log area
	HeapOffsetOffset   = 0x48 // u64, start of heap
	CreatedOffset      = 0x50 // u64, unix nanoseconds
	LayoutNameOffset   = 0x58 // [32]byte
	ChecksumOffset     = 0x1FC

	// ChecksumDwords is the number of dwords covered by the header checksum.
	ChecksumDwords = ChecksumOffset / 4

	// ChecksumRegionLen is the byte length covered by the header checksum.
	ChecksumRegionLen = ChecksumOffset
)

// Undo-log layout. The log area starts with a 16-byte header followed by
// entries of [u64 off][u64 len][payload padded to 8 bytes].
const (
	LogUsedOffset     = 0x00 // u64, bytes of entries published
	LogSeqOffset      = 0x08 // u64, transaction sequence owning the log
	LogHeaderSize     = 0x10
	LogEntryHeaderLen = 0x10
)
