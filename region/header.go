package region

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/joshuapare/pmemkit/internal/format"
)

// ErrBadMagic indicates the file is not a pmemkit region.
var ErrBadMagic = errors.New("region: bad magic")

// Header is a zero-copy view of the 4 KiB header page.
type Header struct {
	raw []byte
}

// ParseHeader validates the magic and version and returns a header view.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < format.HeaderSize {
		return Header{}, fmt.Errorf("region: file too small for header (%d)", len(b))
	}
	if !bytes.Equal(b[format.MagicOffset:format.MagicOffset+format.MagicSize], format.Magic) {
		return Header{}, ErrBadMagic
	}
	h := Header{raw: b[:format.HeaderSize]}
	if v := h.Version(); v != format.Version {
		return Header{}, fmt.Errorf("region: unsupported version %d", v)
	}
	return h, nil
}

// Raw returns the raw header bytes.
func (h Header) Raw() []byte { return h.raw }

func (h Header) Version() uint32 { return format.ReadU32(h.raw, format.VersionOffset) }

// UUID returns the pool identity.
func (h Header) UUID() uuid.UUID {
	var id uuid.UUID
	copy(id[:], h.raw[format.UUIDOffset:format.UUIDOffset+format.UUIDSize])
	return id
}

// PrimarySeq is bumped when a transaction begins.
func (h Header) PrimarySeq() uint64 { return format.ReadU64(h.raw, format.PrimarySeqOffset) }

// SecondarySeq equals PrimarySeq once a transaction has committed.
func (h Header) SecondarySeq() uint64 { return format.ReadU64(h.raw, format.SecondarySeqOffset) }

// IsClean reports whether the last transaction committed.
func (h Header) IsClean() bool { return h.PrimarySeq() == h.SecondarySeq() }

func (h Header) HeapEnd() uint64    { return format.ReadU64(h.raw, format.HeapEndOffset) }
func (h Header) RootRef() uint64    { return format.ReadU64(h.raw, format.RootRefOffset) }
func (h Header) LogOffset() uint64  { return format.ReadU64(h.raw, format.LogOffsetOffset) }
func (h Header) LogSize() uint64    { return format.ReadU64(h.raw, format.LogSizeOffset) }
func (h Header) HeapOffset() uint64 { return format.ReadU64(h.raw, format.HeapOffsetOffset) }

// Created returns the creation time.
func (h Header) Created() time.Time {
	return time.Unix(0, int64(format.ReadU64(h.raw, format.CreatedOffset)))
}

// Layout returns the layout name with trailing zero bytes removed.
func (h Header) Layout() string {
	name := h.raw[format.LayoutNameOffset : format.LayoutNameOffset+format.LayoutNameSize]
	return string(bytes.TrimRight(name, "\x00"))
}

// StoredChecksum returns the checksum field.
func (h Header) StoredChecksum() uint32 { return format.ReadU32(h.raw, format.ChecksumOffset) }

// ChecksumOK reports whether the stored checksum matches the header contents.
// It is only meaningful when the region is clean.
func (h Header) ChecksumOK() bool {
	return h.StoredChecksum() == format.HeaderChecksum(h.raw)
}

// ValidateSanity checks that the layout fits into a file of the given size.
func (h Header) ValidateSanity(fileSize int64) error {
	size := uint64(fileSize)
	if h.LogOffset() < format.HeaderSize {
		return fmt.Errorf("region: log area (%d) overlaps header", h.LogOffset())
	}
	if h.HeapOffset() < h.LogOffset()+h.LogSize() {
		return fmt.Errorf("region: heap (%d) overlaps log area", h.HeapOffset())
	}
	if h.HeapEnd() < h.HeapOffset() {
		return fmt.Errorf("region: heap end (%d) before heap start (%d)", h.HeapEnd(), h.HeapOffset())
	}
	if h.HeapEnd() > size {
		return fmt.Errorf("region: reported heap end (%d) > file size (%d)", h.HeapEnd(), size)
	}
	if root := h.RootRef(); root != 0 && (root < h.HeapOffset() || root >= h.HeapEnd()) {
		return fmt.Errorf("region: root ref (%d) outside heap", root)
	}
	return nil
}

// initHeader writes a fresh header for the given layout into b.
func initHeader(b []byte, opts Options, logOff, heapOff uint64) {
	copy(b[format.MagicOffset:], format.Magic)
	format.PutU32(b, format.VersionOffset, format.Version)
	id := uuid.New()
	copy(b[format.UUIDOffset:format.UUIDOffset+format.UUIDSize], id[:])
	format.PutU64(b, format.PrimarySeqOffset, 0)
	format.PutU64(b, format.SecondarySeqOffset, 0)
	format.PutU64(b, format.HeapEndOffset, heapOff)
	format.PutU64(b, format.RootRefOffset, 0)
	format.PutU64(b, format.LogOffsetOffset, logOff)
	format.PutU64(b, format.LogSizeOffset, opts.LogSize)
	format.PutU64(b, format.HeapOffsetOffset, heapOff)
	format.PutU64(b, format.CreatedOffset, uint64(time.Now().UnixNano()))
	name := []byte(opts.Layout)
	if len(name) > format.LayoutNameSize {
		name = name[:format.LayoutNameSize]
	}
	copy(b[format.LayoutNameOffset:format.LayoutNameOffset+format.LayoutNameSize], name)
	format.PutU32(b, format.ChecksumOffset, format.HeaderChecksum(b))
}

// layoutFor returns the log and heap offsets and the initial file size.
func layoutFor(opts Options) (logOff, heapOff, total uint64) {
	logOff = format.HeaderSize
	heapOff = logOff + opts.LogSize
	total = heapOff + opts.HeapSize
	return logOff, heapOff, total
}
