package verify

import (
	"bytes"
	"context"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"github.com/joshuapare/pmemkit/internal/format"
)

// ValidationError describes a failed invariant.
type ValidationError struct {
	Type    string
	Message string
	Offset  int64
	Details map[string]any
}

func (e *ValidationError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("%s at offset 0x%X: %s", e.Type, e.Offset, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// HeapReport summarizes a heap walk.
type HeapReport struct {
	Cells          int
	AllocatedCells int
	FreeCells      int
	AllocatedBytes uint64
	FreeBytes      uint64
	Tags           map[uint32]int // allocated cells per tag

	// Allocated holds the payload offset / 8 of every allocated cell.
	Allocated *roaring.Bitmap
}

// Report is the combined result of Run.
type Report struct {
	Heap     HeapReport
	Leaked   []uint64 // allocated payload refs not reachable
	Dangling []uint64 // reachable refs that are not allocated payloads
}

// CellKey maps a payload reference to its bitmap key.
func CellKey(ref uint64) uint32 { return uint32(ref >> 3) }

// AllInvariants validates header, heap and log in one call.
func AllInvariants(data []byte) error {
	if err := Header(data); err != nil {
		return err
	}
	if _, err := Heap(data); err != nil {
		return err
	}
	return Log(data)
}

// Header validates the header page.
func Header(data []byte) error {
	if len(data) < format.HeaderSize {
		return &ValidationError{
			Type:    "Header",
			Message: fmt.Sprintf("file too small: %d bytes (need %d)", len(data), format.HeaderSize),
			Offset:  -1,
		}
	}
	if !bytes.Equal(data[format.MagicOffset:format.MagicOffset+format.MagicSize], format.Magic) {
		return &ValidationError{
			Type:    "Header",
			Message: fmt.Sprintf("invalid magic: %q", data[:format.MagicSize]),
			Offset:  format.MagicOffset,
		}
	}
	if v := format.ReadU32(data, format.VersionOffset); v != format.Version {
		return &ValidationError{
			Type:    "Header",
			Message: fmt.Sprintf("unsupported version %d", v),
			Offset:  format.VersionOffset,
		}
	}

	size := uint64(len(data))
	logOff := format.ReadU64(data, format.LogOffsetOffset)
	logSize := format.ReadU64(data, format.LogSizeOffset)
	heapOff := format.ReadU64(data, format.HeapOffsetOffset)
	heapEnd := format.ReadU64(data, format.HeapEndOffset)

	switch {
	case logOff < format.HeaderSize || logOff%format.PageSize != 0:
		return &ValidationError{Type: "Header", Message: fmt.Sprintf("bad log offset 0x%X", logOff), Offset: format.LogOffsetOffset}
	case logSize < format.LogHeaderSize:
		return &ValidationError{Type: "Header", Message: fmt.Sprintf("log area too small: %d", logSize), Offset: format.LogSizeOffset}
	case heapOff < logOff+logSize:
		return &ValidationError{Type: "Header", Message: "heap overlaps log area", Offset: format.HeapOffsetOffset}
	case heapEnd < heapOff || heapEnd > size:
		return &ValidationError{
			Type:    "Header",
			Message: fmt.Sprintf("heap end 0x%X outside [0x%X, 0x%X]", heapEnd, heapOff, size),
			Offset:  format.HeapEndOffset,
		}
	}

	primary := format.ReadU64(data, format.PrimarySeqOffset)
	secondary := format.ReadU64(data, format.SecondarySeqOffset)
	if primary != secondary {
		return &ValidationError{
			Type:    "Header",
			Message: fmt.Sprintf("sequence mismatch: primary=%d secondary=%d", primary, secondary),
			Offset:  format.PrimarySeqOffset,
			Details: map[string]any{"primary": primary, "secondary": secondary},
		}
	}
	if stored, want := format.ReadU32(data, format.ChecksumOffset), format.HeaderChecksum(data); stored != want {
		return &ValidationError{
			Type:    "Header",
			Message: fmt.Sprintf("checksum mismatch: stored=0x%08X computed=0x%08X", stored, want),
			Offset:  format.ChecksumOffset,
		}
	}

	if root := format.ReadU64(data, format.RootRefOffset); root != 0 && (root < heapOff+format.CellHeaderSize || root >= heapEnd) {
		return &ValidationError{Type: "Header", Message: fmt.Sprintf("root 0x%X outside heap", root), Offset: format.RootRefOffset}
	}
	return nil
}

// Heap walks every cell and checks that they tile the heap.
func Heap(data []byte) (HeapReport, error) {
	rep := HeapReport{Tags: map[uint32]int{}, Allocated: roaring.New()}
	if len(data) < format.HeaderSize {
		return rep, &ValidationError{Type: "Heap", Message: "file too small", Offset: -1}
	}

	start := format.ReadU64(data, format.HeapOffsetOffset)
	end := format.ReadU64(data, format.HeapEndOffset)
	if end > uint64(len(data)) || start > end {
		return rep, &ValidationError{Type: "Heap", Message: "heap bounds outside file", Offset: -1}
	}

	for off := start; off < end; {
		if off+format.CellHeaderSize > end {
			return rep, &ValidationError{Type: "Heap", Message: "truncated cell header", Offset: int64(off)}
		}
		raw := format.ReadI32(data, off)
		allocated := raw < 0
		size := uint64(raw)
		if allocated {
			size = uint64(-int64(raw))
		}
		if size < format.MinCellSize || size%format.CellAlignment != 0 {
			return rep, &ValidationError{
				Type:    "Heap",
				Message: fmt.Sprintf("invalid cell size %d", raw),
				Offset:  int64(off),
			}
		}
		if off+size > end {
			return rep, &ValidationError{
				Type:    "Heap",
				Message: fmt.Sprintf("cell of %d bytes crosses heap end 0x%X", size, end),
				Offset:  int64(off),
			}
		}

		rep.Cells++
		if allocated {
			rep.AllocatedCells++
			rep.AllocatedBytes += size
			rep.Tags[format.ReadU32(data, off+4)]++
			rep.Allocated.Add(CellKey(off + format.CellHeaderSize))
		} else {
			if tag := format.ReadU32(data, off+4); tag != 0 {
				return rep, &ValidationError{
					Type:    "Heap",
					Message: fmt.Sprintf("free cell carries tag %d", tag),
					Offset:  int64(off),
				}
			}
			rep.FreeCells++
			rep.FreeBytes += size
		}
		off += size
	}
	return rep, nil
}

// Log checks that an idle region has an empty undo log.
func Log(data []byte) error {
	logOff := format.ReadU64(data, format.LogOffsetOffset)
	if logOff+format.LogHeaderSize > uint64(len(data)) {
		return &ValidationError{Type: "Log", Message: "log header outside file", Offset: int64(logOff)}
	}
	if used := format.ReadU64(data, logOff+format.LogUsedOffset); used != 0 {
		return &ValidationError{
			Type:    "Log",
			Message: fmt.Sprintf("undo log holds %d bytes; region needs recovery", used),
			Offset:  int64(logOff),
		}
	}
	return nil
}

// Reachability compares the allocated cells against the reachable set.
func Reachability(allocated, reachable *roaring.Bitmap) (leaked, dangling []uint64) {
	for _, k := range roaring.AndNot(allocated, reachable).ToArray() {
		leaked = append(leaked, uint64(k)<<3)
	}
	for _, k := range roaring.AndNot(reachable, allocated).ToArray() {
		dangling = append(dangling, uint64(k)<<3)
	}
	return leaked, dangling
}

// ReachableFunc enumerates every cell the containers own.
type ReachableFunc func(ctx context.Context) (*roaring.Bitmap, error)

// Run validates the image and, if reachable is non-nil, cross-checks it
// against the heap. Header, heap and reachability run concurrently.
func Run(ctx context.Context, data []byte, reachable ReachableFunc) (Report, error) {
	var (
		rep  Report
		seen *roaring.Bitmap
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return Header(data) })
	g.Go(func() error { return Log(data) })
	g.Go(func() error {
		h, err := Heap(data)
		rep.Heap = h
		return err
	})
	if reachable != nil {
		g.Go(func() error {
			bm, err := reachable(gctx)
			seen = bm
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return rep, err
	}

	if seen != nil {
		rep.Leaked, rep.Dangling = Reachability(rep.Heap.Allocated, seen)
		if len(rep.Dangling) > 0 {
			return rep, &ValidationError{
				Type:    "Reachability",
				Message: fmt.Sprintf("%d references to unallocated cells", len(rep.Dangling)),
				Offset:  int64(rep.Dangling[0]),
			}
		}
		if len(rep.Leaked) > 0 {
			return rep, &ValidationError{
				Type:    "Reachability",
				Message: fmt.Sprintf("%d allocated cells unreachable", len(rep.Leaked)),
				Offset:  int64(rep.Leaked[0]),
			}
		}
	}
	return rep, nil
}
