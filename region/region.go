package region

import (
	"os"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/joshuapare/pmemkit/internal/format"
)

// Ref is an absolute byte offset of a cell payload inside a region.
// The zero Ref is nil: offset 0 is the header and never holds a cell.
type Ref uint64

// Nil is the null reference.
const Nil Ref = 0

// IsNil reports whether r is the null reference.
func (r Ref) IsNil() bool { return r == Nil }

const (
	// DefaultHeapSize is the heap reserved at creation.
	DefaultHeapSize = 1 << 20

	// DefaultLogSize is the size of the undo-log area.
	DefaultLogSize = 4 << 20
)

// Options configures region creation. Zero values select the defaults.
type Options struct {
	HeapSize uint64 // Initial heap reservation. Default: DefaultHeapSize
	LogSize  uint64 // Undo-log area size. Default: DefaultLogSize
	Layout   string // Free-form layout name, truncated to 32 bytes

	// Reserve is the address space mapped up front. Growth within the
	// reservation extends the file without remapping, so slices returned by
	// Bytes() stay valid and concurrent readers never see an unmap.
	// Default: 0 (map exactly the file size, remap on every growth).
	Reserve uint64
}

func (o Options) withDefaults() Options {
	if o.HeapSize == 0 {
		o.HeapSize = DefaultHeapSize
	}
	if o.LogSize == 0 {
		o.LogSize = DefaultLogSize
	}
	o.HeapSize = format.AlignPage(o.HeapSize)
	o.LogSize = format.AlignPage(o.LogSize)
	o.Reserve = format.AlignPage(o.Reserve)
	return o
}

// Region is an opened durable region, backed by mmap (unix) or a byte slice.
type Region struct {
	f       *os.File
	path    string
	window  []byte // whole mapping, len == reserved address space
	size    atomic.Int64
	reserve int64
	mem     bool
	gen     uint64
	hdr     Header
}

// Bytes returns the current view of the region. It is invalidated by an
// Append that has to remap.
func (r *Region) Bytes() []byte {
	if r.window == nil {
		return nil
	}
	return r.window[:r.size.Load()]
}

// Size returns the usable length in bytes.
func (r *Region) Size() int64 { return r.size.Load() }

// Reserved returns the size of the mapped window.
func (r *Region) Reserved() int64 { return int64(len(r.window)) }

// Path returns the backing file path, or "" for heap-backed regions.
func (r *Region) Path() string { return r.path }

// IsMemory reports whether the region is heap-backed.
func (r *Region) IsMemory() bool { return r.mem }

// Generation is incremented every time the region is remapped.
// Handles caching slices compare it to detect staleness.
func (r *Region) Generation() uint64 { return r.gen }

// FD returns the backing file descriptor, or -1 for heap-backed regions.
func (r *Region) FD() int {
	if r == nil || r.f == nil {
		return -1
	}
	return int(r.f.Fd())
}

// Header returns a view of the header page.
func (r *Region) Header() Header { return r.hdr }

// UUID returns the pool identity written at creation.
func (r *Region) UUID() uuid.UUID { return r.hdr.UUID() }

// HeapStart returns the absolute offset of the first heap cell.
func (r *Region) HeapStart() uint64 { return r.hdr.HeapOffset() }

// HeapEnd returns the absolute end of the heap.
func (r *Region) HeapEnd() uint64 { return r.hdr.HeapEnd() }

// Root returns the application root reference.
func (r *Region) Root() Ref { return Ref(r.hdr.RootRef()) }

// LogArea returns the absolute offset and size of the undo-log area.
func (r *Region) LogArea() (off, size uint64) {
	return r.hdr.LogOffset(), r.hdr.LogSize()
}

// Clone returns a heap-backed copy of the region's current bytes. Writes that
// have not been flushed are included, which makes a clone taken inside a
// transaction the worst case a crash can leave behind.
func (r *Region) Clone() []byte {
	data := r.Bytes()
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

// bind installs a new window and re-wraps the header view.
func (r *Region) bind(window []byte, size int64) {
	r.window = window
	r.size.Store(size)
	r.hdr = Header{raw: window[:format.HeaderSize]}
	r.gen++
}
