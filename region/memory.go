package region

import "fmt"

// NewMemory creates a heap-backed region. Nothing is ever written to disk.
func NewMemory(opts Options) *Region {
	opts = opts.withDefaults()
	logOff, heapOff, total := layoutFor(opts)
	window := make([]byte, max(total, opts.Reserve))
	initHeader(window, opts, logOff, heapOff)

	r := &Region{mem: true, reserve: int64(opts.Reserve)}
	r.bind(window, int64(total))
	return r
}

// FromBytes opens a heap-backed region over b, typically the result of
// Clone. The header is validated like Open does. b is used in place.
func FromBytes(b []byte) (*Region, error) {
	hdr, err := ParseHeader(b)
	if err != nil {
		return nil, err
	}
	if err := hdr.ValidateSanity(int64(len(b))); err != nil {
		return nil, err
	}
	r := &Region{mem: true}
	r.bind(b, int64(len(b)))
	return r, nil
}

// appendMemory grows a heap-backed window. Within the reservation the
// existing bytes are reused; otherwise they are copied to a larger slice.
func (r *Region) appendMemory(n int64) error {
	oldSize := r.Size()
	newSize := oldSize + n
	if newSize < oldSize {
		return fmt.Errorf("region: size overflow growing by %d", n)
	}
	if newSize <= int64(len(r.window)) {
		r.size.Store(newSize)
		return nil
	}
	window := make([]byte, max(newSize, r.reserve))
	copy(window, r.window[:oldSize])
	r.bind(window, newSize)
	return nil
}
