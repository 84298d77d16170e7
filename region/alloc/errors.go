package alloc

import "errors"

var (
	// ErrTooLarge indicates a request beyond the maximum cell size.
	ErrTooLarge = errors.New("alloc: request exceeds maximum cell size")

	// ErrBadRef indicates an invalid or out-of-bounds cell reference.
	ErrBadRef = errors.New("alloc: bad cell reference")

	// ErrGrowFail indicates that growing the region failed.
	ErrGrowFail = errors.New("alloc: grow failed")

	// ErrNotAllocated indicates a Free of a cell that is already free.
	ErrNotAllocated = errors.New("alloc: cell is not allocated")

	// ErrCorrupt indicates the heap walk found an impossible cell header.
	ErrCorrupt = errors.New("alloc: corrupt heap")
)
