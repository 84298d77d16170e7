//go:build linux || darwin

package region

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Create makes a new region file at path and maps it read-write.
// It fails if the file already exists.
func Create(path string, opts Options) (*Region, error) {
	opts = opts.withDefaults()
	logOff, heapOff, total := layoutFor(opts)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(int64(total)); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("region: size new file: %w", err)
	}

	window, err := mapFile(f, max(int64(total), int64(opts.Reserve)))
	if err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, err
	}
	initHeader(window, opts, logOff, heapOff)

	r := &Region{f: f, path: path, reserve: int64(opts.Reserve)}
	r.bind(window, int64(total))
	return r, nil
}

// Open maps an existing region file read-write and validates its header.
// Trailing space past the heap end is kept: the allocator reuses it on growth.
// reserve has the same meaning as Options.Reserve.
func Open(path string, reserve uint64) (*Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}

	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	sz := st.Size()
	if sz == 0 {
		_ = f.Close()
		return nil, fmt.Errorf("region: empty file: %s", path)
	}

	reserveLen := int64(Options{Reserve: reserve}.withDefaults().Reserve)
	window, err := mapFile(f, max(sz, reserveLen))
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	hdr, err := ParseHeader(window[:sz])
	if err == nil {
		err = hdr.ValidateSanity(sz)
	}
	if err != nil {
		_ = unix.Munmap(window)
		_ = f.Close()
		return nil, err
	}

	r := &Region{f: f, path: path, reserve: reserveLen}
	r.bind(window, sz)
	return r, nil
}

// Close unmaps the region and closes the backing file.
func (r *Region) Close() error {
	if r.mem {
		r.window = nil
		return nil
	}
	var err error
	if r.window != nil {
		_ = unix.Munmap(r.window)
		r.window = nil
	}
	if r.f != nil {
		err = r.f.Close()
		r.f = nil
	}
	return err
}

// Append grows the region by n zeroed bytes. Within the reservation only the
// file grows; beyond it the region is unmapped and mapped again.
func (r *Region) Append(n int64) error {
	if r == nil || r.window == nil {
		return errors.New("region: cannot append to nil or closed region")
	}
	if n <= 0 {
		return nil
	}
	if r.mem {
		return r.appendMemory(n)
	}

	oldSize := r.Size()
	newSize := oldSize + n

	if err := r.f.Truncate(newSize); err != nil {
		return fmt.Errorf("region: failed to extend file: %w", err)
	}
	if newSize <= int64(len(r.window)) {
		r.size.Store(newSize)
		return nil
	}

	if err := unix.Munmap(r.window); err != nil {
		return fmt.Errorf("region: failed to unmap before grow: %w", err)
	}
	r.window = nil

	window, err := mapFile(r.f, max(newSize, r.reserve))
	if err != nil {
		// Try to map the old size again so the region stays usable.
		if old, rerr := mapFile(r.f, oldSize); rerr == nil {
			r.bind(old, oldSize)
		}
		return fmt.Errorf("region: failed to remap after grow: %w", err)
	}
	r.bind(window, newSize)
	return nil
}

func mapFile(f *os.File, size int64) ([]byte, error) {
	data, err := unix.Mmap(
		int(f.Fd()),
		0,
		int(size),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED,
	)
	if err != nil {
		return nil, fmt.Errorf("region: mmap failed: %w", err)
	}
	return data, nil
}
