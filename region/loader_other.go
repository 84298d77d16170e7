//go:build !linux && !darwin

package region

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Create makes a new region file at path. On platforms without mmap the
// region is held in memory and written back by region/dirty on flush.
func Create(path string, opts Options) (*Region, error) {
	opts = opts.withDefaults()
	logOff, heapOff, total := layoutFor(opts)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	window := make([]byte, max(total, opts.Reserve))
	initHeader(window, opts, logOff, heapOff)
	if _, err := f.Write(window[:total]); err != nil {
		f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("region: write new file: %w", err)
	}

	r := &Region{f: f, path: path, reserve: int64(opts.Reserve)}
	r.bind(window, int64(total))
	return r, nil
}

// Open loads the region into memory on non-unix platforms.
func Open(path string, reserve uint64) (*Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	sz := st.Size()
	if sz == 0 {
		f.Close()
		return nil, fmt.Errorf("region: empty file: %s", path)
	}

	reserveLen := int64(Options{Reserve: reserve}.withDefaults().Reserve)
	window := make([]byte, max(sz, reserveLen))
	if _, err := io.ReadFull(f, window[:sz]); err != nil {
		f.Close()
		return nil, err
	}

	hdr, err := ParseHeader(window[:sz])
	if err == nil {
		err = hdr.ValidateSanity(sz)
	}
	if err != nil {
		f.Close()
		return nil, err
	}

	r := &Region{f: f, path: path, reserve: reserveLen}
	r.bind(window, sz)
	return r, nil
}

func (r *Region) Close() error {
	var err error
	if r.f != nil {
		err = r.f.Close()
		r.f = nil
	}
	r.window = nil
	return err
}

// Append grows the region by n bytes. The new bytes are zero-initialized.
func (r *Region) Append(n int64) error {
	if r == nil || r.window == nil {
		return errors.New("region: cannot append to nil or closed region")
	}
	if n <= 0 {
		return nil
	}
	if !r.mem {
		if err := r.f.Truncate(r.Size() + n); err != nil {
			return fmt.Errorf("region: failed to extend file: %w", err)
		}
	}
	return r.appendMemory(n)
}

// WriteAt copies a byte range of the in-memory image back to the file.
// region/dirty uses it in place of msync.
func (r *Region) WriteAt(off, n int64) error {
	if r.f == nil || r.mem {
		return nil
	}
	_, err := r.f.WriteAt(r.window[off:off+n], off)
	return err
}
