//go:build darwin

package dirty

import (
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// sync flushes the whole mapping: macOS msync requires the mmap base address.
// The kernel only writes pages that are actually dirty.
func (t *Tracker) sync(data []byte, _, _ int64) error {
	return unix.Msync(data, unix.MS_SYNC)
}

var fence atomic.Uint64

func drain() { fence.Add(1) }

// fdatasync uses F_FULLFSYNC when requested, fsync otherwise.
func fdatasync(fd int, fullfsync bool) error {
	if fd < 0 {
		return nil
	}
	if fullfsync {
		_, err := unix.FcntlInt(uintptr(fd), unix.F_FULLFSYNC, 0)
		return err
	}
	return unix.Fsync(fd)
}
