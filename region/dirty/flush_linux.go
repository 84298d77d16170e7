//go:build linux

package dirty

import (
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// sync msyncs data[start:end]. Linux accepts sub-slices of the mapping.
func (t *Tracker) sync(data []byte, start, end int64) error {
	return unix.Msync(data[start:end], unix.MS_SYNC)
}

var fence atomic.Uint64

// drain is a full barrier. MS_SYNC has already waited for the device.
func drain() { fence.Add(1) }

// fdatasync syncs file data. fullfsync is ignored on Linux.
func fdatasync(fd int, _ bool) error {
	if fd < 0 {
		return nil
	}
	return unix.Fdatasync(fd)
}
