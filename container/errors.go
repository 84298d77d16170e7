package container

import "errors"

var (
	// ErrLockNotReset is the panic value when a synchronized container is
	// locked before ResetLock after attaching to an existing region.
	ErrLockNotReset = errors.New("container: lock used before ResetLock")

	// ErrCorrupt is returned when a container header fails validation.
	ErrCorrupt = errors.New("container: corrupt header")

	// ErrCodecMismatch is returned when a container is opened with codecs
	// whose sizes differ from the ones it was created with.
	ErrCodecMismatch = errors.New("container: codec size mismatch")

	// ErrDestroyed is returned by operations on a destroyed container.
	ErrDestroyed = errors.New("container: destroyed")
)
