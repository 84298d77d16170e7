package replica

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joshuapare/pmemkit/container"
	"github.com/joshuapare/pmemkit/container/blockcache"
	"github.com/joshuapare/pmemkit/region"
)

// SetSnapshotToRestore appends paths to the list of service snapshot files
// to restore. The list is reported only once armed.
func (s *Storage) SetSnapshotToRestore(paths []string) error {
	return s.p.Update(func() error {
		for _, path := range paths {
			n := uint64(len(path))
			var ref region.Ref
			if n > 0 {
				var err error
				if ref, err = s.p.Alloc(n, container.TagPath); err != nil {
					return err
				}
				copy(s.p.Bytes()[ref:uint64(ref)+n], path)
			}
			if err := s.paths.PushBack(blockcache.Block{Ref: ref, Size: n}); err != nil {
				return err
			}
		}
		return nil
	})
}

// ArmSnapshot marks the recorded snapshot files as complete.
func (s *Storage) ArmSnapshot() error { return s.armed.Store(1) }

func (s *Storage) SnapshotArmed() bool { return s.armed.Load() != 0 }

// SnapshotToRestore returns the recorded paths, or nil unless armed.
func (s *Storage) SnapshotToRestore() []string {
	if !s.SnapshotArmed() {
		return nil
	}
	return s.snapshotPaths()
}

func (s *Storage) snapshotPaths() []string {
	var out []string
	data := s.p.Bytes()
	for b := range s.paths.All() {
		out = append(out, string(b.Bytes(data)))
	}
	return out
}

// RemoveSnapshotToRestore disarms the list, deletes the files and forgets
// them. Files that cannot be removed are logged and otherwise ignored.
func (s *Storage) RemoveSnapshotToRestore() error {
	return s.p.Update(func() error {
		if err := s.armed.Store(0); err != nil {
			return err
		}
		data := s.p.Bytes()
		for b := range s.paths.All() {
			if b.IsNil() {
				continue
			}
			path := string(b.Bytes(data))
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				s.log.Warn("cannot remove service snapshot", "path", path, "error", err)
			}
			if err := s.p.Free(b.Ref); err != nil {
				return err
			}
		}
		return s.paths.Clear()
	})
}

func (s *Storage) pathBlocks(yield func(region.Ref) bool) {
	for b := range s.paths.All() {
		if !b.IsNil() && !yield(b.Ref) {
			return
		}
	}
}
