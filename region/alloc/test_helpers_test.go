package alloc

import (
	"testing"

	"github.com/joshuapare/pmemkit/internal/format"
	"github.com/joshuapare/pmemkit/region"
)

// mockJournal records what the allocator asked to journal.
type mockJournal struct {
	r         *region.Region
	snapshots []span
	fresh     []span
	saved     map[uint64][]byte
}

type span struct{ off, n uint64 }

func newMockJournal(r *region.Region) *mockJournal {
	return &mockJournal{r: r, saved: map[uint64][]byte{}}
}

func (m *mockJournal) Snapshot(off, n uint64) error {
	m.snapshots = append(m.snapshots, span{off, n})
	if _, ok := m.saved[off]; !ok {
		m.saved[off] = append([]byte(nil), m.r.Bytes()[off:off+n]...)
	}
	return nil
}

func (m *mockJournal) Fresh(off, n uint64) {
	m.fresh = append(m.fresh, span{off, n})
}

// undo restores every snapshotted range, emulating an abort.
func (m *mockJournal) undo() {
	for off, b := range m.saved {
		copy(m.r.Bytes()[off:], b)
	}
	m.saved = map[uint64][]byte{}
}

func newTestAllocator(t testing.TB, heap uint64) (*Allocator, *mockJournal) {
	t.Helper()
	r := region.NewMemory(region.Options{HeapSize: heap, LogSize: format.PageSize})
	j := newMockJournal(r)
	a, err := New(r, j, Options{GrowChunk: format.PageSize})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, j
}
