package replica

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/pmemkit/container"
	"github.com/joshuapare/pmemkit/pool"
)

func newPool(t *testing.T) *pool.Pool {
	t.Helper()
	p, err := pool.NewMemory(pool.Options{HeapSize: 4 << 20})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func allocated(t *testing.T, p *pool.Pool) int {
	t.Helper()
	st, err := p.Stats()
	require.NoError(t, err)
	return st.Usage.AllocatedCells
}

func TestStorage_ReopenKeepsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replica.pool")
	p, err := pool.Create(path, pool.Options{HeapSize: 4 << 20})
	require.NoError(t, err)

	s, err := Open(p)
	require.NoError(t, err)
	require.Equal(t, s.Ref(), p.Root())
	require.Zero(t, s.ExecuteUB())

	require.NoError(t, s.SetExecuteUB(10))
	require.NoError(t, s.IncrementExecuteUB())
	require.NoError(t, s.SetServiceSeqNo(100))
	n, err := s.IncServiceSeqNo()
	require.NoError(t, err)
	require.Equal(t, int64(101), n)
	for _, id := range []int32{12, 14, 13} {
		require.NoError(t, s.AddDecided(id))
	}
	require.NoError(t, s.SetLastReply(7, 3, []byte("seven")))
	require.NoError(t, s.SetSnapshotToRestore([]string{"/tmp/a", "/tmp/b"}))
	require.NoError(t, s.Paxos().SetView(4))
	require.NoError(t, p.Close())

	p, err = pool.Open(path, pool.Options{})
	require.NoError(t, err)
	defer p.Close()
	s, err = Open(p)
	require.NoError(t, err)

	require.Equal(t, int32(11), s.ExecuteUB())
	require.Equal(t, int64(101), s.ServiceSeqNo())
	require.Equal(t, []int32{12, 13, 14}, s.Decided())
	require.True(t, s.IsDecided(13))
	require.Equal(t, int32(3), s.LastReplySeq(7))
	r, ok := s.LastReply(7)
	require.True(t, ok)
	require.Equal(t, Reply{ClientID: 7, SeqNo: 3, Value: []byte("seven")}, r)
	require.Nil(t, s.SnapshotToRestore())
	require.NoError(t, s.ArmSnapshot())
	require.Equal(t, []string{"/tmp/a", "/tmp/b"}, s.SnapshotToRestore())
	require.Equal(t, int32(4), s.Paxos().View())
}

func TestStorage_NotReplica(t *testing.T) {
	p := newPool(t)
	require.NoError(t, p.Update(func() error {
		ref, err := p.Alloc(16, container.TagBlock)
		if err != nil {
			return err
		}
		return p.SetRoot(ref)
	}))
	_, err := Open(p)
	require.ErrorIs(t, err, ErrNotReplica)
}

func TestStorage_ReleaseDecidedUpTo(t *testing.T) {
	p := newPool(t)
	s, err := Open(p)
	require.NoError(t, err)
	for id := range int32(10) {
		require.NoError(t, s.AddDecided(id))
	}
	require.NoError(t, s.ReleaseDecided(9))
	require.NoError(t, s.ReleaseDecidedUpTo(5))
	require.Equal(t, []int32{5, 6, 7, 8}, s.Decided())
	require.Equal(t, 4, s.DecidedCount())
	require.False(t, s.IsDecided(4))

	require.NoError(t, s.ReleaseDecidedUpTo(0))
	require.Equal(t, 4, s.DecidedCount())
}

func TestStorage_ReplyBlocksAreRecycled(t *testing.T) {
	p := newPool(t)
	s, err := Open(p)
	require.NoError(t, err)

	require.NoError(t, s.SetLastReply(1, 1, []byte("0123456789abcdef")))
	require.NoError(t, s.SetLastReply(1, 2, []byte("fedcba9876543210")))
	steady := allocated(t, p)

	for seq := int32(3); seq < 10; seq++ {
		require.NoError(t, s.SetLastReply(1, seq, bytes.Repeat([]byte{byte(seq)}, 16)))
		require.Equal(t, steady, allocated(t, p))
	}
	r, ok := s.LastReply(1)
	require.True(t, ok)
	require.Equal(t, int32(9), r.SeqNo)
	require.Equal(t, bytes.Repeat([]byte{9}, 16), r.Value)
	require.Equal(t, 1, s.blocks.Len(16))

	require.Equal(t, int32(-1), s.LastReplySeq(2))
	_, ok = s.LastReply(2)
	require.False(t, ok)
}

func TestStorage_AbortedReplyKeepsPrevious(t *testing.T) {
	p := newPool(t)
	s, err := Open(p)
	require.NoError(t, err)
	require.NoError(t, s.SetLastReply(1, 1, []byte("aaaa")))
	require.NoError(t, s.SetLastReply(1, 2, []byte("bbbb")))

	boom := errors.New("boom")
	err = p.Update(func() error {
		if err := s.SetLastReply(1, 3, []byte("cccc")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	r, ok := s.LastReply(1)
	require.True(t, ok)
	require.Equal(t, int32(2), r.SeqNo)
	require.Equal(t, []byte("bbbb"), r.Value)
	require.Equal(t, 1, s.blocks.Len(4))

	// The recycled block still holds the earlier reply's slot and can be
	// taken again.
	require.NoError(t, s.SetLastReply(1, 3, []byte("cccc")))
	r, _ = s.LastReply(1)
	require.Equal(t, []byte("cccc"), r.Value)
}

func TestStorage_EmptyReplyValue(t *testing.T) {
	p := newPool(t)
	s, err := Open(p)
	require.NoError(t, err)
	require.NoError(t, s.SetLastReply(5, 1, nil))
	r, ok := s.LastReply(5)
	require.True(t, ok)
	require.Empty(t, r.Value)
	require.NoError(t, s.SetLastReply(5, 2, []byte("x")))
	require.NoError(t, s.SetLastReply(5, 3, nil))
	require.Equal(t, 1, s.blocks.Len(1))
}

func TestStorage_DropAllReplies(t *testing.T) {
	p := newPool(t)
	s, err := Open(p)
	require.NoError(t, err)
	for c := range int64(5) {
		require.NoError(t, s.SetLastReply(c, int32(c), []byte("reply")))
	}
	require.Len(t, s.AllReplies(), 5)

	require.NoError(t, s.DropAllReplies())
	require.Empty(t, s.AllReplies())
	require.Equal(t, int32(-1), s.LastReplySeq(3))
	require.Equal(t, 5, s.blocks.Len(5))
}

func TestStorage_SnapshotFiles(t *testing.T) {
	p := newPool(t)
	s, err := Open(p)
	require.NoError(t, err)
	before := allocated(t, p)

	dir := t.TempDir()
	var paths []string
	for _, name := range []string{"snap.0", "snap.1"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("state"), 0o644))
		paths = append(paths, path)
	}
	missing := filepath.Join(dir, "never-written")
	require.NoError(t, s.SetSnapshotToRestore(append(paths, missing)))
	require.Nil(t, s.SnapshotToRestore())

	require.NoError(t, s.ArmSnapshot())
	require.Equal(t, append(paths, missing), s.SnapshotToRestore())

	require.NoError(t, s.RemoveSnapshotToRestore())
	require.False(t, s.SnapshotArmed())
	require.Nil(t, s.SnapshotToRestore())
	for _, path := range paths {
		require.NoFileExists(t, path)
	}
	require.Equal(t, before, allocated(t, p))
}

func TestStorage_CellsCoverHeap(t *testing.T) {
	p := newPool(t)
	s, err := Open(p)
	require.NoError(t, err)
	require.NoError(t, s.AddDecided(1))
	require.NoError(t, s.SetLastReply(1, 1, []byte("one")))
	require.NoError(t, s.SetLastReply(1, 2, []byte("two")))
	require.NoError(t, s.SetSnapshotToRestore([]string{"/x"}))

	cells := slices.Collect(s.Cells())
	require.Len(t, cells, allocated(t, p))
	slices.Sort(cells)
	require.Len(t, slices.Compact(cells), allocated(t, p), "no cell listed twice")
}

func TestStorage_Dump(t *testing.T) {
	p := newPool(t)
	s, err := Open(p)
	require.NoError(t, err)
	require.NoError(t, s.SetExecuteUB(3))
	require.NoError(t, s.AddDecided(5))
	require.NoError(t, s.AddDecided(4))
	require.NoError(t, s.SetLastReply(9, 2, []byte("r")))
	require.NoError(t, s.SetLastReply(8, 1, []byte("r")))
	require.NoError(t, s.SetSnapshotToRestore([]string{"/snap"}))

	var buf bytes.Buffer
	require.NoError(t, s.Dump(&buf))
	out := buf.String()
	require.Contains(t, out, "ExecuteUB: 3\n")
	require.Contains(t, out, "Decided waiting for execution: 4 5\n")
	require.Contains(t, out, "8:1 9:2 \n")
	require.Contains(t, out, "There are 1 service snapshot files to restore (unarmed)\n  * /snap\n")
	require.Contains(t, out, "ProposerState: INACTIVE")
}
