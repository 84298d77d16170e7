package replica

import (
	"bytes"
	"cmp"
	"fmt"
	"io"
	"slices"

	"github.com/joshuapare/pmemkit/container"
)

// Dump prints the replica state for diagnostics.
func (s *Storage) Dump(w io.Writer) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "ExecuteUB: %d\nServiceSeqNo: %d\n", s.ExecuteUB(), s.ServiceSeqNo())

	buf.WriteString("Decided waiting for execution:")
	for _, id := range s.Decided() {
		fmt.Fprintf(&buf, " %d", id)
	}
	buf.WriteString("\n")

	buf.WriteString("Map of last replies:\n")
	replies := s.AllReplies()
	slices.SortFunc(replies, func(a, b Reply) int { return cmp.Compare(a.ClientID, b.ClientID) })
	for _, r := range replies {
		fmt.Fprintf(&buf, "%d:%d ", r.ClientID, r.SeqNo)
	}
	buf.WriteString("\n")

	state := "unarmed"
	if s.SnapshotArmed() {
		state = "ARMED"
	}
	paths := s.snapshotPaths()
	container.Printer().Fprintf(&buf, "There are %d service snapshot files to restore (%s)\n", len(paths), state)
	for _, path := range paths {
		buf.WriteString("  * " + path + "\n")
	}

	if err := s.paxos.Dump(&buf); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}
