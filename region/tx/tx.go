package tx

import (
	"context"
	"fmt"

	"github.com/joshuapare/pmemkit/internal/format"
	"github.com/joshuapare/pmemkit/internal/logger"
	"github.com/joshuapare/pmemkit/region"
	"github.com/joshuapare/pmemkit/region/alloc"
	"github.com/joshuapare/pmemkit/region/dirty"
)

// Flusher is the part of dirty.Tracker the manager drives.
type Flusher interface {
	Add(off, length uint64)
	Flush(ctx context.Context, off, n uint64) error
	Drain()
	FlushDataOnly(ctx context.Context) error
	FlushHeaderAndMeta(ctx context.Context, mode dirty.FlushMode) error
	Reset()
}

// Options configures a Manager.
type Options struct {
	Mode   dirty.FlushMode
	Alloc  alloc.Options
	Logger *logger.Logger
}

// RecoveryInfo reports what Open found.
type RecoveryInfo struct {
	Recovered      bool   // an interrupted transaction was rolled back
	Seq            uint64 // sequence of the interrupted transaction
	EntriesUndone  int
	SequenceRepair bool // commit was durable but the header was not; fixed up
}

// Stats counts transaction outcomes.
type Stats struct {
	Begins       uint64
	Commits      uint64
	Aborts       uint64
	Snapshots    uint64
	LogBytes     uint64 // bytes appended to the undo log
	MaxLogUsed   uint64 // high-water mark of a single transaction
	DeferredFree uint64
}

// Manager runs undo-log transactions over a region and owns its allocator.
//
// Protocol:
//  1. Begin: bump PrimarySeq, stamp the log with the sequence
//  2. Snapshot(off, n): append [off][n][old bytes] to the log, flush it,
//     then publish the new log length; only then may the caller write
//  3. Commit: apply deferred frees, flush data, flush header, truncate the
//     log (the commit point), set SecondarySeq and the checksum, sync
//  4. Abort: copy every logged range back, flush, truncate the log,
//     rebuild the allocator's free lists
//
// Begin/Commit/Abort nest: only the outermost Commit does work. An inner
// Abort rolls back the whole transaction and makes the outer Commit return
// ErrAborted.
//
// The manager is NOT thread-safe. Only one goroutine should use it at a time.
type Manager struct {
	r    *region.Region
	dt   Flusher
	al   *alloc.Allocator
	mode dirty.FlushMode
	log  *logger.Logger

	depth   int
	seq     uint64
	aborted bool

	logOff  uint64
	logSize uint64
	used    uint64 // bytes of entries published in the log
	entries int

	covered *rangeSet // logged or fresh in this transaction
	frees   []region.Ref
	freed   map[region.Ref]struct{}

	stats Stats
}

// Open recovers any interrupted transaction and builds the allocator.
func Open(ctx context.Context, r *region.Region, dt Flusher, opts Options) (*Manager, RecoveryInfo, error) {
	log := opts.Logger
	if log == nil {
		log = logger.Noop()
	}
	logOff, logSize := r.LogArea()
	m := &Manager{
		r:       r,
		dt:      dt,
		mode:    opts.Mode,
		log:     log.WithComponent("tx"),
		logOff:  logOff,
		logSize: logSize,
		covered: newRangeSet(),
		freed:   make(map[region.Ref]struct{}),
	}

	info, err := m.recover(ctx)
	if err != nil {
		return nil, info, err
	}

	aopts := opts.Alloc
	if aopts.Logger == nil {
		aopts.Logger = log
	}
	al, err := alloc.New(r, m, aopts)
	if err != nil {
		return nil, info, err
	}
	m.al = al
	return m, info, nil
}

// Allocator returns the manager's allocator.
func (m *Manager) Allocator() *alloc.Allocator { return m.al }

// Begin starts a transaction or enters a nested scope.
func (m *Manager) Begin(ctx context.Context) error {
	if m.depth > 0 {
		m.depth++
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data := m.r.Bytes()
	m.seq = format.ReadU64(data, format.PrimarySeqOffset) + 1
	format.PutU64(data, format.PrimarySeqOffset, m.seq)
	m.dt.Add(0, format.HeaderSize)

	format.PutU64(data, m.logOff+format.LogSeqOffset, m.seq)
	format.PutU64(data, m.logOff+format.LogUsedOffset, 0)
	if err := m.dt.Flush(ctx, m.logOff, format.LogHeaderSize); err != nil {
		return fmt.Errorf("tx: stamp log: %w", err)
	}

	m.used = 0
	m.entries = 0
	m.aborted = false
	m.covered.reset()
	m.depth = 1
	m.stats.Begins++
	return nil
}

// InTransaction returns whether a transaction is active.
func (m *Manager) InTransaction() bool { return m.depth > 0 }

// Depth returns the current nesting depth.
func (m *Manager) Depth() int { return m.depth }

// CurrentSequence returns the sequence of the active transaction, or the
// last committed one.
func (m *Manager) CurrentSequence() uint64 {
	if m.depth > 0 {
		return m.seq
	}
	return format.ReadU64(m.r.Bytes(), format.SecondarySeqOffset)
}

// Snapshot logs [off, off+n) before the caller modifies it. Ranges already
// logged or allocated in this transaction are skipped.
func (m *Manager) Snapshot(off, n uint64) error {
	if m.depth == 0 {
		return ErrNotInTransaction
	}
	if m.aborted {
		return ErrAborted
	}
	if n == 0 {
		return nil
	}
	end := off + n
	if end > uint64(m.r.Size()) || end < off {
		return fmt.Errorf("tx: snapshot [0x%x, 0x%x) outside region", off, end)
	}

	err := m.covered.gaps(off, end, func(a, b uint64) error {
		return m.appendEntry(a, b-a)
	})
	if err != nil {
		return err
	}
	m.covered.add(off, end)
	m.dt.Add(off, n)
	return nil
}

// Fresh marks a newly allocated range: it is flushed at commit but never
// logged, since an abort makes it unreachable anyway.
func (m *Manager) Fresh(off, n uint64) {
	if n == 0 {
		return
	}
	m.covered.add(off, off+n)
	m.dt.Add(off, n)
}

// Logged reports whether [off, off+n) needs no further snapshot in the
// current transaction.
func (m *Manager) Logged(off, n uint64) bool {
	return m.depth > 0 && m.covered.covers(off, off+n)
}

// Alloc allocates a zeroed cell inside the current transaction.
func (m *Manager) Alloc(n uint64, tag uint32) (region.Ref, error) {
	if m.depth == 0 {
		return region.Nil, ErrNotInTransaction
	}
	if m.aborted {
		return region.Nil, ErrAborted
	}
	return m.al.Alloc(n, tag)
}

// Free schedules a cell to be released when the transaction commits.
func (m *Manager) Free(ref region.Ref) error {
	if m.depth == 0 {
		return ErrNotInTransaction
	}
	if m.aborted {
		return ErrAborted
	}
	if _, err := m.al.Capacity(ref); err != nil {
		return err
	}
	if _, dup := m.freed[ref]; dup {
		return fmt.Errorf("%w: 0x%x", ErrDoubleFree, uint64(ref))
	}
	m.freed[ref] = struct{}{}
	m.frees = append(m.frees, ref)
	m.stats.DeferredFree++
	return nil
}

// SetRoot records the application root inside the current transaction.
func (m *Manager) SetRoot(ref region.Ref) error {
	if err := m.Snapshot(format.RootRefOffset, 8); err != nil {
		return err
	}
	m.r.SetRoot(ref)
	return nil
}

// Flush writes [off, off+n) back immediately.
func (m *Manager) Flush(ctx context.Context, off, n uint64) error {
	return m.dt.Flush(ctx, off, n)
}

// Drain orders earlier flushes before later stores.
func (m *Manager) Drain() { m.dt.Drain() }

// Commit ends the current scope. The outermost Commit makes the
// transaction durable.
func (m *Manager) Commit(ctx context.Context) error {
	if m.depth == 0 {
		return ErrNotInTransaction
	}
	if m.depth > 1 {
		m.depth--
		if m.aborted {
			return ErrAborted
		}
		return nil
	}
	if m.aborted {
		m.finish()
		return ErrAborted
	}

	// Deferred frees are journaled like any other write, so a crash during
	// the free phase rolls them back with the rest of the transaction.
	for _, ref := range m.frees {
		if err := m.al.Free(ref); err != nil {
			m.abortLocked(ctx)
			m.finish()
			return fmt.Errorf("tx: deferred free 0x%x: %w", uint64(ref), err)
		}
	}

	if err := m.dt.FlushDataOnly(ctx); err != nil {
		return fmt.Errorf("flush data pages: %w", err)
	}
	if err := m.dt.FlushHeaderAndMeta(ctx, dirty.FlushDataOnly); err != nil {
		return fmt.Errorf("flush header: %w", err)
	}

	// Commit point.
	if err := m.truncateLog(ctx); err != nil {
		return err
	}

	m.markClean()
	if err := m.dt.FlushHeaderAndMeta(ctx, m.mode); err != nil {
		return fmt.Errorf("flush header: %w", err)
	}

	m.stats.Commits++
	m.stats.MaxLogUsed = max(m.stats.MaxLogUsed, m.used)
	m.log.LogCommit(ctx, m.seq, int(m.used), len(m.frees), nil)
	m.finish()
	return nil
}

// Abort rolls back the whole transaction. Inside a nested scope it only
// unwinds one level; the outer scopes then see ErrAborted.
func (m *Manager) Abort(ctx context.Context) error {
	if m.depth == 0 {
		return ErrNotInTransaction
	}
	var err error
	if !m.aborted {
		err = m.abortLocked(ctx)
	}
	m.depth--
	if m.depth == 0 {
		m.finish()
	}
	return err
}

// Aborted reports whether the active transaction has been rolled back.
func (m *Manager) Aborted() bool { return m.aborted }

// Stats returns a copy of the counters.
func (m *Manager) Stats() Stats { return m.stats }

// LogUsage returns the bytes of undo log used by the active transaction and
// the capacity of the log area.
func (m *Manager) LogUsage() (used, capacity uint64) {
	return m.used, m.logSize - format.LogHeaderSize
}

func (m *Manager) abortLocked(ctx context.Context) error {
	m.aborted = true
	m.stats.Aborts++

	n, err := m.rollback(ctx)
	m.log.LogAbort(ctx, m.seq, n, err)
	if err != nil {
		return err
	}
	m.dt.Reset()
	return m.al.Rebuild()
}

func (m *Manager) finish() {
	m.depth = 0
	m.used = 0
	m.entries = 0
	m.covered.reset()
	m.frees = m.frees[:0]
	clear(m.freed)
}

// appendEntry writes one log entry and publishes it.
func (m *Manager) appendEntry(off, n uint64) error {
	entry := format.LogEntryHeaderLen + format.Align8(n)
	capacity := m.logSize - format.LogHeaderSize
	if m.used+entry > capacity {
		return fmt.Errorf("%w: need %d bytes, %d of %d used", ErrLogFull, entry, m.used, capacity)
	}

	data := m.r.Bytes()
	at := m.logOff + format.LogHeaderSize + m.used
	format.PutU64(data, at, off)
	format.PutU64(data, at+8, n)
	copy(data[at+format.LogEntryHeaderLen:at+format.LogEntryHeaderLen+n], data[off:off+n])

	ctx := context.Background()
	if err := m.dt.Flush(ctx, at, entry); err != nil {
		return fmt.Errorf("tx: flush log entry: %w", err)
	}
	m.dt.Drain()

	m.used += entry
	m.entries++
	format.PutU64(data, m.logOff+format.LogUsedOffset, m.used)
	if err := m.dt.Flush(ctx, m.logOff, 8); err != nil {
		return fmt.Errorf("tx: publish log entry: %w", err)
	}
	m.dt.Drain()

	m.stats.Snapshots++
	m.stats.LogBytes += entry
	return nil
}

// rollback restores every logged range, newest first, and truncates the log.
func (m *Manager) rollback(ctx context.Context) (int, error) {
	data := m.r.Bytes()
	used := format.ReadU64(data, m.logOff+format.LogUsedOffset)
	if used > m.logSize-format.LogHeaderSize {
		return 0, fmt.Errorf("%w: used %d exceeds log size %d", ErrLogCorrupt, used, m.logSize)
	}

	type entry struct{ at, off, n uint64 }
	var entries []entry
	base := m.logOff + format.LogHeaderSize
	for pos := uint64(0); pos < used; {
		at := base + pos
		off := format.ReadU64(data, at)
		n := format.ReadU64(data, at+8)
		size := format.LogEntryHeaderLen + format.Align8(n)
		if pos+size > used || off+n > uint64(len(data)) || off+n < off {
			return 0, fmt.Errorf("%w: entry at %d [0x%x+%d]", ErrLogCorrupt, pos, off, n)
		}
		entries = append(entries, entry{at: at, off: off, n: n})
		pos += size
	}

	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		copy(data[e.off:e.off+e.n], data[e.at+format.LogEntryHeaderLen:])
	}
	for _, e := range entries {
		if e.off < format.HeaderSize {
			continue
		}
		if err := m.dt.Flush(ctx, e.off, e.n); err != nil {
			return 0, fmt.Errorf("tx: flush restored range: %w", err)
		}
	}
	if err := m.dt.FlushHeaderAndMeta(ctx, dirty.FlushDataOnly); err != nil {
		return 0, fmt.Errorf("flush header: %w", err)
	}
	m.dt.Drain()

	if err := m.truncateLog(ctx); err != nil {
		return 0, err
	}
	m.markClean()
	if err := m.dt.FlushHeaderAndMeta(ctx, m.mode); err != nil {
		return 0, fmt.Errorf("flush header: %w", err)
	}
	return len(entries), nil
}

func (m *Manager) truncateLog(ctx context.Context) error {
	format.PutU64(m.r.Bytes(), m.logOff+format.LogUsedOffset, 0)
	if err := m.dt.Flush(ctx, m.logOff, 8); err != nil {
		return fmt.Errorf("tx: truncate log: %w", err)
	}
	m.dt.Drain()
	return nil
}

// markClean sets SecondarySeq = PrimarySeq and refreshes the checksum.
func (m *Manager) markClean() {
	data := m.r.Bytes()
	primary := format.ReadU64(data, format.PrimarySeqOffset)
	m.r.SetSequences(primary, primary)
	m.r.UpdateChecksum()
}

// recover runs at open, before the allocator walks the heap.
func (m *Manager) recover(ctx context.Context) (RecoveryInfo, error) {
	data := m.r.Bytes()
	info := RecoveryInfo{Seq: format.ReadU64(data, m.logOff+format.LogSeqOffset)}

	if format.ReadU64(data, m.logOff+format.LogUsedOffset) != 0 {
		n, err := m.rollback(ctx)
		m.log.LogRecovery(ctx, info.Seq, n, err)
		if err != nil {
			return info, err
		}
		info.Recovered = true
		info.EntriesUndone = n
		return info, nil
	}

	if !m.r.Header().IsClean() {
		m.markClean()
		if err := m.dt.FlushHeaderAndMeta(ctx, m.mode); err != nil {
			return info, fmt.Errorf("flush header: %w", err)
		}
		info.SequenceRepair = true
	}
	return info, nil
}
