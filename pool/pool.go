package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/joshuapare/pmemkit/internal/logger"
	"github.com/joshuapare/pmemkit/region"
	"github.com/joshuapare/pmemkit/region/alloc"
	"github.com/joshuapare/pmemkit/region/dirty"
	"github.com/joshuapare/pmemkit/region/tx"
	"github.com/joshuapare/pmemkit/region/verify"
)

// Options configures a pool. Zero values select the defaults.
type Options struct {
	HeapSize uint64 // initial heap reservation (region.DefaultHeapSize)
	LogSize  uint64 // undo-log area (region.DefaultLogSize)
	Reserve  uint64 // address space mapped up front, see region.Options
	Layout   string // written at Create, checked at Open when non-empty

	FlushMode   dirty.FlushMode
	SizeClasses *alloc.SizeClassConfig
	GrowChunk   uint64

	Logger *slog.Logger // nil discards
}

// Stats aggregates the substrate counters.
type Stats struct {
	Tx    tx.Stats
	Alloc alloc.Stats
	Dirty dirty.Stats
	Usage alloc.Usage
}

// Pool is an open durable region with its transaction manager.
type Pool struct {
	r   *region.Region
	dt  *dirty.Tracker
	tm  *tx.Manager
	log *logger.Logger

	writer   sync.Mutex
	recovery tx.RecoveryInfo
}

// Create makes a new pool file.
func Create(path string, opts Options) (*Pool, error) {
	r, err := region.Create(path, regionOptions(opts))
	if err != nil {
		return nil, err
	}
	return attach(r, opts)
}

// Open attaches to an existing pool file, recovering it if needed.
func Open(path string, opts Options) (*Pool, error) {
	r, err := region.Open(path, opts.Reserve)
	if err != nil {
		return nil, err
	}
	if got := r.Header().Layout(); opts.Layout != "" && got != opts.Layout {
		_ = r.Close()
		return nil, fmt.Errorf("%w: file has %q, want %q", ErrLayoutMismatch, got, opts.Layout)
	}
	return attach(r, opts)
}

// NewMemory creates a heap-backed pool.
func NewMemory(opts Options) (*Pool, error) {
	return attach(region.NewMemory(regionOptions(opts)), opts)
}

// OpenMemory attaches to a heap-backed image, typically a Clone taken from
// another pool. data is used in place.
func OpenMemory(data []byte, opts Options) (*Pool, error) {
	r, err := region.FromBytes(data)
	if err != nil {
		return nil, err
	}
	return attach(r, opts)
}

func regionOptions(opts Options) region.Options {
	return region.Options{
		HeapSize: opts.HeapSize,
		LogSize:  opts.LogSize,
		Layout:   opts.Layout,
		Reserve:  opts.Reserve,
	}
}

func attach(r *region.Region, opts Options) (*Pool, error) {
	log := logger.Wrap(opts.Logger).WithPool(r.UUID().String())
	dt := dirty.NewTracker(r)

	tm, info, err := tx.Open(context.Background(), r, dt, tx.Options{
		Mode: opts.FlushMode,
		Alloc: alloc.Options{
			Config:    opts.SizeClasses,
			GrowChunk: opts.GrowChunk,
			Logger:    log,
		},
		Logger: log,
	})
	if err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("pool: open: %w", err)
	}
	if info.SequenceRepair {
		log.Warn("header repaired after crash past commit point")
	}

	log.Debug("pool attached",
		"path", r.Path(),
		"size", r.Size(),
		"heap_end", r.HeapEnd(),
		"recovered", info.Recovered,
	)
	return &Pool{r: r, dt: dt, tm: tm, log: log, recovery: info}, nil
}

// Close releases the region. A running transaction is rolled back first.
func (p *Pool) Close() error {
	if p.r == nil {
		return nil
	}
	var errs []error
	if p.tm.InTransaction() {
		errs = append(errs, ErrTxOpen)
		for p.tm.InTransaction() {
			if err := p.tm.Abort(context.Background()); err != nil {
				errs = append(errs, err)
				break
			}
		}
	}
	errs = append(errs, p.r.Close())
	p.r = nil
	return errors.Join(errs...)
}

// Region returns the underlying region.
func (p *Pool) Region() *region.Region { return p.r }

// Manager returns the transaction manager.
func (p *Pool) Manager() *tx.Manager { return p.tm }

// Recovery reports what Open found.
func (p *Pool) Recovery() tx.RecoveryInfo { return p.recovery }

// UUID returns the pool identity.
func (p *Pool) UUID() uuid.UUID { return p.r.UUID() }

// Logger returns the pool's logger.
func (p *Pool) Logger() *logger.Logger { return p.log }

// Lock acquires the pool writer lock. See the package documentation.
func (p *Pool) Lock() { p.writer.Lock() }

// Unlock releases the pool writer lock.
func (p *Pool) Unlock() { p.writer.Unlock() }

// Tx runs fn in a transaction. Nested calls join the enclosing transaction.
// An error or panic from fn aborts the whole transaction.
func (p *Pool) Tx(ctx context.Context, fn func() error) (err error) {
	if p.r == nil {
		return ErrClosed
	}
	if err := p.tm.Begin(ctx); err != nil {
		return err
	}

	defer func() {
		if rec := recover(); rec != nil {
			_ = p.tm.Abort(ctx)
			panic(rec)
		}
	}()

	if ferr := fn(); ferr != nil {
		if aerr := p.tm.Abort(ctx); aerr != nil {
			return errors.Join(ferr, aerr)
		}
		return ferr
	}
	return p.tm.Commit(ctx)
}

// Update is Tx with a background context. It satisfies container.Heap.
func (p *Pool) Update(fn func() error) error {
	return p.Tx(context.Background(), fn)
}

// Bytes returns the current view of the region.
func (p *Pool) Bytes() []byte { return p.r.Bytes() }

// InTransaction reports whether a transaction is running.
func (p *Pool) InTransaction() bool { return p.tm.InTransaction() }

// TxID identifies the running transaction, 0 outside one.
func (p *Pool) TxID() uint64 {
	if !p.tm.InTransaction() {
		return 0
	}
	return p.tm.CurrentSequence()
}

// Snapshot records the pre-image of [off, off+n).
func (p *Pool) Snapshot(off, n uint64) error {
	p.mustBeInTx()
	return p.tm.Snapshot(off, n)
}

// Alloc returns a zeroed cell payload of n bytes.
func (p *Pool) Alloc(n uint64, tag uint32) (region.Ref, error) {
	p.mustBeInTx()
	return p.tm.Alloc(n, tag)
}

// Free releases a cell when the transaction commits.
func (p *Pool) Free(ref region.Ref) error {
	p.mustBeInTx()
	return p.tm.Free(ref)
}

// Flush makes [off, off+n) durable without logging it.
func (p *Pool) Flush(off, n uint64) error {
	return p.tm.Flush(context.Background(), off, n)
}

// Drain orders earlier flushes before later stores.
func (p *Pool) Drain() { p.tm.Drain() }

// Root returns the application root reference.
func (p *Pool) Root() region.Ref { return p.r.Root() }

// SetRoot records the application root, in its own transaction if needed.
func (p *Pool) SetRoot(ref region.Ref) error {
	return p.Update(func() error { return p.tm.SetRoot(ref) })
}

// Stats returns the substrate counters and a heap usage summary.
func (p *Pool) Stats() (Stats, error) {
	u, err := p.tm.Allocator().Usage()
	return Stats{
		Tx:    p.tm.Stats(),
		Alloc: p.tm.Allocator().Stats(),
		Dirty: p.dt.Stats(),
		Usage: u,
	}, err
}

// Clone returns a copy of the region bytes.
func (p *Pool) Clone() []byte { return p.r.Clone() }

// Verify checks the region's invariants and, when reachable is non-nil,
// that exactly the reachable cells are allocated.
func (p *Pool) Verify(ctx context.Context, reachable verify.ReachableFunc) (verify.Report, error) {
	if p.tm.InTransaction() {
		return verify.Report{}, ErrTxOpen
	}
	return verify.Run(ctx, p.r.Bytes(), reachable)
}

func (p *Pool) mustBeInTx() {
	if !p.tm.InTransaction() {
		panic(tx.ErrNotInTransaction)
	}
}
