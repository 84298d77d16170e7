package replica

import (
	"fmt"
	"io"

	"github.com/joshuapare/pmemkit/codec"
	"github.com/joshuapare/pmemkit/container"
	"github.com/joshuapare/pmemkit/pool"
	"github.com/joshuapare/pmemkit/region"
)

// ProposerState is the persisted phase of the local proposer.
type ProposerState uint32

const (
	Inactive ProposerState = iota
	Preparing
	Prepared
)

func (st ProposerState) String() string {
	switch st {
	case Inactive:
		return "INACTIVE"
	case Preparing:
		return "PREPARING"
	case Prepared:
		return "PREPARED"
	}
	return "UNKNOWN"
}

type proposerStateCodec struct{}

func (proposerStateCodec) Size() int { return 4 }
func (proposerStateCodec) Encode(dst []byte, st ProposerState) {
	codec.Uint32.Encode(dst, uint32(st))
}
func (proposerStateCodec) Decode(src []byte) ProposerState {
	return ProposerState(codec.Uint32.Decode(src))
}

// Paxos is the consensus record: view, first undecided instance, run id
// and proposer state. Every setter is a transaction of its own unless
// called inside one.
type Paxos struct {
	p   *pool.Pool
	ref region.Ref

	view             container.Value[int32]
	firstUncommitted container.Value[int32]
	runUniqueID      container.Value[int32]
	proposerState    container.Value[ProposerState]
}

func newPaxos(p *pool.Pool) (*Paxos, error) {
	ref, err := p.Alloc(paxosSize, container.TagPaxosRecord)
	if err != nil {
		return nil, err
	}
	return bindPaxos(p, ref), nil
}

func openPaxos(p *pool.Pool, ref region.Ref) (*Paxos, error) {
	if ref.IsNil() || uint64(ref)+paxosSize > uint64(len(p.Bytes())) {
		return nil, fmt.Errorf("%w: paxos record at 0x%x", container.ErrCorrupt, uint64(ref))
	}
	return bindPaxos(p, ref), nil
}

func bindPaxos(p *pool.Pool, ref region.Ref) *Paxos {
	o := uint64(ref)
	return &Paxos{
		p:                p,
		ref:              ref,
		view:             container.NewValue(p, codec.Int32, o+paxView),
		firstUncommitted: container.NewValue(p, codec.Int32, o+paxFirstUncommitted),
		runUniqueID:      container.NewValue(p, codec.Int32, o+paxRunUniqueID),
		proposerState:    container.NewValue[ProposerState](p, proposerStateCodec{}, o+paxProposerState),
	}
}

func (x *Paxos) View() int32 { return x.view.Load() }

func (x *Paxos) SetView(v int32) error { return x.view.Store(v) }

func (x *Paxos) FirstUncommitted() int32 { return x.firstUncommitted.Load() }

// UpdateFirstUncommitted raises the first uncommitted instance to at least
// snapshotNextID (pass -1 for none), then past every instance isDecided
// reports as decided. It returns the new value.
func (x *Paxos) UpdateFirstUncommitted(snapshotNextID int32, isDecided func(id int32) bool) (int32, error) {
	var first int32
	err := x.p.Update(func() error {
		first = max(snapshotNextID, x.firstUncommitted.Load())
		for isDecided(first) {
			first++
		}
		return x.firstUncommitted.Store(first)
	})
	if err != nil {
		return 0, err
	}
	return first, nil
}

func (x *Paxos) RunUniqueID() int32 { return x.runUniqueID.Load() }

// IncRunUniqueID bumps the run id, once per process start.
func (x *Paxos) IncRunUniqueID() error {
	return x.p.Update(func() error { return x.runUniqueID.Store(x.runUniqueID.Load() + 1) })
}

func (x *Paxos) ProposerState() ProposerState { return x.proposerState.Load() }

func (x *Paxos) SetProposerState(st ProposerState) error { return x.proposerState.Store(st) }

// Dump prints the record.
func (x *Paxos) Dump(w io.Writer) error {
	_, err := fmt.Fprintf(w, "View: %d  RunUniqueID: %d\nFirstUncommitted: %d  ProposerState: %s\n",
		x.View(), x.RunUniqueID(), x.FirstUncommitted(), x.ProposerState())
	return err
}
