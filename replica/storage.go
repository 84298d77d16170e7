package replica

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/joshuapare/pmemkit/codec"
	"github.com/joshuapare/pmemkit/container"
	"github.com/joshuapare/pmemkit/container/blockcache"
	"github.com/joshuapare/pmemkit/container/hashmap"
	"github.com/joshuapare/pmemkit/container/queue"
	"github.com/joshuapare/pmemkit/internal/format"
	"github.com/joshuapare/pmemkit/internal/logger"
	"github.com/joshuapare/pmemkit/pool"
	"github.com/joshuapare/pmemkit/region"
)

// ErrNotReplica is returned by Open when the pool root is some other record.
var ErrNotReplica = errors.New("replica: pool root is not a replica record")

// Reply is the last reply sent to a client.
type Reply struct {
	ClientID int64
	SeqNo    int32
	Value    []byte
}

// Storage is the replica state kept in a pool.
type Storage struct {
	p   *pool.Pool
	ref region.Ref
	log *logger.Logger

	executeUB    container.Value[int32]
	serviceSeqNo container.Value[int64]
	armed        container.Value[uint64]

	decided *hashmap.Set[int32]

	repliesMu sync.RWMutex
	replies   *hashmap.Map[int64, reply]

	paths  *queue.Queue[blockcache.Block]
	blocks *blockcache.MultiSize
	paxos  *Paxos
}

// Open returns the replica storage rooted in p, creating it if the pool
// has no root yet.
func Open(p *pool.Pool) (*Storage, error) {
	s := &Storage{p: p, log: p.Logger().WithComponent("replica")}
	if p.Root().IsNil() {
		if err := s.create(); err != nil {
			return nil, fmt.Errorf("replica: create: %w", err)
		}
		s.log.Debug("replica storage created", "root", uint64(s.ref))
		return s, nil
	}
	if err := s.attach(p.Root()); err != nil {
		return nil, err
	}
	s.log.Debug("replica storage attached",
		"root", uint64(s.ref),
		"execute_ub", s.ExecuteUB(),
		"decided", s.DecidedCount(),
	)
	return s, nil
}

func (s *Storage) create() error {
	return s.p.Update(func() error {
		ref, err := s.p.Alloc(rootSize, container.TagReplicaRoot)
		if err != nil {
			return err
		}
		s.ref = ref
		if s.decided, err = hashmap.NewSet(s.p, hashmap.Config{Buckets: decidedBuckets}, codec.Int32, hashmap.WithLocking()); err != nil {
			return err
		}
		if s.replies, err = hashmap.New(s.p, hashmap.Config{Buckets: replyBuckets}, codec.Int64, replyCodec{}); err != nil {
			return err
		}
		if s.paths, err = queue.New(s.p, blockcache.BlockCodec); err != nil {
			return err
		}
		if s.blocks, err = blockcache.NewMultiSize(s.p, blockcache.Options{}); err != nil {
			return err
		}
		if s.paxos, err = newPaxos(s.p); err != nil {
			return err
		}

		data := s.p.Bytes()
		o := uint64(ref)
		format.PutU64(data, o+rootDecided, uint64(s.decided.Ref()))
		format.PutU64(data, o+rootReplies, uint64(s.replies.Ref()))
		format.PutU64(data, o+rootPaths, uint64(s.paths.Ref()))
		format.PutU64(data, o+rootBlocks, uint64(s.blocks.Ref()))
		format.PutU64(data, o+rootPaxos, uint64(s.paxos.ref))
		format.PutU32(data, o+rootMagic, replicaMagic)
		s.bindScalars()
		return s.p.SetRoot(ref)
	})
}

func (s *Storage) attach(ref region.Ref) error {
	data := s.p.Bytes()
	o := uint64(ref)
	if o+rootSize > uint64(len(data)) || format.ReadU32(data, o+rootMagic) != replicaMagic {
		return ErrNotReplica
	}
	s.ref = ref
	field := func(off uint64) region.Ref { return region.Ref(format.ReadU64(data, o+off)) }

	var err error
	if s.decided, err = hashmap.OpenSet(s.p, field(rootDecided), codec.Int32, hashmap.WithLocking()); err != nil {
		return fmt.Errorf("replica: decided set: %w", err)
	}
	s.decided.ResetLock()
	if s.replies, err = hashmap.Open(s.p, field(rootReplies), codec.Int64, replyCodec{}); err != nil {
		return fmt.Errorf("replica: replies: %w", err)
	}
	if s.paths, err = queue.Open(s.p, field(rootPaths), blockcache.BlockCodec); err != nil {
		return fmt.Errorf("replica: snapshot paths: %w", err)
	}
	if s.blocks, err = blockcache.OpenMultiSize(s.p, field(rootBlocks), blockcache.Options{}); err != nil {
		return fmt.Errorf("replica: block cache: %w", err)
	}
	if s.paxos, err = openPaxos(s.p, field(rootPaxos)); err != nil {
		return err
	}
	s.bindScalars()
	return nil
}

func (s *Storage) bindScalars() {
	o := uint64(s.ref)
	s.executeUB = container.NewValue(s.p, codec.Int32, o+rootExecuteUB)
	s.serviceSeqNo = container.NewValue(s.p, codec.Int64, o+rootServiceSeqNo)
	s.armed = container.NewValue(s.p, codec.Uint64, o+rootArmed)
}

// Ref returns the root record.
func (s *Storage) Ref() region.Ref { return s.ref }

// Paxos returns the consensus record.
func (s *Storage) Paxos() *Paxos { return s.paxos }

// ExecuteUB is the id of the first instance not yet executed.
func (s *Storage) ExecuteUB() int32 { return s.executeUB.Load() }

func (s *Storage) SetExecuteUB(v int32) error { return s.executeUB.Store(v) }

func (s *Storage) IncrementExecuteUB() error {
	return s.p.Update(func() error { return s.executeUB.Store(s.executeUB.Load() + 1) })
}

// ServiceSeqNo is the sequence number of the last request the service
// executed.
func (s *Storage) ServiceSeqNo() int64 { return s.serviceSeqNo.Load() }

func (s *Storage) SetServiceSeqNo(v int64) error { return s.serviceSeqNo.Store(v) }

// IncServiceSeqNo increments the service sequence number and returns the
// new value.
func (s *Storage) IncServiceSeqNo() (int64, error) {
	var n int64
	err := s.p.Update(func() error {
		n = s.serviceSeqNo.Load() + 1
		return s.serviceSeqNo.Store(n)
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// AddDecided records that instance id is decided and waits for execution.
func (s *Storage) AddDecided(id int32) error {
	_, err := s.decided.Add(id)
	return err
}

func (s *Storage) IsDecided(id int32) bool { return s.decided.Contains(id) }

// ReleaseDecided forgets instance id.
func (s *Storage) ReleaseDecided(id int32) error {
	_, err := s.decided.Erase(id)
	return err
}

// ReleaseDecidedUpTo forgets every instance below id, in one transaction.
func (s *Storage) ReleaseDecidedUpTo(id int32) error {
	var below []int32
	for d := range s.decided.All() {
		if d < id {
			below = append(below, d)
		}
	}
	if len(below) == 0 {
		return nil
	}

	return s.p.Update(func() error {
		for _, d := range below {
			if _, err := s.decided.Erase(d); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Storage) DecidedCount() int { return s.decided.Len() }

// Decided returns the waiting instances in ascending order.
func (s *Storage) Decided() []int32 {
	return slices.Sorted(s.decided.All())
}

// SetLastReply replaces the last reply recorded for clientID. The value is
// copied into a recycled block when one of the right size is cached, and
// the previous reply's block goes back to the cache.
func (s *Storage) SetLastReply(clientID int64, seqNo int32, value []byte) error {
	return s.p.Update(func() error {
		ref, err := s.storeValue(value)
		if err != nil {
			return err
		}

		s.repliesMu.Lock()
		defer s.repliesMu.Unlock()

		next := reply{clientID: clientID, seqNo: seqNo, value: ref, n: uint64(len(value))}
		v, inserted, err := s.replies.GetOrInsert(clientID, next)
		if err != nil || inserted {
			return err
		}
		if old := v.Load(); !old.value.IsNil() {
			if err := s.blocks.Push(blockcache.Block{Ref: old.value, Size: old.n}); err != nil {
				return err
			}
		}
		return v.Store(next)
	})
}

// storeValue copies value into a block. A cached block held no live data
// at transaction entry, so it is flushed instead of snapshotted.
func (s *Storage) storeValue(value []byte) (region.Ref, error) {
	n := uint64(len(value))
	if n == 0 {
		return 0, nil
	}
	b, ok, err := s.blocks.Pop(n)
	if err != nil {
		return 0, err
	}
	if !ok {
		ref, err := s.p.Alloc(n, container.TagBlock)
		if err != nil {
			return 0, err
		}
		copy(s.p.Bytes()[ref:uint64(ref)+n], value)
		return ref, nil
	}
	copy(b.Bytes(s.p.Bytes()), value)
	if err := s.p.Flush(uint64(b.Ref), n); err != nil {
		return 0, err
	}
	s.p.Drain()
	return b.Ref, nil
}

// LastReplySeq returns the sequence number of the last reply to clientID,
// or -1.
func (s *Storage) LastReplySeq(clientID int64) int32 {
	s.repliesMu.RLock()
	defer s.repliesMu.RUnlock()
	r, ok := s.replies.Lookup(clientID)
	if !ok {
		return -1
	}
	return r.seqNo
}

// LastReply returns a copy of the last reply to clientID.
func (s *Storage) LastReply(clientID int64) (Reply, bool) {
	s.repliesMu.RLock()
	defer s.repliesMu.RUnlock()
	r, ok := s.replies.Lookup(clientID)
	if !ok {
		return Reply{}, false
	}
	return s.export(r), true
}

// AllReplies returns a copy of every recorded reply.
func (s *Storage) AllReplies() []Reply {
	s.repliesMu.RLock()
	defer s.repliesMu.RUnlock()
	out := make([]Reply, 0, s.replies.Len())
	for _, r := range s.replies.All() {
		out = append(out, s.export(r))
	}
	return out
}

// DropAllReplies forgets every reply, returning their blocks to the cache.
func (s *Storage) DropAllReplies() error {
	return s.p.Update(func() error {
		s.repliesMu.Lock()
		defer s.repliesMu.Unlock()
		for _, r := range s.replies.All() {
			if r.value.IsNil() {
				continue
			}
			if err := s.blocks.Push(blockcache.Block{Ref: r.value, Size: r.n}); err != nil {
				return err
			}
		}
		return s.replies.Clear()
	})
}

func (s *Storage) export(r reply) Reply {
	out := Reply{ClientID: r.clientID, SeqNo: r.seqNo, Value: []byte{}}
	if !r.value.IsNil() {
		out.Value = slices.Clone(s.p.Bytes()[r.value : uint64(r.value)+r.n])
	}
	return out
}

// Cells yields every cell the storage owns.
func (s *Storage) Cells() iter.Seq[region.Ref] {
	return func(yield func(region.Ref) bool) {
		if !yield(s.ref) || !yield(s.paxos.ref) {
			return
		}
		seqs := []iter.Seq[region.Ref]{
			s.decided.Cells(),
			s.replies.Cells(),
			s.replyBlocks,
			s.paths.Cells(),
			s.pathBlocks,
			s.blocks.Cells(),
		}
		for _, seq := range seqs {
			for ref := range seq {
				if !yield(ref) {
					return
				}
			}
		}
	}
}

func (s *Storage) replyBlocks(yield func(region.Ref) bool) {
	for _, r := range s.replies.All() {
		if !r.value.IsNil() && !yield(r.value) {
			return
		}
	}
}
