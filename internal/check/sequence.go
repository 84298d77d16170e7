package check

// CacheKind selects the sequencing rules of a block cache.
type CacheKind int

const (
	// SingleSlot: per transaction and size, at most one Pop or Exchange,
	// then at most one Push.
	SingleSlot CacheKind = iota

	// MultiSlot: per transaction and size, Pops, then at most one
	// Exchange, then Pushes.
	MultiSlot
)

type phase uint8

const (
	phaseNone phase = iota
	phaseTaken
	phaseExchanged
	phaseGiven
)

// Sequence enforces the take-then-give contract of the block caches. A
// nil *Sequence checks nothing. It is not safe for concurrent use, like
// the caches themselves.
type Sequence struct {
	kind   CacheKind
	tx     uint64
	phases map[uint64]phase
}

// NewSequence returns a checker, or nil when enabled is false.
func NewSequence(kind CacheKind, enabled bool) *Sequence {
	if !enabled {
		return nil
	}
	return &Sequence{kind: kind, phases: make(map[uint64]phase)}
}

func (s *Sequence) at(tx, size uint64) phase {
	if tx == 0 {
		fail("blockcache", "operation on size %d outside a transaction", size)
	}
	if tx != s.tx {
		s.tx = tx
		clear(s.phases)
	}
	return s.phases[size]
}

// Pop records a successful Pop.
func (s *Sequence) Pop(tx, size uint64) {
	if s == nil {
		return
	}
	p := s.at(tx, size)
	switch {
	case p == phaseNone:
	case p == phaseTaken && s.kind == MultiSlot:
	default:
		fail("blockcache", "pop of size %d after an earlier take or give in transaction %d", size, tx)
	}
	s.phases[size] = phaseTaken
}

// Exchange records an Exchange.
func (s *Sequence) Exchange(tx, size uint64) {
	if s == nil {
		return
	}
	p := s.at(tx, size)
	switch {
	case p == phaseNone:
	case p == phaseTaken && s.kind == MultiSlot:
	default:
		fail("blockcache", "exchange of size %d after an earlier take or give in transaction %d", size, tx)
	}
	s.phases[size] = phaseExchanged
}

// Push records a Push.
func (s *Sequence) Push(tx, size uint64) {
	if s == nil {
		return
	}
	p := s.at(tx, size)
	if p == phaseGiven && s.kind == SingleSlot {
		fail("blockcache", "second push of size %d in transaction %d", size, tx)
	}
	s.phases[size] = phaseGiven
}
