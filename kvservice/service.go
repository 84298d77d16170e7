package kvservice

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"iter"
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/joshuapare/pmemkit/codec"
	"github.com/joshuapare/pmemkit/container"
	"github.com/joshuapare/pmemkit/container/blockcache"
	"github.com/joshuapare/pmemkit/container/shardmap"
	"github.com/joshuapare/pmemkit/internal/format"
	"github.com/joshuapare/pmemkit/internal/logger"
	"github.com/joshuapare/pmemkit/pool"
	"github.com/joshuapare/pmemkit/region"
)

var (
	// ErrNotService is returned by Open for a record that is not a service root.
	ErrNotService = errors.New("kvservice: not a service record")

	// ErrSequence is returned for a request number that neither repeats
	// the last applied one nor follows it.
	ErrSequence = errors.New("kvservice: request out of sequence")
)

// Options configures a service.
type Options struct {
	Shards  int // shardmap.Config.Shards
	Buckets int // shardmap.Config.Buckets

	// RequestLog receives "seqno digest" per applied request when set.
	RequestLog io.Writer
}

// Service executes requests against its durable map.
type Service struct {
	p    *pool.Pool
	ref  region.Ref
	log  *logger.Logger
	opts Options

	// mu keeps Get from reading a value block a put is recycling.
	mu    sync.RWMutex
	kv    *shardmap.Map[Chunk, Chunk]
	cache *blockcache.SizeBucketed

	lastRequest container.Value[int64]
	digest      container.Value[[sha512.Size]byte]
}

// New creates an empty service record in p. Its Ref is what Open takes.
func New(p *pool.Pool, opts Options) (*Service, error) {
	s := &Service{p: p, opts: opts, log: p.Logger().WithComponent("kvservice")}
	err := p.Update(func() error {
		ref, err := p.Alloc(rootSize, container.TagServiceRoot)
		if err != nil {
			return err
		}
		s.ref = ref
		cfg := shardmap.Config{Shards: opts.Shards, Buckets: opts.Buckets}
		if s.kv, err = shardmap.New(p, cfg, chunkCodec{}, chunkCodec{}, s.keyStrategy()...); err != nil {
			return err
		}
		if s.cache, err = blockcache.NewSizeBucketed(p, blockcache.Options{Accounting: true}); err != nil {
			return err
		}

		data := p.Bytes()
		o := uint64(ref)
		format.PutU64(data, o+rootMap, uint64(s.kv.Ref()))
		format.PutU64(data, o+rootCache, uint64(s.cache.Ref()))
		format.PutU64(data, o+rootLastRequest, ^uint64(0))
		format.PutU32(data, o+rootMagic, serviceMagic)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("kvservice: create: %w", err)
	}
	s.bind()
	return s, nil
}

// Open attaches to the service record at ref.
func Open(p *pool.Pool, ref region.Ref, opts Options) (*Service, error) {
	data := p.Bytes()
	o := uint64(ref)
	if ref.IsNil() || o+rootSize > uint64(len(data)) || format.ReadU32(data, o+rootMagic) != serviceMagic {
		return nil, ErrNotService
	}

	s := &Service{p: p, ref: ref, opts: opts, log: p.Logger().WithComponent("kvservice")}
	var err error
	s.kv, err = shardmap.Open(p, region.Ref(format.ReadU64(data, o+rootMap)), chunkCodec{}, chunkCodec{}, s.keyStrategy()...)
	if err != nil {
		return nil, fmt.Errorf("kvservice: map: %w", err)
	}
	s.kv.ResetLocks()
	s.cache, err = blockcache.OpenSizeBucketed(p, region.Ref(format.ReadU64(data, o+rootCache)), blockcache.Options{})
	if err != nil {
		return nil, fmt.Errorf("kvservice: block cache: %w", err)
	}
	s.bind()
	s.log.Debug("service attached", "keys", s.kv.Len(), "last_request", s.LastRequest())
	return s, nil
}

func (s *Service) bind() {
	o := uint64(s.ref)
	s.lastRequest = container.NewValue(s.p, codec.Int64, o+rootLastRequest)
	s.digest = container.NewValue[[sha512.Size]byte](s.p, digestCodec{}, o+rootDigest)
}

// keyStrategy hashes and compares keys by the bytes they refer to.
func (s *Service) keyStrategy() []shardmap.Option {
	return []shardmap.Option{
		shardmap.WithHasher(func(k Chunk) uint64 { return xxhash.Sum64(k.bytes(s.p.Bytes())) }),
		shardmap.WithEqual(func(a, b Chunk) bool {
			data := s.p.Bytes()
			return bytes.Equal(a.bytes(data), b.bytes(data))
		}),
	}
}

// Ref returns the service record.
func (s *Service) Ref() region.Ref { return s.ref }

// LastRequest is the number of the last applied request, -1 before the
// first.
func (s *Service) LastRequest() int64 { return s.lastRequest.Load() }

// Digest is the SHA-512 chain over every applied request.
func (s *Service) Digest() [sha512.Size]byte { return s.digest.Load() }

// Len returns the number of keys.
func (s *Service) Len() int { return s.kv.Len() }

// Get returns a copy of the value stored under key. It may run alongside
// Execute.
func (s *Service) Get(key []byte) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(key)
}

func (s *Service) get(key []byte) ([]byte, bool) {
	_, v, ok := s.kv.Find(xxhash.Sum64(key), s.matches(key))
	if !ok {
		return nil, false
	}
	return slices.Clone(v.bytes(s.p.Bytes())), true
}

func (s *Service) matches(key []byte) func(Chunk) bool {
	return func(k Chunk) bool { return bytes.Equal(k.bytes(s.p.Bytes()), key) }
}

// Execute applies request number seqNo and returns its response. A seqNo
// equal to LastRequest is a replay after a crash: the request runs again
// but the digest is not extended.
func (s *Service) Execute(seqNo int64, request []byte) ([]byte, error) {
	req, err := ParseRequest(request)
	if err != nil {
		return nil, err
	}

	s.p.Lock()
	defer s.p.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	last := s.LastRequest()
	if seqNo != last && seqNo != last+1 {
		return nil, fmt.Errorf("%w: got %d after %d", ErrSequence, seqNo, last)
	}

	var resp []byte
	err = s.p.Update(func() error {
		var err error
		switch req.Op {
		case OpGet:
			resp, _ = s.get(req.Key)
		case OpPut:
			resp, err = s.put(req.Key, req.Value)
		}
		if err != nil || seqNo == last {
			return err
		}
		return s.record(seqNo, request)
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// put stores value under key and returns the previous value.
func (s *Service) put(key, value []byte) ([]byte, error) {
	k, old, found := s.kv.Find(xxhash.Sum64(key), s.matches(key))
	if !found {
		kc, err := s.fresh(key)
		if err != nil {
			return nil, err
		}
		vc, err := s.fresh(value)
		if err != nil {
			return nil, err
		}
		_, err = s.kv.InsertOrReplace(kc, vc)
		return nil, err
	}

	prev := slices.Clone(old.bytes(s.p.Bytes()))
	next, err := s.scratch(old, uint64(len(value)))
	if err != nil {
		return nil, err
	}
	if !next.Ref.IsNil() {
		copy(next.bytes(s.p.Bytes()), value)
		if err := s.p.Flush(uint64(next.Ref), next.Len); err != nil {
			return nil, err
		}
		s.p.Drain()
	}
	if _, err := s.kv.Update(k, func(Chunk) Chunk { return next }); err != nil {
		return nil, err
	}
	return prev, nil
}

// scratch trades the old value's block for one of n bytes: take a block,
// give a block. The returned block holds no live data.
func (s *Service) scratch(old Chunk, n uint64) (Chunk, error) {
	var got blockcache.Block
	var ok bool
	var err error
	switch {
	case n == 0:
		if !old.Ref.IsNil() {
			err = s.cache.Push(blockcache.Block{Ref: old.Ref, Size: old.Len})
		}
		return Chunk{}, err
	case n == old.Len:
		got, ok, err = s.cache.Exchange(blockcache.Block{Ref: old.Ref, Size: old.Len})
	default:
		if got, ok, err = s.cache.Pop(n); err != nil {
			return Chunk{}, err
		}
		if !old.Ref.IsNil() {
			err = s.cache.Push(blockcache.Block{Ref: old.Ref, Size: old.Len})
		}
	}
	if err != nil {
		return Chunk{}, err
	}
	if ok {
		return Chunk{Ref: got.Ref, Len: n}, nil
	}
	ref, err := s.p.Alloc(n, container.TagBlock)
	if err != nil {
		return Chunk{}, err
	}
	return Chunk{Ref: ref, Len: n}, nil
}

// fresh copies b into a newly allocated block.
func (s *Service) fresh(b []byte) (Chunk, error) {
	if len(b) == 0 {
		return Chunk{}, nil
	}
	ref, err := s.p.Alloc(uint64(len(b)), container.TagBlock)
	if err != nil {
		return Chunk{}, err
	}
	c := Chunk{Ref: ref, Len: uint64(len(b))}
	copy(c.bytes(s.p.Bytes()), b)
	return c, nil
}

func (s *Service) record(seqNo int64, request []byte) error {
	prev := s.digest.Load()
	h := sha512.New()
	h.Write(prev[:])
	h.Write(request)
	var next [sha512.Size]byte
	h.Sum(next[:0])

	if err := s.lastRequest.Store(seqNo); err != nil {
		return err
	}
	if err := s.digest.Store(next); err != nil {
		return err
	}
	if s.opts.RequestLog != nil {
		if _, err := fmt.Fprintf(s.opts.RequestLog, "%d %s\n", seqNo, base64.StdEncoding.EncodeToString(next[:])); err != nil {
			s.log.Warn("request log write failed", "seq", seqNo, "error", err)
		}
	}
	return nil
}

// Verify checks the map's structure.
func (s *Service) Verify(ctx context.Context) error { return s.kv.Verify(ctx) }

// Cells yields every cell the service owns.
func (s *Service) Cells() iter.Seq[region.Ref] {
	return func(yield func(region.Ref) bool) {
		if !yield(s.ref) {
			return
		}
		for ref := range s.kv.Cells() {
			if !yield(ref) {
				return
			}
		}
		for k, v := range s.kv.All() {
			if !k.Ref.IsNil() && !yield(k.Ref) {
				return
			}
			if !v.Ref.IsNil() && !yield(v.Ref) {
				return
			}
		}
		for ref := range s.cache.Cells() {
			if !yield(ref) {
				return
			}
		}
	}
}

// Dump prints the request position, digest and container summaries.
func (s *Service) Dump(w io.Writer) error {
	d := s.Digest()
	if _, err := fmt.Fprintf(w, "LastRequest: %d\nDigest: %s\n",
		s.LastRequest(), base64.StdEncoding.EncodeToString(d[:])); err != nil {
		return err
	}
	if err := s.kv.Dump(w); err != nil {
		return err
	}
	return s.cache.Dump(w)
}
