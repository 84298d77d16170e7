// Package codec defines how values of a Go type are laid out inside a
// region. Containers never store Go values directly: every key, value and
// element goes through a fixed-width Codec.
package codec

import (
	"bytes"
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/joshuapare/pmemkit/region"
)

// Codec encodes values of T into exactly Size() bytes.
// Encode and Decode must not retain the slices they are given.
type Codec[T any] interface {
	Size() int
	Encode(dst []byte, v T)
	Decode(src []byte) T
}

// Mover is implemented by codecs whose encoding depends on its own
// address, e.g. self-relative offsets. Relocation then goes through Move
// instead of decode/encode.
type Mover interface {
	Move(data []byte, dst, src uint64)
}

// Move relocates n consecutive elements from src to dst inside data.
// The ranges must not overlap. Elements are moved one at a time through
// the codec, never with a raw copy of the array.
func Move[T any](c Codec[T], data []byte, dst, src uint64, n int) {
	sz := uint64(c.Size())
	if m, ok := c.(Mover); ok {
		for i := range uint64(n) {
			m.Move(data, dst+i*sz, src+i*sz)
		}
		return
	}
	for i := range uint64(n) {
		s := src + i*sz
		d := dst + i*sz
		c.Encode(data[d:d+sz], c.Decode(data[s:s+sz]))
	}
}

// Hash hashes the encoding of v with xxhash.
func Hash[T any](c Codec[T], v T) uint64 {
	var stack [64]byte
	buf := scratch(stack[:], c.Size())
	c.Encode(buf, v)
	return xxhash.Sum64(buf)
}

// Equal compares the encodings of a and b.
func Equal[T any](c Codec[T], a, b T) bool {
	var sa, sb [64]byte
	ba := scratch(sa[:], c.Size())
	bb := scratch(sb[:], c.Size())
	c.Encode(ba, a)
	c.Encode(bb, b)
	return bytes.Equal(ba, bb)
}

func scratch(stack []byte, n int) []byte {
	if n <= len(stack) {
		return stack[:n]
	}
	return make([]byte, n)
}

type uint64Codec struct{}

func (uint64Codec) Size() int                   { return 8 }
func (uint64Codec) Encode(dst []byte, v uint64) { binary.LittleEndian.PutUint64(dst, v) }
func (uint64Codec) Decode(src []byte) uint64    { return binary.LittleEndian.Uint64(src) }

type int64Codec struct{}

func (int64Codec) Size() int                  { return 8 }
func (int64Codec) Encode(dst []byte, v int64) { binary.LittleEndian.PutUint64(dst, uint64(v)) }
func (int64Codec) Decode(src []byte) int64    { return int64(binary.LittleEndian.Uint64(src)) }

type uint32Codec struct{}

func (uint32Codec) Size() int                   { return 4 }
func (uint32Codec) Encode(dst []byte, v uint32) { binary.LittleEndian.PutUint32(dst, v) }
func (uint32Codec) Decode(src []byte) uint32    { return binary.LittleEndian.Uint32(src) }

type int32Codec struct{}

func (int32Codec) Size() int                  { return 4 }
func (int32Codec) Encode(dst []byte, v int32) { binary.LittleEndian.PutUint32(dst, uint32(v)) }
func (int32Codec) Decode(src []byte) int32    { return int32(binary.LittleEndian.Uint32(src)) }

type refCodec struct{}

func (refCodec) Size() int                       { return 8 }
func (refCodec) Encode(dst []byte, v region.Ref) { binary.LittleEndian.PutUint64(dst, uint64(v)) }
func (refCodec) Decode(src []byte) region.Ref    { return region.Ref(binary.LittleEndian.Uint64(src)) }

type unitCodec struct{}

func (unitCodec) Size() int               { return 0 }
func (unitCodec) Encode([]byte, struct{}) {}
func (unitCodec) Decode([]byte) struct{}  { return struct{}{} }

// Predefined codecs.
var (
	Uint64 Codec[uint64]     = uint64Codec{}
	Int64  Codec[int64]      = int64Codec{}
	Uint32 Codec[uint32]     = uint32Codec{}
	Int32  Codec[int32]      = int32Codec{}
	Ref    Codec[region.Ref] = refCodec{}
	Unit   Codec[struct{}]   = unitCodec{}
)

// FixedBytes returns a codec for byte strings of exactly n bytes. Shorter
// inputs are zero-padded, longer ones truncated.
func FixedBytes(n int) Codec[[]byte] { return fixedBytes(n) }

type fixedBytes int

func (f fixedBytes) Size() int { return int(f) }

func (f fixedBytes) Encode(dst []byte, v []byte) {
	n := copy(dst[:f], v)
	clear(dst[n:f])
}

func (f fixedBytes) Decode(src []byte) []byte {
	return bytes.Clone(src[:f])
}
