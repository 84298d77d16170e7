package codec

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/pmemkit/region"
)

func TestScalarCodecs(t *testing.T) {
	buf := make([]byte, 8)

	Int64.Encode(buf, -5)
	require.Equal(t, int64(-5), Int64.Decode(buf))

	Int32.Encode(buf, -7)
	require.Equal(t, int32(-7), Int32.Decode(buf))

	Ref.Encode(buf, region.Ref(0x1008))
	require.Equal(t, region.Ref(0x1008), Ref.Decode(buf))

	require.Zero(t, Unit.Size())
}

func TestFixedBytes_PadsAndTruncates(t *testing.T) {
	c := FixedBytes(4)
	buf := []byte{9, 9, 9, 9}

	c.Encode(buf, []byte{1, 2})
	require.Equal(t, []byte{1, 2, 0, 0}, buf)

	c.Encode(buf, []byte{1, 2, 3, 4, 5})
	require.Equal(t, []byte{1, 2, 3, 4}, c.Decode(buf))
}

func TestHashAndEqual(t *testing.T) {
	require.Equal(t, Hash(Uint64, 42), Hash(Uint64, 42))
	require.NotEqual(t, Hash(Uint64, 42), Hash(Uint64, 43))
	require.True(t, Equal(Int32, 3, 3))
	require.False(t, Equal(Int32, 3, 4))

	big := FixedBytes(100)
	require.True(t, Equal(big, []byte("abc"), []byte("abc")))
}

// selfRel stores a value as an offset relative to its own position.
type selfRel struct{ moves int }

func (*selfRel) Size() int { return 8 }
func (*selfRel) Encode(dst []byte, v uint64) {
	binary.LittleEndian.PutUint64(dst, v)
}
func (*selfRel) Decode(src []byte) uint64 { return binary.LittleEndian.Uint64(src) }
func (s *selfRel) Move(data []byte, dst, src uint64) {
	s.moves++
	abs := binary.LittleEndian.Uint64(data[src:]) + src
	binary.LittleEndian.PutUint64(data[dst:], abs-dst)
}

func TestMove(t *testing.T) {
	data := make([]byte, 64)
	for i := range uint64(3) {
		Uint64.Encode(data[i*8:], 100+i)
	}
	Move(Uint64, data, 32, 0, 3)
	for i := range uint64(3) {
		require.Equal(t, 100+i, Uint64.Decode(data[32+i*8:]))
	}

	sr := &selfRel{}
	binary.LittleEndian.PutUint64(data[0:], 500) // absolute 500
	Move[uint64](sr, data, 40, 0, 1)
	require.Equal(t, 1, sr.moves)
	require.Equal(t, uint64(460), binary.LittleEndian.Uint64(data[40:]))
}
