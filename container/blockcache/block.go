package blockcache

import (
	"encoding/binary"

	"github.com/joshuapare/pmemkit/codec"
	"github.com/joshuapare/pmemkit/region"
)

// Block is a contiguous cell of the region and its usable length.
type Block struct {
	Ref  region.Ref
	Size uint64
}

// IsNil reports whether b refers to nothing.
func (b Block) IsNil() bool { return b.Ref.IsNil() }

// Bytes returns the block's bytes inside data.
func (b Block) Bytes(data []byte) []byte {
	return data[uint64(b.Ref) : uint64(b.Ref)+b.Size]
}

// BlockCodec encodes a Block as [ref u64][size u64].
var BlockCodec codec.Codec[Block] = blockCodec{}

type blockCodec struct{}

func (blockCodec) Size() int { return 16 }

func (blockCodec) Encode(dst []byte, b Block) {
	binary.LittleEndian.PutUint64(dst, uint64(b.Ref))
	binary.LittleEndian.PutUint64(dst[8:], b.Size)
}

func (blockCodec) Decode(src []byte) Block {
	return Block{
		Ref:  region.Ref(binary.LittleEndian.Uint64(src)),
		Size: binary.LittleEndian.Uint64(src[8:]),
	}
}
