package kvservice

import (
	"crypto/sha512"
	"encoding/binary"

	"github.com/joshuapare/pmemkit/region"
)

// Root record.
const (
	rootMap         = 0x00 // ref, shardmap.Map[Chunk, Chunk]
	rootCache       = 0x08 // ref, blockcache.SizeBucketed
	rootLastRequest = 0x10 // i64
	rootDigest      = 0x18 // sha512.Size bytes
	rootMagic       = rootDigest + sha512.Size
	rootSize        = rootMagic + 8

	serviceMagic uint32 = 0x5356564B // "KVVS"
)

// Chunk is a byte string stored in its own block.
type Chunk struct {
	Ref region.Ref
	Len uint64
}

func (c Chunk) bytes(data []byte) []byte {
	if c.Ref.IsNil() {
		return nil
	}
	return data[c.Ref : uint64(c.Ref)+c.Len]
}

type chunkCodec struct{}

func (chunkCodec) Size() int { return 16 }

func (chunkCodec) Encode(dst []byte, c Chunk) {
	binary.LittleEndian.PutUint64(dst[0:], uint64(c.Ref))
	binary.LittleEndian.PutUint64(dst[8:], c.Len)
}

func (chunkCodec) Decode(src []byte) Chunk {
	return Chunk{
		Ref: region.Ref(binary.LittleEndian.Uint64(src[0:])),
		Len: binary.LittleEndian.Uint64(src[8:]),
	}
}

// digestCodec stores the chain digest inline in the root.
type digestCodec struct{}

func (digestCodec) Size() int { return sha512.Size }

func (digestCodec) Encode(dst []byte, d [sha512.Size]byte) { copy(dst, d[:]) }

func (digestCodec) Decode(src []byte) (d [sha512.Size]byte) {
	copy(d[:], src)
	return d
}
