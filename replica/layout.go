package replica

import (
	"encoding/binary"

	"github.com/joshuapare/pmemkit/region"
)

// Root record.
const (
	rootExecuteUB    = 0x00 // i32
	rootServiceSeqNo = 0x08 // i64
	rootDecided      = 0x10 // ref, hashmap.Set[int32]
	rootReplies      = 0x18 // ref, hashmap.Map[int64, reply]
	rootPaths        = 0x20 // ref, queue.Queue[blockcache.Block]
	rootArmed        = 0x28 // u64
	rootBlocks       = 0x30 // ref, blockcache.MultiSize
	rootPaxos        = 0x38 // ref
	rootMagic        = 0x40 // u32
	rootSize         = 0x48

	replicaMagic uint32 = 0x4C504552 // "REPL"
)

// Paxos record.
const (
	paxView             = 0x00 // i32
	paxFirstUncommitted = 0x04 // i32
	paxRunUniqueID      = 0x08 // i32
	paxProposerState    = 0x0C // u32
	paxosSize           = 0x10
)

const (
	decidedBuckets = 128
	replyBuckets   = 16384
)

// reply is the stored form of a client's last reply. The value bytes live
// in a separate block.
type reply struct {
	clientID int64
	seqNo    int32
	value    region.Ref
	n        uint64
}

type replyCodec struct{}

func (replyCodec) Size() int { return 32 }

func (replyCodec) Encode(dst []byte, r reply) {
	binary.LittleEndian.PutUint64(dst[0:], uint64(r.clientID))
	binary.LittleEndian.PutUint32(dst[8:], uint32(r.seqNo))
	binary.LittleEndian.PutUint32(dst[12:], 0)
	binary.LittleEndian.PutUint64(dst[16:], uint64(r.value))
	binary.LittleEndian.PutUint64(dst[24:], r.n)
}

func (replyCodec) Decode(src []byte) reply {
	return reply{
		clientID: int64(binary.LittleEndian.Uint64(src[0:])),
		seqNo:    int32(binary.LittleEndian.Uint32(src[8:])),
		value:    region.Ref(binary.LittleEndian.Uint64(src[16:])),
		n:        binary.LittleEndian.Uint64(src[24:]),
	}
}
