package container

// Cell tags written into the allocator header of every cell a container
// owns. They only matter to diagnostics (pmctl stats, verify).
const (
	TagMapHeader uint32 = 0x10 + iota
	TagMapBuckets
	TagMapNode
	TagShardHeader
	TagShardTable
	TagShardBuckets
	TagShardNode
	TagStackHeader
	TagStackArray
	TagQueueHeader
	TagQueueNode
	TagCacheHeader
	TagBlock
)

// Tags of the records built on the containers.
const (
	TagReplicaRoot uint32 = 0x40 + iota
	TagPaxosRecord
	TagPath
	TagServiceRoot
)

// TagName returns a short name for a tag, or "" for unknown tags.
func TagName(tag uint32) string {
	switch tag {
	case TagMapHeader:
		return "map"
	case TagMapBuckets:
		return "map-buckets"
	case TagMapNode:
		return "map-node"
	case TagShardHeader:
		return "shardmap"
	case TagShardTable:
		return "shardmap-shards"
	case TagShardBuckets:
		return "shardmap-buckets"
	case TagShardNode:
		return "shardmap-node"
	case TagStackHeader:
		return "stack"
	case TagStackArray:
		return "stack-array"
	case TagQueueHeader:
		return "queue"
	case TagQueueNode:
		return "queue-node"
	case TagCacheHeader:
		return "blockcache"
	case TagBlock:
		return "block"
	case TagReplicaRoot:
		return "replica"
	case TagPaxosRecord:
		return "paxos"
	case TagPath:
		return "snapshot-path"
	case TagServiceRoot:
		return "kvservice"
	}
	return ""
}
