package shardmap

import (
	"container/heap"

	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	"github.com/chenylee-aws/amazon-kinesis-producer/pkg/util"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// shardRange is the hash key range owned by a single open shard, as
// parsed from a shard descriptor.
type shardRange struct {
	startHashKey HashKey
	endHashKey   HashKey
	shardID      ShardID

	// Whether the range was narrowed because a range above it was
	// already committed to the cover. Trimmed ranges lose ties
	// against descriptors whose range was reported verbatim.
	trimmed bool
}

// newShardRange extracts the shard id and hash key range from a shard
// descriptor returned by ListShards.
func newShardRange(shard *types.Shard) (shardRange, error) {
	if shard.ShardId == nil {
		return shardRange{}, status.Error(codes.InvalidArgument, "Shard descriptor contains no shard id")
	}
	shardID, err := ParseShardID(*shard.ShardId)
	if err != nil {
		return shardRange{}, err
	}
	hashKeyRange := shard.HashKeyRange
	if hashKeyRange == nil || hashKeyRange.StartingHashKey == nil || hashKeyRange.EndingHashKey == nil {
		return shardRange{}, status.Errorf(codes.InvalidArgument, "Shard %#v contains no hash key range", *shard.ShardId)
	}
	startHashKey, err := ParseHashKey(*hashKeyRange.StartingHashKey)
	if err != nil {
		return shardRange{}, util.StatusWrapf(err, "Invalid starting hash key of shard %#v", *shard.ShardId)
	}
	endHashKey, err := ParseHashKey(*hashKeyRange.EndingHashKey)
	if err != nil {
		return shardRange{}, util.StatusWrapf(err, "Invalid ending hash key of shard %#v", *shard.ShardId)
	}
	if endHashKey.Compare(startHashKey) < 0 {
		return shardRange{}, status.Errorf(codes.InvalidArgument, "Shard %#v has an inverted hash key range", *shard.ShardId)
	}
	return shardRange{
		startHashKey: startHashKey,
		endHashKey:   endHashKey,
		shardID:      shardID,
	}, nil
}

// shardRangeHeap orders shard ranges by decreasing ending hash key,
// breaking ties by decreasing starting hash key. Among fully equal
// ranges, untrimmed descriptors order before trimmed ones and lower
// shard ids order before higher ones, which makes the resulting cover
// independent of the order in which ListShards returned the shards.
type shardRangeHeap []shardRange

func (h shardRangeHeap) Len() int {
	return len(h)
}

func (h shardRangeHeap) Less(i, j int) bool {
	if c := h[i].endHashKey.Compare(h[j].endHashKey); c != 0 {
		return c > 0
	}
	if c := h[i].startHashKey.Compare(h[j].startHashKey); c != 0 {
		return c > 0
	}
	if h[i].trimmed != h[j].trimmed {
		return !h[i].trimmed
	}
	return h[i].shardID < h[j].shardID
}

func (h shardRangeHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *shardRangeHeap) Push(x any) {
	*h = append(*h, x.(shardRange))
}

func (h *shardRangeHeap) Pop() any {
	old := *h
	r := old[len(old)-1]
	*h = old[:len(old)-1]
	return r
}

// indexEntry maps the hash key range ending at endHashKey (and starting
// right after the previous entry's ending hash key) to the shard that
// owns it.
type indexEntry struct {
	endHashKey HashKey
	shardID    ShardID
}

// buildMinimalDisjointRanges reduces a set of possibly overlapping
// shard ranges to a disjoint cover of the hash key space, returning
// index entries in ascending order of ending hash key.
//
// During a resharding operation ListShards may report both a parent
// shard and its children, whose ranges overlap. When that happens, the
// children make up the cover and the parent is left out of it, so that
// a payload aggregated by the range of one entry never spans a child
// boundary. Ranges are consumed from the top of the key space
// downwards, the narrower range first among ranges with the same
// ending hash key, and a range reaching into the region already
// committed is either trimmed to the part below it or dropped entirely.
func buildMinimalDisjointRanges(ranges []shardRange) []indexEntry {
	h := shardRangeHeap(append([]shardRange(nil), ranges...))
	heap.Init(&h)

	var lastStartHashKey HashKey
	committed := false
	reversed := make([]indexEntry, 0, len(ranges))
	for h.Len() > 0 {
		r := heap.Pop(&h).(shardRange)
		if !committed || r.endHashKey.Compare(lastStartHashKey) < 0 {
			// Lies entirely below the committed region.
			reversed = append(reversed, indexEntry{
				endHashKey: r.endHashKey,
				shardID:    r.shardID,
			})
			lastStartHashKey = r.startHashKey
			committed = true
		} else if r.startHashKey.Compare(lastStartHashKey) < 0 {
			// Sticks out below the committed region.
			r.endHashKey = lastStartHashKey.Previous()
			r.trimmed = true
			heap.Push(&h, r)
		}
		// Fully shadowed otherwise.
	}

	entries := make([]indexEntry, 0, len(reversed))
	for i := len(reversed) - 1; i >= 0; i-- {
		entries = append(entries, reversed[i])
	}
	return entries
}
