package shardmap

import (
	"fmt"
	"strconv"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ShardID is the numeric identifier of a Kinesis shard. The Kinesis API
// represents shard ids as strings of the form "shardId-<decimal>",
// where the decimal part is padded to twelve digits. Only the numeric
// part is retained internally, so that predicted and observed shards
// can be compared cheaply on the retry path.
type ShardID uint64

const shardIDPrefix = "shardId-"

// ParseShardID converts the string representation of a shard id
// returned by the Kinesis API to a ShardID.
func ParseShardID(s string) (ShardID, error) {
	suffix, ok := strings.CutPrefix(s, shardIDPrefix)
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "Shard id %#v does not start with %#v", s, shardIDPrefix)
	}
	id, err := strconv.ParseUint(suffix, 10, 64)
	if err != nil {
		return 0, status.Errorf(codes.InvalidArgument, "Shard id %#v does not end with a decimal number", s)
	}
	return ShardID(id), nil
}

// String converts a ShardID back to the representation used by the
// Kinesis API, padding the numeric part to twelve digits.
func (id ShardID) String() string {
	return fmt.Sprintf("%s%012d", shardIDPrefix, uint64(id))
}
