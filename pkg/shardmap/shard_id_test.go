package shardmap_test

import (
	"testing"

	"github.com/chenylee-aws/amazon-kinesis-producer/pkg/shardmap"
	"github.com/stretchr/testify/require"
)

func TestParseShardID(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		for _, entry := range []struct {
			in  string
			out shardmap.ShardID
		}{
			{"shardId-000000000000", 0},
			{"shardId-000000000049", 49},
			{"shardId-999999999999", 999999999999},
			{"shardId-1000000000000", 1000000000000},
		} {
			shardID, err := shardmap.ParseShardID(entry.in)
			require.NoError(t, err)
			require.Equal(t, entry.out, shardID)
		}
	})

	t.Run("Failure", func(t *testing.T) {
		for _, s := range []string{
			"",
			"shardId-",
			"shardId-12ab",
			"shardId--5",
			"shardid-000000000001",
			"shard-000000000001",
			"000000000001",
		} {
			_, err := shardmap.ParseShardID(s)
			require.Error(t, err, "input %#v", s)
		}
	})
}

func TestShardIDString(t *testing.T) {
	require.Equal(t, "shardId-000000000000", shardmap.ShardID(0).String())
	require.Equal(t, "shardId-000000000049", shardmap.ShardID(49).String())
	require.Equal(t, "shardId-999999999999", shardmap.ShardID(999999999999).String())
}

// Shard ids must survive a round trip through the external string
// representation, as records are classified by comparing ids parsed
// from API responses against predicted ones.
func TestShardIDRoundTrip(t *testing.T) {
	for _, id := range []shardmap.ShardID{0, 1, 12, 345678, 999999999999} {
		parsed, err := shardmap.ParseShardID(id.String())
		require.NoError(t, err)
		require.Equal(t, id, parsed)
	}
}
