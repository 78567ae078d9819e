package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	cloudaws "github.com/chenylee-aws/amazon-kinesis-producer/pkg/cloud/aws"
	"github.com/chenylee-aws/amazon-kinesis-producer/pkg/clock"
	"github.com/chenylee-aws/amazon-kinesis-producer/pkg/program"
	"github.com/chenylee-aws/amazon-kinesis-producer/pkg/scheduler"
	"github.com/chenylee-aws/amazon-kinesis-producer/pkg/shardmap"
	"github.com/chenylee-aws/amazon-kinesis-producer/pkg/util"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// applicationConfiguration is the schema of the Jsonnet configuration
// file that this utility takes as its only argument.
type applicationConfiguration struct {
	// Name of the stream whose shard topology should be watched.
	StreamName string `json:"streamName"`
	// Optional ARN of the stream.
	StreamARN string `json:"streamArn"`
	// Bounds of the exponential backoff applied to failed topology
	// refreshes. Zero values select the defaults of one and thirty
	// seconds, respectively.
	MinBackoffMilliseconds int64 `json:"minBackoffMilliseconds"`
	MaxBackoffMilliseconds int64 `json:"maxBackoffMilliseconds"`
	// How long descriptors of closed shards remain resolvable. A
	// zero value selects the default of one minute.
	ClosedShardTTLMilliseconds int64 `json:"closedShardTtlMilliseconds"`
	// Decimal hash keys that are resolved and logged at every probe
	// interval. When empty, the lowest and highest hash keys of the
	// key space are probed.
	ProbeHashKeys []string `json:"probeHashKeys"`
	// Time between probes. A zero value selects ten seconds.
	ProbeIntervalMilliseconds int64 `json:"probeIntervalMilliseconds"`
	// When set, Prometheus metrics are served at this address under
	// /metrics.
	MetricsListenAddress string `json:"metricsListenAddress"`
	// Options for constructing the AWS SDK client.
	AWSClient *cloudaws.ClientConfiguration `json:"awsClient"`
}

func durationOrDefault(milliseconds int64, def time.Duration) time.Duration {
	if milliseconds == 0 {
		return def
	}
	return time.Duration(milliseconds) * time.Millisecond
}

func main() {
	program.Run(func(ctx context.Context, siblingsGroup, dependenciesGroup program.Group) error {
		if len(os.Args) != 2 {
			return status.Error(codes.InvalidArgument, "Usage: kinesis_shard_map kinesis_shard_map.jsonnet")
		}
		var configuration applicationConfiguration
		if err := util.UnmarshalConfigurationFromFile(os.Args[1], &configuration); err != nil {
			return util.StatusWrapf(err, "Failed to read configuration from %s", os.Args[1])
		}
		if configuration.StreamName == "" {
			return status.Error(codes.InvalidArgument, "No stream name specified")
		}

		awsConfig, err := cloudaws.NewConfigFromConfiguration(configuration.AWSClient)
		if err != nil {
			return util.StatusWrap(err, "Failed to create AWS session")
		}
		probeHashKeys := make([]shardmap.HashKey, 0, len(configuration.ProbeHashKeys))
		for _, s := range configuration.ProbeHashKeys {
			hashKey, err := shardmap.ParseHashKey(s)
			if err != nil {
				return util.StatusWrapf(err, "Invalid probe hash key %#v", s)
			}
			probeHashKeys = append(probeHashKeys, hashKey)
		}
		if len(probeHashKeys) == 0 {
			probeHashKeys = append(probeHashKeys, shardmap.NewHashKey(0, 0), shardmap.MaxHashKey)
		}

		shardMap := shardmap.NewShardMap(
			kinesis.NewFromConfig(awsConfig),
			scheduler.NewClockScheduler(clock.SystemClock),
			clock.SystemClock,
			util.DefaultErrorLogger,
			configuration.StreamName,
			configuration.StreamARN,
			durationOrDefault(configuration.MinBackoffMilliseconds, shardmap.DefaultMinBackoff),
			durationOrDefault(configuration.MaxBackoffMilliseconds, shardmap.DefaultMaxBackoff),
			durationOrDefault(configuration.ClosedShardTTLMilliseconds, shardmap.DefaultClosedShardTTL))

		if address := configuration.MetricsListenAddress; address != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			server := http.Server{
				Addr:    address,
				Handler: mux,
			}
			siblingsGroup.Go(func(ctx context.Context, siblingsGroup, dependenciesGroup program.Group) error {
				go func() {
					<-ctx.Done()
					server.Close()
				}()
				if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					return util.StatusWrapf(err, "Failed to serve metrics at %#v", address)
				}
				return nil
			})
		}

		probeInterval := durationOrDefault(configuration.ProbeIntervalMilliseconds, 10*time.Second)
		ticker, tickerChannel := clock.SystemClock.NewTicker(probeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-tickerChannel:
				for _, hashKey := range probeHashKeys {
					shardID, ok := shardMap.ShardID(hashKey)
					if !ok {
						log.Printf("Hash key %s: no shard map available", hashKey)
						continue
					}
					if shard, ok := shardMap.GetShard(shardID); ok && shard.HashKeyRange != nil {
						log.Printf("Hash key %s: %s [%s, %s]", hashKey, shardID, *shard.HashKeyRange.StartingHashKey, *shard.HashKeyRange.EndingHashKey)
					} else {
						log.Printf("Hash key %s: %s", hashKey, shardID)
					}
				}
			}
		}
	})
}
