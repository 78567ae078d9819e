package shardmap

import (
	"context"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	cloudaws "github.com/chenylee-aws/amazon-kinesis-producer/pkg/cloud/aws"
	"github.com/chenylee-aws/amazon-kinesis-producer/pkg/clock"
	"github.com/chenylee-aws/amazon-kinesis-producer/pkg/scheduler"
	"github.com/chenylee-aws/amazon-kinesis-producer/pkg/util"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	shardMapUpdatesStartedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kinesis_producer",
			Subsystem: "shard_map",
			Name:      "updates_started_total",
			Help:      "Total number of shard map updates started.",
		},
		[]string{"stream"})
	shardMapUpdatesCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kinesis_producer",
			Subsystem: "shard_map",
			Name:      "updates_completed_total",
			Help:      "Total number of shard map updates completed, partitioned by outcome.",
		},
		[]string{"stream", "result"})
	shardMapUpdatesDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kinesis_producer",
			Subsystem: "shard_map",
			Name:      "updates_duration_seconds",
			Help:      "Amount of time spent per successful shard map update, in seconds.",
			Buckets:   util.DecimalExponentialBuckets(-3, 5, 2),
		},
		[]string{"stream"})
	shardMapOpenShards = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "kinesis_producer",
			Subsystem: "shard_map",
			Name:      "open_shards",
			Help:      "Number of open shards observed by the most recent successful shard map update.",
		},
		[]string{"stream"})
)

func init() {
	prometheus.MustRegister(shardMapUpdatesStartedTotal)
	prometheus.MustRegister(shardMapUpdatesCompletedTotal)
	prometheus.MustRegister(shardMapUpdatesDurationSeconds)
	prometheus.MustRegister(shardMapOpenShards)
}

const maxListShardsResults = 1000

// Default values for the tunable durations of NewShardMap().
const (
	DefaultMinBackoff     = time.Second
	DefaultMaxBackoff     = 30 * time.Second
	DefaultClosedShardTTL = time.Minute
)

type mapState int

const (
	stateInvalid mapState = iota
	stateUpdating
	stateReady
)

// shardIndex is an immutable snapshot of the disjoint cover built by
// one successful update. A pointer to the current snapshot is published
// atomically, so that lookups never contend with updates.
type shardIndex struct {
	entries []indexEntry
}

// ShardMap maintains a self repairing view of the shard topology of a
// single Kinesis stream, and maps the hash key of each outgoing record
// to the open shard that owns it.
//
// The view is refreshed by paginating over ListShards. Refreshes run
// asynchronously; while one is in progress, or after one has failed,
// lookups simply report that no shard is known and the caller falls
// back to its own routing policy. Failed refreshes are retried with
// exponential backoff through the provided Scheduler.
//
// Shard descriptors observed by past refreshes remain available through
// GetShard() for at least closedShardTTL after the shard drops out of
// the open set, so that records that were in flight across a
// resharding operation can still be classified.
type ShardMap struct {
	kinesisClient  cloudaws.KinesisClient
	scheduler      scheduler.Scheduler
	clock          clock.Clock
	errorLogger    util.ErrorLogger
	streamName     string
	streamARN      string
	minBackoff     time.Duration
	maxBackoff     time.Duration
	closedShardTTL time.Duration

	updatesStartedTotal   prometheus.Counter
	updatesSucceededTotal prometheus.Counter
	updatesFailedTotal    prometheus.Counter
	updatesDuration       prometheus.Observer
	openShards            prometheus.Gauge

	index atomic.Pointer[shardIndex]

	lock            sync.Mutex
	state           mapState
	backoff         time.Duration
	updatedAt       time.Time
	updateStartedAt time.Time
	retryTask       scheduler.Task
	openShardIDs    map[ShardID]struct{}

	cacheLock         sync.RWMutex
	cachedShards      map[ShardID]types.Shard
	cacheNeedsCleanup bool
}

// NewShardMap creates a ShardMap for a single stream and immediately
// starts the first topology refresh and the background goroutine that
// removes closed shards from the cache. Both run until the process
// terminates.
func NewShardMap(kinesisClient cloudaws.KinesisClient, scheduler scheduler.Scheduler, clock clock.Clock, errorLogger util.ErrorLogger, streamName, streamARN string, minBackoff, maxBackoff, closedShardTTL time.Duration) *ShardMap {
	sm := &ShardMap{
		kinesisClient:  kinesisClient,
		scheduler:      scheduler,
		clock:          clock,
		errorLogger:    errorLogger,
		streamName:     streamName,
		streamARN:      streamARN,
		minBackoff:     minBackoff,
		maxBackoff:     maxBackoff,
		closedShardTTL: closedShardTTL,

		updatesStartedTotal:   shardMapUpdatesStartedTotal.WithLabelValues(streamName),
		updatesSucceededTotal: shardMapUpdatesCompletedTotal.WithLabelValues(streamName, "success"),
		updatesFailedTotal:    shardMapUpdatesCompletedTotal.WithLabelValues(streamName, "failure"),
		updatesDuration:       shardMapUpdatesDurationSeconds.WithLabelValues(streamName),
		openShards:            shardMapOpenShards.WithLabelValues(streamName),

		state:        stateInvalid,
		backoff:      minBackoff,
		cachedShards: map[ShardID]types.Shard{},
	}
	sm.lock.Lock()
	sm.update()
	sm.lock.Unlock()
	go sm.runJanitor()
	return sm
}

// ShardID returns the id of the open shard whose hash key range
// contains the provided hash key. The second return value is false if
// no current view of the topology is available, in which case the
// caller is expected to apply its fallback routing policy.
//
// This method is called once per outgoing record. It never blocks and
// performs no allocation: the lookup is a binary search over the index
// snapshot that was current when the method was called.
func (sm *ShardMap) ShardID(hashKey HashKey) (ShardID, bool) {
	index := sm.index.Load()
	if index == nil {
		return 0, false
	}
	entries := index.entries
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].endHashKey.Compare(hashKey) >= 0
	})
	if i >= len(entries) {
		sm.errorLogger.Log(status.Errorf(codes.Internal, "Hash key %s of stream %#v lies beyond the last entry of the shard map", hashKey, sm.streamName))
		return 0, false
	}
	return entries[i].shardID, true
}

// GetShard returns the full shard descriptor for a shard id, if it is
// known. The retry path uses this to determine whether a record that
// landed on an unexpected shard was still within that shard's hash key
// range, in which case the mis-route is benign.
func (sm *ShardMap) GetShard(shardID ShardID) (types.Shard, bool) {
	sm.cacheLock.RLock()
	defer sm.cacheLock.RUnlock()
	shard, ok := sm.cachedShards[shardID]
	return shard, ok
}

// Invalidate reports that a record was observed to have landed on a
// shard other than the one predicted at enqueue time. A refresh is
// started only if the observation postdates the current view and the
// predicted shard (if any) is still part of it; mis-routes of records
// that were routed against an older view carry no new information.
func (sm *ShardMap) Invalidate(seenAt time.Time, predictedShard *ShardID) {
	sm.lock.Lock()
	defer sm.lock.Unlock()

	if sm.state != stateReady || !seenAt.After(sm.updatedAt) {
		return
	}
	if predictedShard != nil {
		if _, ok := sm.openShardIDs[*predictedShard]; !ok {
			return
		}
	}
	predicted := "none"
	if predictedShard != nil {
		predicted = predictedShard.String()
	}
	log.Printf("Invalidating shard map for stream %#v: mis-route observed %s after the last update (predicted shard: %s)", sm.streamName, seenAt.Sub(sm.updatedAt), predicted)
	sm.update()
}

// update transitions the state machine to UPDATING and starts a new
// pagination chain, unless one is already in flight. The caller must
// hold sm.lock.
func (sm *ShardMap) update() {
	if sm.state == stateUpdating {
		return
	}
	sm.state = stateUpdating
	sm.index.Store(nil)
	if sm.retryTask != nil {
		sm.retryTask.Cancel()
	}
	sm.updateStartedAt = sm.clock.Now()
	sm.updatesStartedTotal.Inc()
	log.Printf("Updating shard map for stream %#v%s", sm.streamName, sm.streamARNSuffix())
	go sm.listShards()
}

func (sm *ShardMap) retryUpdate() {
	sm.lock.Lock()
	sm.update()
	sm.lock.Unlock()
}

func (sm *ShardMap) streamARNSuffix() string {
	if sm.streamARN == "" {
		return ""
	}
	return " (arn: " + sm.streamARN + ")"
}

// listShards drives one full pagination chain against ListShards. The
// staging buffer is local to the chain: nothing becomes visible to
// lookups until the final page has been reconciled. At most one chain
// is in flight at any time, which the UPDATING state guarantees.
func (sm *ShardMap) listShards() {
	ctx := context.Background()
	var stagedShards []types.Shard
	var nextToken *string
	for {
		input := &kinesis.ListShardsInput{
			MaxResults: aws.Int32(maxListShardsResults),
		}
		if nextToken != nil {
			input.NextToken = nextToken
		} else {
			// Closed shards are filtered out on the server side.
			input.StreamName = aws.String(sm.streamName)
			if sm.streamARN != "" {
				input.StreamARN = aws.String(sm.streamARN)
			}
			input.ShardFilter = &types.ShardFilter{
				Type: types.ShardFilterTypeAtLatest,
			}
		}
		output, err := sm.kinesisClient.ListShards(ctx, input)
		if err != nil {
			sm.updateFailed(util.StatusWrap(err, "Failed to list shards"))
			return
		}
		stagedShards = append(stagedShards, output.Shards...)
		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}
	sm.finishUpdate(stagedShards)
}

// finishUpdate reconciles the staged shards of a completed pagination
// chain into a new index snapshot and publishes it.
func (sm *ShardMap) finishUpdate(stagedShards []types.Shard) {
	ranges := make([]shardRange, 0, len(stagedShards))
	openShardIDs := make(map[ShardID]struct{}, len(stagedShards))
	for i := range stagedShards {
		r, err := newShardRange(&stagedShards[i])
		if err != nil {
			sm.updateFailed(util.StatusWrap(err, "Invalid shard descriptor"))
			return
		}
		ranges = append(ranges, r)
		openShardIDs[r.shardID] = struct{}{}
	}
	index := &shardIndex{
		entries: buildMinimalDisjointRanges(ranges),
	}

	// Shards omitted from the cover are cached as well: the retry
	// path may still observe records landing on them.
	sm.cacheLock.Lock()
	for i, r := range ranges {
		sm.cachedShards[r.shardID] = stagedShards[i]
	}
	sm.cacheNeedsCleanup = true
	sm.cacheLock.Unlock()

	sm.lock.Lock()
	sm.state = stateReady
	sm.updatedAt = sm.clock.Now()
	sm.backoff = sm.minBackoff
	sm.openShardIDs = openShardIDs
	sm.index.Store(index)
	sm.updatesDuration.Observe(sm.updatedAt.Sub(sm.updateStartedAt).Seconds())
	sm.lock.Unlock()

	sm.updatesSucceededTotal.Inc()
	sm.openShards.Set(float64(len(openShardIDs)))
	log.Printf("Successfully updated shard map for stream %#v%s. Found %d open shards", sm.streamName, sm.streamARNSuffix(), len(openShardIDs))
}

// updateFailed transitions the state machine back to INVALID and
// schedules a retry at the current backoff. The scheduled retry is
// reused across consecutive failures, so that at most one retry is
// pending at any time.
func (sm *ShardMap) updateFailed(err error) {
	sm.lock.Lock()
	sm.state = stateInvalid
	sm.index.Store(nil)
	backoff := sm.backoff
	if sm.retryTask == nil {
		sm.retryTask = sm.scheduler.Schedule(sm.retryUpdate, backoff)
	} else {
		sm.retryTask.Reschedule(backoff)
	}
	sm.backoff = sm.backoff * 3 / 2
	if sm.backoff > sm.maxBackoff {
		sm.backoff = sm.maxBackoff
	}
	sm.lock.Unlock()

	sm.updatesFailedTotal.Inc()
	sm.errorLogger.Log(util.StatusWrapf(err, "Failed to update shard map for stream %#v%s; retrying in %s", sm.streamName, sm.streamARNSuffix(), backoff))
}

// runJanitor periodically removes cache entries for shards that are no
// longer part of the open set. Eviction only happens once the current
// view is older than closedShardTTL, so a descriptor remains available
// for at least that long after the shard last appeared in a refresh.
func (sm *ShardMap) runJanitor() {
	_, tickerChannel := sm.clock.NewTicker(sm.closedShardTTL / 2)
	for range tickerChannel {
		sm.cleanUpCachedShards()
	}
}

func (sm *ShardMap) cleanUpCachedShards() {
	sm.lock.Lock()
	ready := sm.state == stateReady
	updatedAt := sm.updatedAt
	openShardIDs := sm.openShardIDs
	sm.lock.Unlock()
	if !ready || sm.clock.Now().Sub(updatedAt) <= sm.closedShardTTL {
		return
	}

	sm.cacheLock.Lock()
	if sm.cacheNeedsCleanup {
		for shardID := range sm.cachedShards {
			if _, ok := openShardIDs[shardID]; !ok {
				log.Printf("Removing closed shard %s of stream %#v from the shard cache", shardID, sm.streamName)
				delete(sm.cachedShards, shardID)
			}
		}
		sm.cacheNeedsCleanup = false
	}
	sm.cacheLock.Unlock()
}
