package queue

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultLockDuration  = 30 * time.Second
	defaultMaxStalled    = 2
	backoffBase          = 5 * time.Second
	backoffCap           = 30 * time.Second
	claimPollInterval    = 250 * time.Millisecond
	observationBuffer    = 200
)

// RedisBackend implements Backend over a shared *redis.Client, grounded
// on the teacher's RedisQueue (ready list, scheduled/inflight sorted sets,
// Lua-scripted atomic claim) and extended with per-job parent indexing
// and stalled-count tracking so spec.md §4.1's "maxStalledCount detections
// -> permanent failure" rule has somewhere to live.
type RedisBackend struct {
	client *redis.Client

	mu   sync.Mutex
	obs  map[string]chan Observation
}

// NewRedisBackend wraps an existing client; per spec.md §5's
// shared-resource policy, one connection (pool) is shared across all
// queues rather than dialing per queue.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client, obs: make(map[string]chan Observation)}
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}

func readyKey(queueName string) string      { return "queue:ready:" + queueName }
func inflightKey(queueName string) string   { return "queue:inflight:" + queueName }
func scheduledKey(queueName string) string  { return "queue:scheduled:" + queueName }
func metaKey(queueName, jobID string) string { return fmt.Sprintf("queue:meta:%s:%s", queueName, jobID) }
func parentKey(queueName, parentID string) string {
	return fmt.Sprintf("queue:parent:%s:%s", queueName, parentID)
}
func dlqKey(queueName string) string { return "queue:dlq:" + queueName }

func (b *RedisBackend) Observe(queueName string) <-chan Observation {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.obs[queueName]
	if !ok {
		ch = make(chan Observation, observationBuffer)
		b.obs[queueName] = ch
	}
	return ch
}

func (b *RedisBackend) publish(queueName string, o Observation) {
	b.mu.Lock()
	ch, ok := b.obs[queueName]
	b.mu.Unlock()
	if !ok {
		return
	}
	o.Queue = queueName
	select {
	case ch <- o:
	default:
	}
}

func (b *RedisBackend) Enqueue(ctx context.Context, queueName, jobID, parentID string, opts JobOptions) error {
	if opts.Priority == "" {
		opts.Priority = "default"
	}
	pipe := b.client.TxPipeline()
	pipe.HSet(ctx, metaKey(queueName, jobID),
		"priority", opts.Priority,
		"parentId", parentID,
		"attempts", 0,
		"maxAttempts", opts.Attempts,
		"stalledCount", 0,
	)
	if parentID != "" {
		pipe.SAdd(ctx, parentKey(queueName, parentID), jobID)
	}
	if opts.DelayUntil.After(time.Now()) {
		pipe.ZAdd(ctx, scheduledKey(queueName), redis.Z{Score: float64(opts.DelayUntil.UnixMilli()), Member: jobID})
	} else {
		pipe.RPush(ctx, readyKey(queueName), jobID)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (b *RedisBackend) EnqueueBatch(ctx context.Context, queueName string, items []EnqueueItem) error {
	pipe := b.client.TxPipeline()
	for _, item := range items {
		opts := item.Opts
		if opts.Priority == "" {
			opts.Priority = "default"
		}
		pipe.HSet(ctx, metaKey(queueName, item.JobID),
			"priority", opts.Priority,
			"parentId", item.ParentID,
			"attempts", 0,
			"maxAttempts", opts.Attempts,
			"stalledCount", 0,
		)
		if item.ParentID != "" {
			pipe.SAdd(ctx, parentKey(queueName, item.ParentID), item.JobID)
		}
		if opts.DelayUntil.After(time.Now()) {
			pipe.ZAdd(ctx, scheduledKey(queueName), redis.Z{Score: float64(opts.DelayUntil.UnixMilli()), Member: item.JobID})
		} else {
			pipe.RPush(ctx, readyKey(queueName), item.JobID)
		}
	}
	_, err := pipe.Exec(ctx)
	return err
}

var dequeueScript = redis.NewScript(`
local job = redis.call('LPOP', KEYS[1])
if job then
  redis.call('ZADD', KEYS[2], ARGV[1], job)
  return job
end
return nil
`)

// Claim polls for a ready job (ctx-cancellable), atomically moving it
// into the in-flight set with a lease deadline when found.
func (b *RedisBackend) Claim(ctx context.Context, queueName, workerToken string) (string, bool, error) {
	for {
		res, err := dequeueScript.Run(ctx, b.client,
			[]string{readyKey(queueName), inflightKey(queueName)},
			time.Now().Add(defaultLockDuration).UnixMilli(),
		).Result()
		if err != nil && err != redis.Nil {
			return "", false, err
		}
		if err == nil {
			if jobID, ok := res.(string); ok {
				return jobID, true, nil
			}
		}
		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-time.After(claimPollInterval):
		}
	}
}

func (b *RedisBackend) RenewLease(ctx context.Context, queueName, jobID, workerToken string, lockDuration time.Duration) error {
	if lockDuration <= 0 {
		lockDuration = defaultLockDuration
	}
	return b.client.ZAdd(ctx, inflightKey(queueName), redis.Z{
		Score:  float64(time.Now().Add(lockDuration).UnixMilli()),
		Member: jobID,
	}).Err()
}

func (b *RedisBackend) Complete(ctx context.Context, queueName, jobID string) error {
	parentID, _ := b.client.HGet(ctx, metaKey(queueName, jobID), "parentId").Result()
	pipe := b.client.TxPipeline()
	pipe.ZRem(ctx, inflightKey(queueName), jobID)
	pipe.Del(ctx, metaKey(queueName, jobID))
	_, err := pipe.Exec(ctx)
	b.publish(queueName, Observation{JobID: jobID, ParentID: parentID, Name: ObsCompleted})
	return err
}

// Fail applies spec.md §4.1's retry policy: attempts < maxAttempts ->
// requeue after an exponential backoff (base 5s, cap 30s, jittered);
// otherwise move to the dead-letter queue and report a permanent
// failure.
func (b *RedisBackend) Fail(ctx context.Context, queueName, jobID string, cause error) (bool, error) {
	meta, err := b.client.HGetAll(ctx, metaKey(queueName, jobID)).Result()
	if err != nil {
		return false, err
	}
	attempts := atoiDefault(meta["attempts"], 0) + 1
	maxAttempts := atoiDefault(meta["maxAttempts"], 5)
	priority := meta["priority"]
	if priority == "" {
		priority = "default"
	}
	parentID := meta["parentId"]

	pipe := b.client.TxPipeline()
	pipe.ZRem(ctx, inflightKey(queueName), jobID)

	if attempts >= maxAttempts {
		pipe.RPush(ctx, dlqKey(queueName), jobID)
		pipe.Del(ctx, metaKey(queueName, jobID))
		if _, err := pipe.Exec(ctx); err != nil {
			return true, err
		}
		b.publish(queueName, Observation{JobID: jobID, ParentID: parentID, Name: ObsFailed, Payload: cause.Error()})
		return true, nil
	}

	pipe.HSet(ctx, metaKey(queueName, jobID), "attempts", attempts)
	delay := backoffDelay(attempts)
	pipe.ZAdd(ctx, scheduledKey(queueName), redis.Z{Score: float64(time.Now().Add(delay).UnixMilli()), Member: jobID})
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return false, nil
}

func backoffDelay(attempt int) time.Duration {
	d := time.Duration(float64(backoffBase) * math.Pow(2, float64(attempt-1)))
	if d > backoffCap {
		d = backoffCap
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 4))
	return d + jitter
}

func (b *RedisBackend) ReportProgress(ctx context.Context, queueName, jobID, parentID string, pct int) error {
	b.publish(queueName, Observation{JobID: jobID, ParentID: parentID, Name: ObsProgress, Payload: pct})
	return nil
}

func (b *RedisBackend) ListByParent(ctx context.Context, queueName, parentID string) ([]string, error) {
	return b.client.SMembers(ctx, parentKey(queueName, parentID)).Result()
}

func (b *RedisBackend) PromoteScheduled(ctx context.Context, queueName string, now time.Time, limit int64) (int, error) {
	ids, err := b.client.ZRangeByScore(ctx, scheduledKey(queueName), &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now.UnixMilli()), Offset: 0, Count: limit,
	}).Result()
	if err != nil || len(ids) == 0 {
		return 0, err
	}
	pipe := b.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, scheduledKey(queueName), id)
		pipe.RPush(ctx, readyKey(queueName), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// ReclaimStalled finds in-flight jobs whose lease lapsed. Each lapse
// increments stalledCount; once it reaches defaultMaxStalled the job is
// failed permanently (publishing a stalled observation, then a failed
// one), otherwise it's returned to ready for another attempt.
func (b *RedisBackend) ReclaimStalled(ctx context.Context, queueName string, now time.Time, limit int64) ([]string, error) {
	ids, err := b.client.ZRangeByScore(ctx, inflightKey(queueName), &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now.UnixMilli()), Offset: 0, Count: limit,
	}).Result()
	if err != nil || len(ids) == 0 {
		return nil, err
	}

	var permanentlyFailed []string
	for _, id := range ids {
		stalledCount, _ := b.client.HIncrBy(ctx, metaKey(queueName, id), "stalledCount", 1).Result()
		parentID, _ := b.client.HGet(ctx, metaKey(queueName, id), "parentId").Result()
		b.publish(queueName, Observation{JobID: id, ParentID: parentID, Name: ObsStalled})

		if stalledCount >= defaultMaxStalled {
			pipe := b.client.TxPipeline()
			pipe.ZRem(ctx, inflightKey(queueName), id)
			pipe.RPush(ctx, dlqKey(queueName), id)
			pipe.Del(ctx, metaKey(queueName, id))
			if _, err := pipe.Exec(ctx); err == nil {
				b.publish(queueName, Observation{JobID: id, ParentID: parentID, Name: ObsFailed, Payload: "stalled too many times"})
				permanentlyFailed = append(permanentlyFailed, id)
			}
			continue
		}

		pipe := b.client.TxPipeline()
		pipe.ZRem(ctx, inflightKey(queueName), id)
		pipe.RPush(ctx, readyKey(queueName), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return permanentlyFailed, err
		}
	}
	return permanentlyFailed, nil
}

func (b *RedisBackend) ReadyDepth(ctx context.Context, queueName string) (int64, error) {
	return b.client.LLen(ctx, readyKey(queueName)).Result()
}

func (b *RedisBackend) DLQPeek(ctx context.Context, queueName string, count int64) ([]string, error) {
	return b.client.LRange(ctx, dlqKey(queueName), 0, count-1).Result()
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return def
	}
	return n
}
