package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

type Stats struct {
	Ready      int64 `json:"ready"`
	Processing int64 `json:"processing"`
	Delayed    int64 `json:"delayed"`
	Dead       int64 `json:"dead"`
}

type RedisQueue struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time

	mu       sync.RWMutex
	policies map[string]Policy
	entropy  *ulid.MonotonicEntropy
}

func NewRedisQueue(rdb *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "revshare:jobs"
	}
	return &RedisQueue{
		rdb:      rdb,
		prefix:   prefix,
		now:      time.Now,
		policies: make(map[string]Policy),
		entropy:  ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

func (q *RedisQueue) SetPolicy(queue string, p Policy) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.policies[queue] = p.normalized()
}

func (q *RedisQueue) Policy(queue string) Policy {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if p, ok := q.policies[queue]; ok {
		return p
	}
	return Policy{}.normalized()
}

func (q *RedisQueue) key(queue, kind string) string {
	return fmt.Sprintf("%s:%s:%s", q.prefix, queue, kind)
}

func (q *RedisQueue) newID() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(q.now()), q.entropy).String()
}

func (q *RedisQueue) Enqueue(ctx context.Context, queue, jobType string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode job payload: %w", err)
	}
	job := Job{
		ID:          q.newID(),
		Queue:       queue,
		Type:        jobType,
		Payload:     raw,
		MaxAttempts: q.Policy(queue).MaxAttempts,
		EnqueuedAt:  q.now().UTC(),
	}
	encoded, err := json.Marshal(job)
	if err != nil {
		return "", err
	}
	if err := q.rdb.LPush(ctx, q.key(queue, "ready"), encoded).Err(); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", queue, err)
	}
	return job.ID, nil
}

// Fetch moves the oldest ready job to the processing list. It returns nil
// when nothing arrives within timeout.
func (q *RedisQueue) Fetch(ctx context.Context, queue string, timeout time.Duration) (*Job, string, error) {
	raw, err := q.rdb.BRPopLPush(ctx, q.key(queue, "ready"), q.key(queue, "processing"), timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		// Unreadable envelopes are parked with the dead letters.
		pipe := q.rdb.TxPipeline()
		pipe.LRem(ctx, q.key(queue, "processing"), 1, raw)
		pipe.LPush(ctx, q.key(queue, "dead"), raw)
		_, _ = pipe.Exec(ctx)
		return nil, "", fmt.Errorf("decode job: %w", err)
	}
	job.Attempt++
	return &job, raw, nil
}

func (q *RedisQueue) Ack(ctx context.Context, queue, raw string) error {
	return q.rdb.LRem(ctx, q.key(queue, "processing"), 1, raw).Err()
}

// Fail schedules a retry with exponential backoff, or dead-letters the job
// when attempts are exhausted or the error is permanent. It reports whether
// the job was dead-lettered.
func (q *RedisQueue) Fail(ctx context.Context, job Job, raw string, cause error) (bool, error) {
	if cause != nil {
		job.LastError = cause.Error()
	}
	dead := IsPermanent(cause) || job.Attempt >= job.MaxAttempts

	encoded, err := json.Marshal(job)
	if err != nil {
		return false, err
	}

	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, q.key(job.Queue, "processing"), 1, raw)
	if dead {
		pipe.LPush(ctx, q.key(job.Queue, "dead"), encoded)
	} else {
		due := q.now().Add(q.Policy(job.Queue).Backoff(job.Attempt))
		pipe.ZAdd(ctx, q.key(job.Queue, "delayed"), redis.Z{Score: float64(due.UnixMilli()), Member: encoded})
	}
	_, err = pipe.Exec(ctx)
	return dead, err
}

// PromoteDue moves delayed jobs whose time has come back to the ready list.
func (q *RedisQueue) PromoteDue(ctx context.Context, queue string) (int, error) {
	delayedKey := q.key(queue, "delayed")
	members, err := q.rdb.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(q.now().UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, member := range members {
		// ZREM decides ownership when several promoters race.
		removed, err := q.rdb.ZRem(ctx, delayedKey, member).Result()
		if err != nil {
			return moved, err
		}
		if removed == 0 {
			continue
		}
		if err := q.rdb.LPush(ctx, q.key(queue, "ready"), member).Err(); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

// Recover returns jobs left in the processing list by a crashed worker to
// the ready list.
func (q *RedisQueue) Recover(ctx context.Context, queue string) (int, error) {
	moved := 0
	for {
		err := q.rdb.RPopLPush(ctx, q.key(queue, "processing"), q.key(queue, "ready")).Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, err
		}
		moved++
	}
}

func (q *RedisQueue) DeadLetters(ctx context.Context, queue string, limit int64) ([]Job, error) {
	if limit <= 0 {
		limit = 100
	}
	raws, err := q.rdb.LRange(ctx, q.key(queue, "dead"), 0, limit-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Job, 0, len(raws))
	for _, raw := range raws {
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			job = Job{Queue: queue, LastError: "undecodable envelope", Payload: json.RawMessage(strconv.Quote(raw))}
		}
		out = append(out, job)
	}
	return out, nil
}

func (q *RedisQueue) Stats(ctx context.Context, queue string) (Stats, error) {
	pipe := q.rdb.Pipeline()
	ready := pipe.LLen(ctx, q.key(queue, "ready"))
	processing := pipe.LLen(ctx, q.key(queue, "processing"))
	delayed := pipe.ZCard(ctx, q.key(queue, "delayed"))
	dead := pipe.LLen(ctx, q.key(queue, "dead"))
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, err
	}
	return Stats{
		Ready:      ready.Val(),
		Processing: processing.Val(),
		Delayed:    delayed.Val(),
		Dead:       dead.Val(),
	}, nil
}
