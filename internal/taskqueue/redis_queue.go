package taskqueue

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultRedisPrefix namespaces the keys of Redis-backed components.
const DefaultRedisPrefix = "umeboshi:"

// brpopTimeout bounds each blocking pop so ctx is re-checked regularly.
const brpopTimeout = time.Second

// RedisQueue implements the Queue interface using Redis.
//
// It uses a single Redis list with key:
//
//	<prefix>tasks
//
// Values are CBOR-encoded Task structs. Producers LPUSH and consumers
// BRPOP, so tasks are delivered FIFO to exactly one consumer.
type RedisQueue struct {
	client redis.UniversalClient
	key    string
	log    zerolog.Logger
}

// NewRedisQueue constructs a Redis-backed Queue. An empty prefix selects
// DefaultRedisPrefix.
func NewRedisQueue(client redis.UniversalClient, prefix string, log zerolog.Logger) *RedisQueue {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisQueue{
		client: client,
		key:    prefix + "tasks",
		log:    log,
	}
}

// Ensure RedisQueue implements Queue.
var _ Queue = (*RedisQueue)(nil)

// Enqueue pushes a task onto the Redis list (LPUSH).
func (q *RedisQueue) Enqueue(ctx context.Context, t Task) error {
	data, err := EncodeTask(t)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return errors.Wrap(err, "taskqueue: redis lpush")
	}
	return nil
}

// Dequeue blocks on BRPOP until a task is available or ctx is done.
// Undecodable entries are logged and dropped.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// BRPop returns [key, value].
		res, err := q.client.BRPop(ctx, brpopTimeout, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, errors.Wrap(err, "taskqueue: redis brpop")
		}
		if len(res) != 2 {
			q.log.Warn().Interface("result", res).Msg("redis queue: unexpected brpop result")
			continue
		}

		t, err := DecodeTask([]byte(res[1]))
		if err != nil {
			q.log.Error().Err(err).Msg("redis queue: dropping undecodable task")
			continue
		}
		return t, nil
	}
}

// Len returns the approximate number of tasks queued (LLEN).
func (q *RedisQueue) Len() int {
	n, err := q.client.LLen(context.Background(), q.key).Result()
	if err != nil {
		q.log.Warn().Err(err).Msg("redis queue: llen failed")
		return 0
	}
	return int(n)
}
