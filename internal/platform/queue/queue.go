// Package queue implements the FIFO task queue on a Redis list. Producers
// push serialized task descriptors to the tail; the dispatcher pops from
// the head, so tasks run in submission order.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/terralens/terralens-api/internal/config"
	"github.com/terralens/terralens-api/internal/domain"
)

// ErrQueueClosed is returned by Pop when the context is cancelled and no
// more descriptors will be delivered.
var ErrQueueClosed = errors.New("task queue closed")

// popTimeout bounds each blocking pop so cancellation is observed promptly.
const popTimeout = 2 * time.Second

// Queue is a FIFO queue of task descriptors backed by a Redis list.
type Queue struct {
	client *redis.Client
	name   string
}

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, cfg config.RedisConfig) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return &Queue{client: client, name: cfg.QueueName}, nil
}

// Push appends the descriptor to the tail of the queue.
func (q *Queue) Push(ctx context.Context, desc domain.Descriptor) error {
	payload, err := desc.Marshal()
	if err != nil {
		return fmt.Errorf("failed to serialize task descriptor: %w", err)
	}
	if err := q.client.RPush(ctx, q.name, payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue task descriptor: %w", err)
	}
	return nil
}

// Pop blocks until a descriptor is available at the head of the queue or
// the context is cancelled. Cancellation is reported as ErrQueueClosed.
func (q *Queue) Pop(ctx context.Context) (domain.Descriptor, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.Descriptor{}, ErrQueueClosed
		}

		res, err := q.client.BLPop(ctx, popTimeout, q.name).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return domain.Descriptor{}, ErrQueueClosed
			}
			return domain.Descriptor{}, fmt.Errorf("failed to pop task descriptor: %w", err)
		}

		// BLPop returns [key, value].
		if len(res) != 2 {
			return domain.Descriptor{}, fmt.Errorf("unexpected BLPOP reply of length %d", len(res))
		}
		return domain.UnmarshalDescriptor([]byte(res[1]))
	}
}

// Len reports the number of descriptors currently waiting in the queue.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.name).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue length: %w", err)
	}
	return n, nil
}

// Close releases the underlying Redis connection.
func (q *Queue) Close() error {
	return q.client.Close()
}
