package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"neighborhood-digest/internal/domain"
	"neighborhood-digest/internal/infra/metrics"
)

// RedisRunQueue хранит события запусков в Redis list.
type RedisRunQueue struct {
	client *redis.Client
	key    string
}

var _ domain.EventPublisher = (*RedisRunQueue)(nil)

// NewRedisRunQueue создаёт очередь по указанному ключу.
func NewRedisRunQueue(client *redis.Client, key string) *RedisRunQueue {
	return &RedisRunQueue{client: client, key: key}
}

// Publish кладёт событие в очередь.
func (q *RedisRunQueue) Publish(ctx context.Context, event domain.RunEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push event: %w", err)
	}
	return nil
}

// Pop блокирующе читает следующее событие.
func (q *RedisRunQueue) Pop(ctx context.Context) (domain.RunEvent, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.RunEvent{}, err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.RunEvent{}, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.RunEvent{}, err
		}
		if len(res) != 2 {
			return domain.RunEvent{}, errors.New("redis queue: unexpected response")
		}
		var event domain.RunEvent
		if err := json.Unmarshal([]byte(res[1]), &event); err != nil {
			return domain.RunEvent{}, fmt.Errorf("decode event: %w", err)
		}
		return event, nil
	}
}
