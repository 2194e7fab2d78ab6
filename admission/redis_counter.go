package admission

import (
	"context"
	"errors"
	"time"

	"github.com/cyberinferno/netsession/logger"
	"github.com/cyberinferno/netsession/transport"
	"github.com/redis/go-redis/v9"
)

// RedisCounter is a Counter whose count lives in Redis, so several server
// processes can share one connection ceiling. Admit fails closed: when Redis
// cannot be reached the connection is refused.
type RedisCounter struct {
	client  *redis.Client
	key     string
	max     int64
	timeout time.Duration
	log     logger.Logger
}

// NewRedisCounter creates a RedisCounter.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	policy := admission.NewRedisCounter(client, "lobby:players", 64, log)
//
// Parameters:
//   - client: Redis client
//   - key: Key holding the shared count
//   - max: Shared ceiling across every process using key
//   - log: Logger for Redis failures; nil discards
//
// Returns:
//   - A new *RedisCounter
func NewRedisCounter(client *redis.Client, key string, max int, log logger.Logger) *RedisCounter {
	return &RedisCounter{
		client:  client,
		key:     key,
		max:     int64(max),
		timeout: time.Second,
		log:     logger.Or(log),
	}
}

// SetTimeout bounds every Redis round trip made by the policy.
func (r *RedisCounter) SetTimeout(d time.Duration) {
	r.timeout = d
}

// Admit implements conntable.Policy.
func (r *RedisCounter) Admit(conn transport.Conn) bool {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	n, err := r.client.Incr(ctx, r.key).Result()
	if err != nil {
		r.log.Error("redis admission failed",
			logger.Field{Key: "key", Value: r.key},
			logger.Field{Key: "conn", Value: conn.ID()},
			logger.Field{Key: "error", Value: err},
		)
		return false
	}

	if n > r.max {
		r.decr(ctx)
		return false
	}

	return true
}

// OnRemove implements conntable.Policy.
func (r *RedisCounter) OnRemove(transport.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	r.decr(ctx)
}

func (r *RedisCounter) decr(ctx context.Context) {
	if err := r.client.Decr(ctx, r.key).Err(); err != nil {
		r.log.Error("redis count decrement failed",
			logger.Field{Key: "key", Value: r.key},
			logger.Field{Key: "error", Value: err},
		)
	}
}

// Count returns the shared count.
func (r *RedisCounter) Count(ctx context.Context) (int, error) {
	n, err := r.client.Get(ctx, r.key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}

	return n, err
}
