package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a redis-backed store for server deployments where the API
// and worker processes share one durable queue.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to the redis instance described by url (e.g.
// "redis://localhost:6379/0") and verifies the connection with a ping.
// All keys are stored under the given prefix.
func NewRedis(url, prefix string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	if prefix == "" {
		prefix = "roadbook"
	}
	return &Redis{client: client, prefix: prefix}, nil
}

// Get implements Store.
func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.prefix+":"+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Set implements Store.
func (r *Redis) Set(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, r.prefix+":"+key, value, 0).Err()
}

// Remove implements Store.
func (r *Redis) Remove(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+":"+key).Err()
}

// RemoveMany implements Store.
func (r *Redis) RemoveMany(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = r.prefix + ":" + k
	}
	return r.client.Del(ctx, prefixed...).Err()
}

// Close releases the redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
