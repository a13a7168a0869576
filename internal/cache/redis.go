package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/offertracker/internal/llm"
)

const redisKeyPrefix = "offertracker:verdict:"

// Redis is the shared verdict cache backend; entries expire server-side via
// the key TTL.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects and pings within a short timeout so a down Redis fails
// fast at startup instead of on the first message.
func NewRedis(ctx context.Context, addr string, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("cache: redis connection failed: %w", err)
	}
	return &Redis{client: client, ttl: ttl}, nil
}

// NewRedisWithClient wraps an existing client; tests use this with miniredis.
func NewRedisWithClient(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, key string) (llm.RawVerdict, bool, error) {
	raw, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return llm.RawVerdict{}, false, nil
	}
	if err != nil {
		return llm.RawVerdict{}, false, fmt.Errorf("cache: redis get: %w", err)
	}
	var v llm.RawVerdict
	if err := json.Unmarshal(raw, &v); err != nil {
		return llm.RawVerdict{}, false, nil
	}
	return v, true, nil
}

func (r *Redis) Put(ctx context.Context, key string, verdict llm.RawVerdict) error {
	payload, err := json.Marshal(verdict)
	if err != nil {
		return fmt.Errorf("cache: encoding verdict: %w", err)
	}
	if err := r.client.Set(ctx, redisKeyPrefix+key, payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}

func (r *Redis) Close() error { return r.client.Close() }
