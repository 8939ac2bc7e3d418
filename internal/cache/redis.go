package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "doc-reviewer:"

// Redis is a Store backed by a redis server. Keys carry an EX ttl and the
// envelope write time is checked again on read.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

type envelope struct {
	Value     json.RawMessage `json:"value"`
	CreatedAt time.Time       `json:"created_at"`
}

// ConnectRedis parses url, connects and verifies connectivity.
func ConnectRedis(ctx context.Context, url string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedis(rdb, ttl), nil
}

func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{rdb: rdb, ttl: ttl, now: time.Now}
}

func (r *Redis) Get(ctx context.Context, key string) (Entry, bool, error) {
	raw, err := r.rdb.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Entry{}, false, fmt.Errorf("decode cache entry %s: %w", key, err)
	}

	if expired(env.CreatedAt, r.now(), r.ttl) {
		return Entry{}, false, r.Delete(ctx, key)
	}

	return Entry{Key: key, Value: env.Value, CreatedAt: env.CreatedAt}, true, nil
}

// Put stores value, which must be valid JSON.
func (r *Redis) Put(ctx context.Context, key string, value []byte) error {
	if !json.Valid(value) {
		return fmt.Errorf("cache value for %s is not valid json", key)
	}

	payload, err := json.Marshal(envelope{Value: value, CreatedAt: r.now()})
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", key, err)
	}

	if err := r.rdb.Set(ctx, keyPrefix+key, payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}

	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
