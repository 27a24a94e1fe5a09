package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pavelanni/kotoba/internal/quiz"
)

// RedisCache stores engine state as JSON in Redis so sessions survive
// restarts and can be shared between server instances.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache connects to the Redis server at addr. A zero ttl means
// DefaultTTL.
func NewRedisCache(addr, password string, db int, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisCache{rdb: rdb, ttl: ttl}
}

// Ping checks the connection.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the client.
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}

func stateKey(id string) string {
	return fmt.Sprintf("session:%s:quiz_state", id)
}

func (c *RedisCache) Get(ctx context.Context, id string) (quiz.State, error) {
	raw, err := c.rdb.Get(ctx, stateKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return quiz.State{}, ErrNotFound
	}
	if err != nil {
		return quiz.State{}, fmt.Errorf("get session %s: %w", id, err)
	}
	var st quiz.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return quiz.State{}, fmt.Errorf("decode session %s: %w", id, err)
	}
	return st, nil
}

func (c *RedisCache) Set(ctx context.Context, id string, st quiz.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", id, err)
	}
	return c.rdb.Set(ctx, stateKey(id), data, c.ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, id string) error {
	return c.rdb.Del(ctx, stateKey(id)).Err()
}
