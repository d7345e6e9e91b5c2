package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/rogers-f/estate-workflow/internal/domain"
)

const applicationPrefix = "application:"

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	// TTL bounds how long a snapshot may be served; zero keeps entries until invalidated.
	TTL time.Duration
}

// RedisCache is a Redis-backed Cache storing applications as JSON.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to Redis and verifies the connection with PING.
func NewRedisCache(opts RedisOptions) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisCache{client: client, ttl: opts.TTL}, nil
}

func key(id string) string { return applicationPrefix + id }

// Get loads and decodes the cached application.
func (c *RedisCache) Get(ctx context.Context, id string) (domain.ApplicationInfo, error) {
	var app domain.ApplicationInfo
	data, err := c.client.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return app, ErrMiss
	}
	if err != nil {
		return app, fmt.Errorf("get %s from redis: %w", key(id), err)
	}
	if err := json.Unmarshal(data, &app); err != nil {
		return app, fmt.Errorf("decode %s: %w", key(id), err)
	}
	return app, nil
}

// Set encodes and stores app.
func (c *RedisCache) Set(ctx context.Context, app domain.ApplicationInfo) error {
	data, err := json.Marshal(app)
	if err != nil {
		return fmt.Errorf("encode application %s: %w", app.ID, err)
	}
	if err := c.client.Set(ctx, key(app.ID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set %s in redis: %w", key(app.ID), err)
	}
	return nil
}

// Invalidate deletes the cached application.
func (c *RedisCache) Invalidate(ctx context.Context, id string) error {
	if err := c.client.Del(ctx, key(id)).Err(); err != nil {
		return fmt.Errorf("delete %s from redis: %w", key(id), err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
