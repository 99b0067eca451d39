package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"estatechat/internal/config"

	redis "github.com/redis/go-redis/v9"
)

// Client wraps go-redis and namespaces every key under a fixed prefix.
type Client struct {
	inner  *redis.Client
	prefix string
}

// ErrCacheMiss mirrors redis.Nil for callers.
var ErrCacheMiss = redis.Nil

var errNotInitialized = errors.New("redis client not initialized")

const keyPrefix = "estatechat:"

// NewRedisClient connects using the redis section of the app config.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	return wrap(ctx, redis.NewClient(opts))
}

// NewFromAddr connects to a bare address, used by tests pointing at a throwaway server.
func NewFromAddr(ctx context.Context, addr string) (*Client, error) {
	return wrap(ctx, redis.NewClient(&redis.Options{Addr: addr}))
}

func wrap(ctx context.Context, client *redis.Client) (*Client, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Client{inner: client, prefix: keyPrefix}, nil
}

func (c *Client) key(k string) string {
	return c.prefix + k
}

// Set stores a key with TTL.
func (c *Client) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if c == nil || c.inner == nil {
		return errNotInitialized
	}
	return c.inner.Set(ctx, c.key(key), value, ttl).Err()
}

// Get fetches the key as string. A missing key yields ErrCacheMiss.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	if c == nil || c.inner == nil {
		return "", errNotInitialized
	}
	return c.inner.Get(ctx, c.key(key)).Result()
}

// Del removes provided keys.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if c == nil || c.inner == nil {
		return errNotInitialized
	}
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	return c.inner.Del(ctx, full...).Err()
}

// Close closes client.
func (c *Client) Close() error {
	if c == nil || c.inner == nil {
		return nil
	}
	return c.inner.Close()
}
