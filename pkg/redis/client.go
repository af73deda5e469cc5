// Package redis wraps go-redis with the handful of operations the
// gateway actually needs: a generic get/set used by the identity and
// signature caches, and simple counters used by usage accounting.
// Every caller treats a nil *Client as "Redis not configured" and
// falls back to an in-process equivalent — Redis here is a cache, the
// JSON account file remains the source of truth.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key prefixes for the values the gateway stores in Redis.
const (
	PrefixSignatureTool     = "cloudcode:signatures:tool:"
	PrefixSignatureThinking = "cloudcode:signatures:thinking:"
	PrefixStats             = "cloudcode:stats:"
	PrefixIdentityCache     = "cloudcode:identity:"
)

// Client wraps a go-redis client with the gateway's domain operations.
type Client struct {
	rdb *redis.Client
}

// Config is the subset of connection settings the gateway exposes.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// NewClient dials Redis and verifies the connection with a PING.
func NewClient(cfg Config) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis: connect to %s: %w", cfg.Addr, err)
	}
	return &Client{rdb: rdb}, nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Raw exposes the underlying client for call sites that need a
// go-redis operation this wrapper doesn't cover.
func (c *Client) Raw() *redis.Client {
	return c.rdb
}

// Set marshals value as JSON and stores it with an optional TTL (0
// means no expiry).
func (c *Client) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, data, ttl).Err()
}

// Get unmarshals the value stored at key into dest. Returns
// redis.Nil (use IsNil) if the key is absent.
func (c *Client) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// GetString retrieves a plain string value.
func (c *Client) GetString(ctx context.Context, key string) (string, error) {
	return c.rdb.Get(ctx, key).Result()
}

// SetString stores a plain string value with an optional TTL.
func (c *Client) SetString(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// Delete removes one or more keys.
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

// Expire sets a TTL on an existing key.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.rdb.Expire(ctx, key, ttl).Err()
}

// IncrBy increments a counter key by delta, creating it at delta if absent.
func (c *Client) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	return c.rdb.IncrBy(ctx, key, delta).Result()
}

// HIncrBy increments a hash field, used by hourly usage buckets.
func (c *Client) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	return c.rdb.HIncrBy(ctx, key, field, delta).Result()
}

// HGetAll retrieves every field of a hash.
func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return c.rdb.HGetAll(ctx, key).Result()
}

// ScanKeys returns every key matching pattern, paging through SCAN.
func (c *Client) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var cursor uint64
	var keys []string
	for {
		batch, next, err := c.rdb.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

// IsNil reports whether err is the go-redis "key not found" sentinel.
func IsNil(err error) bool {
	return err == redis.Nil
}
