package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const processedKeyPrefix = "payment-event:processed:"

type Client struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewClient creates a new Redis client for the processed-event cache.
// The cache is advisory only: it lets hot duplicate deliveries skip a
// ledger round trip, while the ledger's unique constraint stays the
// source of truth.
func NewClient(addr, password string, db int, ttl time.Duration) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb, ttl: ttl}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// MarkProcessed caches an event id as processed with a TTL.
func (c *Client) MarkProcessed(ctx context.Context, eventID string) error {
	return c.rdb.Set(ctx, processedKeyPrefix+eventID, "1", c.ttl).Err()
}

// SeenProcessed reports whether an event id is cached as processed.
func (c *Client) SeenProcessed(ctx context.Context, eventID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, processedKeyPrefix+eventID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
