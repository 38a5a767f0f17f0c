// Package redis provides the fast shared state for the admission
// controller: the priority ranking set, the TTL'd per-minute rate
// counters and the global processing-count counter.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	rankingKey    = "neviso:processing_queue"
	processingKey = "neviso:processing_count"
)

func rateKey(ownerID int64) string {
	return fmt.Sprintf("neviso:rate_limit:owner:%d", ownerID)
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// Client wraps Redis operations for the admission controller.
type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health checks if Redis is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Push inserts or rescores a job in the ranking set.
func (c *Client) Push(ctx context.Context, jobID string, score float64) error {
	if err := c.rdb.ZAdd(ctx, rankingKey, redis.Z{Score: score, Member: jobID}).Err(); err != nil {
		return fmt.Errorf("zadd failed: %w", err)
	}
	return nil
}

// PopTop removes and returns the highest-scoring job.
func (c *Client) PopTop(ctx context.Context) (string, bool, error) {
	results, err := c.rdb.ZRevRangeWithScores(ctx, rankingKey, 0, 0).Result()
	if err != nil {
		return "", false, fmt.Errorf("zrevrange failed: %w", err)
	}
	if len(results) == 0 {
		return "", false, nil
	}

	jobID, _ := results[0].Member.(string)
	if err := c.rdb.ZRem(ctx, rankingKey, jobID).Err(); err != nil {
		return "", false, fmt.Errorf("zrem failed: %w", err)
	}
	return jobID, true, nil
}

// Remove deletes a job from the ranking set.
func (c *Client) Remove(ctx context.Context, jobID string) error {
	return c.rdb.ZRem(ctx, rankingKey, jobID).Err()
}

// Rank returns the job's 0-based rank in descending score order, or -1
// when the job is not in the set.
func (c *Client) Rank(ctx context.Context, jobID string) (int64, error) {
	rank, err := c.rdb.ZRevRank(ctx, rankingKey, jobID).Result()
	if err == redis.Nil {
		return -1, nil
	}
	if err != nil {
		return -1, fmt.Errorf("zrevrank failed: %w", err)
	}
	return rank, nil
}

// Len returns the number of waiting entries in the ranking set.
func (c *Client) Len(ctx context.Context) (int64, error) {
	return c.rdb.ZCard(ctx, rankingKey).Result()
}

// IncrMinuteCount bumps the owner's rolling-minute submission counter,
// arming the TTL on first use.
func (c *Client) IncrMinuteCount(ctx context.Context, ownerID int64, ttl time.Duration) error {
	key := rateKey(ownerID)
	pipe := c.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rate counter incr failed: %w", err)
	}
	_ = incr
	return nil
}

// MinuteCount returns the owner's current rolling-minute counter.
func (c *Client) MinuteCount(ctx context.Context, ownerID int64) (int64, error) {
	val, err := c.rdb.Get(ctx, rateKey(ownerID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("rate counter get failed: %w", err)
	}
	return val, nil
}

// IncrProcessing bumps the global processing counter.
func (c *Client) IncrProcessing(ctx context.Context) (int64, error) {
	return c.rdb.Incr(ctx, processingKey).Result()
}

// DecrProcessing lowers the global processing counter, clamping at zero.
func (c *Client) DecrProcessing(ctx context.Context) (int64, error) {
	n, err := c.rdb.Decr(ctx, processingKey).Result()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		if err := c.rdb.Set(ctx, processingKey, 0, 0).Err(); err != nil {
			return 0, err
		}
		return 0, nil
	}
	return n, nil
}

// ProcessingCount returns the global processing counter.
func (c *Client) ProcessingCount(ctx context.Context) (int64, error) {
	val, err := c.rdb.Get(ctx, processingKey).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}
