// Package cache provides the Redis access layer: the usage ledger and IP rate limits.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/epochapi/epochapi/internal/store"
)

// Config describes the Redis connection and the Redis-backed components.
type Config struct {
	URL string

	// PoolSize caps open connections. Zero keeps the driver default of
	// ten per GOMAXPROCS.
	PoolSize     int
	MinIdleConns int

	// DialTimeout bounds connecting; OpTimeout bounds each command and
	// how long a caller waits for a pooled connection. Admission runs a
	// Redis round trip on every gated request, so OpTimeout stays short.
	DialTimeout     time.Duration
	OpTimeout       time.Duration
	ConnMaxIdleTime time.Duration

	// IssueRPS and IssueBurst size the per-IP issuance bucket.
	IssueRPS   float64
	IssueBurst int
}

// Cache owns the Redis client and the ledger and limiter built on it.
type Cache struct {
	client  *redis.Client
	ledger  *Ledger
	limiter *IPLimiter
}

// clientOptions parses the URL and applies cfg on top. Values set
// explicitly in cfg win over URL query parameters.
func clientOptions(cfg Config) (*redis.Options, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis URL cannot be empty")
	}
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if cfg.PoolSize > 0 {
		opt.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opt.MinIdleConns = cfg.MinIdleConns
	}
	if cfg.DialTimeout > 0 {
		opt.DialTimeout = cfg.DialTimeout
	}
	if cfg.OpTimeout > 0 {
		opt.ReadTimeout = cfg.OpTimeout
		opt.WriteTimeout = cfg.OpTimeout
		opt.PoolTimeout = cfg.OpTimeout
	}
	if cfg.ConnMaxIdleTime > 0 {
		opt.ConnMaxIdleTime = cfg.ConnMaxIdleTime
	}
	return opt, nil
}

// New connects to Redis and builds the usage ledger and issuance limiter.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	opt, err := clientOptions(cfg)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return newCache(client, cfg), nil
}

func newCache(client *redis.Client, cfg Config) *Cache {
	return &Cache{
		client:  client,
		ledger:  &Ledger{client: client, now: store.UTCNow},
		limiter: &IPLimiter{client: client, rps: cfg.IssueRPS, burst: max(cfg.IssueBurst, 1)},
	}
}

// Ledger returns the Redis usage ledger.
func (c *Cache) Ledger() *Ledger {
	return c.ledger
}

// IPLimiter returns the Redis issuance limiter.
func (c *Cache) IPLimiter() *IPLimiter {
	return c.limiter
}

// Ping checks Redis connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (c *Cache) Close() error {
	return c.client.Close()
}
