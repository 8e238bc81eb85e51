// Package cache provides Redis-based caching of completed shift reports
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/savegress/shiftkpi/pkg/models"
)

// DefaultTTL bounds how long a report survives without invalidation
const DefaultTTL = 24 * time.Hour

// Cache stores reports under a generation number. Every store write bumps
// the generation, so reports computed from older data are never served.
type Cache struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	enabled   bool
}

// Config holds cache configuration
type Config struct {
	URL       string
	KeyPrefix string
	TTL       time.Duration
	Enabled   bool
}

// New creates a new Cache instance. A disabled cache is a no-op.
func New(cfg Config) (*Cache, error) {
	if !cfg.Enabled {
		return Disabled(), nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return newCache(client, cfg), nil
}

// Disabled returns a cache that stores nothing
func Disabled() *Cache {
	return &Cache{keyPrefix: "shiftkpi", enabled: false}
}

func newCache(client *redis.Client, cfg Config) *Cache {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "shiftkpi"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		client:    client,
		keyPrefix: prefix,
		ttl:       ttl,
		enabled:   true,
	}
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsEnabled returns whether caching is enabled
func (c *Cache) IsEnabled() bool {
	return c.enabled
}

// key generates a cache key with prefix
func (c *Cache) key(parts ...string) string {
	key := c.keyPrefix
	for _, part := range parts {
		key += ":" + part
	}
	return key
}

func (c *Cache) generationKey() string {
	return c.key("generation")
}

func (c *Cache) reportKey(generation int64, shiftID string, intervals bool) string {
	if intervals {
		return c.key("report", strconv.FormatInt(generation, 10), shiftID, "intervals")
	}
	return c.key("report", strconv.FormatInt(generation, 10), shiftID)
}

func (c *Cache) generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, c.generationKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// GetReport returns a cached shift report. The second result is false on
// a miss or when the cache is disabled.
func (c *Cache) GetReport(ctx context.Context, shiftID string, intervals bool) (*models.Report, bool, error) {
	if !c.enabled {
		return nil, false, nil
	}

	gen, err := c.generation(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("read generation: %w", err)
	}

	data, err := c.client.Get(ctx, c.reportKey(gen, shiftID, intervals)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get report: %w", err)
	}

	var report models.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, false, fmt.Errorf("decode report: %w", err)
	}
	return &report, true, nil
}

// SetReport stores a shift report under the current generation
func (c *Cache) SetReport(ctx context.Context, report *models.Report, intervals bool) error {
	if !c.enabled || report == nil {
		return nil
	}

	gen, err := c.generation(ctx)
	if err != nil {
		return fmt.Errorf("read generation: %w", err)
	}

	data, err := json.Marshal(report)
	if err != nil {
		return err
	}

	return c.client.Set(ctx, c.reportKey(gen, report.Scope.ShiftID, intervals), data, c.ttl).Err()
}

// Invalidate bumps the generation; older reports expire through their TTL
func (c *Cache) Invalidate(ctx context.Context) error {
	if !c.enabled {
		return nil
	}
	return c.client.Incr(ctx, c.generationKey()).Err()
}
