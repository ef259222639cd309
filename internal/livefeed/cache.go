package livefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"alpha-core/internal/featuretypes"
)

// PriceBookCache is a Redis-backed cache of the latest FeatureRow observed
// per symbol, shared across live worker processes so a worker that just
// started (or failed over) can seed its Aligner state without waiting for
// a fresh tick (SPEC_FULL.md §11). Grounded on
// _examples/Funky1981-jax-trading-assistant/libs/marketdata/cache.go's
// Cache (Redis GET/SET of JSON-marshalled market data with a TTL).
type PriceBookCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewPriceBookCache dials addr and verifies connectivity with a short Ping.
func NewPriceBookCache(addr string, ttl time.Duration) (*PriceBookCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("livefeed: connect to redis: %w", err)
	}

	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &PriceBookCache{client: client, ttl: ttl}, nil
}

func cacheKey(symbol string) string { return "livefeed:latest:" + symbol }

// SetLatest caches row as the most recent FeatureRow observed for its
// symbol.
func (c *PriceBookCache) SetLatest(ctx context.Context, row featuretypes.FeatureRow) error {
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("livefeed: marshal feature row: %w", err)
	}
	if err := c.client.Set(ctx, cacheKey(row.Symbol), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("livefeed: cache set: %w", err)
	}
	return nil
}

// GetLatest returns the most recently cached FeatureRow for symbol. ok is
// false if nothing is cached (or it expired).
func (c *PriceBookCache) GetLatest(ctx context.Context, symbol string) (row featuretypes.FeatureRow, ok bool, err error) {
	data, err := c.client.Get(ctx, cacheKey(symbol)).Bytes()
	if err == redis.Nil {
		return featuretypes.FeatureRow{}, false, nil
	}
	if err != nil {
		return featuretypes.FeatureRow{}, false, fmt.Errorf("livefeed: cache get: %w", err)
	}
	if err := json.Unmarshal(data, &row); err != nil {
		return featuretypes.FeatureRow{}, false, fmt.Errorf("livefeed: unmarshal cached row: %w", err)
	}
	return row, true, nil
}

// Close releases the underlying Redis connection.
func (c *PriceBookCache) Close() error { return c.client.Close() }

// SharedQPSCounter tracks a global once-per-second request count across
// every live worker process sharing one Redis instance, the cross-process
// counterpart to libs/middleware.RateLimiter's in-process token bucket
// (spec.md §5's "global QPS semaphore refilled once per second").
type SharedQPSCounter struct {
	client *redis.Client
	prefix string
}

// NewSharedQPSCounter reuses an existing Redis client (typically the same
// one backing PriceBookCache).
func NewSharedQPSCounter(client *redis.Client, prefix string) *SharedQPSCounter {
	if prefix == "" {
		prefix = "livefeed:qps"
	}
	return &SharedQPSCounter{client: client, prefix: prefix}
}

// Incr increments the counter for the current wall-clock second and
// returns the count after incrementing, expiring the key after 2 seconds
// so stale counters never accumulate.
func (c *SharedQPSCounter) Incr(ctx context.Context) (int64, error) {
	key := fmt.Sprintf("%s:%d", c.prefix, time.Now().Unix())
	n, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("livefeed: qps incr: %w", err)
	}
	c.client.Expire(ctx, key, 2*time.Second)
	return n, nil
}
