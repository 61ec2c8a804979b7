package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/marketmonitor/internal/core/domain"
)

// Client wraps Redis operations for the ingestion lease and the rescan queue.
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	LeaseTTL time.Duration `yaml:"lease_ttl"`
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
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Key helpers
func queueKey(stream string) string {
	return fmt.Sprintf("monitor:rescan:%s", stream)
}

func leaseKey(stream string) string {
	return fmt.Sprintf("monitor:lease:%s", stream)
}

// -----------------------------------------------------------------------------
// Ingestion lease
// -----------------------------------------------------------------------------

// refreshScript extends the lease only while it is still held by owner.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// releaseScript deletes the lease only while it is still held by owner.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// AcquireLease takes the exclusive ingestion lease for a stream.
func (c *Client) AcquireLease(ctx context.Context, stream, owner string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, leaseKey(stream), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	return ok, nil
}

// RefreshLease extends the lease TTL. It reports false if the lease was lost.
func (c *Client) RefreshLease(ctx context.Context, stream, owner string, ttl time.Duration) (bool, error) {
	n, err := refreshScript.Run(ctx, c.rdb, []string{leaseKey(stream)}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("refresh lease failed: %w", err)
	}
	return n == 1, nil
}

// ReleaseLease gives up the lease if still held by owner.
func (c *Client) ReleaseLease(ctx context.Context, stream, owner string) error {
	if err := releaseScript.Run(ctx, c.rdb, []string{leaseKey(stream)}, owner).Err(); err != nil {
		return fmt.Errorf("release lease failed: %w", err)
	}
	return nil
}

// LeaseHolder returns the current lease owner, or "" when the lease is free.
func (c *Client) LeaseHolder(ctx context.Context, stream string) (string, error) {
	owner, err := c.rdb.Get(ctx, leaseKey(stream)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get lease failed: %w", err)
	}
	return owner, nil
}

// -----------------------------------------------------------------------------
// Rescan queue
// -----------------------------------------------------------------------------

// PopRange pops the next range from the queue (lowest score = smallest block).
func (c *Client) PopRange(ctx context.Context, stream string) (start, end uint64, found bool, err error) {
	results, err := c.rdb.ZPopMin(ctx, queueKey(stream), 1).Result()
	if err != nil {
		return 0, 0, false, fmt.Errorf("zpopmin failed: %w", err)
	}
	if len(results) == 0 {
		return 0, 0, false, nil
	}

	member, ok := results[0].Member.(string)
	if !ok {
		return 0, 0, false, fmt.Errorf("unexpected queue member %v", results[0].Member)
	}
	r, err := domain.ParseBlockRange(member)
	if err != nil {
		return 0, 0, false, fmt.Errorf("invalid queue member: %w", err)
	}
	return r.Start, r.End, true, nil
}

// PushRange adds a range to the queue.
func (c *Client) PushRange(ctx context.Context, stream string, start, end uint64) error {
	member := fmt.Sprintf("%d-%d", start, end)
	if err := c.rdb.ZAdd(ctx, queueKey(stream), redis.Z{Score: float64(start), Member: member}).Err(); err != nil {
		return fmt.Errorf("zadd failed: %w", err)
	}
	return nil
}

// GetAllRanges returns all ranges in the queue.
func (c *Client) GetAllRanges(ctx context.Context, stream string) ([]string, error) {
	return c.rdb.ZRange(ctx, queueKey(stream), 0, -1).Result()
}

// ReplaceRanges atomically swaps the queue contents.
func (c *Client) ReplaceRanges(ctx context.Context, stream string, ranges [][2]uint64) error {
	key := queueKey(stream)
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		for _, r := range ranges {
			pipe.ZAdd(ctx, key, redis.Z{Score: float64(r[0]), Member: fmt.Sprintf("%d-%d", r[0], r[1])})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace ranges failed: %w", err)
	}
	return nil
}
