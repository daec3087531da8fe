// Package redis is a go-redis backed status cache shared across replicas.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/erasekit/paywall/cache"
	"github.com/erasekit/paywall/entitlement"
)

// DefaultPrefix namespaces status and version keys.
const DefaultPrefix = "paywall:status:"

// versionTTL keeps a version counter alive far longer than any status read.
const versionTTL = 24 * time.Hour

// setIfVersion writes the snapshot only while the version key still holds
// the value the reader saw. A missing version key counts as 0.
var setIfVersion = goredis.NewScript(`
local current = redis.call('GET', KEYS[2])
if (current or '0') ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// Cache stores JSON-encoded status snapshots in redis.
type Cache struct {
	client goredis.UniversalClient
	prefix string
}

// Option configures a Cache.
type Option func(*Cache)

// WithPrefix overrides the key prefix.
func WithPrefix(prefix string) Option {
	return func(c *Cache) { c.prefix = prefix }
}

// New wraps an existing client. The caller owns the client's lifecycle.
func New(client goredis.UniversalClient, opts ...Option) *Cache {
	c := &Cache{client: client, prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ cache.Cache = (*Cache)(nil)

func (c *Cache) key(installID string) string        { return c.prefix + "s:" + installID }
func (c *Cache) versionKey(installID string) string { return c.prefix + "v:" + installID }

func (c *Cache) Get(ctx context.Context, installID string) (*entitlement.Status, error) {
	raw, err := c.client.Get(ctx, c.key(installID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, cache.ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("paywall/redis: get: %w", err)
	}

	var st entitlement.Status
	if err := json.Unmarshal(raw, &st); err != nil {
		// A corrupt entry is treated as absent and dropped.
		_ = c.client.Del(ctx, c.key(installID)).Err() //nolint:errcheck // best-effort cleanup
		return nil, cache.ErrMiss
	}
	return &st, nil
}

func (c *Cache) Version(ctx context.Context, installID string) (uint64, error) {
	v, err := c.client.Get(ctx, c.versionKey(installID)).Uint64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("paywall/redis: version: %w", err)
	}
	return v, nil
}

func (c *Cache) Set(ctx context.Context, status *entitlement.Status, version uint64, ttl time.Duration) (bool, error) {
	if status == nil || ttl <= 0 {
		return false, nil
	}
	raw, err := json.Marshal(status)
	if err != nil {
		return false, fmt.Errorf("paywall/redis: marshal: %w", err)
	}

	keys := []string{c.key(status.InstallID), c.versionKey(status.InstallID)}
	stored, err := setIfVersion.Run(ctx, c.client, keys,
		strconv.FormatUint(version, 10), raw, ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("paywall/redis: set: %w", err)
	}
	return stored == 1, nil
}

func (c *Cache) Invalidate(ctx context.Context, installID string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, c.key(installID))
		pipe.Incr(ctx, c.versionKey(installID))
		pipe.Expire(ctx, c.versionKey(installID), versionTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("paywall/redis: invalidate: %w", err)
	}
	return nil
}
