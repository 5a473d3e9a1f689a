package oracle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/entrhq/formforge/pkg/match"
)

// Cache stores oracle responses by request key.
type Cache interface {
	Get(ctx context.Context, key string) (Response, bool, error)
	Set(ctx context.Context, key string, resp Response, ttl time.Duration) error
}

// CacheKey identifies a request by what the oracle sees: the normalized
// label, desired value and option list. Failure history is left out so a
// retry can reuse an earlier answer.
func CacheKey(req Request) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00", req.Widget, match.Normalize(req.Label), match.Normalize(req.Desired))
	for _, o := range req.Options {
		h.Write([]byte(strings.TrimSpace(o)))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

type memoryEntry struct {
	resp    Response
	expires time.Time
}

// MemoryCache is an in-process Cache with per-entry expiry.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache returns an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, key string) (Response, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Response{}, false, nil
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		delete(c.entries, key)
		return Response{}, false, nil
	}
	return e.resp, true, nil
}

// Set implements Cache. A non-positive ttl never expires.
func (c *MemoryCache) Set(_ context.Context, key string, resp Response, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := memoryEntry{resp: resp}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.entries[key] = e
	return nil
}

// RedisCache stores responses as JSON strings in Redis so answers survive
// across runs and are shared between workers.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// DefaultRedisPrefix namespaces cache keys.
const DefaultRedisPrefix = "formforge:oracle:"

// NewRedisCache wraps an existing client.
func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisCache{client: client, prefix: prefix}
}

// DialRedisCache opens a client for addr. The cache owns the client and
// Close releases it.
func DialRedisCache(addr, prefix string) *RedisCache {
	return NewRedisCache(redis.NewClient(&redis.Options{Addr: addr}), prefix)
}

// Close closes the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string) (Response, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return Response{}, false, nil
	}
	if err != nil {
		return Response{}, false, fmt.Errorf("redis get: %w", err)
	}
	var resp Response
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		return Response{}, false, fmt.Errorf("decode cached response: %w", err)
	}
	return resp, true, nil
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, key string, resp Response, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	if ttl < 0 {
		ttl = 0
	}
	return c.client.Set(ctx, c.prefix+key, data, ttl).Err()
}

var (
	_ Cache = (*MemoryCache)(nil)
	_ Cache = (*RedisCache)(nil)
)
