// Package usercache keeps the identity of recently seen users in Redis so
// every authenticated request does not hit PostgreSQL.
package usercache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/Proton-105/coinwatch/internal/domain"
)

// Loader fetches an identity from the source of truth on a cache miss.
type Loader func(ctx context.Context, userID int64) (domain.Identity, error)

// Cache provides Redis-backed caching for user identities.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache constructs an identity cache backed by the provided Redis client.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{client: client, ttl: ttl}
}

// Get fetches a cached identity; ok is false on a miss.
func (c *Cache) Get(ctx context.Context, userID int64) (domain.Identity, bool, error) {
	if c == nil || c.client == nil {
		return domain.Identity{}, false, nil
	}

	data, err := c.client.Get(ctx, cacheKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Identity{}, false, nil
		}
		return domain.Identity{}, false, fmt.Errorf("get cached identity: %w", err)
	}

	var id domain.Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return domain.Identity{}, false, fmt.Errorf("decode cached identity: %w", err)
	}

	return id, true, nil
}

// Set stores the identity for the cache TTL.
func (c *Cache) Set(ctx context.Context, id domain.Identity) error {
	if c == nil || c.client == nil || !id.Authenticated() {
		return nil
	}

	payload, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("encode identity for cache: %w", err)
	}

	if err := c.client.Set(ctx, cacheKey(id.UserID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("set cached identity: %w", err)
	}

	return nil
}

// GetOrLoad returns the cached identity or loads and caches it. Cache
// failures fall through to the loader.
func (c *Cache) GetOrLoad(ctx context.Context, userID int64, load Loader) (domain.Identity, error) {
	if id, ok, err := c.Get(ctx, userID); err == nil && ok {
		return id, nil
	}

	id, err := load(ctx, userID)
	if err != nil {
		return domain.Identity{}, err
	}
	_ = c.Set(ctx, id)

	return id, nil
}

// Invalidate removes the cached entry if it exists.
func (c *Cache) Invalidate(ctx context.Context, userID int64) error {
	if c == nil || c.client == nil {
		return nil
	}

	if err := c.client.Del(ctx, cacheKey(userID)).Err(); err != nil {
		return fmt.Errorf("delete cached identity: %w", err)
	}

	return nil
}

func cacheKey(userID int64) string {
	return fmt.Sprintf("identity:%d", userID)
}
