package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tapon/qrengine/internal/model"
)

// Cache key prefixes and TTLs.
const (
	profileKeyPrefix  = "profile:url:"
	negCacheKeySuffix = ":neg"

	// DefaultProfileTTL is the TTL for cached profile URLs.
	DefaultProfileTTL = 24 * time.Hour

	// NegativeCacheTTL is the TTL for negative cache entries.
	NegativeCacheTTL = 5 * time.Minute
)

// Common cache errors.
var (
	ErrCacheMiss = errors.New("cache miss")
)

// GetProfileURL returns the cached resolved URL of a profile.
// Returns ErrCacheMiss if not found.
func (c *Cache) GetProfileURL(ctx context.Context, profileID string) (*model.CachedProfile, error) {
	key := profileKeyPrefix + profileID

	result, err := c.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall failed: %w", err)
	}
	if len(result) == 0 || result["url"] == "" {
		return nil, ErrCacheMiss
	}

	return &model.CachedProfile{
		URL:       result["url"],
		UpdatedAt: result["updated_at"],
	}, nil
}

// SetProfileURL caches the resolved URL of a profile and clears any
// negative entry for it.
func (c *Cache) SetProfileURL(ctx context.Context, profileID, url string) error {
	key := profileKeyPrefix + profileID
	cached := model.NewCachedProfile(url, time.Now())

	pipe := c.client.Pipeline()
	pipe.HSet(ctx, key, map[string]any{
		"url":        cached.URL,
		"updated_at": cached.UpdatedAt,
	})
	pipe.Expire(ctx, key, DefaultProfileTTL)
	pipe.Del(ctx, key+negCacheKeySuffix)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache profile url: %w", err)
	}
	return nil
}

// DeleteProfileURL removes a profile from cache.
func (c *Cache) DeleteProfileURL(ctx context.Context, profileID string) error {
	key := profileKeyPrefix + profileID

	pipe := c.client.Pipeline()
	pipe.Del(ctx, key)
	pipe.Del(ctx, key+negCacheKeySuffix)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete profile from cache: %w", err)
	}
	return nil
}

// IsNegativelyCached checks if a profile is in negative cache.
func (c *Cache) IsNegativelyCached(ctx context.Context, profileID string) (bool, error) {
	key := profileKeyPrefix + profileID + negCacheKeySuffix

	exists, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check negative cache: %w", err)
	}
	return exists > 0, nil
}

// SetNegativeCache marks a profile as not found.
func (c *Cache) SetNegativeCache(ctx context.Context, profileID string) error {
	key := profileKeyPrefix + profileID + negCacheKeySuffix

	if err := c.client.SetEx(ctx, key, "", NegativeCacheTTL).Err(); err != nil {
		return fmt.Errorf("failed to set negative cache: %w", err)
	}
	return nil
}
