package cache

import (
	"context"
	"fmt"
	"time"
)

const visitorKeyPrefix = "scan:visitor:"

// DefaultVisitorWindow is how long a visitor stays "seen" for a code.
const DefaultVisitorWindow = 24 * time.Hour

// MarkVisitor records that fingerprint scanned qrID and reports whether this
// is the first sighting within window. fingerprint should already be hashed.
func (c *Cache) MarkVisitor(ctx context.Context, qrID, fingerprint string, window time.Duration) (bool, error) {
	if window <= 0 {
		window = DefaultVisitorWindow
	}

	first, err := c.client.SetNX(ctx, visitorKey(qrID, fingerprint), "1", window).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark visitor: %w", err)
	}
	return first, nil
}

// ReleaseVisitor forgets a sighting, used when the scan it belonged to was
// not accepted.
func (c *Cache) ReleaseVisitor(ctx context.Context, qrID, fingerprint string) error {
	if err := c.client.Del(ctx, visitorKey(qrID, fingerprint)).Err(); err != nil {
		return fmt.Errorf("failed to release visitor: %w", err)
	}
	return nil
}

// ResetVisitors drops every visitor marker of qrID, as done on regenerate.
func (c *Cache) ResetVisitors(ctx context.Context, qrID string) error {
	var cursor uint64
	pattern := visitorKeyPrefix + qrID + ":*"

	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan visitor keys: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Unlink(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete visitor keys: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func visitorKey(qrID, fingerprint string) string {
	return visitorKeyPrefix + qrID + ":" + fingerprint
}
