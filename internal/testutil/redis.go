package testutil

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// FlushRedis empties the selected Redis database.
func FlushRedis(ctx context.Context, client *redis.Client) error {
	return client.FlushDB(ctx).Err()
}
