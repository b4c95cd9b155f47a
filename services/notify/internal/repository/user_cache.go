package repository

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/diagnosis/luxsuv-confirmations/pkg/logger"
)

const userEmailCachePrefix = "notify:user-email:"

// CachedDirectory memoises successful lookups in Redis for ttl. Cache
// failures fall through to the wrapped directory.
type CachedDirectory struct {
	next   UserDirectory
	client redis.UniversalClient
	ttl    time.Duration
}

func NewCachedDirectory(next UserDirectory, client redis.UniversalClient, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{next: next, client: client, ttl: ttl}
}

func (c *CachedDirectory) LookupEmail(ctx context.Context, userID string) (string, error) {
	key := userEmailCachePrefix + userID

	email, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil && email != "":
		return email, nil
	case err != nil && !errors.Is(err, redis.Nil):
		logger.WarnContext(ctx, "user email cache read failed", "user_id", userID, "error", err)
	}

	email, err = c.next.LookupEmail(ctx, userID)
	if err != nil {
		return "", err
	}

	if err := c.client.Set(ctx, key, email, c.ttl).Err(); err != nil {
		logger.WarnContext(ctx, "user email cache write failed", "user_id", userID, "error", err)
	}
	return email, nil
}
