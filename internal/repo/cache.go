package repo

import (
	"context"
	"log/slog"
	"time"

	"zaiko-bot/internal/cache"
)

const stateCacheTTL = 10 * time.Minute

// CachedStore layers a Redis read-through cache over the user-state lookups,
// which a sheet-backed store otherwise pays a full range read for on every
// turn. All other operations pass through unchanged.
type CachedStore struct {
	Store
	cache  *cache.Redis
	logger *slog.Logger
}

// NewCached wraps store with the user-state cache.
func NewCached(store Store, redis *cache.Redis, logger *slog.Logger) *CachedStore {
	return &CachedStore{
		Store:  store,
		cache:  redis,
		logger: logger.With("component", "repo_cache"),
	}
}

func stateCacheKey(userID string) string {
	return "zaiko:state:" + userID
}

func (c *CachedStore) GetUserState(ctx context.Context, userID string) (*UserState, error) {
	var cached UserState
	hit, err := c.cache.GetJSON(ctx, stateCacheKey(userID), &cached)
	if err != nil {
		c.logger.Warn("state cache read failed", "error", err, "user", userID)
	} else if hit {
		return &cached, nil
	}

	us, err := c.Store.GetUserState(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := c.cache.SetJSON(ctx, stateCacheKey(userID), us, stateCacheTTL); err != nil {
		c.logger.Warn("state cache write failed", "error", err, "user", userID)
	}
	return us, nil
}

func (c *CachedStore) SetUserState(ctx context.Context, state UserState) error {
	if err := c.Store.SetUserState(ctx, state); err != nil {
		// Drop the cached copy so a partial write cannot mask the store.
		if delErr := c.cache.Delete(ctx, stateCacheKey(state.UserID)); delErr != nil {
			c.logger.Warn("state cache invalidation failed", "error", delErr, "user", state.UserID)
		}
		return err
	}
	if err := c.cache.SetJSON(ctx, stateCacheKey(state.UserID), &state, stateCacheTTL); err != nil {
		c.logger.Warn("state cache write failed", "error", err, "user", state.UserID)
	}
	return nil
}
