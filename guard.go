package authlite

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	ocache "github.com/porthorian/authlite/pkg/cache"
	oerrors "github.com/porthorian/authlite/pkg/errors"
)

const defaultInvalidateTimeout = 2 * time.Second

// coherencyGuard drops the cached view of a user once a store call for that
// user has returned. It never fails the caller.
type coherencyGuard struct {
	cache    ocache.PermissionCache
	timeout  time.Duration
	degraded atomic.Int64
}

func newCoherencyGuard(cache ocache.PermissionCache, timeout time.Duration) *coherencyGuard {
	if timeout <= 0 {
		timeout = defaultInvalidateTimeout
	}
	return &coherencyGuard{cache: cache, timeout: timeout}
}

// invalidate runs detached from ctx cancellation: the store write has already
// happened, so the delete must still be attempted.
func (g *coherencyGuard) invalidate(ctx context.Context, logger logr.Logger, userID int64) {
	if g == nil || g.cache == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	defer cancel()

	key := ocache.UserDataKey(userID)
	if err := g.cache.DeletePermissionMask(ctx, key); err != nil {
		g.degraded.Add(1)
		logger.Error(
			oerrors.Wrap(oerrors.CodeCacheUnavailable, "cache invalidation failed", err),
			"degraded cache: stale entry may be served until it expires",
			"key", key,
		)
		return
	}
	logger.V(2).Info("invalidated cache entry", "key", key)
}

func (g *coherencyGuard) degradedCount() int64 {
	if g == nil {
		return 0
	}
	return g.degraded.Load()
}
