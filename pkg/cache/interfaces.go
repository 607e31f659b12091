package cache

import (
	"context"
	"strconv"
	"time"
)

// PermissionCache holds the derived per-user view. Deleting a missing key
// must succeed.
type PermissionCache interface {
	SetPermissionMask(ctx context.Context, key string, permissionMask uint64, ttl time.Duration) error
	GetPermissionMask(ctx context.Context, key string) (uint64, bool, error)
	DeletePermissionMask(ctx context.Context, key string) error
}

// UserDataKey is the cache key of a user's derived data.
func UserDataKey(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10) + ":data"
}
