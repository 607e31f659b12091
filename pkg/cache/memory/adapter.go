package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/porthorian/authlite/pkg/cache"
)

var (
	ErrInvalidTTL = errors.New("memory cache: ttl must be greater than zero")
)

type permissionEntry struct {
	mask    uint64
	expires time.Time
}

type Adapter struct {
	mu                sync.RWMutex
	now               func() time.Time
	permissionEntries map[string]permissionEntry
}

var _ cache.PermissionCache = (*Adapter)(nil)

func NewAdapter() *Adapter {
	return &Adapter{
		now:               func() time.Time { return time.Now().UTC() },
		permissionEntries: map[string]permissionEntry{},
	}
}

func (a *Adapter) SetPermissionMask(ctx context.Context, key string, permissionMask uint64, ttl time.Duration) error {
	if err := validateSetInput(key, ttl); err != nil {
		return err
	}

	a.mu.Lock()
	a.permissionEntries[key] = permissionEntry{
		mask:    permissionMask,
		expires: a.now().Add(ttl),
	}
	a.mu.Unlock()
	return nil
}

func (a *Adapter) GetPermissionMask(ctx context.Context, key string) (uint64, bool, error) {
	now := a.now()

	a.mu.RLock()
	entry, ok := a.permissionEntries[key]
	a.mu.RUnlock()
	if !ok {
		return 0, false, nil
	}

	if now.After(entry.expires) {
		a.mu.Lock()
		if current, still := a.permissionEntries[key]; still && current.expires.Equal(entry.expires) {
			delete(a.permissionEntries, key)
		}
		a.mu.Unlock()
		return 0, false, nil
	}

	return entry.mask, true, nil
}

func (a *Adapter) DeletePermissionMask(ctx context.Context, key string) error {
	a.mu.Lock()
	delete(a.permissionEntries, key)
	a.mu.Unlock()
	return nil
}

// Len reports the number of stored entries, expired ones included.
func (a *Adapter) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.permissionEntries)
}

func validateSetInput(key string, ttl time.Duration) error {
	if key == "" {
		return errors.New("memory cache: key is required")
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	return nil
}
