package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/porthorian/authlite/pkg/storage"
)

var ErrEmptyLogin = errors.New("memory storage: login is required")

// Adapter is an in-process UserStore. A single mutex serializes every
// mutation, which makes grant and revoke atomic per user.
type Adapter struct {
	mu      sync.RWMutex
	nextID  int64
	users   map[int64]storage.UserRecord
	byLogin map[string]int64
}

var _ storage.UserStore = (*Adapter)(nil)

func NewAdapter() *Adapter {
	return &Adapter{
		users:   map[int64]storage.UserRecord{},
		byLogin: map[string]int64{},
	}
}

func (a *Adapter) CreateUser(ctx context.Context, record storage.UserRecord) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if record.Login == "" {
		return 0, ErrEmptyLogin
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.byLogin[record.Login]; exists {
		return 0, storage.ErrDuplicateLogin
	}

	a.nextID++
	record.ID = a.nextID
	if record.DateAdded.IsZero() {
		record.DateAdded = time.Now().UTC()
	}
	record.DateModified = nil

	a.users[record.ID] = record
	a.byLogin[record.Login] = record.ID
	return record.ID, nil
}

func (a *Adapter) GetUser(ctx context.Context, id int64) (storage.UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.UserRecord{}, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	record, ok := a.users[id]
	if !ok {
		return storage.UserRecord{}, storage.ErrNotFound
	}
	if record.DateModified != nil {
		modified := *record.DateModified
		record.DateModified = &modified
	}
	return record, nil
}

func (a *Adapter) DeleteUser(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	record, ok := a.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	delete(a.users, id)
	delete(a.byLogin, record.Login)
	return nil
}

func (a *Adapter) GetPermissionMask(ctx context.Context, id int64) (uint64, error) {
	record, err := a.GetUser(ctx, id)
	if err != nil {
		return 0, err
	}
	return record.PermissionMask, nil
}

func (a *Adapter) PutPermissionMask(ctx context.Context, id int64, mask uint64) error {
	_, err := a.updateMask(ctx, id, func(uint64) uint64 { return mask })
	return err
}

func (a *Adapter) GrantPermissionMask(ctx context.Context, id int64, bits uint64) (uint64, error) {
	return a.updateMask(ctx, id, func(current uint64) uint64 { return current | bits })
}

func (a *Adapter) RevokePermissionMask(ctx context.Context, id int64, bits uint64) (uint64, error) {
	return a.updateMask(ctx, id, func(current uint64) uint64 { return current &^ bits })
}

func (a *Adapter) updateMask(ctx context.Context, id int64, apply func(uint64) uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	record, ok := a.users[id]
	if !ok {
		return 0, storage.ErrNotFound
	}

	now := time.Now().UTC()
	record.PermissionMask = apply(record.PermissionMask)
	record.DateModified = &now
	a.users[id] = record
	return record.PermissionMask, nil
}
