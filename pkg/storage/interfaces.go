package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound       = errors.New("storage: record not found")
	ErrDuplicateLogin = errors.New("storage: login already exists")
)

// UserRecord is the canonical state of a user. ID is assigned by the store on
// create and never changes.
type UserRecord struct {
	ID             int64
	Login          string
	CredentialHash string
	PermissionMask uint64
	DateAdded      time.Time
	DateModified   *time.Time
}

// UserStore owns user records. Implementations must apply
// GrantPermissionMask and RevokePermissionMask as a single atomic update per
// user so concurrent callers never lose each other's bits.
//
// ErrNotFound and ErrDuplicateLogin are the only domain errors; anything else
// is treated as the store being unreachable.
type UserStore interface {
	CreateUser(ctx context.Context, record UserRecord) (int64, error)
	GetUser(ctx context.Context, id int64) (UserRecord, error)
	DeleteUser(ctx context.Context, id int64) error

	GetPermissionMask(ctx context.Context, id int64) (uint64, error)
	PutPermissionMask(ctx context.Context, id int64, mask uint64) error
	GrantPermissionMask(ctx context.Context, id int64, bits uint64) (uint64, error)
	RevokePermissionMask(ctx context.Context, id int64, bits uint64) (uint64, error)
}
