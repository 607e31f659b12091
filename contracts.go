package authlite

import (
	"strings"
	"time"

	"github.com/porthorian/authlite/pkg/authz"
	"github.com/porthorian/authlite/pkg/storage"
)

type CreateUserInput struct {
	Login       string
	Password    string
	Permissions []string
}

func (in CreateUserInput) Normalize() CreateUserInput {
	return CreateUserInput{
		Login:       strings.TrimSpace(in.Login),
		Password:    in.Password,
		Permissions: in.Permissions,
	}
}

// User is the caller-facing view of a record. The credential hash is never
// exposed.
type User struct {
	ID             int64
	Login          string
	PermissionMask authz.PermissionMask
	Permissions    []string
	DateAdded      time.Time
	DateModified   *time.Time
}

func newUser(record storage.UserRecord, registry *authz.Registry) User {
	mask := authz.PermissionMask(record.PermissionMask)
	return User{
		ID:             record.ID,
		Login:          record.Login,
		PermissionMask: mask,
		Permissions:    registry.Names(mask),
		DateAdded:      record.DateAdded,
		DateModified:   record.DateModified,
	}
}
