package authlite

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/mail"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/porthorian/authlite/pkg/authz"
	ocache "github.com/porthorian/authlite/pkg/cache"
	ocrypto "github.com/porthorian/authlite/pkg/crypto"
	oerrors "github.com/porthorian/authlite/pkg/errors"
	"github.com/porthorian/authlite/pkg/storage"
)

const accountCreatedSubject = "Your account has been created"

// CreateUser hashes the password, resolves the initial permission names and
// persists the record. It returns the store-assigned id.
func (c *Client) CreateUser(ctx context.Context, input CreateUserInput) (int64, error) {
	input = input.Normalize()
	if input.Login == "" {
		return 0, oerrors.New(oerrors.CodeInvalidArgument, "login is required")
	}

	mask, err := c.resolveNames(input.Permissions)
	if err != nil {
		return 0, err
	}

	credentialHash, err := c.hasher.Hash(input.Password)
	if err != nil {
		if stderrors.Is(err, ocrypto.ErrEmptyPassword) || stderrors.Is(err, ocrypto.ErrPasswordTooLong) {
			return 0, oerrors.Wrap(oerrors.CodeInvalidArgument, "password rejected", err)
		}
		return 0, oerrors.Wrap(oerrors.CodeUnknown, "failed to hash password", err)
	}

	logger := c.operationLogger("create_user").WithValues("login", input.Login)
	id, err := c.users.CreateUser(ctx, storage.UserRecord{
		Login:          input.Login,
		CredentialHash: credentialHash,
		PermissionMask: uint64(mask),
	})
	if err != nil {
		return 0, c.storeError(logger, err)
	}

	logger = logger.WithValues("user_id", id)
	c.guard.invalidate(ctx, logger, id)
	logger.V(1).Info("created user", "permission_mask", uint64(mask))

	c.notifyCreated(ctx, logger, input.Login)
	return id, nil
}

// DeleteUser removes the record and drops its cached view. A missing id is
// reported as not_found.
func (c *Client) DeleteUser(ctx context.Context, userID int64) error {
	return c.mutate(ctx, "delete_user", userID, func(ctx context.Context) error {
		return c.users.DeleteUser(ctx, userID)
	})
}

func (c *Client) GetUser(ctx context.Context, userID int64) (User, error) {
	record, err := c.users.GetUser(ctx, userID)
	if err != nil {
		return User{}, c.storeError(c.logger.WithValues("op", "get_user", "user_id", userID), err)
	}
	return newUser(record, c.registry), nil
}

// PermissionMask reads the current mask from the store. A user without
// permissions yields 0 and a nil error.
func (c *Client) PermissionMask(ctx context.Context, userID int64) (authz.PermissionMask, error) {
	mask, err := c.users.GetPermissionMask(ctx, userID)
	if err != nil {
		return 0, c.storeError(c.logger.WithValues("op", "permission_mask", "user_id", userID), err)
	}
	return authz.PermissionMask(mask), nil
}

// LookupPermissionMask serves the mask from the cache when present and
// populates it from the store otherwise. Cache failures fall back to the
// store.
func (c *Client) LookupPermissionMask(ctx context.Context, userID int64) (authz.PermissionMask, error) {
	if c.cache == nil {
		return c.PermissionMask(ctx, userID)
	}

	logger := c.logger.WithValues("op", "lookup_permission_mask", "user_id", userID)
	key := ocache.UserDataKey(userID)

	cached, ok, err := c.cache.GetPermissionMask(ctx, key)
	switch {
	case err != nil:
		logger.Error(oerrors.Wrap(oerrors.CodeCacheUnavailable, "cache read failed", err), "falling back to user store", "key", key)
	case ok:
		return authz.PermissionMask(cached), nil
	}

	mask, err := c.PermissionMask(ctx, userID)
	if err != nil {
		return 0, err
	}

	if c.cacheTTL > 0 {
		if err := c.cache.SetPermissionMask(ctx, key, uint64(mask), c.cacheTTL); err != nil {
			logger.Error(oerrors.Wrap(oerrors.CodeCacheUnavailable, "cache populate failed", err), "permission mask not cached", "key", key)
		}
	}
	return mask, nil
}

// ReplacePermissions overwrites the mask with value, either a raw
// authz.PermissionMask or an authz.Names set.
func (c *Client) ReplacePermissions(ctx context.Context, userID int64, value authz.Replacement) error {
	if names, ok := value.(authz.Names); ok {
		if _, err := c.resolveNames(names); err != nil {
			return err
		}
	}

	mask := c.registry.Replace(value)
	return c.mutate(ctx, "replace_permissions", userID, func(ctx context.Context) error {
		return c.users.PutPermissionMask(ctx, userID, uint64(mask))
	})
}

// GrantPermissions adds the named bits and returns the resulting mask.
func (c *Client) GrantPermissions(ctx context.Context, userID int64, names ...string) (authz.PermissionMask, error) {
	bits, err := c.resolveNames(names)
	if err != nil {
		return 0, err
	}

	var updated uint64
	err = c.mutate(ctx, "grant_permissions", userID, func(ctx context.Context) (err error) {
		updated, err = c.users.GrantPermissionMask(ctx, userID, uint64(bits))
		return err
	})
	return authz.PermissionMask(updated), err
}

// RevokePermissions clears the named bits and returns the resulting mask.
func (c *Client) RevokePermissions(ctx context.Context, userID int64, names ...string) (authz.PermissionMask, error) {
	bits, err := c.resolveNames(names)
	if err != nil {
		return 0, err
	}

	var updated uint64
	err = c.mutate(ctx, "revoke_permissions", userID, func(ctx context.Context) (err error) {
		updated, err = c.users.RevokePermissionMask(ctx, userID, uint64(bits))
		return err
	})
	return authz.PermissionMask(updated), err
}

// mutate runs write and then invalidates the user's cache entry, whether or
// not the write succeeded.
func (c *Client) mutate(ctx context.Context, op string, userID int64, write func(context.Context) error) error {
	logger := c.operationLogger(op).WithValues("user_id", userID)

	err := write(ctx)
	c.guard.invalidate(ctx, logger, userID)
	if err != nil {
		return c.storeError(logger, err)
	}

	logger.V(1).Info("committed")
	return nil
}

func (c *Client) operationLogger(op string) logr.Logger {
	return c.logger.WithValues("op", op, "op_id", uuid.NewString())
}

func (c *Client) resolveNames(names []string) (authz.PermissionMask, error) {
	if !c.strict {
		return c.registry.MaskFromNames(names...), nil
	}

	mask, err := c.registry.StrictMaskFromNames(names...)
	if err != nil {
		return 0, oerrors.Wrap(oerrors.CodeInvalidPermissionName, "unknown permission name", err)
	}
	return mask, nil
}

func (c *Client) storeError(logger logr.Logger, err error) error {
	switch {
	case stderrors.Is(err, storage.ErrNotFound):
		logger.V(1).Info("user not found")
		return oerrors.Wrap(oerrors.CodeNotFound, "user not found", err)
	case stderrors.Is(err, storage.ErrDuplicateLogin):
		logger.V(1).Info("login already exists")
		return oerrors.Wrap(oerrors.CodeDuplicateLogin, "login already exists", err)
	default:
		logger.Error(err, "user store call failed")
		return oerrors.Wrap(oerrors.CodeStorageUnavailable, "user store unavailable", err)
	}
}

func (c *Client) notifyCreated(ctx context.Context, logger logr.Logger, login string) {
	if c.mailer == nil {
		return
	}

	address, err := mail.ParseAddress(login)
	if err != nil {
		return
	}

	body := fmt.Sprintf("An account has been created for %s.\n", address.Address)
	if !c.mailer.Send(ctx, address.Address, accountCreatedSubject, body, nil) {
		logger.Info("account notice was not delivered", "to", address.Address)
	}
}
