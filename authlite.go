package authlite

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"github.com/porthorian/authlite/pkg/authz"
	ocache "github.com/porthorian/authlite/pkg/cache"
	"github.com/porthorian/authlite/pkg/config"
	ocrypto "github.com/porthorian/authlite/pkg/crypto"
	oerrors "github.com/porthorian/authlite/pkg/errors"
	"github.com/porthorian/authlite/pkg/notify"
	"github.com/porthorian/authlite/pkg/storage"
)

type Config struct {
	Users    storage.UserStore
	Cache    ocache.PermissionCache
	Logger   logr.Logger
	Hasher   ocrypto.Hasher
	Registry *authz.Registry
	Settings config.Resolver
	Mailer   *notify.Mailer
	// NewMailer builds the Mailer from the fully resolved settings, database
	// layer included. It is not called when Mailer is set; a nil result
	// disables notices.
	NewMailer func(settings config.Resolver) (*notify.Mailer, error)

	// StrictPermissionNames rejects unknown names with
	// invalid_permission_name instead of dropping them.
	StrictPermissionNames bool
	InvalidateTimeout     time.Duration

	Runtime RuntimeConfig
}

type Client struct {
	users    storage.UserStore
	cache    ocache.PermissionCache
	cacheTTL time.Duration
	guard    *coherencyGuard
	registry *authz.Registry
	hasher   ocrypto.Hasher
	settings config.Resolver
	mailer   *notify.Mailer
	strict   bool
	logger   logr.Logger

	closeResource func() error
}

func New(cfg Config) (*Client, error) {
	closeResource, resolved, err := cfg.initialize(context.Background())
	if err != nil {
		return nil, err
	}

	if resolved.Users == nil {
		_ = closeResource()
		return nil, oerrors.ErrMissingUserStore
	}
	if resolved.Hasher == nil {
		_ = closeResource()
		return nil, oerrors.ErrMissingHasher
	}

	return &Client{
		users:         resolved.Users,
		cache:         resolved.Cache,
		cacheTTL:      config.Duration(resolved.Settings, config.KeyCacheTTL, 0),
		guard:         newCoherencyGuard(resolved.Cache, resolved.InvalidateTimeout),
		registry:      resolved.Registry,
		hasher:        resolved.Hasher,
		settings:      resolved.Settings,
		mailer:        resolved.Mailer,
		strict:        resolved.StrictPermissionNames,
		logger:        resolved.Logger,
		closeResource: closeResource,
	}, nil
}

func (c *Client) Registry() *authz.Registry {
	return c.registry
}

// Settings exposes the resolved configuration, including keys this module
// only passes through (session_key, cookie_name).
func (c *Client) Settings() config.Resolver {
	return c.settings
}

// CacheDegradedCount is the number of invalidations that failed since the
// client was created.
func (c *Client) CacheDegradedCount() int64 {
	return c.guard.degradedCount()
}

func (c *Client) Close() error {
	if c == nil || c.closeResource == nil {
		return nil
	}

	err := c.closeResource()
	if err != nil {
		return oerrors.Wrap(oerrors.CodeUnknown, "failed to close client resources", err)
	}
	c.closeResource = nil
	return nil
}
