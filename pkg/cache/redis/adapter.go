package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/porthorian/authlite/pkg/cache"
	goredis "github.com/redis/go-redis/v9"
)

var (
	ErrInvalidTTL = errors.New("redis cache adapter: ttl must be greater than zero")
)

type Config struct {
	Address     string
	Username    string
	Password    string
	Database    int
	Namespace   string
	DialTimeout time.Duration
}

// Adapter stores masks as decimal strings under Namespace+key.
type Adapter struct {
	client    goredis.UniversalClient
	namespace string
	ownClient bool
}

var _ cache.PermissionCache = (*Adapter)(nil)

func NewAdapter(config Config) *Adapter {
	client := goredis.NewClient(&goredis.Options{
		Addr:        config.Address,
		Username:    config.Username,
		Password:    config.Password,
		DB:          config.Database,
		DialTimeout: config.DialTimeout,
	})

	return &Adapter{
		client:    client,
		namespace: config.Namespace,
		ownClient: true,
	}
}

// NewAdapterWithClient uses an existing client. Close leaves it open.
func NewAdapterWithClient(client goredis.UniversalClient, namespace string) *Adapter {
	return &Adapter{
		client:    client,
		namespace: namespace,
	}
}

func (a *Adapter) SetPermissionMask(ctx context.Context, key string, permissionMask uint64, ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}

	value := strconv.FormatUint(permissionMask, 10)
	if err := a.client.Set(ctx, a.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis cache adapter: set %s: %w", key, err)
	}
	return nil
}

func (a *Adapter) GetPermissionMask(ctx context.Context, key string) (uint64, bool, error) {
	raw, err := a.client.Get(ctx, a.key(key)).Result()
	if errors.Is(err, goredis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis cache adapter: get %s: %w", key, err)
	}

	mask, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("redis cache adapter: decode %s: %w", key, err)
	}
	return mask, true, nil
}

func (a *Adapter) DeletePermissionMask(ctx context.Context, key string) error {
	if err := a.client.Del(ctx, a.key(key)).Err(); err != nil {
		return fmt.Errorf("redis cache adapter: delete %s: %w", key, err)
	}
	return nil
}

func (a *Adapter) Ping(ctx context.Context) error {
	return a.client.Ping(ctx).Err()
}

func (a *Adapter) Close() error {
	if a == nil || !a.ownClient {
		return nil
	}
	return a.client.Close()
}

func (a *Adapter) key(key string) string {
	return a.namespace + key
}
