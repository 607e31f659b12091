// Package config resolves key/value settings from layered sources.
//
// Layers are consulted in a fixed order regardless of load order: explicit
// Set overrides beat database values, which beat file values, which beat the
// compiled-in defaults. Within a layer the last load wins per key. Values are
// merged shallowly; nested structures are replaced, never merged.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	KeySessionKey       = "session_key"
	KeyCookieName       = "cookie_name"
	KeyPasswordHashAlgo = "password_hash_algo"
	KeyCacheTTL         = "cache_ttl"
	KeyPermissionsTable = "permissions_table"
	KeyUsersTable       = "users_table"
)

// Resolver is the lookup surface the rest of the module depends on.
type Resolver interface {
	Get(key string, def any) any
}

type layer int

const (
	layerDefaults layer = iota
	layerFile
	layerDatabase
	layerOverride
	layerCount
)

// Defaults returns the compiled-in default layer.
func Defaults() map[string]any {
	return map[string]any{
		KeySessionKey:       "auth_user_id",
		KeyCookieName:       "auth_token",
		KeyPasswordHashAlgo: "bcrypt",
		KeyCacheTTL:         3600,
		KeyPermissionsTable: "user_permissions",
		KeyUsersTable:       "authlite.users",
	}
}

type Layered struct {
	mu     sync.RWMutex
	layers [layerCount]map[string]any
}

var _ Resolver = (*Layered)(nil)

func New() *Layered {
	l := &Layered{}
	for i := range l.layers {
		l.layers[i] = map[string]any{}
	}
	l.merge(layerDefaults, Defaults())
	return l
}

// Set overrides key in the top layer.
func (l *Layered) Set(key string, value any) *Layered {
	l.merge(layerOverride, map[string]any{key: value})
	return l
}

func (l *Layered) Get(key string, def any) any {
	if l == nil {
		return def
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	for i := layerOverride; i >= layerDefaults; i-- {
		if value, ok := l.layers[i][key]; ok && value != nil {
			return value
		}
	}
	return def
}

// Values returns the effective key/value set.
func (l *Layered) Values() map[string]any {
	l.mu.RLock()
	defer l.mu.RUnlock()

	values := map[string]any{}
	for i := layerDefaults; i < layerCount; i++ {
		for key, value := range l.layers[i] {
			if value != nil {
				values[key] = value
			}
		}
	}
	return values
}

func (l *Layered) merge(target layer, values map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, value := range values {
		l.layers[target][key] = value
	}
}

func String(r Resolver, key string, def string) string {
	switch v := get(r, key).(type) {
	case nil:
		return def
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func Int(r Resolver, key string, def int) int {
	switch v := get(r, key).(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return def
		}
		return parsed
	default:
		return def
	}
}

func Bool(r Resolver, key string, def bool) bool {
	switch v := get(r, key).(type) {
	case bool:
		return v
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return def
		}
		return parsed
	default:
		return def
	}
}

// Duration reads either a number of seconds or a Go duration string.
func Duration(r Resolver, key string, def time.Duration) time.Duration {
	switch v := get(r, key).(type) {
	case time.Duration:
		return v
	case int:
		return time.Duration(v) * time.Second
	case int64:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	case string:
		trimmed := strings.TrimSpace(v)
		if seconds, err := strconv.Atoi(trimmed); err == nil {
			return time.Duration(seconds) * time.Second
		}
		parsed, err := time.ParseDuration(trimmed)
		if err != nil {
			return def
		}
		return parsed
	default:
		return def
	}
}

// Table resolves "<name>_table", falling back to name itself.
func Table(r Resolver, name string) string {
	return String(r, name+"_table", name)
}

func get(r Resolver, key string) any {
	if r == nil {
		return nil
	}
	return r.Get(key, nil)
}
