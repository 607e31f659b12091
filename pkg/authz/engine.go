package authz

import (
	"fmt"
	"strings"
)

// MaskFromNames folds names into a mask. Names without a registry entry
// contribute no bits.
func (r *Registry) MaskFromNames(names ...string) PermissionMask {
	var mask PermissionMask
	for _, name := range names {
		if bit, ok := r.Bit(name); ok {
			mask |= 1 << bit
		}
	}
	return mask
}

// StrictMaskFromNames is MaskFromNames that rejects unknown names instead of
// dropping them.
func (r *Registry) StrictMaskFromNames(names ...string) (PermissionMask, error) {
	if unknown := r.Unknown(names...); len(unknown) > 0 {
		return 0, fmt.Errorf("%w: %s", ErrInvalidPermissionName, strings.Join(unknown, ", "))
	}
	return r.MaskFromNames(names...), nil
}

func (r *Registry) Grant(current PermissionMask, names ...string) PermissionMask {
	return current | r.MaskFromNames(names...)
}

func (r *Registry) Revoke(current PermissionMask, names ...string) PermissionMask {
	return current &^ r.MaskFromNames(names...)
}

// Replacement is the target of a full mask replacement: either a raw
// PermissionMask or a Names set.
type Replacement interface {
	resolve(r *Registry) PermissionMask
}

// Names is a Replacement resolved through the registry.
type Names []string

func (n Names) resolve(r *Registry) PermissionMask {
	return r.MaskFromNames(n...)
}

// A raw mask is taken as-is, including bits that have no registered name.
func (m PermissionMask) resolve(*Registry) PermissionMask {
	return m
}

func (r *Registry) Replace(value Replacement) PermissionMask {
	if value == nil {
		return 0
	}
	return value.resolve(r)
}
