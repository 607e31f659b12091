package authz

import (
	"errors"
	"fmt"
	"math/bits"
	"sort"
	"strings"
)

// Permission is the name of a registered permission.
type Permission string

const (
	Read              Permission = "READ"
	Write             Permission = "WRITE"
	Delete            Permission = "DELETE"
	Admin             Permission = "ADMIN"
	ManageUsers       Permission = "MANAGE_USERS"
	ManagePermissions Permission = "MANAGE_PERMISSIONS"
)

var defaultPermissionBits = map[Permission]uint{
	Read:              uint(bits.TrailingZeros64(uint64(PermissionRead))),
	Write:             uint(bits.TrailingZeros64(uint64(PermissionWrite))),
	Delete:            uint(bits.TrailingZeros64(uint64(PermissionDelete))),
	Admin:             uint(bits.TrailingZeros64(uint64(PermissionAdmin))),
	ManageUsers:       uint(bits.TrailingZeros64(uint64(PermissionManageUsers))),
	ManagePermissions: uint(bits.TrailingZeros64(uint64(PermissionManagePermissions))),
}

var (
	ErrEmptyPermissionName   = errors.New("authz: permission name is empty")
	ErrBitOutOfRange         = errors.New("authz: permission bit out of range")
	ErrDuplicateBit          = errors.New("authz: permission bit already assigned")
	ErrInvalidPermissionName = errors.New("authz: permission name is not registered")
)

// Registry maps permission names to bit positions. It is built once and never
// changes afterwards, so it is safe for concurrent use without locking.
type Registry struct {
	nameToBit map[Permission]uint
	bitToName [MaskBits]Permission
	full      PermissionMask
}

// NewRegistry validates entries and builds an immutable Registry. Every name
// must be non-empty and own a distinct bit in [0, MaskBits).
func NewRegistry(entries map[Permission]uint) (*Registry, error) {
	r := &Registry{
		nameToBit: make(map[Permission]uint, len(entries)),
	}

	for name, bit := range entries {
		if strings.TrimSpace(string(name)) == "" {
			return nil, ErrEmptyPermissionName
		}
		if bit >= MaskBits {
			return nil, fmt.Errorf("%w: %q at bit %d", ErrBitOutOfRange, name, bit)
		}
		if owner := r.bitToName[bit]; owner != "" {
			return nil, fmt.Errorf("%w: bit %d claimed by %q and %q", ErrDuplicateBit, bit, owner, name)
		}

		r.nameToBit[name] = bit
		r.bitToName[bit] = name
		r.full |= 1 << bit
	}

	return r, nil
}

// DefaultRegistry returns the registry of the built-in permission constants.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(defaultPermissionBits)
	if err != nil {
		panic(err)
	}
	return r
}

// Bit returns the bit position registered for name.
func (r *Registry) Bit(name string) (uint, bool) {
	if r == nil {
		return 0, false
	}
	bit, ok := r.nameToBit[Permission(name)]
	return bit, ok
}

// Name returns the permission registered at bit.
func (r *Registry) Name(bit uint) (Permission, bool) {
	if r == nil || bit >= MaskBits {
		return "", false
	}
	name := r.bitToName[bit]
	return name, name != ""
}

// Permissions lists the registered names in bit order.
func (r *Registry) Permissions() []Permission {
	if r == nil {
		return nil
	}

	names := make([]Permission, 0, len(r.nameToBit))
	for _, name := range r.bitToName {
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

// FullMask is the union of every registered bit.
func (r *Registry) FullMask() PermissionMask {
	if r == nil {
		return 0
	}
	return r.full
}

// Names lists the registered permissions present in mask, in bit order. Bits
// with no registered name are skipped.
func (r *Registry) Names(mask PermissionMask) []string {
	if r == nil {
		return nil
	}

	names := []string{}
	for remaining := uint64(mask & r.full); remaining != 0; remaining &= remaining - 1 {
		bit := bits.TrailingZeros64(remaining)
		names = append(names, string(r.bitToName[bit]))
	}
	return names
}

// Unknown returns the names that have no registry entry, sorted and without
// duplicates.
func (r *Registry) Unknown(names ...string) []string {
	seen := map[string]struct{}{}
	for _, name := range names {
		if _, ok := r.Bit(name); !ok {
			seen[name] = struct{}{}
		}
	}

	if len(seen) == 0 {
		return nil
	}

	unknown := make([]string, 0, len(seen))
	for name := range seen {
		unknown = append(unknown, name)
	}
	sort.Strings(unknown)
	return unknown
}
