package authz

// PermissionMask is a set of permissions, one bit per registered name.
type PermissionMask uint64

// MaskBits is the width of a PermissionMask.
const MaskBits = 64

const (
	PermissionRead PermissionMask = 1 << iota
	PermissionWrite
	PermissionDelete
	PermissionAdmin
	PermissionManageUsers
	PermissionManagePermissions
)

func HasAnyPermissions(current PermissionMask, required PermissionMask) bool {
	return current&required != 0
}

func HasAllPermissions(current PermissionMask, required PermissionMask) bool {
	return current&required == required
}

func (m PermissionMask) Has(required PermissionMask) bool {
	return HasAllPermissions(m, required)
}

func (m PermissionMask) Union(other PermissionMask) PermissionMask {
	return m | other
}

func (m PermissionMask) Difference(other PermissionMask) PermissionMask {
	return m &^ other
}
