package auth

// Permission is a named capability.
type Permission string

const (
	PermDeviceRead    Permission = "device:read"
	PermDeviceOperate Permission = "device:operate"
	PermPresetManage  Permission = "preset:manage"
)

var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermDeviceRead,
	},
	RoleOperator: {
		PermDeviceRead,
		PermDeviceOperate,
		PermPresetManage,
	},
}

// HasPermission reports whether role grants perm.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsForRole returns a copy of the permissions granted to role, or
// nil for an unknown role.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	if perms == nil {
		return nil
	}
	return append([]Permission(nil), perms...)
}
