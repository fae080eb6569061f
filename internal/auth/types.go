package auth

import "errors"

// Role is what a token holder may do.
type Role string

const (
	// RoleViewer can read devices, history and presets.
	RoleViewer Role = "viewer"

	// RoleOperator can additionally run recording actions, send events,
	// select the active device and edit presets.
	RoleOperator Role = "operator"
)

// ValidRoles lists the roles a token may carry.
var ValidRoles = []Role{RoleViewer, RoleOperator}

// IsValidRole reports whether r is a known role.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

var (
	ErrTokenInvalid  = errors.New("invalid token")
	ErrSecretMissing = errors.New("jwt secret is not configured")
	ErrInvalidRole   = errors.New("invalid role")
)
