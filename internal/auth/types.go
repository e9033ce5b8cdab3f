package auth

import "errors"

// Role represents an authorisation tier for API and session access.
type Role string

const (
	// RoleAdmin can commission, delete and operate devices and change
	// any attribute. Intended for the hub operator.
	RoleAdmin Role = "admin"

	// RoleViewer can read devices, the data model and live state but
	// cannot mutate anything.
	RoleViewer Role = "viewer"
)

// ValidRoles is the set of roles a token may carry.
var ValidRoles = []Role{RoleAdmin, RoleViewer}

// IsValidRole returns true if the role is one the hub recognises.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// CanMutate returns true if the role may commission devices, send
// commands and write attributes.
func (r Role) CanMutate() bool {
	return r == RoleAdmin
}

// Sentinel errors for token operations.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrTokenExpired = errors.New("token has expired")
	ErrForbidden    = errors.New("insufficient permissions")
)
