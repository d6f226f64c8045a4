package model

import "fmt"

// Role is the administrative role of an AdminUser.
type Role string

const (
	RoleMasterAdmin Role = "master_admin"
	RoleAdmin       Role = "admin"
	RoleDeveloper   Role = "developer"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleMasterAdmin, RoleAdmin, RoleDeveloper:
		return true
	}
	return false
}

// ParseRole converts a string into a known Role.
func ParseRole(v string) (Role, error) {
	r := Role(v)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", v)
	}
	return r, nil
}

// AccessLevel is a coarse label shown on admin accounts.
type AccessLevel string

const (
	AccessFull      AccessLevel = "full"
	AccessReadWrite AccessLevel = "read_write"
	AccessReadOnly  AccessLevel = "read_only"
)

// Valid reports whether a is a known access level.
func (a AccessLevel) Valid() bool {
	switch a {
	case AccessFull, AccessReadWrite, AccessReadOnly:
		return true
	}
	return false
}

// ParseAccessLevel converts a string into a known AccessLevel.
func ParseAccessLevel(v string) (AccessLevel, error) {
	a := AccessLevel(v)
	if !a.Valid() {
		return "", fmt.Errorf("unknown access level %q", v)
	}
	return a, nil
}

// DefaultAccessLevel returns the access level a new account of role r gets
// when none is given.
func DefaultAccessLevel(r Role) AccessLevel {
	switch r {
	case RoleMasterAdmin, RoleAdmin:
		return AccessFull
	default:
		return AccessReadWrite
	}
}
