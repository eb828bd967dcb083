package auth

import "strings"

type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleUser       Role = "user"
)

var roleRank = map[Role]int{
	RoleUser:       1,
	RoleAdmin:      2,
	RoleSuperAdmin: 3,
}

// NormalizeRole maps unknown roles to RoleUser.
func NormalizeRole(role string) Role {
	r := Role(strings.ToLower(strings.TrimSpace(role)))
	if _, ok := roleRank[r]; ok {
		return r
	}
	return RoleUser
}

func ValidRole(role string) bool {
	_, ok := roleRank[Role(strings.ToLower(strings.TrimSpace(role)))]
	return ok
}

func HasRole(role string, allowed ...Role) bool {
	current := NormalizeRole(role)
	for _, candidate := range allowed {
		if current == candidate {
			return true
		}
	}
	return false
}

// AtLeast reports whether role ranks at or above min.
func AtLeast(role string, min Role) bool {
	return roleRank[NormalizeRole(role)] >= roleRank[min]
}

// IsAdmin covers admin and super_admin.
func IsAdmin(role string) bool {
	return AtLeast(role, RoleAdmin)
}
