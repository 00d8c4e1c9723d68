package auth

import "storerate/pkg/domain"

// RoleSet is the set of roles allowed through a gate.
type RoleSet map[domain.Role]struct{}

// Roles builds a RoleSet.
func Roles(roles ...domain.Role) RoleSet {
	set := make(RoleSet, len(roles))
	for _, r := range roles {
		set[r] = struct{}{}
	}
	return set
}

var (
	AdminOnly = Roles(domain.RoleAdmin)
	OwnerOnly = Roles(domain.RoleOwner)
	AnyRole   = Roles(domain.RoleAdmin, domain.RoleOwner, domain.RoleUser)
)

// Allowed reports whether role is a member of allowed.
func Allowed(role domain.Role, allowed RoleSet) bool {
	_, ok := allowed[role]
	return ok
}
