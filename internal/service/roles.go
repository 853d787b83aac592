package service

import "github.com/piavik/PhotoShare/internal/models"

// roleFloors maps an operation's minimum role to the set of roles that
// satisfy it. Built once; the hierarchy is a fixed total order
// user < moder < admin.
var roleFloors = map[models.Role]map[models.Role]struct{}{
	models.RoleUser: {
		models.RoleUser:  {},
		models.RoleModer: {},
		models.RoleAdmin: {},
	},
	models.RoleModer: {
		models.RoleModer: {},
		models.RoleAdmin: {},
	},
	models.RoleAdmin: {
		models.RoleAdmin: {},
	},
}

// CheckRole reports whether the caller's role satisfies the declared minimum
// role for an operation.
func CheckRole(role, minimum models.Role) bool {
	allowed, ok := roleFloors[minimum]
	if !ok {
		return false
	}
	_, ok = allowed[role]
	return ok
}
