package roles

import "github.com/google/uuid"

// Role is a closed authorization level. Keeping it a typed string with a
// Valid() check means an unknown value can be rejected at the boundary instead
// of silently granting nothing (or worse, something).
type Role string

const (
	RoleStandard   Role = "standard"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleStandard, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// AdminRoles is the set that unlocks claim review and OTP step-up.
var AdminRoles = []Role{RoleAdmin, RoleSuperAdmin}

// Principal is an authenticated actor. The role is derived from the store on
// every privileged call, never cached across requests.
type Principal struct {
	ID    uuid.UUID
	Email string
	Role  Role
}
