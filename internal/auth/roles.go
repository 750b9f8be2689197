package auth

// Role represents a user role.
type Role string

const (
	// RoleViewer can read shared locations and geofences.
	RoleViewer Role = "viewer"
	// RoleMember manages its own geofences and devices.
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// NormalizeRole validates and normalizes a role string. An empty role is a member.
func NormalizeRole(value string) (Role, bool) {
	switch Role(value) {
	case "":
		return RoleMember, true
	case RoleViewer, RoleMember, RoleAdmin:
		return Role(value), true
	default:
		return "", false
	}
}

// RoleAtLeast returns true when role satisfies required role.
func RoleAtLeast(role Role, required Role) bool {
	return roleRank(role) >= roleRank(required)
}

func roleRank(role Role) int {
	switch role {
	case RoleViewer:
		return 1
	case RoleMember:
		return 2
	case RoleAdmin:
		return 3
	default:
		return 0
	}
}
