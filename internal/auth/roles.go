package auth

// Operator role constants.
const (
	RoleViewer = "viewer"
	RoleAdmin  = "admin"
)

// ReadRoles returns roles allowed to read server stats.
func ReadRoles() []string {
	return []string{RoleViewer, RoleAdmin}
}
