package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

var rank = map[string]int{
	RoleViewer:   1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

func IsKnown(role string) bool {
	_, ok := rank[role]
	return ok
}

// AtLeast reports whether role grants at least the privileges of min.
func AtLeast(role, min string) bool {
	r, ok := rank[role]
	if !ok {
		return false
	}
	return r >= rank[min]
}
