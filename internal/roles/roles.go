package roles

// Static role catalogue for the practice-management core. Owned externally;
// consumed here read-only as role -> ordered permission codes.

const (
	Admin        = "admin"
	Practitioner = "practitioner"
	Assistant    = "assistant"
	Patient      = "patient"
)

var permissionsByRole = map[string][]string{
	Admin: {
		"accounts:manage",
		"apikeys:manage",
		"invoices:read",
		"invoices:write",
		"patients:read",
		"patients:write",
		"templates:manage",
	},
	Practitioner: {
		"apikeys:manage",
		"invoices:read",
		"invoices:write",
		"patients:read",
		"patients:write",
	},
	Assistant: {
		"invoices:read",
		"patients:read",
	},
	Patient: {
		"self:read",
		"self:write",
	},
}

func Known(role string) bool {
	_, ok := permissionsByRole[role]
	return ok
}

// Permissions returns the ordered permission codes for a role. The returned
// slice is a copy; the catalogue itself is never mutated.
func Permissions(role string) []string {
	perms, ok := permissionsByRole[role]
	if !ok {
		return nil
	}
	out := make([]string, len(perms))
	copy(out, perms)
	return out
}
