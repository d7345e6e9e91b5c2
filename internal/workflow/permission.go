package workflow

import "github.com/rogers-f/estate-workflow/internal/domain"

// technicianEditable are the statuses in which a technician may change inventory data:
// before submission for review, or after the application was sent back.
var technicianEditable = map[domain.Status]bool{
	domain.StatusDraft:       true,
	domain.StatusNew:         true,
	domain.StatusRejected:    true,
	domain.StatusIntegration: true,
}

// CanEditByRoleAndStatus reports whether role may currently mutate inventory data.
// Unknown roles and statuses are denied, admins included.
func CanEditByRoleAndStatus(role domain.Role, status domain.Status) bool {
	switch role {
	case domain.RoleAdmin:
		return status.Valid()
	case domain.RoleTechnician:
		return technicianEditable[status]
	default:
		return false
	}
}
