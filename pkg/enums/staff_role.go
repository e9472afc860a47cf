package enums

import (
	"fmt"
	"strings"
)

// StaffRole is carried in staff access tokens.
type StaffRole string

const (
	StaffRoleCashier StaffRole = "cashier"
	StaffRoleManager StaffRole = "manager"
	// StaffRoleSystem is used by feeds and back-office integrations.
	StaffRoleSystem StaffRole = "system"
)

var validStaffRoles = []StaffRole{
	StaffRoleCashier,
	StaffRoleManager,
	StaffRoleSystem,
}

// IsValid reports whether the value matches a known staff role.
func (r StaffRole) IsValid() bool {
	for _, candidate := range validStaffRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseStaffRole converts raw input into StaffRole.
func ParseStaffRole(value string) (StaffRole, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validStaffRoles {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid staff role %q", value)
}
