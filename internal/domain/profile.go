package domain

import "time"

// Role is the sole authorization predicate attached to a profile.
type Role string

const (
	RoleReporter   Role = "reporter"
	RoleManager    Role = "manager"
	RoleTechnician Role = "technician"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleReporter, RoleManager, RoleTechnician:
		return true
	}
	return false
}

// Profile is the stored identity of a principal.
type Profile struct {
	ID           string
	Email        string
	DisplayName  string
	Role         Role
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Principal returns the acting identity for the profile.
func (p *Profile) Principal() Principal {
	return Principal{ID: p.ID, Email: p.Email, DisplayName: p.DisplayName, Role: p.Role}
}
