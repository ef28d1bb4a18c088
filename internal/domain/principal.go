package domain

// Principal is the authenticated actor performing an operation.
type Principal struct {
	ID          string
	Email       string
	DisplayName string
	Role        Role
}

// Author returns the principal as an update log author.
func (p Principal) Author() Author {
	return Author{ID: p.ID, Name: p.DisplayName}
}
