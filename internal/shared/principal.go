package shared

import "github.com/google/uuid"

// RoleRef identifies a role held by a principal.
type RoleRef struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Principal is the resolved identity of an authenticated caller.
type Principal struct {
	ID     uuid.UUID `json:"id"`
	Email  string    `json:"email"`
	Active bool      `json:"is_active"`
	Roles  []RoleRef `json:"roles"`
}

// HasRole reports whether the principal holds a role with the given name.
func (p Principal) HasRole(name string) bool {
	for _, r := range p.Roles {
		if r.Name == name {
			return true
		}
	}
	return false
}
