package models

import "time"

// PrincipalRoleENUMType principal role ENUM value type
type PrincipalRoleENUMType string

const (
	// PrincipalRoleAdmin administrator, may act on any credential
	PrincipalRoleAdmin PrincipalRoleENUMType = "admin"
	// PrincipalRoleDeveloper regular user, may only act on owned credentials
	PrincipalRoleDeveloper PrincipalRoleENUMType = "developer"
)

// Principal an authenticated actor known to the system
//
// Login credentials and session handling live outside this module; only the
// identity and role are recorded here so ownership checks, owner search, and
// audit display joins have something to resolve against.
type Principal struct {
	// ID principal ID
	ID string `json:"id" gorm:"column:id;primaryKey;unique" validate:"required,uuid_rfc4122"`

	// Name display name
	Name string `json:"name" gorm:"column:name;not null" validate:"required"`
	// Email contact email. Unique across all principals.
	Email string `json:"email" gorm:"column:email;not null;unique" validate:"required,email"`

	// Role the principal's role
	Role PrincipalRoleENUMType `json:"role" gorm:"column:role;not null" validate:"required,principal_role"`

	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}

// IsAdmin whether the principal carries the administrator role
func (p Principal) IsAdmin() bool {
	return p.Role == PrincipalRoleAdmin
}
