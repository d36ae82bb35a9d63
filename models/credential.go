// Package models - credential custody data models
package models

import "time"

// CredentialStateENUMType credential lifecycle state ENUM value type
type CredentialStateENUMType string

const (
	// CredentialStateActive the credential is usable
	CredentialStateActive CredentialStateENUMType = "ACTIVE"
	// CredentialStateExpired the credential's expiry timestamp has passed
	CredentialStateExpired CredentialStateENUMType = "EXPIRED"
	// CredentialStateRevoked the credential was explicitly revoked
	CredentialStateRevoked CredentialStateENUMType = "REVOKED"
)

// Credential a stored third-party API credential
//
// The secret itself is only ever stored as a cipher envelope; the plaintext
// exists in memory for the duration of a reveal, rotate, or export call.
type Credential struct {
	// ID credential ID
	ID string `json:"id" gorm:"column:id;primaryKey;unique" validate:"required,uuid_rfc4122"`

	// OwnerID the principal who owns this credential. Immutable after creation.
	OwnerID string `json:"owner_id" gorm:"column:owner_id;not null" validate:"required,uuid_rfc4122"`

	// Name user facing credential label
	Name string `json:"name" gorm:"column:name;not null" validate:"required"`
	// Service the third-party service this credential belongs to
	Service string `json:"service" gorm:"column:service;not null" validate:"required"`

	// Envelope the current cipher envelope holding the secret
	Envelope string `json:"envelope" gorm:"column:envelope;not null" validate:"required"`

	// ExpiresAt optional absolute expiry timestamp. nil means never expires.
	ExpiresAt *time.Time `json:"expires_at,omitempty" gorm:"column:expires_at;default:null"`

	// Revoked whether the credential was revoked. Never cleared once set.
	Revoked bool `json:"revoked" gorm:"column:revoked;not null;default:false"`

	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}

/*
IsActive whether the credential is usable at the given instant.

Activity is always derived from `Revoked` and `ExpiresAt`; it is never stored.

	@param now time.Time - the instant to evaluate against
	@return whether the credential is active
*/
func (c Credential) IsActive(now time.Time) bool {
	if c.Revoked {
		return false
	}
	return c.ExpiresAt == nil || c.ExpiresAt.After(now)
}

/*
State derive the lifecycle state at the given instant.

Revocation dominates expiry: a revoked credential reports REVOKED even after
its expiry timestamp passes.

	@param now time.Time - the instant to evaluate against
	@return the lifecycle state
*/
func (c Credential) State(now time.Time) CredentialStateENUMType {
	if c.Revoked {
		return CredentialStateRevoked
	}
	if c.ExpiresAt != nil && !c.ExpiresAt.After(now) {
		return CredentialStateExpired
	}
	return CredentialStateActive
}

// RotationEntry one superseded cipher envelope of a credential
//
// Entries are append-only; they are never updated, removed, or reordered.
type RotationEntry struct {
	// ID rotation entry ID
	ID string `json:"id" gorm:"column:id;primaryKey;unique" validate:"required"`

	// CredentialID the parent credential
	CredentialID string `json:"credential_id" gorm:"column:credential_id;not null" validate:"required,uuid_rfc4122"`

	// Envelope the cipher envelope that was replaced by the rotation
	Envelope string `json:"envelope" gorm:"column:envelope;not null" validate:"required"`

	// RotatedAt when the rotation occurred
	RotatedAt time.Time `json:"rotated_at" gorm:"column:rotated_at;not null" validate:"required"`

	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}
