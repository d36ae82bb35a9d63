package models

import "fmt"

// ValidationError a request is missing or carrying malformed required fields
type ValidationError struct {
	// Message what is wrong with the request
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s", e.Message)
}

// NotFoundError no entity exists with the requested ID
type NotFoundError struct {
	// EntityType what was looked up
	EntityType string
	// ID the ID that did not resolve
	ID string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.EntityType, e.ID)
}

// ForbiddenError the principal is authenticated but not authorized for the
// operation
//
// Returned before any lifecycle evaluation so unauthorized callers learn
// nothing about a credential's expiry or revocation status.
type ForbiddenError struct {
	// ActorID the principal that was refused
	ActorID string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("principal %s is not authorized for this operation", e.ActorID)
}

// KeyRevokedError the credential was revoked and is permanently unusable
type KeyRevokedError struct {
	// CredentialID the revoked credential
	CredentialID string
}

func (e KeyRevokedError) Error() string {
	return fmt.Sprintf("credential %s has been revoked", e.CredentialID)
}

// KeyExpiredError the credential's expiry timestamp has passed
//
// Unlike revocation this is recoverable; a rotation supplying a later expiry
// returns the credential to active.
type KeyExpiredError struct {
	// CredentialID the expired credential
	CredentialID string
}

func (e KeyExpiredError) Error() string {
	return fmt.Sprintf("credential %s has expired", e.CredentialID)
}

// DecryptionError a cipher envelope could not be opened
//
// This indicates corruption or cipher misconfiguration, never a valid state.
type DecryptionError struct {
	// Reason why the envelope could not be opened
	Reason string
}

func (e DecryptionError) Error() string {
	return fmt.Sprintf("cipher envelope could not be opened: %s", e.Reason)
}

// ConflictError an insert collided with a unique field of an existing entry
type ConflictError struct {
	// Field the unique field that collided
	Field string
	// Value the value that already exists
	Value string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("an entry with %s '%s' already exists", e.Field, e.Value)
}
