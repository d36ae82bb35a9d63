// Package service - credential custody controllers
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/custos-vault/custos/db"
	"github.com/custos-vault/custos/encryption"
	"github.com/custos-vault/custos/models"
	"github.com/go-playground/validator/v10"
)

// CredentialInfo a credential as surfaced to callers
//
// Listing and search views never expose the cipher envelope; the secret is
// only reachable through an explicit reveal, history, or export call.
type CredentialInfo struct {
	// ID credential ID
	ID string `json:"id"`
	// OwnerID the owning principal
	OwnerID string `json:"owner_id"`
	// Name credential name
	Name string `json:"name"`
	// Service third-party service label
	Service string `json:"service"`
	// ExpiresAt optional expiry timestamp
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	// Revoked whether the credential was revoked
	Revoked bool `json:"revoked"`
	// State lifecycle state at the time of the call
	State models.CredentialStateENUMType `json:"state"`
	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
}

// newCredentialInfo project a credential into its caller facing view
func newCredentialInfo(credential models.Credential, now time.Time) CredentialInfo {
	return CredentialInfo{
		ID:        credential.ID,
		OwnerID:   credential.OwnerID,
		Name:      credential.Name,
		Service:   credential.Service,
		ExpiresAt: credential.ExpiresAt,
		Revoked:   credential.Revoked,
		State:     credential.State(now),
		CreatedAt: credential.CreatedAt,
	}
}

// CreateCredentialRequest parameters for creating a credential
type CreateCredentialRequest struct {
	// Name credential name
	Name string `validate:"required"`
	// Service third-party service label
	Service string `validate:"required"`
	// Secret the plain text secret to seal and store
	Secret string `validate:"required"`
	// ExpiresAt optional expiry timestamp. nil means never expires.
	ExpiresAt *time.Time `validate:"-"`
}

// RotationRecord one superseded secret of a credential, decrypted for display
type RotationRecord struct {
	// RotatedAt when the rotation occurred
	RotatedAt time.Time `json:"rotated_at"`
	// Secret the superseded secret
	Secret string `json:"secret"`
}

// CredentialHistory a credential's rotation ledger, newest rotation first
type CredentialHistory struct {
	// CredentialID credential ID
	CredentialID string `json:"credential_id"`
	// Name credential name
	Name string `json:"name"`
	// Service third-party service label
	Service string `json:"service"`
	// Rotations the ledger, most recent rotation first
	Rotations []RotationRecord `json:"rotations"`
}

// SearchFilters credential search filter conditions
type SearchFilters struct {
	// Name case-insensitive substring match against the credential name
	Name *string
	// Service case-insensitive substring match against the service label
	Service *string
	// OwnerMatch admin-only case-insensitive fragment resolved against
	// principal names and emails. Zero matching principals yields an empty
	// result set, never an unscoped one.
	OwnerMatch *string
}

// OwnerCredentials one principal together with their active credentials
type OwnerCredentials struct {
	// Owner the principal
	Owner models.Principal `json:"owner"`
	// Credentials the principal's active credentials
	Credentials []CredentialInfo `json:"credentials"`
}

// ExportRow one row of the admin bulk export: the flat decrypted projection
// of a credential joined with its owner
type ExportRow struct {
	// Owner display name of the owning principal
	Owner string `json:"owner"`
	// Email email of the owning principal
	Email string `json:"email"`
	// Name credential name
	Name string `json:"name"`
	// Service third-party service label
	Service string `json:"service"`
	// Secret the decrypted secret
	Secret string `json:"secret"`
	// ExpiresAt optional expiry timestamp
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	// Revoked whether the credential was revoked
	Revoked bool `json:"revoked"`
}

/*
CredentialCustody the credential custody controller. Every operation takes the
authenticated acting principal; the controller enforces the authorization
policy, evaluates the credential lifecycle, drives the cipher, and appends
audit events.

Audit writes are best-effort: a failed append is logged locally and never
fails the primary operation.
*/
type CredentialCustody interface {
	/*
		CreateCredential store a new credential owned by the actor

			@param ctx context.Context - execution context
			@param actor models.Principal - the acting principal
			@param request CreateCredentialRequest - the credential to store
			@param activeDBClient Database - existing database transaction
			@returns the stored credential
	*/
	CreateCredential(
		ctx context.Context,
		actor models.Principal,
		request CreateCredentialRequest,
		activeDBClient db.Database,
	) (CredentialInfo, error)

	/*
		RevealCredential decrypt and return a credential's current secret

		Requires ownership or the admin role, and an active credential.

			@param ctx context.Context - execution context
			@param actor models.Principal - the acting principal
			@param credentialID string - credential ID
			@param activeDBClient Database - existing database transaction
			@return the plain text secret
	*/
	RevealCredential(
		ctx context.Context, actor models.Principal, credentialID string, activeDBClient db.Database,
	) (string, error)

	/*
		RotateCredential replace a credential's secret, recording the replaced
		secret in the rotation ledger

		Requires ownership or the admin role, and an active credential. One
		exception: an expired credential may be rotated when the call supplies
		a new expiry later than now, which returns it to active. A revoked
		credential can never be rotated.

			@param ctx context.Context - execution context
			@param actor models.Principal - the acting principal
			@param credentialID string - credential ID
			@param newSecret string - the replacement secret
			@param newExpiresAt *time.Time - replacement expiry; nil leaves the
			    current expiry untouched
			@param activeDBClient Database - existing database transaction
			@returns the updated credential
	*/
	RotateCredential(
		ctx context.Context,
		actor models.Principal,
		credentialID string,
		newSecret string,
		newExpiresAt *time.Time,
		activeDBClient db.Database,
	) (CredentialInfo, error)

	/*
		RevokeCredential permanently revoke a credential

		Requires ownership or the admin role. Irreversible.

			@param ctx context.Context - execution context
			@param actor models.Principal - the acting principal
			@param credentialID string - credential ID
			@param activeDBClient Database - existing database transaction
			@returns the updated credential
	*/
	RevokeCredential(
		ctx context.Context, actor models.Principal, credentialID string, activeDBClient db.Database,
	) (CredentialInfo, error)

	/*
		DeleteCredential delete a credential and its rotation ledger

		Requires ownership or the admin role.

			@param ctx context.Context - execution context
			@param actor models.Principal - the acting principal
			@param credentialID string - credential ID
			@param activeDBClient Database - existing database transaction
	*/
	DeleteCredential(
		ctx context.Context, actor models.Principal, credentialID string, activeDBClient db.Database,
	) error

	/*
		GetRotationHistory fetch a credential's rotation ledger with each
		superseded secret decrypted for display, newest rotation first

		Requires ownership or the admin role. Available regardless of the
		credential's lifecycle state.

			@param ctx context.Context - execution context
			@param actor models.Principal - the acting principal
			@param credentialID string - credential ID
			@param activeDBClient Database - existing database transaction
			@returns the decrypted rotation history
	*/
	GetRotationHistory(
		ctx context.Context, actor models.Principal, credentialID string, activeDBClient db.Database,
	) (CredentialHistory, error)

	/*
		ListCredentials list active credentials

		Non-admin actors see only their own credentials; admins see all.

			@param ctx context.Context - execution context
			@param actor models.Principal - the acting principal
			@param activeDBClient Database - existing database transaction
			@return active credentials, newest first
	*/
	ListCredentials(
		ctx context.Context, actor models.Principal, activeDBClient db.Database,
	) ([]CredentialInfo, error)

	/*
		SearchCredentials search active credentials with substring filters

		Non-admin actors search only their own credentials and may not use the
		owner filter. An owner filter matching no principal returns an empty
		result set.

			@param ctx context.Context - execution context
			@param actor models.Principal - the acting principal
			@param filters SearchFilters - search filter conditions
			@param activeDBClient Database - existing database transaction
			@return matching active credentials
	*/
	SearchCredentials(
		ctx context.Context,
		actor models.Principal,
		filters SearchFilters,
		activeDBClient db.Database,
	) ([]CredentialInfo, error)

	/*
		ListInactiveCredentials list revoked and expired credentials. Admin only.

			@param ctx context.Context - execution context
			@param actor models.Principal - the acting principal
			@param activeDBClient Database - existing database transaction
			@return inactive credentials
	*/
	ListInactiveCredentials(
		ctx context.Context, actor models.Principal, activeDBClient db.Database,
	) ([]CredentialInfo, error)

	/*
		ListCredentialsByOwner group every principal with their active
		credentials. Admin only.

			@param ctx context.Context - execution context
			@param actor models.Principal - the acting principal
			@param activeDBClient Database - existing database transaction
			@return per-owner active credential groupings
	*/
	ListCredentialsByOwner(
		ctx context.Context, actor models.Principal, activeDBClient db.Database,
	) ([]OwnerCredentials, error)

	/*
		ListPrincipals list every known principal. Admin only.

			@param ctx context.Context - execution context
			@param actor models.Principal - the acting principal
			@param activeDBClient Database - existing database transaction
			@return list of principals
	*/
	ListPrincipals(
		ctx context.Context, actor models.Principal, activeDBClient db.Database,
	) ([]models.Principal, error)

	/*
		ExportCredentials decrypt every stored credential into a flat tabular
		projection. Admin only.

		An envelope that fails to open aborts the whole export; a corrupt
		envelope is treated as data corruption, not a skippable row.

			@param ctx context.Context - execution context
			@param actor models.Principal - the acting principal
			@param activeDBClient Database - existing database transaction
			@return export rows
	*/
	ExportCredentials(
		ctx context.Context, actor models.Principal, activeDBClient db.Database,
	) ([]ExportRow, error)

	/*
		ListAuditEvents list recorded audit events, most recent first, joined
		with actor display info. Admin only.

			@param ctx context.Context - execution context
			@param actor models.Principal - the acting principal
			@param limit *int - page size; defaults to the recorder's cap
			@param activeDBClient Database - existing database transaction
			@return audit events
	*/
	ListAuditEvents(
		ctx context.Context, actor models.Principal, limit *int, activeDBClient db.Database,
	) ([]models.AuditEventWithActor, error)
}

// credentialCustody implements CredentialCustody
type credentialCustody struct {
	goutils.Component

	persistence db.Client

	cipher encryption.Cipher

	validator *validator.Validate
}

/*
NewCredentialCustody define new credential custody controller

	@param ctx context.Context - execution context
	@param persistence db.Client - persistence layer client
	@param cipher encryption.Cipher - secret sealing engine
	@returns controller instance
*/
func NewCredentialCustody(
	_ context.Context, persistence db.Client, cipher encryption.Cipher,
) (CredentialCustody, error) {
	logTags := log.Fields{"package": "custos", "module": "service", "component": "credential-custody"}

	instance := &credentialCustody{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		persistence: persistence,
		cipher:      cipher,
		validator:   validator.New(),
	}

	if err := models.RegisterWithValidator(instance.validator); err != nil {
		return nil, fmt.Errorf("failed to install custom validation macros [%w]", err)
	}

	return instance, nil
}

// recordAudit append an audit event outside the primary operation
//
// Best-effort: failures are logged and swallowed so the primary operation's
// outcome is never affected.
func (s *credentialCustody) recordAudit(
	ctx context.Context,
	actorID string,
	action models.AuditActionENUMType,
	targetID *string,
	details interface{},
) {
	if err := s.persistence.UseDatabase(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			_, err := dbClient.RecordAuditEvent(dbCtx, actorID, action, targetID, details)
			return err
		},
	); err != nil {
		log.WithError(err).WithFields(s.LogTags).
			WithField("action", action).
			Error("Audit event write failed")
	}
}
