// Package db - persistence layer
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/custos-vault/custos/models"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// CommonListEntryQueryFilter common query filter when listing data entries
type CommonListEntryQueryFilter struct {
	Limit  *int
	Offset *int
}

// PrincipalQueryFilter principal query filter conditions
type PrincipalQueryFilter struct {
	CommonListEntryQueryFilter
	// NameOrEmailContains case-insensitive substring matched against both the
	// principal name and email
	NameOrEmailContains *string
}

// CredentialQueryFilter credential query filter conditions
type CredentialQueryFilter struct {
	CommonListEntryQueryFilter
	// TargetOwnerIDs fetch only credentials owned by these principals.
	//
	// nil means no owner scoping. An empty non-nil set matches nothing; owner
	// resolution which found no principals must fail closed, never widen to
	// every credential.
	TargetOwnerIDs []string
	// NameContains case-insensitive substring match against the name
	NameContains *string
	// ServiceContains case-insensitive substring match against the service
	ServiceContains *string
	// ActiveAt fetch only credentials active at this instant
	ActiveAt *time.Time
	// InactiveAt fetch only credentials revoked or expired at this instant
	InactiveAt *time.Time
}

// RotationEntryQueryFilter rotation ledger query filter conditions
type RotationEntryQueryFilter struct {
	CommonListEntryQueryFilter
}

// AuditEventQueryFilter audit event query filter conditions
type AuditEventQueryFilter struct {
	CommonListEntryQueryFilter
	// TargetActions the specific actions to query for
	TargetActions []models.AuditActionENUMType
	// EventsAfter filter for events after this timestamp
	EventsAfter *time.Time
	// EventsBefore filter for events before this timestamp
	EventsBefore *time.Time
}

// Database the database handle for interacting with the database
type Database interface {
	// ------------------------------------------------------------------------------------
	// Principals

	/*
		DefineNewPrincipal define a new principal

			@param ctx context.Context - execution context
			@param name string - display name
			@param email string - contact email, unique across principals
			@param role models.PrincipalRoleENUMType - principal role
			@returns principal entry
	*/
	DefineNewPrincipal(
		ctx context.Context, name string, email string, role models.PrincipalRoleENUMType,
	) (models.Principal, error)

	/*
		GetPrincipal fetch a principal by ID

			@param ctx context.Context - execution context
			@param principalID string - principal ID
			@returns principal entry
	*/
	GetPrincipal(ctx context.Context, principalID string) (models.Principal, error)

	/*
		ListPrincipals list principals

			@param ctx context.Context - execution context
			@param filters PrincipalQueryFilter - entry listing filter
			@return list of principals
	*/
	ListPrincipals(ctx context.Context, filters PrincipalQueryFilter) ([]models.Principal, error)

	// ------------------------------------------------------------------------------------
	// Credentials

	/*
		DefineNewCredential define a new credential

			@param ctx context.Context - execution context
			@param owner models.Principal - the owning principal
			@param name string - credential name
			@param service string - third-party service label
			@param envelope string - the sealed secret envelope
			@param expiresAt *time.Time - optional expiry timestamp
			@returns credential entry
	*/
	DefineNewCredential(
		ctx context.Context,
		owner models.Principal,
		name string,
		service string,
		envelope string,
		expiresAt *time.Time,
	) (models.Credential, error)

	/*
		GetCredential fetch a credential by ID

			@param ctx context.Context - execution context
			@param credentialID string - credential ID
			@returns credential entry
	*/
	GetCredential(ctx context.Context, credentialID string) (models.Credential, error)

	/*
		ListCredentials list credentials

			@param ctx context.Context - execution context
			@param filters CredentialQueryFilter - entry listing filter
			@return list of credentials
	*/
	ListCredentials(
		ctx context.Context, filters CredentialQueryFilter,
	) ([]models.Credential, error)

	/*
		RotateCredentialEnvelope replace a credential's envelope, recording the
		superseded envelope in the rotation ledger

		The ledger entry holding the old envelope is inserted before the
		credential row is updated; the ledger only ever references envelopes
		that have been replaced.

			@param ctx context.Context - execution context
			@param credentialID string - credential ID
			@param newEnvelope string - the sealed replacement secret
			@param newExpiresAt *time.Time - replacement expiry; nil leaves the
			    current expiry untouched
			@param timestamp time.Time - rotation timestamp
			@returns the updated credential and the new ledger entry
	*/
	RotateCredentialEnvelope(
		ctx context.Context,
		credentialID string,
		newEnvelope string,
		newExpiresAt *time.Time,
		timestamp time.Time,
	) (models.Credential, models.RotationEntry, error)

	/*
		MarkCredentialRevoked revoke a credential

		Revocation is irreversible; no API exists to clear the flag.

			@param ctx context.Context - execution context
			@param credentialID string - credential ID
			@returns the updated credential
	*/
	MarkCredentialRevoked(ctx context.Context, credentialID string) (models.Credential, error)

	/*
		DeleteCredential delete a credential and its rotation ledger

			@param ctx context.Context - execution context
			@param credentialID string - credential ID
	*/
	DeleteCredential(ctx context.Context, credentialID string) error

	/*
		ListRotationEntries list a credential's rotation ledger, most recent
		rotation first

			@param ctx context.Context - execution context
			@param credential models.Credential - the parent credential
			@param filters RotationEntryQueryFilter - entry listing filter
			@return ledger entries, newest first
	*/
	ListRotationEntries(
		ctx context.Context, credential models.Credential, filters RotationEntryQueryFilter,
	) ([]models.RotationEntry, error)

	// ------------------------------------------------------------------------------------
	// Audit events

	/*
		RecordAuditEvent append a new audit event

			@param ctx context.Context - execution context
			@param actorID string - the acting principal
			@param action models.AuditActionENUMType - the action performed
			@param targetID *string - the credential acted on, if any
			@param details interface{} - action specific metadata
			@returns the audit entry
	*/
	RecordAuditEvent(
		ctx context.Context,
		actorID string,
		action models.AuditActionENUMType,
		targetID *string,
		details interface{},
	) (models.AuditEvent, error)

	/*
		ListAuditEvents list captured audit events, most recent first, joined
		with actor display info

			@param ctx context.Context - execution context
			@param filters AuditEventQueryFilter - entry listing filter
			@return list of audit events
	*/
	ListAuditEvents(
		ctx context.Context, filters AuditEventQueryFilter,
	) ([]models.AuditEventWithActor, error)
}

// databaseImpl implements Database
type databaseImpl struct {
	goutils.Component
	db        *gorm.DB
	validator *validator.Validate
}

// newDatabase define a new database client
func newDatabase(_ context.Context, sqlClient *gorm.DB) (Database, error) {
	logTags := log.Fields{"package": "custos", "module": "db", "component": "db-client"}

	instance := &databaseImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		db:        sqlClient,
		validator: validator.New(),
	}

	if err := models.RegisterWithValidator(instance.validator); err != nil {
		return nil, fmt.Errorf("failed to install custom validation macros [%w]", err)
	}

	return instance, nil
}
