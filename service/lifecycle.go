package service

import (
	"context"
	"fmt"
	"time"

	"github.com/custos-vault/custos/db"
	"github.com/custos-vault/custos/models"
)

// requireActive refuse read or use of a credential outside the active state
func requireActive(credential models.Credential, now time.Time) error {
	switch credential.State(now) {
	case models.CredentialStateRevoked:
		return fmt.Errorf(
			"credential %s is not usable [%w]",
			credential.ID,
			models.KeyRevokedError{CredentialID: credential.ID},
		)
	case models.CredentialStateExpired:
		return fmt.Errorf(
			"credential %s is not usable [%w]",
			credential.ID,
			models.KeyExpiredError{CredentialID: credential.ID},
		)
	}
	return nil
}

/*
CreateCredential store a new credential owned by the actor

	@param ctx context.Context - execution context
	@param actor models.Principal - the acting principal
	@param request CreateCredentialRequest - the credential to store
	@param activeDBClient Database - existing database transaction
	@returns the stored credential
*/
func (s *credentialCustody) CreateCredential(
	ctx context.Context,
	actor models.Principal,
	request CreateCredentialRequest,
	activeDBClient db.Database,
) (CredentialInfo, error) {
	if err := s.validator.Struct(&request); err != nil {
		return CredentialInfo{}, fmt.Errorf(
			"refusing to store credential [%w]",
			models.ValidationError{Message: err.Error()},
		)
	}

	// Seal the secret before touching persistence
	envelope, err := s.cipher.Seal(ctx, []byte(request.Secret))
	if err != nil {
		return CredentialInfo{}, fmt.Errorf("failed to seal new credential secret [%w]", err)
	}

	var credential models.Credential
	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, s.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			credential, err = dbClient.DefineNewCredential(
				dbCtx, actor, request.Name, request.Service, envelope, request.ExpiresAt,
			)
			if err != nil {
				return fmt.Errorf("failed to define new credential [%w]", err)
			}
			return nil
		},
	); dbErr != nil {
		return CredentialInfo{}, fmt.Errorf(
			"failed to store credential '%s' [%w]", request.Name, dbErr,
		)
	}

	s.recordAudit(
		ctx,
		actor.ID,
		models.AuditActionCreateKey,
		&credential.ID,
		models.AuditCredentialLabelDetails{Name: credential.Name, Service: credential.Service},
	)

	return newCredentialInfo(credential, time.Now()), nil
}

/*
RevealCredential decrypt and return a credential's current secret

Requires ownership or the admin role, and an active credential.

	@param ctx context.Context - execution context
	@param actor models.Principal - the acting principal
	@param credentialID string - credential ID
	@param activeDBClient Database - existing database transaction
	@return the plain text secret
*/
func (s *credentialCustody) RevealCredential(
	ctx context.Context, actor models.Principal, credentialID string, activeDBClient db.Database,
) (string, error) {
	var credential models.Credential

	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, s.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			credential, err = dbClient.GetCredential(dbCtx, credentialID)
			return err
		},
	); dbErr != nil {
		return "", fmt.Errorf("failed to reveal credential %s [%w]", credentialID, dbErr)
	}

	// Authorization strictly before lifecycle evaluation and decryption
	if err := requireCanAct(actor, credential); err != nil {
		return "", err
	}
	if err := requireActive(credential, time.Now()); err != nil {
		return "", err
	}

	plainText, err := s.cipher.Open(ctx, credential.Envelope)
	if err != nil {
		return "", fmt.Errorf("failed to open credential %s envelope [%w]", credentialID, err)
	}

	s.recordAudit(ctx, actor.ID, models.AuditActionViewKey, &credential.ID, nil)

	return string(plainText), nil
}

/*
RotateCredential replace a credential's secret, recording the replaced secret
in the rotation ledger

Requires ownership or the admin role, and an active credential. One exception:
an expired credential may be rotated when the call supplies a new expiry later
than now, which returns it to active. A revoked credential can never be
rotated.

	@param ctx context.Context - execution context
	@param actor models.Principal - the acting principal
	@param credentialID string - credential ID
	@param newSecret string - the replacement secret
	@param newExpiresAt *time.Time - replacement expiry; nil leaves the current
	    expiry untouched
	@param activeDBClient Database - existing database transaction
	@returns the updated credential
*/
func (s *credentialCustody) RotateCredential(
	ctx context.Context,
	actor models.Principal,
	credentialID string,
	newSecret string,
	newExpiresAt *time.Time,
	activeDBClient db.Database,
) (CredentialInfo, error) {
	if newSecret == "" {
		return CredentialInfo{}, fmt.Errorf(
			"refusing to rotate credential %s [%w]",
			credentialID,
			models.ValidationError{Message: "replacement secret is required"},
		)
	}

	now := time.Now()

	// Seal the replacement up front so the transaction below never waits on
	// entropy
	envelope, err := s.cipher.Seal(ctx, []byte(newSecret))
	if err != nil {
		return CredentialInfo{}, fmt.Errorf("failed to seal replacement secret [%w]", err)
	}

	var updated models.Credential
	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, s.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			credential, err := dbClient.GetCredential(dbCtx, credentialID)
			if err != nil {
				return err
			}

			if err := requireCanAct(actor, credential); err != nil {
				return err
			}

			if err := requireActive(credential, now); err != nil {
				// Expiry is not terminal: a rotation carrying a later expiry
				// returns the credential to active
				resurrecting := credential.State(now) == models.CredentialStateExpired &&
					newExpiresAt != nil && newExpiresAt.After(now)
				if !resurrecting {
					return err
				}
			}

			updated, _, err = dbClient.RotateCredentialEnvelope(
				dbCtx, credentialID, envelope, newExpiresAt, now,
			)
			if err != nil {
				return fmt.Errorf("failed to replace credential envelope [%w]", err)
			}
			return nil
		},
	); dbErr != nil {
		return CredentialInfo{}, fmt.Errorf("failed to rotate credential %s [%w]", credentialID, dbErr)
	}

	s.recordAudit(ctx, actor.ID, models.AuditActionRotateKey, &updated.ID, nil)

	return newCredentialInfo(updated, now), nil
}

/*
RevokeCredential permanently revoke a credential

Requires ownership or the admin role. Irreversible.

	@param ctx context.Context - execution context
	@param actor models.Principal - the acting principal
	@param credentialID string - credential ID
	@param activeDBClient Database - existing database transaction
	@returns the updated credential
*/
func (s *credentialCustody) RevokeCredential(
	ctx context.Context, actor models.Principal, credentialID string, activeDBClient db.Database,
) (CredentialInfo, error) {
	var updated models.Credential

	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, s.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			credential, err := dbClient.GetCredential(dbCtx, credentialID)
			if err != nil {
				return err
			}

			if err := requireCanAct(actor, credential); err != nil {
				return err
			}

			updated, err = dbClient.MarkCredentialRevoked(dbCtx, credentialID)
			if err != nil {
				return fmt.Errorf("failed to mark credential revoked [%w]", err)
			}
			return nil
		},
	); dbErr != nil {
		return CredentialInfo{}, fmt.Errorf("failed to revoke credential %s [%w]", credentialID, dbErr)
	}

	s.recordAudit(ctx, actor.ID, models.AuditActionRevokeKey, &updated.ID, nil)

	return newCredentialInfo(updated, time.Now()), nil
}

/*
DeleteCredential delete a credential and its rotation ledger

Requires ownership or the admin role.

	@param ctx context.Context - execution context
	@param actor models.Principal - the acting principal
	@param credentialID string - credential ID
	@param activeDBClient Database - existing database transaction
*/
func (s *credentialCustody) DeleteCredential(
	ctx context.Context, actor models.Principal, credentialID string, activeDBClient db.Database,
) error {
	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, s.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			credential, err := dbClient.GetCredential(dbCtx, credentialID)
			if err != nil {
				return err
			}

			if err := requireCanAct(actor, credential); err != nil {
				return err
			}

			return dbClient.DeleteCredential(dbCtx, credentialID)
		},
	); dbErr != nil {
		return fmt.Errorf("failed to delete credential %s [%w]", credentialID, dbErr)
	}

	s.recordAudit(ctx, actor.ID, models.AuditActionDeleteKey, &credentialID, nil)

	return nil
}

/*
GetRotationHistory fetch a credential's rotation ledger with each superseded
secret decrypted for display, newest rotation first

Requires ownership or the admin role. Available regardless of the credential's
lifecycle state.

	@param ctx context.Context - execution context
	@param actor models.Principal - the acting principal
	@param credentialID string - credential ID
	@param activeDBClient Database - existing database transaction
	@returns the decrypted rotation history
*/
func (s *credentialCustody) GetRotationHistory(
	ctx context.Context, actor models.Principal, credentialID string, activeDBClient db.Database,
) (CredentialHistory, error) {
	var credential models.Credential
	var ledger []models.RotationEntry

	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, s.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			credential, err = dbClient.GetCredential(dbCtx, credentialID)
			if err != nil {
				return err
			}

			if err := requireCanAct(actor, credential); err != nil {
				return err
			}

			ledger, err = dbClient.ListRotationEntries(
				dbCtx, credential, db.RotationEntryQueryFilter{},
			)
			if err != nil {
				return fmt.Errorf("failed to list rotation entries [%w]", err)
			}
			return nil
		},
	); dbErr != nil {
		return CredentialHistory{}, fmt.Errorf(
			"failed to fetch credential %s history [%w]", credentialID, dbErr,
		)
	}

	history := CredentialHistory{
		CredentialID: credential.ID,
		Name:         credential.Name,
		Service:      credential.Service,
		Rotations:    []RotationRecord{},
	}
	for _, entry := range ledger {
		plainText, err := s.cipher.Open(ctx, entry.Envelope)
		if err != nil {
			return CredentialHistory{}, fmt.Errorf(
				"failed to open rotation entry %s envelope [%w]", entry.ID, err,
			)
		}
		history.Rotations = append(history.Rotations, RotationRecord{
			RotatedAt: entry.RotatedAt,
			Secret:    string(plainText),
		})
	}

	return history, nil
}
