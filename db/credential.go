package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/custos-vault/custos/models"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// ======================================================================================
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
func (d *databaseImpl) DefineNewCredential(
	_ context.Context,
	owner models.Principal,
	name string,
	service string,
	envelope string,
	expiresAt *time.Time,
) (models.Credential, error) {
	newEntry := CredentialDBEntry{
		Credential: models.Credential{
			ID:        uuid.NewString(),
			OwnerID:   owner.ID,
			Name:      name,
			Service:   service,
			Envelope:  envelope,
			ExpiresAt: expiresAt,
			Revoked:   false,
		},
	}

	if err := d.validator.Struct(&newEntry); err != nil {
		return models.Credential{}, fmt.Errorf("new credential '%s' is not valid [%w]", name, err)
	}

	if tmp := d.db.Create(&newEntry); tmp.Error != nil {
		return models.Credential{}, fmt.Errorf(
			"new credential '%s' failed insert [%w]", name, tmp.Error,
		)
	}

	return newEntry.Credential, nil
}

// getCredentialEntry find a credential by ID
func (d *databaseImpl) getCredentialEntry(credentialID string) (CredentialDBEntry, error) {
	var entry CredentialDBEntry
	err := d.db.Where("id = ?", credentialID).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = models.NotFoundError{EntityType: "credential", ID: credentialID}
	}
	return entry, err
}

/*
GetCredential fetch a credential by ID

	@param ctx context.Context - execution context
	@param credentialID string - credential ID
	@returns credential entry
*/
func (d *databaseImpl) GetCredential(
	_ context.Context, credentialID string,
) (models.Credential, error) {
	entry, err := d.getCredentialEntry(credentialID)
	if err != nil {
		return models.Credential{}, fmt.Errorf(
			"failed to fetch credential %s [%w]", credentialID, err,
		)
	}

	return entry.Credential, nil
}

/*
ListCredentials list credentials

	@param ctx context.Context - execution context
	@param filters CredentialQueryFilter - entry listing filter
	@return list of credentials
*/
func (d *databaseImpl) ListCredentials(
	_ context.Context, filters CredentialQueryFilter,
) ([]models.Credential, error) {
	query := d.db.Model(&CredentialDBEntry{})

	if filters.TargetOwnerIDs != nil {
		// An empty set must match nothing; owner scoping never widens
		if len(filters.TargetOwnerIDs) == 0 {
			return []models.Credential{}, nil
		}
		query = query.Where("owner_id in ?", filters.TargetOwnerIDs)
	}

	if filters.NameContains != nil {
		query = query.Where("lower(name) LIKE ?", "%"+strings.ToLower(*filters.NameContains)+"%")
	}
	if filters.ServiceContains != nil {
		query = query.Where(
			"lower(service) LIKE ?", "%"+strings.ToLower(*filters.ServiceContains)+"%",
		)
	}

	if filters.ActiveAt != nil {
		query = query.Where(
			"revoked = ? AND (expires_at IS NULL OR expires_at > ?)", false, *filters.ActiveAt,
		)
	}
	if filters.InactiveAt != nil {
		query = query.Where(
			"revoked = ? OR (expires_at IS NOT NULL AND expires_at <= ?)", true, *filters.InactiveAt,
		)
	}

	if filters.Limit != nil {
		query = query.Limit(*filters.Limit)
	}
	if filters.Offset != nil {
		query = query.Offset(*filters.Offset)
	}

	query = query.Order("created_at desc")

	var entries []CredentialDBEntry
	if tmp := query.Find(&entries); tmp.Error != nil {
		return nil, fmt.Errorf("failed to list credentials [%w]", tmp.Error)
	}

	result := []models.Credential{}
	for _, entry := range entries {
		result = append(result, entry.Credential)
	}

	return result, nil
}

/*
RotateCredentialEnvelope replace a credential's envelope, recording the
superseded envelope in the rotation ledger

The ledger entry holding the old envelope is inserted before the credential row
is updated; the ledger only ever references envelopes that have been replaced.

	@param ctx context.Context - execution context
	@param credentialID string - credential ID
	@param newEnvelope string - the sealed replacement secret
	@param newExpiresAt *time.Time - replacement expiry; nil leaves the current
	    expiry untouched
	@param timestamp time.Time - rotation timestamp
	@returns the updated credential and the new ledger entry
*/
func (d *databaseImpl) RotateCredentialEnvelope(
	_ context.Context,
	credentialID string,
	newEnvelope string,
	newExpiresAt *time.Time,
	timestamp time.Time,
) (models.Credential, models.RotationEntry, error) {
	entry, err := d.getCredentialEntry(credentialID)
	if err != nil {
		return models.Credential{}, models.RotationEntry{}, fmt.Errorf(
			"failed to fetch credential %s [%w]", credentialID, err,
		)
	}

	// Snapshot the envelope being replaced
	ledgerEntry := RotationEntryDBEntry{
		RotationEntry: models.RotationEntry{
			ID:           ulid.Make().String(),
			CredentialID: entry.ID,
			Envelope:     entry.Envelope,
			RotatedAt:    timestamp,
		},
	}

	if err := d.validator.Struct(&ledgerEntry); err != nil {
		return models.Credential{}, models.RotationEntry{}, fmt.Errorf(
			"new rotation entry for credential %s is invalid [%w]", credentialID, err,
		)
	}

	if tmp := d.db.Create(&ledgerEntry); tmp.Error != nil {
		return models.Credential{}, models.RotationEntry{}, fmt.Errorf(
			"new rotation entry for credential %s insert failed [%w]", credentialID, tmp.Error,
		)
	}

	entry.Envelope = newEnvelope
	if newExpiresAt != nil {
		entry.ExpiresAt = newExpiresAt
	}
	if tmp := d.db.Updates(&entry); tmp.Error != nil {
		return models.Credential{}, models.RotationEntry{}, fmt.Errorf(
			"credential %s envelope replacement failed [%w]", credentialID, tmp.Error,
		)
	}

	return entry.Credential, ledgerEntry.RotationEntry, nil
}

/*
MarkCredentialRevoked revoke a credential

Revocation is irreversible; no API exists to clear the flag.

	@param ctx context.Context - execution context
	@param credentialID string - credential ID
	@returns the updated credential
*/
func (d *databaseImpl) MarkCredentialRevoked(
	_ context.Context, credentialID string,
) (models.Credential, error) {
	entry, err := d.getCredentialEntry(credentialID)
	if err != nil {
		return models.Credential{}, fmt.Errorf(
			"failed to fetch credential %s [%w]", credentialID, err,
		)
	}

	if entry.Revoked {
		// NOOP
		return entry.Credential, nil
	}

	entry.Revoked = true
	// Updates skips zero-value fields, so the flag is set through Update
	if tmp := d.db.Model(&entry).Update("revoked", true); tmp.Error != nil {
		return models.Credential{}, fmt.Errorf(
			"credential %s revocation failed [%w]", credentialID, tmp.Error,
		)
	}

	return entry.Credential, nil
}

/*
DeleteCredential delete a credential and its rotation ledger

	@param ctx context.Context - execution context
	@param credentialID string - credential ID
*/
func (d *databaseImpl) DeleteCredential(_ context.Context, credentialID string) error {
	entry, err := d.getCredentialEntry(credentialID)
	if err != nil {
		return fmt.Errorf("failed to fetch credential %s [%w]", credentialID, err)
	}

	if tmp := d.db.Delete(&entry); tmp.Error != nil {
		return fmt.Errorf("failed to delete credential %s [%w]", credentialID, tmp.Error)
	}

	return nil
}

/*
ListRotationEntries list a credential's rotation ledger, most recent rotation
first

The ledger is stored append-only; the reverse-chronological ordering here is
imposed at read time.

	@param ctx context.Context - execution context
	@param credential models.Credential - the parent credential
	@param filters RotationEntryQueryFilter - entry listing filter
	@return ledger entries, newest first
*/
func (d *databaseImpl) ListRotationEntries(
	_ context.Context, credential models.Credential, filters RotationEntryQueryFilter,
) ([]models.RotationEntry, error) {
	query := d.db.Model(&RotationEntryDBEntry{}).Where("credential_id = ?", credential.ID)

	if filters.Limit != nil {
		query = query.Limit(*filters.Limit)
	}
	if filters.Offset != nil {
		query = query.Offset(*filters.Offset)
	}

	query = query.Order("rotated_at desc")

	var entries []RotationEntryDBEntry
	if tmp := query.Find(&entries); tmp.Error != nil {
		return nil, fmt.Errorf(
			"failed to list credential %s rotation entries [%w]", credential.ID, tmp.Error,
		)
	}

	result := []models.RotationEntry{}
	for _, entry := range entries {
		result = append(result, entry.RotationEntry)
	}

	return result, nil
}
