package db

import (
	"context"

	"github.com/custos-vault/custos/models"
	"gorm.io/gorm"
)

// --------------------------------------------------------------------------------------
// Principals

// PrincipalDBEntry principal DB entry
type PrincipalDBEntry struct {
	models.Principal
}

// TableName hard code table name
func (PrincipalDBEntry) TableName() string {
	return "principals"
}

// --------------------------------------------------------------------------------------
// Credentials

// CredentialDBEntry credential DB entry
type CredentialDBEntry struct {
	models.Credential
	Owner PrincipalDBEntry `gorm:"constraint:OnDelete:CASCADE;foreignKey:OwnerID" validate:"-"`
}

// TableName hard code table name
func (CredentialDBEntry) TableName() string {
	return "credentials"
}

// RotationEntryDBEntry rotation ledger DB entry
type RotationEntryDBEntry struct {
	models.RotationEntry
	Credential CredentialDBEntry `gorm:"constraint:OnDelete:CASCADE;foreignKey:CredentialID" validate:"-"`
}

// TableName hard code table name
func (RotationEntryDBEntry) TableName() string {
	return "rotation_entries"
}

// --------------------------------------------------------------------------------------
// Audit events

// AuditEventDBEntry audit event DB entry
type AuditEventDBEntry struct {
	models.AuditEvent
}

// TableName hard code table name
func (AuditEventDBEntry) TableName() string {
	return "audit_events"
}

// --------------------------------------------------------------------------------------

// DefineTables create the database tables
func DefineTables(_ context.Context, db *gorm.DB) error {
	return db.AutoMigrate(
		PrincipalDBEntry{},
		CredentialDBEntry{},
		RotationEntryDBEntry{},
		AuditEventDBEntry{},
	)
}
