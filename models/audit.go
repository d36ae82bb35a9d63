package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/datatypes"
)

// AuditActionENUMType audit action ENUM value type
type AuditActionENUMType string

const (
	// AuditActionCreateKey a credential was created
	AuditActionCreateKey AuditActionENUMType = "CREATE_KEY"

	// AuditActionViewKey a credential secret was revealed
	AuditActionViewKey AuditActionENUMType = "VIEW_KEY"

	// AuditActionRotateKey a credential secret was rotated
	AuditActionRotateKey AuditActionENUMType = "ROTATE_KEY"

	// AuditActionRevokeKey a credential was revoked
	AuditActionRevokeKey AuditActionENUMType = "REVOKE_KEY"

	// AuditActionDeleteKey a credential was deleted
	AuditActionDeleteKey AuditActionENUMType = "DELETE_KEY"

	// AuditActionExportKeys all credentials were bulk exported in plaintext
	AuditActionExportKeys AuditActionENUMType = "EXPORT_KEYS"
)

// AuditEvent recording of one sensitive operation
//
// Events are immutable once written; nothing in this module updates or
// deletes them.
type AuditEvent struct {
	// ID audit entry ID
	ID string `json:"id" gorm:"column:id;primaryKey;unique" validate:"required"`
	// ActorID the principal that performed the action
	ActorID string `json:"actor_id" gorm:"column:actor_id;not null" validate:"required,uuid_rfc4122"`
	// Action the action performed
	Action AuditActionENUMType `json:"action" gorm:"column:action;not null" validate:"required,audit_action"`
	// TargetID the credential acted on, if the action targets one
	TargetID *string `json:"target_id,omitempty" gorm:"column:target_id;default:null"`
	// Details action specific metadata
	Details datatypes.JSON `json:"details,omitempty" gorm:"column:details;default:null"`
	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}

// ParseDetails parse the details payload based on the action
func (a AuditEvent) ParseDetails(validator *validator.Validate) (interface{}, error) {
	switch a.Action {
	// Actions recording the credential's labels
	case AuditActionCreateKey:
		var parsed AuditCredentialLabelDetails
		if err := json.Unmarshal(a.Details, &parsed); err != nil {
			return nil, fmt.Errorf("audit event '%s' details parse failed [%w]", a.Action, err)
		}
		return parsed, validator.Struct(&parsed)

	// Bulk export records how many credentials were decrypted
	case AuditActionExportKeys:
		var parsed AuditExportDetails
		if err := json.Unmarshal(a.Details, &parsed); err != nil {
			return nil, fmt.Errorf("audit event '%s' details parse failed [%w]", a.Action, err)
		}
		return parsed, validator.Struct(&parsed)
	}
	return nil, nil
}

// AuditCredentialLabelDetails audit details carrying the credential labels
type AuditCredentialLabelDetails struct {
	// Name the credential name
	Name string `json:"name" validate:"required"`
	// Service the credential's third-party service
	Service string `json:"service" validate:"required"`
}

// AuditExportDetails audit details for a bulk export
type AuditExportDetails struct {
	// Count number of credentials decrypted into the export
	Count int `json:"count" validate:"gte=0"`
}

// AuditEventWithActor an audit event joined with the acting principal's
// display info for presentation
type AuditEventWithActor struct {
	AuditEvent
	// ActorName display name of the actor, if the principal still exists
	ActorName string `json:"actor_name"`
	// ActorEmail email of the actor, if the principal still exists
	ActorEmail string `json:"actor_email"`
}
