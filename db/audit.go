package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/custos-vault/custos/models"
	"github.com/oklog/ulid/v2"
	"gorm.io/datatypes"
)

// DefaultAuditEventPageSize cap applied to audit listings when the caller does
// not provide one
const DefaultAuditEventPageSize = 100

// ======================================================================================
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
func (d *databaseImpl) RecordAuditEvent(
	_ context.Context,
	actorID string,
	action models.AuditActionENUMType,
	targetID *string,
	details interface{},
) (models.AuditEvent, error) {
	newEntry := AuditEventDBEntry{
		AuditEvent: models.AuditEvent{
			ID:       ulid.Make().String(),
			ActorID:  actorID,
			Action:   action,
			TargetID: targetID,
		},
	}

	if details != nil {
		if err := d.validator.Struct(details); err != nil {
			return models.AuditEvent{}, fmt.Errorf(
				"new audit event '%s' details entry is not valid [%w]", action, err,
			)
		}

		detailsStr, _ := json.Marshal(&details)
		newEntry.Details = datatypes.JSON(detailsStr)
	}

	if err := d.validator.Struct(&newEntry); err != nil {
		return models.AuditEvent{}, fmt.Errorf(
			"new audit event '%s' entry is not valid [%w]", action, err,
		)
	}

	if tmp := d.db.Create(&newEntry); tmp.Error != nil {
		return models.AuditEvent{}, fmt.Errorf(
			"new audit event '%s' insert failed [%w]", action, tmp.Error,
		)
	}

	return newEntry.AuditEvent, nil
}

/*
ListAuditEvents list captured audit events, most recent first, joined with
actor display info

The actor join is best-effort; events outlive their principals, so an event
whose actor no longer exists is returned with empty display fields.

	@param ctx context.Context - execution context
	@param filters AuditEventQueryFilter - entry listing filter
	@return list of audit events
*/
func (d *databaseImpl) ListAuditEvents(
	_ context.Context, filters AuditEventQueryFilter,
) ([]models.AuditEventWithActor, error) {
	query := d.db.Model(&AuditEventDBEntry{})

	if len(filters.TargetActions) > 0 {
		query = query.Where("action in ?", filters.TargetActions)
	}

	if filters.EventsAfter != nil {
		query = query.Where("created_at >= ?", *filters.EventsAfter)
	}
	if filters.EventsBefore != nil {
		query = query.Where("created_at <= ?", *filters.EventsBefore)
	}

	if filters.Limit != nil {
		query = query.Limit(*filters.Limit)
	} else {
		query = query.Limit(DefaultAuditEventPageSize)
	}
	if filters.Offset != nil {
		query = query.Offset(*filters.Offset)
	}

	query = query.Order("created_at desc").Order("id desc")

	var entries []AuditEventDBEntry
	if tmp := query.Find(&entries); tmp.Error != nil {
		return nil, fmt.Errorf("failed to list captured audit events [%w]", tmp.Error)
	}

	// Resolve the actors in one pass
	actorIDs := []string{}
	seen := map[string]bool{}
	for _, entry := range entries {
		if !seen[entry.ActorID] {
			seen[entry.ActorID] = true
			actorIDs = append(actorIDs, entry.ActorID)
		}
	}

	actors := map[string]models.Principal{}
	if len(actorIDs) > 0 {
		var actorEntries []PrincipalDBEntry
		if tmp := d.db.Where("id in ?", actorIDs).Find(&actorEntries); tmp.Error != nil {
			return nil, fmt.Errorf("failed to resolve audit event actors [%w]", tmp.Error)
		}
		for _, actorEntry := range actorEntries {
			actors[actorEntry.ID] = actorEntry.Principal
		}
	}

	result := []models.AuditEventWithActor{}
	for _, entry := range entries {
		joined := models.AuditEventWithActor{AuditEvent: entry.AuditEvent}
		if actor, ok := actors[entry.ActorID]; ok {
			joined.ActorName = actor.Name
			joined.ActorEmail = actor.Email
		}
		result = append(result, joined)
	}

	return result, nil
}
