package service

import (
	"context"
	"fmt"
	"time"

	"github.com/custos-vault/custos/db"
	"github.com/custos-vault/custos/models"
)

/*
ListCredentials list active credentials

Non-admin actors see only their own credentials; admins see all.

	@param ctx context.Context - execution context
	@param actor models.Principal - the acting principal
	@param activeDBClient Database - existing database transaction
	@return active credentials, newest first
*/
func (s *credentialCustody) ListCredentials(
	ctx context.Context, actor models.Principal, activeDBClient db.Database,
) ([]CredentialInfo, error) {
	return s.SearchCredentials(ctx, actor, SearchFilters{}, activeDBClient)
}

/*
SearchCredentials search active credentials with substring filters

Non-admin actors search only their own credentials and may not use the owner
filter. An owner filter matching no principal returns an empty result set.

	@param ctx context.Context - execution context
	@param actor models.Principal - the acting principal
	@param filters SearchFilters - search filter conditions
	@param activeDBClient Database - existing database transaction
	@return matching active credentials
*/
func (s *credentialCustody) SearchCredentials(
	ctx context.Context, actor models.Principal, filters SearchFilters, activeDBClient db.Database,
) ([]CredentialInfo, error) {
	if filters.OwnerMatch != nil {
		if err := requireAdmin(actor); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	query := db.CredentialQueryFilter{
		NameContains:    filters.Name,
		ServiceContains: filters.Service,
		ActiveAt:        &now,
	}
	if !actor.IsAdmin() {
		query.TargetOwnerIDs = []string{actor.ID}
	}

	var credentials []models.Credential
	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, s.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			if filters.OwnerMatch != nil {
				owners, err := dbClient.ListPrincipals(dbCtx, db.PrincipalQueryFilter{
					NameOrEmailContains: filters.OwnerMatch,
				})
				if err != nil {
					return fmt.Errorf("failed to resolve owner filter [%w]", err)
				}
				// Fail closed: no matching principal means no results, never
				// the unscoped set
				ownerIDs := []string{}
				for _, owner := range owners {
					ownerIDs = append(ownerIDs, owner.ID)
				}
				query.TargetOwnerIDs = ownerIDs
			}

			var err error
			credentials, err = dbClient.ListCredentials(dbCtx, query)
			return err
		},
	); dbErr != nil {
		return nil, fmt.Errorf("failed to search credentials [%w]", dbErr)
	}

	result := []CredentialInfo{}
	for _, credential := range credentials {
		result = append(result, newCredentialInfo(credential, now))
	}

	return result, nil
}

/*
ListInactiveCredentials list revoked and expired credentials. Admin only.

	@param ctx context.Context - execution context
	@param actor models.Principal - the acting principal
	@param activeDBClient Database - existing database transaction
	@return inactive credentials
*/
func (s *credentialCustody) ListInactiveCredentials(
	ctx context.Context, actor models.Principal, activeDBClient db.Database,
) ([]CredentialInfo, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	now := time.Now()

	var credentials []models.Credential
	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, s.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			credentials, err = dbClient.ListCredentials(dbCtx, db.CredentialQueryFilter{
				InactiveAt: &now,
			})
			return err
		},
	); dbErr != nil {
		return nil, fmt.Errorf("failed to list inactive credentials [%w]", dbErr)
	}

	result := []CredentialInfo{}
	for _, credential := range credentials {
		result = append(result, newCredentialInfo(credential, now))
	}

	return result, nil
}

/*
ListCredentialsByOwner group every principal with their active credentials.
Admin only.

	@param ctx context.Context - execution context
	@param actor models.Principal - the acting principal
	@param activeDBClient Database - existing database transaction
	@return per-owner active credential groupings
*/
func (s *credentialCustody) ListCredentialsByOwner(
	ctx context.Context, actor models.Principal, activeDBClient db.Database,
) ([]OwnerCredentials, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	now := time.Now()

	var owners []models.Principal
	var credentials []models.Credential
	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, s.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			owners, err = dbClient.ListPrincipals(dbCtx, db.PrincipalQueryFilter{})
			if err != nil {
				return fmt.Errorf("failed to list principals [%w]", err)
			}

			credentials, err = dbClient.ListCredentials(dbCtx, db.CredentialQueryFilter{
				ActiveAt: &now,
			})
			return err
		},
	); dbErr != nil {
		return nil, fmt.Errorf("failed to group credentials by owner [%w]", dbErr)
	}

	grouped := map[string][]CredentialInfo{}
	for _, credential := range credentials {
		grouped[credential.OwnerID] = append(
			grouped[credential.OwnerID], newCredentialInfo(credential, now),
		)
	}

	result := []OwnerCredentials{}
	for _, owner := range owners {
		entries := grouped[owner.ID]
		if entries == nil {
			entries = []CredentialInfo{}
		}
		result = append(result, OwnerCredentials{Owner: owner, Credentials: entries})
	}

	return result, nil
}

/*
ListPrincipals list every known principal. Admin only.

	@param ctx context.Context - execution context
	@param actor models.Principal - the acting principal
	@param activeDBClient Database - existing database transaction
	@return list of principals
*/
func (s *credentialCustody) ListPrincipals(
	ctx context.Context, actor models.Principal, activeDBClient db.Database,
) ([]models.Principal, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	var principals []models.Principal
	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, s.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			principals, err = dbClient.ListPrincipals(dbCtx, db.PrincipalQueryFilter{})
			return err
		},
	); dbErr != nil {
		return nil, fmt.Errorf("failed to list principals [%w]", dbErr)
	}

	return principals, nil
}

/*
ListAuditEvents list recorded audit events, most recent first, joined with
actor display info. Admin only.

	@param ctx context.Context - execution context
	@param actor models.Principal - the acting principal
	@param limit *int - page size; defaults to the recorder's cap
	@param activeDBClient Database - existing database transaction
	@return audit events
*/
func (s *credentialCustody) ListAuditEvents(
	ctx context.Context, actor models.Principal, limit *int, activeDBClient db.Database,
) ([]models.AuditEventWithActor, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	var events []models.AuditEventWithActor
	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, s.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			events, err = dbClient.ListAuditEvents(dbCtx, db.AuditEventQueryFilter{
				CommonListEntryQueryFilter: db.CommonListEntryQueryFilter{Limit: limit},
			})
			return err
		},
	); dbErr != nil {
		return nil, fmt.Errorf("failed to list audit events [%w]", dbErr)
	}

	return events, nil
}
