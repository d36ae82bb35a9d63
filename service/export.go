package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/custos-vault/custos/db"
	"github.com/custos-vault/custos/models"
)

/*
ExportCredentials decrypt every stored credential into a flat tabular
projection. Admin only.

An envelope that fails to open aborts the whole export; a corrupt envelope is
treated as data corruption, not a skippable row.

	@param ctx context.Context - execution context
	@param actor models.Principal - the acting principal
	@param activeDBClient Database - existing database transaction
	@return export rows
*/
func (s *credentialCustody) ExportCredentials(
	ctx context.Context, actor models.Principal, activeDBClient db.Database,
) ([]ExportRow, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	var credentials []models.Credential
	owners := map[string]models.Principal{}
	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, s.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			// The export covers everything: active, expired, and revoked
			credentials, err = dbClient.ListCredentials(dbCtx, db.CredentialQueryFilter{})
			if err != nil {
				return err
			}

			principals, err := dbClient.ListPrincipals(dbCtx, db.PrincipalQueryFilter{})
			if err != nil {
				return fmt.Errorf("failed to list principals [%w]", err)
			}
			for _, principal := range principals {
				owners[principal.ID] = principal
			}
			return nil
		},
	); dbErr != nil {
		return nil, fmt.Errorf("failed to gather credentials for export [%w]", dbErr)
	}

	rows := []ExportRow{}
	for _, credential := range credentials {
		plainText, err := s.cipher.Open(ctx, credential.Envelope)
		if err != nil {
			return nil, fmt.Errorf(
				"export aborted: failed to open credential %s envelope [%w]", credential.ID, err,
			)
		}

		row := ExportRow{
			Name:      credential.Name,
			Service:   credential.Service,
			Secret:    string(plainText),
			ExpiresAt: credential.ExpiresAt,
			Revoked:   credential.Revoked,
		}
		if owner, ok := owners[credential.OwnerID]; ok {
			row.Owner = owner.Name
			row.Email = owner.Email
		}
		rows = append(rows, row)
	}

	s.recordAudit(
		ctx,
		actor.ID,
		models.AuditActionExportKeys,
		nil,
		models.AuditExportDetails{Count: len(rows)},
	)

	return rows, nil
}

/*
RenderExportCSV serialize export rows as a CSV table with a header row

The transport layer is expected to stream this to the caller as a download.

	@param rows []ExportRow - the export rows
	@param writer io.Writer - destination for the CSV bytes
*/
func RenderExportCSV(rows []ExportRow, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)

	header := []string{"owner", "email", "name", "service", "secret", "expires_at", "revoked"}
	if err := csvWriter.Write(header); err != nil {
		return fmt.Errorf("failed to write export CSV header [%w]", err)
	}

	for _, row := range rows {
		expiresAt := "N/A"
		if row.ExpiresAt != nil {
			expiresAt = row.ExpiresAt.Format(time.RFC3339)
		}
		record := []string{
			row.Owner,
			row.Email,
			row.Name,
			row.Service,
			row.Secret,
			expiresAt,
			strconv.FormatBool(row.Revoked),
		}
		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("failed to write export CSV row [%w]", err)
		}
	}

	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return fmt.Errorf("failed to flush export CSV [%w]", err)
	}

	return nil
}
