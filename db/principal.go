package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/custos-vault/custos/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ======================================================================================
// Principals

/*
DefineNewPrincipal define a new principal

	@param ctx context.Context - execution context
	@param name string - display name
	@param email string - contact email, unique across principals
	@param role models.PrincipalRoleENUMType - principal role
	@returns principal entry
*/
func (d *databaseImpl) DefineNewPrincipal(
	_ context.Context, name string, email string, role models.PrincipalRoleENUMType,
) (models.Principal, error) {
	newEntry := PrincipalDBEntry{
		Principal: models.Principal{
			ID:    uuid.NewString(),
			Name:  name,
			Email: email,
			Role:  role,
		},
	}

	if err := d.validator.Struct(&newEntry); err != nil {
		return models.Principal{}, fmt.Errorf("new principal '%s' is not valid [%w]", email, err)
	}

	// The unique index on email enforces this as well, but checking up front
	// yields a typed conflict instead of a driver specific constraint error.
	var existing []PrincipalDBEntry
	if tmp := d.db.Where("email = ?", email).Find(&existing); tmp.Error != nil {
		return models.Principal{}, fmt.Errorf(
			"new principal '%s' uniqueness check failed [%w]", email, tmp.Error,
		)
	}
	if len(existing) > 0 {
		return models.Principal{}, fmt.Errorf(
			"new principal '%s' failed insert [%w]",
			email,
			models.ConflictError{Field: "email", Value: email},
		)
	}

	if tmp := d.db.Create(&newEntry); tmp.Error != nil {
		return models.Principal{}, fmt.Errorf(
			"new principal '%s' failed insert [%w]", email, tmp.Error,
		)
	}

	return newEntry.Principal, nil
}

// getPrincipalEntry find a principal by ID
func (d *databaseImpl) getPrincipalEntry(principalID string) (PrincipalDBEntry, error) {
	var entry PrincipalDBEntry
	err := d.db.Where("id = ?", principalID).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = models.NotFoundError{EntityType: "principal", ID: principalID}
	}
	return entry, err
}

/*
GetPrincipal fetch a principal by ID

	@param ctx context.Context - execution context
	@param principalID string - principal ID
	@returns principal entry
*/
func (d *databaseImpl) GetPrincipal(
	_ context.Context, principalID string,
) (models.Principal, error) {
	entry, err := d.getPrincipalEntry(principalID)
	if err != nil {
		return models.Principal{}, fmt.Errorf("failed to fetch principal %s [%w]", principalID, err)
	}

	return entry.Principal, nil
}

/*
ListPrincipals list principals

	@param ctx context.Context - execution context
	@param filters PrincipalQueryFilter - entry listing filter
	@return list of principals
*/
func (d *databaseImpl) ListPrincipals(
	_ context.Context, filters PrincipalQueryFilter,
) ([]models.Principal, error) {
	query := d.db.Model(&PrincipalDBEntry{})

	if filters.NameOrEmailContains != nil {
		fragment := "%" + strings.ToLower(*filters.NameOrEmailContains) + "%"
		query = query.Where("lower(name) LIKE ? OR lower(email) LIKE ?", fragment, fragment)
	}

	if filters.Limit != nil {
		query = query.Limit(*filters.Limit)
	}
	if filters.Offset != nil {
		query = query.Offset(*filters.Offset)
	}

	query = query.Order("created_at desc")

	var entries []PrincipalDBEntry
	if tmp := query.Find(&entries); tmp.Error != nil {
		return nil, fmt.Errorf("failed to list principals [%w]", tmp.Error)
	}

	result := []models.Principal{}
	for _, entry := range entries {
		result = append(result, entry.Principal)
	}

	return result, nil
}
