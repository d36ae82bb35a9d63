package models

import (
	"reflect"

	"github.com/go-playground/validator/v10"
)

/*
RegisterWithValidator register with the validator this custom validation support

	@param v *validator.Validate - the validator to register against
	@return whether successful
*/
func RegisterWithValidator(v *validator.Validate) error {
	if err := v.RegisterValidation(
		"credential_state", validateCredentialStateType,
	); err != nil {
		return err
	}

	if err := v.RegisterValidation(
		"principal_role", validatePrincipalRoleType,
	); err != nil {
		return err
	}

	if err := v.RegisterValidation(
		"audit_action", validateAuditActionType,
	); err != nil {
		return err
	}

	return nil
}

func validateCredentialStateType(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	switch CredentialStateENUMType(fl.Field().String()) {
	case CredentialStateActive:
		fallthrough
	case CredentialStateExpired:
		fallthrough
	case CredentialStateRevoked:
		return true
	}
	return false
}

func validatePrincipalRoleType(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	switch PrincipalRoleENUMType(fl.Field().String()) {
	case PrincipalRoleAdmin:
		fallthrough
	case PrincipalRoleDeveloper:
		return true
	}
	return false
}

func validateAuditActionType(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	switch AuditActionENUMType(fl.Field().String()) {
	case AuditActionCreateKey:
		fallthrough
	case AuditActionViewKey:
		fallthrough
	case AuditActionRotateKey:
		fallthrough
	case AuditActionRevokeKey:
		fallthrough
	case AuditActionDeleteKey:
		fallthrough
	case AuditActionExportKeys:
		return true
	}
	return false
}
