package service

import (
	"fmt"

	"github.com/custos-vault/custos/models"
)

// canAct the single predicate governing record-scoped operations: admins may
// act on any credential, everyone else only on credentials they own
func canAct(actor models.Principal, credential models.Credential) bool {
	return actor.IsAdmin() || actor.ID == credential.OwnerID
}

// requireCanAct refuse the operation unless the actor may act on the credential
//
// Runs before any lifecycle evaluation or decryption so an unauthorized caller
// learns nothing about the credential beyond its existence.
func requireCanAct(actor models.Principal, credential models.Credential) error {
	if !canAct(actor, credential) {
		return fmt.Errorf(
			"refusing operation on credential %s [%w]",
			credential.ID,
			models.ForbiddenError{ActorID: actor.ID},
		)
	}
	return nil
}

// requireAdmin refuse the operation unless the actor is an administrator
//
// Role-only gate layered on top of ownership for export, the global audit
// view, and the cross-owner listing surfaces.
func requireAdmin(actor models.Principal) error {
	if !actor.IsAdmin() {
		return fmt.Errorf(
			"refusing admin operation [%w]", models.ForbiddenError{ActorID: actor.ID},
		)
	}
	return nil
}
