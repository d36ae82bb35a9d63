// Package main - Atlas GORM migration support binary
package main

import (
	"fmt"

	"ariga.io/atlas-provider-gorm/gormschema"
	"github.com/apex/log"
	"github.com/custos-vault/custos/db"
)

func main() {
	stmts, err := gormschema.New("postgres").Load(
		&db.PrincipalDBEntry{},
		&db.CredentialDBEntry{},
		&db.RotationEntryDBEntry{},
		&db.AuditEventDBEntry{},
	)
	if err != nil {
		log.WithError(err).Fatal("Failed to load GORM models")
	}
	fmt.Printf("%s\n", stmts)
}
