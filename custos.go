// Package custos - encrypted-at-rest custody of third-party API credentials
package custos

import (
	"context"
	"fmt"

	"github.com/custos-vault/custos/db"
	"github.com/custos-vault/custos/encryption"
	"github.com/custos-vault/custos/service"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

/*
NewCredentialCustody initialize a credential custody service instance.

Each instance is backed by a SQL database; two instances using the same
database are essentially copies of each other. The cipher key is the single
symmetric key protecting every stored secret for the life of the process.

	@param ctx context.Context - execution context
	@param dbDialector gorm.Dialector - GORM dialector
	@param dbLogLevel logger.LogLevel - SQL log level
	@param cipherKeyHex string - hex encoded 32-byte AES key
	@returns new service instance
*/
func NewCredentialCustody(
	ctx context.Context,
	dbDialector gorm.Dialector,
	dbLogLevel logger.LogLevel,
	cipherKeyHex string,
) (service.CredentialCustody, error) {
	// Prepare persistence
	persistence, err := db.NewConnection(dbDialector, dbLogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialized persistence client [%w]", err)
	}

	// Prepare cipher
	cipher, err := encryption.NewCipher(ctx, encryption.CipherParams{KeyHex: cipherKeyHex})
	if err != nil {
		return nil, fmt.Errorf("failed to initialized cipher [%w]", err)
	}

	custody, err := service.NewCredentialCustody(ctx, persistence, cipher)
	if err != nil {
		return nil, fmt.Errorf("failed to initialized credential custody service [%w]", err)
	}

	return custody, nil
}
