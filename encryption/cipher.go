// Package encryption - secret sealing engine
package encryption

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/custos-vault/custos/models"
	"github.com/go-playground/validator/v10"
)

// EnvelopeFieldDelimiter separates the IV field from the cipher text field
// within an envelope
const EnvelopeFieldDelimiter = ":"

/*
Cipher symmetric sealing and opening of opaque secrets.

A sealed secret is a self-describing envelope `hex(iv) + ":" + hex(ciphertext)`
under AES-256-CBC. The cipher holds one process-wide key for its lifetime and
performs no per-record key diversification.

The cipher is stateless aside from consuming entropy; it is safe to call from
arbitrary concurrent callers.
*/
type Cipher interface {
	/*
		Seal encrypt a plain text secret into an envelope

		Every call draws a fresh random IV; sealing the same plain text twice
		never yields the same envelope.

			@param ctx context.Context - execution context
			@param plainText []byte - the secret to seal
			@return the envelope
	*/
	Seal(ctx context.Context, plainText []byte) (string, error)

	/*
		Open decrypt an envelope back into the plain text secret

			@param ctx context.Context - execution context
			@param envelope string - the envelope to open
			@return the plain text secret
	*/
	Open(ctx context.Context, envelope string) ([]byte, error)
}

// aesCipher implements Cipher
type aesCipher struct {
	goutils.Component
	block cipher.Block
}

// CipherParams cipher init parameters
//
// The key is the single symmetric key protecting every stored secret; it is
// injected here once at construction and never read from the environment by
// business logic.
type CipherParams struct {
	// KeyHex hex encoded 32-byte AES key
	KeyHex string `validate:"required,len=64,hexadecimal"`
}

/*
NewCipher define new cipher

	@param ctx context.Context - execution context
	@param params CipherParams - cipher parameters
	@returns cipher instance
*/
func NewCipher(_ context.Context, params CipherParams) (Cipher, error) {
	logTags := log.Fields{"package": "custos", "module": "encryption", "component": "cipher"}

	validate := validator.New()
	if err := validate.Struct(&params); err != nil {
		return nil, fmt.Errorf("invalid cipher init parameters [%w]", err)
	}

	key, err := hex.DecodeString(params.KeyHex)
	if err != nil {
		return nil, fmt.Errorf("failed to decode cipher key material [%w]", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize AES block cipher [%w]", err)
	}

	instance := &aesCipher{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		block: block,
	}

	return instance, nil
}

/*
Seal encrypt a plain text secret into an envelope

	@param ctx context.Context - execution context
	@param plainText []byte - the secret to seal
	@return the envelope
*/
func (c *aesCipher) Seal(_ context.Context, plainText []byte) (string, error) {
	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("failed to generate IV [%w]", err)
	}

	padded := pkcs7Pad(plainText, aes.BlockSize)
	cipherText := make([]byte, len(padded))
	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(cipherText, padded)

	return hex.EncodeToString(iv) + EnvelopeFieldDelimiter + hex.EncodeToString(cipherText), nil
}

/*
Open decrypt an envelope back into the plain text secret

	@param ctx context.Context - execution context
	@param envelope string - the envelope to open
	@return the plain text secret
*/
func (c *aesCipher) Open(_ context.Context, envelope string) ([]byte, error) {
	parts := strings.Split(envelope, EnvelopeFieldDelimiter)
	if len(parts) != 2 {
		return nil, fmt.Errorf(
			"failed to parse envelope [%w]",
			models.DecryptionError{Reason: "envelope is not a two field delimited string"},
		)
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != aes.BlockSize {
		return nil, fmt.Errorf(
			"failed to parse envelope [%w]", models.DecryptionError{Reason: "malformed IV field"},
		)
	}

	cipherText, err := hex.DecodeString(parts[1])
	if err != nil || len(cipherText) == 0 || len(cipherText)%aes.BlockSize != 0 {
		return nil, fmt.Errorf(
			"failed to parse envelope [%w]",
			models.DecryptionError{Reason: "malformed cipher text field"},
		)
	}

	padded := make([]byte, len(cipherText))
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(padded, cipherText)

	plainText, err := pkcs7Unpad(padded, aes.BlockSize)
	if err != nil {
		return nil, fmt.Errorf(
			"failed to open envelope [%w]", models.DecryptionError{Reason: err.Error()},
		)
	}

	return plainText, nil
}

// pkcs7Pad pad the buffer out to a whole number of blocks
func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for idx := len(data); idx < len(padded); idx++ {
		padded[idx] = byte(padLen)
	}
	return padded
}

// pkcs7Unpad strip and verify the padding
func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("padded buffer length %d is not a whole number of blocks", len(data))
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize {
		return nil, fmt.Errorf("padding length %d is out of range", padLen)
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("padding bytes are inconsistent")
		}
	}
	return data[:len(data)-padLen], nil
}
