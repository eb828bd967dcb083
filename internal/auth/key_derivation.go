package auth

import (
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DerivedKeyLength fits HMAC-SHA256.
const DerivedKeyLength = 32

const (
	PurposeAPI = "retriever-api-jwt-v1"
	PurposeMCP = "retriever-mcp-jwt-v1"
)

var ErrInvalidMasterSecret = errors.New("master secret cannot be empty")

// DeriveKey derives a purpose-bound key from masterSecret with HKDF-SHA256
// (RFC 5869). Keys for different purposes are independent.
func DeriveKey(masterSecret []byte, purpose string) ([]byte, error) {
	if len(masterSecret) == 0 {
		return nil, ErrInvalidMasterSecret
	}

	r := hkdf.New(sha256.New, masterSecret, nil, []byte(purpose))
	derivedKey := make([]byte, DerivedKeyLength)
	if _, err := io.ReadFull(r, derivedKey); err != nil {
		return nil, err
	}
	return derivedKey, nil
}
