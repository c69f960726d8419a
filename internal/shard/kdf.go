package shard

import (
	"crypto/rand"
	"crypto/sha512"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	KDFIterations = 100000
	KeyLength     = 32
	SaltLength    = 16
)

// DeriveKey stretches password with PBKDF2-HMAC-SHA512 into an AES-256 key.
func DeriveKey(password string, salt []byte) *Secret {
	return NewSecret(pbkdf2.Key([]byte(password), salt, KDFIterations, KeyLength, sha512.New))
}

// NewSalt returns a fresh random salt, hex encoded for storage.
func NewSalt() (string, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("shard: generate salt: %w", err)
	}

	return hex.EncodeToString(salt), nil
}

// DecodeSalt parses a stored salt.
func DecodeSalt(salt string) ([]byte, error) {
	b, err := hex.DecodeString(salt)
	if err != nil || len(b) == 0 {
		return nil, corrupt("malformed salt", err)
	}

	return b, nil
}
