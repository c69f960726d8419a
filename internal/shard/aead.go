package shard

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	ivLength  = 12
	tagLength = 16
)

// Encrypt seals plaintext under key and returns "<ivHex>:<authTagHex>:<cipherHex>".
func Encrypt(plaintext []byte, key *Secret) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	iv := make([]byte, ivLength)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("shard: generate iv: %w", err)
	}

	sealed := gcm.Seal(nil, iv, plaintext, nil)
	body, tag := sealed[:len(sealed)-tagLength], sealed[len(sealed)-tagLength:]

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(body), nil
}

// Decrypt opens a ciphertext produced by Encrypt. A malformed envelope is
// KindInvalidShardFormat; an authentication failure, such as a wrong key, is KindCorrupt.
// No plaintext is ever returned unless the tag verifies.
func Decrypt(encoded string, key *Secret) (*Secret, error) {
	parts := strings.Split(encoded, ":")
	if len(parts) != 3 {
		return nil, invalidFormat("expected iv:tag:cipher", nil)
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != ivLength {
		return nil, invalidFormat("bad iv", err)
	}

	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != tagLength {
		return nil, invalidFormat("bad auth tag", err)
	}

	body, err := hex.DecodeString(parts[2])
	if err != nil || len(body) == 0 {
		return nil, invalidFormat("bad ciphertext", err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, iv, append(body, tag...), nil)
	if err != nil {
		return nil, corrupt("authentication failed", err)
	}

	return NewSecret(plaintext), nil
}

func newGCM(key *Secret) (cipher.AEAD, error) {
	if key.Len() != KeyLength {
		return nil, corrupt("encryption key must be 32 bytes", nil)
	}

	block, err := aes.NewCipher(key.Bytes())
	if err != nil {
		return nil, corrupt("init cipher", err)
	}

	return cipher.NewGCM(block)
}
