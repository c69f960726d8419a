package shard

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Split returns a uniformly random b and a = key XOR b.
func Split(key []byte) (a, b []byte, err error) {
	b = make([]byte, len(key))
	if _, err := rand.Read(b); err != nil {
		return nil, nil, fmt.Errorf("shard: generate pad: %w", err)
	}

	a = make([]byte, len(key))
	for i := range key {
		a[i] = key[i] ^ b[i]
	}

	return a, b, nil
}

// Combine XORs two shards into a new Secret. Inputs are left untouched.
func Combine(a, b *Secret) (*Secret, error) {
	if a.Len() == 0 || a.Len() != b.Len() {
		return nil, corrupt(fmt.Sprintf("shard lengths differ: %d != %d", a.Len(), b.Len()), nil)
	}

	out := make([]byte, a.Len())
	ab, bb := a.Bytes(), b.Bytes()

	for i := range out {
		out[i] = ab[i] ^ bb[i]
	}

	return NewSecret(out), nil
}

// PrivateKey turns the combined key into a secp256k1 signing key and checks it controls want.
// The returned key must be released with WipePrivateKey.
func PrivateKey(key *Secret, want common.Address) (*ecdsa.PrivateKey, error) {
	priv, err := crypto.ToECDSA(key.Bytes())
	if err != nil {
		return nil, corrupt("not a valid secp256k1 scalar", err)
	}

	if got := crypto.PubkeyToAddress(priv.PublicKey); got != want {
		WipePrivateKey(priv)

		return nil, &CryptoError{
			Kind: KindAddressMismatch,
			Msg:  fmt.Sprintf("derived %s, expected %s", got.Hex(), want.Hex()),
		}
	}

	return priv, nil
}

// WipePrivateKey zeroes the scalar words of priv.
func WipePrivateKey(priv *ecdsa.PrivateKey) {
	if priv == nil || priv.D == nil {
		return
	}

	clear(priv.D.Bits())
	priv.D.SetInt64(0)
}
