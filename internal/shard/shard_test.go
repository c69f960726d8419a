package shard

import (
	"bytes"
	"crypto/rand"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T, password string) *Secret {
	t.Helper()

	salt, err := NewSalt()
	require.NoError(t, err)

	raw, err := DecodeSalt(salt)
	require.NoError(t, err)

	return DeriveKey(password, raw)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	key := testKey(t, "correct horse")
	defer key.Wipe()

	for _, size := range []int{1, 16, 32, 33, 100} {
		plaintext := make([]byte, size)
		_, _ = rand.Read(plaintext)

		encoded, err := Encrypt(plaintext, key)
		require.NoError(t, err)
		require.Len(t, strings.Split(encoded, ":"), 3)

		got, err := Decrypt(encoded, key)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got.Bytes())
		got.Wipe()
	}
}

func TestDecrypt_WrongPassword(t *testing.T) {
	salt := []byte("0123456789abcdef")
	right := DeriveKey("right", salt)
	wrong := DeriveKey("wrong", salt)

	encoded, err := Encrypt([]byte("shard-bytes-shard-bytes-shard-by"), right)
	require.NoError(t, err)

	for range 20 {
		got, err := Decrypt(encoded, wrong)
		require.ErrorIs(t, err, ErrCorrupt)
		assert.Nil(t, got)
	}
}

func TestDecrypt_TamperedCiphertext(t *testing.T) {
	key := testKey(t, "pw")

	encoded, err := Encrypt([]byte("payload"), key)
	require.NoError(t, err)

	parts := strings.Split(encoded, ":")
	flipped := []byte(parts[2])
	if flipped[0] == '0' {
		flipped[0] = '1'
	} else {
		flipped[0] = '0'
	}

	_, err = Decrypt(parts[0]+":"+parts[1]+":"+string(flipped), key)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestDecrypt_InvalidFormat(t *testing.T) {
	key := testKey(t, "pw")

	cases := []string{
		"",
		"abc",
		"00:11",
		"zz:00112233445566778899aabbccddeeff:00",
		"000000000000000000000000:00:00",
		"0000:00112233445566778899aabbccddeeff:00",
		"000000000000000000000000:00112233445566778899aabbccddeeff:",
		"a:b:c:d",
	}

	for _, c := range cases {
		_, err := Decrypt(c, key)
		require.ErrorIs(t, err, ErrInvalidShardFormat, c)
		assert.NotErrorIs(t, err, ErrCorrupt)
	}
}

func TestDeriveKey_Deterministic(t *testing.T) {
	salt := []byte("per-user-salt")

	a := DeriveKey("user-1", salt)
	b := DeriveKey("user-1", salt)
	c := DeriveKey("user-2", salt)

	assert.Equal(t, KeyLength, a.Len())
	assert.Equal(t, a.Bytes(), b.Bytes())
	assert.NotEqual(t, a.Bytes(), c.Bytes())
}

func TestSplitCombine_RoundTrip(t *testing.T) {
	for _, size := range []int{1, 7, 32, 64} {
		key := make([]byte, size)
		_, _ = rand.Read(key)

		a, b, err := Split(key)
		require.NoError(t, err)
		assert.Len(t, a, size)
		assert.Len(t, b, size)

		combined, err := Combine(NewSecret(a), NewSecret(b))
		require.NoError(t, err)
		assert.True(t, bytes.Equal(key, combined.Bytes()))
	}
}

func TestCombine_LengthMismatch(t *testing.T) {
	_, err := Combine(NewSecret(make([]byte, 32)), NewSecret(make([]byte, 31)))
	require.ErrorIs(t, err, ErrCorrupt)

	_, err = Combine(NewSecret(nil), NewSecret(nil))
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestPrivateKey_AddressCheck(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)

	owner := crypto.PubkeyToAddress(priv.PublicKey)
	keyBytes := crypto.FromECDSA(priv)

	a, b, err := Split(keyBytes)
	require.NoError(t, err)

	combined, err := Combine(NewSecret(a), NewSecret(b))
	require.NoError(t, err)

	got, err := PrivateKey(combined, owner)
	require.NoError(t, err)
	assert.Equal(t, owner, crypto.PubkeyToAddress(got.PublicKey))

	WipePrivateKey(got)
	assert.Zero(t, got.D.Sign())
}

func TestPrivateKey_UnrelatedShardNeverAccepted(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)

	owner := crypto.PubkeyToAddress(priv.PublicKey)

	_, b, err := Split(crypto.FromECDSA(priv))
	require.NoError(t, err)

	for range 200 {
		unrelated := make([]byte, len(b))
		_, _ = rand.Read(unrelated)

		combined, err := Combine(NewSecret(unrelated), NewSecret(b))
		require.NoError(t, err)

		_, err = PrivateKey(combined, owner)
		require.Error(t, err)

		var cerr *CryptoError
		require.ErrorAs(t, err, &cerr)
		assert.Contains(t, []CryptoErrorKind{KindAddressMismatch, KindCorrupt}, cerr.Kind)
		combined.Wipe()
	}
}

func TestSecret_Wipe(t *testing.T) {
	buf := []byte{1, 2, 3}
	s := NewSecret(buf)

	s.Wipe()
	assert.Equal(t, []byte{0, 0, 0}, buf)
	assert.True(t, s.Wiped())
	assert.Nil(t, s.Bytes())

	s.Wipe()

	var nilSecret *Secret
	nilSecret.Wipe()
	assert.Zero(t, nilSecret.Len())
}
