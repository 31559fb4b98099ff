package auth

import (
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// signWith produces a wallet-style personal_sign signature (V as 27/28).
func signWith(t *testing.T, keyHex, message string) string {
	t.Helper()
	key, err := crypto.HexToECDSA(keyHex)
	require.NoError(t, err)
	sig, err := crypto.Sign(personalSignHash([]byte(message)), key)
	require.NoError(t, err)
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig)
}

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func testAddress(t *testing.T) string {
	key, err := crypto.HexToECDSA(testKey)
	require.NoError(t, err)
	return strings.ToLower(crypto.PubkeyToAddress(key.PublicKey).Hex())
}

func TestChallengeVerifyRoundTrip(t *testing.T) {
	svc := NewService()
	addr := testAddress(t)

	nonce, message, err := svc.Challenge(addr)
	require.NoError(t, err)
	assert.Len(t, nonce, 32)
	assert.Contains(t, message, "Sign this message to authenticate with Aleph Marketplace.")
	assert.Contains(t, message, "Nonce: "+nonce)
	assert.Contains(t, message, "Address: "+addr)

	token, expiresAt, err := svc.Verify(addr, nonce, signWith(t, testKey, message))
	require.NoError(t, err)
	assert.Len(t, token, 43)
	assert.WithinDuration(t, time.Now().Add(SessionTTL), expiresAt, 5*time.Second)

	gotAddr, gotExpiry, err := svc.Session(token)
	require.NoError(t, err)
	assert.Equal(t, addr, gotAddr)
	assert.Equal(t, expiresAt, gotExpiry)
}

func TestVerifyNormalizesAddressCase(t *testing.T) {
	svc := NewService()
	addr := testAddress(t)
	upper := "0x" + strings.ToUpper(addr[2:])

	nonce, message, err := svc.Challenge(upper)
	require.NoError(t, err)
	assert.Contains(t, message, "Address: "+addr)

	_, _, err = svc.Verify(upper, nonce, signWith(t, testKey, message))
	require.NoError(t, err)
}

func TestVerifyRejectsWrongSigner(t *testing.T) {
	svc := NewService()
	addr := testAddress(t)

	nonce, message, err := svc.Challenge(addr)
	require.NoError(t, err)

	otherKey := "8da4ef21b864d2cc526dbdb2a120bd2874c36c9d0a1fb7f8c63d7f7a8b41de8f"
	_, _, err = svc.Verify(addr, nonce, signWith(t, otherKey, message))
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestVerifyRejectsGarbageSignature(t *testing.T) {
	svc := NewService()
	addr := testAddress(t)
	nonce, _, err := svc.Challenge(addr)
	require.NoError(t, err)

	for _, sig := range []string{"", "0x00", "not-hex", "0x" + strings.Repeat("ab", 65)} {
		_, _, err := svc.Verify(addr, nonce, sig)
		assert.ErrorIs(t, err, ErrUnauthorized, sig)
	}
}

func TestNonceConsumedExactlyOnce(t *testing.T) {
	svc := NewService()
	addr := testAddress(t)

	nonce, message, err := svc.Challenge(addr)
	require.NoError(t, err)
	sig := signWith(t, testKey, message)

	_, _, err = svc.Verify(addr, nonce, sig)
	require.NoError(t, err)

	_, _, err = svc.Verify(addr, nonce, sig)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestNonceExpiry(t *testing.T) {
	svc := NewService()
	addr := testAddress(t)

	now := time.Now()
	svc.now = func() time.Time { return now }
	nonce, message, err := svc.Challenge(addr)
	require.NoError(t, err)

	svc.now = func() time.Time { return now.Add(NonceTTL + time.Second) }
	_, _, err = svc.Verify(addr, nonce, signWith(t, testKey, message))
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestSessionExpiryAndLogout(t *testing.T) {
	svc := NewService()
	addr := testAddress(t)

	now := time.Now()
	svc.now = func() time.Time { return now }
	nonce, message, err := svc.Challenge(addr)
	require.NoError(t, err)
	token, expiresAt, err := svc.Verify(addr, nonce, signWith(t, testKey, message))
	require.NoError(t, err)
	assert.Equal(t, SessionTTL, expiresAt.Sub(now))

	svc.now = func() time.Time { return now.Add(SessionTTL + time.Second) }
	_, _, err = svc.Session(token)
	assert.ErrorIs(t, err, ErrUnauthorized)

	// logout of unknown token is fine
	svc.Logout(token)
	svc.Logout("never-issued")
}

func TestChallengeRejectsBadAddress(t *testing.T) {
	svc := NewService()
	_, _, err := svc.Challenge("0x123")
	assert.ErrorIs(t, err, ErrInvalidAddress)
	_, _, err = svc.Verify("nope", "n", "s")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}
