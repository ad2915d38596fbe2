package tokenmodel

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokensapi/internal/core"
)

func generateTestKeyPair(t *testing.T) (privPEM, pubPEM string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	privBytes := x509.MarshalPKCS1PrivateKey(key)
	privPEM = string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: privBytes}))

	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes}))
	return privPEM, pubPEM
}

func TestSigner_SignAndVerifyAccessRoundTrip(t *testing.T) {
	priv, pub := generateTestKeyPair(t)
	cache := &mockCache{tenants: map[string]core.Tenant{
		"acme": {TenantID: "acme", Issuer: "https://acme.example.com/v3", PrivateKeyPEM: priv, PublicKeyPEM: pub},
	}}
	signer := NewSigner(cache)

	claims := core.AccessTokenClaims{
		JTI: "jti-1", Iss: "https://acme.example.com/v3", Sub: "alice@acme",
		Exp: time.Now().Add(time.Hour).UTC(), TenantID: "acme", TokenType: "access",
		Username: "alice", AccountType: core.AccountUser, TTL: time.Hour,
	}
	jwt, err := signer.SignAccess(context.Background(), claims)
	require.NoError(t, err)
	require.NotEmpty(t, jwt)

	decoded, err := signer.VerifyAccess(context.Background(), "acme", jwt)
	require.NoError(t, err)
	assert.Equal(t, claims.Sub, decoded.Sub)
	assert.Equal(t, claims.Username, decoded.Username)
}

func TestSigner_VerifyFailsAgainstOldKeyAfterRotation(t *testing.T) {
	privOld, _ := generateTestKeyPair(t)
	privNew, pubNew := generateTestKeyPair(t)

	cache := &mockCache{tenants: map[string]core.Tenant{
		"acme": {TenantID: "acme", Issuer: "https://acme.example.com/v3", PrivateKeyPEM: privOld},
	}}
	signer := NewSigner(cache)

	claims := core.AccessTokenClaims{
		JTI: "jti-1", Iss: "https://acme.example.com/v3", Sub: "alice@acme",
		Exp: time.Now().Add(time.Hour).UTC(), TenantID: "acme", TokenType: "access",
		Username: "alice", AccountType: core.AccountUser, TTL: time.Hour,
	}
	oldJWT, err := signer.SignAccess(context.Background(), claims)
	require.NoError(t, err)

	// Rotate: swap in the new key pair.
	_ = cache.SetPrivateKey("acme", privNew)
	t2 := cache.tenants["acme"]
	t2.PublicKeyPEM = pubNew
	cache.tenants["acme"] = t2

	newJWT, err := signer.SignAccess(context.Background(), claims)
	require.NoError(t, err)

	_, err = signer.VerifyAccess(context.Background(), "acme", newJWT)
	require.NoError(t, err)

	_, err = signer.VerifyAccess(context.Background(), "acme", oldJWT)
	require.Error(t, err, "token signed with the retired key must not verify against the new public key")
}

func TestSigner_RefreshTokenExcludesAccessOnlyClaims(t *testing.T) {
	priv, pub := generateTestKeyPair(t)
	cache := &mockCache{tenants: map[string]core.Tenant{
		"acme": {TenantID: "acme", Issuer: "https://acme.example.com/v3", PrivateKeyPEM: priv, PublicKeyPEM: pub},
	}}
	signer := NewSigner(cache)
	clock := mockClock{now: time.Now()}
	deriver := &Deriver{Cache: cache, Clock: clock}

	access, tenant, err := deriver.DeriveAccess(AccessRequest{
		TokenTenantID: "acme", TokenUsername: "alice", AccountType: core.AccountUser,
	})
	require.NoError(t, err)
	refreshClaims := deriver.DeriveRefreshFromAccess(access, 30*time.Minute, tenant)

	wire := refreshToMapClaims(refreshClaims)
	for _, k := range []string{"tapis/username", "tapis/account_type", "tapis/delegation", "tapis/delegation_sub", "tapis/target_site"} {
		assert.NotContains(t, wire, k)
	}

	jwt, err := signer.SignRefresh(context.Background(), refreshClaims)
	require.NoError(t, err)

	decoded, err := signer.VerifyRefresh(context.Background(), "acme", jwt)
	require.NoError(t, err)
	assert.Equal(t, access.Username, decoded.AccessToken.Username)
	assert.Equal(t, 30*time.Minute, decoded.InitialTTL)
}
