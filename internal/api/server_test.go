package api

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokensapi/internal/authz"
	"tokensapi/internal/core"
	"tokensapi/internal/rotation"
	"tokensapi/internal/tokenmodel"
)

type fakeCache struct {
	tenants map[string]core.Tenant
	ready   bool
}

func (c *fakeCache) Get(id string) (core.Tenant, bool) { t, ok := c.tenants[id]; return t, ok }
func (c *fakeCache) SetPrivateKey(id, pem string) error {
	t := c.tenants[id]
	t.PrivateKeyPEM = pem
	c.tenants[id] = t
	return nil
}
func (c *fakeCache) IterSiteAdminTenants() []string { return nil }
func (c *fakeCache) Reload(context.Context) error   { return nil }
func (c *fakeCache) Ready() bool                    { return c.ready }

type fakeSK struct{ validPassword bool }

func (f *fakeSK) ReadSecret(context.Context, string, string, string, string) (map[string]string, error) {
	return nil, nil
}
func (f *fakeSK) WriteSecret(context.Context, string, string, string, string, map[string]string) error {
	return nil
}
func (f *fakeSK) ValidateServicePassword(context.Context, string, string, string) (bool, error) {
	return f.validPassword, nil
}
func (f *fakeSK) HasRole(context.Context, string, string, string) (bool, error) { return true, nil }
func (f *fakeSK) GetUsersWithRole(context.Context, string, string) ([]string, error) {
	return []string{"alice"}, nil
}

type fakeTenants struct{ info core.TenantInfo }

func (f *fakeTenants) GetTenant(context.Context, string) (core.TenantInfo, error) { return f.info, nil }
func (f *fakeTenants) UpdateTenant(context.Context, string, string) error         { return nil }

type fakeSiteRouter struct{ revoked []string }

func (f *fakeSiteRouter) RevokeToken(_ context.Context, _ string, rawToken string) error {
	f.revoked = append(f.revoked, rawToken)
	return nil
}
func (f *fakeSiteRouter) CheckToken(context.Context, string, string) (bool, error) { return true, nil }

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func genKeyPair(t *testing.T) (privPEM, pubPEM string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	privPEM = string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}))
	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes}))
	return
}

func newTestServer(t *testing.T) (*Server, *fakeCache) {
	priv, pub := genKeyPair(t)
	cache := &fakeCache{ready: true, tenants: map[string]core.Tenant{
		"acme": {TenantID: "acme", SiteID: "site1", Issuer: "https://acme.example.com/v3",
			AccessTokenTTL: 5 * time.Minute, RefreshTokenTTL: 10 * time.Minute,
			PrivateKeyPEM: priv, PublicKeyPEM: pub, Status: core.TenantActive},
	}}
	clock := fixedClock{now: time.Now()}
	signer := tokenmodel.NewSigner(cache)
	deriver := tokenmodel.NewDeriver(cache, clock)
	minter := tokenmodel.NewMinter(deriver, signer)
	sk := &fakeSK{validPassword: true}
	gate := &authz.Gate{SK: sk, Signer: signer, ServiceTenantID: "admin"}
	rotator := &rotation.Rotator{SK: sk, Tenants: &fakeTenants{}, Cache: cache}
	siteRouter := &fakeSiteRouter{}

	srv := NewServer(cache, gate, minter, signer, rotator, siteRouter, nil, clock, "admin", map[string]string{"admin": "svc-token"})
	return srv, cache
}

func basicHeader(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

func TestHandleCreateToken_BasicAuthSuccess(t *testing.T) {
	srv, _ := newTestServer(t)
	body := `{"token_tenant_id":"acme","token_username":"alice","account_type":"user"}`
	req := httptest.NewRequest(http.MethodPost, "/v3/tokens", bytes.NewBufferString(body))
	req.Header.Set("Authorization", basicHeader("alice", "devpass"))
	w := httptest.NewRecorder()

	srv.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
}

func TestHandleCreateToken_HeaderMutualExclusion(t *testing.T) {
	srv, _ := newTestServer(t)
	body := `{"token_tenant_id":"acme","token_username":"alice","account_type":"user"}`
	req := httptest.NewRequest(http.MethodPost, "/v3/tokens", bytes.NewBufferString(body))
	req.Header.Set("Authorization", basicHeader("alice", "devpass"))
	req.Header.Set("X-Tapis-Token", "sometoken")
	w := httptest.NewRecorder()

	srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleCreateToken_RefreshRoundTripPreservesTTL(t *testing.T) {
	srv, _ := newTestServer(t)
	body := `{"token_tenant_id":"acme","token_username":"alice","account_type":"user","generate_refresh_token":true,"access_token_ttl":14400,"refresh_token_ttl":7776000,"claims":{"test_claim":"here it is!"}}`
	req := httptest.NewRequest(http.MethodPost, "/v3/tokens", bytes.NewBufferString(body))
	req.Header.Set("Authorization", basicHeader("alice", "devpass"))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Result tokenmodel.Envelope `json:"result"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.EqualValues(t, 14400, resp.Result.ExpiresIn)
	assert.EqualValues(t, 7776000, resp.Result.RefreshExpiresIn)

	refreshReq := httptest.NewRequest(http.MethodPut, "/v3/tokens", bytes.NewBufferString(
		`{"refresh_token":"`+resp.Result.RefreshToken+`"}`))
	w2 := httptest.NewRecorder()
	srv.ServeHTTP(w2, refreshReq)
	require.Equal(t, http.StatusOK, w2.Code)

	var resp2 struct {
		Result tokenmodel.Envelope `json:"result"`
	}
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &resp2))
	assert.EqualValues(t, 14400, resp2.Result.ExpiresIn)
	assert.EqualValues(t, 7776000, resp2.Result.RefreshExpiresIn)
}

func TestHandleRefreshToken_BadTokenRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPut, "/v3/tokens", bytes.NewBufferString(`{"refresh_token":"bad"}`))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUnknownPath_404(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v3/nope", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestKnownPathWrongMethod_405(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodDelete, "/v3/tokens", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
