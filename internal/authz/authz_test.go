package authz

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokensapi/internal/apperr"
	"tokensapi/internal/core"
)

type fakeSK struct {
	validPassword    bool
	usersWithRole    map[string][]string
	validatePassErr  error
}

func (f *fakeSK) ReadSecret(context.Context, string, string, string, string) (map[string]string, error) {
	return nil, nil
}
func (f *fakeSK) WriteSecret(context.Context, string, string, string, string, map[string]string) error {
	return nil
}
func (f *fakeSK) ValidateServicePassword(context.Context, string, string, string) (bool, error) {
	return f.validPassword, f.validatePassErr
}
func (f *fakeSK) HasRole(context.Context, string, string, string) (bool, error) { return false, nil }
func (f *fakeSK) GetUsersWithRole(_ context.Context, tenant, role string) ([]string, error) {
	return f.usersWithRole[tenant+"/"+role], nil
}

type fakeTenants struct {
	info     core.TenantInfo
	byTenant map[string]core.TenantInfo
}

func (f *fakeTenants) GetTenant(_ context.Context, tenantID string) (core.TenantInfo, error) {
	if info, ok := f.byTenant[tenantID]; ok {
		return info, nil
	}
	return f.info, nil
}
func (f *fakeTenants) UpdateTenant(context.Context, string, string) error { return nil }

type fakeSigner struct {
	claims core.AccessTokenClaims
	err    error
}

func (f *fakeSigner) SignAccess(context.Context, core.AccessTokenClaims) (string, error) { return "", nil }
func (f *fakeSigner) SignRefresh(context.Context, core.RefreshTokenClaims) (string, error) {
	return "", nil
}
func (f *fakeSigner) VerifyAccess(context.Context, string, string) (core.AccessTokenClaims, error) {
	return f.claims, f.err
}
func (f *fakeSigner) VerifyRefresh(context.Context, string, string) (core.RefreshTokenClaims, error) {
	return core.RefreshTokenClaims{}, f.err
}

func basicHeader(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

func TestParseHeaders_BothPresentRejected(t *testing.T) {
	_, err := ParseHeaders(basicHeader("u", "p"), "sometoken")
	require.Error(t, err)
	ae, _ := apperr.As(err)
	assert.Equal(t, apperr.KindInvalidRequest, ae.Kind)
}

func TestAuthorizeCreate_BasicAuthServiceMint(t *testing.T) {
	sk := &fakeSK{validPassword: true}
	g := &Gate{SK: sk}
	creds, err := ParseHeaders(basicHeader("tenants", "devpass"), "")
	require.NoError(t, err)

	ac, err := g.AuthorizeCreate(context.Background(), creds, CreateTokenRequest{
		TokenTenantID: "admin", TokenUsername: "tenants", AccountType: core.AccountService,
	})
	require.NoError(t, err)
	assert.Equal(t, "tenants", ac.CallerUsername)
}

func TestAuthorizeCreate_BasicAuthImpersonationBlocked(t *testing.T) {
	sk := &fakeSK{validPassword: true}
	g := &Gate{SK: sk}
	creds, err := ParseHeaders(basicHeader("alice", "pw"), "")
	require.NoError(t, err)

	_, err = g.AuthorizeCreate(context.Background(), creds, CreateTokenRequest{
		TokenTenantID: "admin", TokenUsername: "bob", AccountType: core.AccountUser,
	})
	require.Error(t, err)
	ae, _ := apperr.As(err)
	assert.Equal(t, apperr.KindAuthentication, ae.Kind)
}

func TestAuthorizeCreate_BasicAuthBadPassword(t *testing.T) {
	sk := &fakeSK{validPassword: false}
	g := &Gate{SK: sk}
	creds, _ := ParseHeaders(basicHeader("alice", "wrong"), "")

	_, err := g.AuthorizeCreate(context.Background(), creds, CreateTokenRequest{
		TokenTenantID: "acme", TokenUsername: "alice", AccountType: core.AccountUser,
	})
	require.Error(t, err)
	ae, _ := apperr.As(err)
	assert.Equal(t, apperr.KindAuthentication, ae.Kind)
}

func TestAuthorizeCreate_UserTokenDeniedInAdminTenant(t *testing.T) {
	signer := &fakeSigner{claims: core.AccessTokenClaims{Username: "alice", AccountType: core.AccountUser, TenantID: "other"}}
	g := &Gate{Signer: signer, ServiceTenantID: "admin"}
	creds := Credentials{HasBearer: true, BearerToken: fakeJWT(t, "other")}

	_, err := g.AuthorizeCreate(context.Background(), creds, CreateTokenRequest{
		TokenTenantID: "admin", TokenUsername: "bob", AccountType: core.AccountUser,
	})
	require.Error(t, err)
	ae, _ := apperr.As(err)
	assert.Equal(t, apperr.KindAuthentication, ae.Kind)
}

func TestAuthorizeCreate_CrossTenantRoleCheck(t *testing.T) {
	signer := &fakeSigner{claims: core.AccessTokenClaims{Username: "alice", AccountType: core.AccountUser, TenantID: "other"}}
	sk := &fakeSK{usersWithRole: map[string][]string{"other/acme_token_generator": {"alice"}}}
	g := &Gate{Signer: signer, SK: sk, ServiceTenantID: "admin"}
	creds := Credentials{HasBearer: true, BearerToken: fakeJWT(t, "other")}

	ac, err := g.AuthorizeCreate(context.Background(), creds, CreateTokenRequest{
		TokenTenantID: "acme", TokenUsername: "bob", AccountType: core.AccountUser,
	})
	require.NoError(t, err)
	assert.Equal(t, "other", ac.CallerTenantID)
}

func TestAuthorizeRotate_SameTenantApproved(t *testing.T) {
	signer := &fakeSigner{claims: core.AccessTokenClaims{Username: "alice", AccountType: core.AccountUser, TenantID: "acme"}}
	sk := &fakeSK{usersWithRole: map[string][]string{"acme/tenant_definition_updater": {"alice"}}}
	tenants := &fakeTenants{info: core.TenantInfo{TenantID: "acme", SiteID: "site1"}}
	g := &Gate{Signer: signer, SK: sk, Tenants: tenants, ServiceSiteID: "site1"}
	creds := Credentials{HasBearer: true, BearerToken: fakeJWT(t, "acme")}

	ac, err := g.AuthorizeRotate(context.Background(), creds, "acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", ac.TargetTenantID)
}

func TestAuthorizeRotate_CrossSiteServiceAccountDenied(t *testing.T) {
	// Caller is a service account whose own tenant lives on a different
	// site than the target tenant it is trying to rotate keys for.
	signer := &fakeSigner{claims: core.AccessTokenClaims{Username: "tokens", AccountType: core.AccountService, TenantID: "siteX"}}
	sk := &fakeSK{usersWithRole: map[string][]string{"siteX/tenant_definition_updater": {"tokens"}}}
	tenants := &fakeTenants{
		byTenant: map[string]core.TenantInfo{
			"acme":  {TenantID: "acme", SiteID: "site1"},
			"siteX": {TenantID: "siteX", SiteID: "siteX"},
		},
	}
	g := &Gate{Signer: signer, SK: sk, Tenants: tenants, ServiceSiteID: "site1"}
	creds := Credentials{HasBearer: true, BearerToken: fakeJWT(t, "siteX")}

	_, err := g.AuthorizeRotate(context.Background(), creds, "acme")
	require.Error(t, err)
	ae, _ := apperr.As(err)
	assert.Equal(t, apperr.KindPermission, ae.Kind)
}

func TestAuthorizeRotate_SameSiteServiceAccountApproved(t *testing.T) {
	signer := &fakeSigner{claims: core.AccessTokenClaims{Username: "tokens", AccountType: core.AccountService, TenantID: "site1"}}
	sk := &fakeSK{usersWithRole: map[string][]string{"site1/tenant_definition_updater": {"tokens"}}}
	tenants := &fakeTenants{
		byTenant: map[string]core.TenantInfo{
			"acme":  {TenantID: "acme", SiteID: "site1"},
			"site1": {TenantID: "site1", SiteID: "site1"},
		},
	}
	g := &Gate{Signer: signer, SK: sk, Tenants: tenants, ServiceSiteID: "site1"}
	creds := Credentials{HasBearer: true, BearerToken: fakeJWT(t, "site1")}

	ac, err := g.AuthorizeRotate(context.Background(), creds, "acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", ac.TargetTenantID)
}

func TestAuthorizeRotate_TargetOnDifferentSiteRejected(t *testing.T) {
	signer := &fakeSigner{claims: core.AccessTokenClaims{Username: "alice", AccountType: core.AccountUser, TenantID: "acme"}}
	sk := &fakeSK{usersWithRole: map[string][]string{"acme/tenant_definition_updater": {"alice"}}}
	tenants := &fakeTenants{info: core.TenantInfo{TenantID: "acme", SiteID: "site2"}}
	g := &Gate{Signer: signer, SK: sk, Tenants: tenants, ServiceSiteID: "site1"}
	creds := Credentials{HasBearer: true, BearerToken: fakeJWT(t, "acme")}

	_, err := g.AuthorizeRotate(context.Background(), creds, "acme")
	require.Error(t, err)
	ae, _ := apperr.As(err)
	assert.Equal(t, apperr.KindPermission, ae.Kind)
}

// fakeJWT builds a syntactically valid (unsigned-segment-irrelevant)
// three-part token whose payload carries tapis/tenant_id, since
// authorizeBearer peeks that claim before calling the fake signer.
func fakeJWT(t *testing.T, tenantID string) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS256","typ":"JWT"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"tapis/tenant_id":"` + tenantID + `"}`))
	return header + "." + payload + ".sig"
}
