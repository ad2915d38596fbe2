package tokenmodel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokensapi/internal/apperr"
	"tokensapi/internal/core"
)

type mockClock struct{ now time.Time }

func (m mockClock) Now() time.Time { return m.now }

// mockCache is a hand-rolled fake implementing core.TenantCache, in the
// style of auth/tokens/service_test.go's mockKeyStore.
type mockCache struct {
	tenants map[string]core.Tenant
}

func (c *mockCache) Get(id string) (core.Tenant, bool) {
	t, ok := c.tenants[id]
	return t, ok
}
func (c *mockCache) SetPrivateKey(id, pem string) error {
	t := c.tenants[id]
	t.PrivateKeyPEM = pem
	c.tenants[id] = t
	return nil
}
func (c *mockCache) IterSiteAdminTenants() []string               { return nil }
func (c *mockCache) Reload(_ context.Context) error               { return nil }
func (c *mockCache) Ready() bool                                  { return true }

func newTestCache() *mockCache {
	return &mockCache{tenants: map[string]core.Tenant{
		"acme": {
			TenantID:        "acme",
			SiteID:          "site1",
			Issuer:          "https://acme.example.com/v3",
			AccessTokenTTL:  5 * time.Minute,
			RefreshTokenTTL: 10 * time.Minute,
			Status:          core.TenantActive,
		},
	}}
}

func TestDeriveAccess_DefaultsAndSub(t *testing.T) {
	clock := mockClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	d := &Deriver{Cache: newTestCache(), Clock: clock}

	claims, tenant, err := d.DeriveAccess(AccessRequest{
		TokenTenantID: "acme",
		TokenUsername: "alice",
		AccountType:   core.AccountUser,
	})
	require.NoError(t, err)
	assert.Equal(t, "alice@acme", claims.Sub)
	assert.Equal(t, tenant.Issuer, claims.Iss)
	assert.Equal(t, 5*time.Minute, claims.TTL)
	assert.Equal(t, clock.now.Add(5*time.Minute), claims.Exp)
	assert.NotEmpty(t, claims.JTI)
}

func TestDeriveAccess_ServiceRequiresTargetSite(t *testing.T) {
	clock := mockClock{now: time.Now()}
	d := &Deriver{Cache: newTestCache(), Clock: clock}

	_, _, err := d.DeriveAccess(AccessRequest{
		TokenTenantID: "acme",
		TokenUsername: "svc",
		AccountType:   core.AccountService,
	})
	require.Error(t, err)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindInvalidRequest, ae.Kind)
}

func TestDeriveAccess_ReservedClaimCollision(t *testing.T) {
	clock := mockClock{now: time.Now()}
	d := &Deriver{Cache: newTestCache(), Clock: clock}

	_, _, err := d.DeriveAccess(AccessRequest{
		TokenTenantID: "acme",
		TokenUsername: "alice",
		AccountType:   core.AccountUser,
		Claims:        map[string]interface{}{"sub": "hacked"},
	})
	require.Error(t, err)
	ae, _ := apperr.As(err)
	assert.Equal(t, apperr.KindInvalidRequest, ae.Kind)
}

func TestDeriveAccess_ExtraClaimsPropagate(t *testing.T) {
	clock := mockClock{now: time.Now()}
	d := &Deriver{Cache: newTestCache(), Clock: clock}

	claims, _, err := d.DeriveAccess(AccessRequest{
		TokenTenantID: "acme",
		TokenUsername: "alice",
		AccountType:   core.AccountUser,
		Claims:        map[string]interface{}{"test_claim": "here it is!"},
	})
	require.NoError(t, err)
	assert.Equal(t, "here it is!", claims.Extra["test_claim"])
}

func TestDeriveAccess_ZeroTTLFallsBackToTenantDefault(t *testing.T) {
	clock := mockClock{now: time.Now()}
	d := &Deriver{Cache: newTestCache(), Clock: clock}

	claims, tenant, err := d.DeriveAccess(AccessRequest{
		TokenTenantID:  "acme",
		TokenUsername:  "alice",
		AccountType:    core.AccountUser,
		AccessTokenTTL: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, tenant.AccessTokenTTL, claims.TTL)
	assert.NotZero(t, claims.TTL)
}

func TestDeriveRefreshFromAccess_PreservesTTLAcrossRefresh(t *testing.T) {
	clock := mockClock{now: time.Now()}
	d := &Deriver{Cache: newTestCache(), Clock: clock}

	access, tenant, err := d.DeriveAccess(AccessRequest{
		TokenTenantID: "acme",
		TokenUsername: "alice",
		AccountType:   core.AccountUser,
	})
	require.NoError(t, err)

	refresh := d.DeriveRefreshFromAccess(access, 20*time.Minute, tenant)
	assert.Equal(t, 20*time.Minute, refresh.InitialTTL)
	assert.Equal(t, access.TTL, refresh.AccessToken.TTL)

	reassembled := ReassembleFromRefresh(refresh, clock)
	assert.Equal(t, access.Username, reassembled.Username)
	assert.Equal(t, access.TTL, reassembled.TTL)
	assert.NotEqual(t, access.JTI, reassembled.JTI)
}
