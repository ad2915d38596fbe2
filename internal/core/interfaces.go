package core

import "context"

// TenantCache is C1's public surface, consumed by bootstrap, authz,
// token derivation, and rotation. Grounded on the accessor-interface
// style of auth/core/interfaces.go's Store sub-interfaces.
type TenantCache interface {
	// Get returns a snapshot of the named tenant, or ok=false if this
	// instance does not serve it.
	Get(tenantID string) (Tenant, bool)
	// SetPrivateKey atomically replaces the private key of an
	// already-cached tenant. Used by C3 while populating the cache and by
	// C6 after bootstrap.
	SetPrivateKey(tenantID string, pem string) error
	// IterSiteAdminTenants returns the tenant ids of every site-admin
	// tenant this service must authenticate against.
	IterSiteAdminTenants() []string
	// Reload refetches tenant metadata from the Tenants registry.
	Reload(ctx context.Context) error
	// Ready reports whether bootstrap has finished populating the cache.
	Ready() bool
}

// SKClient is the external Security Kernel surface consumed by this
// service (spec.md §6).
type SKClient interface {
	ReadSecret(ctx context.Context, secretType, secretName, tenant, user string) (map[string]string, error)
	WriteSecret(ctx context.Context, secretType, secretName, tenant, user string, data map[string]string) error
	ValidateServicePassword(ctx context.Context, tenant, user, password string) (bool, error)
	HasRole(ctx context.Context, tenant, user, roleName string) (bool, error)
	GetUsersWithRole(ctx context.Context, tenant, roleName string) ([]string, error)
}

// TenantInfo is the subset of Tenants-registry data this service reads.
type TenantInfo struct {
	TenantID string
	SiteID   string
	Status   TenantStatus
}

// TenantsClient is the external Tenants registry surface (spec.md §6).
type TenantsClient interface {
	GetTenant(ctx context.Context, tenantID string) (TenantInfo, error)
	UpdateTenant(ctx context.Context, tenantID string, publicKeyPEM string) error
}

// SiteRouterClient is the external site-router surface (spec.md §6).
type SiteRouterClient interface {
	RevokeToken(ctx context.Context, serviceToken, rawToken string) error
	CheckToken(ctx context.Context, serviceToken, jti string) (bool, error)
}

// AuditSink records administrative actions. Grounded on
// auth/audit/service.go's Service.Log.
type AuditSink interface {
	Log(ctx context.Context, event AuditEvent) error
}

// TokenSigner is C2's signing/verification surface, consumed by C5 and
// C4 (refresh/revoke need to verify without re-deriving).
type TokenSigner interface {
	SignAccess(ctx context.Context, claims AccessTokenClaims) (jwt string, err error)
	SignRefresh(ctx context.Context, claims RefreshTokenClaims) (jwt string, err error)
	VerifyAccess(ctx context.Context, tenantID, jwt string) (AccessTokenClaims, error)
	VerifyRefresh(ctx context.Context, tenantID, jwt string) (RefreshTokenClaims, error)
}
