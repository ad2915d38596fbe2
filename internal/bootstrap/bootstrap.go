// Package bootstrap implements C3: the startup sequence that resolves
// the chicken-and-egg problem spec.md §9 calls out — the service needs a
// signed JWT to authenticate itself to SK, but the only private key it
// may read out-of-band is its own site-admin tenant's. Grounded on
// original_source/service/auth.py's module-level bootstrap block (the
// self-signed AccessTokenData construction, get_service_tapy_client) and
// on cmd/locky/main.go's explicit-construction wiring style (no DI
// framework — every dependency is built and threaded by hand in order).
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"tokensapi/internal/apperr"
	"tokensapi/internal/config"
	"tokensapi/internal/core"
	"tokensapi/internal/logging"
	"tokensapi/internal/skclient"
	"tokensapi/internal/siterouterclient"
	"tokensapi/internal/tenantcache"
	"tokensapi/internal/tenantsclient"
	"tokensapi/internal/tokenmodel"
)

// serviceTokenTTL is the lifetime of the self-signed bootstrap service
// token: ten years, matching the original's SERVICE_TOKEN_TTL — long
// enough that the process never needs to re-mint it while running.
const serviceTokenTTL = 10 * 365 * 24 * time.Hour

const tokenGeneratorRole = "tenant_definition_updater"

// TenantSeed is static per-tenant metadata supplied out-of-band (e.g.
// from configuration or an initial Tenants.get_tenant call) before the
// cache is fully populated with private keys.
type TenantSeed struct {
	TenantID        string
	SiteID          string
	Issuer          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	PublicKeyPEM    string
	Status          core.TenantStatus
}

// Result is everything bootstrap hands to the rest of the process.
type Result struct {
	Cache            *tenantcache.Cache
	SK               core.SKClient
	Tenants          core.TenantsClient
	SiteRouter       core.SiteRouterClient
	ServiceTokens    map[string]string // tenant_id -> self-signed service JWT
	ServiceTenantID  string
}

// Run executes the full C3 sequence. seeds provides the tenant metadata
// (issuer, TTL defaults, site id) for every tenant this instance may
// serve; seeds[cfg.ServiceTenantID] must be present and is used for the
// self-signing step. Fatal per spec.md §4.3 — callers should exit the
// process on a non-nil error.
func Run(ctx context.Context, cfg *config.Config, seeds map[string]TenantSeed) (*Result, error) {
	log := logging.Bootstrap()

	// step 1: service_tenant_id / service_site_id / site_admin_privatekey
	// and the tenants allow-list are already in cfg (loaded by
	// internal/config). Validate the pieces bootstrap itself needs.
	if cfg.ServiceTenantID == "" || cfg.SiteAdminPrivateKey == "" {
		return nil, apperr.Internal("bootstrap: service_tenant_id and site_admin_privatekey are required", nil)
	}
	if _, ok := seeds[cfg.ServiceTenantID]; !ok {
		return nil, apperr.Internal(fmt.Sprintf("bootstrap: no seed metadata for service tenant %q", cfg.ServiceTenantID), nil)
	}

	// step 2: mint a self-issued service access token per site-admin
	// tenant this instance must address. For a single-site deployment
	// that is just the configured service tenant; multi-site instances
	// extend the seeds map with one entry per additional site-admin
	// tenant they must reach.
	serviceTokens := map[string]string{}
	for _, seed := range seeds {
		if seed.TenantID != seed.SiteID {
			continue // not a site-admin tenant
		}
		token, err := mintSelfServiceToken(seed, cfg.SiteAdminPrivateKey)
		if err != nil {
			return nil, apperr.Internal("bootstrap: failed to mint self-signed service token", err)
		}
		serviceTokens[seed.TenantID] = token
		log.Info().Str("tenant", seed.TenantID).Msg("minted self-signed service token")
	}
	if _, ok := serviceTokens[cfg.ServiceTenantID]; !ok {
		return nil, apperr.Internal(fmt.Sprintf("bootstrap: service tenant %q is not a site-admin tenant", cfg.ServiceTenantID), nil)
	}

	tokenFor := func(tenant string) string {
		if t, ok := serviceTokens[tenant]; ok {
			return t
		}
		return serviceTokens[cfg.ServiceTenantID]
	}

	// step 3: construct outbound clients.
	sk := skclient.New(cfg.SKBaseURL, cfg.UpstreamTimeout, tokenFor)
	tenants := tenantsclient.New(cfg.TenantsBaseURL, cfg.UpstreamTimeout, tokenFor, cfg.ServiceTenantID)
	siteRouter := siterouterclient.New(cfg.SiteRouterBaseURL, cfg.UpstreamTimeout, cfg.ServiceTenantID)

	cache := tenantcache.New(func(ctx context.Context) (map[string]core.Tenant, error) {
		return reloadFromTenants(ctx, tenants, seeds)
	})

	// Seed the cache with metadata immediately so C1.Get works during
	// the rest of bootstrap (e.g. the admin tenant's own private key).
	seeded := map[string]core.Tenant{}
	for id, seed := range seeds {
		seeded[id] = core.Tenant{
			TenantID: seed.TenantID, SiteID: seed.SiteID, Issuer: seed.Issuer,
			AccessTokenTTL: seed.AccessTokenTTL, RefreshTokenTTL: seed.RefreshTokenTTL,
			PublicKeyPEM: seed.PublicKeyPEM, Status: seed.Status,
		}
	}
	if t, ok := seeded[cfg.ServiceTenantID]; ok {
		t.PrivateKeyPEM = cfg.SiteAdminPrivateKey
		seeded[cfg.ServiceTenantID] = t
	}
	cache.Seed(seeded)

	if cfg.UseSK {
		// step 4: verify the tokens principal holds tenant_definition_updater.
		authorized, err := sk.HasRole(ctx, cfg.ServiceTenantID, "tokens", tokenGeneratorRole)
		if err != nil {
			return nil, apperr.Internal("bootstrap: SK.hasRole check failed", err)
		}
		if !authorized {
			return nil, apperr.Internal(fmt.Sprintf("bootstrap: tokens principal lacks the %q role", tokenGeneratorRole), nil)
		}

		// step 5: fetch private keys for every tenant on this site.
		for id, seed := range seeds {
			if seed.SiteID != cfg.ServiceSiteID {
				continue
			}
			secrets, err := sk.ReadSecret(ctx, "jwtsigning", "keys", id, "tokens")
			if err != nil {
				return nil, apperr.Internal(fmt.Sprintf("bootstrap: failed to fetch signing key for tenant %q", id), err)
			}
			priv := secrets["private_key"]
			if priv == "" {
				return nil, apperr.Internal(fmt.Sprintf("bootstrap: SK returned no private key for tenant %q", id), nil)
			}
			if err := cache.SetPrivateKey(id, priv); err != nil {
				return nil, apperr.Internal(err.Error(), nil)
			}
			log.Info().Str("tenant", id).Msg("loaded signing key from SK")
		}
	} else {
		// Development mode: every tenant signs with the admin key.
		log.Warn().Msg("use_sk=false: all tenants signing with site_admin_privatekey (development mode)")
		for id := range seeds {
			_ = cache.SetPrivateKey(id, cfg.SiteAdminPrivateKey)
		}
	}

	// step 6: ready.
	cache.MarkReady()
	log.Info().Msg("tenant cache ready")

	return &Result{
		Cache:           cache,
		SK:              sk,
		Tenants:         tenants,
		SiteRouter:      siteRouter,
		ServiceTokens:   serviceTokens,
		ServiceTenantID: cfg.ServiceTenantID,
	}, nil
}

func mintSelfServiceToken(seed TenantSeed, privateKeyPEM string) (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"jti": uuid.NewString(),
		"iss": seed.Issuer,
		"sub": "tokens@" + seed.TenantID,
		"exp": now.Add(serviceTokenTTL).Unix(),

		"tapis/tenant_id":    seed.TenantID,
		"tapis/token_type":   "access",
		"tapis/username":     "tokens",
		"tapis/account_type": "service",
		"tapis/delegation":   false,
		"tapis/delegation_sub": nil,
		"tapis/target_site":  seed.SiteID,
	}
	return tokenmodel.SignWithKey(privateKeyPEM, claims)
}

func reloadFromTenants(ctx context.Context, tenants core.TenantsClient, seeds map[string]TenantSeed) (map[string]core.Tenant, error) {
	out := map[string]core.Tenant{}
	for id, seed := range seeds {
		info, err := tenants.GetTenant(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = core.Tenant{
			TenantID: id, SiteID: info.SiteID, Issuer: seed.Issuer,
			AccessTokenTTL: seed.AccessTokenTTL, RefreshTokenTTL: seed.RefreshTokenTTL,
			PublicKeyPEM: seed.PublicKeyPEM, Status: info.Status,
		}
	}
	return out, nil
}
