// Package tokenmodel implements C2: pure derivation logic plus RS256
// signing/verification for access and refresh JWTs. Claim shapes and the
// step order of derivation are grounded on
// original_source/service/models.py's TapisAccessToken/TapisRefreshToken
// (get_derived_values, claims_to_dict); signing itself is grounded on
// auth/crypto/crypto.go's JWTManager, adapted from ES256/JWK to
// RS256/PEM.
package tokenmodel

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"tokensapi/internal/apperr"
	"tokensapi/internal/core"
)

// AccessRequest is the subset of a POST /tokens body relevant to
// derivation — decoded once by internal/api and passed down, per the
// "treat a single read as canonical" resolution of spec.md §9's open
// question.
type AccessRequest struct {
	TokenTenantID   string
	TokenUsername   string
	AccountType     core.AccountType
	AccessTokenTTL  time.Duration // 0 means "use tenant default"
	TargetSiteID    string        // required iff AccountType == service

	DelegationToken       bool
	DelegationSubTenantID string
	DelegationSubUsername string

	Claims map[string]interface{} // caller-supplied extra claims
}

// Deriver turns a validated AccessRequest into AccessTokenClaims,
// reading tenant metadata (issuer, default TTL) from the tenant cache.
type Deriver struct {
	Cache core.TenantCache
	Clock core.Clock
}

func NewDeriver(cache core.TenantCache, clock core.Clock) *Deriver {
	return &Deriver{Cache: cache, Clock: clock}
}

// DeriveAccess implements spec.md §4.2's access-token derivation steps
// 1-9 in order.
func (d *Deriver) DeriveAccess(req AccessRequest) (core.AccessTokenClaims, core.Tenant, error) {
	// step 1: fresh jti
	jti := uuid.NewString()

	// step 2: tenant lookup
	tenant, ok := d.Cache.Get(req.TokenTenantID)
	if !ok {
		return core.AccessTokenClaims{}, core.Tenant{}, apperr.InvalidRequest(
			fmt.Sprintf("tenant %q is not served by this instance", req.TokenTenantID))
	}

	// step 3: target_site_id required iff service account
	var targetSite *string
	if req.AccountType == core.AccountService {
		if req.TargetSiteID == "" {
			return core.AccessTokenClaims{}, core.Tenant{}, apperr.InvalidRequest(
				"target_site_id is required for account_type=service")
		}
		ts := req.TargetSiteID
		targetSite = &ts
	} else if req.TargetSiteID != "" {
		return core.AccessTokenClaims{}, core.Tenant{}, apperr.InvalidRequest(
			"target_site_id is only valid for account_type=service")
	}

	// step 4-5: sub, iss
	sub := ComputeSub(req.TokenUsername, req.TokenTenantID)
	iss := tenant.Issuer

	// step 6-7: ttl, exp
	ttl := req.AccessTokenTTL
	if ttl <= 0 {
		ttl = tenant.AccessTokenTTL
	}
	now := d.Clock.Now()
	exp := now.Add(ttl)

	// step 8: delegation
	var delegation bool
	var delegationSub *string
	if req.DelegationToken {
		if req.DelegationSubTenantID == "" || req.DelegationSubUsername == "" {
			return core.AccessTokenClaims{}, core.Tenant{}, apperr.InvalidRequest(
				"delegation_sub_tenant_id and delegation_sub_username are required when delegation_token is true")
		}
		delegation = true
		s := ComputeSub(req.DelegationSubUsername, req.DelegationSubTenantID)
		delegationSub = &s
	}

	// step 9: extra claims, validated against the reserved-name set
	extra, err := validateExtraClaims(req.Claims)
	if err != nil {
		return core.AccessTokenClaims{}, core.Tenant{}, err
	}

	claims := core.AccessTokenClaims{
		JTI:           jti,
		Iss:           iss,
		Sub:           sub,
		Exp:           exp,
		TenantID:      req.TokenTenantID,
		TokenType:     "access",
		Username:      req.TokenUsername,
		AccountType:   req.AccountType,
		Delegation:    delegation,
		DelegationSub: delegationSub,
		TargetSite:    targetSite,
		Extra:         extra,
		TTL:           ttl,
	}
	return claims, tenant, nil
}

// ComputeSub builds the "<username>@<tenant_id>" subject claim shared by
// access and refresh tokens, grounded on models.py's compute_sub.
func ComputeSub(username, tenantID string) string {
	return username + "@" + tenantID
}

// validateExtraClaims rejects any caller-supplied key that collides with
// a reserved name (spec.md §3's AccessTokenClaims invariant).
func validateExtraClaims(claims map[string]interface{}) (map[string]interface{}, error) {
	if len(claims) == 0 {
		return nil, nil
	}
	out := make(map[string]interface{}, len(claims))
	for k, v := range claims {
		if _, reserved := core.ReservedClaimNames[k]; reserved {
			return nil, apperr.InvalidRequest(fmt.Sprintf("extra claim %q collides with a reserved claim name", k))
		}
		out[k] = v
	}
	return out, nil
}

// DeriveRefreshFromAccess builds the refresh-token claim bag for a
// freshly minted access token, per spec.md §4.2's refresh derivation: a
// fresh jti and the refresh TTL at top level, with no delegation,
// target_site or extra claims there; those travel only inside the nested
// companion snapshot, which is the access claims minus exp plus their TTL.
func (d *Deriver) DeriveRefreshFromAccess(access core.AccessTokenClaims, refreshTTL time.Duration, tenant core.Tenant) core.RefreshTokenClaims {
	if refreshTTL <= 0 {
		refreshTTL = tenant.RefreshTokenTTL
	}
	now := d.Clock.Now()
	return core.RefreshTokenClaims{
		JTI:        uuid.NewString(),
		Iss:        access.Iss,
		Sub:        access.Sub,
		Exp:        now.Add(refreshTTL),
		TenantID:   access.TenantID,
		TokenType:  "refresh",
		InitialTTL: refreshTTL,
		AccessToken: core.AccessTokenSnapshot{
			TenantID:      access.TenantID,
			Username:      access.Username,
			AccountType:   access.AccountType,
			Delegation:    access.Delegation,
			DelegationSub: access.DelegationSub,
			TargetSite:    access.TargetSite,
			Extra:         access.Extra,
			TTL:           access.TTL,
		},
	}
}

// ReassembleFromRefresh rebuilds a fresh AccessTokenClaims from a
// verified refresh token's embedded companion claims, per spec.md
// §4.5's PUT /tokens re-materialization table. The returned claims carry
// a new jti and exp; iss comes from the refresh token itself, sub is
// recomputed from the snapshot's username and tenant, and every other
// field is copied from the nested access-token snapshot.
func ReassembleFromRefresh(refresh core.RefreshTokenClaims, clock core.Clock) core.AccessTokenClaims {
	now := clock.Now()
	snap := refresh.AccessToken
	return core.AccessTokenClaims{
		JTI:           uuid.NewString(),
		Iss:           refresh.Iss,
		Sub:           ComputeSub(snap.Username, snap.TenantID),
		Exp:           now.Add(snap.TTL),
		TenantID:      snap.TenantID,
		TokenType:     "access",
		Username:      snap.Username,
		AccountType:   snap.AccountType,
		Delegation:    snap.Delegation,
		DelegationSub: snap.DelegationSub,
		TargetSite:    snap.TargetSite,
		Extra:         snap.Extra,
		TTL:           snap.TTL,
	}
}
