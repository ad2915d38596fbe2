package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"tokensapi/internal/apperr"
	"tokensapi/internal/core"
)

// createTokenBody is the POST /tokens request body, per spec.md §6.
type createTokenBody struct {
	TokenTenantID         string                 `json:"token_tenant_id"`
	TokenUsername         string                 `json:"token_username"`
	AccountType           string                 `json:"account_type"`
	AccessTokenTTL        int64                  `json:"access_token_ttl"`
	GenerateRefreshToken  bool                   `json:"generate_refresh_token"`
	RefreshTokenTTL       int64                  `json:"refresh_token_ttl"`
	DelegationToken       bool                   `json:"delegation_token"`
	DelegationSubTenantID string                 `json:"delegation_sub_tenant_id"`
	DelegationSubUsername string                 `json:"delegation_sub_username"`
	TargetSiteID          string                 `json:"target_site_id"`
	Claims                map[string]interface{} `json:"claims"`
}

func decodeCreateTokenBody(r *http.Request) (createTokenBody, error) {
	var b createTokenBody
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		return createTokenBody{}, apperr.InvalidRequest("malformed request body")
	}
	if b.TokenTenantID == "" || b.TokenUsername == "" {
		return createTokenBody{}, apperr.InvalidRequest("token_tenant_id and token_username are required")
	}
	switch core.AccountType(b.AccountType) {
	case core.AccountUser, core.AccountService:
	default:
		return createTokenBody{}, apperr.InvalidRequest("account_type must be \"user\" or \"service\"")
	}
	return b, nil
}

type refreshTokenBody struct {
	RefreshToken string `json:"refresh_token"`
}

func decodeRefreshTokenBody(r *http.Request) (refreshTokenBody, error) {
	var b refreshTokenBody
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil || b.RefreshToken == "" {
		return refreshTokenBody{}, apperr.InvalidRequest("refresh_token is required")
	}
	return b, nil
}

type revokeBody struct {
	Token string `json:"token"`
}

func decodeRevokeBody(r *http.Request) (revokeBody, error) {
	var b revokeBody
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil || b.Token == "" {
		return revokeBody{}, apperr.InvalidRequest("token is required")
	}
	return b, nil
}

type rotateKeysBody struct {
	TenantID string `json:"tenant_id"`
}

func decodeRotateKeysBody(r *http.Request) (rotateKeysBody, error) {
	var b rotateKeysBody
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil || b.TenantID == "" {
		return rotateKeysBody{}, apperr.InvalidRequest("tenant_id is required")
	}
	return b, nil
}

func ttlSeconds(seconds int64) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// peekTenantID reads tapis/tenant_id from a JWT's payload without
// verifying its signature, to select which tenant's public key to
// verify against — the same untrusted-until-verified pattern used by
// internal/authz.
func peekTenantID(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", apperr.Authentication("malformed token")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", apperr.Authentication("malformed token payload")
	}
	var claims map[string]interface{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", apperr.Authentication("malformed token payload")
	}
	tenantID, _ := claims["tapis/tenant_id"].(string)
	if tenantID == "" {
		return "", apperr.Authentication("token is missing tenant_id")
	}
	return tenantID, nil
}
