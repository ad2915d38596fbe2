package tokenmodel

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tokensapi/internal/apperr"
	"tokensapi/internal/core"
)

// Signer signs and verifies claim dictionaries as compact RS256 JWS,
// per spec.md §4.2 ("RS256 only; any other algorithm is a hard error").
// Grounded on auth/crypto/crypto.go's JWTManager.Sign/Verify, with the
// JWK/kid lookup replaced by the tenant cache's PEM lookup since
// spec.md's tenants publish plain PEM public keys, not JWKS.
type Signer struct {
	Cache core.TenantCache
}

func NewSigner(cache core.TenantCache) *Signer {
	return &Signer{Cache: cache}
}

func parsePrivateKey(pemStr string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("invalid PEM block")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := k.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key is not an RSA private key")
	}
	return rsaKey, nil
}

func parsePublicKey(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("invalid PEM block")
	}
	if cert, err := x509.ParseCertificate(block.Bytes); err == nil {
		if pub, ok := cert.PublicKey.(*rsa.PublicKey); ok {
			return pub, nil
		}
	}
	k, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := k.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("key is not an RSA public key")
	}
	return rsaKey, nil
}

// accessToMapClaims builds the wire claim dictionary for an access
// token: standard claims at top level, namespaced claims under
// "tapis/", and extra claims merged at top level per spec.md §4.2 step 9.
func accessToMapClaims(c core.AccessTokenClaims) jwt.MapClaims {
	m := jwt.MapClaims{
		"jti": c.JTI,
		"iss": c.Iss,
		"sub": c.Sub,
		"exp": c.Exp.Unix(),

		"tapis/tenant_id":   c.TenantID,
		"tapis/token_type":  c.TokenType,
		"tapis/username":    c.Username,
		"tapis/account_type": string(c.AccountType),
		"tapis/delegation":  c.Delegation,
	}
	if c.DelegationSub != nil {
		m["tapis/delegation_sub"] = *c.DelegationSub
	} else {
		m["tapis/delegation_sub"] = nil
	}
	if c.TargetSite != nil {
		m["tapis/target_site"] = *c.TargetSite
	}
	for k, v := range c.Extra {
		m[k] = v
	}
	return m
}

func refreshToMapClaims(c core.RefreshTokenClaims) jwt.MapClaims {
	access := jwt.MapClaims{
		"tenant_id":    c.AccessToken.TenantID,
		"username":     c.AccessToken.Username,
		"account_type": string(c.AccessToken.AccountType),
		"delegation":   c.AccessToken.Delegation,
		"ttl":          int64(c.AccessToken.TTL.Seconds()),
	}
	if c.AccessToken.DelegationSub != nil {
		access["delegation_sub"] = *c.AccessToken.DelegationSub
	} else {
		access["delegation_sub"] = nil
	}
	if c.AccessToken.TargetSite != nil {
		access["target_site"] = *c.AccessToken.TargetSite
	}
	if len(c.AccessToken.Extra) > 0 {
		extra := make(map[string]interface{}, len(c.AccessToken.Extra))
		for k, v := range c.AccessToken.Extra {
			extra[k] = v
		}
		access["extra_claims"] = extra
	}

	return jwt.MapClaims{
		"jti": c.JTI,
		"iss": c.Iss,
		"sub": c.Sub,
		"exp": c.Exp.Unix(),

		"tapis/tenant_id":   c.TenantID,
		"tapis/token_type":  c.TokenType,
		"tapis/initial_ttl": int64(c.InitialTTL.Seconds()),
		"tapis/access_token": access,
	}
}

func (s *Signer) signWithTenant(tenantID string, claims jwt.MapClaims) (string, error) {
	tenant, ok := s.Cache.Get(tenantID)
	if !ok {
		return "", apperr.InvalidRequest(fmt.Sprintf("tenant %q is not served by this instance", tenantID))
	}
	if tenant.PrivateKeyPEM == "" {
		return "", apperr.Internal(fmt.Sprintf("tenant %q has no signing key loaded", tenantID), nil)
	}
	return SignWithKey(tenant.PrivateKeyPEM, claims)
}

// SignWithKey signs a claim map directly with a raw PEM private key,
// bypassing the tenant cache. Inside this package signWithTenant calls it
// once the tenant's key is looked up; outside it, only bootstrap (C3)
// calls it, to mint the
// self-signed service token from the admin-tenant key loaded out-of-band
// — before the cache exists to look anything up in, resolving the
// chicken-and-egg ordering spec.md §9 calls out explicitly.
func SignWithKey(privateKeyPEM string, claims jwt.MapClaims) (string, error) {
	key, err := parsePrivateKey(privateKeyPEM)
	if err != nil {
		return "", apperr.Internal("failed to parse private key", err)
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", apperr.Internal("failed to sign token", err)
	}
	return signed, nil
}

func (s *Signer) SignAccess(_ context.Context, claims core.AccessTokenClaims) (string, error) {
	return s.signWithTenant(claims.TenantID, accessToMapClaims(claims))
}

func (s *Signer) SignRefresh(_ context.Context, claims core.RefreshTokenClaims) (string, error) {
	return s.signWithTenant(claims.TenantID, refreshToMapClaims(claims))
}

// keyFunc returns a jwt.Keyfunc that rejects any algorithm but RS256 and
// resolves the verification key from the tenant's public key — the same
// algorithm-substitution-attack guard streamspace's jwt.go applies for
// HS256, here enforced for RS256.
func (s *Signer) keyFunc(tenantID string) jwt.Keyfunc {
	return func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v, want RS256", t.Header["alg"])
		}
		tenant, ok := s.Cache.Get(tenantID)
		if !ok {
			return nil, fmt.Errorf("tenant %q is not served by this instance", tenantID)
		}
		pub := tenant.PublicKeyPEM
		if pub == "" {
			// Fall back to deriving the public key from the private key
			// we hold — tenants always have at least the private key
			// once bootstrap completes, and the public half is
			// mathematically derivable from it.
			priv, err := parsePrivateKey(tenant.PrivateKeyPEM)
			if err != nil {
				return nil, err
			}
			return &priv.PublicKey, nil
		}
		return parsePublicKey(pub)
	}
}

func (s *Signer) VerifyAccess(_ context.Context, tenantID, tokenString string) (core.AccessTokenClaims, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, s.keyFunc(tenantID), jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		return core.AccessTokenClaims{}, apperr.Authentication("invalid or expired token")
	}
	return mapClaimsToAccess(claims)
}

func (s *Signer) VerifyRefresh(_ context.Context, tenantID, tokenString string) (core.RefreshTokenClaims, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, s.keyFunc(tenantID), jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		return core.RefreshTokenClaims{}, apperr.InvalidRequest("invalid or expired refresh token")
	}
	return mapClaimsToRefresh(claims)
}

func mapClaimsToAccess(m jwt.MapClaims) (core.AccessTokenClaims, error) {
	c := core.AccessTokenClaims{
		JTI:         asString(m["jti"]),
		Iss:         asString(m["iss"]),
		Sub:         asString(m["sub"]),
		Exp:         asTime(m["exp"]),
		TenantID:    asString(m["tapis/tenant_id"]),
		TokenType:   asString(m["tapis/token_type"]),
		Username:    asString(m["tapis/username"]),
		AccountType: core.AccountType(asString(m["tapis/account_type"])),
		Delegation:  asBool(m["tapis/delegation"]),
	}
	if v, ok := m["tapis/delegation_sub"].(string); ok && v != "" {
		c.DelegationSub = &v
	}
	if v, ok := m["tapis/target_site"].(string); ok && v != "" {
		c.TargetSite = &v
	}
	extra := map[string]interface{}{}
	for k, v := range m {
		if k == "jti" || k == "iss" || k == "sub" || k == "exp" {
			continue
		}
		if len(k) >= 6 && k[:6] == "tapis/" {
			continue
		}
		extra[k] = v
	}
	if len(extra) > 0 {
		c.Extra = extra
	}
	return c, nil
}

func mapClaimsToRefresh(m jwt.MapClaims) (core.RefreshTokenClaims, error) {
	c := core.RefreshTokenClaims{
		JTI:        asString(m["jti"]),
		Iss:        asString(m["iss"]),
		Sub:        asString(m["sub"]),
		Exp:        asTime(m["exp"]),
		TenantID:   asString(m["tapis/tenant_id"]),
		TokenType:  asString(m["tapis/token_type"]),
		InitialTTL: time.Duration(asInt64(m["tapis/initial_ttl"])) * time.Second,
	}
	access, _ := m["tapis/access_token"].(map[string]interface{})
	snap := core.AccessTokenSnapshot{
		TenantID:    asString(access["tenant_id"]),
		Username:    asString(access["username"]),
		AccountType: core.AccountType(asString(access["account_type"])),
		Delegation:  asBool(access["delegation"]),
		TTL:         time.Duration(asInt64(access["ttl"])) * time.Second,
	}
	if v, ok := access["delegation_sub"].(string); ok && v != "" {
		snap.DelegationSub = &v
	}
	if v, ok := access["target_site"].(string); ok && v != "" {
		snap.TargetSite = &v
	}
	if extra, ok := access["extra_claims"].(map[string]interface{}); ok && len(extra) > 0 {
		snap.Extra = extra
	}
	c.AccessToken = snap
	return c, nil
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asBool(v interface{}) bool {
	b, _ := v.(bool)
	return b
}

func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}

func asTime(v interface{}) time.Time {
	return time.Unix(asInt64(v), 0).UTC()
}
