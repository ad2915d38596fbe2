package tokenmodel

import (
	"context"
	"time"

	"tokensapi/internal/core"
)

// Envelope is the wire shape for a minted token pair, per spec.md
// §4.2's "Serialization (wire shape)" — access-only or access+refresh.
type Envelope struct {
	JTI              string `json:"jti"`
	AccessToken      string `json:"access_token"`
	ExpiresIn        int64  `json:"expires_in"`
	ExpiresAt        string `json:"expires_at"`
	RefreshToken     string `json:"refresh_token,omitempty"`
	RefreshJTI       string `json:"refresh_jti,omitempty"`
	RefreshExpiresIn int64  `json:"refresh_expires_in,omitempty"`
	RefreshExpiresAt string `json:"refresh_expires_at,omitempty"`
}

// Minter derives and then signs tokens: it is the thin composition of
// Deriver + Signer that internal/api's handlers call.
type Minter struct {
	Deriver *Deriver
	Signer  *Signer
}

func NewMinter(deriver *Deriver, signer *Signer) *Minter {
	return &Minter{Deriver: deriver, Signer: signer}
}

// MintAccess derives and signs an access token from a request, per
// spec.md §4.5's POST /tokens.
func (m *Minter) MintAccess(ctx context.Context, req AccessRequest) (core.AccessTokenClaims, core.Tenant, string, error) {
	claims, tenant, err := m.Deriver.DeriveAccess(req)
	if err != nil {
		return core.AccessTokenClaims{}, core.Tenant{}, "", err
	}
	jwt, err := m.Signer.SignAccess(ctx, claims)
	if err != nil {
		return core.AccessTokenClaims{}, core.Tenant{}, "", err
	}
	return claims, tenant, jwt, nil
}

// MintRefresh derives and signs a refresh token from an already-minted
// access token.
func (m *Minter) MintRefresh(ctx context.Context, access core.AccessTokenClaims, refreshTTL time.Duration, tenant core.Tenant) (core.RefreshTokenClaims, string, error) {
	rc := m.Deriver.DeriveRefreshFromAccess(access, refreshTTL, tenant)
	jwt, err := m.Signer.SignRefresh(ctx, rc)
	if err != nil {
		return core.RefreshTokenClaims{}, "", err
	}
	return rc, jwt, nil
}

// BuildEnvelope assembles the wire response for a mint/refresh result.
func BuildEnvelope(access core.AccessTokenClaims, accessJWT string, refresh *core.RefreshTokenClaims, refreshJWT string) Envelope {
	env := Envelope{
		JTI:         access.JTI,
		AccessToken: accessJWT,
		ExpiresIn:   int64(access.TTL.Seconds()),
		ExpiresAt:   access.Exp.Format(time.RFC3339),
	}
	if refresh != nil {
		env.RefreshToken = refreshJWT
		env.RefreshJTI = refresh.JTI
		env.RefreshExpiresIn = int64(refresh.InitialTTL.Seconds())
		env.RefreshExpiresAt = refresh.Exp.Format(time.RFC3339)
	}
	return env
}
