package api

import (
	"net/http"

	"tokensapi/internal/apperr"
	"tokensapi/internal/authz"
	"tokensapi/internal/core"
	"tokensapi/internal/tokenmodel"
)

// handleCreateToken implements spec.md §4.5's POST /tokens.
func (s *Server) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	body, err := decodeCreateTokenBody(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	creds, err := authz.ParseHeaders(r.Header.Get("Authorization"), r.Header.Get("X-Tapis-Token"))
	if err != nil {
		writeErr(w, err)
		return
	}

	accountType := core.AccountType(body.AccountType)
	ac, err := s.Gate.AuthorizeCreate(r.Context(), creds, authz.CreateTokenRequest{
		TokenTenantID: body.TokenTenantID, TokenUsername: body.TokenUsername, AccountType: accountType,
	})
	if err != nil {
		writeErr(w, err)
		return
	}

	req := tokenmodel.AccessRequest{
		TokenTenantID:         body.TokenTenantID,
		TokenUsername:         body.TokenUsername,
		AccountType:           accountType,
		AccessTokenTTL:        ttlSeconds(body.AccessTokenTTL),
		TargetSiteID:          body.TargetSiteID,
		DelegationToken:       body.DelegationToken,
		DelegationSubTenantID: body.DelegationSubTenantID,
		DelegationSubUsername: body.DelegationSubUsername,
		Claims:                body.Claims,
	}
	access, tenant, accessJWT, err := s.Minter.MintAccess(r.Context(), req)
	if err != nil {
		writeErr(w, err)
		return
	}

	var refreshClaims *core.RefreshTokenClaims
	var refreshJWT string
	if body.GenerateRefreshToken {
		rc, jwt, err := s.Minter.MintRefresh(r.Context(), access, ttlSeconds(body.RefreshTokenTTL), tenant)
		if err != nil {
			writeErr(w, err)
			return
		}
		refreshClaims = &rc
		refreshJWT = jwt
	}

	s.logAudit(r, ac.TargetTenantID, ac.CallerAccountType, ac.CallerUsername, "mint", map[string]interface{}{"jti": access.JTI})

	envelope := tokenmodel.BuildEnvelope(access, accessJWT, refreshClaims, refreshJWT)
	writeResult(w, "Token generation successful.", envelope)
}

// handleRefreshToken implements spec.md §4.5's PUT /tokens: no gate
// beyond payload validation (possession of the refresh token suffices).
func (s *Server) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	body, err := decodeRefreshTokenBody(r)
	if err != nil {
		writeErr(w, err)
		return
	}

	tenantID, err := peekTenantID(body.RefreshToken)
	if err != nil {
		writeErr(w, apperr.InvalidRequest("invalid refresh token"))
		return
	}
	refreshClaims, err := s.Signer.VerifyRefresh(r.Context(), tenantID, body.RefreshToken)
	if err != nil {
		writeErr(w, apperr.InvalidRequest("invalid or expired refresh token"))
		return
	}

	tenant, ok := s.Cache.Get(tenantID)
	if !ok {
		writeErr(w, apperr.InvalidRequest("unknown tenant"))
		return
	}

	newAccess := tokenmodel.ReassembleFromRefresh(refreshClaims, s.Clock)
	accessJWT, err := s.Signer.SignAccess(r.Context(), newAccess)
	if err != nil {
		writeErr(w, err)
		return
	}

	// New refresh token's TTL is the outer tapis/initial_ttl, preserved
	// invariant across refresh cycles (spec.md §4.5).
	deriver := tokenmodel.NewDeriver(s.Cache, s.Clock)
	newRefresh := deriver.DeriveRefreshFromAccess(newAccess, refreshClaims.InitialTTL, tenant)
	refreshJWT, err := s.Signer.SignRefresh(r.Context(), newRefresh)
	if err != nil {
		writeErr(w, err)
		return
	}

	s.logAudit(r, tenantID, newAccess.AccountType, newAccess.Username, "refresh", map[string]interface{}{"jti": newAccess.JTI})

	envelope := tokenmodel.BuildEnvelope(newAccess, accessJWT, &newRefresh, refreshJWT)
	writeResult(w, "Token refresh successful.", envelope)
}

// handleRevoke implements spec.md §4.5's POST /tokens/revoke: possession
// of some valid Tapis token in the header is sufficient (spec.md §4.4).
func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	bearer := r.Header.Get("X-Tapis-Token")
	if bearer == "" {
		writeErr(w, apperr.Authentication("X-Tapis-Token is required"))
		return
	}
	callerTenant, err := peekTenantID(bearer)
	if err != nil {
		writeErr(w, apperr.Authentication("invalid token"))
		return
	}
	if _, err := s.Signer.VerifyAccess(r.Context(), callerTenant, bearer); err != nil {
		writeErr(w, apperr.Authentication("invalid or expired token"))
		return
	}

	body, err := decodeRevokeBody(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	targetTenant, err := peekTenantID(body.Token)
	if err != nil {
		writeErr(w, apperr.InvalidRequest("invalid token"))
		return
	}
	claims, err := s.Signer.VerifyAccess(r.Context(), targetTenant, body.Token)
	if err != nil {
		writeErr(w, apperr.InvalidRequest("invalid or expired token"))
		return
	}

	if err := s.SiteRouter.RevokeToken(r.Context(), s.serviceTokenFor(s.ServiceTenantID), body.Token); err != nil {
		writeErr(w, err)
		return
	}

	s.logAudit(r, targetTenant, claims.AccountType, claims.Username, "revoke", map[string]interface{}{"jti": claims.JTI})

	writeResult(w, "Token "+claims.JTI+" has been revoked.", nil)
}

// handleRotateKeys implements spec.md §4.5's PUT /tokens/keys, after
// C4's key-rotation policy approves.
func (s *Server) handleRotateKeys(w http.ResponseWriter, r *http.Request) {
	body, err := decodeRotateKeysBody(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	creds, err := authz.ParseHeaders(r.Header.Get("Authorization"), r.Header.Get("X-Tapis-Token"))
	if err != nil {
		writeErr(w, err)
		return
	}
	ac, err := s.Gate.AuthorizeRotate(r.Context(), creds, body.TenantID)
	if err != nil {
		writeErr(w, err)
		return
	}

	result, err := s.Rotator.Rotate(r.Context(), body.TenantID)
	if err != nil {
		writeErr(w, err)
		return
	}

	s.logAudit(r, body.TenantID, ac.CallerAccountType, ac.CallerUsername, "rotate", nil)

	writeResult(w, "Key rotation successful.", map[string]string{"public_key": result.PublicKeyPEM})
}

func (s *Server) logAudit(r *http.Request, tenantID string, actorType core.AccountType, actorID, eventType string, detail map[string]interface{}) {
	if s.Audit == nil {
		return
	}
	_ = s.Audit.Log(r.Context(), core.AuditEvent{
		TenantID: tenantID, ActorType: string(actorType), ActorID: actorID,
		EventType: eventType, CreatedAt: s.Clock.Now(), Detail: detail,
	})
}
