package api

import (
	"net/http"

	"tokensapi/internal/authz"
	"tokensapi/internal/core"
	"tokensapi/internal/rotation"
	"tokensapi/internal/tokenmodel"
)

// Server implements http.Handler, dispatching the fixed set of
// /v3/tokens* routes by hand — the same manual switch-on-path-and-method
// idiom as auth/http/server.go's handleRequest, rather than a router
// library (no repo in the pack pulls one in for a service this size).
type Server struct {
	Cache           core.TenantCache
	Gate            *authz.Gate
	Minter          *tokenmodel.Minter
	Signer          core.TokenSigner
	Rotator         *rotation.Rotator
	SiteRouter      core.SiteRouterClient
	Audit           core.AuditSink
	Clock           core.Clock
	ServiceTenantID string
	ServiceTokens   map[string]string
	SKReachable     func() bool
}

func NewServer(cache core.TenantCache, gate *authz.Gate, minter *tokenmodel.Minter, signer core.TokenSigner,
	rotator *rotation.Rotator, siteRouter core.SiteRouterClient, audit core.AuditSink, clock core.Clock,
	serviceTenantID string, serviceTokens map[string]string) *Server {
	return &Server{
		Cache: cache, Gate: gate, Minter: minter, Signer: signer, Rotator: rotator,
		SiteRouter: siteRouter, Audit: audit, Clock: clock,
		ServiceTenantID: serviceTenantID, ServiceTokens: serviceTokens,
		SKReachable: func() bool { return true },
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/v3/tokens/ready":
		s.handleReady(w, r)
	case r.Method == http.MethodGet && r.URL.Path == "/v3/tokens/hello":
		s.handleHello(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/v3/tokens":
		s.handleCreateToken(w, r)
	case r.Method == http.MethodPut && r.URL.Path == "/v3/tokens":
		s.handleRefreshToken(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/v3/tokens/revoke":
		s.handleRevoke(w, r)
	case r.Method == http.MethodPut && r.URL.Path == "/v3/tokens/keys":
		s.handleRotateKeys(w, r)
	case isKnownPath(r.URL.Path):
		// Matched route, wrong method: spec.md's supplemented "endpoint
		// does not exist or method not allowed" behavior, rejected
		// ahead of C4 rather than folded into invalid_request.
		writeJSON(w, http.StatusMethodNotAllowed, envelope{Status: "error", Message: "method not allowed", Version: apiVersion})
	default:
		writeJSON(w, http.StatusNotFound, envelope{Status: "error", Message: "not found", Version: apiVersion})
	}
}

func isKnownPath(path string) bool {
	switch path {
	case "/v3/tokens/ready", "/v3/tokens/hello", "/v3/tokens", "/v3/tokens/revoke", "/v3/tokens/keys":
		return true
	default:
		return false
	}
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.Cache.Ready() || !s.SKReachable() {
		writeJSON(w, http.StatusServiceUnavailable, envelope{Status: "error", Message: "not ready", Version: apiVersion})
		return
	}
	writeResult(w, "ready", nil)
}

func (s *Server) handleHello(w http.ResponseWriter, _ *http.Request) {
	writeResult(w, "hello", nil)
}

func (s *Server) serviceTokenFor(tenant string) string {
	if t, ok := s.ServiceTokens[tenant]; ok {
		return t
	}
	return s.ServiceTokens[s.ServiceTenantID]
}
