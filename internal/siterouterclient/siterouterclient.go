// Package siterouterclient implements the outbound client for the
// site-local revocation registry (spec.md §6): POST /tokens/revoke and
// GET /tokens/check.
package siterouterclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"tokensapi/internal/apperr"
	"tokensapi/internal/logging"
)

type Client struct {
	baseURL       string
	httpClient    *http.Client
	serviceTenant string
}

func New(baseURL string, timeout time.Duration, serviceTenant string) *Client {
	return &Client{
		baseURL:       baseURL,
		httpClient:    &http.Client{Timeout: timeout},
		serviceTenant: serviceTenant,
	}
}

// RevokeToken calls the site-router's POST /tokens/revoke, per spec.md
// §4.5's revoke flow: the service's own service-token is attached as
// X-Tapis-Token, plus X-Tapis-Tenant/X-Tapis-User identifying this
// service as the caller.
func (c *Client) RevokeToken(ctx context.Context, serviceToken, rawToken string) error {
	body := map[string]string{"token": rawToken}
	b, err := json.Marshal(body)
	if err != nil {
		return apperr.Internal("failed to marshal revoke request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v3/site-router/tokens/revoke", bytes.NewReader(b))
	if err != nil {
		return apperr.Internal("failed to build revoke request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tapis-Token", serviceToken)
	req.Header.Set("X-Tapis-Tenant", c.serviceTenant)
	req.Header.Set("X-Tapis-User", "tokens")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logging.Upstream().Error().Err(err).Str("target", "site-router").Msg("revoke call failed")
		return apperr.UpstreamUnavailable("site-router unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return apperr.UpstreamUnavailable(fmt.Sprintf("site-router revoke returned %d", resp.StatusCode), nil)
	}
	return nil
}

// CheckToken calls GET /tokens/check for liveness of a jti. Returns
// true if the token is still live (not revoked).
func (c *Client) CheckToken(ctx context.Context, serviceToken, jti string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v3/site-router/tokens/check?jti="+jti, nil)
	if err != nil {
		return false, apperr.Internal("failed to build check request", err)
	}
	req.Header.Set("X-Tapis-Token", serviceToken)
	req.Header.Set("X-Tapis-Tenant", c.serviceTenant)
	req.Header.Set("X-Tapis-User", "tokens")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logging.Upstream().Error().Err(err).Str("target", "site-router").Msg("check call failed")
		return false, apperr.UpstreamUnavailable("site-router unreachable", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusBadRequest {
		return false, nil
	}
	if resp.StatusCode >= 300 {
		return false, apperr.UpstreamUnavailable(fmt.Sprintf("site-router check returned %d", resp.StatusCode), nil)
	}
	return true, nil
}
