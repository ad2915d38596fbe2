// Package tenantsclient implements the outbound HTTP client for the
// external Tenants registry named in spec.md §6 (get_tenant,
// update_tenant). Same thin net/http idiom as internal/skclient.
package tenantsclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"tokensapi/internal/apperr"
	"tokensapi/internal/core"
	"tokensapi/internal/logging"
)

type Client struct {
	baseURL      string
	httpClient   *http.Client
	serviceToken func(tenant string) string
	serviceTenant string
}

func New(baseURL string, timeout time.Duration, serviceToken func(tenant string) string, serviceTenant string) *Client {
	return &Client{
		baseURL:       baseURL,
		httpClient:    &http.Client{Timeout: timeout},
		serviceToken:  serviceToken,
		serviceTenant: serviceTenant,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, apperr.Internal("failed to marshal Tenants request body", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, apperr.Internal("failed to build Tenants request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tapis-Token", c.serviceToken(c.serviceTenant))
	req.Header.Set("X-Tapis-Tenant", c.serviceTenant)
	req.Header.Set("X-Tapis-User", "tokens")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logging.Upstream().Error().Err(err).Str("target", "tenants").Str("path", path).Msg("Tenants call failed")
		return nil, apperr.UpstreamUnavailable("Tenants registry unreachable", err)
	}
	return resp, nil
}

// GetTenant fetches tenant metadata, including DRAFT/INACTIVE tenants,
// per spec.md §4.6 step 1.
func (c *Client) GetTenant(ctx context.Context, tenantID string) (core.TenantInfo, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v3/tenants/"+tenantID, nil)
	if err != nil {
		return core.TenantInfo{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return core.TenantInfo{}, apperr.InvalidRequest(fmt.Sprintf("tenant %q not found", tenantID))
	}
	if resp.StatusCode >= 300 {
		return core.TenantInfo{}, apperr.UpstreamUnavailable(fmt.Sprintf("Tenants get_tenant returned %d", resp.StatusCode), nil)
	}
	var out struct {
		Result struct {
			TenantID string `json:"tenant_id"`
			SiteID   string `json:"site_id"`
			Status   string `json:"status"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return core.TenantInfo{}, apperr.Internal("failed to decode Tenants get_tenant response", err)
	}
	return core.TenantInfo{
		TenantID: out.Result.TenantID,
		SiteID:   out.Result.SiteID,
		Status:   core.TenantStatus(out.Result.Status),
	}, nil
}

// UpdateTenant publishes a new public key for tenantID. Failure here
// after SK's key-generation step has already succeeded is the rotation
// protocol's "inconsistency" case — callers (internal/rotation) are
// responsible for surfacing that, not this client.
func (c *Client) UpdateTenant(ctx context.Context, tenantID string, publicKeyPEM string) error {
	body := map[string]string{"tenant_id": tenantID, "public_key": publicKeyPEM}
	resp, err := c.do(ctx, http.MethodPut, "/v3/tenants/"+tenantID, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return apperr.UpstreamUnavailable(fmt.Sprintf("Tenants update_tenant returned %d", resp.StatusCode), nil)
	}
	return nil
}
