// Package skclient implements the outbound HTTP client for the external
// Security Kernel (SK) named in spec.md §6. Grounded on the teacher's
// own "no HTTP client framework" idiom — a thin *http.Client wrapper,
// no resty/sling — with call shapes taken from
// original_source/service/auth.py's SK.readSecret/validateServicePassword/
// hasRole/getUsersWithRole call sites.
package skclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"tokensapi/internal/apperr"
	"tokensapi/internal/logging"
)

// Client implements core.SKClient against a real SK HTTP API.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	serviceToken func(tenant string) string // service_tokens[tenant_id] lookup, set by bootstrap
}

func New(baseURL string, timeout time.Duration, serviceToken func(tenant string) string) *Client {
	return &Client{
		baseURL:      baseURL,
		httpClient:   &http.Client{Timeout: timeout},
		serviceToken: serviceToken,
	}
}

func (c *Client) authedRequest(ctx context.Context, method, path string, tenant, user string, body interface{}) (*http.Response, error) {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, apperr.Internal("failed to marshal SK request body", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, apperr.Internal("failed to build SK request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tapis-Token", c.serviceToken(tenant))
	req.Header.Set("X-Tapis-Tenant", tenant)
	req.Header.Set("X-Tapis-User", user)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logging.Upstream().Error().Err(err).Str("target", "sk").Str("path", path).Msg("SK call failed")
		return nil, apperr.UpstreamUnavailable("SK unreachable", err)
	}
	return resp, nil
}

// ReadSecret fetches a secret (typically the tenant's signing keys).
func (c *Client) ReadSecret(ctx context.Context, secretType, secretName, tenant, user string) (map[string]string, error) {
	q := url.Values{"secretType": {secretType}, "secretName": {secretName}, "tenant": {tenant}, "user": {user}}
	resp, err := c.authedRequest(ctx, http.MethodGet, "/v3/security/secrets?"+q.Encode(), tenant, user, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, apperr.UpstreamUnavailable(fmt.Sprintf("SK readSecret returned %d", resp.StatusCode), nil)
	}
	var out struct {
		Result struct {
			SecretMap map[string]string `json:"secretMap"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperr.Internal("failed to decode SK readSecret response", err)
	}
	return out.Result.SecretMap, nil
}

// WriteSecret asks SK to write (or, for key generation, server-side
// generate) a secret.
func (c *Client) WriteSecret(ctx context.Context, secretType, secretName, tenant, user string, data map[string]string) error {
	body := map[string]interface{}{
		"secretType": secretType, "secretName": secretName, "tenant": tenant, "user": user, "data": data,
	}
	resp, err := c.authedRequest(ctx, http.MethodPost, "/v3/security/secrets", tenant, user, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return apperr.UpstreamUnavailable(fmt.Sprintf("SK writeSecret returned %d", resp.StatusCode), nil)
	}
	return nil
}

// ValidateServicePassword checks a service-account password. SK errors
// here are never retried and never distinguished from a bad password in
// the caller-visible response — spec.md §7's anti-enumeration rule.
func (c *Client) ValidateServicePassword(ctx context.Context, tenant, user, password string) (bool, error) {
	body := map[string]string{
		"secretType": "service", "secretName": "password", "tenant": tenant, "user": user, "password": password,
	}
	resp, err := c.authedRequest(ctx, http.MethodPost, "/v3/security/validate-service-password", tenant, user, body)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return false, nil
	}
	var out struct {
		Result struct {
			IsAuthorized bool `json:"isAuthorized"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, nil
	}
	return out.Result.IsAuthorized, nil
}

func (c *Client) HasRole(ctx context.Context, tenant, user, roleName string) (bool, error) {
	q := url.Values{"roleName": {roleName}, "user": {user}, "tenant": {tenant}}
	resp, err := c.authedRequest(ctx, http.MethodGet, "/v3/security/has-role?"+q.Encode(), tenant, user, nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return false, apperr.UpstreamUnavailable(fmt.Sprintf("SK hasRole returned %d", resp.StatusCode), nil)
	}
	var out struct {
		Result struct {
			IsAuthorized bool `json:"isAuthorized"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, apperr.Internal("failed to decode SK hasRole response", err)
	}
	return out.Result.IsAuthorized, nil
}

func (c *Client) GetUsersWithRole(ctx context.Context, tenant, roleName string) ([]string, error) {
	q := url.Values{"roleName": {roleName}, "tenant": {tenant}}
	resp, err := c.authedRequest(ctx, http.MethodGet, "/v3/security/users-with-role?"+q.Encode(), tenant, "tokens", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, apperr.UpstreamUnavailable(fmt.Sprintf("SK getUsersWithRole returned %d", resp.StatusCode), nil)
	}
	var out struct {
		Result struct {
			Names []string `json:"names"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperr.Internal("failed to decode SK getUsersWithRole response", err)
	}
	return out.Result.Names, nil
}
