package authz

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"tokensapi/internal/apperr"
)

// peekTenantID reads the tapis/tenant_id claim out of a JWT's payload
// segment without verifying its signature — needed only to know which
// tenant's public key to verify against next. Any claim read this way
// is untrusted until the subsequent signature check succeeds.
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
