package skclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokensapi/internal/apperr"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, func()) {
	t.Helper()
	srv := httptest.NewServer(handler)
	c := New(srv.URL, 2*time.Second, func(string) string { return "svc-token" })
	return c, srv.Close
}

func TestReadSecret_ParsesSecretMap(t *testing.T) {
	c, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "svc-token", r.Header.Get("X-Tapis-Token"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"result": map[string]interface{}{
				"secretMap": map[string]string{"private_key": "PEM", "public_key": "PEM2"},
			},
		})
	})
	defer closeFn()

	secrets, err := c.ReadSecret(context.Background(), "jwtsigning", "keys", "acme", "tokens")
	require.NoError(t, err)
	assert.Equal(t, "PEM", secrets["private_key"])
	assert.Equal(t, "PEM2", secrets["public_key"])
}

func TestReadSecret_NonOKStatusIsUpstreamUnavailable(t *testing.T) {
	c, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer closeFn()

	_, err := c.ReadSecret(context.Background(), "jwtsigning", "keys", "acme", "tokens")
	assert.Error(t, err)
	assert.Equal(t, apperr.KindUpstreamUnavailable, apperr.KindOf(err))
}

func TestValidateServicePassword_RejectsWithoutDistinguishingUpstreamFailure(t *testing.T) {
	c, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	defer closeFn()

	ok, err := c.ValidateServicePassword(context.Background(), "acme", "tokens", "bad")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHasRole_True(t *testing.T) {
	c, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"result": map[string]interface{}{"isAuthorized": true},
		})
	})
	defer closeFn()

	ok, err := c.HasRole(context.Background(), "acme", "tokens", "tenant_definition_updater")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGetUsersWithRole_ReturnsNames(t *testing.T) {
	c, closeFn := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"result": map[string]interface{}{"names": []string{"alice", "bob"}},
		})
	})
	defer closeFn()

	names, err := c.GetUsersWithRole(context.Background(), "acme", "acme_token_generator")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, names)
}
