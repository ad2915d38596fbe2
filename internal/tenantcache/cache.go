// Package tenantcache implements C1: the per-process tenant signing-key
// cache. It is read-mostly — bootstrap populates it single-threaded
// before the HTTP listener starts, and after that the only writer is
// key rotation (C6) or an explicit reload. Grounded on the
// accessor-struct-over-a-map idiom of auth/store/store.go, adapted from
// a GORM-backed store to an in-memory one since spec.md's tenant cache
// is explicitly process-local.
package tenantcache

import (
	"context"
	"fmt"
	"sync"

	"tokensapi/internal/core"
)

// Cache implements core.TenantCache.
type Cache struct {
	mu      sync.RWMutex
	tenants map[string]core.Tenant
	ready   bool

	reload func(ctx context.Context) (map[string]core.Tenant, error)
}

// New constructs an empty cache. reload, if non-nil, is invoked by
// Reload to refetch tenant metadata from the Tenants registry; it may
// be nil in tests that never call Reload.
func New(reload func(ctx context.Context) (map[string]core.Tenant, error)) *Cache {
	return &Cache{
		tenants: make(map[string]core.Tenant),
		reload:  reload,
	}
}

// Seed populates (or replaces) the cache with an initial tenant set.
// Called once by bootstrap before MarkReady.
func (c *Cache) Seed(tenants map[string]core.Tenant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := make(map[string]core.Tenant, len(tenants))
	for k, v := range tenants {
		m[k] = v
	}
	c.tenants = m
}

// MarkReady flips the cache to ready. Bootstrap calls this only after
// every served tenant has a non-empty private key.
func (c *Cache) MarkReady() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = true
}

func (c *Cache) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

func (c *Cache) Get(tenantID string) (core.Tenant, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tenants[tenantID]
	return t, ok
}

// SetPrivateKey is the only write path after bootstrap; it replaces the
// whole Tenant value (copy-on-write) rather than mutating a shared
// struct in place, so a concurrent Get never observes a torn PEM.
func (c *Cache) SetPrivateKey(tenantID string, pem string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tenants[tenantID]
	if !ok {
		return fmt.Errorf("tenantcache: unknown tenant %q", tenantID)
	}
	t.PrivateKeyPEM = pem
	c.tenants[tenantID] = t
	return nil
}

func (c *Cache) IterSiteAdminTenants() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var ids []string
	for id, t := range c.tenants {
		if t.SiteID != "" && isSiteAdmin(t) {
			ids = append(ids, id)
		}
	}
	return ids
}

// isSiteAdmin identifies the admin tenant of a site by convention: its
// tenant id equals its site id, the same convention
// original_source/service/auth.py relies on implicitly via the
// service_tenant_id/service_site_id configuration pair.
func isSiteAdmin(t core.Tenant) bool {
	return t.TenantID == t.SiteID
}

func (c *Cache) Reload(ctx context.Context) error {
	if c.reload == nil {
		return fmt.Errorf("tenantcache: no reload function configured")
	}
	fresh, err := c.reload(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	// Preserve private keys already cached — Reload refreshes metadata
	// only, never private-key material (that is SK's job via C6/C3).
	for id, t := range fresh {
		if existing, ok := c.tenants[id]; ok {
			t.PrivateKeyPEM = existing.PrivateKeyPEM
		}
		c.tenants[id] = t
	}
	return nil
}
