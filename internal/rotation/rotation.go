// Package rotation implements C6: the three-phase key-rotation protocol
// (generate-in-SK, read, publish-to-Tenants, swap-in-cache), including
// the explicit "inconsistency" failure mode when SK and Tenants
// disagree. Grounded on
// original_source/service/controllers.py's SigningKeysResource.put.
package rotation

import (
	"context"

	"tokensapi/internal/apperr"
	"tokensapi/internal/core"
	"tokensapi/internal/logging"
)

// Rotator drives C6 for a single tenant at a time.
type Rotator struct {
	SK      core.SKClient
	Tenants core.TenantsClient
	Cache   core.TenantCache

	ServiceTenantID string // not read by Rotate: SK calls go to the target tenant as user "tokens"
}

// Result is the outcome of a successful rotation: the new public key,
// returned in the response per spec.md §4.6 step 4.
type Result struct {
	PublicKeyPEM string
}

// Rotate runs the full protocol for tenantID. Callers are expected to
// have already run C4's key-rotation policy before calling this.
func (r *Rotator) Rotate(ctx context.Context, tenantID string) (Result, error) {
	log := logging.Rotation()

	// Phase 1: generate. SK generates the key pair server-side;
	// writeSecret returns no key material.
	err := r.SK.WriteSecret(ctx, "jwtsigning", "keys", tenantID, "tokens", map[string]string{
		"key": "privateKey", "value": "<generate-secret>",
	})
	if err != nil {
		return Result{}, apperr.UpstreamUnavailable("SK key generation failed", err)
	}

	// Phase 2: read the freshly generated pair back.
	secrets, err := r.SK.ReadSecret(ctx, "jwtsigning", "keys", tenantID, "tokens")
	if err != nil {
		return Result{}, apperr.UpstreamUnavailable("SK readSecret after key generation failed", err)
	}
	privateKey := secrets["private_key"]
	publicKey := secrets["public_key"]
	if privateKey == "" || publicKey == "" {
		return Result{}, apperr.Internal("SK returned an incomplete key pair after generation", nil)
	}

	// Phase 3: publish the new public key to the Tenants registry. A
	// failure here, after phase 1 already committed a new private key
	// inside SK, leaves the two systems out of sync. There is no
	// rollback of phase 1 — SK is the source of truth for private
	// keys — so this is surfaced as a first-class inconsistency, never
	// silently retried.
	if err := r.Tenants.UpdateTenant(ctx, tenantID, publicKey); err != nil {
		log.Error().Err(err).Str("tenant", tenantID).
			Msg("SK and Tenants now out of sync; inspect immediately")
		return Result{}, apperr.Inconsistency(
			"key rotation partially completed: SK generated a new key but Tenants was not updated; operator must reconcile", err)
	}

	// Phase 4: swap. Only after Tenants confirms publication does the
	// in-process cache observe the new private key.
	if err := r.Cache.SetPrivateKey(tenantID, privateKey); err != nil {
		return Result{}, apperr.Internal("failed to swap new private key into tenant cache", err)
	}

	log.Info().Str("tenant", tenantID).Msg("key rotation complete")
	return Result{PublicKeyPEM: publicKey}, nil
}
