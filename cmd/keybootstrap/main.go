// Command keybootstrap is the one-shot utility named in spec.md §1/§6:
// for each tenant on a newly provisioned site, generate a signing key
// pair in SK and publish the public half to the Tenants registry,
// writing a local copy for every associate site to pick up. Grounded on
// cmd/locky/main.go's flag/env wiring, adapted from a long-running
// server into a one-shot batch tool, reusing auth/http/admin.go's
// ListTenants/CreateTenant request shape for the SK/Tenants call
// sequence instead of an HTTP surface.
package main

import (
	"context"
	"os"
	"path/filepath"

	"tokensapi/internal/config"
	"tokensapi/internal/logging"
	"tokensapi/internal/skclient"
	"tokensapi/internal/tenantsclient"
)

func main() {
	cfg := config.Load()
	logging.Initialize(cfg.LogLevel, cfg.LogPretty)
	log := logging.GetLogger()

	if len(cfg.Tenants) == 0 {
		log.Fatal().Msg("keybootstrap: -tenants (or TENANTS) must list at least one tenant id")
	}
	if !cfg.ActuallyRunUpdates {
		log.Warn().Msg("ACTUALLY_RUN_UPDATES is not set: running in dry-run mode, no writes will occur")
	}

	// This tool runs before any cache exists and is invoked once, by an
	// operator, off the request path — its own client calls are
	// authenticated with the site-admin key directly rather than a
	// per-tenant service token minted through C3's bootstrap sequence.
	serviceToken := cfg.SiteAdminPrivateKey
	tokenFor := func(string) string { return serviceToken }

	sk := skclient.New(cfg.SKBaseURL, cfg.UpstreamTimeout, tokenFor)
	tenants := tenantsclient.New(cfg.TenantsBaseURL, cfg.UpstreamTimeout, tokenFor, cfg.ServiceTenantID)

	ctx := context.Background()
	var failures int
	for _, tenantID := range cfg.Tenants {
		if err := bootstrapTenantKey(ctx, sk, tenants, cfg, tenantID); err != nil {
			log.Error().Err(err).Str("tenant", tenantID).Msg("key bootstrap failed for tenant")
			failures++
			continue
		}
		log.Info().Str("tenant", tenantID).Bool("dry_run", !cfg.ActuallyRunUpdates).Msg("tenant signing key bootstrapped")
	}

	if failures > 0 {
		log.Fatal().Int("failures", failures).Msg("key bootstrap completed with failures")
	}
	log.Info().Int("tenants", len(cfg.Tenants)).Msg("key bootstrap complete")
}

// bootstrapTenantKey generates a fresh signing key pair for tenantID in
// SK, publishes the public half to the Tenants registry, and writes a
// local copy to <DATA_DIR>/<tenant>/pub.key for associate sites to pick
// up — entirely skipped when ACTUALLY_RUN_UPDATES is unset, matching the
// dry-run default named in spec.md §6.
func bootstrapTenantKey(ctx context.Context, sk *skclient.Client, tenants *tenantsclient.Client, cfg *config.Config, tenantID string) error {
	if !cfg.ActuallyRunUpdates {
		return nil
	}

	if err := sk.WriteSecret(ctx, "jwtsigning", "keys", tenantID, "tokens", map[string]string{
		"key": "privateKey", "value": "<generate-secret>",
	}); err != nil {
		return err
	}

	secrets, err := sk.ReadSecret(ctx, "jwtsigning", "keys", tenantID, "tokens")
	if err != nil {
		return err
	}
	publicKey := secrets["public_key"]

	if err := tenants.UpdateTenant(ctx, tenantID, publicKey); err != nil {
		return err
	}

	return writeAssociatePublicKey(cfg.DataDir, tenantID, publicKey)
}

func writeAssociatePublicKey(dataDir, tenantID, publicKeyPEM string) error {
	dir := filepath.Join(dataDir, tenantID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "pub.key"), []byte(publicKeyPEM), 0o644)
}
