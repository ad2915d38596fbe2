// Command tokensapi is the JWT issuance service's HTTP entrypoint: load
// configuration, run C3's bootstrap sequence, wire the remaining
// components by hand, and serve. Grounded on cmd/locky/main.go's
// explicit-construction main() — no dependency-injection framework.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"tokensapi/internal/api"
	"tokensapi/internal/audit"
	"tokensapi/internal/authz"
	"tokensapi/internal/bootstrap"
	"tokensapi/internal/config"
	"tokensapi/internal/core"
	"tokensapi/internal/logging"
	"tokensapi/internal/rotation"
	"tokensapi/internal/tokenmodel"
)

// tenantSeedFile is the on-disk JSON shape of cfg.TenantSeedsFile: the
// static metadata bootstrap needs before the Tenants registry can be
// queried for anything beyond status, grounded on the same seed-from-
// configuration idiom cmd/locky/main.go uses for its initial core.Config.
type tenantSeedFile struct {
	TenantID        string `json:"tenant_id"`
	SiteID          string `json:"site_id"`
	Issuer          string `json:"issuer"`
	AccessTokenTTL  int64  `json:"access_token_ttl_seconds"`
	RefreshTokenTTL int64  `json:"refresh_token_ttl_seconds"`
	PublicKeyPEM    string `json:"public_key_pem"`
	Status          string `json:"status"`
}

func loadSeeds(path string) (map[string]bootstrap.TenantSeed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var raw []tenantSeedFile
	if err := json.NewDecoder(f).Decode(&raw); err != nil {
		return nil, err
	}

	seeds := make(map[string]bootstrap.TenantSeed, len(raw))
	for _, r := range raw {
		status := core.TenantActive
		if r.Status != "" {
			status = core.TenantStatus(r.Status)
		}
		seeds[r.TenantID] = bootstrap.TenantSeed{
			TenantID:        r.TenantID,
			SiteID:          r.SiteID,
			Issuer:          r.Issuer,
			AccessTokenTTL:  time.Duration(r.AccessTokenTTL) * time.Second,
			RefreshTokenTTL: time.Duration(r.RefreshTokenTTL) * time.Second,
			PublicKeyPEM:    r.PublicKeyPEM,
			Status:          status,
		}
	}
	return seeds, nil
}

func main() {
	cfg := config.Load()
	logging.Initialize(cfg.LogLevel, cfg.LogPretty)
	log := logging.GetLogger()

	seeds, err := loadSeeds(cfg.TenantSeedsFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", cfg.TenantSeedsFile).Msg("failed to load tenant seeds")
	}

	ctx := context.Background()
	boot, err := bootstrap.Run(ctx, cfg, seeds)
	if err != nil {
		log.Fatal().Err(err).Msg("bootstrap failed")
	}

	var auditSink core.AuditSink
	if cfg.DatabaseURL != "" {
		store, err := audit.New(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to audit database")
		}
		if cfg.AutoMigrate {
			if err := store.AutoMigrate(); err != nil {
				log.Fatal().Err(err).Msg("failed to migrate audit database")
			}
		}
		auditSink = audit.NewSink(store)
	}

	clock := core.RealClock{}
	signer := tokenmodel.NewSigner(boot.Cache)
	deriver := tokenmodel.NewDeriver(boot.Cache, clock)
	minter := tokenmodel.NewMinter(deriver, signer)

	gate := &authz.Gate{
		SK:                      boot.SK,
		Tenants:                 boot.Tenants,
		Signer:                  signer,
		ServiceTenantID:         cfg.ServiceTenantID,
		ServiceSiteID:           cfg.ServiceSiteID,
		UseAllServicesPassword:  cfg.UseAllServicesPassword,
		AllServicesPassword:     cfg.AllServicesPassword,
		PrimarySiteAdminBaseURL: cfg.PrimarySiteAdminBaseURL,
	}

	rotator := &rotation.Rotator{
		SK:              boot.SK,
		Tenants:         boot.Tenants,
		Cache:           boot.Cache,
		ServiceTenantID: cfg.ServiceTenantID,
	}

	server := api.NewServer(boot.Cache, gate, minter, signer, rotator, boot.SiteRouter, auditSink, clock,
		cfg.ServiceTenantID, boot.ServiceTokens)

	log.Info().Str("addr", cfg.HTTPAddr).Msg("starting tokensapi")
	if err := http.ListenAndServe(cfg.HTTPAddr, server); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}
