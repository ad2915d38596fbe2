// Package config loads process configuration from flags with
// environment-variable defaults, the same pattern cmd/locky/main.go uses
// (no config-file parser, no config library).
package config

import (
	"flag"
	"os"
	"time"
)

// Config holds every parameter the service and the key-bootstrap utility
// need at startup.
type Config struct {
	// HTTP
	HTTPAddr string

	// Logging
	LogLevel  string
	LogPretty bool

	// Bootstrap (C3)
	ServiceTenantID     string
	ServiceSiteID       string
	SiteAdminPrivateKey string // PEM text, taken as-is from -site-admin-privatekey / SITE_ADMIN_PRIVATEKEY
	Tenants             []string // allow-list of tenant_ids this instance serves
	UseSK               bool
	UseAllServicesPassword bool
	AllServicesPassword    string
	PrimarySiteAdminBaseURL string

	// External collaborators
	SKBaseURL          string
	TenantsBaseURL     string
	SiteRouterBaseURL  string
	UpstreamTimeout    time.Duration

	// Audit trail persistence
	DatabaseURL string
	AutoMigrate bool

	// Key-bootstrap utility (cmd/keybootstrap)
	ActuallyRunUpdates bool
	DataDir            string

	// TenantSeedsFile points at a JSON file describing the static tenant
	// metadata (issuer, TTL defaults, site id, public key) bootstrap needs
	// before the cache can be populated from the Tenants registry itself.
	TenantSeedsFile string
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

// Load parses flags (with env-var defaults) into a Config. Call once
// from main; flag.Parse is invoked here.
func Load() *Config {
	var (
		httpAddr  = flag.String("http-addr", getEnv("HTTP_ADDR", ":8080"), "HTTP listen address")
		logLevel  = flag.String("log-level", getEnv("LOG_LEVEL", "info"), "zerolog level")
		logPretty = flag.Bool("log-pretty", getEnvBool("LOG_PRETTY", false), "console-pretty log output")

		serviceTenantID     = flag.String("service-tenant-id", getEnv("SERVICE_TENANT_ID", ""), "this instance's own service tenant")
		serviceSiteID       = flag.String("service-site-id", getEnv("SERVICE_SITE_ID", ""), "this instance's site id")
		siteAdminPrivateKey = flag.String("site-admin-privatekey", getEnv("SITE_ADMIN_PRIVATEKEY", ""), "PEM private key used to self-sign the bootstrap service token")
		tenantsCSV          = flag.String("tenants", getEnv("TENANTS", ""), "comma-separated allow-list of tenant ids served by this instance")
		useSK               = flag.Bool("use-sk", getEnvBool("USE_SK", true), "fetch tenant private keys from SK (false = dev mode)")
		useAllServicesPassword = flag.Bool("use-allservices-password", getEnvBool("USE_ALLSERVICES_PASSWORD", false), "accept the dev all-services password literal")
		allServicesPassword    = flag.String("allservices-password", getEnv("ALLSERVICES_PASSWORD", ""), "the dev all-services password literal")
		primarySiteAdminBaseURL = flag.String("primary-site-admin-base-url", getEnv("PRIMARY_SITE_ADMIN_BASE_URL", ""), "base URL whose substring 'develop' gates the dev password path")

		skBaseURL         = flag.String("sk-base-url", getEnv("SK_BASE_URL", ""), "Security Kernel base URL")
		tenantsBaseURL    = flag.String("tenants-base-url", getEnv("TENANTS_BASE_URL", ""), "Tenants registry base URL")
		siteRouterBaseURL = flag.String("site-router-base-url", getEnv("SITE_ROUTER_BASE_URL", ""), "site-router base URL")
		upstreamTimeout   = getEnvDuration("UPSTREAM_TIMEOUT", 10*time.Second)

		databaseURL = flag.String("database-url", getEnv("DATABASE_URL", "sqlite://tokens-audit.db"), "audit-trail database URL")
		autoMigrate = flag.Bool("auto-migrate", getEnvBool("AUTO_MIGRATE", true), "auto-run audit-trail migrations")

		actuallyRunUpdates = flag.Bool("actually-run-updates", getEnvBool("ACTUALLY_RUN_UPDATES", false), "key-bootstrap: actually write keys instead of dry-run")
		dataDir            = flag.String("data-dir", getEnv("DATA_DIR", "./data"), "key-bootstrap: directory for associate-site public keys")

		tenantSeedsFile = flag.String("tenant-seeds-file", getEnv("TENANT_SEEDS_FILE", "./tenants.json"), "JSON file describing static tenant metadata used at bootstrap")
	)
	flag.Parse()

	return &Config{
		HTTPAddr:  *httpAddr,
		LogLevel:  *logLevel,
		LogPretty: *logPretty,

		ServiceTenantID:     *serviceTenantID,
		ServiceSiteID:       *serviceSiteID,
		SiteAdminPrivateKey: *siteAdminPrivateKey,
		Tenants:             splitCSV(*tenantsCSV),
		UseSK:               *useSK,
		UseAllServicesPassword: *useAllServicesPassword,
		AllServicesPassword:    *allServicesPassword,
		PrimarySiteAdminBaseURL: *primarySiteAdminBaseURL,

		SKBaseURL:         *skBaseURL,
		TenantsBaseURL:    *tenantsBaseURL,
		SiteRouterBaseURL: *siteRouterBaseURL,
		UpstreamTimeout:   upstreamTimeout,

		DatabaseURL: *databaseURL,
		AutoMigrate: *autoMigrate,

		ActuallyRunUpdates: *actuallyRunUpdates,
		DataDir:            *dataDir,

		TenantSeedsFile: *tenantSeedsFile,
	}
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
