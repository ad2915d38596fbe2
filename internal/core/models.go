// Package core defines the domain types and collaborator interfaces
// shared across the service: the tenant cache entry, the two claim
// shapes, the authorization context, and a Clock abstraction so time can
// be faked in tests — the same role auth/core/interfaces.go's Clock
// plays in the teacher.
package core

import "time"

// TenantStatus is the lifecycle state of a cached Tenant.
type TenantStatus string

const (
	TenantActive   TenantStatus = "ACTIVE"
	TenantDraft    TenantStatus = "DRAFT"
	TenantInactive TenantStatus = "INACTIVE"
)

// Tenant is a tenant-cache entry (C1). A Tenant returned from the cache
// is a snapshot; callers must not mutate it.
type Tenant struct {
	TenantID        string
	SiteID          string
	Issuer          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	PrivateKeyPEM   string
	PublicKeyPEM    string
	Status          TenantStatus
}

// ReservedClaimNames is the single source of truth for names that may
// never appear as a caller-supplied extra claim. It is consulted during
// claim derivation (internal/tokenmodel), which is where caller-supplied
// claims are validated; internal/api passes them through unchecked.
var ReservedClaimNames = map[string]struct{}{
	"jti":         {},
	"iss":         {},
	"sub":         {},
	"tenant":      {},
	"target_site": {},
	"username":    {},
	"account_type": {},
	"exp":         {},
}

// AccountType discriminates a user principal from a service principal.
type AccountType string

const (
	AccountUser    AccountType = "user"
	AccountService AccountType = "service"
)

// AccessTokenClaims is the tagged-variant claim bag for access tokens.
// Extra is the overflow map for caller-supplied claims — never reused
// for refresh tokens, which carry their own RefreshTokenClaims type.
type AccessTokenClaims struct {
	JTI      string
	Iss      string
	Sub      string
	Exp      time.Time

	TenantID      string
	TokenType     string // always "access"
	Username      string
	AccountType   AccountType
	Delegation    bool
	DelegationSub *string
	TargetSite    *string // required iff AccountType == AccountService

	Extra map[string]interface{}

	// TTL is the lifetime this token was minted with; carried alongside
	// the claims (not part of the JWT payload itself beyond Exp) so
	// refresh-token derivation can reference it without recomputing.
	TTL time.Duration
}

// RefreshTokenClaims is the tagged-variant claim bag for refresh tokens.
// It intentionally has no Username/AccountType/Delegation*/TargetSite/Extra
// fields: a refresh token must never validate as an access token.
type RefreshTokenClaims struct {
	JTI string
	Iss string
	Sub string
	Exp time.Time

	TenantID    string
	TokenType   string // always "refresh"
	InitialTTL  time.Duration
	AccessToken AccessTokenSnapshot
}

// AccessTokenSnapshot is the companion access token embedded in a refresh
// token: its claims minus Exp, plus its TTL.
type AccessTokenSnapshot struct {
	TenantID      string
	Username      string
	AccountType   AccountType
	Delegation    bool
	DelegationSub *string
	TargetSite    *string
	Extra         map[string]interface{}
	TTL           time.Duration
}

// AuthContext is derived during the authz gate (C4) and consumed by its
// policy predicates and by C5's handlers.
type AuthContext struct {
	CallerUsername    string
	CallerTenantID    string
	CallerAccountType AccountType
	Endpoint          string
	TargetTenantID    string
	TargetUsername    string
}

// Clock abstracts wall-clock time so tests can control it, mirroring
// auth/core/interfaces.go's Clock/RealClock pair.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock with time.Now.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

// AuditEvent is one row in the administrative audit trail (supplement;
// see DESIGN.md internal/audit).
type AuditEvent struct {
	ID        string
	TenantID  string
	ActorType string // "user" | "service"
	ActorID   string
	EventType string // "mint" | "refresh" | "revoke" | "rotate"
	CreatedAt time.Time
	Detail    map[string]interface{}
}
