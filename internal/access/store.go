package access

import (
	"context"
	"time"

	"vendoraccess.org/internal/audit"
)

// Store is the persistence adapter consumed by the core.
//
// Update methods are compare-and-set: the caller passes the entity as it read
// it and the adapter rejects the write with ErrVersionConflict if the stored
// version moved on. Successful writes increment Version. Revoke and
// ExpireGrant cascade grant, token and session changes in one transaction.
type Store interface {
	CreateVendor(ctx context.Context, v VendorProfile) error
	GetVendor(ctx context.Context, id string) (VendorProfile, error)
	ListVendors(ctx context.Context) ([]VendorProfile, error)
	UpdateVendor(ctx context.Context, v VendorProfile) (VendorProfile, error)

	// CreateGrant fails with ErrVendorSuspended if the vendor is suspended at
	// write time; the check is atomic with respect to a vendor-wide Revoke.
	CreateGrant(ctx context.Context, g AccessGrant) error
	GetGrant(ctx context.Context, id string) (AccessGrant, error)
	ListGrants(ctx context.Context, f GrantFilter) ([]AccessGrant, error)
	UpdateGrant(ctx context.Context, g AccessGrant) (AccessGrant, error)
	// ExpireGrant moves an active grant past its window to expired and
	// expires its tokens and sessions.
	ExpireGrant(ctx context.Context, id string, version int64, at time.Time) (Cascade, error)

	// CreateToken inserts the token only if its grant is active at at,
	// returning ErrGrantInactive otherwise.
	CreateToken(ctx context.Context, t AccessToken, at time.Time) error
	FindTokenByHash(ctx context.Context, hash string) (AccessToken, error)
	ListTokens(ctx context.Context, grantID string) ([]AccessToken, error)

	// TouchSession refreshes or opens the session for a token and address. It
	// fails with ErrTokenInactive unless the token and its grant are active at
	// t.At, and that check is atomic with respect to Revoke.
	TouchSession(ctx context.Context, t SessionTouch) (SessionResult, error)
	ListSessions(ctx context.Context, f SessionFilter) ([]VendorSession, error)
	ExpireSessions(ctx context.Context, at time.Time) (int, error)

	Revoke(ctx context.Context, scope RevokeScope, rev Revocation) (Cascade, error)

	AppendActivity(ctx context.Context, e audit.Entry) error
	ListActivity(ctx context.Context, f ActivityFilter) ([]audit.Entry, error)

	Ping(ctx context.Context) error
}

// GrantFilter narrows ListGrants. Zero values match everything.
type GrantFilter struct {
	VendorID string
	Status   GrantStatus
	// ActiveBefore selects active grants whose validity ended at or before the instant.
	ActiveBefore *time.Time
}

// SessionFilter narrows ListSessions. Zero values match everything.
type SessionFilter struct {
	VendorID string
	TokenID  string
	Status   SessionStatus
	Limit    int
}

// ActivityFilter narrows ListActivity.
type ActivityFilter struct {
	VendorID string
	Since    time.Time
	Limit    int
}

// SessionTouch describes a validated request to attach to a session.
type SessionTouch struct {
	NewID     string
	VendorID  string
	TokenID   string
	IPAddress string
	UserAgent string
	At        time.Time
	ExpiresAt time.Time
}

// SessionResult is the outcome of TouchSession.
type SessionResult struct {
	Session VendorSession
	Created bool
	// OtherAddresses counts active sessions of the same token from other IPs.
	OtherAddresses int
}

// RevokeScope selects what Revoke applies to. Exactly one of GrantID,
// VendorID or All is set.
type RevokeScope struct {
	GrantID  string
	VendorID string
	All      bool
}

func (s RevokeScope) label() string {
	switch {
	case s.All:
		return "all"
	case s.VendorID != "":
		return "vendor"
	default:
		return "grant"
	}
}

// Cascade counts the rows a revoke or expiry changed.
type Cascade struct {
	GrantIDs []string
	Tokens   int
	Sessions int
}
