package access

import (
	"context"
	"errors"
	"strings"
	"time"

	"vendoraccess.org/internal/audit"
	"vendoraccess.org/internal/ids"
	"vendoraccess.org/internal/obs"
)

// Denial reasons. Token-related reasons are recorded in the audit log and
// metrics only; callers see ReasonInvalidToken for all of them.
const (
	reasonUnknownToken     = "unknown_token"
	reasonTokenRevoked     = "token_revoked"
	reasonTokenExpired     = "token_expired"
	reasonTokenInactive    = "token_inactive"
	reasonGrantRevoked     = "grant_revoked"
	reasonGrantExpired     = "grant_expired"
	reasonVendorSuspended  = "vendor_suspended"
	reasonAddressDenied    = "address_not_allowed"
	reasonScopeExceeded    = "scope_exceeded"
	reasonMalformedRequest = "malformed_request"
	reasonInfrastructure   = "infrastructure_failure"
)

// Reasons returned to callers in Decision.Reason.
const (
	ReasonInvalidToken     = "invalid or expired token"
	ReasonInsufficientRole = "access outside granted scope"
	ReasonAddressDenied    = "address not allowed"
	ReasonMalformed        = "malformed request"
	ReasonUnavailable      = "authorization temporarily unavailable"
)

// AccessRequest is one vendor request to authorize.
type AccessRequest struct {
	RawToken  string
	Category  Category
	Level     Level
	Endpoint  string
	IPAddress string
	UserAgent string
}

// Decision is the outcome of ValidateAccess.
type Decision struct {
	Valid      bool       `json:"valid"`
	Reason     string     `json:"reason,omitempty"`
	VendorID   string     `json:"vendor_id,omitempty"`
	GrantID    string     `json:"grant_id,omitempty"`
	TokenID    string     `json:"token_id,omitempty"`
	SessionID  string     `json:"session_id,omitempty"`
	RiskScore  int        `json:"risk_score"`
	Categories []Category `json:"categories,omitempty"`
	Level      Level      `json:"access_level,omitempty"`
}

// Authorizer is the per-request authorization check offered to other services.
type Authorizer interface {
	ValidateAccess(ctx context.Context, req AccessRequest) Decision
}

var _ Authorizer = (*Service)(nil)

// ValidateAccess authorizes a vendor-presented token for (category, level).
// It never returns an error: infrastructure failures deny the request.
func (s *Service) ValidateAccess(ctx context.Context, req AccessRequest) Decision {
	hash := s.hashToken(strings.TrimSpace(req.RawToken))

	cat, errCat := ParseCategory(string(req.Category))
	lvl, errLvl := ParseLevel(string(req.Level))
	if errCat != nil || errLvl != nil {
		return s.deny(ctx, req, credential{}, reasonMalformedRequest)
	}
	req.Category, req.Level = cat, lvl

	check, err := s.validateAccessToken(ctx, hash)
	if err != nil {
		return s.failClosed(ctx, req, check.cred, err)
	}
	if !check.Valid {
		return s.deny(ctx, req, check.cred, check.Reason)
	}
	cred := check.cred
	if !addressAllowed(cred.grant, req.IPAddress) {
		return s.deny(ctx, req, cred, reasonAddressDenied)
	}
	if !cred.grant.Authorizes(req.Category, req.Level) {
		return s.deny(ctx, req, cred, reasonScopeExceeded)
	}

	now := s.clock()
	expires := now.Add(s.sessionTTL)
	if cred.token.ExpiresAt.Before(expires) {
		expires = cred.token.ExpiresAt
	}
	res, err := retry(ctx, s, func(ctx context.Context) (SessionResult, error) {
		ctx, cancel := s.withTimeout(ctx)
		defer cancel()
		res, err := s.store.TouchSession(ctx, SessionTouch{
			NewID:     ids.New(),
			VendorID:  cred.vendor.ID,
			TokenID:   cred.token.ID,
			IPAddress: req.IPAddress,
			UserAgent: req.UserAgent,
			At:        now,
			ExpiresAt: expires,
		})
		return res, classify("touch session", err)
	})
	if errors.Is(err, ErrTokenInactive) {
		s.cache.invalidate()
		return s.deny(ctx, req, cred, reasonTokenInactive)
	}
	if err != nil {
		return s.failClosed(ctx, req, cred, err)
	}

	score := riskScore(riskSignals{
		Category: req.Category,
		Level:    req.Level,
		IPChange: res.OtherAddresses > 0,
		OffHours: s.outsideHistory(ctx, cred.vendor.ID, res.Session.ID, now),
		Velocity: s.velocity.exceeded(cred.token.ID),
	})
	obs.ObserveValidation(true, "")
	obs.ObserveRisk(score)
	s.log(ctx, audit.Entry{
		Action:    audit.ActionAccessValidate,
		Severity:  audit.SeverityForRisk(score),
		Outcome:   "allowed",
		VendorID:  cred.vendor.ID,
		GrantID:   cred.grant.ID,
		TokenID:   cred.token.ID,
		SessionID: res.Session.ID,
		IPAddress: req.IPAddress,
		Endpoint:  req.Endpoint,
		RiskScore: score,
		Metadata: map[string]string{
			"category":       string(req.Category),
			"access_level":   string(req.Level),
			"session_opened": boolString(res.Created),
		},
	})
	return Decision{
		Valid:      true,
		VendorID:   cred.vendor.ID,
		GrantID:    cred.grant.ID,
		TokenID:    cred.token.ID,
		SessionID:  res.Session.ID,
		RiskScore:  score,
		Categories: append([]Category(nil), cred.grant.Categories...),
		Level:      cred.grant.Level,
	}
}

// outsideHistory is best effort; a failed history read contributes nothing.
func (s *Service) outsideHistory(ctx context.Context, vendorID, sessionID string, now time.Time) bool {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	history, err := s.store.ListSessions(ctx, SessionFilter{VendorID: vendorID, Limit: historyWindow})
	if err != nil {
		return false
	}
	return offHours(history, sessionID, now)
}

func (s *Service) deny(ctx context.Context, req AccessRequest, cred credential, reason string) Decision {
	obs.ObserveValidation(false, reason)
	e := audit.Entry{
		Action:    audit.ActionAccessValidate,
		Severity:  audit.SeverityMedium,
		Outcome:   "denied",
		Reason:    reason,
		IPAddress: req.IPAddress,
		Endpoint:  req.Endpoint,
		Metadata: map[string]string{
			"category":     string(req.Category),
			"access_level": string(req.Level),
		},
	}
	if reason != reasonUnknownToken {
		e.VendorID = cred.vendor.ID
		e.GrantID = cred.grant.ID
		e.TokenID = cred.token.ID
	}
	s.log(ctx, e)
	return Decision{Valid: false, Reason: publicReason(reason)}
}

func (s *Service) failClosed(ctx context.Context, req AccessRequest, cred credential, err error) Decision {
	obs.ObserveValidation(false, reasonInfrastructure)
	s.log(ctx, audit.Entry{
		Action:    audit.ActionInfrastructure,
		Severity:  audit.SeverityHigh,
		Outcome:   "denied",
		Reason:    err.Error(),
		VendorID:  cred.vendor.ID,
		GrantID:   cred.grant.ID,
		TokenID:   cred.token.ID,
		IPAddress: req.IPAddress,
		Endpoint:  req.Endpoint,
	})
	return Decision{Valid: false, Reason: ReasonUnavailable}
}

func publicReason(reason string) string {
	switch reason {
	case reasonAddressDenied:
		return ReasonAddressDenied
	case reasonScopeExceeded:
		return ReasonInsufficientRole
	case reasonMalformedRequest:
		return ReasonMalformed
	case reasonInfrastructure:
		return ReasonUnavailable
	}
	return ReasonInvalidToken
}

func errorUnlessNotFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
