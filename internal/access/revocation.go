package access

import (
	"context"
	"fmt"
	"strings"

	"vendoraccess.org/internal/audit"
	"vendoraccess.org/internal/obs"
)

// RevokeTarget names what RevokeAccess applies to. Exactly one field is set.
type RevokeTarget struct {
	GrantID  string
	VendorID string
}

// RevokeAccess revokes a single grant or every grant of a vendor. When it
// returns nil, no token under the affected grants validates again.
func (s *Service) RevokeAccess(ctx context.Context, target RevokeTarget, revokedBy, reason string) (Cascade, error) {
	grantID := strings.TrimSpace(target.GrantID)
	vendorID := strings.TrimSpace(target.VendorID)
	switch {
	case grantID != "" && vendorID != "":
		return Cascade{}, &FieldError{Field: "target", Message: "grant_id and vendor_id are mutually exclusive"}
	case grantID != "":
		return s.revoke(ctx, RevokeScope{GrantID: grantID}, revokedBy, reason)
	case vendorID != "":
		return s.revoke(ctx, RevokeScope{VendorID: vendorID}, revokedBy, reason)
	}
	return Cascade{}, &FieldError{Field: "target", Message: "grant_id or vendor_id is required"}
}

// RevokeGrant revokes one grant, its tokens and sessions.
func (s *Service) RevokeGrant(ctx context.Context, grantID, revokedBy, reason string) (Cascade, error) {
	return s.RevokeAccess(ctx, RevokeTarget{GrantID: grantID}, revokedBy, reason)
}

// RevokeVendor revokes every grant of a vendor and suspends the vendor.
func (s *Service) RevokeVendor(ctx context.Context, vendorID, revokedBy, reason string) (Cascade, error) {
	return s.RevokeAccess(ctx, RevokeTarget{VendorID: vendorID}, revokedBy, reason)
}

// EmergencyRevokeAllAccess revokes every grant, token and session on the
// platform. It is never throttled and always leaves a CRITICAL audit entry,
// including when the cascade fails.
func (s *Service) EmergencyRevokeAllAccess(ctx context.Context, reason, revokedBy string) (Cascade, error) {
	c, err := s.revoke(ctx, RevokeScope{All: true}, revokedBy, reason)
	if err != nil {
		s.log(ctx, audit.Entry{
			Action:   audit.ActionEmergencyRevoke,
			Severity: audit.SeverityCritical,
			Outcome:  "failed",
			ActorID:  revokedBy,
			Reason:   fmt.Sprintf("%s: %v", reason, err),
		})
	}
	return c, err
}

func (s *Service) revoke(ctx context.Context, scope RevokeScope, revokedBy, reason string) (Cascade, error) {
	revokedBy = strings.TrimSpace(revokedBy)
	if revokedBy == "" {
		return Cascade{}, &FieldError{Field: "revoked_by", Message: "is required"}
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Cascade{}, &FieldError{Field: "reason", Message: "is required"}
	}
	rev := Revocation{RevokedAt: s.clock(), RevokedBy: revokedBy, Reason: reason}
	c, err := retry(ctx, s, func(ctx context.Context) (Cascade, error) {
		c, err := s.store.Revoke(ctx, scope, rev)
		return c, classify("revoke", err)
	})
	if err != nil {
		return Cascade{}, err
	}
	s.cache.invalidate()
	obs.ObserveRevocation(scope.label(), len(c.GrantIDs))

	e := audit.Entry{
		Action:   audit.ActionAccessRevoke,
		Severity: audit.SeverityHigh,
		Outcome:  "revoked",
		ActorID:  revokedBy,
		GrantID:  scope.GrantID,
		VendorID: scope.VendorID,
		Reason:   reason,
		Metadata: map[string]string{
			"scope":    scope.label(),
			"grants":   fmt.Sprint(len(c.GrantIDs)),
			"tokens":   fmt.Sprint(c.Tokens),
			"sessions": fmt.Sprint(c.Sessions),
		},
	}
	if scope.GrantID != "" {
		if g, err := s.store.GetGrant(ctx, scope.GrantID); err == nil {
			e.VendorID = g.VendorID
		}
	}
	if scope.All {
		e.Action = audit.ActionEmergencyRevoke
		e.Severity = audit.SeverityCritical
	}
	s.log(ctx, e)
	return c, nil
}
