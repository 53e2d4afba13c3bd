package access

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"vendoraccess.org/internal/audit"
	"vendoraccess.org/internal/ids"
)

// GrantRequest is the input to CreateAccessGrant.
type GrantRequest struct {
	VendorID          string
	Categories        []Category
	Level             Level
	DurationHours     int
	Justification     string
	Restrictions      map[string]string
	RequiredApprovers []string
	RequestedBy       string
}

// CreateAccessGrant creates a grant for a verified vendor. With no required
// approvers the grant is active immediately; otherwise it waits for every
// listed approver.
func (s *Service) CreateAccessGrant(ctx context.Context, req GrantRequest) (AccessGrant, error) {
	categories, err := normalizeCategories(req.Categories)
	if err != nil {
		return AccessGrant{}, err
	}
	level, err := ParseLevel(string(req.Level))
	if err != nil {
		return AccessGrant{}, err
	}
	if req.DurationHours <= 0 {
		return AccessGrant{}, &FieldError{Field: "duration_hours", Message: "must be greater than zero"}
	}
	if req.DurationHours > s.maxGrantHours {
		return AccessGrant{}, &FieldError{Field: "duration_hours", Message: fmt.Sprintf("must not exceed %d", s.maxGrantHours)}
	}
	justification := strings.TrimSpace(req.Justification)
	if justification == "" {
		return AccessGrant{}, &FieldError{Field: "justification", Message: "is required"}
	}
	if err := validateRestrictions(req.Restrictions); err != nil {
		return AccessGrant{}, err
	}
	approvers := normalizeApprovers(req.RequiredApprovers)

	vendor, err := s.store.GetVendor(ctx, req.VendorID)
	if err != nil {
		return AccessGrant{}, classify("get vendor", err)
	}
	if err := grantEligible(vendor, level); err != nil {
		return AccessGrant{}, err
	}

	now := s.clock()
	g := AccessGrant{
		ID:            ids.New(),
		VendorID:      vendor.ID,
		Categories:    categories,
		Level:         level,
		Justification: justification,
		Restrictions:  copyStrings(req.Restrictions),
		Validity:      Validity{MaxDurationHours: req.DurationHours},
		Approval: ApprovalRecord{
			RequiredApprovers: approvers,
			Approvals:         []Approval{},
			Status:            ApprovalPending,
		},
		Status:    GrantPendingApproval,
		CreatedBy: req.RequestedBy,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if len(approvers) == 0 {
		g.Approval.Status = ApprovalApproved
		g.activate(now)
	}
	if err := s.store.CreateGrant(ctx, g); err != nil {
		return AccessGrant{}, classify("create grant", err)
	}

	sev := audit.SeverityMedium
	if g.Status == GrantActive {
		sev = audit.SeverityHigh
	}
	s.log(ctx, audit.Entry{
		Action:   audit.ActionGrantCreate,
		Severity: sev,
		Outcome:  string(g.Status),
		ActorID:  req.RequestedBy,
		VendorID: g.VendorID,
		GrantID:  g.ID,
		Reason:   justification,
		Metadata: map[string]string{
			"categories":     joinCategories(categories),
			"access_level":   string(level),
			"duration_hours": fmt.Sprint(req.DurationHours),
			"approvers":      strings.Join(approvers, ","),
		},
	})
	return g, nil
}

// ApproveAccessGrant records approverID's sign-off. A repeated approval by the
// same approver is a no-op. The grant activates once every required approver
// has approved.
func (s *Service) ApproveAccessGrant(ctx context.Context, grantID, approverID string) (AccessGrant, error) {
	approverID = strings.TrimSpace(approverID)
	if approverID == "" {
		return AccessGrant{}, &FieldError{Field: "approver_id", Message: "is required"}
	}
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		g, err := s.store.GetGrant(ctx, grantID)
		if err != nil {
			return AccessGrant{}, classify("get grant", err)
		}
		if g.Status != GrantPendingApproval {
			return AccessGrant{}, conflictError(fmt.Sprintf("grant is %s, not pending approval", g.effective(s.clock()).Status))
		}
		if !g.Approval.requires(approverID) {
			return AccessGrant{}, policyError("approver is not required for this grant")
		}
		if g.Approval.approvedBy(approverID) {
			return g, nil
		}

		now := s.clock()
		g.Approval.Approvals = append(g.Approval.Approvals, Approval{ApproverID: approverID, ApprovedAt: now})
		activated := false
		if g.Approval.satisfied() {
			vendor, err := s.store.GetVendor(ctx, g.VendorID)
			if err != nil {
				return AccessGrant{}, classify("get vendor", err)
			}
			if err := grantEligible(vendor, g.Level); err != nil {
				return AccessGrant{}, err
			}
			g.Approval.Status = ApprovalApproved
			g.activate(now)
			activated = true
		}
		g.UpdatedAt = now
		saved, err := s.store.UpdateGrant(ctx, g)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return AccessGrant{}, classify("update grant", err)
		}
		meta := map[string]string{
			"approvals": fmt.Sprintf("%d/%d", len(saved.Approval.Approvals), len(saved.Approval.RequiredApprovers)),
		}
		if activated {
			meta["valid_until"] = saved.Validity.End.Format(time.RFC3339)
		}
		s.log(ctx, audit.Entry{
			Action:   audit.ActionGrantApprove,
			Severity: audit.SeverityHigh,
			Outcome:  string(saved.Status),
			ActorID:  approverID,
			VendorID: saved.VendorID,
			GrantID:  saved.ID,
			Metadata: meta,
		})
		return saved, nil
	}
	return AccessGrant{}, conflictError("grant changed concurrently")
}

// DenyAccessGrant ends a pending grant on the word of any required approver.
func (s *Service) DenyAccessGrant(ctx context.Context, grantID, approverID, reason string) error {
	approverID = strings.TrimSpace(approverID)
	if approverID == "" {
		return &FieldError{Field: "approver_id", Message: "is required"}
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return &FieldError{Field: "reason", Message: "is required"}
	}
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		g, err := s.store.GetGrant(ctx, grantID)
		if err != nil {
			return classify("get grant", err)
		}
		if g.Status != GrantPendingApproval {
			return conflictError(fmt.Sprintf("grant is %s, not pending approval", g.effective(s.clock()).Status))
		}
		if !g.Approval.requires(approverID) {
			return policyError("approver is not required for this grant")
		}
		now := s.clock()
		g.Status = GrantRevoked
		g.Approval.Status = ApprovalDenied
		g.Approval.DeniedBy = approverID
		g.Approval.DenialReason = reason
		g.Revocation = &Revocation{RevokedAt: now, RevokedBy: approverID, Reason: reason}
		g.UpdatedAt = now
		if _, err := s.store.UpdateGrant(ctx, g); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				continue
			}
			return classify("update grant", err)
		}
		s.log(ctx, audit.Entry{
			Action:   audit.ActionGrantDeny,
			Severity: audit.SeverityHigh,
			Outcome:  "denied",
			ActorID:  approverID,
			VendorID: g.VendorID,
			GrantID:  g.ID,
			Reason:   reason,
		})
		return nil
	}
	return conflictError("grant changed concurrently")
}

// GetGrant returns the grant as currently in effect.
func (s *Service) GetGrant(ctx context.Context, grantID string) (AccessGrant, error) {
	g, err := s.store.GetGrant(ctx, grantID)
	if err != nil {
		return AccessGrant{}, classify("get grant", err)
	}
	return g.effective(s.clock()), nil
}

// ListGrants returns grants matching f as currently in effect. Filtering by
// status applies to the effective status.
func (s *Service) ListGrants(ctx context.Context, f GrantFilter) ([]AccessGrant, error) {
	want := f.Status
	if want == GrantExpired {
		f.Status = ""
	}
	grants, err := s.store.ListGrants(ctx, f)
	if err != nil {
		return nil, classify("list grants", err)
	}
	now := s.clock()
	out := make([]AccessGrant, 0, len(grants))
	for _, g := range grants {
		g = g.effective(now)
		if want != "" && g.Status != want {
			continue
		}
		out = append(out, g)
	}
	return out, nil
}

func (g *AccessGrant) activate(now time.Time) {
	start := now
	end := now.Add(time.Duration(g.Validity.MaxDurationHours) * time.Hour)
	g.Validity.Start = &start
	g.Validity.End = &end
	g.Status = GrantActive
}

func grantEligible(v VendorProfile, level Level) error {
	if v.Status == VendorSuspended {
		return ErrVendorSuspended
	}
	if !v.Verification.Complete() {
		return policyError("vendor not verified")
	}
	if !v.Clearance.Covers(level) {
		return policyError(fmt.Sprintf("access level %s exceeds vendor clearance %s", level, v.Clearance))
	}
	return nil
}

func normalizeCategories(in []Category) ([]Category, error) {
	if len(in) == 0 {
		return nil, &FieldError{Field: "categories", Message: "at least one category is required"}
	}
	seen := make(map[Category]struct{}, len(in))
	out := make([]Category, 0, len(in))
	for _, raw := range in {
		c, err := ParseCategory(string(raw))
		if err != nil {
			return nil, err
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func normalizeApprovers(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, a := range in {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}

func joinCategories(cs []Category) string {
	parts := make([]string, len(cs))
	for i, c := range cs {
		parts[i] = string(c)
	}
	return strings.Join(parts, ",")
}
