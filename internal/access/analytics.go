package access

import (
	"context"
	"time"

	"vendoraccess.org/internal/audit"
)

const (
	analyticsWindow   = 24 * time.Hour
	highRiskThreshold = 60
)

// Summary is the dashboard aggregate over vendors, grants, tokens, sessions
// and the trailing day of audit activity.
type Summary struct {
	GeneratedAt         time.Time              `json:"generated_at"`
	VendorsByStatus     map[VendorStatus]int   `json:"vendors_by_status"`
	GrantsByStatus      map[GrantStatus]int    `json:"grants_by_status"`
	ActiveTokens        int                    `json:"active_tokens"`
	ActiveSessions      int                    `json:"active_sessions"`
	EntriesBySeverity   map[audit.Severity]int `json:"entries_by_severity_24h"`
	HighRiskValidations int                    `json:"high_risk_validations_24h"`
}

// Summary computes the analytics aggregate. Grant counts use effective status.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	now := s.clock()
	out := Summary{
		GeneratedAt:       now,
		VendorsByStatus:   map[VendorStatus]int{},
		GrantsByStatus:    map[GrantStatus]int{},
		EntriesBySeverity: map[audit.Severity]int{},
	}
	vendors, err := s.store.ListVendors(ctx)
	if err != nil {
		return Summary{}, classify("list vendors", err)
	}
	for _, v := range vendors {
		out.VendorsByStatus[v.Status]++
	}
	grants, err := s.store.ListGrants(ctx, GrantFilter{})
	if err != nil {
		return Summary{}, classify("list grants", err)
	}
	for _, g := range grants {
		g = g.effective(now)
		out.GrantsByStatus[g.Status]++
		if g.Status != GrantActive {
			continue
		}
		tokens, err := s.store.ListTokens(ctx, g.ID)
		if err != nil {
			return Summary{}, classify("list tokens", err)
		}
		for _, t := range tokens {
			if t.Status == TokenActive && now.Before(t.ExpiresAt) {
				out.ActiveTokens++
			}
		}
	}
	sessions, err := s.store.ListSessions(ctx, SessionFilter{Status: SessionActive})
	if err != nil {
		return Summary{}, classify("list sessions", err)
	}
	for _, sess := range sessions {
		if now.Before(sess.ExpiresAt) {
			out.ActiveSessions++
		}
	}
	entries, err := s.store.ListActivity(ctx, ActivityFilter{Since: now.Add(-analyticsWindow)})
	if err != nil {
		return Summary{}, classify("list activity", err)
	}
	for _, e := range entries {
		out.EntriesBySeverity[e.Severity]++
		if e.Action == audit.ActionAccessValidate && e.RiskScore >= highRiskThreshold {
			out.HighRiskValidations++
		}
	}
	return out, nil
}

// ListSessions returns sessions matching f, newest first. Active sessions
// past their expiry read as expired.
func (s *Service) ListSessions(ctx context.Context, f SessionFilter) ([]VendorSession, error) {
	sessions, err := s.store.ListSessions(ctx, f)
	if err != nil {
		return nil, classify("list sessions", err)
	}
	now := s.clock()
	for i := range sessions {
		if sessions[i].Status == SessionActive && !now.Before(sessions[i].ExpiresAt) {
			sessions[i].Status = SessionExpired
		}
	}
	return sessions, nil
}

// ListActivity returns audit entries matching f, newest first.
func (s *Service) ListActivity(ctx context.Context, f ActivityFilter) ([]audit.Entry, error) {
	entries, err := s.store.ListActivity(ctx, f)
	if err != nil {
		return nil, classify("list activity", err)
	}
	return entries, nil
}

// RecordActivity persists an audit entry as vendor activity. It is the
// store sink of the audit recorder.
func (s *Service) RecordActivity(ctx context.Context, e audit.Entry) error {
	return classify("append activity", s.store.AppendActivity(ctx, e))
}
