package access

import (
	"context"
	"testing"

	"vendoraccess.org/internal/audit"
)

func TestSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.verifiedVendor(t, "a@example.com")
	if _, err := f.svc.RegisterVendor(ctx, VendorRegistration{Email: "b@example.com", Name: "B", Company: "C", VendorType: "analytics"}); err != nil {
		t.Fatalf("RegisterVendor: %v", err)
	}
	g := f.activeGrant(t, v.ID, []Category{CategoryAnalytics}, LevelReadOnly, 4)
	tok := f.issue(t, g.ID)
	f.validate(tok.RawToken, CategoryAnalytics, LevelReadOnly)
	revoked := f.activeGrant(t, v.ID, []Category{CategoryCompliance}, LevelReadOnly, 4)
	if _, err := f.svc.RevokeGrant(ctx, revoked.ID, "sec-1", "done"); err != nil {
		t.Fatalf("RevokeGrant: %v", err)
	}
	for _, e := range f.audit.entries {
		if err := f.svc.RecordActivity(ctx, e); err != nil {
			t.Fatalf("RecordActivity: %v", err)
		}
	}

	s, err := f.svc.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if s.VendorsByStatus[VendorInactive] != 2 {
		t.Fatalf("vendors by status: %+v", s.VendorsByStatus)
	}
	if s.GrantsByStatus[GrantActive] != 1 || s.GrantsByStatus[GrantRevoked] != 1 {
		t.Fatalf("grants by status: %+v", s.GrantsByStatus)
	}
	if s.ActiveTokens != 1 || s.ActiveSessions != 1 {
		t.Fatalf("tokens=%d sessions=%d", s.ActiveTokens, s.ActiveSessions)
	}
	if s.EntriesBySeverity[audit.SeverityHigh] == 0 {
		t.Fatalf("expected HIGH entries: %+v", s.EntriesBySeverity)
	}

	activity, err := f.svc.ListActivity(ctx, ActivityFilter{VendorID: v.ID, Limit: 2})
	if err != nil || len(activity) != 2 {
		t.Fatalf("ListActivity: %v %d", err, len(activity))
	}
	if activity[0].Action != audit.ActionAccessRevoke {
		t.Fatalf("expected newest first, got %s", activity[0].Action)
	}
}
