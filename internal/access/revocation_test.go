package access

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"vendoraccess.org/internal/audit"
)

func TestEmergencyRevokeAllAccess(t *testing.T) {
	f := newFixture(t, WithCacheTTL(time.Minute))
	ctx := context.Background()
	var tokens []string
	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		v := f.verifiedVendor(t, email)
		for _, cat := range []Category{CategoryAnalytics, CategoryEmergencyResponse} {
			g := f.activeGrant(t, v.ID, []Category{cat}, LevelAdmin, 12)
			tok := f.issue(t, g.ID)
			if d := f.validate(tok.RawToken, cat, LevelReadOnly); !d.Valid {
				t.Fatalf("expected valid before emergency revoke: %+v", d)
			}
			tokens = append(tokens, tok.RawToken)
		}
	}

	c, err := f.svc.EmergencyRevokeAllAccess(ctx, "credential dump detected", "sec-1")
	if err != nil {
		t.Fatalf("EmergencyRevokeAllAccess: %v", err)
	}
	if len(c.GrantIDs) != 6 || c.Tokens != 6 || c.Sessions != 6 {
		t.Fatalf("unexpected cascade: %+v", c)
	}
	for _, raw := range tokens {
		for _, cat := range []Category{CategoryAnalytics, CategoryEmergencyResponse} {
			if d := f.validate(raw, cat, LevelReadOnly); d.Valid {
				t.Fatalf("token valid after emergency revoke")
			}
		}
	}
	entries := f.audit.byAction(audit.ActionEmergencyRevoke)
	if len(entries) != 1 || entries[0].Severity != audit.SeverityCritical || entries[0].ActorID != "sec-1" {
		t.Fatalf("expected one CRITICAL entry, got %+v", entries)
	}

	// a second run finds nothing left but still reports and audits
	c, err = f.svc.EmergencyRevokeAllAccess(ctx, "drill", "sec-1")
	if err != nil || len(c.GrantIDs) != 0 {
		t.Fatalf("second emergency revoke: %+v %v", c, err)
	}
	if n := len(f.audit.byAction(audit.ActionEmergencyRevoke)); n != 2 {
		t.Fatalf("expected CRITICAL entry on every call, got %d", n)
	}
}

type failingRevokeStore struct {
	*MemoryStore
}

func (failingRevokeStore) Revoke(context.Context, RevokeScope, Revocation) (Cascade, error) {
	return Cascade{}, errors.New("deadlock detected")
}

func TestRevokeNeverFailsSilently(t *testing.T) {
	audits := &recordingAuditor{}
	svc, err := NewService(failingRevokeStore{NewMemoryStore()}, WithHashKey(testKey), WithAuditor(audits), WithRetryBackoff(0))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if _, err := svc.RevokeGrant(context.Background(), "g1", "sec-1", "leak"); !errors.Is(err, ErrInfrastructure) {
		t.Fatalf("expected infrastructure error, got %v", err)
	}
	if _, err := svc.EmergencyRevokeAllAccess(context.Background(), "breach", "sec-1"); !errors.Is(err, ErrInfrastructure) {
		t.Fatalf("expected infrastructure error, got %v", err)
	}
	entries := audits.byAction(audit.ActionEmergencyRevoke)
	if len(entries) != 1 || entries[0].Severity != audit.SeverityCritical || entries[0].Outcome != "failed" {
		t.Fatalf("expected CRITICAL failure entry, got %+v", entries)
	}
}

func TestRevokeValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.RevokeAccess(ctx, RevokeTarget{}, "sec-1", "x"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected missing target rejection, got %v", err)
	}
	if _, err := f.svc.RevokeAccess(ctx, RevokeTarget{GrantID: "g", VendorID: "v"}, "sec-1", "x"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ambiguous target rejection, got %v", err)
	}
	if _, err := f.svc.RevokeGrant(ctx, "g", "", "x"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected missing actor rejection, got %v", err)
	}
	if _, err := f.svc.RevokeGrant(ctx, "g", "sec-1", " "); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected missing reason rejection, got %v", err)
	}
	if _, err := f.svc.RevokeGrant(ctx, "missing", "sec-1", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRevokeVendorSuspendsAndCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.verifiedVendor(t, "a@example.com")
	other := f.verifiedVendor(t, "b@example.com")
	g1 := f.activeGrant(t, v.ID, []Category{CategoryAnalytics}, LevelReadOnly, 4)
	g2 := f.activeGrant(t, v.ID, []Category{CategoryCompliance}, LevelReadOnly, 4)
	keep := f.activeGrant(t, other.ID, []Category{CategoryAnalytics}, LevelReadOnly, 4)
	t1, t2, tk := f.issue(t, g1.ID), f.issue(t, g2.ID), f.issue(t, keep.ID)

	c, err := f.svc.RevokeVendor(ctx, v.ID, "sec-1", "offboarding")
	if err != nil {
		t.Fatalf("RevokeVendor: %v", err)
	}
	if len(c.GrantIDs) != 2 || c.Tokens != 2 {
		t.Fatalf("unexpected cascade: %+v", c)
	}
	got, _ := f.svc.GetVendor(ctx, v.ID)
	if got.Status != VendorSuspended {
		t.Fatalf("vendor not suspended: %s", got.Status)
	}
	if f.validate(t1.RawToken, CategoryAnalytics, LevelReadOnly).Valid || f.validate(t2.RawToken, CategoryCompliance, LevelReadOnly).Valid {
		t.Fatalf("revoked vendor token still valid")
	}
	if !f.validate(tk.RawToken, CategoryAnalytics, LevelReadOnly).Valid {
		t.Fatalf("other vendor affected by vendor-scoped revoke")
	}
}

func TestNoValidationSucceedsAfterRevokeReturns(t *testing.T) {
	f := newFixture(t, WithCacheTTL(time.Minute))
	ctx := context.Background()
	v := f.verifiedVendor(t, "a@example.com")
	g := f.activeGrant(t, v.ID, []Category{CategoryAnalytics}, LevelReadOnly, 4)
	tok := f.issue(t, g.ID)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					f.validate(tok.RawToken, CategoryAnalytics, LevelReadOnly)
				}
			}
		}()
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := f.svc.RevokeGrant(ctx, g.ID, "sec-1", "leak"); err != nil {
		t.Fatalf("RevokeGrant: %v", err)
	}
	for i := 0; i < 200; i++ {
		if d := f.validate(tok.RawToken, CategoryAnalytics, LevelReadOnly); d.Valid {
			t.Fatalf("validation succeeded after revoke returned")
		}
	}
	close(stop)
	wg.Wait()
}
