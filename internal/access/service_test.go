package access

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"vendoraccess.org/internal/audit"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingAuditor struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *recordingAuditor) Log(_ context.Context, e audit.Entry) {
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
}

func (r *recordingAuditor) byAction(action string) []audit.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []audit.Entry
	for _, e := range r.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

func (r *recordingAuditor) contains(secret string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if strings.Contains(e.Reason, secret) {
			return true
		}
		for _, v := range e.Metadata {
			if strings.Contains(v, secret) {
				return true
			}
		}
	}
	return false
}

type fixture struct {
	svc   *Service
	store *MemoryStore
	clock *fakeClock
	audit *recordingAuditor
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{store: NewMemoryStore(), clock: newFakeClock(), audit: &recordingAuditor{}}
	base := []Option{
		WithClock(f.clock.Now),
		WithAuditor(f.audit),
		WithHashKey(testKey),
		WithRetryBackoff(0),
		WithCacheTTL(0),
	}
	svc, err := NewService(f.store, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	f.svc = svc
	return f
}

func (f *fixture) verifiedVendor(t *testing.T, email string) VendorProfile {
	t.Helper()
	ctx := context.Background()
	v, err := f.svc.RegisterVendor(ctx, VendorRegistration{
		Email:      email,
		Name:       "Ada Reviewer",
		Company:    "Moderation Co",
		VendorType: string(VendorContentModeration),
		Clearance:  LevelEmergency,
	})
	if err != nil {
		t.Fatalf("RegisterVendor: %v", err)
	}
	v, err = f.svc.CompleteVerification(ctx, v.ID, VerificationUpdate{
		BackgroundCheckPassed:       true,
		NDASigned:                   true,
		ComplianceTrainingCompleted: true,
	})
	if err != nil {
		t.Fatalf("CompleteVerification: %v", err)
	}
	return v
}

func (f *fixture) activeGrant(t *testing.T, vendorID string, cats []Category, level Level, hours int) AccessGrant {
	t.Helper()
	g, err := f.svc.CreateAccessGrant(context.Background(), GrantRequest{
		VendorID:      vendorID,
		Categories:    cats,
		Level:         level,
		DurationHours: hours,
		Justification: "quarterly moderation backlog",
		RequestedBy:   "admin-1",
	})
	if err != nil {
		t.Fatalf("CreateAccessGrant: %v", err)
	}
	if g.Status != GrantActive {
		t.Fatalf("expected active grant, got %s", g.Status)
	}
	return g
}

func (f *fixture) issue(t *testing.T, grantID string) IssuedToken {
	t.Helper()
	tok, err := f.svc.GenerateAccessToken(context.Background(), grantID, "admin-1")
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}
	return tok
}

func (f *fixture) validate(raw string, c Category, l Level) Decision {
	return f.svc.ValidateAccess(context.Background(), AccessRequest{
		RawToken:  raw,
		Category:  c,
		Level:     l,
		Endpoint:  "/moderation/queue",
		IPAddress: "203.0.113.10",
		UserAgent: "test",
	})
}

func TestNewServiceRequiresHashKey(t *testing.T) {
	if _, err := NewService(NewMemoryStore()); err == nil {
		t.Fatalf("expected error without hash key")
	}
	if _, err := NewService(NewMemoryStore(), WithHashKey([]byte("short"))); err == nil {
		t.Fatalf("expected error for short hash key")
	}
	if _, err := NewService(nil, WithHashKey(testKey)); err == nil {
		t.Fatalf("expected error without store")
	}
}

func TestRetryOnlyRetriesInfrastructureOnce(t *testing.T) {
	f := newFixture(t)
	calls := 0
	_, err := retry(context.Background(), f.svc, func(context.Context) (int, error) {
		calls++
		return 0, ErrInfrastructure
	})
	if !errors.Is(err, ErrInfrastructure) || calls != 2 {
		t.Fatalf("calls=%d err=%v", calls, err)
	}
	calls = 0
	_, err = retry(context.Background(), f.svc, func(context.Context) (int, error) {
		calls++
		return 0, ErrPolicy
	})
	if !errors.Is(err, ErrPolicy) || calls != 1 {
		t.Fatalf("expected policy error not retried, calls=%d", calls)
	}
}

func TestClassifyWrapsUnknownErrors(t *testing.T) {
	err := classify("op", errors.New("boom"))
	if !errors.Is(err, ErrInfrastructure) {
		t.Fatalf("expected infrastructure error, got %v", err)
	}
	fe := &FieldError{Field: "email", Message: "x"}
	if got := classify("op", fe); got != fe {
		t.Fatalf("expected field error kept, got %v", got)
	}
	if classify("op", nil) != nil {
		t.Fatalf("nil must stay nil")
	}
}
