package auth

import (
	"context"
	"slices"
	"strings"
	"testing"
	"time"
)

var testSecret = []byte(strings.Repeat("s", 32))

func TestSignerGenerateAndValidate(t *testing.T) {
	s, err := NewSigner(testSecret, WithIssuer("test-issuer"))
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	token, err := s.GenerateToken("user-42", []string{"Approver", "auditor", "approver"}, 30*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	claims, err := s.ParseAndValidate(token)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if claims.Subject != "user-42" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.Issuer != "test-issuer" {
		t.Fatalf("unexpected issuer: %s", claims.Issuer)
	}
	if claims.ID == "" {
		t.Fatalf("expected jti")
	}
	if len(claims.Roles) != 2 || !slices.Contains(claims.Roles, "approver") || !slices.Contains(claims.Roles, "auditor") {
		t.Fatalf("roles were not preserved: %v", claims.Roles)
	}
}

func TestSignerRejects(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s, err := NewSigner(testSecret, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	token, err := s.GenerateToken("user-1", nil, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	other, _ := NewSigner([]byte(strings.Repeat("x", 32)))
	if _, err := other.ParseAndValidate(token); err != ErrInvalidToken {
		t.Fatalf("expected signature mismatch, got %v", err)
	}
	foreign, _ := NewSigner(testSecret, WithIssuer("elsewhere"), WithClock(func() time.Time { return now }))
	if _, err := foreign.ParseAndValidate(token); err != ErrInvalidToken {
		t.Fatalf("expected issuer mismatch, got %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := s.ParseAndValidate(token); err != ErrInvalidToken {
		t.Fatalf("expected expired token, got %v", err)
	}
	if _, err := s.ParseAndValidate("  "); err != ErrInvalidToken {
		t.Fatalf("expected empty token rejection, got %v", err)
	}
}

func TestNewSignerRequiresLongSecret(t *testing.T) {
	if _, err := NewSigner([]byte("short")); err == nil {
		t.Fatalf("expected error for short secret")
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = ContextWithUser(ctx, "user-7", []string{"Auditor", "Auditor", "approver"})
	id, ok := UserIDFromContext(ctx)
	if !ok || id != "user-7" {
		t.Fatalf("unexpected user id: %s, ok=%v", id, ok)
	}
	roles := RolesFromContext(ctx)
	if len(roles) != 2 {
		t.Fatalf("expected deduplicated roles, got %v", roles)
	}
	if !HasRole(ctx, RoleApprover) || !HasRole(ctx, RoleAuditor) {
		t.Fatalf("HasRole missing expected roles: %v", roles)
	}
	if HasRole(ctx, RoleSecurityOfficer) {
		t.Fatalf("unexpected role found")
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"Bearer ":      "",
		"":             "",
	}
	for in, want := range cases {
		got, ok := BearerToken(in)
		if got != want || ok != (want != "") {
			t.Fatalf("BearerToken(%q) = %q, %v", in, got, ok)
		}
	}
}
