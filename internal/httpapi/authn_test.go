package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"vendoraccess.org/internal/access"
	"vendoraccess.org/internal/auth"
)

func TestRequireRoleAllowsMatchingRole(t *testing.T) {
	handler := RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/internal", nil)
	req = req.WithContext(auth.ContextWithUser(req.Context(), "user-1", []string{"admin"}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRequireRoleRejectsMissingRole(t *testing.T) {
	handler := RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/internal", nil)
	req = req.WithContext(auth.ContextWithUser(req.Context(), "user-1", []string{"viewer"}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if got := rr.Header().Get("WWW-Authenticate"); got == "" {
		t.Fatalf("expected WWW-Authenticate header set")
	}
}

func TestRequireRoleRejectsMissingUser(t *testing.T) {
	handler := RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/internal", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if got := rr.Header().Get("WWW-Authenticate"); got == "" {
		t.Fatalf("expected WWW-Authenticate header set")
	}
}

func TestWithAuthRejectsExpiredToken(t *testing.T) {
	past := time.Now().Add(-2 * time.Hour)
	old, err := auth.NewSigner(testSecret, auth.WithClock(func() time.Time { return past }))
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	token, err := old.GenerateToken("admin-1", []string{auth.RoleAccessAdmin}, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	signer, err := auth.NewSigner(testSecret)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	a := &API{signer: signer}
	handler := a.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run for an expired token")
	}))
	req := httptest.NewRequest(http.MethodGet, "/v1/vendors", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

type stubAuthorizer struct {
	decision access.Decision
	got      access.AccessRequest
}

func (s *stubAuthorizer) ValidateAccess(_ context.Context, req access.AccessRequest) access.Decision {
	s.got = req
	return s.decision
}

func TestRequireVendorAccess(t *testing.T) {
	cases := []struct {
		name     string
		header   string
		decision access.Decision
		want     int
	}{
		{"missing token", "", access.Decision{}, http.StatusUnauthorized},
		{"allowed", "Bearer vat_abc", access.Decision{Valid: true, VendorID: "v1"}, http.StatusOK},
		{"invalid token", "Bearer vat_abc", access.Decision{Reason: access.ReasonInvalidToken}, http.StatusUnauthorized},
		{"out of scope", "Bearer vat_abc", access.Decision{Reason: access.ReasonInsufficientRole}, http.StatusForbidden},
		{"address", "Bearer vat_abc", access.Decision{Reason: access.ReasonAddressDenied}, http.StatusForbidden},
		{"unavailable", "Bearer vat_abc", access.Decision{Reason: access.ReasonUnavailable}, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stub := &stubAuthorizer{decision: tc.decision}
			handler := RequireVendorAccess(stub, access.CategoryFinancialReports, access.LevelReadOnly)(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					d, ok := VendorDecisionFromContext(r.Context())
					if !ok || d.VendorID != "v1" {
						t.Fatalf("decision missing from context: %+v", d)
					}
					w.WriteHeader(http.StatusOK)
				}))
			req := httptest.NewRequest(http.MethodGet, "/reports/q3", nil)
			req.RemoteAddr = "198.51.100.4:5555"
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rr.Code)
			}
			if tc.header != "" {
				if stub.got.RawToken != "vat_abc" || stub.got.Endpoint != "/reports/q3" || stub.got.IPAddress != "198.51.100.4" {
					t.Fatalf("unexpected request: %+v", stub.got)
				}
			}
		})
	}
}
