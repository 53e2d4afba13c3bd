package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"vendoraccess.org/internal/access"
	"vendoraccess.org/internal/auth"
)

type client struct {
	base string
	http *http.Client
}

func (c *client) do(ctx context.Context, token, method, path string, body, out any) int {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			log.Fatalf("encode %s %s: %v", method, path, err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		log.Fatalf("request %s %s: %v", method, path, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			log.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (c *client) must(ctx context.Context, token, method, path string, body, out any) {
	if code := c.do(ctx, token, method, path, body, out); code >= 300 {
		log.Fatalf("%s %s: unexpected status %d", method, path, code)
	}
}

func main() {
	base := flag.String("base", "http://localhost:8080", "API base URL")
	flag.Parse()

	signer, err := auth.NewSigner([]byte(os.Getenv("VENDORACCESS_AUTH_SECRET")))
	if err != nil {
		log.Fatalf("signer: %v", err)
	}
	mint := func(sub string, roles ...string) string {
		tok, err := signer.GenerateToken(sub, roles, 15*time.Minute)
		if err != nil {
			log.Fatalf("mint %s: %v", sub, err)
		}
		return tok
	}
	admin := mint("smoke-admin", auth.RoleAccessAdmin)
	approver := mint("smoke-approver", auth.RoleApprover)
	service := mint("smoke-service", auth.RoleService)

	c := &client{base: *base, http: &http.Client{Timeout: 5 * time.Second}}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var vendor access.VendorProfile
	c.must(ctx, admin, http.MethodPost, "/v1/vendors", map[string]any{
		"email":        fmt.Sprintf("smoke-%d@example.com", time.Now().UnixNano()),
		"name":         "Smoke Vendor",
		"company":      "Smoke Co",
		"vendor_type":  "analytics",
		"contact_info": map[string]string{"phone": "+1-555-0100"},
	}, &vendor)
	c.must(ctx, admin, http.MethodPost, "/v1/vendors/"+vendor.ID+"/verification", map[string]bool{
		"background_check_passed":       true,
		"nda_signed":                    true,
		"compliance_training_completed": true,
	}, &vendor)
	if vendor.Status != access.VendorActive {
		log.Fatalf("vendor not active after verification: %s", vendor.Status)
	}

	var grant access.AccessGrant
	c.must(ctx, admin, http.MethodPost, "/v1/grants", map[string]any{
		"vendor_id":          vendor.ID,
		"categories":         []access.Category{access.CategoryFinancialReports},
		"access_level":       access.LevelReadOnly,
		"duration_hours":     1,
		"justification":      "smoke test",
		"required_approvers": []string{"smoke-approver"},
	}, &grant)
	c.must(ctx, approver, http.MethodPost, "/v1/grants/"+grant.ID+"/approve", nil, &grant)
	if grant.Status != access.GrantActive {
		log.Fatalf("grant not active after approval: %s", grant.Status)
	}

	var issued access.IssuedToken
	c.must(ctx, admin, http.MethodPost, "/v1/grants/"+grant.ID+"/tokens", nil, &issued)

	validate := func(level access.Level) access.Decision {
		var d access.Decision
		c.must(ctx, service, http.MethodPost, "/v1/access/validate", map[string]string{
			"token":        issued.RawToken,
			"category":     string(access.CategoryFinancialReports),
			"access_level": string(level),
			"endpoint":     "/reports/q3",
			"ip_address":   "203.0.113.10",
			"user_agent":   "vendoraccess-smoke",
		}, &d)
		return d
	}
	if d := validate(access.LevelReadOnly); !d.Valid {
		log.Fatalf("expected read-only access, got %q", d.Reason)
	}
	if d := validate(access.LevelAdmin); d.Valid {
		log.Fatal("admin access must be denied for a read-only grant")
	}

	c.must(ctx, admin, http.MethodPost, "/v1/grants/"+grant.ID+"/revoke", map[string]string{"reason": "smoke test complete"}, nil)
	if d := validate(access.LevelReadOnly); d.Valid {
		log.Fatal("token still valid after revocation")
	}

	fmt.Printf("✅ vendoraccess smoke test passed: vendor=%s grant=%s\n", vendor.ID, grant.ID)
}
