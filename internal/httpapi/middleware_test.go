package httpapi

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"vendoraccess.org/internal/audit"
	"vendoraccess.org/internal/obs"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitPerClientWithExemptions(t *testing.T) {
	handler := RequestID(RateLimit(okHandler(), 1, 1, "/v1/emergency/revoke-all"))

	call := func(path, ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.RemoteAddr = ip + ":1234"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	if rr := call("/v1/vendors", "10.0.0.1"); rr.Code != http.StatusOK {
		t.Fatalf("expected first call 200, got %d", rr.Code)
	}
	limited := call("/v1/vendors", "10.0.0.1")
	if limited.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", limited.Code)
	}
	if limited.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
	var body map[string]any
	if err := json.Unmarshal(limited.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode rate limit body: %v", err)
	}
	if body["error"] == nil || body["request_id"] == nil {
		t.Fatalf("expected error and request_id in body, got %v", body)
	}

	if rr := call("/v1/vendors", "10.0.0.2"); rr.Code != http.StatusOK {
		t.Fatalf("other client must have its own bucket, got %d", rr.Code)
	}
	for i := 0; i < 5; i++ {
		if rr := call("/v1/emergency/revoke-all", "10.0.0.1"); rr.Code != http.StatusOK {
			t.Fatalf("exempt path throttled on call %d: %d", i, rr.Code)
		}
	}
}

func TestRequestIDPropagatesOrReplaces(t *testing.T) {
	var seen, seenAudit string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
		seenAudit = audit.RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/vendors", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if seen != "req-123" || seenAudit != "req-123" || rr.Header().Get("X-Request-ID") != "req-123" {
		t.Fatalf("inbound id not propagated: ctx=%q audit=%q header=%q", seen, seenAudit, rr.Header().Get("X-Request-ID"))
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/vendors", nil)
	req.Header.Set("X-Request-ID", "bad id\nwith newline")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if seen == "" || strings.Contains(seen, " ") {
		t.Fatalf("expected a minted id, got %q", seen)
	}
	if rr.Header().Get("X-Request-ID") != seen {
		t.Fatalf("header %q does not match context %q", rr.Header().Get("X-Request-ID"), seen)
	}
}

func TestLoggingJSONEmitsStructuredEntry(t *testing.T) {
	var buf bytes.Buffer
	prev := obs.Logger()
	obs.SetOutput(log.New(&buf, "", 0))
	defer obs.SetOutput(prev)

	handler := RequestID(LoggingJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})))

	req := httptest.NewRequest(http.MethodPost, "/v1/grants/01H/approve", nil)
	req.Header.Set("User-Agent", "middleware-test")
	req.RemoteAddr = "127.0.0.1:1234"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	line := strings.TrimSpace(buf.String())
	if line == "" {
		t.Fatal("expected log line")
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log is not valid JSON: %v", err)
	}
	for _, key := range []string{"ts", "level", "msg", "request_id", "method", "path", "status", "duration_ms", "remote_ip"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("expected key %q in log entry", key)
		}
	}
	if entry["msg"] != "request_complete" || entry["status"] != float64(http.StatusConflict) {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if strings.Contains(line, "Authorization") {
		t.Fatal("headers must not be logged")
	}
}

func TestSecurityHeadersAndBodyLimit(t *testing.T) {
	handler := SecurityHeaders(MaxBodyBytes(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var v map[string]any
		if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}), 16))

	req := httptest.NewRequest(http.MethodPost, "/v1/vendors", strings.NewReader(`{"name":"`+strings.Repeat("x", 64)+`"}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected oversized body to be rejected, got %d", rr.Code)
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" || rr.Header().Get("X-Frame-Options") != "DENY" {
		t.Fatalf("missing security headers: %v", rr.Header())
	}
}
