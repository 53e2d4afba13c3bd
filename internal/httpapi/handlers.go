package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"vendoraccess.org/internal/access"
	"vendoraccess.org/internal/auth"
	"vendoraccess.org/internal/obs"
	"vendoraccess.org/internal/stream"
)

const serviceName = "vendoraccess-api"

// ReadyProbe reports whether the API can serve traffic.
type ReadyProbe interface {
	Ping(ctx context.Context) error
}

// API is the HTTP layer over the vendor access core.
type API struct {
	mux        *http.ServeMux
	svc        *access.Service
	signer     *auth.Signer
	stream     *stream.Stream
	ready      ReadyProbe
	version    string
	rateBurst  int
	ratePerSec int
	maxBody    int64
	now        func() time.Time
}

// Option configures API.
type Option func(*API)

// WithSigner enables admin bearer authentication. Without a signer every
// protected route answers 503.
func WithSigner(s *auth.Signer) Option {
	return func(a *API) { a.signer = s }
}

// WithStream enables the live audit feed.
func WithStream(s *stream.Stream) Option {
	return func(a *API) { a.stream = s }
}

// WithReadyProbe overrides the readiness check (defaults to the service ping).
func WithReadyProbe(p ReadyProbe) Option {
	return func(a *API) {
		if p != nil {
			a.ready = p
		}
	}
}

// WithVersion sets the version reported by /healthz and /v1/info.
func WithVersion(v string) Option {
	return func(a *API) { a.version = v }
}

// WithRateLimit sets the per-client admin rate limit.
func WithRateLimit(burst, perSecond int) Option {
	return func(a *API) {
		if burst > 0 && perSecond > 0 {
			a.rateBurst, a.ratePerSec = burst, perSecond
		}
	}
}

// WithMaxBodyBytes bounds request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBody = n
		}
	}
}

func New(svc *access.Service, opts ...Option) *API {
	a := &API{
		mux:        http.NewServeMux(),
		svc:        svc,
		ready:      svc,
		version:    "dev",
		rateBurst:  20,
		ratePerSec: 10,
		maxBody:    1 << 20,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}

	// health/ready/info
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.routes()

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	return a
}

func (a *API) routes() {
	var (
		admin    = []string{auth.RoleAccessAdmin}
		readers  = []string{auth.RoleAccessAdmin, auth.RoleAuditor, auth.RoleSecurityOfficer}
		revokers = []string{auth.RoleAccessAdmin, auth.RoleSecurityOfficer}
		watchers = []string{auth.RoleAuditor, auth.RoleSecurityOfficer}
	)

	a.handle("POST /v1/vendors", a.registerVendor, admin...)
	a.handle("GET /v1/vendors", a.listVendors, readers...)
	a.handle("GET /v1/vendors/{id}", a.getVendor, readers...)
	a.handle("POST /v1/vendors/{id}/verification", a.completeVerification, admin...)
	a.handle("POST /v1/vendors/{id}/status", a.setVendorStatus, admin...)
	a.handle("POST /v1/vendors/{id}/revoke", a.revokeVendor, revokers...)

	a.handle("POST /v1/grants", a.createGrant, admin...)
	a.handle("GET /v1/grants", a.listGrants, append(readers, auth.RoleApprover)...)
	a.handle("GET /v1/grants/{id}", a.getGrant, append(readers, auth.RoleApprover)...)
	a.handle("POST /v1/grants/{id}/approve", a.approveGrant, auth.RoleApprover)
	a.handle("POST /v1/grants/{id}/deny", a.denyGrant, auth.RoleApprover)
	a.handle("POST /v1/grants/{id}/tokens", a.issueToken, admin...)
	a.handle("GET /v1/grants/{id}/tokens", a.listTokens, readers...)
	a.handle("POST /v1/grants/{id}/revoke", a.revokeGrant, revokers...)

	a.handle("POST /v1/emergency/revoke-all", a.emergencyRevoke, auth.RoleSecurityOfficer)
	a.handle("POST /v1/access/validate", a.validateAccess, auth.RoleService)

	a.handle("GET /v1/sessions", a.listSessions, readers...)
	a.handle("GET /v1/activity", a.listActivity, readers...)
	a.handle("GET /v1/analytics/summary", a.summary, readers...)
	a.handle("GET /v1/events/stream", a.Stream, watchers...)
}

// handle registers a route behind admin authentication and a role check.
func (a *API) handle(pattern string, fn http.HandlerFunc, roles ...string) {
	a.mux.Handle(pattern, a.withAuth(RequireRole(roles...)(fn)))
}

// Handler returns the full middleware chain around the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, a.maxBody)
	h = RateLimit(h, a.rateBurst, a.ratePerSec, unthrottledPaths...)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// Paths the admin rate limit never applies to. The emergency revoke is the
// break-glass control; validation carries other services' traffic.
var unthrottledPaths = []string{
	"/v1/emergency/revoke-all",
	"/v1/access/validate",
	"/healthz",
	"/readyz",
	"/metrics",
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.ready.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// Info publishes the closed category and level sets with their schema version.
func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":           serviceName,
		"time":           a.now().UTC().Format(time.RFC3339),
		"version":        a.version,
		"schema_version": access.SchemaVersion,
		"categories":     access.Categories,
		"access_levels":  access.Levels,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// writeServiceError maps the access error taxonomy onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, access.ErrValidation):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, access.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, access.ErrPolicy):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, access.ErrStateConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, access.ErrInfrastructure):
		obs.LogEvent("error", "request_failed", map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"path":       r.URL.Path,
			"error":      err,
		})
		writeError(w, r, http.StatusServiceUnavailable, "service temporarily unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// actor returns the authenticated admin identity.
func actor(r *http.Request) string {
	id, _ := auth.UserIDFromContext(r.Context())
	return id
}

func pathID(r *http.Request) string {
	return strings.TrimSpace(r.PathValue("id"))
}
