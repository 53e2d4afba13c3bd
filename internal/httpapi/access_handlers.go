package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"vendoraccess.org/internal/access"
	"vendoraccess.org/internal/audit"
)

const maxListLimit = 500

type validateRequest struct {
	Token       string `json:"token"`
	Category    string `json:"category"`
	AccessLevel string `json:"access_level"`
	Endpoint    string `json:"endpoint"`
	IPAddress   string `json:"ip_address"`
	UserAgent   string `json:"user_agent"`
}

// validateAccess is the authorization check for services that cannot link
// the middleware. A denial is a normal 200 response with valid=false.
func (a *API) validateAccess(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	d := a.svc.ValidateAccess(r.Context(), access.AccessRequest{
		RawToken:  req.Token,
		Category:  access.Category(req.Category),
		Level:     access.Level(req.AccessLevel),
		Endpoint:  req.Endpoint,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
	})
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, d)
}

func (a *API) listSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"), 100)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	f := access.SessionFilter{
		VendorID: strings.TrimSpace(q.Get("vendor_id")),
		TokenID:  strings.TrimSpace(q.Get("token_id")),
		Limit:    limit,
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		switch s := access.SessionStatus(strings.ToLower(raw)); s {
		case access.SessionActive, access.SessionExpired, access.SessionTerminated:
			f.Status = s
		default:
			writeError(w, r, http.StatusBadRequest, fmt.Sprintf("unknown session status %q", raw))
			return
		}
	}
	sessions, err := a.svc.ListSessions(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []access.VendorSession{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": sessions})
}

func (a *API) listActivity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"), 100)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	f := access.ActivityFilter{VendorID: strings.TrimSpace(q.Get("vendor_id")), Limit: limit}
	if raw := strings.TrimSpace(q.Get("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		f.Since = since
	}
	entries, err := a.svc.ListActivity(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (a *API) summary(w http.ResponseWriter, r *http.Request) {
	s, err := a.svc.Summary(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func parseLimit(raw string, def int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, nil
}
