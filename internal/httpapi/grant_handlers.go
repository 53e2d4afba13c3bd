package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"vendoraccess.org/internal/access"
)

type createGrantRequest struct {
	VendorID          string            `json:"vendor_id"`
	Categories        []string          `json:"categories"`
	AccessLevel       string            `json:"access_level"`
	DurationHours     int               `json:"duration_hours"`
	Justification     string            `json:"justification"`
	Restrictions      map[string]string `json:"restrictions"`
	RequiredApprovers []string          `json:"required_approvers"`
}

type denyGrantRequest struct {
	Reason string `json:"reason"`
}

func (a *API) createGrant(w http.ResponseWriter, r *http.Request) {
	var req createGrantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	categories := make([]access.Category, 0, len(req.Categories))
	for _, c := range req.Categories {
		categories = append(categories, access.Category(c))
	}
	g, err := a.svc.CreateAccessGrant(r.Context(), access.GrantRequest{
		VendorID:          req.VendorID,
		Categories:        categories,
		Level:             access.Level(req.AccessLevel),
		DurationHours:     req.DurationHours,
		Justification:     req.Justification,
		Restrictions:      req.Restrictions,
		RequiredApprovers: req.RequiredApprovers,
		RequestedBy:       actor(r),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/grants/%s", g.ID))
	writeJSON(w, http.StatusCreated, g)
}

func (a *API) listGrants(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := access.GrantFilter{VendorID: strings.TrimSpace(q.Get("vendor_id"))}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		switch s := access.GrantStatus(strings.ToLower(raw)); s {
		case access.GrantPendingApproval, access.GrantActive, access.GrantExpired, access.GrantRevoked:
			f.Status = s
		default:
			writeError(w, r, http.StatusBadRequest, fmt.Sprintf("unknown grant status %q", raw))
			return
		}
	}
	grants, err := a.svc.ListGrants(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if grants == nil {
		grants = []access.AccessGrant{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": grants})
}

func (a *API) getGrant(w http.ResponseWriter, r *http.Request) {
	g, err := a.svc.GetGrant(r.Context(), pathID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// approveGrant records the caller's own approval; approvers cannot sign off
// on behalf of someone else.
func (a *API) approveGrant(w http.ResponseWriter, r *http.Request) {
	g, err := a.svc.ApproveAccessGrant(r.Context(), pathID(r), actor(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (a *API) denyGrant(w http.ResponseWriter, r *http.Request) {
	var req denyGrantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	id := pathID(r)
	if err := a.svc.DenyAccessGrant(r.Context(), id, actor(r), req.Reason); err != nil {
		writeServiceError(w, r, err)
		return
	}
	g, err := a.svc.GetGrant(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (a *API) issueToken(w http.ResponseWriter, r *http.Request) {
	tok, err := a.svc.GenerateAccessToken(r.Context(), pathID(r), actor(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusCreated, tok)
}

func (a *API) listTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := a.svc.ListTokens(r.Context(), pathID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if tokens == nil {
		tokens = []access.AccessToken{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": tokens})
}

func (a *API) revokeGrant(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	c, err := a.svc.RevokeGrant(r.Context(), pathID(r), actor(r), req.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newRevokeResponse(c))
}

func (a *API) emergencyRevoke(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	c, err := a.svc.EmergencyRevokeAllAccess(r.Context(), req.Reason, actor(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newRevokeResponse(c))
}
