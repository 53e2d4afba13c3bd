package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"vendoraccess.org/internal/access"
)

type registerVendorRequest struct {
	Email             string            `json:"email"`
	Name              string            `json:"name"`
	Company           string            `json:"company"`
	VendorType        string            `json:"vendor_type"`
	ContactInfo       map[string]string `json:"contact_info"`
	SecurityClearance string            `json:"security_clearance"`
}

type verificationRequest struct {
	BackgroundCheckPassed       bool `json:"background_check_passed"`
	NDASigned                   bool `json:"nda_signed"`
	ComplianceTrainingCompleted bool `json:"compliance_training_completed"`
}

type vendorStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

type revokeResponse struct {
	GrantIDs []string `json:"revoked_grant_ids"`
	Tokens   int      `json:"revoked_tokens"`
	Sessions int      `json:"terminated_sessions"`
}

func newRevokeResponse(c access.Cascade) revokeResponse {
	ids := c.GrantIDs
	if ids == nil {
		ids = []string{}
	}
	return revokeResponse{GrantIDs: ids, Tokens: c.Tokens, Sessions: c.Sessions}
}

func (a *API) registerVendor(w http.ResponseWriter, r *http.Request) {
	var req registerVendorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	v, err := a.svc.RegisterVendor(r.Context(), access.VendorRegistration{
		Email:       req.Email,
		Name:        req.Name,
		Company:     req.Company,
		VendorType:  req.VendorType,
		ContactInfo: req.ContactInfo,
		Clearance:   access.Level(req.SecurityClearance),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/vendors/%s", v.ID))
	writeJSON(w, http.StatusCreated, v)
}

func (a *API) listVendors(w http.ResponseWriter, r *http.Request) {
	vendors, err := a.svc.ListVendors(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if vendors == nil {
		vendors = []access.VendorProfile{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": vendors})
}

func (a *API) getVendor(w http.ResponseWriter, r *http.Request) {
	v, err := a.svc.GetVendor(r.Context(), pathID(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *API) completeVerification(w http.ResponseWriter, r *http.Request) {
	var req verificationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	v, err := a.svc.CompleteVerification(r.Context(), pathID(r), access.VerificationUpdate{
		BackgroundCheckPassed:       req.BackgroundCheckPassed,
		NDASigned:                   req.NDASigned,
		ComplianceTrainingCompleted: req.ComplianceTrainingCompleted,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *API) setVendorStatus(w http.ResponseWriter, r *http.Request) {
	var req vendorStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	var status access.VendorStatus
	switch s := access.VendorStatus(strings.ToLower(strings.TrimSpace(req.Status))); s {
	case access.VendorActive, access.VendorInactive, access.VendorSuspended:
		status = s
	default:
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("unknown vendor status %q", req.Status))
		return
	}
	v, err := a.svc.SetVendorStatus(r.Context(), pathID(r), status, actor(r), req.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *API) revokeVendor(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	c, err := a.svc.RevokeVendor(r.Context(), pathID(r), actor(r), req.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newRevokeResponse(c))
}
