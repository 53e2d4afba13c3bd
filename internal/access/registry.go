package access

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"vendoraccess.org/internal/audit"
	"vendoraccess.org/internal/ids"
)

// VendorRegistration is the input to RegisterVendor.
type VendorRegistration struct {
	Email       string
	Name        string
	Company     string
	VendorType  string
	ContactInfo map[string]string
	// Clearance is the highest level any grant for this vendor may carry.
	// Empty defaults to read-write.
	Clearance Level
}

// VerificationUpdate reports the outcome of the admin-gated verification steps.
type VerificationUpdate struct {
	BackgroundCheckPassed       bool
	NDASigned                   bool
	ComplianceTrainingCompleted bool
}

// RegisterVendor creates an inactive vendor profile.
func (s *Service) RegisterVendor(ctx context.Context, reg VendorRegistration) (VendorProfile, error) {
	email, err := normalizeEmail(reg.Email)
	if err != nil {
		return VendorProfile{}, err
	}
	name := strings.TrimSpace(reg.Name)
	if name == "" {
		return VendorProfile{}, &FieldError{Field: "name", Message: "is required"}
	}
	company := strings.TrimSpace(reg.Company)
	if company == "" {
		return VendorProfile{}, &FieldError{Field: "company", Message: "is required"}
	}
	vt, err := ParseVendorType(reg.VendorType)
	if err != nil {
		return VendorProfile{}, err
	}
	clearance := LevelReadWrite
	if reg.Clearance != "" {
		if clearance, err = ParseLevel(string(reg.Clearance)); err != nil {
			return VendorProfile{}, &FieldError{Field: "security_clearance", Message: err.(*FieldError).Message}
		}
	}

	now := s.clock()
	v := VendorProfile{
		ID:          ids.New(),
		Email:       email,
		Name:        name,
		Company:     company,
		Type:        vt,
		ContactInfo: copyStrings(reg.ContactInfo),
		Clearance:   clearance,
		Status:      VendorInactive,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateVendor(ctx, v); err != nil {
		return VendorProfile{}, classify("create vendor", err)
	}
	s.log(ctx, audit.Entry{
		Action:   audit.ActionVendorRegister,
		Severity: audit.SeverityInfo,
		Outcome:  "success",
		VendorID: v.ID,
		Metadata: map[string]string{"vendor_type": string(vt), "company": company},
	})
	return v, nil
}

// CompleteVerification records the verification outcome. It is idempotent and
// does not change the vendor status; eligibility is checked when a grant is
// created.
func (s *Service) CompleteVerification(ctx context.Context, vendorID string, upd VerificationUpdate) (VendorProfile, error) {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		v, err := s.store.GetVendor(ctx, vendorID)
		if err != nil {
			return VendorProfile{}, classify("get vendor", err)
		}
		now := s.clock()
		next := v
		var changed bool
		next.Verification, changed = applyVerification(v.Verification, upd, now)
		if !changed {
			return v, nil
		}
		next.UpdatedAt = now
		saved, err := s.store.UpdateVendor(ctx, next)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return VendorProfile{}, classify("update vendor", err)
		}
		s.log(ctx, audit.Entry{
			Action:   audit.ActionVendorVerify,
			Severity: audit.SeverityMedium,
			Outcome:  "success",
			VendorID: vendorID,
			Metadata: map[string]string{
				"background_check": boolString(upd.BackgroundCheckPassed),
				"nda":              boolString(upd.NDASigned),
				"training":         boolString(upd.ComplianceTrainingCompleted),
			},
		})
		return saved, nil
	}
	return VendorProfile{}, conflictError("vendor changed concurrently")
}

// SetVendorStatus is the explicit admin action on vendor status. Activation
// requires complete verification. Suspension goes through the revocation
// cascade so no credential of a suspended vendor stays usable.
func (s *Service) SetVendorStatus(ctx context.Context, vendorID string, status VendorStatus, actorID, reason string) (VendorProfile, error) {
	switch status {
	case VendorSuspended:
		if _, err := s.RevokeVendor(ctx, vendorID, actorID, reason); err != nil {
			return VendorProfile{}, err
		}
		return s.GetVendor(ctx, vendorID)
	case VendorActive, VendorInactive:
	default:
		return VendorProfile{}, &FieldError{Field: "status", Message: "must be active, inactive or suspended"}
	}
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		v, err := s.store.GetVendor(ctx, vendorID)
		if err != nil {
			return VendorProfile{}, classify("get vendor", err)
		}
		if v.Status == status {
			return v, nil
		}
		if status == VendorActive && !v.Verification.Complete() {
			return VendorProfile{}, policyError("vendor not verified")
		}
		prev := v.Status
		v.Status = status
		v.UpdatedAt = s.clock()
		saved, err := s.store.UpdateVendor(ctx, v)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return VendorProfile{}, classify("update vendor", err)
		}
		s.cache.invalidate()
		s.log(ctx, audit.Entry{
			Action:   audit.ActionVendorStatus,
			Severity: audit.SeverityHigh,
			Outcome:  "success",
			ActorID:  actorID,
			VendorID: vendorID,
			Reason:   reason,
			Metadata: map[string]string{"from": string(prev), "to": string(status)},
		})
		return saved, nil
	}
	return VendorProfile{}, conflictError("vendor changed concurrently")
}

// GetVendor returns a vendor profile.
func (s *Service) GetVendor(ctx context.Context, vendorID string) (VendorProfile, error) {
	v, err := s.store.GetVendor(ctx, vendorID)
	if err != nil {
		return VendorProfile{}, classify("get vendor", err)
	}
	return v, nil
}

// ListVendors returns every vendor profile.
func (s *Service) ListVendors(ctx context.Context) ([]VendorProfile, error) {
	vendors, err := s.store.ListVendors(ctx)
	if err != nil {
		return nil, classify("list vendors", err)
	}
	return vendors, nil
}

// applyVerification sets the flags, stamping a date only when a flag turns
// true and clearing it when a flag is withdrawn.
func applyVerification(cur Verification, upd VerificationUpdate, at time.Time) (Verification, bool) {
	next := cur
	changed := false
	step := func(done *bool, when **time.Time, want bool) {
		if *done == want {
			return
		}
		changed = true
		*done = want
		if want {
			t := at
			*when = &t
		} else {
			*when = nil
		}
	}
	step(&next.BackgroundCheckPassed, &next.BackgroundCheckAt, upd.BackgroundCheckPassed)
	step(&next.NDASigned, &next.NDASignedAt, upd.NDASigned)
	step(&next.ComplianceTrainingCompleted, &next.ComplianceTrainingAt, upd.ComplianceTrainingCompleted)
	return next, changed
}

func normalizeEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", &FieldError{Field: "email", Message: "is required"}
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw || !strings.Contains(addr.Address[strings.LastIndex(addr.Address, "@")+1:], ".") {
		return "", &FieldError{Field: "email", Message: "is malformed"}
	}
	return strings.ToLower(addr.Address), nil
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
