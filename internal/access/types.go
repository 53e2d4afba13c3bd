package access

import (
	"fmt"
	"strings"
	"time"
)

// SchemaVersion identifies the published revision of the category and level
// sets. New values are appended; existing values are never reinterpreted.
const SchemaVersion = 1

// VendorType classifies the delegated party.
type VendorType string

const (
	VendorContentModeration VendorType = "content-moderation"
	VendorPaymentProcessing VendorType = "payment-processing"
	VendorCustomerSupport   VendorType = "customer-support"
	VendorTechnicalSupport  VendorType = "technical-support"
	VendorAnalytics         VendorType = "analytics"
	VendorCompliance        VendorType = "compliance"
	VendorSecurity          VendorType = "security"
)

var vendorTypes = []VendorType{
	VendorContentModeration,
	VendorPaymentProcessing,
	VendorCustomerSupport,
	VendorTechnicalSupport,
	VendorAnalytics,
	VendorCompliance,
	VendorSecurity,
}

// ParseVendorType validates s against the closed vendor type set.
func ParseVendorType(s string) (VendorType, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	for _, vt := range vendorTypes {
		if string(vt) == s {
			return vt, nil
		}
	}
	return "", &FieldError{Field: "vendor_type", Message: fmt.Sprintf("unknown vendor type %q", s)}
}

// Category is a functional area of the platform a vendor may be granted.
type Category string

const (
	CategoryUserManagement      Category = "user-management"
	CategoryContentModeration   Category = "content-moderation"
	CategoryFinancialReports    Category = "financial-reports"
	CategoryPaymentProcessing   Category = "payment-processing"
	CategoryCustomerSupport     Category = "customer-support"
	CategoryTechnicalSupport    Category = "technical-support"
	CategoryAnalytics           Category = "analytics"
	CategoryCompliance          Category = "compliance"
	CategorySecurityAudit       Category = "security-audit"
	CategorySystemConfiguration Category = "system-configuration"
	CategoryEmergencyResponse   Category = "emergency-response"
	CategoryBreachInvestigation Category = "breach-investigation"
)

// Categories lists the published category set in schema order.
var Categories = []Category{
	CategoryUserManagement,
	CategoryContentModeration,
	CategoryFinancialReports,
	CategoryPaymentProcessing,
	CategoryCustomerSupport,
	CategoryTechnicalSupport,
	CategoryAnalytics,
	CategoryCompliance,
	CategorySecurityAudit,
	CategorySystemConfiguration,
	CategoryEmergencyResponse,
	CategoryBreachInvestigation,
}

// ParseCategory validates s against the closed category set.
func ParseCategory(s string) (Category, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	for _, c := range Categories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", &FieldError{Field: "category", Message: fmt.Sprintf("unknown access category %q", s)}
}

// Level is an ordered privilege level.
type Level string

const (
	LevelReadOnly   Level = "read-only"
	LevelReadWrite  Level = "read-write"
	LevelAdmin      Level = "admin"
	LevelFullAccess Level = "full-access"
	LevelEmergency  Level = "emergency"
)

// Levels lists the published levels from least to most privileged.
var Levels = []Level{LevelReadOnly, LevelReadWrite, LevelAdmin, LevelFullAccess, LevelEmergency}

// ParseLevel validates s against the closed level set.
func ParseLevel(s string) (Level, error) {
	l := Level(strings.TrimSpace(strings.ToLower(s)))
	if _, ok := l.rank(); !ok {
		return "", &FieldError{Field: "access_level", Message: fmt.Sprintf("unknown access level %q", s)}
	}
	return l, nil
}

// rank places the level on the total order. Every level must have a case
// here; an unknown level never compares as granted.
func (l Level) rank() (int, bool) {
	switch l {
	case LevelReadOnly:
		return 0, true
	case LevelReadWrite:
		return 1, true
	case LevelAdmin:
		return 2, true
	case LevelFullAccess:
		return 3, true
	case LevelEmergency:
		return 4, true
	}
	return -1, false
}

// Covers reports whether a grant at level l authorizes a request at level want.
func (l Level) Covers(want Level) bool {
	have, ok := l.rank()
	if !ok {
		return false
	}
	req, ok := want.rank()
	if !ok {
		return false
	}
	return req <= have
}

// VendorStatus is the lifecycle state of a vendor profile.
type VendorStatus string

const (
	VendorInactive  VendorStatus = "inactive"
	VendorActive    VendorStatus = "active"
	VendorSuspended VendorStatus = "suspended"
)

// Verification records the admin-gated verification steps.
type Verification struct {
	BackgroundCheckPassed       bool       `json:"background_check_passed"`
	BackgroundCheckAt           *time.Time `json:"background_check_at,omitempty"`
	NDASigned                   bool       `json:"nda_signed"`
	NDASignedAt                 *time.Time `json:"nda_signed_at,omitempty"`
	ComplianceTrainingCompleted bool       `json:"compliance_training_completed"`
	ComplianceTrainingAt        *time.Time `json:"compliance_training_at,omitempty"`
}

// Complete reports whether every verification step is done.
func (v Verification) Complete() bool {
	return v.BackgroundCheckPassed && v.NDASigned && v.ComplianceTrainingCompleted
}

// VendorProfile is the identity of a delegated party. Profiles are never deleted.
type VendorProfile struct {
	ID           string            `json:"id"`
	Email        string            `json:"email"`
	Name         string            `json:"name"`
	Company      string            `json:"company"`
	Type         VendorType        `json:"vendor_type"`
	ContactInfo  map[string]string `json:"contact_info,omitempty"`
	Verification Verification      `json:"verification"`
	Clearance    Level             `json:"security_clearance"`
	Status       VendorStatus      `json:"status"`
	Version      int64             `json:"version"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// GrantStatus is the state of an access grant.
type GrantStatus string

const (
	GrantPendingApproval GrantStatus = "pending_approval"
	GrantActive          GrantStatus = "active"
	GrantExpired         GrantStatus = "expired"
	GrantRevoked         GrantStatus = "revoked"
)

// Terminal reports whether no further transition is possible.
func (s GrantStatus) Terminal() bool {
	return s == GrantExpired || s == GrantRevoked
}

// ApprovalStatus is the outcome of the approval workflow.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalDenied   ApprovalStatus = "denied"
)

// Approval is a single approver's sign-off.
type Approval struct {
	ApproverID string    `json:"approver_id"`
	ApprovedAt time.Time `json:"approved_at"`
}

// ApprovalRecord tracks the multi-approver workflow of a grant.
type ApprovalRecord struct {
	RequiredApprovers []string       `json:"required_approvers"`
	Approvals         []Approval     `json:"approvals"`
	Status            ApprovalStatus `json:"status"`
	DeniedBy          string         `json:"denied_by,omitempty"`
	DenialReason      string         `json:"denial_reason,omitempty"`
}

func (r ApprovalRecord) approvedBy(id string) bool {
	for _, a := range r.Approvals {
		if a.ApproverID == id {
			return true
		}
	}
	return false
}

func (r ApprovalRecord) requires(id string) bool {
	for _, req := range r.RequiredApprovers {
		if req == id {
			return true
		}
	}
	return false
}

// satisfied reports whether every required approver has signed off.
func (r ApprovalRecord) satisfied() bool {
	for _, req := range r.RequiredApprovers {
		if !r.approvedBy(req) {
			return false
		}
	}
	return true
}

// Validity is the time window of a grant. Start and End are set on activation.
type Validity struct {
	Start            *time.Time `json:"start,omitempty"`
	End              *time.Time `json:"end,omitempty"`
	MaxDurationHours int        `json:"max_duration_hours"`
}

// Revocation records who ended a grant and why.
type Revocation struct {
	RevokedAt time.Time `json:"revoked_at"`
	RevokedBy string    `json:"revoked_by"`
	Reason    string    `json:"reason"`
}

// AccessGrant is a scoped, time-boxed authorization.
type AccessGrant struct {
	ID            string            `json:"id"`
	VendorID      string            `json:"vendor_id"`
	Categories    []Category        `json:"categories"`
	Level         Level             `json:"access_level"`
	Justification string            `json:"justification"`
	Restrictions  map[string]string `json:"restrictions,omitempty"`
	Validity      Validity          `json:"validity"`
	Approval      ApprovalRecord    `json:"approval"`
	Status        GrantStatus       `json:"status"`
	Revocation    *Revocation       `json:"revocation,omitempty"`
	CreatedBy     string            `json:"created_by,omitempty"`
	Version       int64             `json:"version"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// HasCategory reports whether c is among the granted categories.
func (g AccessGrant) HasCategory(c Category) bool {
	for _, gc := range g.Categories {
		if gc == c {
			return true
		}
	}
	return false
}

// Authorizes reports whether the grant covers the (category, level) pair.
func (g AccessGrant) Authorizes(c Category, l Level) bool {
	return g.HasCategory(c) && g.Level.Covers(l)
}

// usableAt reports whether the grant is active and inside its validity window.
func (g AccessGrant) usableAt(now time.Time) bool {
	return g.Status == GrantActive &&
		g.Approval.Status == ApprovalApproved &&
		g.Validity.End != nil && now.Before(*g.Validity.End)
}

// effective returns the grant as observed at now: an active grant past its
// window reads as expired even before the sweeper persists the transition.
func (g AccessGrant) effective(now time.Time) AccessGrant {
	if g.Status == GrantActive && (g.Validity.End == nil || !now.Before(*g.Validity.End)) {
		g.Status = GrantExpired
	}
	return g
}

// TokenStatus is the state of an access token.
type TokenStatus string

const (
	TokenActive  TokenStatus = "active"
	TokenExpired TokenStatus = "expired"
	TokenRevoked TokenStatus = "revoked"
)

// AccessToken is a bearer credential bound to one grant. Only the hash of the
// secret is stored.
type AccessToken struct {
	ID         string      `json:"id"`
	GrantID    string      `json:"grant_id"`
	VendorID   string      `json:"vendor_id"`
	TokenHash  string      `json:"-"`
	IssuedBy   string      `json:"issued_by"`
	IssuedAt   time.Time   `json:"issued_at"`
	ExpiresAt  time.Time   `json:"expires_at"`
	Status     TokenStatus `json:"status"`
	LastUsedAt *time.Time  `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time  `json:"revoked_at,omitempty"`
	Version    int64       `json:"version"`
}

// SessionStatus is the state of a vendor session.
type SessionStatus string

const (
	SessionActive     SessionStatus = "active"
	SessionExpired    SessionStatus = "expired"
	SessionTerminated SessionStatus = "terminated"
)

// VendorSession is an authenticated interaction window of a single token.
type VendorSession struct {
	ID             string        `json:"id"`
	VendorID       string        `json:"vendor_id"`
	TokenID        string        `json:"token_id"`
	IPAddress      string        `json:"ip_address"`
	UserAgent      string        `json:"user_agent,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	LastActivityAt time.Time     `json:"last_activity_at"`
	ExpiresAt      time.Time     `json:"expires_at"`
	Status         SessionStatus `json:"status"`
	Version        int64         `json:"version"`
}
