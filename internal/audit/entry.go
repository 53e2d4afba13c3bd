package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"vendoraccess.org/internal/obs"
)

// Severity grades an audit entry.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Severities lists every severity from lowest to highest.
var Severities = []Severity{SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// SeverityForRisk maps a 0-100 risk score onto a severity.
func SeverityForRisk(score int) Severity {
	switch {
	case score >= 80:
		return SeverityCritical
	case score >= 60:
		return SeverityHigh
	case score >= 40:
		return SeverityMedium
	case score >= 20:
		return SeverityLow
	default:
		return SeverityInfo
	}
}

// Actions recorded by the vendor access core.
const (
	ActionVendorRegister  = "vendor.register"
	ActionVendorVerify    = "vendor.verify"
	ActionVendorStatus    = "vendor.status"
	ActionGrantCreate     = "grant.create"
	ActionGrantApprove    = "grant.approve"
	ActionGrantDeny       = "grant.deny"
	ActionGrantExpire     = "grant.expire"
	ActionTokenIssue      = "token.issue"
	ActionAccessValidate  = "access.validate"
	ActionAccessRevoke    = "access.revoke"
	ActionEmergencyRevoke = "access.emergency_revoke"
	ActionSessionExpire   = "session.expire"
	ActionInfrastructure  = "infrastructure.failure"
)

// Entry is an immutable record of a security-relevant action.
type Entry struct {
	ID         string            `json:"id"`
	OccurredAt time.Time         `json:"occurred_at"`
	Action     string            `json:"action"`
	Severity   Severity          `json:"severity"`
	Outcome    string            `json:"outcome,omitempty"`
	ActorID    string            `json:"actor_id,omitempty"`
	VendorID   string            `json:"vendor_id,omitempty"`
	GrantID    string            `json:"grant_id,omitempty"`
	TokenID    string            `json:"token_id,omitempty"`
	SessionID  string            `json:"session_id,omitempty"`
	IPAddress  string            `json:"ip_address,omitempty"`
	Endpoint   string            `json:"endpoint,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	RiskScore  int               `json:"risk_score,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Signature  string            `json:"signature,omitempty"`
}

// Signer produces an HMAC-SHA256 over the entry for tamper evidence.
type Signer struct {
	key []byte
}

// NewSigner returns a signer for key, or nil when key is empty.
func NewSigner(key []byte) *Signer {
	if len(key) == 0 {
		return nil
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Signer{key: k}
}

// Sign returns the hex signature of e, ignoring any existing signature. The
// timestamp is signed at microsecond precision so entries read back from
// storage still verify.
func (s *Signer) Sign(e Entry) string {
	e.Signature = ""
	e.OccurredAt = e.OccurredAt.UTC().Truncate(time.Microsecond)
	payload, err := json.Marshal(e)
	if err != nil {
		return ""
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether the entry's signature matches its contents.
func (s *Signer) Verify(e Entry) bool {
	want, err := hex.DecodeString(e.Signature)
	if err != nil || len(want) == 0 {
		return false
	}
	got, err := hex.DecodeString(s.Sign(e))
	if err != nil {
		return false
	}
	return hmac.Equal(want, got)
}

// JSONSink writes each entry as a JSON line on the shared service logger.
func JSONSink() Sink {
	return func(e Entry) {
		line := struct {
			Type string `json:"type"`
			Entry
		}{Type: "audit", Entry: e}
		data, err := json.Marshal(line)
		if err != nil {
			obs.Logger().Println(`{"type":"audit","level":"error","msg":"audit marshal failed"}`)
			return
		}
		obs.Logger().Println(string(data))
	}
}
