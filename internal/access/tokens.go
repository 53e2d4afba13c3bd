package access

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"

	"vendoraccess.org/internal/audit"
	"vendoraccess.org/internal/ids"
)

const (
	tokenPrefix      = "vat_"
	tokenSecretBytes = 32
)

// IssuedToken carries the raw secret. It is returned once by
// GenerateAccessToken and cannot be retrieved again.
type IssuedToken struct {
	RawToken  string    `json:"token"`
	TokenID   string    `json:"token_id"`
	GrantID   string    `json:"grant_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// DeriveKey expands a master secret into a purpose-bound key with HKDF-SHA256.
func DeriveKey(master []byte, purpose string) ([]byte, error) {
	if len(master) == 0 {
		return nil, fmt.Errorf("%w: master key is empty", ErrInfrastructure)
	}
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, master, nil, []byte("vendoraccess/"+purpose))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("%w: derive key: %w", ErrInfrastructure, err)
	}
	return key, nil
}

// GenerateAccessToken issues a bearer token for an active grant. The token
// expires at the earlier of the grant's end and the token TTL policy. Earlier
// tokens of the same grant stay valid.
func (s *Service) GenerateAccessToken(ctx context.Context, grantID, issuedBy string) (IssuedToken, error) {
	issuedBy = strings.TrimSpace(issuedBy)
	if issuedBy == "" {
		return IssuedToken{}, &FieldError{Field: "issued_by", Message: "is required"}
	}
	g, err := s.store.GetGrant(ctx, grantID)
	if err != nil {
		return IssuedToken{}, classify("get grant", err)
	}
	now := s.clock()
	if !g.usableAt(now) {
		return IssuedToken{}, policyError(fmt.Sprintf("grant is %s", g.effective(now).Status))
	}

	raw, err := newTokenSecret()
	if err != nil {
		return IssuedToken{}, err
	}
	expires := now.Add(s.tokenTTL)
	if g.Validity.End.Before(expires) {
		expires = *g.Validity.End
	}
	tok := AccessToken{
		ID:        ids.New(),
		GrantID:   g.ID,
		VendorID:  g.VendorID,
		TokenHash: s.hashToken(raw),
		IssuedBy:  issuedBy,
		IssuedAt:  now,
		ExpiresAt: expires,
		Status:    TokenActive,
		Version:   1,
	}
	if err := s.store.CreateToken(ctx, tok, now); err != nil {
		return IssuedToken{}, classify("create token", err)
	}
	s.log(ctx, audit.Entry{
		Action:   audit.ActionTokenIssue,
		Severity: audit.SeverityHigh,
		Outcome:  "issued",
		ActorID:  issuedBy,
		VendorID: g.VendorID,
		GrantID:  g.ID,
		TokenID:  tok.ID,
		Metadata: map[string]string{"expires_at": expires.Format(time.RFC3339)},
	})
	return IssuedToken{RawToken: raw, TokenID: tok.ID, GrantID: g.ID, ExpiresAt: expires}, nil
}

// ListTokens returns token metadata for a grant. Hashes are never exposed.
func (s *Service) ListTokens(ctx context.Context, grantID string) ([]AccessToken, error) {
	if _, err := s.store.GetGrant(ctx, grantID); err != nil {
		return nil, classify("get grant", err)
	}
	tokens, err := s.store.ListTokens(ctx, grantID)
	if err != nil {
		return nil, classify("list tokens", err)
	}
	now := s.clock()
	for i := range tokens {
		tokens[i].TokenHash = ""
		if tokens[i].Status == TokenActive && !now.Before(tokens[i].ExpiresAt) {
			tokens[i].Status = TokenExpired
		}
	}
	return tokens, nil
}

// credential is everything the validator needs about a presented token.
type credential struct {
	token  AccessToken
	grant  AccessGrant
	vendor VendorProfile
}

// TokenCheck is the outcome of validateAccessToken.
type TokenCheck struct {
	Valid  bool
	Reason string
	cred   credential
}

// validateAccessToken resolves a token hash. Unknown, revoked and expired
// tokens yield Valid=false; only infrastructure failures return an error.
func (s *Service) validateAccessToken(ctx context.Context, hash string) (TokenCheck, error) {
	cred, err := s.loadCredential(ctx, hash)
	if err != nil {
		return TokenCheck{Valid: false, Reason: reasonUnknownToken}, errorUnlessNotFound(err)
	}
	if subtle.ConstantTimeCompare([]byte(cred.token.TokenHash), []byte(hash)) != 1 {
		return TokenCheck{Reason: reasonUnknownToken}, nil
	}
	now := s.clock()
	switch {
	case cred.token.Status == TokenRevoked:
		return TokenCheck{Reason: reasonTokenRevoked, cred: cred}, nil
	case cred.token.Status != TokenActive || !now.Before(cred.token.ExpiresAt):
		return TokenCheck{Reason: reasonTokenExpired, cred: cred}, nil
	case cred.grant.Status == GrantRevoked:
		return TokenCheck{Reason: reasonGrantRevoked, cred: cred}, nil
	case !cred.grant.usableAt(now):
		return TokenCheck{Reason: reasonGrantExpired, cred: cred}, nil
	case cred.vendor.Status == VendorSuspended:
		return TokenCheck{Reason: reasonVendorSuspended, cred: cred}, nil
	}
	return TokenCheck{Valid: true, cred: cred}, nil
}

func (s *Service) loadCredential(ctx context.Context, hash string) (credential, error) {
	return s.cache.load(hash, func() (credential, error) {
		return retry(ctx, s, func(ctx context.Context) (credential, error) {
			ctx, cancel := s.withTimeout(ctx)
			defer cancel()
			tok, err := s.store.FindTokenByHash(ctx, hash)
			if err != nil {
				return credential{}, classify("find token", err)
			}
			g, err := s.store.GetGrant(ctx, tok.GrantID)
			if err != nil {
				return credential{}, classify("get grant", err)
			}
			v, err := s.store.GetVendor(ctx, g.VendorID)
			if err != nil {
				return credential{}, classify("get vendor", err)
			}
			return credential{token: tok, grant: g, vendor: v}, nil
		})
	})
}

func (s *Service) hashToken(raw string) string {
	mac := hmac.New(sha256.New, s.hashKey)
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

func newTokenSecret() (string, error) {
	buf := make([]byte, tokenSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("%w: generate token secret: %w", ErrInfrastructure, err)
	}
	return tokenPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}
