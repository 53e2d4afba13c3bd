package access

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"vendoraccess.org/internal/audit"
)

// MemoryStore implements Store in process. A single RWMutex serializes
// writes, so every cascade is atomic; reads only take the read lock.
type MemoryStore struct {
	mu       sync.RWMutex
	vendors  map[string]*VendorProfile
	emails   map[string]string
	grants   map[string]*AccessGrant
	tokens   map[string]*AccessToken
	byHash   map[string]string
	sessions map[string]*VendorSession
	activity []audit.Entry
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		vendors:  make(map[string]*VendorProfile),
		emails:   make(map[string]string),
		grants:   make(map[string]*AccessGrant),
		tokens:   make(map[string]*AccessToken),
		byHash:   make(map[string]string),
		sessions: make(map[string]*VendorSession),
	}
}

func (s *MemoryStore) CreateVendor(ctx context.Context, v VendorProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(v.Email)
	if _, ok := s.emails[email]; ok {
		return &FieldError{Field: "email", Message: "already registered"}
	}
	v.Version = 1
	v.ContactInfo = copyStrings(v.ContactInfo)
	s.vendors[v.ID] = &v
	s.emails[email] = v.ID
	return nil
}

func (s *MemoryStore) GetVendor(ctx context.Context, id string) (VendorProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vendors[id]
	if !ok {
		return VendorProfile{}, ErrNotFound
	}
	return cloneVendor(*v), nil
}

func (s *MemoryStore) ListVendors(ctx context.Context) ([]VendorProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]VendorProfile, 0, len(s.vendors))
	for _, v := range s.vendors {
		out = append(out, cloneVendor(*v))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdateVendor(ctx context.Context, v VendorProfile) (VendorProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.vendors[v.ID]
	if !ok {
		return VendorProfile{}, ErrNotFound
	}
	if cur.Version != v.Version {
		return VendorProfile{}, ErrVersionConflict
	}
	v.Version++
	v.Email = cur.Email
	next := cloneVendor(v)
	s.vendors[v.ID] = &next
	return cloneVendor(next), nil
}

func (s *MemoryStore) CreateGrant(ctx context.Context, g AccessGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vendors[g.VendorID]
	if !ok {
		return ErrNotFound
	}
	if v.Status == VendorSuspended {
		return ErrVendorSuspended
	}
	g.Version = 1
	g = cloneGrant(g)
	s.grants[g.ID] = &g
	return nil
}

func (s *MemoryStore) GetGrant(ctx context.Context, id string) (AccessGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.grants[id]
	if !ok {
		return AccessGrant{}, ErrNotFound
	}
	return cloneGrant(*g), nil
}

func (s *MemoryStore) ListGrants(ctx context.Context, f GrantFilter) ([]AccessGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []AccessGrant
	for _, g := range s.grants {
		if f.VendorID != "" && g.VendorID != f.VendorID {
			continue
		}
		if f.Status != "" && g.Status != f.Status {
			continue
		}
		if f.ActiveBefore != nil {
			if g.Status != GrantActive || g.Validity.End == nil || g.Validity.End.After(*f.ActiveBefore) {
				continue
			}
		}
		out = append(out, cloneGrant(*g))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdateGrant(ctx context.Context, g AccessGrant) (AccessGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.grants[g.ID]
	if !ok {
		return AccessGrant{}, ErrNotFound
	}
	if cur.Version != g.Version {
		return AccessGrant{}, ErrVersionConflict
	}
	g.Version++
	next := cloneGrant(g)
	s.grants[g.ID] = &next
	return cloneGrant(next), nil
}

func (s *MemoryStore) ExpireGrant(ctx context.Context, id string, version int64, at time.Time) (Cascade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[id]
	if !ok {
		return Cascade{}, ErrNotFound
	}
	if g.Version != version || g.Status != GrantActive || g.Validity.End == nil || at.Before(*g.Validity.End) {
		return Cascade{}, ErrVersionConflict
	}
	g.Status = GrantExpired
	g.UpdatedAt = at
	g.Version++
	c := Cascade{GrantIDs: []string{id}}
	for _, t := range s.tokens {
		if t.GrantID != id || t.Status != TokenActive {
			continue
		}
		t.Status = TokenExpired
		t.Version++
		c.Tokens++
		c.Sessions += s.closeSessionsLocked(t.ID, SessionExpired)
	}
	return c, nil
}

func (s *MemoryStore) CreateToken(ctx context.Context, t AccessToken, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[t.GrantID]
	if !ok {
		return ErrNotFound
	}
	if !g.usableAt(at) {
		return ErrGrantInactive
	}
	t.Version = 1
	s.tokens[t.ID] = &t
	s.byHash[t.TokenHash] = t.ID
	return nil
}

func (s *MemoryStore) FindTokenByHash(ctx context.Context, hash string) (AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHash[hash]
	if !ok {
		return AccessToken{}, ErrNotFound
	}
	return cloneToken(*s.tokens[id]), nil
}

func (s *MemoryStore) ListTokens(ctx context.Context, grantID string) ([]AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []AccessToken
	for _, t := range s.tokens {
		if t.GrantID == grantID {
			out = append(out, cloneToken(*t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) TouchSession(ctx context.Context, t SessionTouch) (SessionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[t.TokenID]
	if !ok || tok.Status != TokenActive || !t.At.Before(tok.ExpiresAt) {
		return SessionResult{}, ErrTokenInactive
	}
	g, ok := s.grants[tok.GrantID]
	if !ok || !g.usableAt(t.At) {
		return SessionResult{}, ErrTokenInactive
	}
	at := t.At
	tok.LastUsedAt = &at

	var res SessionResult
	var current *VendorSession
	for _, sess := range s.sessions {
		if sess.TokenID != t.TokenID || sess.Status != SessionActive || !t.At.Before(sess.ExpiresAt) {
			continue
		}
		if sess.IPAddress == t.IPAddress {
			current = sess
		} else {
			res.OtherAddresses++
		}
	}
	if current == nil {
		current = &VendorSession{
			ID:        t.NewID,
			VendorID:  t.VendorID,
			TokenID:   t.TokenID,
			IPAddress: t.IPAddress,
			UserAgent: t.UserAgent,
			StartedAt: t.At,
			Status:    SessionActive,
		}
		s.sessions[current.ID] = current
		res.Created = true
	}
	current.LastActivityAt = t.At
	current.ExpiresAt = t.ExpiresAt
	current.Version++
	res.Session = *current
	return res, nil
}

func (s *MemoryStore) ListSessions(ctx context.Context, f SessionFilter) ([]VendorSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []VendorSession
	for _, sess := range s.sessions {
		if f.VendorID != "" && sess.VendorID != f.VendorID {
			continue
		}
		if f.TokenID != "" && sess.TokenID != f.TokenID {
			continue
		}
		if f.Status != "" && sess.Status != f.Status {
			continue
		}
		out = append(out, *sess)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID > out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) ExpireSessions(ctx context.Context, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sess := range s.sessions {
		if sess.Status == SessionActive && !at.Before(sess.ExpiresAt) {
			sess.Status = SessionExpired
			sess.Version++
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Revoke(ctx context.Context, scope RevokeScope, rev Revocation) (Cascade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case scope.GrantID != "":
		if _, ok := s.grants[scope.GrantID]; !ok {
			return Cascade{}, ErrNotFound
		}
	case scope.VendorID != "":
		if _, ok := s.vendors[scope.VendorID]; !ok {
			return Cascade{}, ErrNotFound
		}
	case !scope.All:
		return Cascade{}, &FieldError{Field: "scope", Message: "grant, vendor or all is required"}
	}

	inScope := func(grantID, vendorID string) bool {
		switch {
		case scope.All:
			return true
		case scope.VendorID != "":
			return vendorID == scope.VendorID
		default:
			return grantID == scope.GrantID
		}
	}

	var c Cascade
	for _, g := range s.grants {
		if !inScope(g.ID, g.VendorID) || g.Status.Terminal() {
			continue
		}
		r := rev
		g.Status = GrantRevoked
		g.Revocation = &r
		g.UpdatedAt = rev.RevokedAt
		g.Version++
		c.GrantIDs = append(c.GrantIDs, g.ID)
	}
	sort.Strings(c.GrantIDs)
	for _, t := range s.tokens {
		if !inScope(t.GrantID, t.VendorID) || t.Status != TokenActive {
			continue
		}
		at := rev.RevokedAt
		t.Status = TokenRevoked
		t.RevokedAt = &at
		t.Version++
		c.Tokens++
	}
	for _, sess := range s.sessions {
		if sess.Status != SessionActive {
			continue
		}
		tok, ok := s.tokens[sess.TokenID]
		if !ok || !inScope(tok.GrantID, tok.VendorID) {
			continue
		}
		sess.Status = SessionTerminated
		sess.Version++
		c.Sessions++
	}
	if scope.VendorID != "" {
		v := s.vendors[scope.VendorID]
		if v.Status != VendorSuspended {
			v.Status = VendorSuspended
			v.UpdatedAt = rev.RevokedAt
			v.Version++
		}
	}
	return c, nil
}

func (s *MemoryStore) AppendActivity(ctx context.Context, e audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activity = append(s.activity, e)
	return nil
}

func (s *MemoryStore) ListActivity(ctx context.Context, f ActivityFilter) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Entry
	for i := len(s.activity) - 1; i >= 0; i-- {
		e := s.activity[i]
		if f.VendorID != "" && e.VendorID != f.VendorID {
			continue
		}
		if !f.Since.IsZero() && e.OccurredAt.Before(f.Since) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) closeSessionsLocked(tokenID string, status SessionStatus) int {
	n := 0
	for _, sess := range s.sessions {
		if sess.TokenID == tokenID && sess.Status == SessionActive {
			sess.Status = status
			sess.Version++
			n++
		}
	}
	return n
}

// --- copies ---

func copyStrings(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneVendor(v VendorProfile) VendorProfile {
	v.ContactInfo = copyStrings(v.ContactInfo)
	v.Verification.BackgroundCheckAt = copyTime(v.Verification.BackgroundCheckAt)
	v.Verification.NDASignedAt = copyTime(v.Verification.NDASignedAt)
	v.Verification.ComplianceTrainingAt = copyTime(v.Verification.ComplianceTrainingAt)
	return v
}

func cloneGrant(g AccessGrant) AccessGrant {
	g.Categories = append([]Category(nil), g.Categories...)
	g.Restrictions = copyStrings(g.Restrictions)
	g.Validity.Start = copyTime(g.Validity.Start)
	g.Validity.End = copyTime(g.Validity.End)
	g.Approval.RequiredApprovers = append([]string(nil), g.Approval.RequiredApprovers...)
	g.Approval.Approvals = append([]Approval(nil), g.Approval.Approvals...)
	if g.Revocation != nil {
		r := *g.Revocation
		g.Revocation = &r
	}
	return g
}

func cloneToken(t AccessToken) AccessToken {
	t.LastUsedAt = copyTime(t.LastUsedAt)
	t.RevokedAt = copyTime(t.RevokedAt)
	return t
}
