package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"vendoraccess.org/internal/access"
	"vendoraccess.org/internal/audit"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeSerialization       = "40001"
)

// Store persists vendor access state in PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ access.Store = (*Store)(nil)

// Open connects with the pgx stdlib driver.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Validation holds a connection for one short transaction per request;
	// revokes and sweeps are rare and brief.
	db.SetMaxOpenConns(32)
	db.SetMaxIdleConns(16)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

type rowScanner interface {
	Scan(dest ...any) error
}

// --- vendors ---

const vendorColumns = `id, email, name, company, vendor_type, contact_info, verification, clearance, status, version, created_at, updated_at`

func scanVendor(row rowScanner) (access.VendorProfile, error) {
	var (
		v            access.VendorProfile
		contact      []byte
		verification []byte
	)
	if err := row.Scan(&v.ID, &v.Email, &v.Name, &v.Company, &v.Type, &contact, &verification,
		&v.Clearance, &v.Status, &v.Version, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return access.VendorProfile{}, err
	}
	if err := decodeJSON(contact, &v.ContactInfo); err != nil {
		return access.VendorProfile{}, err
	}
	if err := decodeJSON(verification, &v.Verification); err != nil {
		return access.VendorProfile{}, err
	}
	return v, nil
}

func (s *Store) CreateVendor(ctx context.Context, v access.VendorProfile) error {
	contact, err := encodeJSON(v.ContactInfo, "{}")
	if err != nil {
		return err
	}
	verification, err := encodeJSON(v.Verification, "{}")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into vendors(`+vendorColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,1,$10,$11)
	`, v.ID, strings.ToLower(v.Email), v.Name, v.Company, v.Type, contact, verification,
		v.Clearance, v.Status, v.CreatedAt, v.UpdatedAt)
	if pgCode(err) == codeUniqueViolation {
		return &access.FieldError{Field: "email", Message: "already registered"}
	}
	return err
}

func (s *Store) GetVendor(ctx context.Context, id string) (access.VendorProfile, error) {
	v, err := scanVendor(s.db.QueryRowContext(ctx, `select `+vendorColumns+` from vendors where id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return access.VendorProfile{}, access.ErrNotFound
	}
	return v, err
}

func (s *Store) ListVendors(ctx context.Context) ([]access.VendorProfile, error) {
	rows, err := s.db.QueryContext(ctx, `select `+vendorColumns+` from vendors order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []access.VendorProfile
	for rows.Next() {
		v, err := scanVendor(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) UpdateVendor(ctx context.Context, v access.VendorProfile) (access.VendorProfile, error) {
	contact, err := encodeJSON(v.ContactInfo, "{}")
	if err != nil {
		return access.VendorProfile{}, err
	}
	verification, err := encodeJSON(v.Verification, "{}")
	if err != nil {
		return access.VendorProfile{}, err
	}
	saved, err := scanVendor(s.db.QueryRowContext(ctx, `
		update vendors
		set name=$2, company=$3, vendor_type=$4, contact_info=$5, verification=$6,
		    clearance=$7, status=$8, updated_at=$9, version=version+1
		where id=$1 and version=$10
		returning `+vendorColumns,
		v.ID, v.Name, v.Company, v.Type, contact, verification, v.Clearance, v.Status, v.UpdatedAt, v.Version))
	if errors.Is(err, sql.ErrNoRows) {
		return access.VendorProfile{}, s.missingOrConflict(ctx, "vendors", v.ID)
	}
	return saved, err
}

// --- grants ---

const grantColumns = `id, vendor_id, categories, access_level, justification, restrictions, valid_from, valid_until,
	max_duration_hours, approval, status, revocation, created_by, version, created_at, updated_at`

func scanGrant(row rowScanner) (access.AccessGrant, error) {
	var (
		g            access.AccessGrant
		categories   []byte
		restrictions []byte
		approval     []byte
		revocation   []byte
		start, end   sql.NullTime
	)
	if err := row.Scan(&g.ID, &g.VendorID, &categories, &g.Level, &g.Justification, &restrictions,
		&start, &end, &g.Validity.MaxDurationHours, &approval, &g.Status, &revocation,
		&g.CreatedBy, &g.Version, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return access.AccessGrant{}, err
	}
	g.Validity.Start = nullTime(start)
	g.Validity.End = nullTime(end)
	for _, field := range []struct {
		raw []byte
		dst any
	}{
		{categories, &g.Categories},
		{restrictions, &g.Restrictions},
		{approval, &g.Approval},
		{revocation, &g.Revocation},
	} {
		if err := decodeJSON(field.raw, field.dst); err != nil {
			return access.AccessGrant{}, err
		}
	}
	return g, nil
}

type grantArgs struct {
	categories, restrictions, approval string
	revocation                         sql.NullString
}

func encodeGrant(g access.AccessGrant) (grantArgs, error) {
	var (
		a   grantArgs
		err error
	)
	if a.categories, err = encodeJSON(g.Categories, "[]"); err != nil {
		return a, err
	}
	if a.restrictions, err = encodeJSON(g.Restrictions, "{}"); err != nil {
		return a, err
	}
	if a.approval, err = encodeJSON(g.Approval, "{}"); err != nil {
		return a, err
	}
	if g.Revocation != nil {
		rev, err := encodeJSON(g.Revocation, "null")
		if err != nil {
			return a, err
		}
		a.revocation = sql.NullString{String: rev, Valid: true}
	}
	return a, nil
}

func (s *Store) CreateGrant(ctx context.Context, g access.AccessGrant) error {
	a, err := encodeGrant(g)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// The share lock orders this insert against a vendor-wide revoke, which
	// locks the vendor row for update before suspending it.
	var status string
	err = tx.QueryRowContext(ctx, `select status from vendors where id=$1 for share`, g.VendorID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return access.ErrNotFound
	}
	if err != nil {
		return err
	}
	if status == string(access.VendorSuspended) {
		return access.ErrVendorSuspended
	}
	_, err = tx.ExecContext(ctx, `
		insert into access_grants(`+grantColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,1,$14,$15)
	`, g.ID, g.VendorID, a.categories, g.Level, g.Justification, a.restrictions,
		timeArg(g.Validity.Start), timeArg(g.Validity.End), g.Validity.MaxDurationHours,
		a.approval, g.Status, a.revocation, g.CreatedBy, g.CreatedAt, g.UpdatedAt)
	if pgCode(err) == codeForeignKeyViolation {
		return access.ErrNotFound
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) GetGrant(ctx context.Context, id string) (access.AccessGrant, error) {
	g, err := scanGrant(s.db.QueryRowContext(ctx, `select `+grantColumns+` from access_grants where id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return access.AccessGrant{}, access.ErrNotFound
	}
	return g, err
}

func (s *Store) ListGrants(ctx context.Context, f access.GrantFilter) ([]access.AccessGrant, error) {
	var w where
	if f.VendorID != "" {
		w.add("vendor_id = %s", f.VendorID)
	}
	if f.Status != "" {
		w.add("status = %s", f.Status)
	}
	if f.ActiveBefore != nil {
		w.add("status = 'active' and valid_until <= %s", *f.ActiveBefore)
	}
	rows, err := s.db.QueryContext(ctx, `select `+grantColumns+` from access_grants`+w.sql()+` order by id`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []access.AccessGrant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Store) UpdateGrant(ctx context.Context, g access.AccessGrant) (access.AccessGrant, error) {
	a, err := encodeGrant(g)
	if err != nil {
		return access.AccessGrant{}, err
	}
	saved, err := scanGrant(s.db.QueryRowContext(ctx, `
		update access_grants
		set categories=$2, access_level=$3, justification=$4, restrictions=$5, valid_from=$6, valid_until=$7,
		    approval=$8, status=$9, revocation=$10, updated_at=$11, version=version+1
		where id=$1 and version=$12
		returning `+grantColumns,
		g.ID, a.categories, g.Level, g.Justification, a.restrictions, timeArg(g.Validity.Start),
		timeArg(g.Validity.End), a.approval, g.Status, a.revocation, g.UpdatedAt, g.Version))
	if errors.Is(err, sql.ErrNoRows) {
		return access.AccessGrant{}, s.missingOrConflict(ctx, "access_grants", g.ID)
	}
	return saved, err
}

func (s *Store) ExpireGrant(ctx context.Context, id string, version int64, at time.Time) (access.Cascade, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return access.Cascade{}, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update access_grants set status='expired', updated_at=$3, version=version+1
		where id=$1 and version=$2 and status='active' and valid_until <= $3
	`, id, version, at)
	if err != nil {
		return access.Cascade{}, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return access.Cascade{}, err
	} else if n == 0 {
		return access.Cascade{}, missingOrConflictTx(ctx, tx, "access_grants", id)
	}

	c := access.Cascade{GrantIDs: []string{id}}
	if c.Sessions, err = execCount(ctx, tx, `
		update vendor_sessions s set status='expired', version=s.version+1
		from access_tokens t
		where s.token_id=t.id and t.grant_id=$1 and t.status='active' and s.status='active'
	`, id); err != nil {
		return access.Cascade{}, err
	}
	if c.Tokens, err = execCount(ctx, tx, `
		update access_tokens set status='expired', version=version+1
		where grant_id=$1 and status='active'
	`, id); err != nil {
		return access.Cascade{}, err
	}
	if err := tx.Commit(); err != nil {
		return access.Cascade{}, err
	}
	return c, nil
}

// --- tokens ---

const tokenColumns = `id, grant_id, vendor_id, token_hash, issued_by, issued_at, expires_at, status, last_used_at, revoked_at, version`

func scanToken(row rowScanner) (access.AccessToken, error) {
	var (
		t             access.AccessToken
		used, revoked sql.NullTime
	)
	if err := row.Scan(&t.ID, &t.GrantID, &t.VendorID, &t.TokenHash, &t.IssuedBy, &t.IssuedAt,
		&t.ExpiresAt, &t.Status, &used, &revoked, &t.Version); err != nil {
		return access.AccessToken{}, err
	}
	t.LastUsedAt = nullTime(used)
	t.RevokedAt = nullTime(revoked)
	return t, nil
}

// CreateToken locks the grant row so a concurrent revoke either precedes the
// insert (and the insert is refused) or cascades over the new token.
func (s *Store) CreateToken(ctx context.Context, t access.AccessToken, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		status   string
		approval string
		until    sql.NullTime
	)
	err = tx.QueryRowContext(ctx, `
		select status, coalesce(approval->>'status', ''), valid_until from access_grants where id=$1 for share
	`, t.GrantID).Scan(&status, &approval, &until)
	if errors.Is(err, sql.ErrNoRows) {
		return access.ErrNotFound
	}
	if err != nil {
		return err
	}
	if status != string(access.GrantActive) || approval != string(access.ApprovalApproved) || !until.Valid || !at.Before(until.Time) {
		return access.ErrGrantInactive
	}
	if _, err := tx.ExecContext(ctx, `
		insert into access_tokens(`+tokenColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,null,null,1)
	`, t.ID, t.GrantID, t.VendorID, t.TokenHash, t.IssuedBy, t.IssuedAt, t.ExpiresAt, t.Status); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) FindTokenByHash(ctx context.Context, hash string) (access.AccessToken, error) {
	t, err := scanToken(s.db.QueryRowContext(ctx, `select `+tokenColumns+` from access_tokens where token_hash=$1`, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return access.AccessToken{}, access.ErrNotFound
	}
	return t, err
}

func (s *Store) ListTokens(ctx context.Context, grantID string) ([]access.AccessToken, error) {
	rows, err := s.db.QueryContext(ctx, `select `+tokenColumns+` from access_tokens where grant_id=$1 order by id`, grantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []access.AccessToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- sessions ---

const sessionColumns = `id, vendor_id, token_id, ip_address, user_agent, started_at, last_activity_at, expires_at, status, version`

func scanSession(row rowScanner) (access.VendorSession, error) {
	var v access.VendorSession
	err := row.Scan(&v.ID, &v.VendorID, &v.TokenID, &v.IPAddress, &v.UserAgent, &v.StartedAt,
		&v.LastActivityAt, &v.ExpiresAt, &v.Status, &v.Version)
	return v, err
}

// TouchSession updates the token row first: it blocks behind, and then
// observes, any in-flight revoke of the same token.
func (s *Store) TouchSession(ctx context.Context, t access.SessionTouch) (access.SessionResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return access.SessionResult{}, err
	}
	defer func() { _ = tx.Rollback() }()

	n, err := execCount(ctx, tx, `
		update access_tokens t set last_used_at=$2
		from access_grants g
		where t.id=$1 and t.status='active' and t.expires_at > $2
		  and g.id=t.grant_id and g.status='active' and g.valid_until > $2
	`, t.TokenID, t.At)
	if err != nil {
		return access.SessionResult{}, err
	}
	if n == 0 {
		return access.SessionResult{}, access.ErrTokenInactive
	}

	rows, err := tx.QueryContext(ctx, `
		select `+sessionColumns+` from vendor_sessions
		where token_id=$1 and status='active' and expires_at > $2
		for update
	`, t.TokenID, t.At)
	if err != nil {
		return access.SessionResult{}, err
	}
	var (
		res     access.SessionResult
		current *access.VendorSession
	)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			rows.Close()
			return access.SessionResult{}, err
		}
		if sess.IPAddress == t.IPAddress && current == nil {
			current = &sess
		} else if sess.IPAddress != t.IPAddress {
			res.OtherAddresses++
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return access.SessionResult{}, err
	}
	rows.Close()

	if current != nil {
		if _, err := tx.ExecContext(ctx, `
			update vendor_sessions set last_activity_at=$2, expires_at=$3, version=version+1 where id=$1
		`, current.ID, t.At, t.ExpiresAt); err != nil {
			return access.SessionResult{}, err
		}
		current.LastActivityAt = t.At
		current.ExpiresAt = t.ExpiresAt
		current.Version++
	} else {
		current = &access.VendorSession{
			ID:             t.NewID,
			VendorID:       t.VendorID,
			TokenID:        t.TokenID,
			IPAddress:      t.IPAddress,
			UserAgent:      t.UserAgent,
			StartedAt:      t.At,
			LastActivityAt: t.At,
			ExpiresAt:      t.ExpiresAt,
			Status:         access.SessionActive,
			Version:        1,
		}
		if _, err := tx.ExecContext(ctx, `
			insert into vendor_sessions(`+sessionColumns+`)
			values ($1,$2,$3,$4,$5,$6,$6,$7,'active',1)
		`, current.ID, current.VendorID, current.TokenID, current.IPAddress, current.UserAgent,
			t.At, t.ExpiresAt); err != nil {
			return access.SessionResult{}, err
		}
		res.Created = true
	}
	if err := tx.Commit(); err != nil {
		return access.SessionResult{}, err
	}
	res.Session = *current
	return res, nil
}

func (s *Store) ListSessions(ctx context.Context, f access.SessionFilter) ([]access.VendorSession, error) {
	var w where
	if f.VendorID != "" {
		w.add("vendor_id = %s", f.VendorID)
	}
	if f.TokenID != "" {
		w.add("token_id = %s", f.TokenID)
	}
	if f.Status != "" {
		w.add("status = %s", f.Status)
	}
	q := `select ` + sessionColumns + ` from vendor_sessions` + w.sql() + ` order by started_at desc, id desc`
	if f.Limit > 0 {
		q += fmt.Sprintf(" limit %d", f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, q, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []access.VendorSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *Store) ExpireSessions(ctx context.Context, at time.Time) (int, error) {
	return execCount(ctx, s.db, `
		update vendor_sessions set status='expired', version=version+1
		where status='active' and expires_at <= $1
	`, at)
}

// --- revocation ---

// Revoke cascades grant, token and session changes in one transaction. Tokens
// are updated before sessions so concurrent TouchSession calls queue behind
// the token row locks.
func (s *Store) Revoke(ctx context.Context, scope access.RevokeScope, rev access.Revocation) (access.Cascade, error) {
	if scope.GrantID == "" && scope.VendorID == "" && !scope.All {
		return access.Cascade{}, &access.FieldError{Field: "scope", Message: "grant, vendor or all is required"}
	}
	revJSON, err := encodeJSON(rev, "null")
	if err != nil {
		return access.Cascade{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return access.Cascade{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		grantScope   = "true"
		tokenScope   = "true"
		sessionScope = "true"
		args         = []any{rev.RevokedAt}
	)
	switch {
	case scope.GrantID != "":
		if err := lockRow(ctx, tx, "access_grants", scope.GrantID); err != nil {
			return access.Cascade{}, err
		}
		grantScope, tokenScope, sessionScope = "id = $2", "grant_id = $2", "t.grant_id = $2"
		args = append(args, scope.GrantID)
	case scope.VendorID != "":
		if err := lockRow(ctx, tx, "vendors", scope.VendorID); err != nil {
			return access.Cascade{}, err
		}
		grantScope, tokenScope, sessionScope = "vendor_id = $2", "vendor_id = $2", "t.vendor_id = $2"
		args = append(args, scope.VendorID)
	}

	var c access.Cascade
	rows, err := tx.QueryContext(ctx, `
		update access_grants set status='revoked', revocation=$`+fmt.Sprint(len(args)+1)+`, updated_at=$1, version=version+1
		where status in ('pending_approval','active') and `+grantScope+`
		returning id
	`, append(args, revJSON)...)
	if err != nil {
		return access.Cascade{}, err
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return access.Cascade{}, err
		}
		c.GrantIDs = append(c.GrantIDs, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return access.Cascade{}, err
	}
	rows.Close()

	if c.Tokens, err = execCount(ctx, tx, `
		update access_tokens set status='revoked', revoked_at=$1, version=version+1
		where status='active' and `+tokenScope, args...); err != nil {
		return access.Cascade{}, err
	}
	if c.Sessions, err = execCount(ctx, tx, `
		update vendor_sessions s set status='terminated', version=s.version+1
		from access_tokens t
		where s.token_id=t.id and s.status='active' and `+sessionScope, args...); err != nil {
		return access.Cascade{}, err
	}
	if scope.VendorID != "" {
		if _, err := tx.ExecContext(ctx, `
			update vendors set status='suspended', updated_at=$1, version=version+1
			where id=$2 and status <> 'suspended'
		`, args...); err != nil {
			return access.Cascade{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		if pgCode(err) == codeSerialization {
			return access.Cascade{}, fmt.Errorf("%w: revoke: %w", access.ErrInfrastructure, err)
		}
		return access.Cascade{}, err
	}
	return c, nil
}

// --- activity ---

func (s *Store) AppendActivity(ctx context.Context, e audit.Entry) error {
	meta, err := encodeJSON(e.Metadata, "{}")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into vendor_activity(id, occurred_at, action, severity, outcome, actor_id, vendor_id, grant_id,
			token_id, session_id, ip_address, endpoint, reason, risk_score, request_id, metadata, signature)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		on conflict (id) do nothing
	`, e.ID, e.OccurredAt, e.Action, e.Severity, e.Outcome, e.ActorID, e.VendorID, e.GrantID,
		e.TokenID, e.SessionID, e.IPAddress, e.Endpoint, e.Reason, e.RiskScore, e.RequestID, meta, e.Signature)
	return err
}

func (s *Store) ListActivity(ctx context.Context, f access.ActivityFilter) ([]audit.Entry, error) {
	var w where
	if f.VendorID != "" {
		w.add("vendor_id = %s", f.VendorID)
	}
	if !f.Since.IsZero() {
		w.add("occurred_at >= %s", f.Since)
	}
	q := `select id, occurred_at, action, severity, outcome, actor_id, vendor_id, grant_id, token_id,
		session_id, ip_address, endpoint, reason, risk_score, request_id, metadata, signature
		from vendor_activity` + w.sql() + ` order by occurred_at desc, id desc`
	if f.Limit > 0 {
		q += fmt.Sprintf(" limit %d", f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, q, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []audit.Entry
	for rows.Next() {
		var (
			e    audit.Entry
			meta []byte
		)
		if err := rows.Scan(&e.ID, &e.OccurredAt, &e.Action, &e.Severity, &e.Outcome, &e.ActorID,
			&e.VendorID, &e.GrantID, &e.TokenID, &e.SessionID, &e.IPAddress, &e.Endpoint, &e.Reason,
			&e.RiskScore, &e.RequestID, &meta, &e.Signature); err != nil {
			return nil, err
		}
		if err := decodeJSON(meta, &e.Metadata); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- helpers ---

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func execCount(ctx context.Context, db execer, query string, args ...any) (int, error) {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func lockRow(ctx context.Context, q querier, table, id string) error {
	var one int
	err := q.QueryRowContext(ctx, `select 1 from `+table+` where id=$1 for update`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return access.ErrNotFound
	}
	return err
}

func (s *Store) missingOrConflict(ctx context.Context, table, id string) error {
	return missingOrConflictTx(ctx, s.db, table, id)
}

func missingOrConflictTx(ctx context.Context, q querier, table, id string) error {
	var one int
	err := q.QueryRowContext(ctx, `select 1 from `+table+` where id=$1`, id).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return access.ErrNotFound
	case err != nil:
		return err
	}
	return access.ErrVersionConflict
}

// where builds a positional-parameter WHERE clause.
type where struct {
	conds []string
	args  []any
}

func (w *where) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(cond, fmt.Sprintf("$%d", len(w.args))))
}

func (w *where) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " where " + strings.Join(w.conds, " and ")
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func encodeJSON(v any, empty string) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if string(b) == "null" {
		return empty, nil
	}
	return string(b), nil
}

func decodeJSON(raw []byte, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func timeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
