package auth

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

	"edugate.org/internal/ids"
)

// PGStore is the PostgreSQL-backed Store. All statements are single-row
// atomic; the only multi-statement operation (lockout supersession) runs in
// its own transaction.
type PGStore struct {
	db *sql.DB
}

// NewPGStore wraps an existing pool.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// Open connects to PostgreSQL via the pgx stdlib driver and verifies the
// connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func (s *PGStore) Users(context.Context) UserStore             { return &pgUserStore{db: s.db} }
func (s *PGStore) Sessions(context.Context) SessionStore       { return &pgSessionStore{db: s.db} }
func (s *PGStore) Permissions(context.Context) PermissionStore { return &pgPermissionStore{db: s.db} }
func (s *PGStore) Attempts(context.Context) AttemptStore       { return &pgAttemptStore{db: s.db} }
func (s *PGStore) Audit(context.Context) AuditStore            { return &pgAuditStore{db: s.db} }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type pgUserStore struct {
	db *sql.DB
}

const userColumns = `id, email, username, first_name, last_name, role, status,
	password_hash, failed_logins, email_verified, last_login_at, created_at, updated_at`

func (s *pgUserStore) Create(ctx context.Context, u *UserAccount) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_accounts (id, email, username, first_name, last_name, role, status,
			password_hash, failed_logins, email_verified, created_at, updated_at)
		values ($1, $2, nullif($3, ''), $4, $5, $6, $7, $8, 0, $9, $10, $11)`,
		u.ID, u.Email, u.Username, u.FirstName, u.LastName, u.Role, u.Status,
		u.PasswordHash, u.EmailVerified, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *pgUserStore) Find(ctx context.Context, id string) (*UserAccount, error) {
	return s.findBy(ctx, "id = $1", id)
}

func (s *pgUserStore) FindByEmail(ctx context.Context, email string) (*UserAccount, error) {
	return s.findBy(ctx, "email = $1", email)
}

func (s *pgUserStore) FindByUsername(ctx context.Context, username string) (*UserAccount, error) {
	return s.findBy(ctx, "username = $1", username)
}

func (s *pgUserStore) findBy(ctx context.Context, where string, arg any) (*UserAccount, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from user_accounts where `+where, arg)
	var (
		u         UserAccount
		username  sql.NullString
		lastLogin sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &username, &u.FirstName, &u.LastName, &u.Role, &u.Status,
		&u.PasswordHash, &u.FailedLogins, &u.EmailVerified, &lastLogin, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select user: %w", err)
	}
	u.Username = username.String
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	return &u, nil
}

// Update applies only the non-nil fields, building the statement dynamically.
func (s *pgUserStore) Update(ctx context.Context, id string, upd UserUpdate) error {
	sets := []string{"updated_at = now()"}
	args := []any{id}
	next := 2
	if upd.Status != nil {
		sets = append(sets, fmt.Sprintf("status = $%d", next))
		args = append(args, *upd.Status)
		next++
	}
	if upd.Role != nil {
		sets = append(sets, fmt.Sprintf("role = $%d", next))
		args = append(args, *upd.Role)
		next++
	}
	if upd.EmailVerified != nil {
		sets = append(sets, fmt.Sprintf("email_verified = $%d", next))
		args = append(args, *upd.EmailVerified)
		next++
	}
	if upd.LastLoginAt != nil {
		sets = append(sets, fmt.Sprintf("last_login_at = $%d", next))
		args = append(args, *upd.LastLoginAt)
		next++
	}

	res, err := s.db.ExecContext(ctx,
		`update user_accounts set `+strings.Join(sets, ", ")+` where id = $1`, args...)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgUserStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `
		update user_accounts set password_hash = $2, updated_at = now() where id = $1`,
		id, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

type pgSessionStore struct {
	db *sql.DB
}

const sessionColumns = `id, user_id, token, refresh_hash, login_method, ip, user_agent,
	is_active, expires_at, last_seen_at, created_at`

func (s *pgSessionStore) Create(ctx context.Context, sess *Session) error {
	_, err := s.db.ExecContext(ctx, `
		insert into sessions (id, user_id, token, refresh_hash, login_method, ip, user_agent,
			is_active, expires_at, last_seen_at, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		sess.ID, sess.UserID, sess.Token, sess.RefreshHash, sess.LoginMethod, sess.IP,
		sess.UserAgent, sess.IsActive, sess.ExpiresAt, sess.LastSeenAt, sess.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *pgSessionStore) FindByToken(ctx context.Context, token string) (*Session, error) {
	return s.findBy(ctx, "token = $1", token)
}

func (s *pgSessionStore) FindByRefreshHash(ctx context.Context, refreshHash string) (*Session, error) {
	return s.findBy(ctx, "refresh_hash = $1", refreshHash)
}

func (s *pgSessionStore) findBy(ctx context.Context, where string, arg any) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+sessionColumns+` from sessions where `+where, arg)
	var sess Session
	err := row.Scan(&sess.ID, &sess.UserID, &sess.Token, &sess.RefreshHash, &sess.LoginMethod,
		&sess.IP, &sess.UserAgent, &sess.IsActive, &sess.ExpiresAt, &sess.LastSeenAt, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}
	return &sess, nil
}

func (s *pgSessionStore) UpdateTokens(ctx context.Context, id, token, refreshHash string, expiresAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update sessions set token = $2, refresh_hash = $3, expires_at = $4
		where id = $1 and is_active`,
		id, token, refreshHash, expiresAt)
	if err != nil {
		return fmt.Errorf("rotate session tokens: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rotate session tokens: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *pgSessionStore) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`update sessions set last_seen_at = $2 where id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

func (s *pgSessionStore) Invalidate(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`update sessions set is_active = false where id = $1 and is_active`, id)
	if err != nil {
		return false, fmt.Errorf("invalidate session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("invalidate session: %w", err)
	}
	return affected > 0, nil
}

func (s *pgSessionStore) InvalidateAllForUser(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`update sessions set is_active = false where user_id = $1 and is_active`, userID)
	if err != nil {
		return 0, fmt.Errorf("invalidate user sessions: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("invalidate user sessions: %w", err)
	}
	return affected, nil
}

func (s *pgSessionStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from sessions where expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return affected, nil
}

type pgPermissionStore struct {
	db *sql.DB
}

func (s *pgPermissionStore) Ensure(ctx context.Context, perms []Permission) error {
	for _, p := range perms {
		_, err := s.db.ExecContext(ctx, `
			insert into permissions (id, name, resource, action, created_at)
			values ($1, $2, $3, $4, now())
			on conflict (name) do nothing`,
			ids.New(), p.Name, p.Resource, p.Action)
		if err != nil {
			return fmt.Errorf("ensure permission %s: %w", p.Name, err)
		}
	}
	return nil
}

func (s *pgPermissionStore) List(ctx context.Context) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, resource, action, created_at from permissions order by name`)
	if err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	defer rows.Close()
	return scanPermissions(rows)
}

func (s *pgPermissionStore) FindByName(ctx context.Context, name string) (*Permission, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, name, resource, action, created_at from permissions where name = $1`, name)
	var p Permission
	err := row.Scan(&p.ID, &p.Name, &p.Resource, &p.Action, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select permission: %w", err)
	}
	return &p, nil
}

func (s *pgPermissionStore) ForRole(ctx context.Context, role Role) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select p.id, p.name, p.resource, p.action, p.created_at
		from permissions p
		join role_permissions rp on rp.permission_id = p.id
		where rp.role = $1
		order by p.name`, role)
	if err != nil {
		return nil, fmt.Errorf("role permissions: %w", err)
	}
	defer rows.Close()
	return scanPermissions(rows)
}

func (s *pgPermissionStore) ForUser(ctx context.Context, userID string, now time.Time) ([]UserPermission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select p.id, p.name, p.resource, p.action, p.created_at,
			up.granted_by, up.expires_at, up.created_at
		from permissions p
		join user_permissions up on up.permission_id = p.id
		where up.user_id = $1 and (up.expires_at is null or up.expires_at > $2)
		order by p.name`, userID, now)
	if err != nil {
		return nil, fmt.Errorf("user permissions: %w", err)
	}
	defer rows.Close()

	var grants []UserPermission
	for rows.Next() {
		var (
			g         UserPermission
			expiresAt sql.NullTime
		)
		g.UserID = userID
		if err := rows.Scan(&g.Permission.ID, &g.Permission.Name, &g.Permission.Resource,
			&g.Permission.Action, &g.Permission.CreatedAt,
			&g.GrantedBy, &expiresAt, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user permission: %w", err)
		}
		if expiresAt.Valid {
			t := expiresAt.Time
			g.ExpiresAt = &t
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

func (s *pgPermissionStore) GrantToRole(ctx context.Context, role Role, permissionID string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into role_permissions (role, permission_id, created_at)
		values ($1, $2, now())
		on conflict (role, permission_id) do nothing`,
		role, permissionID)
	if err != nil {
		return fmt.Errorf("grant role permission: %w", err)
	}
	return nil
}

func (s *pgPermissionStore) RevokeFromRole(ctx context.Context, role Role, permissionID string) error {
	_, err := s.db.ExecContext(ctx, `
		delete from role_permissions where role = $1 and permission_id = $2`,
		role, permissionID)
	if err != nil {
		return fmt.Errorf("revoke role permission: %w", err)
	}
	return nil
}

func (s *pgPermissionStore) GrantToUser(ctx context.Context, grant UserPermission) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_permissions (user_id, permission_id, granted_by, expires_at, created_at)
		values ($1, $2, $3, $4, $5)
		on conflict (user_id, permission_id)
		do update set granted_by = excluded.granted_by, expires_at = excluded.expires_at`,
		grant.UserID, grant.Permission.ID, grant.GrantedBy, grant.ExpiresAt, grant.CreatedAt)
	if err != nil {
		return fmt.Errorf("grant user permission: %w", err)
	}
	return nil
}

func (s *pgPermissionStore) RevokeFromUser(ctx context.Context, userID, permissionID string) error {
	_, err := s.db.ExecContext(ctx, `
		delete from user_permissions where user_id = $1 and permission_id = $2`,
		userID, permissionID)
	if err != nil {
		return fmt.Errorf("revoke user permission: %w", err)
	}
	return nil
}

func scanPermissions(rows *sql.Rows) ([]Permission, error) {
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Resource, &p.Action, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

type pgAttemptStore struct {
	db *sql.DB
}

func (s *pgAttemptStore) RecordFailure(ctx context.Context, attempt *FailedLoginAttempt) error {
	_, err := s.db.ExecContext(ctx, `
		insert into failed_login_attempts (id, identifier, ip, reason, occurred_at)
		values ($1, $2, $3, $4, $5)`,
		attempt.ID, attempt.Identifier, attempt.IP, attempt.Reason, attempt.OccurredAt)
	if err != nil {
		return fmt.Errorf("record failed attempt: %w", err)
	}
	return nil
}

// IncrementFailedLogins uses a returning clause so the increment and the read
// are one statement; concurrent failures cannot race past the threshold.
func (s *pgAttemptStore) IncrementFailedLogins(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		update user_accounts set failed_logins = failed_logins + 1, updated_at = now()
		where id = $1
		returning failed_logins`, userID).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment failed logins: %w", err)
	}
	return count, nil
}

func (s *pgAttemptStore) ResetFailedLogins(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		update user_accounts set failed_logins = 0, updated_at = now() where id = $1`, userID)
	if err != nil {
		return fmt.Errorf("reset failed logins: %w", err)
	}
	return nil
}

// CreateLockout supersedes any previous lockout inside a transaction so at
// most one row is active per user.
func (s *pgAttemptStore) CreateLockout(ctx context.Context, lockout *AccountLockout) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin lockout tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		update account_lockouts set is_active = false where user_id = $1 and is_active`,
		lockout.UserID); err != nil {
		return fmt.Errorf("deactivate previous lockout: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		insert into account_lockouts (id, user_id, reason, locked_until, is_active, created_at)
		values ($1, $2, $3, $4, $5, $6)`,
		lockout.ID, lockout.UserID, lockout.Reason, lockout.LockedUntil,
		lockout.IsActive, lockout.CreatedAt); err != nil {
		return fmt.Errorf("insert lockout: %w", err)
	}
	return tx.Commit()
}

func (s *pgAttemptStore) ActiveLockout(ctx context.Context, userID string, now time.Time) (*AccountLockout, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, user_id, reason, locked_until, is_active, created_at
		from account_lockouts
		where user_id = $1 and is_active and locked_until > $2
		order by created_at desc
		limit 1`, userID, now)
	var l AccountLockout
	err := row.Scan(&l.ID, &l.UserID, &l.Reason, &l.LockedUntil, &l.IsActive, &l.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select lockout: %w", err)
	}
	return &l, nil
}

func (s *pgAttemptStore) ClearLockout(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		update account_lockouts set is_active = false where user_id = $1 and is_active`, userID)
	if err != nil {
		return fmt.Errorf("clear lockout: %w", err)
	}
	return nil
}

type pgAuditStore struct {
	db *sql.DB
}

func (s *pgAuditStore) Append(ctx context.Context, entry *AuditEntry) error {
	var metadata []byte
	if len(entry.Metadata) > 0 {
		var err error
		metadata, err = json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_log (id, occurred_at, event, category, actor_id, success, risk, description, metadata)
		values ($1, $2, $3, $4, nullif($5, ''), $6, $7, $8, $9)`,
		entry.ID, entry.OccurredAt, entry.Event, entry.Category, entry.ActorID,
		entry.Success, entry.Risk, entry.Description, metadata)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}
