package auth

import (
	"context"
	"time"
)

// Store describes the persistence operations required by the auth subsystem.
// Implementations must make each call atomic at the row level; the core never
// assumes cross-call transactions.
type Store interface {
	Users(ctx context.Context) UserStore
	Sessions(ctx context.Context) SessionStore
	Permissions(ctx context.Context) PermissionStore
	Attempts(ctx context.Context) AttemptStore
	Audit(ctx context.Context) AuditStore
}

// UserUpdate is a partial update of mutable account fields. Nil fields are
// left untouched.
type UserUpdate struct {
	Status        *AccountStatus
	Role          *Role
	EmailVerified *bool
	LastLoginAt   *time.Time
}

// UserStore manages user accounts.
type UserStore interface {
	Create(ctx context.Context, u *UserAccount) error
	Find(ctx context.Context, id string) (*UserAccount, error)
	FindByEmail(ctx context.Context, email string) (*UserAccount, error)
	FindByUsername(ctx context.Context, username string) (*UserAccount, error)
	Update(ctx context.Context, id string, upd UserUpdate) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

// SessionStore manages session rows.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	FindByToken(ctx context.Context, token string) (*Session, error)
	FindByRefreshHash(ctx context.Context, refreshHash string) (*Session, error)
	// UpdateTokens rotates the bearer token and refresh hash in one statement.
	UpdateTokens(ctx context.Context, id, token, refreshHash string, expiresAt time.Time) error
	Touch(ctx context.Context, id string, at time.Time) error
	Invalidate(ctx context.Context, id string) (bool, error)
	InvalidateAllForUser(ctx context.Context, userID string) (int64, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// PermissionStore manages the permission catalog, role grants and per-user
// overrides.
type PermissionStore interface {
	Ensure(ctx context.Context, perms []Permission) error
	List(ctx context.Context) ([]Permission, error)
	FindByName(ctx context.Context, name string) (*Permission, error)
	ForRole(ctx context.Context, role Role) ([]Permission, error)
	// ForUser returns only overrides that have not expired as of now.
	ForUser(ctx context.Context, userID string, now time.Time) ([]UserPermission, error)
	GrantToRole(ctx context.Context, role Role, permissionID string) error
	RevokeFromRole(ctx context.Context, role Role, permissionID string) error
	GrantToUser(ctx context.Context, grant UserPermission) error
	RevokeFromUser(ctx context.Context, userID, permissionID string) error
}

// AttemptStore manages failure counters and lockouts.
type AttemptStore interface {
	RecordFailure(ctx context.Context, attempt *FailedLoginAttempt) error
	// IncrementFailedLogins atomically increments the account's failure
	// counter and returns the new value, so concurrent failures cannot race
	// past the lockout threshold.
	IncrementFailedLogins(ctx context.Context, userID string) (int, error)
	ResetFailedLogins(ctx context.Context, userID string) error
	// CreateLockout deactivates any previous lockout for the user before
	// inserting the new one.
	CreateLockout(ctx context.Context, lockout *AccountLockout) error
	ActiveLockout(ctx context.Context, userID string, now time.Time) (*AccountLockout, error)
	ClearLockout(ctx context.Context, userID string) error
}

// AuditStore appends immutable entries. The core never mutates or deletes
// them.
type AuditStore interface {
	Append(ctx context.Context, entry *AuditEntry) error
}
