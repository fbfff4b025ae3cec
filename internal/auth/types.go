package auth

import "time"

// Role is the closed set of platform roles. Exactly one role per account;
// transitions happen only through explicit AssignRole calls.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleParent  Role = "parent"
	RoleStudent Role = "student"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTeacher, RoleParent, RoleStudent:
		return true
	}
	return false
}

// roleAuthority is the fixed management hierarchy: which roles a given role
// may assign or revoke. It grants no resource permissions by itself.
var roleAuthority = map[Role][]Role{
	RoleAdmin:   {RoleAdmin, RoleTeacher, RoleParent, RoleStudent},
	RoleTeacher: {RoleStudent},
}

// Manages reports whether r has management authority over target.
func (r Role) Manages(target Role) bool {
	for _, t := range roleAuthority[r] {
		if t == target {
			return true
		}
	}
	return false
}

// AccountStatus is the lifecycle state of a user account.
type AccountStatus string

const (
	StatusActive              AccountStatus = "active"
	StatusInactive            AccountStatus = "inactive"
	StatusSuspended           AccountStatus = "suspended"
	StatusPendingVerification AccountStatus = "pending_verification"
)

// Valid reports whether s is one of the known statuses.
func (s AccountStatus) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusSuspended, StatusPendingVerification:
		return true
	}
	return false
}

// UserAccount represents a platform account. Mutated only through Service
// operations.
type UserAccount struct {
	ID            string        `json:"id"`
	Email         string        `json:"email"`
	Username      string        `json:"username,omitempty"`
	FirstName     string        `json:"first_name,omitempty"`
	LastName      string        `json:"last_name,omitempty"`
	Role          Role          `json:"role"`
	Status        AccountStatus `json:"status"`
	PasswordHash  string        `json:"-"`
	FailedLogins  int           `json:"-"`
	EmailVerified bool          `json:"email_verified"`
	LastLoginAt   *time.Time    `json:"last_login_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Session is a server-issued, time-bounded proof of authentication. A session
// is valid iff IsActive, not expired, and the owning account is still active;
// that conjunction is re-checked on every validation call.
type Session struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Token       string    `json:"-"`
	RefreshHash string    `json:"-"`
	LoginMethod string    `json:"login_method"`
	IP          string    `json:"ip,omitempty"`
	UserAgent   string    `json:"user_agent,omitempty"`
	IsActive    bool      `json:"is_active"`
	ExpiresAt   time.Time `json:"expires_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// Wildcard matches any resource or action in a permission grant.
const Wildcard = "*"

// Permission is a fine-grained capability over a (resource, action) pair.
// Either side may be the wildcard.
type Permission struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Resource  string    `json:"resource"`
	Action    string    `json:"action"`
	CreatedAt time.Time `json:"created_at"`
}

// Matches reports whether the grant covers the requested pair, and with what
// precedence rank (lower is more specific). Rank is used for the reported
// reason only; any match grants.
func (p Permission) Matches(resource, action string) (rank int, ok bool) {
	switch {
	case p.Resource == resource && p.Action == action:
		return 0, true
	case p.Resource == resource && p.Action == Wildcard:
		return 1, true
	case p.Resource == Wildcard && p.Action == action:
		return 2, true
	case p.Resource == Wildcard && p.Action == Wildcard:
		return 3, true
	}
	return 0, false
}

// RolePermission is a default grant for every account holding a role.
type RolePermission struct {
	Role         Role      `json:"role"`
	PermissionID string    `json:"permission_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserPermission is a per-user override on top of role grants. Expired
// overrides are excluded from resolution.
type UserPermission struct {
	UserID     string     `json:"user_id"`
	Permission Permission `json:"permission"`
	GrantedBy  string     `json:"granted_by"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// FailedLoginAttempt is an append-only record used to compute lockouts.
type FailedLoginAttempt struct {
	ID         string    `json:"id"`
	Identifier string    `json:"identifier"`
	IP         string    `json:"ip"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}

// AccountLockout is a temporary, account-scoped login denial. At most one
// active lockout per user; a new lockout supersedes rather than stacks.
type AccountLockout struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Reason      string    `json:"reason"`
	LockedUntil time.Time `json:"locked_until"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// RiskLevel classifies audit entries.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// AuditEntry is an append-only record of a security-relevant event. The audit
// log keeps the precise internal reason even when the user-facing response is
// deliberately generic.
type AuditEntry struct {
	ID          string            `json:"id"`
	OccurredAt  time.Time         `json:"occurred_at"`
	Event       string            `json:"event"`
	Category    string            `json:"category"`
	ActorID     string            `json:"actor_id,omitempty"`
	Success     bool              `json:"success"`
	Risk        RiskLevel         `json:"risk"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}
