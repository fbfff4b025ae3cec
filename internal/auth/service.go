package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"edugate.org/internal/ids"
	"edugate.org/internal/obs"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
	defaultIssuerName = "edugate"
)

// Service composes the password policy, attempt tracker, session manager and
// permission resolver over a Store to implement registration, login, logout,
// password change and access checks as atomic, audited operations.
//
// User-facing failures are deliberately generic; the audit log keeps the
// precise internal reason.
type Service struct {
	store    Store
	policy   PasswordPolicy
	issuer   *Issuer
	tracker  *Tracker
	resolver *Resolver
	sessions *SessionManager
	now      func() time.Time

	secret              string
	issuerName          string
	accessTTL           time.Duration
	refreshTTL          time.Duration
	sessionTTL          time.Duration
	trackerCfg          TrackerConfig
	cacheTTL            time.Duration
	requireVerification bool
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithTokenSecret sets the HS256 signing secret. Required.
func WithTokenSecret(secret string) ServiceOption {
	return func(s *Service) error {
		s.secret = strings.TrimSpace(secret)
		return nil
	}
}

// WithTokenIssuer overrides the token issuer claim.
func WithTokenIssuer(name string) ServiceOption {
	return func(s *Service) error {
		if name = strings.TrimSpace(name); name != "" {
			s.issuerName = name
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithSessionTTL configures session row lifetime.
func WithSessionTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
		return nil
	}
}

// WithPasswordPolicy overrides the default password rules.
func WithPasswordPolicy(policy PasswordPolicy) ServiceOption {
	return func(s *Service) error {
		s.policy = policy
		return nil
	}
}

// WithLockoutPolicy configures the failure threshold and lockout duration.
func WithLockoutPolicy(threshold int, duration time.Duration) ServiceOption {
	return func(s *Service) error {
		s.trackerCfg.LockoutThreshold = threshold
		s.trackerCfg.LockoutDuration = duration
		return nil
	}
}

// WithIPThrottle configures the per-IP attempt window.
func WithIPThrottle(maxHits int, window time.Duration) ServiceOption {
	return func(s *Service) error {
		s.trackerCfg.ThrottleMaxHits = maxHits
		s.trackerCfg.ThrottleWindow = window
		return nil
	}
}

// WithPermissionCacheTTL configures how long permission resolutions may be
// cached. Grants and revokes invalidate synchronously regardless.
func WithPermissionCacheTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.cacheTTL = ttl
		}
		return nil
	}
}

// WithEmailVerification gates new registrations behind email verification.
func WithEmailVerification(required bool) ServiceOption {
	return func(s *Service) error {
		s.requireVerification = required
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs the Service and its collaborators.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	svc := &Service{
		store:      store,
		policy:     DefaultPasswordPolicy(),
		now:        time.Now,
		issuerName: defaultIssuerName,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}

	issuer, err := NewIssuer(svc.secret, svc.issuerName, svc.accessTTL, svc.refreshTTL)
	if err != nil {
		return nil, err
	}
	issuer.now = svc.now
	svc.issuer = issuer

	svc.tracker = NewTracker(store, svc.trackerCfg)
	svc.tracker.now = svc.now

	svc.resolver = NewResolver(store, svc.cacheTTL)
	svc.resolver.now = svc.now

	svc.sessions = NewSessionManager(store, issuer, svc.sessionTTL)
	svc.sessions.now = svc.now

	return svc, nil
}

// EnsurePermissions makes sure the builtin permission catalog exists.
func (s *Service) EnsurePermissions(ctx context.Context) error {
	return s.store.Permissions(ctx).Ensure(ctx, BuiltinPermissions)
}

// RegisterInput is the registration request.
type RegisterInput struct {
	Email     string
	Username  string
	Password  string
	FirstName string
	LastName  string
	Role      Role
}

// RegisterResult is returned on successful registration. VerificationToken is
// set only when email verification is required; delivering it is the caller's
// concern.
type RegisterResult struct {
	User              *UserAccount
	VerificationToken string
}

// Register creates a new account: uniqueness check, password policy, hash,
// create, optional verification token. Failures are audited even though no
// account was created.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*RegisterResult, error) {
	email := strings.TrimSpace(strings.ToLower(input.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, &ValidationError{Field: "email", Violations: []string{"a valid email is required"}}
	}
	username := strings.TrimSpace(strings.ToLower(input.Username))

	role := input.Role
	if role == "" {
		role = RoleStudent
	}
	if !role.Valid() {
		return nil, &ValidationError{Field: "role", Violations: []string{fmt.Sprintf("unknown role %q", input.Role)}}
	}

	info := UserInfo{Email: email, Username: username, FirstName: input.FirstName, LastName: input.LastName}
	if result := s.policy.Validate(input.Password, info); !result.OK {
		s.audit(ctx, AuditEntry{
			Event:       "registration.rejected",
			Category:    "registration",
			Success:     false,
			Risk:        RiskLow,
			Description: "password policy violation",
			Metadata:    map[string]string{"email": email},
		})
		return nil, &ValidationError{Field: "password", Violations: result.Violations}
	}

	if _, err := s.store.Users(ctx).FindByEmail(ctx, email); err == nil {
		s.audit(ctx, AuditEntry{
			Event:       "registration.rejected",
			Category:    "registration",
			Success:     false,
			Risk:        RiskLow,
			Description: "email already registered",
			Metadata:    map[string]string{"email": email},
		})
		return nil, ErrAlreadyExists
	} else if !errors.Is(err, ErrNotFound) {
		return nil, s.internalError(ctx, "registration", "registration.failed", err)
	}
	if username != "" {
		if _, err := s.store.Users(ctx).FindByUsername(ctx, username); err == nil {
			return nil, ErrAlreadyExists
		} else if !errors.Is(err, ErrNotFound) {
			return nil, s.internalError(ctx, "registration", "registration.failed", err)
		}
	}

	hash, err := HashPassword(input.Password)
	if err != nil {
		return nil, s.internalError(ctx, "registration", "registration.failed", err)
	}

	status := StatusActive
	if s.requireVerification {
		status = StatusPendingVerification
	}
	now := s.now().UTC()
	user := &UserAccount{
		ID:           ids.New(),
		Email:        email,
		Username:     username,
		FirstName:    strings.TrimSpace(input.FirstName),
		LastName:     strings.TrimSpace(input.LastName),
		Role:         role,
		Status:       status,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Users(ctx).Create(ctx, user); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return nil, ErrAlreadyExists
		}
		return nil, s.internalError(ctx, "registration", "registration.failed", err)
	}

	result := &RegisterResult{User: user}
	if s.requireVerification {
		token, err := GenerateOpaqueToken()
		if err != nil {
			return nil, s.internalError(ctx, "registration", "registration.failed", err)
		}
		result.VerificationToken = token
	}

	s.audit(ctx, AuditEntry{
		Event:    "registration.created",
		Category: "registration",
		ActorID:  user.ID,
		Success:  true,
		Risk:     RiskLow,
		Metadata: map[string]string{"email": email, "role": string(role), "status": string(status)},
	})
	return result, nil
}

// LoginResult is returned on successful authentication.
type LoginResult struct {
	User         *UserAccount
	Session      *Session
	AccessToken  string
	RefreshToken string
}

// Login runs the full authentication state machine: IP throttle, account
// lookup, status and lockout checks, hash comparison, counter bookkeeping,
// session issuance. The throttle and lockout checks run before the hash
// comparison so a blocked actor never learns whether the password matched.
func (s *Service) Login(ctx context.Context, identifier, password string, meta SessionMetadata) (*LoginResult, error) {
	identifier = strings.TrimSpace(strings.ToLower(identifier))
	if identifier == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	if blocked, retryAfter := s.tracker.IsBlocked(meta.IP); blocked {
		obs.ObserveLogin("throttled")
		s.audit(ctx, AuditEntry{
			Event:       "login.throttled",
			Category:    "login",
			Success:     false,
			Risk:        RiskMedium,
			Description: "ip request window exceeded",
			Metadata:    map[string]string{"identifier": identifier, "ip": meta.IP},
		})
		return nil, &RateLimitError{RetryAfter: retryAfter}
	}

	user, err := s.findByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			if _, rerr := s.tracker.RecordFailure(ctx, identifier, meta.IP, "unknown identifier", nil); rerr != nil {
				return nil, s.internalError(ctx, "login", "login.failed", rerr)
			}
			obs.ObserveLogin("invalid_credentials")
			s.audit(ctx, AuditEntry{
				Event:       "login.failed",
				Category:    "login",
				Success:     false,
				Risk:        RiskMedium,
				Description: "unknown identifier",
				Metadata:    map[string]string{"identifier": identifier, "ip": meta.IP},
			})
			return nil, ErrInvalidCredentials
		}
		return nil, s.internalError(ctx, "login", "login.failed", err)
	}

	if user.Status != StatusActive {
		obs.ObserveLogin("inactive")
		s.audit(ctx, AuditEntry{
			Event:       "login.rejected",
			Category:    "login",
			ActorID:     user.ID,
			Success:     false,
			Risk:        RiskMedium,
			Description: "account status " + string(user.Status),
			Metadata:    map[string]string{"ip": meta.IP},
		})
		return nil, ErrAccountInactive
	}

	lockout, err := s.tracker.ActiveLockout(ctx, user.ID)
	if err != nil {
		return nil, s.internalError(ctx, "login", "login.failed", err)
	}
	if lockout != nil {
		obs.ObserveLogin("locked")
		s.audit(ctx, AuditEntry{
			Event:       "login.rejected",
			Category:    "login",
			ActorID:     user.ID,
			Success:     false,
			Risk:        RiskMedium,
			Description: fmt.Sprintf("account locked until %s", lockout.LockedUntil.Format(time.RFC3339)),
			Metadata:    map[string]string{"ip": meta.IP},
		})
		return nil, ErrAccountLocked
	}

	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		if ctx.Err() != nil {
			// Ambiguous outcome: audited as a failure, but the lockout
			// counter is not incremented.
			s.audit(ctx, AuditEntry{
				Event:       "login.failed",
				Category:    "login",
				ActorID:     user.ID,
				Success:     false,
				Risk:        RiskMedium,
				Description: "credential check aborted: " + ctx.Err().Error(),
			})
			return nil, ErrOperationFailed
		}
		locked, rerr := s.tracker.RecordFailure(ctx, identifier, meta.IP, "password mismatch", user)
		if rerr != nil {
			return nil, s.internalError(ctx, "login", "login.failed", rerr)
		}
		obs.ObserveLogin("invalid_credentials")
		if locked {
			obs.ObserveLockout()
		}
		s.audit(ctx, AuditEntry{
			Event:       "login.failed",
			Category:    "login",
			ActorID:     user.ID,
			Success:     false,
			Risk:        RiskMedium,
			Description: "password mismatch",
			Metadata:    map[string]string{"ip": meta.IP, "locked": fmt.Sprintf("%t", locked)},
		})
		return nil, ErrInvalidCredentials
	}

	if err := s.tracker.Reset(ctx, user.ID); err != nil {
		return nil, s.internalError(ctx, "login", "login.failed", err)
	}
	now := s.now().UTC()
	if err := s.store.Users(ctx).Update(ctx, user.ID, UserUpdate{LastLoginAt: &now}); err != nil {
		return nil, s.internalError(ctx, "login", "login.failed", err)
	}
	user.LastLoginAt = &now

	session, accessToken, refreshToken, err := s.sessions.Create(ctx, user, meta)
	if err != nil {
		return nil, s.internalError(ctx, "login", "login.failed", err)
	}

	obs.ObserveLogin("success")
	obs.ObserveSessionIssued()
	s.audit(ctx, AuditEntry{
		Event:    "login.success",
		Category: "login",
		ActorID:  user.ID,
		Success:  true,
		Risk:     RiskLow,
		Metadata: map[string]string{"ip": meta.IP, "session_id": session.ID},
	})
	return &LoginResult{
		User:         user,
		Session:      session,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

// Logout revokes the session carrying the bearer token.
func (s *Service) Logout(ctx context.Context, token string) (bool, error) {
	ok, err := s.sessions.Invalidate(ctx, token)
	if err != nil {
		return false, s.internalError(ctx, "logout", "logout.failed", err)
	}
	entry := AuditEntry{
		Event:    "logout",
		Category: "logout",
		Success:  ok,
		Risk:     RiskLow,
	}
	if !ok {
		entry.Description = "no active session for token"
	}
	s.audit(ctx, entry)
	return ok, nil
}

// ValidateSession re-verifies the token and the session conjunction. Returns
// ErrInvalidToken for any invalid, revoked, expired or orphaned token.
func (s *Service) ValidateSession(ctx context.Context, token string) (*UserAccount, *Session, error) {
	return s.sessions.Validate(ctx, token)
}

// Refresh rotates the session's token pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	session, accessToken, newRefresh, err := s.sessions.Refresh(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			s.audit(ctx, AuditEntry{
				Event:       "session.refresh_rejected",
				Category:    "session",
				Success:     false,
				Risk:        RiskMedium,
				Description: "invalid refresh token",
			})
			return nil, ErrInvalidToken
		}
		return nil, s.internalError(ctx, "session", "session.refresh_failed", err)
	}
	user, err := s.store.Users(ctx).Find(ctx, session.UserID)
	if err != nil {
		return nil, s.internalError(ctx, "session", "session.refresh_failed", err)
	}
	s.audit(ctx, AuditEntry{
		Event:    "session.refreshed",
		Category: "session",
		ActorID:  user.ID,
		Success:  true,
		Risk:     RiskLow,
		Metadata: map[string]string{"session_id": session.ID},
	})
	return &LoginResult{
		User:         user,
		Session:      session,
		AccessToken:  accessToken,
		RefreshToken: newRefresh,
	}, nil
}

// ChangePassword verifies the current password, validates the new one, and
// revokes every existing session for the user, forcing re-login everywhere.
func (s *Service) ChangePassword(ctx context.Context, userID, current, newPassword string) error {
	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return s.internalError(ctx, "password", "password.change_failed", err)
	}

	if err := VerifyPassword(user.PasswordHash, current); err != nil {
		s.audit(ctx, AuditEntry{
			Event:       "password.change_rejected",
			Category:    "password",
			ActorID:     user.ID,
			Success:     false,
			Risk:        RiskMedium,
			Description: "current password mismatch",
		})
		return ErrInvalidCredentials
	}

	info := UserInfo{Email: user.Email, Username: user.Username, FirstName: user.FirstName, LastName: user.LastName}
	if result := s.policy.Validate(newPassword, info); !result.OK {
		s.audit(ctx, AuditEntry{
			Event:       "password.change_rejected",
			Category:    "password",
			ActorID:     user.ID,
			Success:     false,
			Risk:        RiskLow,
			Description: "password policy violation",
		})
		return &ValidationError{Field: "password", Violations: result.Violations}
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return s.internalError(ctx, "password", "password.change_failed", err)
	}
	if err := s.store.Users(ctx).UpdatePassword(ctx, user.ID, hash); err != nil {
		return s.internalError(ctx, "password", "password.change_failed", err)
	}
	revoked, err := s.sessions.InvalidateAllForUser(ctx, user.ID)
	if err != nil {
		return s.internalError(ctx, "password", "password.change_failed", err)
	}

	s.audit(ctx, AuditEntry{
		Event:    "password.changed",
		Category: "password",
		ActorID:  user.ID,
		Success:  true,
		Risk:     RiskLow,
		Metadata: map[string]string{"sessions_revoked": fmt.Sprintf("%d", revoked)},
	})
	return nil
}

// CheckAccess evaluates a (user, resource, action) triple. Every decision,
// granted or denied, is audited.
func (s *Service) CheckAccess(ctx context.Context, userID, resource, action string) (AccessResult, error) {
	result, err := s.resolver.Check(ctx, userID, resource, action)
	if err != nil {
		return AccessResult{}, s.internalError(ctx, "access", "access.check_failed", err)
	}

	obs.ObserveAccessCheck(result.Granted)
	entry := AuditEntry{
		Category:    "access",
		ActorID:     userID,
		Success:     result.Granted,
		Description: result.Reason,
		Metadata:    map[string]string{"resource": resource, "action": action},
	}
	if result.Granted {
		entry.Event = "access.granted"
		entry.Risk = RiskLow
	} else {
		entry.Event = "access.denied"
		entry.Risk = RiskMedium
	}
	s.audit(ctx, entry)
	return result, nil
}

// GetEffectivePermissions returns the user's resolved permission set.
func (s *Service) GetEffectivePermissions(ctx context.Context, userID string) ([]Permission, error) {
	perms, err := s.resolver.Resolve(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, s.internalError(ctx, "access", "access.resolve_failed", err)
	}
	return perms, nil
}

// AssignRole moves the target account to a new role. Permitted only when the
// actor's role has management authority over both the target's current role
// and the new one.
func (s *Service) AssignRole(ctx context.Context, actorID, targetID string, role Role) error {
	if !role.Valid() {
		return &ValidationError{Field: "role", Violations: []string{fmt.Sprintf("unknown role %q", role)}}
	}
	actor, err := s.store.Users(ctx).Find(ctx, actorID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrUnauthorized
		}
		return s.internalError(ctx, "rbac", "rbac.role_assign_failed", err)
	}
	target, err := s.store.Users(ctx).Find(ctx, targetID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return s.internalError(ctx, "rbac", "rbac.role_assign_failed", err)
	}

	if !actor.Role.Manages(target.Role) || !actor.Role.Manages(role) {
		s.audit(ctx, AuditEntry{
			Event:       "rbac.role_assign_denied",
			Category:    "rbac",
			ActorID:     actorID,
			Success:     false,
			Risk:        RiskMedium,
			Description: fmt.Sprintf("role %s cannot manage %s -> %s", actor.Role, target.Role, role),
			Metadata:    map[string]string{"target_id": targetID},
		})
		return ErrUnauthorized
	}

	if err := s.store.Users(ctx).Update(ctx, targetID, UserUpdate{Role: &role}); err != nil {
		return s.internalError(ctx, "rbac", "rbac.role_assign_failed", err)
	}
	s.resolver.InvalidateUser(targetID)

	s.audit(ctx, AuditEntry{
		Event:    "rbac.role_assigned",
		Category: "rbac",
		ActorID:  actorID,
		Success:  true,
		Risk:     RiskLow,
		Metadata: map[string]string{"target_id": targetID, "from": string(target.Role), "to": string(role)},
	})
	return nil
}

// GrantRolePermission adds a default grant for a role and synchronously
// invalidates the cached resolution.
func (s *Service) GrantRolePermission(ctx context.Context, actorID string, role Role, permissionName string) error {
	perm, err := s.findPermission(ctx, permissionName)
	if err != nil {
		return err
	}
	if err := s.store.Permissions(ctx).GrantToRole(ctx, role, perm.ID); err != nil {
		return s.internalError(ctx, "rbac", "rbac.grant_failed", err)
	}
	s.resolver.InvalidateRole(role)
	s.auditGrant(ctx, "rbac.role_permission_granted", actorID, perm, map[string]string{"role": string(role)})
	return nil
}

// RevokeRolePermission removes a role grant. The cache is invalidated before
// returning so no stale grant survives the revoke.
func (s *Service) RevokeRolePermission(ctx context.Context, actorID string, role Role, permissionName string) error {
	perm, err := s.findPermission(ctx, permissionName)
	if err != nil {
		return err
	}
	if err := s.store.Permissions(ctx).RevokeFromRole(ctx, role, perm.ID); err != nil {
		return s.internalError(ctx, "rbac", "rbac.revoke_failed", err)
	}
	s.resolver.InvalidateRole(role)
	s.auditGrant(ctx, "rbac.role_permission_revoked", actorID, perm, map[string]string{"role": string(role)})
	return nil
}

// GrantUserPermission adds a per-user override, optionally expiring.
func (s *Service) GrantUserPermission(ctx context.Context, actorID, userID, permissionName string, expiresAt *time.Time) error {
	perm, err := s.findPermission(ctx, permissionName)
	if err != nil {
		return err
	}
	grant := UserPermission{
		UserID:     userID,
		Permission: *perm,
		GrantedBy:  actorID,
		ExpiresAt:  expiresAt,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.Permissions(ctx).GrantToUser(ctx, grant); err != nil {
		return s.internalError(ctx, "rbac", "rbac.grant_failed", err)
	}
	s.resolver.InvalidateUser(userID)
	s.auditGrant(ctx, "rbac.user_permission_granted", actorID, perm, map[string]string{"target_id": userID})
	return nil
}

// RevokeUserPermission removes a per-user override.
func (s *Service) RevokeUserPermission(ctx context.Context, actorID, userID, permissionName string) error {
	perm, err := s.findPermission(ctx, permissionName)
	if err != nil {
		return err
	}
	if err := s.store.Permissions(ctx).RevokeFromUser(ctx, userID, perm.ID); err != nil {
		return s.internalError(ctx, "rbac", "rbac.revoke_failed", err)
	}
	s.resolver.InvalidateUser(userID)
	s.auditGrant(ctx, "rbac.user_permission_revoked", actorID, perm, map[string]string{"target_id": userID})
	return nil
}

// PurgeExpiredSessions deletes expired session rows. Optional maintenance.
func (s *Service) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	return s.sessions.PurgeExpired(ctx)
}

func (s *Service) findByIdentifier(ctx context.Context, identifier string) (*UserAccount, error) {
	if strings.Contains(identifier, "@") {
		return s.store.Users(ctx).FindByEmail(ctx, identifier)
	}
	return s.store.Users(ctx).FindByUsername(ctx, identifier)
}

func (s *Service) findPermission(ctx context.Context, name string) (*Permission, error) {
	perm, err := s.store.Permissions(ctx).FindByName(ctx, name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, s.internalError(ctx, "rbac", "rbac.permission_lookup_failed", err)
	}
	return perm, nil
}

func (s *Service) auditGrant(ctx context.Context, event, actorID string, perm *Permission, meta map[string]string) {
	if meta == nil {
		meta = map[string]string{}
	}
	meta["permission"] = perm.Name
	s.audit(ctx, AuditEntry{
		Event:    event,
		Category: "rbac",
		ActorID:  actorID,
		Success:  true,
		Risk:     RiskLow,
		Metadata: meta,
	})
}

// audit appends an entry, filling id and timestamp. Append failures are
// logged but never fail the surrounding operation.
func (s *Service) audit(ctx context.Context, entry AuditEntry) {
	entry.ID = ids.New()
	entry.OccurredAt = s.now().UTC()
	if err := s.store.Audit(ctx).Append(ctx, &entry); err != nil {
		obs.LogJSON(map[string]any{
			"ts":    s.now().UTC().Format(time.RFC3339Nano),
			"level": "error",
			"msg":   "audit append failed",
			"event": entry.Event,
			"error": err.Error(),
		})
	}
}

// internalError audits an unexpected failure at high risk and returns the
// generic operation error. Internal detail never reaches the caller.
func (s *Service) internalError(ctx context.Context, category, event string, err error) error {
	s.audit(ctx, AuditEntry{
		Event:       event,
		Category:    category,
		Success:     false,
		Risk:        RiskHigh,
		Description: err.Error(),
	})
	obs.LogJSON(map[string]any{
		"ts":    s.now().UTC().Format(time.RFC3339Nano),
		"level": "error",
		"msg":   "auth operation failed",
		"event": event,
		"error": err.Error(),
	})
	return ErrOperationFailed
}
