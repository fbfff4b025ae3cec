package auth

import (
	"context"
	"sync"
	"time"

	"edugate.org/internal/ids"
)

// MemStore is an in-memory Store used by tests and single-process local
// development. Safe for concurrent use; values handed out are copies.
type MemStore struct {
	mu sync.RWMutex

	users     map[string]UserAccount
	sessions  map[string]Session
	perms     map[string]Permission
	rolePerms map[Role]map[string]time.Time
	userPerms map[string]map[string]UserPermission
	attempts  []FailedLoginAttempt
	lockouts  []AccountLockout
	audit     []AuditEntry
}

// NewMemStore constructs an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		users:     make(map[string]UserAccount),
		sessions:  make(map[string]Session),
		perms:     make(map[string]Permission),
		rolePerms: make(map[Role]map[string]time.Time),
		userPerms: make(map[string]map[string]UserPermission),
	}
}

func (m *MemStore) Users(context.Context) UserStore             { return &memUserStore{m} }
func (m *MemStore) Sessions(context.Context) SessionStore       { return &memSessionStore{m} }
func (m *MemStore) Permissions(context.Context) PermissionStore { return &memPermissionStore{m} }
func (m *MemStore) Attempts(context.Context) AttemptStore       { return &memAttemptStore{m} }
func (m *MemStore) Audit(context.Context) AuditStore            { return &memAuditStore{m} }

// AuditEntries returns a snapshot of the audit log, oldest first.
func (m *MemStore) AuditEntries() []AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]AuditEntry, len(m.audit))
	copy(out, m.audit)
	return out
}

type memUserStore struct {
	m *MemStore
}

func (s *memUserStore) Create(_ context.Context, u *UserAccount) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, existing := range s.m.users {
		if existing.Email == u.Email {
			return ErrAlreadyExists
		}
		if u.Username != "" && existing.Username == u.Username {
			return ErrAlreadyExists
		}
	}
	s.m.users[u.ID] = *u
	return nil
}

func (s *memUserStore) Find(_ context.Context, id string) (*UserAccount, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	u, ok := s.m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (s *memUserStore) FindByEmail(_ context.Context, email string) (*UserAccount, error) {
	return s.findBy(func(u UserAccount) bool { return u.Email == email })
}

func (s *memUserStore) FindByUsername(_ context.Context, username string) (*UserAccount, error) {
	return s.findBy(func(u UserAccount) bool { return u.Username != "" && u.Username == username })
}

func (s *memUserStore) findBy(match func(UserAccount) bool) (*UserAccount, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	for _, u := range s.m.users {
		if match(u) {
			copied := u
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memUserStore) Update(_ context.Context, id string, upd UserUpdate) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	u, ok := s.m.users[id]
	if !ok {
		return ErrNotFound
	}
	if upd.Status != nil {
		u.Status = *upd.Status
	}
	if upd.Role != nil {
		u.Role = *upd.Role
	}
	if upd.EmailVerified != nil {
		u.EmailVerified = *upd.EmailVerified
	}
	if upd.LastLoginAt != nil {
		t := *upd.LastLoginAt
		u.LastLoginAt = &t
	}
	u.UpdatedAt = time.Now().UTC()
	s.m.users[id] = u
	return nil
}

func (s *memUserStore) UpdatePassword(_ context.Context, id, passwordHash string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	u, ok := s.m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = time.Now().UTC()
	s.m.users[id] = u
	return nil
}

type memSessionStore struct {
	m *MemStore
}

func (s *memSessionStore) Create(_ context.Context, sess *Session) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.sessions[sess.ID]; ok {
		return ErrAlreadyExists
	}
	s.m.sessions[sess.ID] = *sess
	return nil
}

func (s *memSessionStore) FindByToken(_ context.Context, token string) (*Session, error) {
	return s.findBy(func(sess Session) bool { return sess.Token == token })
}

func (s *memSessionStore) FindByRefreshHash(_ context.Context, refreshHash string) (*Session, error) {
	return s.findBy(func(sess Session) bool { return sess.RefreshHash == refreshHash })
}

func (s *memSessionStore) findBy(match func(Session) bool) (*Session, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	for _, sess := range s.m.sessions {
		if match(sess) {
			copied := sess
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memSessionStore) UpdateTokens(_ context.Context, id, token, refreshHash string, expiresAt time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	sess, ok := s.m.sessions[id]
	if !ok || !sess.IsActive {
		return ErrNotFound
	}
	sess.Token = token
	sess.RefreshHash = refreshHash
	sess.ExpiresAt = expiresAt
	s.m.sessions[id] = sess
	return nil
}

func (s *memSessionStore) Touch(_ context.Context, id string, at time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	sess, ok := s.m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.LastSeenAt = at
	s.m.sessions[id] = sess
	return nil
}

func (s *memSessionStore) Invalidate(_ context.Context, id string) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	sess, ok := s.m.sessions[id]
	if !ok || !sess.IsActive {
		return false, nil
	}
	sess.IsActive = false
	s.m.sessions[id] = sess
	return true, nil
}

func (s *memSessionStore) InvalidateAllForUser(_ context.Context, userID string) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var count int64
	for id, sess := range s.m.sessions {
		if sess.UserID == userID && sess.IsActive {
			sess.IsActive = false
			s.m.sessions[id] = sess
			count++
		}
	}
	return count, nil
}

func (s *memSessionStore) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var count int64
	for id, sess := range s.m.sessions {
		if sess.ExpiresAt.Before(before) {
			delete(s.m.sessions, id)
			count++
		}
	}
	return count, nil
}

type memPermissionStore struct {
	m *MemStore
}

func (s *memPermissionStore) Ensure(_ context.Context, perms []Permission) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, p := range perms {
		if s.findByNameLocked(p.Name) != nil {
			continue
		}
		if p.ID == "" {
			p.ID = ids.New()
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = time.Now().UTC()
		}
		s.m.perms[p.ID] = p
	}
	return nil
}

func (s *memPermissionStore) List(_ context.Context) ([]Permission, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	out := make([]Permission, 0, len(s.m.perms))
	for _, p := range s.m.perms {
		out = append(out, p)
	}
	return out, nil
}

func (s *memPermissionStore) FindByName(_ context.Context, name string) (*Permission, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	if p := s.findByNameLocked(name); p != nil {
		copied := *p
		return &copied, nil
	}
	return nil, ErrNotFound
}

func (s *memPermissionStore) findByNameLocked(name string) *Permission {
	for id, p := range s.m.perms {
		if p.Name == name {
			found := s.m.perms[id]
			return &found
		}
	}
	return nil
}

func (s *memPermissionStore) ForRole(_ context.Context, role Role) ([]Permission, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	grants := s.m.rolePerms[role]
	out := make([]Permission, 0, len(grants))
	for permID := range grants {
		if p, ok := s.m.perms[permID]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memPermissionStore) ForUser(_ context.Context, userID string, now time.Time) ([]UserPermission, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	var out []UserPermission
	for _, grant := range s.m.userPerms[userID] {
		if grant.ExpiresAt != nil && !grant.ExpiresAt.After(now) {
			continue
		}
		out = append(out, grant)
	}
	return out, nil
}

func (s *memPermissionStore) GrantToRole(_ context.Context, role Role, permissionID string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.perms[permissionID]; !ok {
		return ErrNotFound
	}
	if s.m.rolePerms[role] == nil {
		s.m.rolePerms[role] = make(map[string]time.Time)
	}
	s.m.rolePerms[role][permissionID] = time.Now().UTC()
	return nil
}

func (s *memPermissionStore) RevokeFromRole(_ context.Context, role Role, permissionID string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	delete(s.m.rolePerms[role], permissionID)
	return nil
}

func (s *memPermissionStore) GrantToUser(_ context.Context, grant UserPermission) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	p, ok := s.m.perms[grant.Permission.ID]
	if !ok {
		return ErrNotFound
	}
	grant.Permission = p
	if s.m.userPerms[grant.UserID] == nil {
		s.m.userPerms[grant.UserID] = make(map[string]UserPermission)
	}
	s.m.userPerms[grant.UserID][p.ID] = grant
	return nil
}

func (s *memPermissionStore) RevokeFromUser(_ context.Context, userID, permissionID string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	delete(s.m.userPerms[userID], permissionID)
	return nil
}

type memAttemptStore struct {
	m *MemStore
}

func (s *memAttemptStore) RecordFailure(_ context.Context, attempt *FailedLoginAttempt) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.attempts = append(s.m.attempts, *attempt)
	return nil
}

func (s *memAttemptStore) IncrementFailedLogins(_ context.Context, userID string) (int, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	u, ok := s.m.users[userID]
	if !ok {
		return 0, ErrNotFound
	}
	u.FailedLogins++
	s.m.users[userID] = u
	return u.FailedLogins, nil
}

func (s *memAttemptStore) ResetFailedLogins(_ context.Context, userID string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	u, ok := s.m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.FailedLogins = 0
	s.m.users[userID] = u
	return nil
}

func (s *memAttemptStore) CreateLockout(_ context.Context, lockout *AccountLockout) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for i := range s.m.lockouts {
		if s.m.lockouts[i].UserID == lockout.UserID {
			s.m.lockouts[i].IsActive = false
		}
	}
	s.m.lockouts = append(s.m.lockouts, *lockout)
	return nil
}

func (s *memAttemptStore) ActiveLockout(_ context.Context, userID string, now time.Time) (*AccountLockout, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	for i := len(s.m.lockouts) - 1; i >= 0; i-- {
		l := s.m.lockouts[i]
		if l.UserID == userID && l.IsActive && l.LockedUntil.After(now) {
			return &l, nil
		}
	}
	return nil, nil
}

func (s *memAttemptStore) ClearLockout(_ context.Context, userID string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for i := range s.m.lockouts {
		if s.m.lockouts[i].UserID == userID {
			s.m.lockouts[i].IsActive = false
		}
	}
	return nil
}

type memAuditStore struct {
	m *MemStore
}

func (s *memAuditStore) Append(_ context.Context, entry *AuditEntry) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.audit = append(s.m.audit, *entry)
	return nil
}
