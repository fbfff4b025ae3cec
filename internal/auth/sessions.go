package auth

import (
	"context"
	"errors"
	"time"

	"edugate.org/internal/ids"
)

const defaultSessionTTL = 24 * time.Hour

// SessionMetadata captures client context for a new session.
type SessionMetadata struct {
	IP          string
	UserAgent   string
	LoginMethod string
}

// SessionManager owns the session-to-user mapping: issuance, validation,
// refresh rotation and revocation. Expired sessions are detected lazily at
// validation time; PurgeExpired additionally allows a periodic sweep.
type SessionManager struct {
	store      Store
	issuer     *Issuer
	sessionTTL time.Duration
	now        func() time.Time
}

// NewSessionManager constructs a SessionManager.
func NewSessionManager(store Store, issuer *Issuer, sessionTTL time.Duration) *SessionManager {
	if sessionTTL <= 0 {
		sessionTTL = defaultSessionTTL
	}
	return &SessionManager{
		store:      store,
		issuer:     issuer,
		sessionTTL: sessionTTL,
		now:        time.Now,
	}
}

// Create issues a session with a fresh access/refresh token pair. The access
// token doubles as the session's bearer token; the refresh token is persisted
// only as a hash.
func (m *SessionManager) Create(ctx context.Context, user *UserAccount, meta SessionMetadata) (*Session, string, string, error) {
	accessToken, _, err := m.issuer.IssueAccessToken(user)
	if err != nil {
		return nil, "", "", err
	}
	refreshToken, _, err := m.issuer.IssueRefreshToken(user)
	if err != nil {
		return nil, "", "", err
	}

	now := m.now().UTC()
	method := meta.LoginMethod
	if method == "" {
		method = "password"
	}
	session := &Session{
		ID:          ids.New(),
		UserID:      user.ID,
		Token:       accessToken,
		RefreshHash: HashToken(refreshToken),
		LoginMethod: method,
		IP:          meta.IP,
		UserAgent:   meta.UserAgent,
		IsActive:    true,
		ExpiresAt:   now.Add(m.sessionTTL),
		LastSeenAt:  now,
		CreatedAt:   now,
	}
	if err := m.store.Sessions(ctx).Create(ctx, session); err != nil {
		return nil, "", "", err
	}
	return session, accessToken, refreshToken, nil
}

// Validate re-verifies the full conjunction: token signature, session
// is_active, session expiry, and owning account status. The last-seen marker
// is bumped on success.
func (m *SessionManager) Validate(ctx context.Context, token string) (*UserAccount, *Session, error) {
	if _, err := m.issuer.Verify(token, TokenTypeAccess); err != nil {
		return nil, nil, ErrInvalidToken
	}
	session, err := m.store.Sessions(ctx).FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, ErrInvalidToken
		}
		return nil, nil, err
	}
	now := m.now().UTC()
	if !session.IsActive || !now.Before(session.ExpiresAt) {
		return nil, nil, ErrInvalidToken
	}
	user, err := m.store.Users(ctx).Find(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, ErrInvalidToken
		}
		return nil, nil, err
	}
	if user.Status != StatusActive {
		return nil, nil, ErrInvalidToken
	}
	// Best effort; a failed bump must not fail an otherwise valid session.
	_ = m.store.Sessions(ctx).Touch(ctx, session.ID, now)
	session.LastSeenAt = now
	return user, session, nil
}

// Refresh rotates the session's tokens. The presented refresh token is
// verified cryptographically, matched against the stored hash, and replaced;
// the old pair is unusable afterwards.
func (m *SessionManager) Refresh(ctx context.Context, refreshToken string) (*Session, string, string, error) {
	if _, err := m.issuer.Verify(refreshToken, TokenTypeRefresh); err != nil {
		return nil, "", "", ErrInvalidToken
	}
	session, err := m.store.Sessions(ctx).FindByRefreshHash(ctx, HashToken(refreshToken))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, "", "", ErrInvalidToken
		}
		return nil, "", "", err
	}
	now := m.now().UTC()
	if !session.IsActive || !now.Before(session.ExpiresAt) {
		return nil, "", "", ErrInvalidToken
	}
	user, err := m.store.Users(ctx).Find(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, "", "", ErrInvalidToken
		}
		return nil, "", "", err
	}
	if user.Status != StatusActive {
		return nil, "", "", ErrInvalidToken
	}

	accessToken, _, err := m.issuer.IssueAccessToken(user)
	if err != nil {
		return nil, "", "", err
	}
	newRefresh, _, err := m.issuer.IssueRefreshToken(user)
	if err != nil {
		return nil, "", "", err
	}
	expiresAt := now.Add(m.sessionTTL)
	if err := m.store.Sessions(ctx).UpdateTokens(ctx, session.ID, accessToken, HashToken(newRefresh), expiresAt); err != nil {
		return nil, "", "", err
	}
	session.Token = accessToken
	session.RefreshHash = HashToken(newRefresh)
	session.ExpiresAt = expiresAt
	return session, accessToken, newRefresh, nil
}

// Invalidate revokes the session carrying the given bearer token. Returns
// false when no active session matched.
func (m *SessionManager) Invalidate(ctx context.Context, token string) (bool, error) {
	session, err := m.store.Sessions(ctx).FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return m.store.Sessions(ctx).Invalidate(ctx, session.ID)
}

// InvalidateByRefreshToken revokes the session owning the refresh token.
func (m *SessionManager) InvalidateByRefreshToken(ctx context.Context, refreshToken string) (bool, error) {
	session, err := m.store.Sessions(ctx).FindByRefreshHash(ctx, HashToken(refreshToken))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return m.store.Sessions(ctx).Invalidate(ctx, session.ID)
}

// InvalidateAllForUser revokes every session for the user. Used on password
// change and administrative revocation.
func (m *SessionManager) InvalidateAllForUser(ctx context.Context, userID string) (int64, error) {
	return m.store.Sessions(ctx).InvalidateAllForUser(ctx, userID)
}

// PurgeExpired deletes session rows that expired before now. Optional
// maintenance; validation never depends on it.
func (m *SessionManager) PurgeExpired(ctx context.Context) (int64, error) {
	return m.store.Sessions(ctx).DeleteExpired(ctx, m.now().UTC())
}
