package auth

import (
	"context"
	"sync"
	"time"

	"edugate.org/internal/ids"
)

const (
	defaultLockoutThreshold = 5
	defaultLockoutDuration  = 30 * time.Minute
	defaultThrottleWindow   = 15 * time.Minute
	defaultThrottleMaxHits  = 20
	trackerMaxTrackedIPs    = 5000
)

// TrackerConfig tunes lockout and IP throttling behavior. Zero fields fall
// back to defaults.
type TrackerConfig struct {
	LockoutThreshold int
	LockoutDuration  time.Duration
	ThrottleWindow   time.Duration
	ThrottleMaxHits  int
}

// Tracker records failed login attempts and decides lockout state. Account
// lockout is persisted through the store so it survives restarts and is
// shared across replicas; IP throttling is an in-process sliding window and
// is evaluated independently — the two never share a reset trigger.
type Tracker struct {
	store Store
	cfg   TrackerConfig
	now   func() time.Time

	mu      sync.Mutex
	hitByIP map[string][]time.Time
}

// NewTracker constructs a Tracker over the given store.
func NewTracker(store Store, cfg TrackerConfig) *Tracker {
	if cfg.LockoutThreshold <= 0 {
		cfg.LockoutThreshold = defaultLockoutThreshold
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = defaultLockoutDuration
	}
	if cfg.ThrottleWindow <= 0 {
		cfg.ThrottleWindow = defaultThrottleWindow
	}
	if cfg.ThrottleMaxHits <= 0 {
		cfg.ThrottleMaxHits = defaultThrottleMaxHits
	}
	return &Tracker{
		store:   store,
		cfg:     cfg,
		now:     time.Now,
		hitByIP: make(map[string][]time.Time),
	}
}

// IsBlocked reports whether login attempts from ip are currently throttled,
// recording the attempt when it is allowed. Returns a retry-after hint when
// blocked. Evaluated before any credential comparison so a blocked actor
// never learns whether the password was correct.
func (t *Tracker) IsBlocked(ip string) (bool, time.Duration) {
	if ip == "" {
		ip = "unknown"
	}
	now := t.now().UTC()
	threshold := now.Add(-t.cfg.ThrottleWindow)

	t.mu.Lock()
	defer t.mu.Unlock()

	hits := t.hitByIP[ip]
	filtered := make([]time.Time, 0, len(hits)+1)
	for _, hit := range hits {
		if hit.After(threshold) {
			filtered = append(filtered, hit)
		}
	}

	if len(filtered) >= t.cfg.ThrottleMaxHits {
		retryAfter := filtered[0].Add(t.cfg.ThrottleWindow).Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		t.hitByIP[ip] = filtered
		return true, retryAfter
	}

	filtered = append(filtered, now)
	t.hitByIP[ip] = filtered

	if len(t.hitByIP) > trackerMaxTrackedIPs {
		for key, value := range t.hitByIP {
			if len(value) == 0 || value[len(value)-1].Before(threshold) {
				delete(t.hitByIP, key)
			}
		}
	}

	return false, 0
}

// RecordFailure appends a failed-attempt row and, when the attempt maps to a
// known account, increments its failure counter. Crossing the configured
// threshold locks the account; the increment-then-compare is atomic at the
// storage layer. Returns whether a lockout was created.
func (t *Tracker) RecordFailure(ctx context.Context, identifier, ip, reason string, user *UserAccount) (bool, error) {
	now := t.now().UTC()
	attempt := &FailedLoginAttempt{
		ID:         ids.New(),
		Identifier: identifier,
		IP:         ip,
		Reason:     reason,
		OccurredAt: now,
	}
	if err := t.store.Attempts(ctx).RecordFailure(ctx, attempt); err != nil {
		return false, err
	}
	if user == nil {
		return false, nil
	}

	count, err := t.store.Attempts(ctx).IncrementFailedLogins(ctx, user.ID)
	if err != nil {
		return false, err
	}
	if count < t.cfg.LockoutThreshold {
		return false, nil
	}
	if err := t.Lock(ctx, user.ID, "too many failed login attempts"); err != nil {
		return false, err
	}
	return true, nil
}

// Lock creates an account-scoped lockout, superseding any previous one.
func (t *Tracker) Lock(ctx context.Context, userID, reason string) error {
	now := t.now().UTC()
	return t.store.Attempts(ctx).CreateLockout(ctx, &AccountLockout{
		ID:          ids.New(),
		UserID:      userID,
		Reason:      reason,
		LockedUntil: now.Add(t.cfg.LockoutDuration),
		IsActive:    true,
		CreatedAt:   now,
	})
}

// ActiveLockout returns the account's active, unexpired lockout, or nil.
func (t *Tracker) ActiveLockout(ctx context.Context, userID string) (*AccountLockout, error) {
	return t.store.Attempts(ctx).ActiveLockout(ctx, userID, t.now().UTC())
}

// Reset clears the failure counter and deactivates any active lockout. Called
// on verified successful login. The IP window is deliberately left alone.
func (t *Tracker) Reset(ctx context.Context, userID string) error {
	if err := t.store.Attempts(ctx).ResetFailedLogins(ctx, userID); err != nil {
		return err
	}
	return t.store.Attempts(ctx).ClearLockout(ctx, userID)
}
