package auth

import (
	"context"
	"testing"
	"time"
)

func fixedClock(start time.Time) (*time.Time, func() time.Time) {
	current := start
	return &current, func() time.Time { return current }
}

func seedUser(t *testing.T, store *MemStore, id string) *UserAccount {
	t.Helper()
	user := &UserAccount{
		ID:     id,
		Email:  id + "@example.com",
		Role:   RoleStudent,
		Status: StatusActive,
	}
	if err := store.Users(context.Background()).Create(context.Background(), user); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

func TestIPThrottleSlidingWindow(t *testing.T) {
	current, clock := fixedClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	tracker := NewTracker(NewMemStore(), TrackerConfig{
		ThrottleWindow:  time.Minute,
		ThrottleMaxHits: 3,
	})
	tracker.now = clock

	for i := 0; i < 3; i++ {
		if blocked, _ := tracker.IsBlocked("10.0.0.1"); blocked {
			t.Fatalf("attempt %d unexpectedly blocked", i+1)
		}
	}
	blocked, retryAfter := tracker.IsBlocked("10.0.0.1")
	if !blocked {
		t.Fatal("expected throttle after window filled")
	}
	if retryAfter <= 0 {
		t.Fatalf("expected positive retry-after, got %s", retryAfter)
	}

	// A different address is unaffected.
	if blocked, _ := tracker.IsBlocked("10.0.0.2"); blocked {
		t.Fatal("unrelated ip blocked")
	}

	// Window slides: after it passes, the address is allowed again.
	*current = current.Add(2 * time.Minute)
	if blocked, _ := tracker.IsBlocked("10.0.0.1"); blocked {
		t.Fatal("expected throttle to expire with the window")
	}
}

func TestLockoutAfterThreshold(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	_, clock := fixedClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	tracker := NewTracker(store, TrackerConfig{
		LockoutThreshold: 3,
		LockoutDuration:  30 * time.Minute,
	})
	tracker.now = clock

	user := seedUser(t, store, "u1")

	for i := 0; i < 2; i++ {
		locked, err := tracker.RecordFailure(ctx, user.Email, "10.0.0.1", "password mismatch", user)
		if err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
		if locked {
			t.Fatalf("locked before threshold on attempt %d", i+1)
		}
	}

	locked, err := tracker.RecordFailure(ctx, user.Email, "10.0.0.1", "password mismatch", user)
	if err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if !locked {
		t.Fatal("expected lockout at threshold")
	}

	lockout, err := tracker.ActiveLockout(ctx, user.ID)
	if err != nil {
		t.Fatalf("ActiveLockout: %v", err)
	}
	if lockout == nil {
		t.Fatal("expected active lockout")
	}
}

func TestLockoutExpires(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	current, clock := fixedClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	tracker := NewTracker(store, TrackerConfig{
		LockoutThreshold: 1,
		LockoutDuration:  30 * time.Minute,
	})
	tracker.now = clock

	user := seedUser(t, store, "u2")
	if _, err := tracker.RecordFailure(ctx, user.Email, "", "password mismatch", user); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	if lockout, _ := tracker.ActiveLockout(ctx, user.ID); lockout == nil {
		t.Fatal("expected lockout")
	}

	*current = current.Add(31 * time.Minute)
	lockout, err := tracker.ActiveLockout(ctx, user.ID)
	if err != nil {
		t.Fatalf("ActiveLockout: %v", err)
	}
	if lockout != nil {
		t.Fatal("lockout should have expired")
	}
}

func TestResetClearsCounterAndLockout(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	_, clock := fixedClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	tracker := NewTracker(store, TrackerConfig{
		LockoutThreshold: 2,
		LockoutDuration:  30 * time.Minute,
	})
	tracker.now = clock

	user := seedUser(t, store, "u3")
	for i := 0; i < 2; i++ {
		if _, err := tracker.RecordFailure(ctx, user.Email, "", "password mismatch", user); err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
	}

	if err := tracker.Reset(ctx, user.ID); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if lockout, _ := tracker.ActiveLockout(ctx, user.ID); lockout != nil {
		t.Fatal("lockout survived reset")
	}

	fresh, err := store.Users(ctx).Find(ctx, user.ID)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if fresh.FailedLogins != 0 {
		t.Fatalf("counter not reset: %d", fresh.FailedLogins)
	}
}

func TestUnknownAccountNeverLocks(t *testing.T) {
	ctx := context.Background()
	tracker := NewTracker(NewMemStore(), TrackerConfig{LockoutThreshold: 1})

	for i := 0; i < 5; i++ {
		locked, err := tracker.RecordFailure(ctx, "ghost@example.com", "10.0.0.9", "unknown identifier", nil)
		if err != nil {
			t.Fatalf("RecordFailure: %v", err)
		}
		if locked {
			t.Fatal("lockout created for unknown identifier")
		}
	}
}
