package auth

import (
	"context"
	"testing"
	"time"
)

func resolverFixture(t *testing.T) (*MemStore, *Resolver, *time.Time) {
	t.Helper()
	store := NewMemStore()
	ctx := context.Background()
	if err := store.Permissions(ctx).Ensure(ctx, BuiltinPermissions); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	current, clock := fixedClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	resolver := NewResolver(store, 5*time.Minute)
	resolver.now = clock
	return store, resolver, current
}

func mustPermission(t *testing.T, store *MemStore, name string) *Permission {
	t.Helper()
	perm, err := store.Permissions(context.Background()).FindByName(context.Background(), name)
	if err != nil {
		t.Fatalf("FindByName %s: %v", name, err)
	}
	return perm
}

func TestResolveUnionsRoleAndUserGrants(t *testing.T) {
	ctx := context.Background()
	store, resolver, _ := resolverFixture(t)
	user := seedUser(t, store, "student-1")

	quizRead := mustPermission(t, store, "quiz.read")
	reportRead := mustPermission(t, store, "report.read")
	if err := store.Permissions(ctx).GrantToRole(ctx, RoleStudent, quizRead.ID); err != nil {
		t.Fatalf("GrantToRole: %v", err)
	}
	if err := store.Permissions(ctx).GrantToUser(ctx, UserPermission{
		UserID:     user.ID,
		Permission: *reportRead,
	}); err != nil {
		t.Fatalf("GrantToUser: %v", err)
	}
	// Overlapping grant on both sides must not duplicate.
	if err := store.Permissions(ctx).GrantToUser(ctx, UserPermission{
		UserID:     user.ID,
		Permission: *quizRead,
	}); err != nil {
		t.Fatalf("GrantToUser: %v", err)
	}

	perms, err := resolver.Resolve(ctx, user.ID)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(perms) != 2 {
		t.Fatalf("expected 2 de-duplicated permissions, got %d", len(perms))
	}
}

func TestCheckWildcardReasons(t *testing.T) {
	ctx := context.Background()
	store, resolver, _ := resolverFixture(t)
	admin := seedUser(t, store, "admin-1")
	all := mustPermission(t, store, "all")
	if err := store.Permissions(ctx).GrantToUser(ctx, UserPermission{
		UserID:     admin.ID,
		Permission: *all,
	}); err != nil {
		t.Fatalf("GrantToUser: %v", err)
	}

	result, err := resolver.Check(ctx, admin.ID, "quiz", "write")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !result.Granted {
		t.Fatal("wildcard grant denied")
	}
	if result.Reason != "full wildcard grant" {
		t.Fatalf("unexpected reason: %q", result.Reason)
	}

	// An exact grant takes reporting precedence over the wildcard.
	quizWrite := mustPermission(t, store, "quiz.write")
	if err := store.Permissions(ctx).GrantToUser(ctx, UserPermission{
		UserID:     admin.ID,
		Permission: *quizWrite,
	}); err != nil {
		t.Fatalf("GrantToUser: %v", err)
	}
	resolver.InvalidateUser(admin.ID)

	result, err = resolver.Check(ctx, admin.ID, "quiz", "write")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.Reason != "exact grant" {
		t.Fatalf("unexpected reason: %q", result.Reason)
	}
}

func TestCheckDeniesWithoutGrant(t *testing.T) {
	ctx := context.Background()
	store, resolver, _ := resolverFixture(t)
	user := seedUser(t, store, "student-2")

	result, err := resolver.Check(ctx, user.ID, "quiz", "write")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.Granted {
		t.Fatal("expected denial without any grant")
	}
}

func TestCheckUnknownUserDeniedNotError(t *testing.T) {
	ctx := context.Background()
	_, resolver, _ := resolverFixture(t)

	result, err := resolver.Check(ctx, "nobody", "quiz", "read")
	if err != nil {
		t.Fatalf("Check returned error for unknown user: %v", err)
	}
	if result.Granted {
		t.Fatal("unknown user granted access")
	}
	if result.Reason != "user not found" {
		t.Fatalf("unexpected reason: %q", result.Reason)
	}
}

func TestExpiredOverrideExcluded(t *testing.T) {
	ctx := context.Background()
	store, resolver, current := resolverFixture(t)
	user := seedUser(t, store, "student-3")

	quizRead := mustPermission(t, store, "quiz.read")
	expires := current.Add(time.Hour)
	if err := store.Permissions(ctx).GrantToUser(ctx, UserPermission{
		UserID:     user.ID,
		Permission: *quizRead,
		ExpiresAt:  &expires,
	}); err != nil {
		t.Fatalf("GrantToUser: %v", err)
	}

	result, err := resolver.Check(ctx, user.ID, "quiz", "read")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !result.Granted {
		t.Fatal("unexpired override denied")
	}

	*current = current.Add(2 * time.Hour)
	resolver.InvalidateUser(user.ID)

	result, err = resolver.Check(ctx, user.ID, "quiz", "read")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.Granted {
		t.Fatal("expired override still granting")
	}
}

func TestRevokeInvalidatesSynchronously(t *testing.T) {
	ctx := context.Background()
	store, resolver, _ := resolverFixture(t)
	user := seedUser(t, store, "student-4")

	quizRead := mustPermission(t, store, "quiz.read")
	if err := store.Permissions(ctx).GrantToRole(ctx, RoleStudent, quizRead.ID); err != nil {
		t.Fatalf("GrantToRole: %v", err)
	}

	// Prime the cache.
	result, err := resolver.Check(ctx, user.ID, "quiz", "read")
	if err != nil || !result.Granted {
		t.Fatalf("expected grant before revoke, got %+v err %v", result, err)
	}

	if err := store.Permissions(ctx).RevokeFromRole(ctx, RoleStudent, quizRead.ID); err != nil {
		t.Fatalf("RevokeFromRole: %v", err)
	}
	resolver.InvalidateRole(RoleStudent)

	result, err = resolver.Check(ctx, user.ID, "quiz", "read")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.Granted {
		t.Fatal("stale cached grant survived revoke")
	}
}

func TestResolveUsesCacheWithinTTL(t *testing.T) {
	ctx := context.Background()
	store, resolver, _ := resolverFixture(t)
	user := seedUser(t, store, "student-5")

	quizRead := mustPermission(t, store, "quiz.read")
	if err := store.Permissions(ctx).GrantToRole(ctx, RoleStudent, quizRead.ID); err != nil {
		t.Fatalf("GrantToRole: %v", err)
	}

	if _, err := resolver.Resolve(ctx, user.ID); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	// Mutating the store without invalidation is served from cache until the
	// TTL passes. Administrative paths must always invalidate explicitly.
	if err := store.Permissions(ctx).RevokeFromRole(ctx, RoleStudent, quizRead.ID); err != nil {
		t.Fatalf("RevokeFromRole: %v", err)
	}
	perms, err := resolver.Resolve(ctx, user.ID)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(perms) != 1 {
		t.Fatalf("expected cached resolution, got %d permissions", len(perms))
	}
}
