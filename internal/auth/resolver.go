package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const defaultResolverCacheTTL = 5 * time.Minute

// AccessResult is the outcome of a permission check.
type AccessResult struct {
	Granted bool   `json:"granted"`
	Reason  string `json:"reason"`
	Role    Role   `json:"role,omitempty"`
}

// matchReasons, indexed by precedence rank. Reporting only: all matches
// grant equally.
var matchReasons = [...]string{
	"exact grant",
	"resource wildcard grant",
	"action wildcard grant",
	"full wildcard grant",
}

type cachedPerms struct {
	perms     []Permission
	expiresAt time.Time
}

// Resolver computes effective permission sets: role grants unioned with
// non-expired per-user overrides, de-duplicated by permission id. Resolutions
// are cached for a short TTL behind a read-write lock; any grant or revoke
// must invalidate synchronously — revocations tolerate no stale window.
type Resolver struct {
	store Store
	ttl   time.Duration
	now   func() time.Time

	mu        sync.RWMutex
	roleCache map[Role]cachedPerms
	userCache map[string]cachedPerms
}

// NewResolver constructs a Resolver with the given cache TTL.
func NewResolver(store Store, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = defaultResolverCacheTTL
	}
	return &Resolver{
		store:     store,
		ttl:       ttl,
		now:       time.Now,
		roleCache: make(map[Role]cachedPerms),
		userCache: make(map[string]cachedPerms),
	}
}

// Resolve returns the user's effective permission set.
func (r *Resolver) Resolve(ctx context.Context, userID string) ([]Permission, error) {
	user, err := r.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return nil, err
	}

	rolePerms, err := r.rolePermissions(ctx, user.Role)
	if err != nil {
		return nil, err
	}
	userPerms, err := r.userPermissions(ctx, userID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(rolePerms)+len(userPerms))
	effective := make([]Permission, 0, len(rolePerms)+len(userPerms))
	for _, p := range rolePerms {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		effective = append(effective, p)
	}
	for _, p := range userPerms {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		effective = append(effective, p)
	}
	return effective, nil
}

// Check evaluates whether the user may perform action on resource. Absence of
// a matching grant is the only denial condition; there is no explicit deny.
// A user that does not exist is denied, not an error.
func (r *Resolver) Check(ctx context.Context, userID, resource, action string) (AccessResult, error) {
	user, err := r.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AccessResult{Granted: false, Reason: "user not found"}, nil
		}
		return AccessResult{}, err
	}

	perms, err := r.Resolve(ctx, userID)
	if err != nil {
		return AccessResult{}, err
	}

	bestRank := len(matchReasons)
	for _, p := range perms {
		rank, ok := p.Matches(resource, action)
		if ok && rank < bestRank {
			bestRank = rank
		}
	}
	if bestRank < len(matchReasons) {
		return AccessResult{Granted: true, Reason: matchReasons[bestRank], Role: user.Role}, nil
	}
	return AccessResult{
		Granted: false,
		Reason:  fmt.Sprintf("no grant for %s:%s", resource, action),
		Role:    user.Role,
	}, nil
}

func (r *Resolver) rolePermissions(ctx context.Context, role Role) ([]Permission, error) {
	now := r.now()

	r.mu.RLock()
	cached, ok := r.roleCache[role]
	r.mu.RUnlock()
	if ok && now.Before(cached.expiresAt) {
		return cached.perms, nil
	}

	perms, err := r.store.Permissions(ctx).ForRole(ctx, role)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.roleCache[role] = cachedPerms{perms: perms, expiresAt: now.Add(r.ttl)}
	r.mu.Unlock()
	return perms, nil
}

func (r *Resolver) userPermissions(ctx context.Context, userID string) ([]Permission, error) {
	now := r.now()

	r.mu.RLock()
	cached, ok := r.userCache[userID]
	r.mu.RUnlock()
	if ok && now.Before(cached.expiresAt) {
		return cached.perms, nil
	}

	grants, err := r.store.Permissions(ctx).ForUser(ctx, userID, now.UTC())
	if err != nil {
		return nil, err
	}
	perms := make([]Permission, 0, len(grants))
	for _, g := range grants {
		perms = append(perms, g.Permission)
	}

	r.mu.Lock()
	r.userCache[userID] = cachedPerms{perms: perms, expiresAt: now.Add(r.ttl)}
	r.mu.Unlock()
	return perms, nil
}

// InvalidateRole evicts the cached resolution for a role. Must be called
// synchronously after any role grant change.
func (r *Resolver) InvalidateRole(role Role) {
	r.mu.Lock()
	delete(r.roleCache, role)
	r.mu.Unlock()
}

// InvalidateUser evicts the cached resolution for a user. Must be called
// synchronously after any user grant change or role reassignment.
func (r *Resolver) InvalidateUser(userID string) {
	r.mu.Lock()
	delete(r.userCache, userID)
	r.mu.Unlock()
}
