package authz

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// ResolverStore is the read surface the resolver needs. Every call re-reads
// all sources; there is no cache in front of it.
type ResolverStore interface {
	ListPermissions(ctx context.Context) ([]Permission, error)
	ListRoles(ctx context.Context) ([]Role, error)
	ListRoleAssignments(ctx context.Context, userID int64) ([]RoleAssignment, error)
	// ListActiveOverrides returns the user's overrides that have not expired
	// as of the given instant, ordered by granted_at then id.
	ListActiveOverrides(ctx context.Context, userID int64, asOf time.Time) ([]PermissionOverride, error)
}

// Resolver computes the effective permission set for a user. It performs
// reads only and is safe for unlimited concurrent use.
type Resolver struct {
	store ResolverStore
	now   func() time.Time
}

// NewResolver constructs a Resolver over the given store.
func NewResolver(store ResolverStore) *Resolver {
	return &Resolver{store: store, now: time.Now}
}

// EffectivePermissions returns the sorted set of "resource:action" keys the
// user holds. Globally scoped and property-scoped rows pool into one flat
// set; there is no property-context parameter at read time.
//
// Resolution never fails on dangling references: an assignment to a deleted
// role, or an override to a deleted permission, contributes nothing.
func (r *Resolver) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	var (
		perms       []Permission
		roles       []Role
		assignments []RoleAssignment
		overrides   []PermissionOverride
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		perms, err = r.store.ListPermissions(gctx)
		return err
	})
	g.Go(func() (err error) {
		roles, err = r.store.ListRoles(gctx)
		return err
	})
	g.Go(func() (err error) {
		assignments, err = r.store.ListRoleAssignments(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		overrides, err = r.store.ListActiveOverrides(gctx, userID, r.now())
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	keyByPermission := make(map[int64]string, len(perms))
	for _, p := range perms {
		keyByPermission[p.ID] = p.Key()
	}
	roleByID := make(map[int64]Role, len(roles))
	for _, role := range roles {
		roleByID[role.ID] = role
	}

	// Highest priority first; ties keep assignment order. The order does not
	// change the union below, but it is part of the contract and must hold
	// if priority-sensitive rules ever land.
	sort.SliceStable(assignments, func(i, j int) bool {
		return roleByID[assignments[i].RoleID].Priority > roleByID[assignments[j].RoleID].Priority
	})

	granted := make(map[string]struct{})
	for _, a := range assignments {
		role, ok := roleByID[a.RoleID]
		if !ok {
			continue
		}
		for _, pid := range role.PermissionIDs {
			key, ok := keyByPermission[pid]
			if !ok {
				continue
			}
			granted[key] = struct{}{}
		}
	}

	// Apply overrides oldest first so the last write for a key wins outright.
	// The store already orders them; re-sorting keeps the result stable even
	// if a store implementation forgets.
	sort.SliceStable(overrides, func(i, j int) bool {
		if !overrides[i].GrantedAt.Equal(overrides[j].GrantedAt) {
			return overrides[i].GrantedAt.Before(overrides[j].GrantedAt)
		}
		return overrides[i].ID < overrides[j].ID
	})

	denied := make(map[string]struct{})
	for _, o := range overrides {
		key, ok := keyByPermission[o.PermissionID]
		if !ok {
			continue
		}
		switch o.Kind {
		case OverrideGrant:
			granted[key] = struct{}{}
			delete(denied, key)
		case OverrideDeny:
			denied[key] = struct{}{}
		}
	}
	for key := range denied {
		delete(granted, key)
	}

	result := make([]string, 0, len(granted))
	for key := range granted {
		result = append(result, key)
	}
	sort.Strings(result)
	return result, nil
}
