package authz

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubResolverStore struct {
	perms       []Permission
	roles       []Role
	assignments []RoleAssignment
	overrides   []PermissionOverride
}

func (s *stubResolverStore) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.perms, nil
}

func (s *stubResolverStore) ListRoles(ctx context.Context) ([]Role, error) {
	return s.roles, nil
}

func (s *stubResolverStore) ListRoleAssignments(ctx context.Context, userID int64) ([]RoleAssignment, error) {
	var out []RoleAssignment
	for _, a := range s.assignments {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *stubResolverStore) ListActiveOverrides(ctx context.Context, userID int64, asOf time.Time) ([]PermissionOverride, error) {
	var out []PermissionOverride
	for _, o := range s.overrides {
		if o.UserID == userID && !o.Expired(asOf) {
			out = append(out, o)
		}
	}
	return out, nil
}

var baseCatalog = []Permission{
	{ID: 1, Resource: "bookings", Action: "read"},
	{ID: 2, Resource: "bookings", Action: "update"},
	{ID: 3, Resource: "users", Action: "read"},
	{ID: 4, Resource: "users", Action: "delete"},
	{ID: 5, Resource: "rates", Action: "update"},
}

func at(h int) time.Time {
	return time.Date(2025, 6, 1, h, 0, 0, 0, time.UTC)
}

func TestEffectivePermissionsIsUnionOfRoleBundles(t *testing.T) {
	store := &stubResolverStore{
		perms: baseCatalog,
		roles: []Role{
			{ID: 10, Name: "manager", Priority: 50, PermissionIDs: []int64{1, 2}},
			{ID: 11, Name: "staff", Priority: 10, PermissionIDs: []int64{1, 3}},
		},
		assignments: []RoleAssignment{
			{ID: 1, UserID: 7, RoleID: 10},
			{ID: 2, UserID: 7, RoleID: 11},
		},
	}
	keys, err := NewResolver(store).EffectivePermissions(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, []string{"bookings:read", "bookings:update", "users:read"}, keys)
}

func TestDenyOverrideRemovesRoleGrant(t *testing.T) {
	store := &stubResolverStore{
		perms: baseCatalog,
		roles: []Role{{ID: 10, Name: "manager", Priority: 50, PermissionIDs: []int64{1, 2}}},
		assignments: []RoleAssignment{
			{ID: 1, UserID: 7, RoleID: 10},
		},
		overrides: []PermissionOverride{
			{ID: 1, UserID: 7, PermissionID: 2, Kind: OverrideDeny, GrantedAt: at(9)},
		},
	}
	keys, err := NewResolver(store).EffectivePermissions(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, []string{"bookings:read"}, keys)
}

func TestLastOverrideWins(t *testing.T) {
	t.Run("grant then deny ends denied", func(t *testing.T) {
		store := &stubResolverStore{
			perms: baseCatalog,
			overrides: []PermissionOverride{
				{ID: 1, UserID: 7, PermissionID: 3, Kind: OverrideGrant, GrantedAt: at(9)},
				{ID: 2, UserID: 7, PermissionID: 3, Kind: OverrideDeny, GrantedAt: at(10)},
			},
		}
		keys, err := NewResolver(store).EffectivePermissions(context.Background(), 7)
		require.NoError(t, err)
		require.Empty(t, keys)
	})

	t.Run("deny then grant ends granted", func(t *testing.T) {
		store := &stubResolverStore{
			perms: baseCatalog,
			overrides: []PermissionOverride{
				{ID: 1, UserID: 7, PermissionID: 3, Kind: OverrideDeny, GrantedAt: at(9)},
				{ID: 2, UserID: 7, PermissionID: 3, Kind: OverrideGrant, GrantedAt: at(10)},
			},
		}
		keys, err := NewResolver(store).EffectivePermissions(context.Background(), 7)
		require.NoError(t, err)
		require.Equal(t, []string{"users:read"}, keys)
	})

	t.Run("same timestamp falls back to id order", func(t *testing.T) {
		store := &stubResolverStore{
			perms: baseCatalog,
			overrides: []PermissionOverride{
				{ID: 2, UserID: 7, PermissionID: 3, Kind: OverrideDeny, GrantedAt: at(9)},
				{ID: 1, UserID: 7, PermissionID: 3, Kind: OverrideGrant, GrantedAt: at(9)},
			},
		}
		keys, err := NewResolver(store).EffectivePermissions(context.Background(), 7)
		require.NoError(t, err)
		require.Empty(t, keys)
	})
}

func TestExpiredOverrideContributesNothing(t *testing.T) {
	expired := at(8)
	store := &stubResolverStore{
		perms: baseCatalog,
		roles: []Role{{ID: 10, Name: "staff", PermissionIDs: []int64{1}}},
		assignments: []RoleAssignment{
			{ID: 1, UserID: 7, RoleID: 10},
		},
		overrides: []PermissionOverride{
			// An expired deny no longer cancels the role-derived grant.
			{ID: 1, UserID: 7, PermissionID: 1, Kind: OverrideDeny, GrantedAt: at(6), ExpiresAt: &expired},
		},
	}
	resolver := NewResolver(store)
	resolver.now = func() time.Time { return at(12) }
	keys, err := resolver.EffectivePermissions(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, []string{"bookings:read"}, keys)
}

func TestDanglingReferencesAreSkipped(t *testing.T) {
	store := &stubResolverStore{
		perms: baseCatalog,
		roles: []Role{{ID: 10, Name: "manager", PermissionIDs: []int64{1, 999}}},
		assignments: []RoleAssignment{
			{ID: 1, UserID: 7, RoleID: 10},
			{ID: 2, UserID: 7, RoleID: 404}, // role deleted from catalog
		},
		overrides: []PermissionOverride{
			{ID: 1, UserID: 7, PermissionID: 888, Kind: OverrideDeny, GrantedAt: at(9)},
		},
	}
	keys, err := NewResolver(store).EffectivePermissions(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, []string{"bookings:read"}, keys)
}

func TestScopedRowsPoolIntoOneFlatSet(t *testing.T) {
	property := int64(42)
	store := &stubResolverStore{
		perms: baseCatalog,
		roles: []Role{{ID: 10, Name: "manager", PermissionIDs: []int64{1}}},
		assignments: []RoleAssignment{
			{ID: 1, UserID: 7, RoleID: 10, PropertyID: &property},
		},
		overrides: []PermissionOverride{
			{ID: 1, UserID: 7, PermissionID: 5, Kind: OverrideGrant, PropertyID: &property, GrantedAt: at(9)},
		},
	}
	// No property-context parameter: property-scoped rows surface in the
	// flat set alongside global ones.
	keys, err := NewResolver(store).EffectivePermissions(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, []string{"bookings:read", "rates:update"}, keys)
}

func TestManagerWithDenyScenario(t *testing.T) {
	store := &stubResolverStore{
		perms: baseCatalog,
		roles: []Role{{ID: 10, Name: "manager", Priority: 50, PermissionIDs: []int64{1, 2}}},
		assignments: []RoleAssignment{
			{ID: 1, UserID: 7, RoleID: 10},
		},
		overrides: []PermissionOverride{
			{ID: 1, UserID: 7, PermissionID: 2, Kind: OverrideDeny, GrantedAt: at(9)},
		},
	}
	keys, err := NewResolver(store).EffectivePermissions(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, []string{"bookings:read"}, keys)
}

func TestGrantOverridesOnlyScenario(t *testing.T) {
	expired := at(7)
	store := &stubResolverStore{
		perms: baseCatalog,
		overrides: []PermissionOverride{
			{ID: 1, UserID: 7, PermissionID: 3, Kind: OverrideGrant, GrantedAt: at(6)},
			{ID: 2, UserID: 7, PermissionID: 4, Kind: OverrideGrant, GrantedAt: at(6), ExpiresAt: &expired},
		},
	}
	resolver := NewResolver(store)
	resolver.now = func() time.Time { return at(12) }
	keys, err := resolver.EffectivePermissions(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, []string{"users:read"}, keys)
}
