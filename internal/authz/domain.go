package authz

import "time"

// Permission represents an atomic capability, identified by resource:action.
type Permission struct {
	ID       int64
	Resource string
	Action   string
}

// Key returns the canonical "resource:action" form used in effective sets.
func (p Permission) Key() string {
	return p.Resource + ":" + p.Action
}

// Role is a named, reusable bundle of permissions with a priority hint.
// Priority orders roles during resolution but currently decides nothing:
// role permissions are purely additive, so there is no conflict for it to
// settle. The field and the sort stay in place for future priority rules.
type Role struct {
	ID            int64
	Name          string
	Description   string
	Priority      int
	PermissionIDs []int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RoleAssignment binds a user to a role, optionally scoped to a property.
// A nil PropertyID means the assignment is global.
type RoleAssignment struct {
	ID         int64
	UserID     int64
	RoleID     int64
	PropertyID *int64
	AssignedBy int64
	AssignedAt time.Time
}

// OverrideKind distinguishes direct grants from direct denials.
type OverrideKind string

const (
	// OverrideGrant adds a permission regardless of role membership.
	OverrideGrant OverrideKind = "grant"
	// OverrideDeny removes a permission regardless of role membership.
	OverrideDeny OverrideKind = "deny"
)

// PermissionOverride binds a user directly to a permission, bypassing roles.
// At most one override exists per (user, permission, property scope); a later
// write for the same key replaces kind, expiry and reason.
type PermissionOverride struct {
	ID           int64
	UserID       int64
	PermissionID int64
	Kind         OverrideKind
	PropertyID   *int64
	ExpiresAt    *time.Time
	Reason       string
	GrantedBy    int64
	GrantedAt    time.Time
}

// Expired reports whether the override no longer participates in resolution.
// Expired rows stay in storage for history.
func (o PermissionOverride) Expired(now time.Time) bool {
	return o.ExpiresAt != nil && o.ExpiresAt.Before(now)
}

// PropertyAssignment binds a user to a property. One assignment per
// (user, property); IsPrimary marks the user's home property.
type PropertyAssignment struct {
	ID         int64
	UserID     int64
	PropertyID int64
	IsPrimary  bool
	AssignedBy int64
	AssignedAt time.Time
}

// UserRef is the slice of a user record the authorization core needs.
type UserRef struct {
	ID     int64
	Email  string
	Name   string
	Status string
}

// UserView is the refreshed read model returned after every assignment
// write: the user plus everything that feeds authorization decisions.
type UserView struct {
	User                 UserRef
	Roles                []RoleAssignment
	Overrides            []PermissionOverride
	Properties           []PropertyAssignment
	EffectivePermissions []string
}

// AssignRolesRequest replaces or extends a user's role assignments.
type AssignRolesRequest struct {
	UserID          int64   `validate:"required"`
	RoleIDs         []int64 `validate:"required,min=1,dive,required"`
	PropertyID      *int64
	ReplaceExisting bool
	ActorID         int64 `validate:"required"`
}

// OverrideItem is one entry in an AssignPermissionsRequest batch.
type OverrideItem struct {
	PermissionID int64        `validate:"required"`
	Kind         OverrideKind `validate:"required,oneof=grant deny"`
	PropertyID   *int64
	ExpiresAt    *time.Time
	Reason       string
}

// AssignPermissionsRequest replaces or extends a user's direct overrides.
type AssignPermissionsRequest struct {
	UserID          int64          `validate:"required"`
	Overrides       []OverrideItem `validate:"required,min=1,dive"`
	ReplaceExisting bool
	ActorID         int64 `validate:"required"`
}

// AssignPropertiesRequest replaces or extends a user's property assignments.
// The first property in the list becomes primary only in replace mode; an
// additive call never moves the primary flag.
type AssignPropertiesRequest struct {
	UserID          int64   `validate:"required"`
	PropertyIDs     []int64 `validate:"required,min=1,dive,required"`
	ReplaceExisting bool
	ActorID         int64 `validate:"required"`
}
