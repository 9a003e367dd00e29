package authz

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/lodgekit/lodgekit/internal/audit"
	"github.com/lodgekit/lodgekit/internal/shared"
)

// Store is the full persistence surface for assignment writes and the reads
// backing the refreshed user view.
type Store interface {
	ResolverStore
	GetRoleByName(ctx context.Context, name string) (Role, error)
	ListPropertyAssignments(ctx context.Context, userID int64) ([]PropertyAssignment, error)
	// WithTx runs fn inside one transaction so a replace (delete then insert)
	// is atomic: concurrent readers never observe the emptied middle state.
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is the transactional write surface used by the assignment managers.
type Tx interface {
	// DeleteRoleAssignments removes the user's role assignments. A nil
	// propertyID removes rows in every scope, not just the global one.
	DeleteRoleAssignments(ctx context.Context, userID int64, propertyID *int64) error
	UpsertRoleAssignment(ctx context.Context, a RoleAssignment) error
	DeleteOverrides(ctx context.Context, userID int64) error
	UpsertOverride(ctx context.Context, o PermissionOverride) error
	DeletePropertyAssignments(ctx context.Context, userID int64) error
	UpsertPropertyAssignment(ctx context.Context, a PropertyAssignment) error
}

// UserStore is the slice of the user repository the managers need.
type UserStore interface {
	// GetUserRef returns shared.ErrNotFound when the user does not exist.
	GetUserRef(ctx context.Context, userID int64) (UserRef, error)
}

// Audit action labels emitted by the managers.
const (
	ActionRolesAssign      = "user.roles.assign"
	ActionPermissionsGrant = "user.permissions.grant"
	ActionPermissionsDeny  = "user.permissions.deny"
	ActionPropertiesAssign = "user.properties.assign"
)

// Service implements the assignment managers: the write side of role,
// override and property assignment, each followed by an audit emission and
// a refreshed user view.
type Service struct {
	store    Store
	users    UserStore
	resolver *Resolver
	auditor  audit.Recorder
	locks    *shared.AdminLock
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the assignment service.
func NewService(store Store, users UserStore, auditor audit.Recorder, locks *shared.AdminLock, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		users:    users,
		resolver: NewResolver(store),
		auditor:  auditor,
		locks:    locks,
		validate: validator.New(),
		logger:   logger,
		now:      time.Now,
	}
}

// Resolver exposes the read-side resolver sharing this service's store.
func (s *Service) Resolver() *Resolver {
	return s.resolver
}

// AssignRoles replaces or extends the user's role assignments. In replace
// mode with no property scope the delete is scope-unaware: assignments in
// every scope go, then the new set is inserted with the given scope.
func (s *Service) AssignRoles(ctx context.Context, req AssignRolesRequest) (*UserView, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, shared.Precondition("assign roles: %v", err)
	}
	if _, err := s.users.GetUserRef(ctx, req.UserID); err != nil {
		return nil, err
	}
	release, err := s.acquireUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	defer release(ctx)

	before, err := s.store.ListRoleAssignments(ctx, req.UserID)
	if err != nil {
		return nil, shared.Dependency(err)
	}

	assignedAt := s.now().UTC()
	err = s.store.WithTx(ctx, func(tx Tx) error {
		if req.ReplaceExisting {
			if err := tx.DeleteRoleAssignments(ctx, req.UserID, req.PropertyID); err != nil {
				return err
			}
		}
		for _, roleID := range req.RoleIDs {
			a := RoleAssignment{
				UserID:     req.UserID,
				RoleID:     roleID,
				PropertyID: req.PropertyID,
				AssignedBy: req.ActorID,
				AssignedAt: assignedAt,
			}
			if err := tx.UpsertRoleAssignment(ctx, a); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, shared.Dependency(err)
	}

	s.record(ctx, audit.Entry{
		Action:        ActionRolesAssign,
		SubjectUserID: req.UserID,
		ActorID:       req.ActorID,
		Before:        map[string]any{"role_ids": roleIDs(before)},
		After:         map[string]any{"role_ids": req.RoleIDs},
	})
	return s.UserView(ctx, req.UserID)
}

// AssignPermissions replaces or extends the user's direct overrides. The
// audit label comes from the first item's kind even for a mixed batch; that
// is a presentation choice, not a resolution rule.
func (s *Service) AssignPermissions(ctx context.Context, req AssignPermissionsRequest) (*UserView, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, shared.Precondition("assign permissions: %v", err)
	}
	if _, err := s.users.GetUserRef(ctx, req.UserID); err != nil {
		return nil, err
	}
	release, err := s.acquireUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	defer release(ctx)

	before, err := s.store.ListActiveOverrides(ctx, req.UserID, s.now())
	if err != nil {
		return nil, shared.Dependency(err)
	}

	grantedAt := s.now().UTC()
	err = s.store.WithTx(ctx, func(tx Tx) error {
		if req.ReplaceExisting {
			if err := tx.DeleteOverrides(ctx, req.UserID); err != nil {
				return err
			}
		}
		for _, item := range req.Overrides {
			o := PermissionOverride{
				UserID:       req.UserID,
				PermissionID: item.PermissionID,
				Kind:         item.Kind,
				PropertyID:   item.PropertyID,
				ExpiresAt:    item.ExpiresAt,
				Reason:       item.Reason,
				GrantedBy:    req.ActorID,
				GrantedAt:    grantedAt,
			}
			if err := tx.UpsertOverride(ctx, o); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, shared.Dependency(err)
	}

	action := ActionPermissionsGrant
	if req.Overrides[0].Kind == OverrideDeny {
		action = ActionPermissionsDeny
	}
	s.record(ctx, audit.Entry{
		Action:        action,
		SubjectUserID: req.UserID,
		ActorID:       req.ActorID,
		Before:        map[string]any{"permission_ids": overridePermissionIDs(before)},
		After:         map[string]any{"permission_ids": itemPermissionIDs(req.Overrides)},
	})
	return s.UserView(ctx, req.UserID)
}

// AssignProperties replaces or extends the user's property assignments. The
// first property becomes primary only in replace mode; an additive call
// never moves the primary flag.
func (s *Service) AssignProperties(ctx context.Context, req AssignPropertiesRequest) (*UserView, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, shared.Precondition("assign properties: %v", err)
	}
	if _, err := s.users.GetUserRef(ctx, req.UserID); err != nil {
		return nil, err
	}
	release, err := s.acquireUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	defer release(ctx)

	before, err := s.store.ListPropertyAssignments(ctx, req.UserID)
	if err != nil {
		return nil, shared.Dependency(err)
	}

	assignedAt := s.now().UTC()
	err = s.store.WithTx(ctx, func(tx Tx) error {
		if req.ReplaceExisting {
			if err := tx.DeletePropertyAssignments(ctx, req.UserID); err != nil {
				return err
			}
		}
		for i, propertyID := range req.PropertyIDs {
			a := PropertyAssignment{
				UserID:     req.UserID,
				PropertyID: propertyID,
				IsPrimary:  req.ReplaceExisting && i == 0,
				AssignedBy: req.ActorID,
				AssignedAt: assignedAt,
			}
			if err := tx.UpsertPropertyAssignment(ctx, a); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, shared.Dependency(err)
	}

	s.record(ctx, audit.Entry{
		Action:        ActionPropertiesAssign,
		SubjectUserID: req.UserID,
		ActorID:       req.ActorID,
		Before:        map[string]any{"property_ids": propertyIDs(before)},
		After:         map[string]any{"property_ids": req.PropertyIDs},
	})
	return s.UserView(ctx, req.UserID)
}

// UserView assembles the refreshed read model for a user, including the
// recomputed effective permission set.
func (s *Service) UserView(ctx context.Context, userID int64) (*UserView, error) {
	user, err := s.users.GetUserRef(ctx, userID)
	if err != nil {
		return nil, err
	}
	roles, err := s.store.ListRoleAssignments(ctx, userID)
	if err != nil {
		return nil, shared.Dependency(err)
	}
	overrides, err := s.store.ListActiveOverrides(ctx, userID, s.now())
	if err != nil {
		return nil, shared.Dependency(err)
	}
	properties, err := s.store.ListPropertyAssignments(ctx, userID)
	if err != nil {
		return nil, shared.Dependency(err)
	}
	effective, err := s.resolver.EffectivePermissions(ctx, userID)
	if err != nil {
		return nil, shared.Dependency(err)
	}
	return &UserView{
		User:                 user,
		Roles:                roles,
		Overrides:            overrides,
		Properties:           properties,
		EffectivePermissions: effective,
	}, nil
}

func (s *Service) acquireUser(ctx context.Context, userID int64) (func(context.Context) error, error) {
	release, err := s.locks.AcquireUser(ctx, userID)
	if err != nil {
		if errors.Is(err, shared.ErrLockHeld) {
			return nil, shared.Precondition("concurrent assignment write in progress for user %d", userID)
		}
		return nil, shared.Dependency(err)
	}
	return release, nil
}

func (s *Service) record(ctx context.Context, entry audit.Entry) {
	if s.auditor == nil {
		return
	}
	entry.At = s.now().UTC()
	if err := s.auditor.Record(ctx, entry); err != nil && s.logger != nil {
		s.logger.Warn("audit record", slog.String("action", entry.Action), slog.Any("error", err))
	}
}

func roleIDs(assignments []RoleAssignment) []int64 {
	ids := make([]int64, 0, len(assignments))
	for _, a := range assignments {
		ids = append(ids, a.RoleID)
	}
	return ids
}

func overridePermissionIDs(overrides []PermissionOverride) []int64 {
	ids := make([]int64, 0, len(overrides))
	for _, o := range overrides {
		ids = append(ids, o.PermissionID)
	}
	return ids
}

func itemPermissionIDs(items []OverrideItem) []int64 {
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.PermissionID)
	}
	return ids
}

func propertyIDs(assignments []PropertyAssignment) []int64 {
	ids := make([]int64, 0, len(assignments))
	for _, a := range assignments {
		ids = append(ids, a.PropertyID)
	}
	return ids
}
