package users

import (
	"context"
	"log/slog"
	"time"

	"github.com/lodgekit/lodgekit/internal/audit"
	"github.com/lodgekit/lodgekit/internal/authz"
	"github.com/lodgekit/lodgekit/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	GetUser(ctx context.Context, userID int64) (User, error)
	UpdateStatus(ctx context.Context, userID int64, status Status) error
	MarkApproved(ctx context.Context, userID int64, approvedBy int64, approvedAt time.Time) error
}

// RoleAssigner is the slice of the assignment service approval needs.
type RoleAssigner interface {
	AssignRoles(ctx context.Context, req authz.AssignRolesRequest) (*authz.UserView, error)
}

// PropertyAssigner seeds property assignments during approval.
type PropertyAssigner interface {
	AssignProperties(ctx context.Context, req authz.AssignPropertiesRequest) (*authz.UserView, error)
}

// RoleCatalog resolves role names during approval.
type RoleCatalog interface {
	GetRoleByName(ctx context.Context, name string) (authz.Role, error)
}

// Audit action labels emitted by lifecycle transitions.
const (
	ActionApprove    = "user.approve"
	ActionSuspend    = "user.suspend"
	ActionReactivate = "user.reactivate"
	ActionSoftDelete = "user.soft_delete"
)

// Service drives the user lifecycle state machine:
// pending → active → {suspended, deactivated}, suspended → active, and
// soft-delete to deactivated from any state.
type Service struct {
	repo       RepositoryPort
	roles      RoleAssigner
	properties PropertyAssigner
	catalog    RoleCatalog
	auditor    audit.Recorder
	logger     *slog.Logger
	now        func() time.Time
}

// NewService builds the lifecycle service.
func NewService(repo RepositoryPort, roles RoleAssigner, properties PropertyAssigner, catalog RoleCatalog, auditor audit.Recorder, logger *slog.Logger) *Service {
	return &Service{
		repo:       repo,
		roles:      roles,
		properties: properties,
		catalog:    catalog,
		auditor:    auditor,
		logger:     logger,
		now:        time.Now,
	}
}

// ApproveRequest activates a pending user and seeds initial assignments.
type ApproveRequest struct {
	UserID          int64
	DefaultRoleName string
	PropertyIDs     []int64
	ActorID         int64
}

// Approve transitions a pending user to active. A default role name that
// does not resolve is skipped, not an error; supplied properties are
// assigned with the first one primary.
func (s *Service) Approve(ctx context.Context, req ApproveRequest) (User, error) {
	user, err := s.repo.GetUser(ctx, req.UserID)
	if err != nil {
		return User{}, err
	}
	if user.Status != StatusPending {
		return User{}, shared.Precondition("user %d is not pending approval", req.UserID)
	}

	approvedAt := s.now().UTC()
	if err := s.repo.MarkApproved(ctx, req.UserID, req.ActorID, approvedAt); err != nil {
		return User{}, shared.Dependency(err)
	}

	if req.DefaultRoleName != "" {
		role, err := s.catalog.GetRoleByName(ctx, req.DefaultRoleName)
		switch {
		case err == nil:
			if _, err := s.roles.AssignRoles(ctx, authz.AssignRolesRequest{
				UserID:  req.UserID,
				RoleIDs: []int64{role.ID},
				ActorID: req.ActorID,
			}); err != nil {
				return User{}, err
			}
		case shared.IsNotFound(err):
			// Best-effort: an unknown default role never fails the approval.
			s.logger.Warn("approve: default role not found", slog.String("role", req.DefaultRoleName))
		default:
			return User{}, shared.Dependency(err)
		}
	}

	if len(req.PropertyIDs) > 0 {
		if _, err := s.properties.AssignProperties(ctx, authz.AssignPropertiesRequest{
			UserID:          req.UserID,
			PropertyIDs:     req.PropertyIDs,
			ReplaceExisting: true,
			ActorID:         req.ActorID,
		}); err != nil {
			return User{}, err
		}
	}

	s.record(ctx, ActionApprove, user, StatusActive, req.ActorID)
	user.Status = StatusActive
	user.ApprovedAt = &approvedAt
	user.ApprovedBy = &req.ActorID
	return user, nil
}

// Suspend disables an active or pending account. Deactivated accounts are
// terminal and cannot be suspended.
func (s *Service) Suspend(ctx context.Context, userID, actorID int64) (User, error) {
	return s.transition(ctx, ActionSuspend, userID, actorID, StatusSuspended)
}

// Reactivate restores a suspended account to active. Deactivated accounts
// stay deactivated.
func (s *Service) Reactivate(ctx context.Context, userID, actorID int64) (User, error) {
	return s.transition(ctx, ActionReactivate, userID, actorID, StatusActive)
}

// SoftDelete moves the account to the terminal deactivated state. Role,
// override and property assignments are kept for history.
func (s *Service) SoftDelete(ctx context.Context, userID, actorID int64) (User, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if err := s.repo.UpdateStatus(ctx, userID, StatusDeactivated); err != nil {
		return User{}, shared.Dependency(err)
	}
	s.record(ctx, ActionSoftDelete, user, StatusDeactivated, actorID)
	user.Status = StatusDeactivated
	return user, nil
}

func (s *Service) transition(ctx context.Context, action string, userID, actorID int64, to Status) (User, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return User{}, err
	}
	if user.Status == StatusDeactivated {
		return User{}, shared.Precondition("user %d is deactivated", userID)
	}
	if err := s.repo.UpdateStatus(ctx, userID, to); err != nil {
		return User{}, shared.Dependency(err)
	}
	s.record(ctx, action, user, to, actorID)
	user.Status = to
	return user, nil
}

func (s *Service) record(ctx context.Context, action string, prior User, to Status, actorID int64) {
	if s.auditor == nil {
		return
	}
	entry := audit.Entry{
		Action:        action,
		SubjectUserID: prior.ID,
		ActorID:       actorID,
		Before:        map[string]any{"status": string(prior.Status)},
		After:         map[string]any{"status": string(to)},
		At:            s.now().UTC(),
	}
	if err := s.auditor.Record(ctx, entry); err != nil && s.logger != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}
