package users

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lodgekit/lodgekit/internal/audit"
	"github.com/lodgekit/lodgekit/internal/authz"
	"github.com/lodgekit/lodgekit/internal/shared"
)

type memUserRepo struct {
	users map[int64]User
}

func (r *memUserRepo) GetUser(ctx context.Context, userID int64) (User, error) {
	user, ok := r.users[userID]
	if !ok {
		return User{}, shared.ErrNotFound
	}
	return user, nil
}

func (r *memUserRepo) UpdateStatus(ctx context.Context, userID int64, status Status) error {
	user, ok := r.users[userID]
	if !ok {
		return shared.ErrNotFound
	}
	user.Status = status
	r.users[userID] = user
	return nil
}

func (r *memUserRepo) MarkApproved(ctx context.Context, userID int64, approvedBy int64, approvedAt time.Time) error {
	user, ok := r.users[userID]
	if !ok {
		return shared.ErrNotFound
	}
	user.Status = StatusActive
	user.ApprovedBy = &approvedBy
	user.ApprovedAt = &approvedAt
	r.users[userID] = user
	return nil
}

type captureAssigner struct {
	roleRequests     []authz.AssignRolesRequest
	propertyRequests []authz.AssignPropertiesRequest
}

func (c *captureAssigner) AssignRoles(ctx context.Context, req authz.AssignRolesRequest) (*authz.UserView, error) {
	c.roleRequests = append(c.roleRequests, req)
	return &authz.UserView{}, nil
}

func (c *captureAssigner) AssignProperties(ctx context.Context, req authz.AssignPropertiesRequest) (*authz.UserView, error) {
	c.propertyRequests = append(c.propertyRequests, req)
	return &authz.UserView{}, nil
}

type stubCatalog struct {
	roles map[string]authz.Role
}

func (s *stubCatalog) GetRoleByName(ctx context.Context, name string) (authz.Role, error) {
	role, ok := s.roles[name]
	if !ok {
		return authz.Role{}, shared.ErrNotFound
	}
	return role, nil
}

type captureRecorder struct {
	entries []audit.Entry
}

func (r *captureRecorder) Record(ctx context.Context, entry audit.Entry) error {
	r.entries = append(r.entries, entry)
	return nil
}

func newLifecycleFixture(status Status) (*Service, *memUserRepo, *captureAssigner, *captureRecorder) {
	repo := &memUserRepo{users: map[int64]User{
		7: {ID: 7, Email: "frontdesk@lodgekit.local", Status: status},
	}}
	assigner := &captureAssigner{}
	catalog := &stubCatalog{roles: map[string]authz.Role{
		"staff": {ID: 11, Name: "staff"},
	}}
	recorder := &captureRecorder{}
	svc := NewService(repo, assigner, assigner, catalog, recorder, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return svc, repo, assigner, recorder
}

func TestApprovePendingUser(t *testing.T) {
	svc, repo, assigner, recorder := newLifecycleFixture(StatusPending)

	user, err := svc.Approve(context.Background(), ApproveRequest{
		UserID:          7,
		DefaultRoleName: "staff",
		PropertyIDs:     []int64{5, 6},
		ActorID:         1,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusActive, user.Status)
	require.NotNil(t, user.ApprovedBy)
	assert.Equal(t, int64(1), *user.ApprovedBy)
	assert.Equal(t, StatusActive, repo.users[7].Status)

	require.Len(t, assigner.roleRequests, 1)
	assert.Equal(t, []int64{11}, assigner.roleRequests[0].RoleIDs)
	assert.Nil(t, assigner.roleRequests[0].PropertyID)
	assert.False(t, assigner.roleRequests[0].ReplaceExisting)

	require.Len(t, assigner.propertyRequests, 1)
	assert.Equal(t, []int64{5, 6}, assigner.propertyRequests[0].PropertyIDs)
	assert.True(t, assigner.propertyRequests[0].ReplaceExisting)

	require.Len(t, recorder.entries, 1)
	assert.Equal(t, ActionApprove, recorder.entries[0].Action)
	assert.Equal(t, map[string]any{"status": "pending"}, recorder.entries[0].Before)
	assert.Equal(t, map[string]any{"status": "active"}, recorder.entries[0].After)
}

func TestApproveNonPendingUserFails(t *testing.T) {
	svc, repo, assigner, recorder := newLifecycleFixture(StatusActive)

	_, err := svc.Approve(context.Background(), ApproveRequest{UserID: 7, ActorID: 1})
	require.Error(t, err)
	assert.True(t, shared.IsPrecondition(err))
	assert.Equal(t, StatusActive, repo.users[7].Status)
	assert.Empty(t, assigner.roleRequests)
	assert.Empty(t, recorder.entries)
}

func TestApproveUnknownDefaultRoleIsSkipped(t *testing.T) {
	svc, repo, assigner, _ := newLifecycleFixture(StatusPending)

	user, err := svc.Approve(context.Background(), ApproveRequest{
		UserID:          7,
		DefaultRoleName: "concierge",
		ActorID:         1,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusActive, user.Status)
	assert.Equal(t, StatusActive, repo.users[7].Status)
	assert.Empty(t, assigner.roleRequests)
}

func TestApproveUnknownUser(t *testing.T) {
	svc, _, _, _ := newLifecycleFixture(StatusPending)

	_, err := svc.Approve(context.Background(), ApproveRequest{UserID: 404, ActorID: 1})
	require.Error(t, err)
	assert.True(t, shared.IsNotFound(err))
}

func TestSuspendAndReactivate(t *testing.T) {
	svc, repo, _, recorder := newLifecycleFixture(StatusActive)

	user, err := svc.Suspend(context.Background(), 7, 1)
	require.NoError(t, err)
	assert.Equal(t, StatusSuspended, user.Status)

	user, err = svc.Reactivate(context.Background(), 7, 1)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, user.Status)
	assert.Equal(t, StatusActive, repo.users[7].Status)

	require.Len(t, recorder.entries, 2)
	assert.Equal(t, ActionSuspend, recorder.entries[0].Action)
	assert.Equal(t, map[string]any{"status": "active"}, recorder.entries[0].Before)
	assert.Equal(t, ActionReactivate, recorder.entries[1].Action)
	assert.Equal(t, map[string]any{"status": "suspended"}, recorder.entries[1].Before)
}

func TestDeactivatedIsTerminal(t *testing.T) {
	svc, repo, _, _ := newLifecycleFixture(StatusDeactivated)

	_, err := svc.Suspend(context.Background(), 7, 1)
	require.Error(t, err)
	assert.True(t, shared.IsPrecondition(err))

	_, err = svc.Reactivate(context.Background(), 7, 1)
	require.Error(t, err)
	assert.True(t, shared.IsPrecondition(err))

	assert.Equal(t, StatusDeactivated, repo.users[7].Status)
}

func TestSoftDelete(t *testing.T) {
	svc, repo, _, recorder := newLifecycleFixture(StatusSuspended)

	user, err := svc.SoftDelete(context.Background(), 7, 1)
	require.NoError(t, err)
	assert.Equal(t, StatusDeactivated, user.Status)
	assert.Equal(t, StatusDeactivated, repo.users[7].Status)

	require.Len(t, recorder.entries, 1)
	assert.Equal(t, ActionSoftDelete, recorder.entries[0].Action)
	assert.Equal(t, map[string]any{"status": "suspended"}, recorder.entries[0].Before)
	assert.Equal(t, map[string]any{"status": "deactivated"}, recorder.entries[0].After)
}
