package authz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lodgekit/lodgekit/internal/platform/db"
	"github.com/lodgekit/lodgekit/internal/shared"
)

// Repository provides PostgreSQL backed persistence for the authorization
// catalog, assignments and overrides.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListPermissions returns the full permission catalog.
func (r *Repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, resource, action FROM permissions ORDER BY resource, action`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Resource, &p.Action); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// ListRoles returns all roles with their permission bundles, highest
// priority first.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT r.id, r.name, r.description, r.priority, r.created_at, r.updated_at,
COALESCE(array_agg(rp.permission_id) FILTER (WHERE rp.permission_id IS NOT NULL), '{}')
FROM roles r
LEFT JOIN role_permissions rp ON rp.role_id = r.id
GROUP BY r.id
ORDER BY r.priority DESC, r.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.Priority, &role.CreatedAt, &role.UpdatedAt, &role.PermissionIDs); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// GetRoleByName fetches a role by its unique name.
func (r *Repository) GetRoleByName(ctx context.Context, name string) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx, `SELECT r.id, r.name, r.description, r.priority, r.created_at, r.updated_at,
COALESCE(array_agg(rp.permission_id) FILTER (WHERE rp.permission_id IS NOT NULL), '{}')
FROM roles r
LEFT JOIN role_permissions rp ON rp.role_id = r.id
WHERE r.name = $1
GROUP BY r.id`, name).Scan(&role.ID, &role.Name, &role.Description, &role.Priority, &role.CreatedAt, &role.UpdatedAt, &role.PermissionIDs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, shared.ErrNotFound
		}
		return Role{}, err
	}
	return role, nil
}

// ListRoleAssignments returns the user's role assignments in insertion order.
func (r *Repository) ListRoleAssignments(ctx context.Context, userID int64) ([]RoleAssignment, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, user_id, role_id, property_id, assigned_by, assigned_at
FROM role_assignments WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var assignments []RoleAssignment
	for rows.Next() {
		var a RoleAssignment
		if err := rows.Scan(&a.ID, &a.UserID, &a.RoleID, &a.PropertyID, &a.AssignedBy, &a.AssignedAt); err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

// ListActiveOverrides returns the user's overrides that are unexpired as of
// asOf, ordered by granted_at then id. Expired rows stay in the table for
// history but never reach resolution.
func (r *Repository) ListActiveOverrides(ctx context.Context, userID int64, asOf time.Time) ([]PermissionOverride, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, user_id, permission_id, override_kind, property_id, expires_at, reason, granted_by, granted_at
FROM permission_overrides
WHERE user_id = $1 AND (expires_at IS NULL OR expires_at >= $2)
ORDER BY granted_at, id`, userID, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var overrides []PermissionOverride
	for rows.Next() {
		var o PermissionOverride
		var kind string
		if err := rows.Scan(&o.ID, &o.UserID, &o.PermissionID, &kind, &o.PropertyID, &o.ExpiresAt, &o.Reason, &o.GrantedBy, &o.GrantedAt); err != nil {
			return nil, err
		}
		o.Kind = OverrideKind(kind)
		overrides = append(overrides, o)
	}
	return overrides, rows.Err()
}

// ListPropertyAssignments returns the user's property assignments, primary
// first.
func (r *Repository) ListPropertyAssignments(ctx context.Context, userID int64) ([]PropertyAssignment, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, user_id, property_id, is_primary, assigned_by, assigned_at
FROM property_assignments WHERE user_id = $1 ORDER BY is_primary DESC, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var assignments []PropertyAssignment
	for rows.Next() {
		var a PropertyAssignment
		if err := rows.Scan(&a.ID, &a.UserID, &a.PropertyID, &a.IsPrimary, &a.AssignedBy, &a.AssignedAt); err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

// WithTx runs fn inside a single RepeatableRead transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(Tx) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&repoTx{tx: tx})
	})
}

type repoTx struct {
	tx pgx.Tx
}

func (t *repoTx) DeleteRoleAssignments(ctx context.Context, userID int64, propertyID *int64) error {
	if propertyID == nil {
		// Scope-unaware on purpose: an unscoped replace clears assignments
		// in every property scope before the insert.
		_, err := t.tx.Exec(ctx, `DELETE FROM role_assignments WHERE user_id = $1`, userID)
		return classify(err)
	}
	_, err := t.tx.Exec(ctx, `DELETE FROM role_assignments WHERE user_id = $1 AND property_id = $2`, userID, *propertyID)
	return classify(err)
}

func (t *repoTx) UpsertRoleAssignment(ctx context.Context, a RoleAssignment) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO role_assignments (user_id, role_id, property_id, assigned_by, assigned_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (user_id, role_id, property_id)
DO UPDATE SET assigned_by = EXCLUDED.assigned_by, assigned_at = EXCLUDED.assigned_at`,
		a.UserID, a.RoleID, a.PropertyID, a.AssignedBy, a.AssignedAt)
	return classify(err)
}

func (t *repoTx) DeleteOverrides(ctx context.Context, userID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM permission_overrides WHERE user_id = $1`, userID)
	return classify(err)
}

func (t *repoTx) UpsertOverride(ctx context.Context, o PermissionOverride) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO permission_overrides (user_id, permission_id, override_kind, property_id, expires_at, reason, granted_by, granted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (user_id, permission_id, property_id)
DO UPDATE SET override_kind = EXCLUDED.override_kind, expires_at = EXCLUDED.expires_at,
	reason = EXCLUDED.reason, granted_by = EXCLUDED.granted_by, granted_at = EXCLUDED.granted_at`,
		o.UserID, o.PermissionID, string(o.Kind), o.PropertyID, o.ExpiresAt, o.Reason, o.GrantedBy, o.GrantedAt)
	return classify(err)
}

func (t *repoTx) DeletePropertyAssignments(ctx context.Context, userID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM property_assignments WHERE user_id = $1`, userID)
	return classify(err)
}

func (t *repoTx) UpsertPropertyAssignment(ctx context.Context, a PropertyAssignment) error {
	// The conflict branch leaves is_primary alone: an additive call must not
	// move the primary flag.
	_, err := t.tx.Exec(ctx, `INSERT INTO property_assignments (user_id, property_id, is_primary, assigned_by, assigned_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (user_id, property_id)
DO UPDATE SET assigned_by = EXCLUDED.assigned_by, assigned_at = EXCLUDED.assigned_at`,
		a.UserID, a.PropertyID, a.IsPrimary, a.AssignedBy, a.AssignedAt)
	return classify(err)
}

// classify annotates constraint violations so logs name the failing
// constraint instead of a bare SQLSTATE.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503":
			return fmt.Errorf("authz: foreign key violation on %s: %w", pgErr.ConstraintName, err)
		case "23505":
			return fmt.Errorf("authz: unique violation on %s: %w", pgErr.ConstraintName, err)
		}
	}
	return err
}
