package users

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lodgekit/lodgekit/internal/authz"
	"github.com/lodgekit/lodgekit/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetUser fetches a user by ID.
func (r *Repository) GetUser(ctx context.Context, userID int64) (User, error) {
	var user User
	var status string
	err := r.pool.QueryRow(ctx, `SELECT id, email, name, status, approved_at, approved_by, created_at, updated_at
FROM users WHERE id = $1`, userID).Scan(
		&user.ID, &user.Email, &user.Name, &status, &user.ApprovedAt, &user.ApprovedBy, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, shared.ErrNotFound
		}
		return User{}, err
	}
	user.Status = Status(status)
	return user, nil
}

// GetUserRef adapts the user row to the authorization core's read model.
func (r *Repository) GetUserRef(ctx context.Context, userID int64) (authz.UserRef, error) {
	user, err := r.GetUser(ctx, userID)
	if err != nil {
		return authz.UserRef{}, err
	}
	return authz.UserRef{ID: user.ID, Email: user.Email, Name: user.Name, Status: string(user.Status)}, nil
}

// ListUsers returns all users.
func (r *Repository) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, email, name, status, approved_at, approved_by, created_at, updated_at
FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []User
	for rows.Next() {
		var user User
		var status string
		if err := rows.Scan(&user.ID, &user.Email, &user.Name, &status, &user.ApprovedAt, &user.ApprovedBy, &user.CreatedAt, &user.UpdatedAt); err != nil {
			return nil, err
		}
		user.Status = Status(status)
		list = append(list, user)
	}
	return list, rows.Err()
}

// UpdateStatus sets the user's lifecycle status.
func (r *Repository) UpdateStatus(ctx context.Context, userID int64, status Status) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET status = $2, updated_at = NOW() WHERE id = $1`, userID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// MarkApproved activates the user and records who approved it and when.
func (r *Repository) MarkApproved(ctx context.Context, userID int64, approvedBy int64, approvedAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET status = $2, approved_by = $3, approved_at = $4, updated_at = NOW()
WHERE id = $1`, userID, string(StatusActive), approvedBy, approvedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
