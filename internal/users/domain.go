package users

import "time"

// Status is the user lifecycle state. Status only changes through the
// lifecycle service; assignment writes never touch it.
type Status string

const (
	// StatusPending is the initial state of a self-registered user.
	StatusPending Status = "pending"
	// StatusActive marks an approved, usable account.
	StatusActive Status = "active"
	// StatusSuspended marks a temporarily disabled account.
	StatusSuspended Status = "suspended"
	// StatusDeactivated is the soft-deleted terminal state. Assignment rows
	// survive it; active-user checks elsewhere exclude it.
	StatusDeactivated Status = "deactivated"
)

// User represents a user account for management.
type User struct {
	ID         int64
	Email      string
	Name       string
	Status     Status
	ApprovedAt *time.Time
	ApprovedBy *int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
