package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry is one audit record: who did what to whom, with state snapshots.
// Before and After may be nil when a side of the change does not apply.
type Entry struct {
	ID            uuid.UUID      `json:"id"`
	Action        string         `json:"action"`
	SubjectUserID int64          `json:"subject_user_id"`
	ActorID       int64          `json:"actor_id"`
	Before        map[string]any `json:"before,omitempty"`
	After         map[string]any `json:"after,omitempty"`
	At            time.Time      `json:"at"`
}

// Recorder accepts audit entries. Implementations must treat recording as
// fire-and-forget from the caller's perspective: a recorder failure never
// aborts the mutation that produced the entry (callers log and continue).
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
}

// Logger writes entries straight into audit_logs.
type Logger struct {
	pool *pgxpool.Pool
}

// NewLogger returns a pg-backed Logger.
func NewLogger(pool *pgxpool.Pool) *Logger {
	return &Logger{pool: pool}
}

// Record persists the entry, assigning an ID and timestamp when absent.
func (l *Logger) Record(ctx context.Context, entry Entry) error {
	if l == nil || l.pool == nil {
		return errors.New("audit: logger not initialised")
	}
	if entry.Action == "" {
		return errors.New("audit: entry requires action")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	beforeJSON, err := marshalSnapshot(entry.Before)
	if err != nil {
		return err
	}
	afterJSON, err := marshalSnapshot(entry.After)
	if err != nil {
		return err
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_logs (id, action, subject_user_id, actor_id, before, after, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, entry.ID, entry.Action, entry.SubjectUserID, entry.ActorID, beforeJSON, afterJSON, entry.At)
	return err
}

func marshalSnapshot(snapshot map[string]any) ([]byte, error) {
	if snapshot == nil {
		return nil, nil
	}
	return json.Marshal(snapshot)
}
