package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgRepository provides PostgreSQL backed timeline reads.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository constructs a repository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// TimelineWindow returns a page of audit rows, newest first. Zero-valued
// filters are ignored.
func (r *PgRepository) TimelineWindow(ctx context.Context, filters TimelineFilters, offset, limit int) ([]TimelineRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT occurred_at, actor_id, action, subject_user_id, before, after
FROM audit_logs
WHERE ($1::timestamptz IS NULL OR occurred_at >= $1)
  AND ($2::timestamptz IS NULL OR occurred_at <= $2)
  AND ($3::bigint = 0 OR actor_id = $3)
  AND ($4::bigint = 0 OR subject_user_id = $4)
  AND ($5::text = '' OR action = $5)
ORDER BY occurred_at DESC, id DESC
OFFSET $6 LIMIT $7`,
		optionalTime(filters.From), optionalTime(filters.To),
		filters.ActorID, filters.Subject, filters.Action, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []TimelineRow
	for rows.Next() {
		var (
			row        TimelineRow
			at         pgtype.Timestamptz
			beforeJSON []byte
			afterJSON  []byte
		)
		if err := rows.Scan(&at, &row.ActorID, &row.Action, &row.Subject, &beforeJSON, &afterJSON); err != nil {
			return nil, err
		}
		if at.Valid {
			row.At = at.Time
		}
		if len(beforeJSON) > 0 {
			_ = json.Unmarshal(beforeJSON, &row.Before)
		}
		if len(afterJSON) > 0 {
			_ = json.Unmarshal(afterJSON, &row.After)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func optionalTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}
