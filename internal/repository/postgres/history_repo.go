package postgres

import (
	"context"
	"fmt"

	"github.com/NordCoder/Pagewatch/internal/domain/history"
)

var _ history.Repo = (*HistoryRepoImpl)(nil)

type HistoryRepoImpl struct{ db *DB }

func NewHistoryRepo(db *DB) *HistoryRepoImpl { return &HistoryRepoImpl{db: db} }

const (
	qHistoryInsert = `
INSERT INTO check_history (target_id, status, value, error, kind,
                           screenshot_prev, screenshot_cur, screenshot_diff, summary, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10, NOW()))
RETURNING id, created_at;`

	qHistoryByTarget = `
SELECT id, target_id, status, value, error, kind,
       screenshot_prev, screenshot_cur, screenshot_diff, summary, created_at
FROM check_history
WHERE target_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2;`
)

func (r *HistoryRepoImpl) Insert(ctx context.Context, rec *history.Record) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if err := r.db.execQueryer(ctx).QueryRow(ctx, qHistoryInsert,
		rec.TargetID,
		rec.Status,
		rec.Value,
		rec.Error,
		rec.ErrorKind,
		rec.Screenshots.Previous,
		rec.Screenshots.Current,
		rec.Screenshots.Diff,
		rec.Summary,
		nullTime(rec.CreatedAt),
	).Scan(&rec.ID, &rec.CreatedAt); err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

func (r *HistoryRepoImpl) ListByTarget(ctx context.Context, targetID int64, limit int) ([]*history.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qHistoryByTarget, targetID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := make([]*history.Record, 0, limit)
	for rows.Next() {
		var h history.Record
		if err := rows.Scan(&h.ID, &h.TargetID, &h.Status, &h.Value, &h.Error, &h.ErrorKind,
			&h.Screenshots.Previous, &h.Screenshots.Current, &h.Screenshots.Diff, &h.Summary, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}
