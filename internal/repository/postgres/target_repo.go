package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/NordCoder/Pagewatch/internal/domain/target"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

var _ target.Repo = (*TargetRepoImpl)(nil)

type TargetRepoImpl struct {
	db *DB
}

func NewTargetRepo(db *DB) *TargetRepoImpl { return &TargetRepoImpl{db: db} }

const targetCols = `
id, user_id, name, url, mode, selector, interval_sec, active,
retry_count, retry_delay_ms, rules, price_min::text, price_max::text, currency, notify_email,
has_baseline, last_checked_at, last_value, last_screenshot, last_diff, failure_count,
created_at, updated_at`

const (
	qTargetByID = `SELECT ` + targetCols + `
FROM targets
WHERE id = $1;`

	qTargetsActive = `SELECT ` + targetCols + `
FROM targets
WHERE active = TRUE
ORDER BY id;`

	qTargetUpdateState = `
UPDATE targets
SET has_baseline    = $2,
    last_checked_at = $3,
    last_value      = $4,
    last_screenshot = $5,
    last_diff       = $6,
    failure_count   = $7,
    updated_at      = NOW()
WHERE id = $1;`
)

func scanTarget(row pgx.Row, t *target.Target) error {
	var (
		intervalSec  int64
		retryDelayMS int64
		rules        []byte
		priceMin     *string
		priceMax     *string
	)
	if err := row.Scan(
		&t.ID, &t.UserID, &t.Name, &t.URL, &t.Mode, &t.Selector, &intervalSec, &t.Active,
		&t.Retry.Attempts, &retryDelayMS, &rules, &priceMin, &priceMax, &t.Currency, &t.NotifyEmail,
		&t.HasBaseline, &t.LastCheckedAt, &t.LastValue, &t.LastScreenshot, &t.LastDiff, &t.FailureCount,
		&t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return err
	}
	t.Interval = time.Duration(intervalSec) * time.Second
	t.Retry.Delay = time.Duration(retryDelayMS) * time.Millisecond

	if len(rules) > 0 {
		if err := json.Unmarshal(rules, &t.Rules); err != nil {
			return fmt.Errorf("decode rules: %w", err)
		}
	}
	var err error
	if t.Price.Min, err = decimalPtr(priceMin); err != nil {
		return fmt.Errorf("price_min: %w", err)
	}
	if t.Price.Max, err = decimalPtr(priceMax); err != nil {
		return fmt.Errorf("price_max: %w", err)
	}
	return nil
}

func decimalPtr(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *TargetRepoImpl) GetByID(ctx context.Context, id int64) (*target.Target, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var t target.Target
	if err := scanTarget(r.db.execQueryer(ctx).QueryRow(ctx, qTargetByID, id), &t); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get target: %w", err)
	}
	return &t, nil
}

func (r *TargetRepoImpl) ListActive(ctx context.Context) ([]*target.Target, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qTargetsActive)
	if err != nil {
		return nil, fmt.Errorf("list active targets: %w", err)
	}
	defer rows.Close()

	var out []*target.Target
	for rows.Next() {
		var t target.Target
		if err := scanTarget(rows, &t); err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (r *TargetRepoImpl) UpdateState(ctx context.Context, s target.State) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	tag, err := r.db.execQueryer(ctx).Exec(ctx, qTargetUpdateState,
		s.TargetID,
		s.HasBaseline,
		nullTime(s.LastCheckedAt),
		s.LastValue,
		s.LastScreenshot,
		s.LastDiff,
		s.FailureCount,
	)
	if err != nil {
		return fmt.Errorf("update target state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
