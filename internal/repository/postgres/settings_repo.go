package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/NordCoder/Pagewatch/internal/domain/settings"
	"github.com/jackc/pgx/v5"
)

var _ settings.Repo = (*SettingsRepoImpl)(nil)

type SettingsRepoImpl struct{ db *DB }

func NewSettingsRepo(db *DB) *SettingsRepoImpl { return &SettingsRepoImpl{db: db} }

const qSettingsGet = `
SELECT proxy_server, ai_summary_enabled, updated_at
FROM settings
WHERE id = 1;`

// Get returns zero settings when the row was never written.
func (r *SettingsRepoImpl) Get(ctx context.Context) (*settings.Settings, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var s settings.Settings
	err := r.db.Pool.QueryRow(ctx, qSettingsGet).Scan(&s.ProxyServer, &s.AISummaryEnabled, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &settings.Settings{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	return &s, nil
}
