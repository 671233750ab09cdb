package settings

import (
	"context"
	"time"
)

// Settings is the singleton row shared by every check.
type Settings struct {
	ProxyServer      string    `json:"proxy_server,omitempty"`
	AISummaryEnabled bool      `json:"ai_summary_enabled"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type Repo interface {
	Get(ctx context.Context) (*Settings, error)
}
