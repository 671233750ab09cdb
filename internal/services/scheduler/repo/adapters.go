package repo

import (
	"context"
	"time"

	"github.com/NordCoder/Pagewatch/internal/domain/target"
)

type Targets struct{ R target.Repo }

// FetchDue splits the active targets into due and not yet due ones.
func (a Targets) FetchDue(ctx context.Context, now time.Time) (due []*target.Target, active int, err error) {
	list, err := a.R.ListActive(ctx)
	if err != nil {
		return nil, 0, err
	}
	for _, t := range list {
		if t.IsDue(now) {
			due = append(due, t)
		}
	}
	return due, len(list), nil
}

func (a Targets) ListActive(ctx context.Context) ([]*target.Target, error) {
	return a.R.ListActive(ctx)
}
