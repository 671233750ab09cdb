package target

import "context"

type Repo interface {
	GetByID(ctx context.Context, id int64) (*Target, error)
	ListActive(ctx context.Context) ([]*Target, error)
	UpdateState(ctx context.Context, s State) error
}
