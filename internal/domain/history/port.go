package history

import "context"

type Repo interface {
	Insert(ctx context.Context, r *Record) error
	ListByTarget(ctx context.Context, targetID int64, limit int) ([]*Record, error)
}
