package repo

import (
	"context"

	"github.com/NordCoder/Pagewatch/internal/domain/notification"
)

type NotificationRepo struct{ R notification.Repo }

// Screens reads diff images written by the watcher.
type Screens struct {
	S interface {
		Get(key string) ([]byte, error)
	}
}

func (a NotificationRepo) Create(ctx context.Context, n *notification.Notification) error {
	return a.R.Create(ctx, &notification.Notification{
		TargetID: n.TargetID, UserID: n.UserID, Type: n.Type,
		SentAt: n.SentAt, Payload: n.Payload,
	})
}

func (a Screens) Get(key string) ([]byte, error) {
	return a.S.Get(key)
}
