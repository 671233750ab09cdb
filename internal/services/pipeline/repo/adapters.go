package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/NordCoder/Pagewatch/internal/domain/history"
	"github.com/NordCoder/Pagewatch/internal/domain/notification"
	"github.com/NordCoder/Pagewatch/internal/domain/outbox"
	"github.com/NordCoder/Pagewatch/internal/domain/settings"
	"github.com/NordCoder/Pagewatch/internal/domain/target"
)

type Targets struct{ R target.Repo }
type History struct{ R history.Repo }
type Settings struct{ R settings.Repo }

// Outbox is the Notification collaborator: notices are enqueued in the
// caller's transaction and relayed to Kafka later.
type Outbox struct{ R outbox.Repository }

func (a Targets) GetByID(ctx context.Context, id int64) (*target.Target, error) {
	return a.R.GetByID(ctx, id)
}

func (a Targets) UpdateState(ctx context.Context, s target.State) error {
	return a.R.UpdateState(ctx, s)
}

func (a History) Insert(ctx context.Context, r *history.Record) error {
	return a.R.Insert(ctx, r)
}

// Get never returns nil settings.
func (a Settings) Get(ctx context.Context) (*settings.Settings, error) {
	s, err := a.R.Get(ctx)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return &settings.Settings{}, nil
	}
	return s, nil
}

var _ notification.Dispatcher = Outbox{}

func (a Outbox) Notify(ctx context.Context, n notification.ChangeNotice) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notice: %w", err)
	}
	return a.R.Enqueue(ctx, outbox.ChangeKey(n.TargetID, n.At), outbox.KindChangeDetected, data)
}
