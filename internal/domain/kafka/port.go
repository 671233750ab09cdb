package kafka

import (
	"context"

	"github.com/NordCoder/Pagewatch/internal/domain/notification"
)

type ChangeEvents interface {
	PublishChangeDetected(ctx context.Context, n notification.ChangeNotice) error
}
