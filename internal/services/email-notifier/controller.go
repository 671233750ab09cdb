package notifier

import (
	"context"

	"go.uber.org/zap"

	"github.com/NordCoder/Pagewatch/internal/domain/notification"
	kafkax "github.com/NordCoder/Pagewatch/internal/repository/kafka"
)

// Controller turns change events into HandleChange calls.
type Controller struct {
	Log *zap.Logger
	UC  *Handler
}

func (c *Controller) Handler() kafkax.Handler {
	return kafkax.JSONHandler(func(ctx context.Context, _ []byte, n notification.ChangeNotice) error {
		mConsumed.Inc()
		if n.TargetID <= 0 || n.To == "" {
			c.Log.Warn("change event dropped: missing target or recipient",
				zap.Int64("target_id", n.TargetID), zap.String("to", n.To))
			return nil
		}
		if err := c.UC.HandleChange(ctx, n); err != nil {
			mErrors.Inc()
			return err
		}
		mSent.Inc()
		return nil
	})
}
