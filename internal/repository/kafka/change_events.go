package kafka

import (
	"context"

	"github.com/NordCoder/Pagewatch/internal/domain/kafka"
	"github.com/NordCoder/Pagewatch/internal/domain/notification"
)

type ChangeEventsKafka struct {
	p *Producer
}

func NewChangeEventsKafka(p *Producer) *ChangeEventsKafka { return &ChangeEventsKafka{p: p} }

var _ kafka.ChangeEvents = (*ChangeEventsKafka)(nil)

// PublishChangeDetected keys by target so one target's events stay ordered.
func (e *ChangeEventsKafka) PublishChangeDetected(ctx context.Context, n notification.ChangeNotice) error {
	return e.p.PublishJSON(ctx, KeyFromInt64(n.TargetID), n)
}
