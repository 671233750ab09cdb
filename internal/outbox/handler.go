package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/NordCoder/Pagewatch/internal/domain/kafka"
	"github.com/NordCoder/Pagewatch/internal/domain/notification"
	"github.com/NordCoder/Pagewatch/internal/domain/outbox"
	"github.com/NordCoder/Pagewatch/internal/obs/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var (
	outboxHandlerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "outbox_handler_latency_seconds",
		Help:    "Latency of outbox handlers (publish, http, etc.)",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
	outboxHandlerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_handler_errors_total",
		Help: "Errors in outbox handlers (after retries).",
	}, []string{"kind"})
)

func instrument(kind string, h outbox.KindHandler, pol retry.Policy) outbox.KindHandler {
	tr := otel.Tracer("outbox.handler")
	if pol.Name == "" {
		pol.Name = "outbox_" + kind
	}
	return func(ctx context.Context, data []byte) error {
		ctx, span := tr.Start(ctx, "outbox.handle")
		defer span.End()

		start := time.Now()
		err := retry.Do(ctx, func() error { return h(ctx, data) }, pol)
		outboxHandlerLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			outboxHandlerErrors.WithLabelValues(kind).Inc()
		}
		return err
	}
}

func MakeGlobalOutboxHandler(pub kafka.ChangeEvents, pol retry.Policy) outbox.GlobalHandler {
	changeDetected := instrument(outbox.KindChangeDetected.String(), func(ctx context.Context, data []byte) error {
		var n notification.ChangeNotice
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("unmarshal change-detected payload: %w", err)
		}
		return pub.PublishChangeDetected(ctx, n)
	}, pol)

	return func(kind outbox.Kind) (outbox.KindHandler, error) {
		switch kind {
		case outbox.KindChangeDetected:
			return changeDetected, nil
		default:
			return nil, fmt.Errorf("unsupported outbox kind: %s", kind)
		}
	}
}
