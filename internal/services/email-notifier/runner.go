package notifier

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	kafkax "github.com/NordCoder/Pagewatch/internal/repository/kafka"
)

var (
	mConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifier_messages_consumed_total",
		Help: "ChangeDetected events consumed",
	})
	mSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifier_emails_sent_total",
		Help: "Emails sent",
	})
	mErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifier_errors_total",
		Help: "Errors",
	})
)

type Runner struct {
	log  *zap.Logger
	cons *kafkax.Consumer
	ctrl *Controller
}

func NewRunner(log *zap.Logger, cons *kafkax.Consumer, h *Handler) *Runner {
	return &Runner{
		log:  log,
		cons: cons,
		ctrl: &Controller{Log: log, UC: h},
	}
}

func (r *Runner) Run(ctx context.Context) error {
	if err := r.cons.Consume(ctx, r.ctrl.Handler()); err != nil && !errors.Is(err, context.Canceled) {
		mErrors.Inc()
		r.log.Warn("kafka consume", zap.Error(err))
		return err
	}
	return ctx.Err()
}
