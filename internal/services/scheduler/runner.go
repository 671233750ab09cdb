package scheduler

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	config "github.com/NordCoder/Pagewatch/internal/config/watcher"
)

var (
	mDue = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_targets_due_total", Help: "Due targets selected by ticks",
	})
	mChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduler_checks_total", Help: "Checks dispatched by outcome",
	}, []string{"outcome"})
	mErr = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_errors_total", Help: "Errors in scheduler loop",
	})
	mLoopDur = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "scheduler_loop_duration_seconds", Help: "Scheduler tick duration",
		Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300},
	})
	mHealthy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scheduler_healthy", Help: "1 while a check succeeded recently enough",
	})
)

type Runner struct {
	Log *zap.Logger
	UC  *Usecase
	Cfg *config.Sched
}

func New(log *zap.Logger, uc *Usecase, cfg *config.Sched) *Runner {
	return &Runner{Log: log.With(zap.String("component", "scheduler")), UC: uc, Cfg: cfg}
}

func (r *Runner) tick(ctx context.Context) {
	start := time.Now()
	res, err := r.UC.Tick(ctx)
	if err != nil {
		mErr.Inc()
		r.Log.Warn("tick error", zap.Error(err))
	}
	if res.Due > 0 {
		mDue.Add(float64(res.Due))
		mChecks.WithLabelValues("unchanged").Add(float64(res.Unchanged))
		mChecks.WithLabelValues("changed").Add(float64(res.Changed))
		mChecks.WithLabelValues("failed").Add(float64(res.Failed))
		mChecks.WithLabelValues("skipped").Add(float64(res.Skipped))
		if res.Errors > 0 {
			mErr.Add(float64(res.Errors))
		}
		r.Log.Info("tick done",
			zap.Int("active", res.Active), zap.Int("due", res.Due),
			zap.Int("changed", res.Changed), zap.Int("failed", res.Failed),
			zap.Int("skipped", res.Skipped), zap.Int("errors", res.Errors),
			zap.Duration("elapsed", time.Since(start)))
	}
	if r.UC.Health.Status(time.Now()).Healthy {
		mHealthy.Set(1)
	} else {
		mHealthy.Set(0)
	}
	mLoopDur.Observe(time.Since(start).Seconds())
}

// Run ticks until ctx is done. Ticks never overlap: a slow tick delays the
// next one.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.Cfg.Tick)
	defer ticker.Stop()

	r.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}
