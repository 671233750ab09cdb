// Package pipeline runs one target's check end to end: visit, extract,
// compare, persist, notify.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/NordCoder/Pagewatch/internal/browser"
	"github.com/NordCoder/Pagewatch/internal/diff"
	"github.com/NordCoder/Pagewatch/internal/domain/history"
	"github.com/NordCoder/Pagewatch/internal/domain/notification"
	"github.com/NordCoder/Pagewatch/internal/domain/target"
	"github.com/NordCoder/Pagewatch/internal/obs"
	"github.com/NordCoder/Pagewatch/internal/pricing"
	"github.com/NordCoder/Pagewatch/internal/repository/postgres"
	"github.com/NordCoder/Pagewatch/internal/screenshot"
	"github.com/NordCoder/Pagewatch/internal/services/pipeline/repo"
)

var (
	mChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_checks_total", Help: "Completed checks by kind and status",
	}, []string{"kind", "status"})
	mErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_check_errors_total", Help: "Failed checks by error kind",
	}, []string{"error_kind"})
	mDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_check_duration_seconds",
		Help:    "Wall time of one check including session wait",
		Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"kind"})
	mNotify = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_notifications_total", Help: "Change notifications by result",
	}, []string{"result"})
)

// Sessions is the part of the page session pool the pipeline needs.
type Sessions interface {
	Acquire(ctx context.Context, lane browser.Lane) (*browser.Session, error)
}

// Screens stores raster captures by key.
type Screens interface {
	Put(key string, data []byte) error
	Get(key string) ([]byte, error)
	DeleteAll(keys ...string)
}

type Config struct {
	NavigationTimeout time.Duration
	OverlayTimeout    time.Duration
	SettleDelay       time.Duration
	PixelThreshold    float64
	SummaryTimeout    time.Duration
	// NotifyFallbackTo receives notices of targets without their own address.
	NotifyFallbackTo string
}

func (c Config) withDefaults() Config {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 30 * time.Second
	}
	if c.OverlayTimeout <= 0 {
		c.OverlayTimeout = 3 * time.Second
	}
	if c.PixelThreshold <= 0 {
		c.PixelThreshold = diff.DefaultThreshold
	}
	if c.SummaryTimeout <= 0 {
		c.SummaryTimeout = 20 * time.Second
	}
	return c
}

type Deps struct {
	Sessions  Sessions
	Targets   repo.Targets
	History   repo.History
	Settings  repo.Settings
	Notifier  notification.Dispatcher
	Tx        postgres.Transactor
	Screens   Screens
	Extractor *pricing.Extractor
	// Summarizer may be nil.
	Summarizer notification.Summarizer
	Lock       *InFlight
	Clock      notification.Clock
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type Pipeline struct {
	cfg Config

	sessions   Sessions
	targets    repo.Targets
	history    repo.History
	settings   repo.Settings
	notifier   notification.Dispatcher
	tx         postgres.Transactor
	screens    Screens
	extractor  *pricing.Extractor
	summarizer notification.Summarizer
	lock       *InFlight
	clock      notification.Clock

	tracer trace.Tracer
	log    *zap.Logger
}

func New(cfg Config, d Deps, log *zap.Logger) *Pipeline {
	if d.Lock == nil {
		d.Lock = NewInFlight()
	}
	if d.Clock == nil {
		d.Clock = systemClock{}
	}
	if d.Extractor == nil {
		d.Extractor = pricing.New("USD", nil)
	}
	return &Pipeline{
		cfg:        cfg.withDefaults(),
		sessions:   d.Sessions,
		targets:    d.Targets,
		history:    d.History,
		settings:   d.Settings,
		notifier:   d.Notifier,
		tx:         d.Tx,
		screens:    d.Screens,
		extractor:  d.Extractor,
		summarizer: d.Summarizer,
		lock:       d.Lock,
		clock:      d.Clock,
		tracer:     obs.Tracer("pipeline"),
		log:        log.With(zap.String("component", "pipeline")),
	}
}

// Lock is shared with callers that need to know which targets are busy.
func (p *Pipeline) Lock() *InFlight { return p.lock }

// CheckNow loads the target and checks it on the interactive lane.
func (p *Pipeline) CheckNow(ctx context.Context, id int64) (*history.Record, error) {
	t, err := p.targets.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get target %d: %w", id, err)
	}
	return p.Check(ctx, t, browser.Interactive)
}

// Check leases a session on lane and checks t with it. The returned error is
// ErrInFlight, a cancellation, or a persistence failure; every other failure
// is recorded as an error history record.
func (p *Pipeline) Check(ctx context.Context, t *target.Target, lane browser.Lane) (*history.Record, error) {
	if !p.lock.Acquire(t.ID) {
		return nil, ErrInFlight
	}
	defer p.lock.Release(t.ID)

	start := time.Now()
	s, err := p.sessions.Acquire(ctx, lane)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return p.run(ctx, nil, t, &RenderingEngineUnavailableError{Err: err}, start)
	}
	defer s.Release()
	return p.run(ctx, s, t, nil, start)
}

// CheckWithSession checks t on a session the caller already holds and keeps.
func (p *Pipeline) CheckWithSession(ctx context.Context, s *browser.Session, t *target.Target) (*history.Record, error) {
	if !p.lock.Acquire(t.ID) {
		return nil, ErrInFlight
	}
	defer p.lock.Release(t.ID)
	return p.run(ctx, s, t, nil, time.Now())
}

func (p *Pipeline) run(ctx context.Context, s *browser.Session, t *target.Target, acquireErr error, start time.Time) (*history.Record, error) {
	kind := t.Kind()
	ctx, span := p.tracer.Start(ctx, "pipeline.check", trace.WithAttributes(
		attribute.Int64("target.id", t.ID),
		attribute.String("target.kind", string(kind)),
	))
	defer span.End()
	log := obs.WithTrace(ctx, p.log, zap.Int64("target_id", t.ID), zap.String("kind", string(kind)))

	now := p.clock.Now().UTC()
	checkErr := acquireErr
	var o *outcome
	if checkErr == nil {
		var ob *observation
		if ob, checkErr = p.observe(ctx, s, t, log); checkErr == nil {
			o, checkErr = p.evaluate(ctx, t, ob, now, log)
		}
	}
	if checkErr != nil {
		span.RecordError(checkErr)
		o = p.failed(t, checkErr, now, log)
	}

	rec, err := p.commit(ctx, t, o, log)
	status := "persist_failed"
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		log.Error("persist check", zap.Error(err))
	} else {
		status = string(rec.Status)
	}
	span.SetAttributes(attribute.String("check.status", status))
	mChecks.WithLabelValues(string(kind), status).Inc()
	mDuration.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	return rec, err
}

// observe drives the page. Navigation failures count against the pool's
// health; extraction failures do not.
func (p *Pipeline) observe(ctx context.Context, s *browser.Session, t *target.Target, log *zap.Logger) (*observation, error) {
	page := s.Page()
	timedOut, err := p.navigate(ctx, page, t, log)
	if err != nil {
		s.Failed(err)
		return nil, err
	}
	if timedOut {
		s.Failed(browser.ErrNavigateTimeout)
	}

	overlayCtx, cancel := context.WithTimeout(ctx, p.cfg.OverlayTimeout)
	if err := page.DismissOverlays(overlayCtx); err != nil {
		log.Debug("overlay dismissal", zap.Error(err))
	}
	cancel()

	ob, err := p.extract(ctx, page, t, log)
	if err != nil {
		if timedOut {
			return nil, &NavigationTimeoutError{Err: err}
		}
		return nil, err
	}
	if !timedOut {
		s.Succeeded()
	}
	return ob, nil
}

// outcome is everything one check persists.
type outcome struct {
	rec    history.Record
	state  target.State
	notice *notification.ChangeNotice
	// written is removed again if the commit fails, superseded after it
	// succeeds.
	written    []string
	superseded []string
}

func (o *outcome) put(s Screens, key string, data []byte) error {
	if err := s.Put(key, data); err != nil {
		return &InternalError{Op: "store screenshot", Err: err}
	}
	o.written = append(o.written, key)
	return nil
}

// replace points a state slot at the image stored under key and marks the
// old file for deletion. Content-addressed keys make rewrites unnecessary.
func (o *outcome) replace(s Screens, slot *string, key string, data []byte) error {
	if *slot == key {
		return nil
	}
	if err := o.put(s, key, data); err != nil {
		return err
	}
	if *slot != "" {
		o.superseded = append(o.superseded, *slot)
	}
	*slot = key
	return nil
}

func (p *Pipeline) failed(t *target.Target, err error, now time.Time, log *zap.Logger) *outcome {
	kind := ErrorKind(err)
	mErrors.WithLabelValues(kind).Inc()
	log.Warn("check failed", zap.String("error_kind", kind), zap.Error(err))

	o := &outcome{
		rec: history.Record{
			TargetID:  t.ID,
			Status:    history.StatusError,
			Error:     err.Error(),
			ErrorKind: kind,
			CreatedAt: now,
		},
		state: t.State(),
	}
	o.state.LastCheckedAt = now
	o.state.FailureCount++
	return o
}

// evaluate compares the observation with the stored state. The first check
// of a target only records a baseline.
func (p *Pipeline) evaluate(ctx context.Context, t *target.Target, ob *observation, now time.Time, log *zap.Logger) (*outcome, error) {
	o := &outcome{
		rec:   history.Record{TargetID: t.ID, Status: history.StatusUnchanged, CreatedAt: now},
		state: t.State(),
	}
	o.state.LastCheckedAt = now
	o.state.FailureCount = 0
	baseline := !t.HasBaseline

	var (
		changed bool
		art     notification.Artifact
		err     error
	)
	if t.Kind() == target.KindVisual {
		changed, art, err = p.compareVisual(t, ob.shot, o, baseline, now, log)
	} else {
		changed, art, err = p.compareText(t, ob, o, baseline, now)
	}
	if err != nil {
		p.screens.DeleteAll(o.written...)
		return nil, err
	}
	o.state.HasBaseline = true

	if baseline {
		log.Info("baseline recorded")
		return o, nil
	}
	if !changed {
		return o, nil
	}

	o.rec.Status = history.StatusChanged
	log.Info("change detected")
	if t.Kind() != target.KindVisual {
		o.rec.Summary = p.summarize(ctx, t, t.LastValue, ob.value, log)
	}
	if reason := suppressed(t, ob); reason != "" {
		mNotify.WithLabelValues("suppressed").Inc()
		log.Info("notification suppressed", zap.String("reason", reason))
		return o, nil
	}

	to := t.NotifyEmail
	if to == "" {
		to = p.cfg.NotifyFallbackTo
	}
	if to == "" {
		mNotify.WithLabelValues("no_recipient").Inc()
		log.Warn("change without recipient")
		return o, nil
	}
	n, err := buildNotice(t, to, art, o.rec.Summary, now)
	if err != nil {
		log.Warn("notification dropped", zap.Error(err))
		return o, nil
	}
	o.notice = &n
	return o, nil
}

func suppressed(t *target.Target, ob *observation) string {
	switch t.Kind() {
	case target.KindVisual:
		return ""
	case target.KindPrice:
		if ob.price != nil && !WithinBounds(t.Price, ob.price.Price) {
			return "price outside bounds"
		}
	}
	if !Allow(t.Rules, ob.rulesInput()) {
		return "rules"
	}
	return ""
}

func (p *Pipeline) compareText(t *target.Target, ob *observation, o *outcome, baseline bool, now time.Time) (bool, notification.Artifact, error) {
	o.rec.Value = ob.value
	o.state.LastValue = ob.value

	var (
		changed bool
		art     notification.Artifact
	)
	if !baseline {
		d := diff.Text(t.LastValue, ob.value)
		changed = d.Changed
		art = notification.Artifact{Kind: notification.ArtifactTextDiff, Text: d.Unified}
	}

	if ob.shot != nil && (baseline || changed) {
		if err := o.replace(p.screens, &o.state.LastScreenshot, screenshot.CurrentKey(t.ID, ob.shot), ob.shot); err != nil {
			return false, art, err
		}
		key := screenshot.HistoryKey(t.ID, now, "current")
		if err := o.put(p.screens, key, ob.shot); err != nil {
			return false, art, err
		}
		o.rec.Screenshots.Current = key
	}
	return changed, art, nil
}

// compareVisual keeps the previous current image while nothing changes. A
// missing baseline image starts a new baseline.
func (p *Pipeline) compareVisual(t *target.Target, shot []byte, o *outcome, baseline bool, now time.Time, log *zap.Logger) (bool, notification.Artifact, error) {
	var none notification.Artifact

	var prev []byte
	if !baseline && t.LastScreenshot != "" {
		b, err := p.screens.Get(t.LastScreenshot)
		if err != nil {
			log.Warn("previous screenshot unreadable, starting a new baseline",
				zap.String("key", t.LastScreenshot), zap.Error(err))
		}
		prev = b
	}

	if prev == nil {
		if err := o.replace(p.screens, &o.state.LastScreenshot, screenshot.CurrentKey(t.ID, shot), shot); err != nil {
			return false, none, err
		}
		cur := screenshot.HistoryKey(t.ID, now, "current")
		if err := o.put(p.screens, cur, shot); err != nil {
			return false, none, err
		}
		o.rec.Screenshots.Current = cur
		o.rec.Value = "baseline captured"
		return false, none, nil
	}

	res, err := diff.Visual(prev, shot, p.cfg.PixelThreshold)
	if err != nil {
		return false, none, &InternalError{Op: "compare screenshots", Err: err}
	}
	o.rec.Value = fmt.Sprintf("%d of %d pixels differ", res.DiffPixels, res.TotalPixels)
	if !res.Changed {
		return false, none, nil
	}

	if err := o.replace(p.screens, &o.state.LastScreenshot, screenshot.CurrentKey(t.ID, shot), shot); err != nil {
		return false, none, err
	}
	if err := o.replace(p.screens, &o.state.LastDiff, screenshot.DiffKey(t.ID, res.Image), res.Image); err != nil {
		return false, none, err
	}
	copies := []struct {
		role string
		data []byte
		dst  *string
	}{
		{"previous", prev, &o.rec.Screenshots.Previous},
		{"current", shot, &o.rec.Screenshots.Current},
		{"diff", res.Image, &o.rec.Screenshots.Diff},
	}
	for _, c := range copies {
		key := screenshot.HistoryKey(t.ID, now, c.role)
		if err := o.put(p.screens, key, c.data); err != nil {
			return false, none, err
		}
		*c.dst = key
	}
	return true, notification.Artifact{Kind: notification.ArtifactImage, Key: o.rec.Screenshots.Diff}, nil
}

// summarize is best effort: any failure yields an empty summary.
func (p *Pipeline) summarize(ctx context.Context, t *target.Target, oldState, newState string, log *zap.Logger) string {
	if p.summarizer == nil {
		return ""
	}
	st, err := p.settings.Get(ctx)
	if err != nil {
		log.Debug("settings unavailable, skipping summary", zap.Error(err))
		return ""
	}
	if !st.AISummaryEnabled {
		return ""
	}
	sctx, cancel := context.WithTimeout(ctx, p.cfg.SummaryTimeout)
	defer cancel()
	summary, err := p.summarizer.Summarize(sctx, oldState, newState, title(t))
	if err != nil {
		log.Debug("summary failed", zap.Error(err))
		return ""
	}
	return summary
}

var errNotify = errors.New("enqueue notification")

func (p *Pipeline) persist(ctx context.Context, o *outcome) error {
	return p.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := p.history.Insert(ctx, &o.rec); err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
		if err := p.targets.UpdateState(ctx, o.state); err != nil {
			return fmt.Errorf("update target state: %w", err)
		}
		if o.notice != nil {
			if err := p.notifier.Notify(ctx, *o.notice); err != nil {
				return fmt.Errorf("%w: %v", errNotify, err)
			}
		}
		return nil
	})
}

// commit writes the record and state once. A failed notification hand-off
// is dropped and the check is persisted without it.
func (p *Pipeline) commit(ctx context.Context, t *target.Target, o *outcome, log *zap.Logger) (*history.Record, error) {
	err := p.persist(ctx, o)
	if errors.Is(err, errNotify) {
		mNotify.WithLabelValues("dropped").Inc()
		log.Warn("notification dropped", zap.Error(err))
		o.notice = nil
		err = p.persist(ctx, o)
	}
	if err != nil {
		p.screens.DeleteAll(o.written...)
		return nil, fmt.Errorf("persist check of target %d: %w", t.ID, err)
	}
	if o.notice != nil {
		mNotify.WithLabelValues("enqueued").Inc()
	}
	p.screens.DeleteAll(o.superseded...)
	t.Apply(o.state)
	return &o.rec, nil
}
