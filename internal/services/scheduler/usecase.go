package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/NordCoder/Pagewatch/internal/browser"
	"github.com/NordCoder/Pagewatch/internal/domain/history"
	"github.com/NordCoder/Pagewatch/internal/domain/target"
	"github.com/NordCoder/Pagewatch/internal/obs"
	"github.com/NordCoder/Pagewatch/internal/services/pipeline"
	"github.com/NordCoder/Pagewatch/internal/services/scheduler/repo"
)

// Checker runs the check pipeline.
type Checker interface {
	Check(ctx context.Context, t *target.Target, lane browser.Lane) (*history.Record, error)
	CheckWithSession(ctx context.Context, s *browser.Session, t *target.Target) (*history.Record, error)
}

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type Usecase struct {
	Targets       repo.Targets
	Sessions      pipeline.Sessions
	Checker       Checker
	Health        *Health
	Clock         Clock
	VisualWorkers int
	Log           *zap.Logger
}

func NewUC(targets repo.Targets, sessions pipeline.Sessions, checker Checker, health *Health, visualWorkers int, log *zap.Logger) *Usecase {
	if visualWorkers <= 0 {
		visualWorkers = 1
	}
	return &Usecase{
		Targets:       targets,
		Sessions:      sessions,
		Checker:       checker,
		Health:        health,
		Clock:         systemClock{},
		VisualWorkers: visualWorkers,
		Log:           log.With(zap.String("component", "scheduler.uc")),
	}
}

type TickResult struct {
	Active    int
	Due       int
	Unchanged int
	Changed   int
	Failed    int
	Skipped   int
	Errors    int
}

type tally struct {
	mu  sync.Mutex
	res TickResult
}

func (t *tally) add(rec *history.Record, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case errors.Is(err, pipeline.ErrInFlight):
		t.res.Skipped++
	case err != nil:
		t.res.Errors++
	case rec.Status == history.StatusChanged:
		t.res.Changed++
	case rec.Status == history.StatusError:
		t.res.Failed++
	default:
		t.res.Unchanged++
	}
}

// Tick checks every due target once. Text and price targets share one
// session sequentially; visual targets get their own sessions, at most
// VisualWorkers at a time. A failing target never aborts the tick.
func (u *Usecase) Tick(ctx context.Context) (TickResult, error) {
	tr := obs.Tracer("scheduler.uc")
	ctx, span := tr.Start(ctx, "scheduler.tick")
	defer span.End()

	now := u.Clock.Now()
	due, active, err := u.Targets.FetchDue(ctx, now)
	if err != nil {
		span.RecordError(err)
		return TickResult{}, fmt.Errorf("fetch due: %w", err)
	}
	u.Health.Ticked(now, len(due))
	span.SetAttributes(attribute.Int("batch.active", active), attribute.Int("batch.due", len(due)))

	var light, heavy []*target.Target
	for _, t := range due {
		if t.Kind() == target.KindVisual {
			heavy = append(heavy, t)
		} else {
			light = append(light, t)
		}
	}

	sum := &tally{res: TickResult{Active: active, Due: len(due)}}

	var g errgroup.Group
	g.SetLimit(u.VisualWorkers)
	for _, t := range heavy {
		g.Go(func() error {
			u.checkOne(ctx, tr, t, sum, func(ctx context.Context) (*history.Record, error) {
				return u.Checker.Check(ctx, t, browser.Background)
			})
			return nil
		})
	}

	u.runLight(ctx, tr, light, sum)
	_ = g.Wait()

	span.SetAttributes(
		attribute.Int("batch.changed", sum.res.Changed),
		attribute.Int("batch.failed", sum.res.Failed),
		attribute.Int("batch.errors", sum.res.Errors),
	)
	return sum.res, nil
}

// runLight leases one session for the whole batch and replaces it once a
// check marks it broken. When no session can be had, the remaining targets go
// through the pipeline on their own so the failure is recorded per target.
func (u *Usecase) runLight(ctx context.Context, tr trace.Tracer, light []*target.Target, sum *tally) {
	var s *browser.Session
	defer func() {
		if s != nil {
			s.Release()
		}
	}()

	for i, t := range light {
		if ctx.Err() != nil {
			return
		}
		if s != nil && s.Broken() {
			u.Log.Debug("batch session broken, replacing", zap.Int64("next_target_id", t.ID))
			s.Release()
			s = nil
		}
		if s == nil {
			var err error
			s, err = u.Sessions.Acquire(ctx, browser.Background)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				u.Log.Warn("batch session unavailable", zap.Int("targets", len(light)-i), zap.Error(err))
				for _, t := range light[i:] {
					u.checkOne(ctx, tr, t, sum, func(ctx context.Context) (*history.Record, error) {
						return u.Checker.Check(ctx, t, browser.Background)
					})
				}
				return
			}
		}
		sess := s
		u.checkOne(ctx, tr, t, sum, func(ctx context.Context) (*history.Record, error) {
			return u.Checker.CheckWithSession(ctx, sess, t)
		})
	}
}

func (u *Usecase) checkOne(ctx context.Context, tr trace.Tracer, t *target.Target, sum *tally, run func(context.Context) (*history.Record, error)) {
	ctx, sp := tr.Start(ctx, "scheduler.check", trace.WithAttributes(
		attribute.Int64("target.id", t.ID),
		attribute.String("target.url", t.URL),
	))
	defer sp.End()

	rec, err := run(ctx)
	sum.add(rec, err)
	switch {
	case errors.Is(err, pipeline.ErrInFlight):
		u.Log.Debug("target busy, skipped", zap.Int64("target_id", t.ID))
	case err != nil:
		sp.RecordError(err)
		u.Log.Warn("check not persisted", zap.Int64("target_id", t.ID), zap.Error(err))
	case rec.Status != history.StatusError:
		u.Health.Succeeded(u.Clock.Now())
	}
	if rec != nil {
		sp.SetAttributes(attribute.String("check.status", string(rec.Status)))
	}
}

// DueEntry is one row of the due-ness listing. It is derived from stored
// state and not authoritative.
type DueEntry struct {
	ID            int64       `json:"id"`
	Name          string      `json:"name,omitempty"`
	URL           string      `json:"url"`
	Mode          target.Mode `json:"mode"`
	LastCheckedAt *time.Time  `json:"last_checked_at,omitempty"`
	NextDueAt     time.Time   `json:"next_due_at"`
	Due           bool        `json:"due"`
	InFlight      bool        `json:"in_flight"`
	FailureCount  int         `json:"failure_count"`
}

// Dueness lists every active target, due ones first.
func (u *Usecase) Dueness(ctx context.Context, busy func(id int64) bool) ([]DueEntry, error) {
	list, err := u.Targets.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active: %w", err)
	}
	now := u.Clock.Now()
	out := make([]DueEntry, 0, len(list))
	for _, t := range list {
		next := t.NextDue()
		if next.IsZero() {
			next = now
		}
		e := DueEntry{
			ID:            t.ID,
			Name:          t.Name,
			URL:           t.URL,
			Mode:          t.Mode,
			LastCheckedAt: t.LastCheckedAt,
			NextDueAt:     next,
			Due:           t.IsDue(now),
			FailureCount:  t.FailureCount,
		}
		if busy != nil {
			e.InFlight = busy(t.ID)
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Due != out[j].Due {
			return out[i].Due
		}
		return out[i].NextDueAt.Before(out[j].NextDueAt)
	})
	return out, nil
}
