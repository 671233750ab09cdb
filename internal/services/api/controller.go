package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/NordCoder/Pagewatch/internal/browser"
	"github.com/NordCoder/Pagewatch/internal/domain/history"
	"github.com/NordCoder/Pagewatch/internal/obs"
	pg "github.com/NordCoder/Pagewatch/internal/repository/postgres"
	"github.com/NordCoder/Pagewatch/internal/services/pipeline"
	"github.com/NordCoder/Pagewatch/internal/services/scheduler"
)

type Checker interface {
	CheckNow(ctx context.Context, id int64) (*history.Record, error)
	Lock() *pipeline.InFlight
}

type DueLister interface {
	Dueness(ctx context.Context, busy func(id int64) bool) ([]scheduler.DueEntry, error)
}

type SchedulerHealth interface {
	Status(now time.Time) scheduler.HealthStatus
}

type Pool interface {
	Stats() browser.Stats
	ForceReset(ctx context.Context) error
}

// Controller serves the watcher's HTTP surface next to /metrics.
type Controller struct {
	Checker Checker
	Due     DueLister
	Sched   SchedulerHealth
	Pool    Pool
	Now     func() time.Time
	Log     *zap.Logger
}

func NewController(checker Checker, due DueLister, sched SchedulerHealth, pool Pool, log *zap.Logger) *Controller {
	return &Controller{
		Checker: checker,
		Due:     due,
		Sched:   sched,
		Pool:    pool,
		Now:     time.Now,
		Log:     log.With(zap.String("component", "api")),
	}
}

func (c *Controller) Routes() []obs.Route {
	return []obs.Route{
		{Pattern: "POST /v1/targets/{id}/check", Handler: http.HandlerFunc(c.checkNow)},
		{Pattern: "GET /v1/targets/due", Handler: http.HandlerFunc(c.due)},
		{Pattern: "GET /v1/health", Handler: http.HandlerFunc(c.health)},
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorBody{Error: msg})
}

func (c *Controller) checkNow(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid target id")
		return
	}
	log := obs.WithTrace(r.Context(), c.Log, zap.Int64("target_id", id))
	log.Info("manual check requested")

	rec, err := c.Checker.CheckNow(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, rec)
	case errors.Is(err, pipeline.ErrInFlight):
		writeError(w, http.StatusConflict, "check already in progress")
	case errors.Is(err, pg.ErrNotFound):
		writeError(w, http.StatusNotFound, "target not found")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		log.Warn("manual check abandoned", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "check abandoned")
	default:
		log.Error("manual check", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (c *Controller) due(w http.ResponseWriter, r *http.Request) {
	list, err := c.Due.Dueness(r.Context(), c.Checker.Lock().Held)
	if err != nil {
		obs.WithTrace(r.Context(), c.Log).Error("dueness", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type HealthReport struct {
	Healthy   bool                   `json:"healthy"`
	Scheduler scheduler.HealthStatus `json:"scheduler"`
	Pool      browser.Stats          `json:"pool"`
	Reset     string                 `json:"reset,omitempty"`
}

// health reports 503 when either the scheduler or the pool is degraded. A
// degraded pool is reset before the response is written.
func (c *Controller) health(w http.ResponseWriter, r *http.Request) {
	rep := HealthReport{
		Scheduler: c.Sched.Status(c.Now()),
		Pool:      c.Pool.Stats(),
	}
	if !rep.Pool.Healthy {
		c.Log.Warn("pool unhealthy, forcing reset", zap.Int("consecutive_errors", rep.Pool.ConsecutiveErrors))
		if err := c.Pool.ForceReset(r.Context()); err != nil {
			c.Log.Error("force reset", zap.Error(err))
			rep.Reset = "failed: " + err.Error()
		} else {
			rep.Reset = "performed"
		}
	}
	rep.Healthy = rep.Scheduler.Healthy && rep.Pool.Healthy

	code := http.StatusOK
	if !rep.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, rep)
}
