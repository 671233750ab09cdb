package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/NordCoder/Pagewatch/internal/browser"
	"github.com/NordCoder/Pagewatch/internal/browser/browsertest"
	"github.com/NordCoder/Pagewatch/internal/domain/history"
	"github.com/NordCoder/Pagewatch/internal/domain/notification"
	"github.com/NordCoder/Pagewatch/internal/domain/settings"
	"github.com/NordCoder/Pagewatch/internal/domain/target"
	"github.com/NordCoder/Pagewatch/internal/repository/postgres"
	"github.com/NordCoder/Pagewatch/internal/screenshot"
	"github.com/NordCoder/Pagewatch/internal/services/pipeline"
	pipelinerepo "github.com/NordCoder/Pagewatch/internal/services/pipeline/repo"
	"github.com/NordCoder/Pagewatch/internal/services/scheduler/repo"
)

type memTargets struct {
	mu   sync.Mutex
	byID map[int64]target.Target
}

func newMemTargets(ts ...target.Target) *memTargets {
	m := &memTargets{byID: map[int64]target.Target{}}
	for _, t := range ts {
		m.byID[t.ID] = t
	}
	return m
}

func (m *memTargets) GetByID(_ context.Context, id int64) (*target.Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.byID[id]
	if !ok {
		return nil, postgres.ErrNotFound
	}
	return &t, nil
}

func (m *memTargets) ListActive(context.Context) ([]*target.Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*target.Target
	for _, t := range m.byID {
		if t.Active {
			cp := t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memTargets) UpdateState(_ context.Context, s target.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.byID[s.TargetID]
	t.Apply(s)
	m.byID[s.TargetID] = t
	return nil
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type call struct {
	id      int64
	session *browser.Session
	lane    browser.Lane
}

type fakeChecker struct {
	mu      sync.Mutex
	calls   []call
	fail    map[int64]error
	breaks  map[int64]bool
	delay   time.Duration
	running atomic.Int32
	peak    atomic.Int32
}

func (f *fakeChecker) record(c call) (*history.Record, error) {
	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(f.delay)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	if err := f.fail[c.id]; err != nil {
		return nil, err
	}
	return &history.Record{TargetID: c.id, Status: history.StatusUnchanged}, nil
}

func (f *fakeChecker) Check(_ context.Context, t *target.Target, lane browser.Lane) (*history.Record, error) {
	return f.record(call{id: t.ID, lane: lane})
}

func (f *fakeChecker) CheckWithSession(_ context.Context, s *browser.Session, t *target.Target) (*history.Record, error) {
	if f.breaks[t.ID] {
		s.Failed(errors.New("tab crashed"))
	}
	return f.record(call{id: t.ID, session: s, lane: s.Lane()})
}

func (f *fakeChecker) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

var t0 = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func checkedAt(d time.Duration) *time.Time {
	at := t0.Add(-d)
	return &at
}

func newUC(t *testing.T, targets target.Repo, eng *browsertest.Engine, checker Checker, clock *manualClock) *Usecase {
	t.Helper()
	pool := browser.NewPool(eng, browser.Config{Size: 3, AcquireTimeout: 200 * time.Millisecond}, nil, zap.NewNop())
	t.Cleanup(func() { _ = pool.Close() })
	uc := NewUC(repo.Targets{R: targets}, pool, checker, NewHealth(10*time.Minute, clock.Now()), 2, zap.NewNop())
	uc.Clock = clock
	return uc
}

func TestTick_SelectsDueTargets(t *testing.T) {
	targets := newMemTargets(
		target.Target{ID: 1, URL: "https://a.test", Active: true, Interval: time.Minute},
		target.Target{ID: 2, URL: "https://b.test", Active: true, Interval: time.Minute, LastCheckedAt: checkedAt(30 * time.Second)},
		target.Target{ID: 3, URL: "https://c.test", Active: true, Interval: time.Minute, LastCheckedAt: checkedAt(2 * time.Minute)},
		target.Target{ID: 4, URL: "https://d.test", Active: false, Interval: time.Minute},
		target.Target{ID: 5, URL: "https://e.test", Active: true, Interval: time.Minute, LastCheckedAt: checkedAt(time.Minute)},
	)
	checker := &fakeChecker{}
	uc := newUC(t, targets, browsertest.NewEngine(), checker, &manualClock{now: t0})

	res, err := uc.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, res.Active)
	assert.Equal(t, 3, res.Due)
	assert.Equal(t, 3, res.Unchanged)

	calls := checker.snapshot()
	ids := make([]int64, 0, len(calls))
	for _, c := range calls {
		ids = append(ids, c.id)
	}
	assert.ElementsMatch(t, []int64{1, 3, 5}, ids)
}

func TestTick_LightTargetsShareOneSession(t *testing.T) {
	targets := newMemTargets(
		target.Target{ID: 1, Active: true, Mode: target.ModeText, Selector: "#a", Interval: time.Minute},
		target.Target{ID: 2, Active: true, Mode: target.ModePrice, Interval: time.Minute},
		target.Target{ID: 3, Active: true, Mode: target.ModeText, Interval: time.Minute},
	)
	eng := browsertest.NewEngine()
	checker := &fakeChecker{}
	uc := newUC(t, targets, eng, checker, &manualClock{now: t0})

	_, err := uc.Tick(context.Background())
	require.NoError(t, err)

	calls := checker.snapshot()
	require.Len(t, calls, 3)
	for _, c := range calls {
		require.NotNil(t, c.session)
		assert.Same(t, calls[0].session, c.session)
		assert.Equal(t, browser.Background, c.lane)
	}
	assert.EqualValues(t, 1, eng.Pages.Load())
}

func TestTick_BrokenBatchSessionIsReplaced(t *testing.T) {
	targets := newMemTargets(
		target.Target{ID: 1, Active: true, Mode: target.ModeText, Interval: time.Minute},
		target.Target{ID: 2, Active: true, Mode: target.ModeText, Interval: time.Minute},
		target.Target{ID: 3, Active: true, Mode: target.ModeText, Interval: time.Minute},
	)
	eng := browsertest.NewEngine()
	checker := &fakeChecker{breaks: map[int64]bool{1: true, 2: true, 3: true}}
	uc := newUC(t, targets, eng, checker, &manualClock{now: t0})

	_, err := uc.Tick(context.Background())
	require.NoError(t, err)

	calls := checker.snapshot()
	require.Len(t, calls, 3)
	seen := map[*browser.Session]bool{}
	for _, c := range calls {
		require.NotNil(t, c.session)
		assert.False(t, seen[c.session], "target %d reused a broken session", c.id)
		seen[c.session] = true
	}
	assert.EqualValues(t, 3, eng.Pages.Load())
}

func TestTick_VisualTargetsBoundedFanOut(t *testing.T) {
	var list []target.Target
	for i := int64(1); i <= 6; i++ {
		list = append(list, target.Target{ID: i, Active: true, Mode: target.ModeVisual, Interval: time.Minute})
	}
	checker := &fakeChecker{delay: 20 * time.Millisecond}
	uc := newUC(t, newMemTargets(list...), browsertest.NewEngine(), checker, &manualClock{now: t0})

	res, err := uc.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, res.Unchanged)
	assert.LessOrEqual(t, checker.peak.Load(), int32(2))
	for _, c := range checker.snapshot() {
		assert.Nil(t, c.session, "visual targets lease their own session")
	}
}

func TestTick_FailureDoesNotAbortTick(t *testing.T) {
	targets := newMemTargets(
		target.Target{ID: 1, Active: true, Interval: time.Minute},
		target.Target{ID: 2, Active: true, Interval: time.Minute},
		target.Target{ID: 3, Active: true, Interval: time.Minute},
	)
	checker := &fakeChecker{fail: map[int64]error{
		2: errors.New("db down"),
		3: pipeline.ErrInFlight,
	}}
	uc := newUC(t, targets, browsertest.NewEngine(), checker, &manualClock{now: t0})

	res, err := uc.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Unchanged)
	assert.Equal(t, 1, res.Errors)
	assert.Equal(t, 1, res.Skipped)
	assert.Len(t, checker.snapshot(), 3)
}

func TestTick_NoBatchSessionFallsBackPerTarget(t *testing.T) {
	eng := browsertest.NewEngine()
	eng.LaunchErr = errors.New("no chrome")
	targets := newMemTargets(
		target.Target{ID: 1, Active: true, Interval: time.Minute},
		target.Target{ID: 2, Active: true, Interval: time.Minute},
	)
	checker := &fakeChecker{}
	uc := newUC(t, targets, eng, checker, &manualClock{now: t0})

	_, err := uc.Tick(context.Background())
	require.NoError(t, err)
	calls := checker.snapshot()
	require.Len(t, calls, 2)
	for _, c := range calls {
		assert.Nil(t, c.session)
	}
}

func TestHealth(t *testing.T) {
	h := NewHealth(10*time.Minute, t0)

	assert.True(t, h.Status(t0.Add(time.Hour)).Healthy, "nothing due yet")

	h.Ticked(t0.Add(11*time.Minute), 3)
	st := h.Status(t0.Add(11 * time.Minute))
	assert.False(t, st.Healthy)
	assert.NotEmpty(t, st.Reason)
	assert.Equal(t, 3, st.DueTargets)

	h.Succeeded(t0.Add(12 * time.Minute))
	assert.True(t, h.Status(t0.Add(13*time.Minute)).Healthy)
	assert.False(t, h.Status(t0.Add(23*time.Minute)).Healthy)

	h.Ticked(t0.Add(30*time.Minute), 0)
	assert.True(t, h.Status(t0.Add(30*time.Minute)).Healthy)
}

func TestTick_ErrorRecordsDoNotRefreshHealth(t *testing.T) {
	targets := newMemTargets(target.Target{ID: 1, Active: true, Interval: time.Minute})
	clock := &manualClock{now: t0}
	uc := newUC(t, targets, browsertest.NewEngine(), errChecker{}, clock)

	clock.advance(time.Hour)
	_, err := uc.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, uc.Health.Status(clock.Now()).Healthy)
}

type errChecker struct{}

func (errChecker) Check(_ context.Context, t *target.Target, _ browser.Lane) (*history.Record, error) {
	return &history.Record{TargetID: t.ID, Status: history.StatusError}, nil
}

func (errChecker) CheckWithSession(_ context.Context, _ *browser.Session, t *target.Target) (*history.Record, error) {
	return &history.Record{TargetID: t.ID, Status: history.StatusError}, nil
}

func TestDueness(t *testing.T) {
	targets := newMemTargets(
		target.Target{ID: 1, URL: "https://a.test", Active: true, Interval: time.Hour, LastCheckedAt: checkedAt(10 * time.Minute)},
		target.Target{ID: 2, URL: "https://b.test", Active: true, Interval: time.Minute, FailureCount: 2},
		target.Target{ID: 3, URL: "https://c.test", Active: true, Interval: 30 * time.Minute, LastCheckedAt: checkedAt(25 * time.Minute)},
	)
	uc := newUC(t, targets, browsertest.NewEngine(), &fakeChecker{}, &manualClock{now: t0})

	rows, err := uc.Dueness(context.Background(), func(id int64) bool { return id == 3 })
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.EqualValues(t, 2, rows[0].ID)
	assert.True(t, rows[0].Due)
	assert.Equal(t, 2, rows[0].FailureCount)
	assert.Equal(t, t0, rows[0].NextDueAt)

	assert.EqualValues(t, 3, rows[1].ID)
	assert.True(t, rows[1].InFlight)
	assert.Equal(t, t0.Add(5*time.Minute), rows[1].NextDueAt)
	assert.EqualValues(t, 1, rows[2].ID)
}

// end to end through the real pipeline

type memHistory struct {
	mu   sync.Mutex
	recs []history.Record
}

func (m *memHistory) Insert(_ context.Context, r *history.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = int64(len(m.recs) + 1)
	m.recs = append(m.recs, *r)
	return nil
}

func (m *memHistory) ListByTarget(context.Context, int64, int) ([]*history.Record, error) {
	return nil, nil
}

type noSettings struct{}

func (noSettings) Get(context.Context) (*settings.Settings, error) { return &settings.Settings{}, nil }

type countingDispatcher struct {
	mu      sync.Mutex
	notices []notification.ChangeNotice
}

func (d *countingDispatcher) Notify(_ context.Context, n notification.ChangeNotice) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notices = append(d.notices, n)
	return nil
}

type passTx struct{}

func (passTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

func TestTick_EndToEnd(t *testing.T) {
	const url = "https://shop.test/item"
	targets := newMemTargets(target.Target{
		ID: 1, URL: url, Mode: target.ModeText, Selector: "#status", Active: true,
		Interval: time.Minute, NotifyEmail: "me@example.com",
		Retry: target.RetryPolicy{Attempts: 2, Delay: time.Millisecond},
	})
	hist := &memHistory{}
	out := &countingDispatcher{}
	clock := &manualClock{now: t0}

	eng := browsertest.NewEngine()
	pool := browser.NewPool(eng, browser.Config{Size: 2}, nil, zap.NewNop())
	t.Cleanup(func() { _ = pool.Close() })
	store, err := screenshot.New(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	p := pipeline.New(pipeline.Config{}, pipeline.Deps{
		Sessions: pool,
		Targets:  pipelinerepo.Targets{R: targets},
		History:  pipelinerepo.History{R: hist},
		Settings: pipelinerepo.Settings{R: noSettings{}},
		Notifier: out,
		Tx:       passTx{},
		Screens:  store,
		Clock:    clock,
	}, zap.NewNop())
	uc := NewUC(repo.Targets{R: targets}, pool, p, NewHealth(time.Hour, t0), 1, zap.NewNop())
	uc.Clock = clock

	eng.SetSite(url, browsertest.Site{Texts: map[string]string{"#status": "A"}})
	res, err := uc.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Due)
	assert.Equal(t, 1, res.Unchanged)

	clock.advance(30 * time.Second)
	res, err = uc.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Due, "interval not yet elapsed")

	clock.advance(30 * time.Second)
	eng.SetSite(url, browsertest.Site{Texts: map[string]string{"#status": "B"}})
	res, err = uc.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Changed)

	require.Len(t, hist.recs, 2)
	assert.Equal(t, history.StatusUnchanged, hist.recs[0].Status)
	assert.Equal(t, history.StatusChanged, hist.recs[1].Status)
	require.Len(t, out.notices, 1)
	assert.Contains(t, out.notices[0].Artifact.Text, "-A")
	assert.Contains(t, out.notices[0].Artifact.Text, "+B")
	assert.True(t, uc.Health.Status(clock.Now()).Healthy)
}
