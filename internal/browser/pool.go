package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Lane separates scheduler traffic from user-initiated requests.
type Lane int

const (
	Background Lane = iota
	Interactive
)

func (l Lane) String() string {
	if l == Interactive {
		return "interactive"
	}
	return "background"
}

type Config struct {
	Size            int
	InteractiveSize int
	AcquireTimeout  time.Duration
	ProbeTimeout    time.Duration
	ResetTimeout    time.Duration
	ErrorThreshold  int
}

func (c Config) withDefaults() Config {
	if c.Size <= 0 {
		c.Size = 2
	}
	if c.InteractiveSize <= 0 {
		c.InteractiveSize = 1
	}
	if c.InteractiveSize > c.Size {
		c.InteractiveSize = c.Size
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 60 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 2 * time.Second
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 5 * time.Second
	}
	if c.ErrorThreshold <= 0 {
		c.ErrorThreshold = 5
	}
	return c
}

// Stats is read by the health probe.
type Stats struct {
	Total             int    `json:"total"`
	InUse             int    `json:"in_use"`
	Available         int    `json:"available"`
	Idle              int    `json:"idle"`
	ConsecutiveErrors int    `json:"consecutive_errors"`
	Healthy           bool   `json:"healthy"`
	Generation        uint64 `json:"generation"`
}

var (
	mAcquireWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pool_acquire_wait_seconds",
		Help:    "Time spent waiting for a page session",
		Buckets: []float64{.005, .05, .25, 1, 5, 15, 30, 60},
	}, []string{"lane"})
	mAcquireErr = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pool_acquire_errors_total", Help: "Failed session acquisitions",
	}, []string{"lane"})
	mLaunches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pool_browser_launches_total", Help: "Rendering engine launches",
	})
	mResets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pool_force_resets_total", Help: "Forced rendering engine resets",
	})
	mInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pool_sessions_in_use", Help: "Sessions currently leased",
	})
)

// Pool hands out at most Size page sessions backed by one shared Browser.
// The Browser is launched lazily and relaunched when a probe finds it dead.
type Pool struct {
	engine Engine
	opts   func(ctx context.Context) LaunchOptions
	cfg    Config
	log    *zap.Logger

	slots       chan struct{}
	interactive chan struct{}

	mu      sync.Mutex
	browser Browser
	gen     uint64
	idle    []Page
	closed  bool

	inUse       atomic.Int32
	idleN       atomic.Int32
	consecutive atomic.Int32
	genSeen     atomic.Uint64
}

// NewPool builds a pool. opts is consulted on every launch so settings such
// as the proxy are picked up after a reset; it may be nil.
func NewPool(engine Engine, cfg Config, opts func(ctx context.Context) LaunchOptions, log *zap.Logger) *Pool {
	cfg = cfg.withDefaults()
	if opts == nil {
		opts = func(context.Context) LaunchOptions { return LaunchOptions{} }
	}
	return &Pool{
		engine:      engine,
		opts:        opts,
		cfg:         cfg,
		log:         log.With(zap.String("component", "browser.pool")),
		slots:       make(chan struct{}, cfg.Size),
		interactive: make(chan struct{}, cfg.InteractiveSize),
	}
}

// Acquire blocks until a session is free or AcquireTimeout elapses, in which
// case ErrUnavailable is returned.
func (p *Pool) Acquire(ctx context.Context, lane Lane) (*Session, error) {
	start := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()

	if lane == Interactive {
		if err := take(waitCtx, p.interactive); err != nil {
			return nil, p.acquireFailed(ctx, lane, err)
		}
	}
	if err := take(waitCtx, p.slots); err != nil {
		if lane == Interactive {
			<-p.interactive
		}
		return nil, p.acquireFailed(ctx, lane, err)
	}

	page, gen, err := p.checkout(waitCtx)
	if err != nil {
		<-p.slots
		if lane == Interactive {
			<-p.interactive
		}
		if errors.Is(err, ErrPoolClosed) {
			return nil, err
		}
		return nil, p.acquireFailed(ctx, lane, err)
	}

	p.inUse.Add(1)
	mInUse.Inc()
	mAcquireWait.WithLabelValues(lane.String()).Observe(time.Since(start).Seconds())
	return &Session{pool: p, page: page, gen: gen, lane: lane}, nil
}

// With runs fn with a leased session and always releases it.
func (p *Pool) With(ctx context.Context, lane Lane, fn func(*Session) error) error {
	s, err := p.Acquire(ctx, lane)
	if err != nil {
		return err
	}
	defer s.Release()
	return fn(s)
}

func (p *Pool) acquireFailed(ctx context.Context, lane Lane, cause error) error {
	mAcquireErr.WithLabelValues(lane.String()).Inc()
	if err := ctx.Err(); err != nil {
		return err
	}
	n := p.recordFailure()
	p.log.Warn("session acquire failed",
		zap.String("lane", lane.String()), zap.Int32("consecutive_errors", n), zap.Error(cause))
	return fmt.Errorf("%w: %v", ErrUnavailable, cause)
}

func take(ctx context.Context, sem chan struct{}) error {
	select {
	case sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) checkout(ctx context.Context) (Page, uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, 0, ErrPoolClosed
	}
	if err := p.ensureBrowserLocked(ctx); err != nil {
		return nil, 0, err
	}
	if n := len(p.idle); n > 0 {
		page := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.idleN.Store(int32(len(p.idle)))
		return page, p.gen, nil
	}
	page, err := p.browser.NewPage(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("new page: %w", err)
	}
	return page, p.gen, nil
}

func (p *Pool) ensureBrowserLocked(ctx context.Context) error {
	if p.browser != nil {
		probeCtx, cancel := context.WithTimeout(ctx, p.cfg.ProbeTimeout)
		err := p.browser.Probe(probeCtx)
		cancel()
		if err == nil {
			return nil
		}
		p.log.Warn("browser probe failed, relaunching", zap.Error(err))
		p.teardownLocked()
	}

	b, err := p.engine.Launch(ctx, p.opts(ctx))
	if err != nil {
		return fmt.Errorf("launch: %w", err)
	}
	mLaunches.Inc()
	p.browser = b
	return nil
}

// teardownLocked drops the browser and its idle pages and starts a new
// generation; leased pages of the old generation are closed on release.
func (p *Pool) teardownLocked() {
	for _, pg := range p.idle {
		_ = pg.Close()
	}
	p.idle = nil
	p.idleN.Store(0)
	if p.browser != nil {
		if err := p.browser.Close(); err != nil {
			p.log.Debug("browser close", zap.Error(err))
		}
		p.browser = nil
	}
	p.gen++
	p.genSeen.Store(p.gen)
}

func (p *Pool) put(s *Session) {
	defer func() {
		p.inUse.Add(-1)
		mInUse.Dec()
		<-p.slots
		if s.lane == Interactive {
			<-p.interactive
		}
	}()

	reuse := !s.broken.Load()
	if reuse {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ResetTimeout)
		if err := s.page.Reset(ctx); err != nil {
			reuse = false
		}
		cancel()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !reuse || p.closed || s.gen != p.gen || p.browser == nil {
		_ = s.page.Close()
		return
	}
	p.idle = append(p.idle, s.page)
	p.idleN.Store(int32(len(p.idle)))
}

func (p *Pool) recordFailure() int32 {
	n := p.consecutive.Add(1)
	if int(n) == p.cfg.ErrorThreshold {
		p.log.Error("session pool unhealthy", zap.Int32("consecutive_errors", n))
	}
	return n
}

func (p *Pool) recordSuccess() {
	p.consecutive.Store(0)
}

func (p *Pool) Healthy() bool {
	return int(p.consecutive.Load()) < p.cfg.ErrorThreshold
}

func (p *Pool) Stats() Stats {
	inUse := int(p.inUse.Load())
	consecutive := int(p.consecutive.Load())
	return Stats{
		Total:             p.cfg.Size,
		InUse:             inUse,
		Available:         p.cfg.Size - inUse,
		Idle:              int(p.idleN.Load()),
		ConsecutiveErrors: consecutive,
		Healthy:           consecutive < p.cfg.ErrorThreshold,
		Generation:        p.genSeen.Load(),
	}
}

// ForceReset tears the rendering engine down and relaunches it. Sessions
// leased at the time keep working until their page fails and are discarded
// on release.
func (p *Pool) ForceReset(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}

	mResets.Inc()
	p.log.Warn("force reset", zap.Int32("consecutive_errors", p.consecutive.Load()))
	p.teardownLocked()
	p.consecutive.Store(0)

	b, err := p.engine.Launch(ctx, p.opts(ctx))
	if err != nil {
		// next Acquire retries the launch
		return fmt.Errorf("relaunch: %w", err)
	}
	mLaunches.Inc()
	p.browser = b
	return nil
}

func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.teardownLocked()
	return nil
}

// Session is a leased page. Release is safe to call more than once.
type Session struct {
	pool *Pool
	page Page
	gen  uint64
	lane Lane

	released atomic.Bool
	broken   atomic.Bool
}

func (s *Session) Page() Page { return s.page }

func (s *Session) Lane() Lane { return s.lane }

// Succeeded resets the pool's consecutive error counter.
func (s *Session) Succeeded() { s.pool.recordSuccess() }

// Failed counts a navigation failure against pool health and discards the
// page on release.
func (s *Session) Failed(err error) {
	s.broken.Store(true)
	n := s.pool.recordFailure()
	s.pool.log.Debug("session failure", zap.Int32("consecutive_errors", n), zap.Error(err))
}

// Broken reports whether Failed was called; the page is not reused.
func (s *Session) Broken() bool { return s.broken.Load() }

func (s *Session) Release() {
	if !s.released.CompareAndSwap(false, true) {
		return
	}
	s.pool.put(s)
}
