package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/NordCoder/Pagewatch/internal/browser"
	config "github.com/NordCoder/Pagewatch/internal/config/watcher"
	"github.com/NordCoder/Pagewatch/internal/domain/notification"
	"github.com/NordCoder/Pagewatch/internal/pricing"
	pg "github.com/NordCoder/Pagewatch/internal/repository/postgres"
	"github.com/NordCoder/Pagewatch/internal/screenshot"
	"github.com/NordCoder/Pagewatch/internal/services/pipeline"
	pipelineRepo "github.com/NordCoder/Pagewatch/internal/services/pipeline/repo"
	"github.com/NordCoder/Pagewatch/internal/services/scheduler"
	schedRepo "github.com/NordCoder/Pagewatch/internal/services/scheduler/repo"
	"github.com/NordCoder/Pagewatch/internal/summarizer"
)

type components struct {
	pool     *browser.Pool
	pipeline *pipeline.Pipeline
	sched    *scheduler.Usecase
	health   *scheduler.Health
}

func wire(cfg *config.Config, db *pg.DB, screens *screenshot.Store, l *zap.Logger) *components {
	targets := pg.NewTargetRepo(db)
	settings := pipelineRepo.Settings{R: pg.NewSettingsRepo(db)}

	engine := browser.NewChromeEngine(browser.ChromeConfig{
		ExecPath:   cfg.Pool.Browser.ExecPath,
		Headless:   cfg.Pool.Browser.Headless,
		NoSandbox:  cfg.Pool.Browser.NoSandbox,
		UserAgent:  cfg.Pool.Browser.UserAgent,
		WindowW:    cfg.Pool.Browser.WindowW,
		WindowH:    cfg.Pool.Browser.WindowH,
		LaunchWait: cfg.Pool.Browser.LaunchWait,
	}, l)
	pool := browser.NewPool(engine, browser.Config{
		Size:            cfg.Pool.Size,
		InteractiveSize: cfg.Pool.InteractiveSize,
		AcquireTimeout:  cfg.Pool.AcquireTimeout,
		ProbeTimeout:    cfg.Pool.ProbeTimeout,
		ErrorThreshold:  cfg.Pool.ErrorThreshold,
	}, func(ctx context.Context) browser.LaunchOptions {
		s, err := settings.Get(ctx)
		if err != nil {
			l.Warn("settings unavailable, launching without proxy", zap.Error(err))
			return browser.LaunchOptions{}
		}
		return browser.LaunchOptions{ProxyServer: s.ProxyServer}
	}, l)

	var sum notification.Summarizer
	if cfg.Summarizer.Enabled() {
		sum = summarizer.New(cfg.Summarizer)
	}

	p := pipeline.New(pipeline.Config{
		NavigationTimeout: cfg.Pipeline.NavigationTimeout,
		OverlayTimeout:    cfg.Pipeline.OverlayTimeout,
		SettleDelay:       cfg.Pipeline.SettleDelay,
		PixelThreshold:    cfg.Pipeline.PixelThreshold,
		SummaryTimeout:    cfg.Pipeline.SummaryTimeout,
		NotifyFallbackTo:  cfg.Pipeline.NotifyFallbackTo,
	}, pipeline.Deps{
		Sessions:   pool,
		Targets:    pipelineRepo.Targets{R: targets},
		History:    pipelineRepo.History{R: pg.NewHistoryRepo(db)},
		Settings:   settings,
		Notifier:   pipelineRepo.Outbox{R: pg.NewOutboxRepo(db)},
		Tx:         pg.NewTransactor(db, l),
		Screens:    screens,
		Extractor:  pricing.New(cfg.Pricing.DefaultCurrency, cfg.Pricing.Selectors),
		Summarizer: sum,
	}, l)

	health := scheduler.NewHealth(cfg.Sched.StaleAfter, time.Now())
	uc := scheduler.NewUC(schedRepo.Targets{R: targets}, pool, p, health, cfg.Sched.VisualWorkers, l)

	return &components{pool: pool, pipeline: p, sched: uc, health: health}
}
