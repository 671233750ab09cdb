package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	config "github.com/NordCoder/Pagewatch/internal/config/notifier"
	"github.com/NordCoder/Pagewatch/internal/obs"
	"github.com/NordCoder/Pagewatch/internal/repository/kafka"
	pg "github.com/NordCoder/Pagewatch/internal/repository/postgres"
	"github.com/NordCoder/Pagewatch/internal/screenshot"
	notifier "github.com/NordCoder/Pagewatch/internal/services/email-notifier"
	"github.com/NordCoder/Pagewatch/internal/services/email-notifier/repo"
)

func wiring(db *pg.DB, cfg *config.Config, screens *screenshot.Store, l *zap.Logger) *notifier.Handler {
	mailer := notifier.New(cfg.SMTP).WithLogger(l)
	return notifier.NewHandler(
		repo.NotificationRepo{R: pg.NewNotificationRepo(db)},
		repo.Screens{S: screens},
		mailer,
		l,
	)
}

func main() {
	cfgPath := flag.String("config", "config/notifier.yaml", "path to yaml config")
	flag.Parse()

	// init
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}

	// logger
	l, err := obs.NewLogger(cfg.Log.AsLoggerConfig(cfg.App))
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = l.Sync() }()

	l.Info("starting notifier",
		zap.Any("kafka_in", cfg.In),
		zap.String("metrics_addr", cfg.Server.MetricsAddr),
		zap.String("smtp_addr", cfg.SMTP.Addr),
	)

	// otel
	otelCloser, err := obs.SetupOTel(rootCtx, cfg.OTEL.AsOTELConfig(cfg.App))
	if err != nil {
		l.Fatal("otel init", zap.Error(err))
	}
	defer func() { _ = otelCloser.Shutdown(context.Background()) }()

	// db
	db, err := pg.New(rootCtx, cfg.DB)
	if err != nil {
		l.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	l.Info("db connected")

	screens, err := screenshot.New(cfg.Screenshots.Dir, l)
	if err != nil {
		l.Fatal("screenshot store", zap.Error(err))
	}

	// metrics
	ms := obs.BootstrapMetricsServer(cfg.Server.MetricsAddr, func(ctx context.Context) error {
		hctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		defer cancel()
		return db.Ping(hctx)
	}, l)

	// kafka
	cons, err := kafka.BootstrapConsumer(rootCtx, &kafka.ConsumerConfig{
		Brokers: cfg.In.Brokers,
		GroupID: cfg.In.GroupID,
		Topic:   cfg.In.Topic,
		Logger:  l,
	}, cfg.In.Partitions, l)
	if err != nil {
		l.Fatal("kafka consumer", zap.Error(err))
	}
	cons = cons.WithLogger(l)
	defer func() { _ = cons.Close() }()
	l.Info("kafka consumer initialized",
		zap.Strings("brokers", cfg.In.Brokers),
		zap.String("group_id", cfg.In.GroupID),
		zap.String("topic", cfg.In.Topic),
	)

	// start
	runner := notifier.NewRunner(l, cons, wiring(db, cfg, screens, l))
	errCh := make(chan error, 1)
	go func() { errCh <- runner.Run(rootCtx) }()

	// main loop
	select {
	case <-rootCtx.Done():
		l.Info("shutdown signal")
	case runErr := <-errCh:
		if runErr != nil && !errors.Is(runErr, context.Canceled) {
			l.Error("runner error", zap.Error(runErr))
		}
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = ms.Shutdown(shCtx)
	l.Info("bye")
}
