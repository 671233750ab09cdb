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
	"golang.org/x/sync/errgroup"

	config "github.com/NordCoder/Pagewatch/internal/config/watcher"
	"github.com/NordCoder/Pagewatch/internal/obs"
	"github.com/NordCoder/Pagewatch/internal/obs/retry"
	"github.com/NordCoder/Pagewatch/internal/outbox"
	kafkaRepo "github.com/NordCoder/Pagewatch/internal/repository/kafka"
	pg "github.com/NordCoder/Pagewatch/internal/repository/postgres"
	"github.com/NordCoder/Pagewatch/internal/screenshot"
	"github.com/NordCoder/Pagewatch/internal/services/api"
	"github.com/NordCoder/Pagewatch/internal/services/scheduler"
)

func main() {
	cfgPath := flag.String("config", "config/watcher.yaml", "path to yaml config")
	flag.Parse()

	// init
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
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
	l.Info("starting watcher",
		zap.String("http_addr", cfg.Server.HTTPAddr),
		zap.Strings("kafka_brokers", cfg.Kafka.Brokers),
		zap.Int("pool_size", cfg.Pool.Size),
		zap.Duration("tick", cfg.Sched.Tick),
	)

	// otel
	otelCloser, err := obs.SetupOTel(ctx, cfg.OTEL.AsOTELConfig(cfg.App))
	if err != nil {
		l.Fatal("otel init", zap.Error(err))
	}
	defer func() { _ = otelCloser.Shutdown(context.Background()) }()

	// db
	db, err := pg.New(ctx, cfg.DB)
	if err != nil {
		l.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	l.Info("db connected")

	// kafka
	if err := kafkaRepo.EnsureTopic(ctx, cfg.Kafka.Brokers, kafkaRepo.TopicSpec{
		Name:          cfg.Kafka.Topic,
		NumPartitions: cfg.Kafka.Partitions,
	}, l); err != nil {
		l.Fatal("kafka topic", zap.String("topic", cfg.Kafka.Topic), zap.Error(err))
	}
	prod := kafkaRepo.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic).WithLogger(l)
	defer func() { _ = prod.Close() }()

	// screenshots
	screens, err := screenshot.New(cfg.Screenshots.Dir, l)
	if err != nil {
		l.Fatal("screenshot store", zap.Error(err))
	}

	w := wire(cfg, db, screens, l)
	defer func() { _ = w.pool.Close() }()

	outboxRunner := outbox.NewOutboxRunner(
		l.With(zap.String("component", "outbox")),
		pg.NewOutboxRepo(db),
		outbox.MakeGlobalOutboxHandler(kafkaRepo.NewChangeEventsKafka(prod), retry.DefaultKafkaPolicy(l)),
		cfg.Outbox.Workers,
		cfg.Outbox.BatchSize,
		cfg.Outbox.Wait,
		cfg.Outbox.InProgressTTL,
	)

	// http
	ctrl := api.NewController(w.pipeline, w.sched, w.health, w.pool, l)
	srv := obs.BootstrapServer(cfg.Server.HTTPAddr, cfg.Server.Timeouts(), func(ctx context.Context) error {
		hctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		defer cancel()
		return db.Ping(hctx)
	}, l, ctrl.Routes()...)

	// run
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return scheduler.New(l, w.sched, &cfg.Sched).Run(gctx) })
	g.Go(func() error { return outboxRunner.Run(gctx) })
	l.Info("watcher started")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		l.Error("runner error", zap.Error(err))
	}

	// graceful shutdown
	shCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	_ = srv.Shutdown(shCtx)
	l.Info("bye")
}
