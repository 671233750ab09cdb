package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	config "github.com/NordCoder/Pagewatch/internal/config/watcher"
	"github.com/NordCoder/Pagewatch/internal/obs"
	kafkaRepo "github.com/NordCoder/Pagewatch/internal/repository/kafka"
)

// kafka-init creates the change-event topic named in the watcher config,
// plus any extra topics listed in KAFKA_EXTRA_TOPICS.
func main() {
	cfgPath := flag.String("config", "config/watcher.yaml", "path to yaml config")
	wait := flag.Duration("wait", 30*time.Second, "how long to wait for topic leaders")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}
	l, err := obs.NewLogger(cfg.Log.AsLoggerConfig(config.App{Name: "kafka-init", Env: cfg.App.Env, Version: cfg.App.Version}))
	if err != nil {
		log.Fatal(err)
	}

	topics := []string{cfg.Kafka.Topic}
	for _, t := range strings.Split(os.Getenv("KAFKA_EXTRA_TOPICS"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *wait+10*time.Second)
	defer cancel()

	for _, t := range topics {
		if err := kafkaRepo.EnsureTopic(ctx, cfg.Kafka.Brokers, kafkaRepo.TopicSpec{
			Name:          t,
			NumPartitions: cfg.Kafka.Partitions,
			MaxWait:       *wait,
		}, l); err != nil {
			l.Fatal("ensure topic", zap.String("topic", t), zap.Error(err))
		}
	}
	l.Info("kafka-init ok", zap.Strings("topics", topics))
}
