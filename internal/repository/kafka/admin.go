package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/NordCoder/Pagewatch/internal/obs"
)

var (
	ErrNoBrokers     = errors.New("kafka: no brokers configured")
	ErrTopicNotReady = errors.New("kafka: topic not ready")
)

type TopicSpec struct {
	Name              string
	NumPartitions     int
	ReplicationFactor int
	// MaxWait bounds how long partition leaders may take to appear.
	MaxWait time.Duration
	// PollEvery is the metadata poll interval while waiting.
	PollEvery time.Duration
}

func (s TopicSpec) withDefaults() TopicSpec {
	if s.NumPartitions <= 0 {
		s.NumPartitions = 1
	}
	if s.ReplicationFactor <= 0 {
		s.ReplicationFactor = 1
	}
	if s.MaxWait <= 0 {
		s.MaxWait = 5 * time.Second
	}
	if s.PollEvery <= 0 {
		s.PollEvery = 200 * time.Millisecond
	}
	return s
}

// topicAdmin is the part of a broker connection topic setup drives.
type topicAdmin interface {
	CreateTopics(topics ...kafka.TopicConfig) error
	ReadPartitions(topics ...string) ([]kafka.Partition, error)
}

// EnsureTopic creates spec.Name through the cluster controller and waits
// until it has partitions. An existing topic is fine; a topic that never
// becomes readable within MaxWait is ErrTopicNotReady.
func EnsureTopic(ctx context.Context, brokers []string, spec TopicSpec, log *zap.Logger) error {
	if len(brokers) == 0 {
		return ErrNoBrokers
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = obs.Component(log, "kafka.admin").With(zap.String("topic", spec.Name))

	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("dial %s: %w", brokers[0], err)
	}
	defer func() { _ = conn.Close() }()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("find controller: %w", err)
	}
	cc, err := kafka.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("dial controller: %w", err)
	}
	defer func() { _ = cc.Close() }()

	return ensureTopic(ctx, cc, conn, spec, log)
}

func ensureTopic(ctx context.Context, ctrl, meta topicAdmin, spec TopicSpec, log *zap.Logger) error {
	if spec.Name == "" {
		return errors.New("kafka: empty topic name")
	}
	spec = spec.withDefaults()

	err := ctrl.CreateTopics(kafka.TopicConfig{
		Topic:             spec.Name,
		NumPartitions:     spec.NumPartitions,
		ReplicationFactor: spec.ReplicationFactor,
	})
	switch {
	case err == nil:
		log.Info("topic created", zap.Int("partitions", spec.NumPartitions))
	case errors.Is(err, kafka.TopicAlreadyExists):
		log.Debug("topic exists")
	default:
		return fmt.Errorf("create topic %s: %w", spec.Name, err)
	}

	deadline := time.NewTimer(spec.MaxWait)
	defer deadline.Stop()
	poll := time.NewTicker(spec.PollEvery)
	defer poll.Stop()

	for {
		ps, err := meta.ReadPartitions(spec.Name)
		if err == nil && len(ps) > 0 {
			log.Info("topic ready", zap.Int("partitions", len(ps)))
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrTopicNotReady, spec.Name, err)
			}
			return fmt.Errorf("%w: %s after %s", ErrTopicNotReady, spec.Name, spec.MaxWait)
		case <-poll.C:
		}
	}
}
