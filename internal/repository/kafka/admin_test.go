package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAdmin struct {
	createErr  error
	created    []kafka.TopicConfig
	readyAfter int
	reads      int
}

func (f *fakeAdmin) CreateTopics(topics ...kafka.TopicConfig) error {
	f.created = append(f.created, topics...)
	return f.createErr
}

func (f *fakeAdmin) ReadPartitions(topics ...string) ([]kafka.Partition, error) {
	f.reads++
	if f.readyAfter < 0 || f.reads <= f.readyAfter {
		return nil, kafka.UnknownTopicOrPartition
	}
	return []kafka.Partition{{Topic: topics[0], ID: 0}}, nil
}

func quick(name string) TopicSpec {
	return TopicSpec{Name: name, MaxWait: 100 * time.Millisecond, PollEvery: 5 * time.Millisecond}
}

func TestEnsureTopic_CreatesAndWaits(t *testing.T) {
	a := &fakeAdmin{readyAfter: 2}
	require.NoError(t, ensureTopic(context.Background(), a, a, quick("pagewatch.changes"), zap.NewNop()))

	require.Len(t, a.created, 1)
	assert.Equal(t, "pagewatch.changes", a.created[0].Topic)
	assert.Equal(t, 1, a.created[0].NumPartitions)
	assert.Equal(t, 3, a.reads)
}

func TestEnsureTopic_ExistingTopicIsFine(t *testing.T) {
	a := &fakeAdmin{createErr: kafka.TopicAlreadyExists}
	require.NoError(t, ensureTopic(context.Background(), a, a, quick("t"), zap.NewNop()))
}

func TestEnsureTopic_ReportsFailures(t *testing.T) {
	a := &fakeAdmin{createErr: errors.New("not authorized")}
	err := ensureTopic(context.Background(), a, a, quick("t"), zap.NewNop())
	require.ErrorContains(t, err, "not authorized")

	never := &fakeAdmin{readyAfter: -1}
	err = ensureTopic(context.Background(), never, never, quick("t"), zap.NewNop())
	require.ErrorIs(t, err, ErrTopicNotReady)

	require.ErrorIs(t, EnsureTopic(context.Background(), nil, quick("t"), nil), ErrNoBrokers)
}

func TestBootstrapConsumer_NoBrokers(t *testing.T) {
	cons, err := BootstrapConsumer(context.Background(), &ConsumerConfig{Topic: "t", GroupID: "g"}, 1, zap.NewNop())
	require.ErrorIs(t, err, ErrNoBrokers)
	assert.Nil(t, cons)
}
